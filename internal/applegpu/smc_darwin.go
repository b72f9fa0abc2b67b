//go:build darwin

package applegpu

import (
	"fmt"
	"unsafe"
)

// smcCallSelector is the AppleSMCKeysEndpoint method index for key
// read/write exchanges.
const smcCallSelector = 2

// smcEndpoint is the IOKit user-client connection to the SMC.
type smcEndpoint struct {
	conn uint32
}

func openSMC() (*smcEndpoint, error) {
	iter, err := newServiceIterator("AppleSMC")
	if err != nil {
		return nil, err
	}
	defer iter.release()

	var conn uint32
	for {
		entry, name, ok := iter.next()
		if !ok {
			break
		}
		if name != "AppleSMCKeysEndpoint" {
			continue
		}
		if rc := ioServiceOpen(entry, machTaskSelf(), 0, &conn); rc != 0 {
			return nil, fmt.Errorf("applegpu: IOServiceOpen: kern return %d", rc)
		}
	}
	if conn == 0 {
		return nil, fmt.Errorf("applegpu: AppleSMCKeysEndpoint not found")
	}
	return &smcEndpoint{conn: conn}, nil
}

func (e *smcEndpoint) call(in *smcKeyData) (smcKeyData, error) {
	var out smcKeyData
	size := uint64(unsafe.Sizeof(out))
	rc := ioConnectCallStructMethod(e.conn, smcCallSelector,
		unsafe.Pointer(in), size, unsafe.Pointer(&out), &size)
	if rc != 0 {
		return smcKeyData{}, fmt.Errorf("applegpu: IOConnectCallStructMethod: kern return %d", rc)
	}
	return out, nil
}

func (e *smcEndpoint) close() error {
	if rc := ioServiceClose(e.conn); rc != 0 {
		return fmt.Errorf("applegpu: IOServiceClose: kern return %d", rc)
	}
	return nil
}
