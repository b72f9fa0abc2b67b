//go:build darwin

package applegpu

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/ebitengine/purego"
)

var (
	ioServiceMatching                 func(name string) uintptr
	ioServiceGetMatchingServices      func(mainPort uint32, matching uintptr, existing *uint32) int32
	ioIteratorNext                    func(iterator uint32) uint32
	ioRegistryEntryGetName            func(entry uint32, name *byte) int32
	ioRegistryEntryCreateCFProperties func(entry uint32, properties *uintptr, allocator uintptr, options uint32) int32
	ioObjectRelease                   func(obj uint32) uint32
	ioServiceOpen                     func(device, owningTask, connType uint32, conn *uint32) int32
	ioServiceClose                    func(conn uint32) int32
	ioConnectCallStructMethod         func(conn, selector uint32, input unsafe.Pointer, inputSize uint64, output unsafe.Pointer, outputSize *uint64) int32
	machTaskSelf                      func() uint32

	ioHIDEventSystemClientCreate       func(allocator uintptr) uintptr
	ioHIDEventSystemClientSetMatching  func(client, matching uintptr) int32
	ioHIDEventSystemClientCopyServices func(client uintptr) uintptr
	ioHIDServiceClientCopyProperty     func(service, key uintptr) uintptr
	ioHIDServiceClientCopyEvent        func(service uintptr, eventType int64, options int32, timestamp int64) uintptr
	ioHIDEventGetFloatValue            func(event uintptr, field int64) float64
)

var loadIOKitOnce = sync.OnceValue(func() error {
	if err := loadCoreFoundationOnce(); err != nil {
		return err
	}
	lib, err := purego.Dlopen("/System/Library/Frameworks/IOKit.framework/IOKit", purego.RTLD_LAZY|purego.RTLD_GLOBAL)
	if err != nil {
		return fmt.Errorf("applegpu: loading IOKit: %w", err)
	}
	purego.RegisterLibFunc(&ioServiceMatching, lib, "IOServiceMatching")
	purego.RegisterLibFunc(&ioServiceGetMatchingServices, lib, "IOServiceGetMatchingServices")
	purego.RegisterLibFunc(&ioIteratorNext, lib, "IOIteratorNext")
	purego.RegisterLibFunc(&ioRegistryEntryGetName, lib, "IORegistryEntryGetName")
	purego.RegisterLibFunc(&ioRegistryEntryCreateCFProperties, lib, "IORegistryEntryCreateCFProperties")
	purego.RegisterLibFunc(&ioObjectRelease, lib, "IOObjectRelease")
	purego.RegisterLibFunc(&ioServiceOpen, lib, "IOServiceOpen")
	purego.RegisterLibFunc(&ioServiceClose, lib, "IOServiceClose")
	purego.RegisterLibFunc(&ioConnectCallStructMethod, lib, "IOConnectCallStructMethod")
	purego.RegisterLibFunc(&machTaskSelf, lib, "mach_task_self")

	purego.RegisterLibFunc(&ioHIDEventSystemClientCreate, lib, "IOHIDEventSystemClientCreate")
	purego.RegisterLibFunc(&ioHIDEventSystemClientSetMatching, lib, "IOHIDEventSystemClientSetMatching")
	purego.RegisterLibFunc(&ioHIDEventSystemClientCopyServices, lib, "IOHIDEventSystemClientCopyServices")
	purego.RegisterLibFunc(&ioHIDServiceClientCopyProperty, lib, "IOHIDServiceClientCopyProperty")
	purego.RegisterLibFunc(&ioHIDServiceClientCopyEvent, lib, "IOHIDServiceClientCopyEvent")
	purego.RegisterLibFunc(&ioHIDEventGetFloatValue, lib, "IOHIDEventGetFloatValue")
	return nil
})

// serviceIterator walks the IO registry entries matching a service
// class name.
type serviceIterator struct {
	it uint32
}

func newServiceIterator(serviceName string) (*serviceIterator, error) {
	if err := loadIOKitOnce(); err != nil {
		return nil, err
	}
	// the matching dictionary is consumed by IOServiceGetMatchingServices
	matching := ioServiceMatching(serviceName)
	var it uint32
	if rc := ioServiceGetMatchingServices(0, matching, &it); rc != 0 {
		return nil, fmt.Errorf("applegpu: %s not found: kern return %d", serviceName, rc)
	}
	return &serviceIterator{it: it}, nil
}

func (s *serviceIterator) next() (entry uint32, name string, ok bool) {
	entry = ioIteratorNext(s.it)
	if entry == 0 {
		return 0, "", false
	}
	var buf [128]byte // length fixed by the IOKit API
	if ioRegistryEntryGetName(entry, &buf[0]) != 0 {
		return 0, "", false
	}
	n := 0
	for n < len(buf) && buf[n] != 0 {
		n++
	}
	return entry, string(buf[:n]), true
}

func (s *serviceIterator) release() {
	ioObjectRelease(s.it)
}

// registryProps copies an entry's property table. The caller releases
// the returned dictionary.
func registryProps(entry uint32, name string) (uintptr, error) {
	var props uintptr
	if rc := ioRegistryEntryCreateCFProperties(entry, &props, 0, 0); rc != 0 {
		return 0, fmt.Errorf("applegpu: reading properties of %s: kern return %d", name, rc)
	}
	return props, nil
}
