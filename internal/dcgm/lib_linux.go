//go:build linux

package dcgm

import (
	"fmt"
	"runtime/cgo"
	"unsafe"

	"github.com/ebitengine/purego"

	"github.com/statlab/gpustats/internal/metrics"
)

const defaultLibrary = "libdcgm.so.4"

// library is the profilingAPI backed by libdcgm via purego.
type library struct {
	conn uintptr

	disconnect                   func(handle uintptr) int32
	errorString                  func(status int32) string
	profGetSupportedMetricGroups func(handle uintptr, groups *profGetMetricGroups) int32
	fieldGroupCreate             func(handle uintptr, count int32, fieldIDs *uint16, name string, fieldGroupID *uintptr) int32
	watchFields                  func(handle, groupID, fieldGroupID uintptr, updateFreqUsec int64, maxKeepAge float64, maxKeepSamples int32) int32
	updateAllFields              func(handle uintptr, waitForUpdate int32) int32
	getLatestValues              func(handle, groupID, fieldGroupID, callback, userData uintptr) int32
}

// latestValuesCallback is handed to dcgmGetLatestValues_v2 once per
// collection. userData carries a cgo.Handle wrapping the target sample.
var latestValuesCallback = purego.NewCallback(func(entityGroup, entityID uint32, values uintptr, count int32, userData uintptr) uintptr {
	if userData == 0 {
		return 1
	}
	if values == 0 || count <= 0 {
		return 0
	}
	sample := cgo.Handle(userData).Value().(*metrics.Sample)
	for _, v := range unsafe.Slice((*fieldValue)(unsafe.Pointer(values)), int(count)) {
		appendFieldValue(sample, entityGroup, entityID, &v)
	}
	return 0
})

// openLibrary loads libdcgm, initializes it and connects to the host engine.
func openLibrary(path, hostAddress string) (*library, error) {
	if path == "" {
		path = defaultLibrary
	}
	if hostAddress == "" {
		hostAddress = defaultHostAddress
	}

	lib, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, fmt.Errorf("dcgm: loading %s: %w", path, err)
	}

	var (
		dcgmInit func() int32
		connect  func(hostAddress string, handle *uintptr) int32
	)
	l := &library{}
	// Each entry point is resolved by exact name; a missing symbol is a
	// startup error, not a panic later.
	symbols := []struct {
		name string
		fn   any
	}{
		{"dcgmInit", &dcgmInit},
		{"dcgmConnect", &connect},
		{"dcgmDisconnect", &l.disconnect},
		{"dcgmErrorString", &l.errorString},
		{"dcgmProfGetSupportedMetricGroups", &l.profGetSupportedMetricGroups},
		{"dcgmFieldGroupCreate", &l.fieldGroupCreate},
		{"dcgmWatchFields", &l.watchFields},
		{"dcgmUpdateAllFields", &l.updateAllFields},
		{"dcgmGetLatestValues_v2", &l.getLatestValues},
	}
	for _, sym := range symbols {
		addr, err := purego.Dlsym(lib, sym.name)
		if err != nil {
			return nil, fmt.Errorf("dcgm: resolving %s: %w", sym.name, err)
		}
		purego.RegisterFunc(sym.fn, addr)
	}

	if rc := dcgmInit(); rc != stOK {
		return nil, fmt.Errorf("dcgm: dcgmInit: %s", l.errorString(rc))
	}
	var conn uintptr
	if rc := connect(hostAddress, &conn); rc != stOK {
		return nil, fmt.Errorf("dcgm: connecting to %s: %s", hostAddress, l.errorString(rc))
	}
	l.conn = conn
	return l, nil
}

func (l *library) SupportedFieldIDs() (map[uint16]struct{}, error) {
	var groups profGetMetricGroups
	groups.Version = makeVersion(unsafe.Sizeof(groups), 3)
	// GpuID zero queries group support for the whole system.
	if rc := l.profGetSupportedMetricGroups(l.conn, &groups); rc != stOK {
		return nil, fmt.Errorf("dcgmProfGetSupportedMetricGroups: %s", l.errorString(rc))
	}

	ids := make(map[uint16]struct{})
	for i := 0; i < int(groups.NumMetricGroups) && i < maxNumGroups; i++ {
		g := &groups.MetricGroups[i]
		for j := 0; j < int(g.NumFieldIDs) && j < maxFieldIDsPerGroup; j++ {
			ids[g.FieldIDs[j]] = struct{}{}
		}
	}
	return ids, nil
}

func (l *library) CreateFieldGroup(fieldIDs []uint16) (uintptr, error) {
	var fieldGroupID uintptr
	rc := l.fieldGroupCreate(l.conn, int32(len(fieldIDs)), &fieldIDs[0], "gpustats-prof", &fieldGroupID)
	if rc != stOK {
		return 0, fmt.Errorf("dcgmFieldGroupCreate: %s", l.errorString(rc))
	}
	return fieldGroupID, nil
}

func (l *library) WatchFields(groupID, fieldGroupID uintptr, updateFreqUsec int64, maxKeepAge float64, maxKeepSamples int32) error {
	if rc := l.watchFields(l.conn, groupID, fieldGroupID, updateFreqUsec, maxKeepAge, maxKeepSamples); rc != stOK {
		return fmt.Errorf("dcgmWatchFields: %s", l.errorString(rc))
	}
	return nil
}

func (l *library) UpdateFields() error {
	if rc := l.updateAllFields(l.conn, 0); rc != stOK {
		return fmt.Errorf("dcgmUpdateAllFields: %s", l.errorString(rc))
	}
	return nil
}

func (l *library) LatestValues(groupID, fieldGroupID uintptr, sample *metrics.Sample) error {
	h := cgo.NewHandle(sample)
	defer h.Delete()

	rc := l.getLatestValues(l.conn, groupID, fieldGroupID, latestValuesCallback, uintptr(h))
	switch rc {
	case stOK, stNoData:
		// No data before the first watch interval completes is normal.
		return nil
	case stNotSupported:
		return fmt.Errorf("dcgmGetLatestValues_v2: not supported: %s", l.errorString(rc))
	case stNotConfigured:
		return fmt.Errorf("dcgmGetLatestValues_v2: group not found: %s", l.errorString(rc))
	default:
		return fmt.Errorf("dcgmGetLatestValues_v2: %s", l.errorString(rc))
	}
}

func (l *library) Close() error {
	if rc := l.disconnect(l.conn); rc != stOK {
		return fmt.Errorf("dcgmDisconnect: %s", l.errorString(rc))
	}
	return nil
}

// New connects to a DCGM host engine and starts the sampling worker.
func New(opts Options) (*Client, error) {
	api, err := openLibrary(opts.LibraryPath, opts.HostAddress)
	if err != nil {
		return nil, err
	}
	return newClient(api, opts.Logger)
}
