package dcgm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/statlab/gpustats/internal/metrics"
)

// Status codes returned by libdcgm calls.
const (
	stOK            = 0
	stNotConfigured = -8
	stNotSupported  = -14
	stNoData        = -35
)

// Field value types from dcgm_structs.h.
const (
	ftDouble      = 0
	ftInt64       = 1
	ftString      = 2
	ftTimestamp   = 3
	ftDoubleBlank = 100
)

// Entity group identifiers.
const (
	feGPU  = 0
	feVGPU = 1
)

const (
	maxStrLength        = 256
	maxNumGroups        = 10
	maxFieldIDsPerGroup = 64

	groupAllGPUs uintptr = 0x7fffffff
)

// Profiling field identifiers from dcgm_fields.h.
const (
	fieldSMActive             uint16 = 1002
	fieldSMOccupancy          uint16 = 1003
	fieldPipeTensorActive     uint16 = 1004
	fieldDRAMActive           uint16 = 1005
	fieldPipeFP64Active       uint16 = 1006
	fieldPipeFP32Active       uint16 = 1007
	fieldPipeFP16Active       uint16 = 1008
	fieldPCIeTxBytes          uint16 = 1009
	fieldPCIeRxBytes          uint16 = 1010
	fieldNVLinkTxBytes        uint16 = 1011
	fieldNVLinkRxBytes        uint16 = 1012
	fieldPipeTensorHMMAActive uint16 = 1014
)

var fieldNames = map[uint16]string{
	fieldSMActive:             "smActive",
	fieldSMOccupancy:          "smOccupancy",
	fieldPipeTensorActive:     "pipeTensorActive",
	fieldDRAMActive:           "dramActive",
	fieldPipeFP64Active:       "pipeFp64Active",
	fieldPipeFP32Active:       "pipeFp32Active",
	fieldPipeFP16Active:       "pipeFp16Active",
	fieldPipeTensorHMMAActive: "pipeTensorHmmaActive",
	fieldPCIeTxBytes:          "pcieTxBytes",
	fieldPCIeRxBytes:          "pcieRxBytes",
	fieldNVLinkTxBytes:        "nvlinkTxBytes",
	fieldNVLinkRxBytes:        "nvlinkRxBytes",
}

// desiredFields is the wishlist of profiling metrics, trimmed at startup to
// what the host engine reports as supported.
var desiredFields = []uint16{
	fieldSMActive,
	fieldSMOccupancy,
	fieldPipeTensorActive,
	fieldDRAMActive,
	fieldPipeFP64Active,
	fieldPipeFP32Active,
	fieldPipeFP16Active,
	fieldPipeTensorHMMAActive,
	fieldPCIeTxBytes,
	fieldPCIeRxBytes,
	fieldNVLinkTxBytes,
	fieldNVLinkRxBytes,
}

// fieldValue mirrors dcgmFieldValue_v1. The trailing bytes are a C union
// holding an i64, a double or a NUL-terminated string depending on FieldType.
type fieldValue struct {
	Version   uint32
	FieldID   uint16
	FieldType uint16
	Status    int32
	_         [4]byte
	Timestamp int64
	Value     [maxStrLength]byte
}

func (v *fieldValue) float64() float64 {
	return math.Float64frombits(binary.NativeEndian.Uint64(v.Value[:8]))
}

func (v *fieldValue) int64() int64 {
	return int64(binary.NativeEndian.Uint64(v.Value[:8]))
}

func (v *fieldValue) string() string {
	for i, b := range v.Value {
		if b == 0 {
			return string(v.Value[:i])
		}
	}
	return string(v.Value[:])
}

// profMetricGroupInfo mirrors dcgmProfMetricGroupInfo_v2.
type profMetricGroupInfo struct {
	MajorID     uint16
	MinorID     uint16
	NumFieldIDs uint32
	FieldIDs    [maxFieldIDsPerGroup]uint16
}

// profGetMetricGroups mirrors dcgmProfGetMetricGroups_t (version 3).
type profGetMetricGroups struct {
	Version         uint32
	Unused          uint32
	GpuID           uint32
	NumMetricGroups uint32
	MetricGroups    [maxNumGroups]profMetricGroupInfo
}

// makeVersion builds a dcgm version tag: struct size in the low bytes, the
// API version in the top byte.
func makeVersion(size uintptr, version uint32) uint32 {
	return uint32(size) | version<<24
}

func entityLabel(entityGroup uint32) string {
	switch entityGroup {
	case feGPU, feVGPU:
		return "gpu"
	default:
		return "unknown"
	}
}

// appendFieldValue decodes a single reported value into the sample, keyed
// "gpu.<id>.<name>". Error statuses and blank sentinels are dropped: NaN or
// magnitudes of 1e19 and beyond for doubles, values at or below -1e12 for
// integers, empty strings.
func appendFieldValue(sample *metrics.Sample, entityGroup, entityID uint32, v *fieldValue) {
	if v.Status != stOK {
		return
	}
	name, ok := fieldNames[v.FieldID]
	if !ok {
		name = fmt.Sprintf("dcgm_field_%d", v.FieldID)
	}
	key := fmt.Sprintf("%s.%d.%s", entityLabel(entityGroup), entityID, name)

	switch v.FieldType {
	case ftDouble, ftDoubleBlank:
		d := v.float64()
		if math.IsNaN(d) || math.Abs(d) >= 1e19 {
			return
		}
		sample.AppendFloat(key, d)
	case ftInt64, ftTimestamp:
		n := v.int64()
		if n <= -1_000_000_000_000 {
			return
		}
		sample.AppendInt(key, n)
	case ftString:
		s := v.string()
		if s == "" {
			return
		}
		sample.AppendString(key, s)
	}
}
