package applegpu

import "encoding/binary"

// decodeVoltageStates unpacks a pmgr voltage-states property blob:
// packed little-endian (frequency Hz, voltage) uint32 pairs. Returned
// frequencies are in MHz. A trailing partial pair is ignored.
func decodeVoltageStates(blob []byte) (freqs, volts []uint32) {
	n := len(blob) / 8
	freqs = make([]uint32, n)
	volts = make([]uint32, n)
	for i := 0; i < n; i++ {
		chunk := blob[i*8 : i*8+8]
		freqs[i] = binary.LittleEndian.Uint32(chunk[0:4]) / 1000 / 1000
		volts[i] = binary.LittleEndian.Uint32(chunk[4:8])
	}
	return freqs, volts
}
