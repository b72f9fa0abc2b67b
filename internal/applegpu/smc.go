package applegpu

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// fourCC is a big-endian four-character SMC key or type code.
type fourCC uint32

func fourCCFromString(s string) (fourCC, error) {
	if len(s) != 4 {
		return 0, fmt.Errorf("applegpu: SMC key must be 4 bytes long, got %q", s)
	}
	var c fourCC
	for i := 0; i < 4; i++ {
		c = c<<8 | fourCC(s[i])
	}
	return c, nil
}

func (c fourCC) String() string {
	return string([]byte{byte(c >> 24), byte(c >> 16), byte(c >> 8), byte(c)})
}

// typeFloat32 is the SMC "flt " data type.
var typeFloat32 = mustFourCC("flt ")

func mustFourCC(s string) fourCC {
	c, err := fourCCFromString(s)
	if err != nil {
		panic(err)
	}
	return c
}

// smcKeyInfo describes a key's value: its size in bytes, its type code
// and the endpoint's attribute flags.
type smcKeyInfo struct {
	DataSize   uint32
	DataType   uint32
	Attributes uint8
	_          [3]byte
}

// smcKeyData is the call structure exchanged with the
// AppleSMCKeysEndpoint user client. Layout and padding are fixed by
// the endpoint ABI; do not reorder.
type smcKeyData struct {
	Key    uint32
	Vers   [6]byte
	_      [2]byte
	PLimit [16]byte
	Info   smcKeyInfo
	Result uint8
	Status uint8
	Data8  uint8
	_      [1]byte
	Data32 uint32
	Bytes  [32]byte
}

// Selectors for smcKeyData.Data8.
const (
	smcCmdReadValue   = 5
	smcCmdKeyByIndex  = 8
	smcCmdReadKeyInfo = 9
)

// smcResultKeyNotFound is the endpoint's result code for a missing key.
const smcResultKeyNotFound = 132

// ErrSMCKeyNotFound reports a read of a key the SMC does not expose.
var ErrSMCKeyNotFound = errors.New("applegpu: SMC key not found")

// smcTransport performs one raw exchange with the SMC endpoint.
type smcTransport interface {
	call(in *smcKeyData) (smcKeyData, error)
	close() error
}

// smcClient implements the sensor-key protocol on top of a transport.
// Key metadata is cached per key; a cache hit skips the native call.
// Not safe for concurrent use.
type smcClient struct {
	tr    smcTransport
	cache map[fourCC]smcKeyInfo
}

// sensorValue is a typed SMC reading.
type sensorValue struct {
	Key  string
	Type fourCC
	Data []byte
}

// float32 decodes the value as a little-endian float32.
func (v sensorValue) float32() (float32, error) {
	if len(v.Data) != 4 {
		return 0, fmt.Errorf("applegpu: SMC value %s has %d bytes, want 4", v.Key, len(v.Data))
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(v.Data)), nil
}

func newSMCClient(tr smcTransport) *smcClient {
	return &smcClient{tr: tr, cache: make(map[fourCC]smcKeyInfo)}
}

func (c *smcClient) call(in *smcKeyData) (smcKeyData, error) {
	out, err := c.tr.call(in)
	if err != nil {
		return smcKeyData{}, err
	}
	if out.Result == smcResultKeyNotFound {
		return smcKeyData{}, ErrSMCKeyNotFound
	}
	if out.Result != 0 {
		return smcKeyData{}, fmt.Errorf("applegpu: SMC error: %d", out.Result)
	}
	return out, nil
}

// readKeyInfo fetches (or returns the cached) metadata for key.
func (c *smcClient) readKeyInfo(key string) (smcKeyInfo, error) {
	code, err := fourCCFromString(key)
	if err != nil {
		return smcKeyInfo{}, err
	}
	if info, ok := c.cache[code]; ok {
		return info, nil
	}

	in := smcKeyData{Key: uint32(code), Data8: smcCmdReadKeyInfo}
	out, err := c.call(&in)
	if err != nil {
		return smcKeyInfo{}, err
	}
	c.cache[code] = out.Info
	return out.Info, nil
}

// readValue reads a key's current value, truncated to the size its
// metadata reports.
func (c *smcClient) readValue(key string) (sensorValue, error) {
	info, err := c.readKeyInfo(key)
	if err != nil {
		return sensorValue{}, err
	}
	code, err := fourCCFromString(key)
	if err != nil {
		return sensorValue{}, err
	}

	in := smcKeyData{Key: uint32(code), Data8: smcCmdReadValue, Info: info}
	out, err := c.call(&in)
	if err != nil {
		return sensorValue{}, err
	}

	size := info.DataSize
	if size > uint32(len(out.Bytes)) {
		size = uint32(len(out.Bytes))
	}
	data := make([]byte, size)
	copy(data, out.Bytes[:size])

	return sensorValue{Key: key, Type: fourCC(info.DataType), Data: data}, nil
}

// keyByIndex resolves the i-th key name of the SMC key table.
func (c *smcClient) keyByIndex(i uint32) (string, error) {
	in := smcKeyData{Data8: smcCmdKeyByIndex, Data32: i}
	out, err := c.call(&in)
	if err != nil {
		return "", err
	}
	return fourCC(out.Key).String(), nil
}

// allKeys enumerates every readable key. The "#KEY" pseudo-key holds
// the table size as a big-endian uint32; keys that fail to resolve or
// read are skipped.
func (c *smcClient) allKeys() ([]string, int, error) {
	val, err := c.readValue("#KEY")
	if err != nil {
		return nil, 0, err
	}
	if len(val.Data) < 4 {
		return nil, 0, fmt.Errorf("applegpu: short #KEY value: %d bytes", len(val.Data))
	}
	count := binary.BigEndian.Uint32(val.Data[:4])

	var keys []string
	skipped := 0
	for i := uint32(0); i < count; i++ {
		key, err := c.keyByIndex(i)
		if err != nil {
			skipped++
			continue
		}
		if _, err := c.readValue(key); err != nil {
			skipped++
			continue
		}
		keys = append(keys, key)
	}
	return keys, skipped, nil
}

func (c *smcClient) close() error {
	return c.tr.close()
}

// temperatureKeys scans the key table for float32 temperature sensors.
// Keys prefixed "Tp" feed the CPU average, "Tg" the GPU average; which
// physical sensor each key maps to is not publicly documented.
func temperatureKeys(c *smcClient) (cpu, gpu []string, skipped int, err error) {
	keys, skipped, err := c.allKeys()
	if err != nil {
		return nil, nil, 0, err
	}

	for _, key := range keys {
		info, err := c.readKeyInfo(key)
		if err != nil {
			continue
		}
		if info.DataSize != 4 || fourCC(info.DataType) != typeFloat32 {
			continue
		}
		if _, err := c.readValue(key); err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(key, "Tp"):
			cpu = append(cpu, key)
		case strings.HasPrefix(key, "Tg"):
			gpu = append(gpu, key)
		}
	}
	return cpu, gpu, skipped, nil
}
