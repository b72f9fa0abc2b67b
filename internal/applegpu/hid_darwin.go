//go:build darwin

package applegpu

import "sort"

const (
	hidPageAppleVendor        = 0xff00
	hidUsageTemperatureSensor = 0x0005
	hidEventTypeTemperature   = 15
)

// sensorReading is one named HID temperature reading in Celsius.
type sensorReading struct {
	Name  string
	Value float64
}

// hidSensors matches the Apple vendor temperature sensors of the HID
// event system. Used when the SMC exposes no float32 temperature keys.
type hidSensors struct {
	matching uintptr
}

func newHIDSensors() (*hidSensors, error) {
	if err := loadIOKitOnce(); err != nil {
		return nil, err
	}
	keys := [2]uintptr{cfstr("PrimaryUsagePage"), cfstr("PrimaryUsage")}
	page := int32(hidPageAppleVendor)
	usage := int32(hidUsageTemperatureSensor)
	values := [2]uintptr{
		cfNumberCreate(0, cfNumberSInt32Type, &page),
		cfNumberCreate(0, cfNumberSInt32Type, &usage),
	}

	dict := cfDictionaryCreate(0, &keys[0], &values[0], 2,
		cfTypeDictKeyCallbacks, cfTypeDictValueCallbacks)
	for i := range keys {
		cfRelease(keys[i])
		cfRelease(values[i])
	}
	return &hidSensors{matching: dict}, nil
}

// temperatures reads every matched sensor, sorted by sensor name.
// Failures to read individual sensors are skipped.
func (h *hidSensors) temperatures() []sensorReading {
	system := ioHIDEventSystemClientCreate(0)
	if system == 0 {
		return nil
	}
	defer cfRelease(system)

	ioHIDEventSystemClientSetMatching(system, h.matching)
	services := ioHIDEventSystemClientCopyServices(system)
	if services == 0 {
		return nil
	}
	defer cfRelease(services)

	product := cfstr("Product")
	defer cfRelease(product)

	var out []sensorReading
	for i := int64(0); i < cfArrayGetCount(services); i++ {
		service := cfArrayGetValueAtIndex(services, i)
		if service == 0 {
			continue
		}
		nameRef := ioHIDServiceClientCopyProperty(service, product)
		if nameRef == 0 {
			continue
		}
		name := goString(nameRef)
		cfRelease(nameRef)

		event := ioHIDServiceClientCopyEvent(service, hidEventTypeTemperature, 0, 0)
		if event == 0 {
			continue
		}
		value := ioHIDEventGetFloatValue(event, hidEventTypeTemperature<<16)
		cfRelease(event)

		out = append(out, sensorReading{Name: name, Value: value})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (h *hidSensors) release() {
	cfRelease(h.matching)
}
