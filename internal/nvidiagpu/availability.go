package nvidiagpu

// metricAvailability tracks which metrics a device still answers.
// Every flag starts at its default and flips to false on the first
// query failure; a disabled metric is never retried.
type metricAvailability struct {
	utilization             bool
	memoryInfo              bool
	temperature             bool
	powerUsage              bool
	enforcedPowerLimit      bool
	smClock                 bool
	memClock                bool
	graphicsClock           bool
	correctedMemoryErrors   bool
	uncorrectedMemoryErrors bool
	fanSpeed                bool
	encoderUtilization      bool
	linkGen                 bool
	linkSpeed               bool
	linkWidth               bool
	maxLinkGen              bool
	maxLinkWidth            bool
}

func defaultAvailability() metricAvailability {
	return metricAvailability{
		utilization:             true,
		memoryInfo:              true,
		temperature:             true,
		powerUsage:              true,
		enforcedPowerLimit:      true,
		smClock:                 true,
		memClock:                true,
		graphicsClock:           false, // expensive to retrieve
		correctedMemoryErrors:   true,
		uncorrectedMemoryErrors: true,
		fanSpeed:                true,
		encoderUtilization:      false, // expensive to retrieve
		linkGen:                 false,
		linkSpeed:               false,
		linkWidth:               false,
		maxLinkGen:              false,
		maxLinkWidth:            false,
	}
}
