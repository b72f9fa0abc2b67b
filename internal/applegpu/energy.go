package applegpu

import (
	"fmt"
	"time"
)

// energyWatts converts an energy counter accumulated over window into
// average power. The unit label comes from the IOReport channel; only
// the joule-derived units are meaningful here.
func energyWatts(counter int64, unit string, window time.Duration) (float64, error) {
	perSecond := float64(counter) / (float64(window.Milliseconds()) / 1000.0)
	switch unit {
	case "mJ":
		return perSecond / 1e3, nil
	case "uJ":
		return perSecond / 1e6, nil
	case "nJ":
		return perSecond / 1e9, nil
	default:
		return 0, fmt.Errorf("applegpu: invalid energy unit %q", unit)
	}
}
