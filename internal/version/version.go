// Package version tracks build metadata stamped in at link time.
package version

// Info describes the build of the running binary.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

var current = Info{Version: "dev"}

// Set records build metadata. Called once from main before anything reads it.
func Set(v Info) {
	if v.Version == "" {
		v.Version = "dev"
	}
	current = v
}

// Current returns the recorded build metadata.
func Current() Info {
	return current
}
