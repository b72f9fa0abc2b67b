package nvidiagpu

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
)

// libraryPath resolves the NVML library location. On Linux the
// versioned soname is loaded directly: the unversioned symlink is
// absent in many container images. On Windows DCH drivers install
// nvml.dll into System32, older ones under Program Files, with
// NVML_DLL_PATH as the escape hatch.
func libraryPath() (string, error) {
	if runtime.GOOS != "windows" {
		return "libnvidia-ml.so.1", nil
	}

	windir := os.Getenv("WINDIR")
	if windir == "" {
		windir = `C:\Windows`
	}
	programFiles := os.Getenv("ProgramFiles")
	if programFiles == "" {
		programFiles = `C:\Program Files`
	}

	candidates := []string{
		filepath.Join(windir, "System32", "nvml.dll"),
		filepath.Join(programFiles, "NVIDIA Corporation", "NVSMI", "nvml.dll"),
	}
	if p := os.Getenv("NVML_DLL_PATH"); p != "" {
		candidates = append(candidates, p)
	}

	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", errors.New("nvidiagpu: nvml.dll not found")
}
