package contracts

import (
	"fmt"
	"runtime"
)

const (
	// Version is the current version of the application
	Version = "0.2.0"

	// DataFormatVersion is the version of the output workbook layout
	DataFormatVersion = "v1"
)

var (
	// BuildTime is set during build using ldflags
	BuildTime = "unknown"

	// GitCommit is set during build using ldflags
	GitCommit = "unknown"
)

// GetFullVersionString returns the version line printed by -version
func GetFullVersionString() string {
	return fmt.Sprintf("Luminex post-processor v%s (format %s, built: %s, commit: %s, go: %s, os: %s/%s)",
		Version, DataFormatVersion, BuildTime, GitCommit,
		runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
