package o3d3xx

import "fmt"

// Library identification reported by the bridge's version service.
const (
	LibraryName = "libo3d3xx"

	versionMajor = 0
	versionMinor = 4
	versionPatch = 9
)

// Version returns the driver version as "major.minor.patch".
func Version() string {
	return fmt.Sprintf("%d.%d.%d", versionMajor, versionMinor, versionPatch)
}
