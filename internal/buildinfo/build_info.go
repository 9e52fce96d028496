// Package buildinfo carries the version stamp linked into a binary.
package buildinfo

import "fmt"

// BuildInfo identifies one build of an executable artifact. The fields
// are filled in through linker flags.
type BuildInfo struct {
	Version    string
	CommitHash string
	BuildDate  string
}

// String renders the build info on one line.
func (i BuildInfo) String() string {
	return fmt.Sprintf("version %s (%s) built on %s", i.Version, i.CommitHash, i.BuildDate)
}
