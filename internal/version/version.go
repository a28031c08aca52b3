// Package version carries build metadata for quotaguard binaries.
// The variables are stamped with -ldflags at build time.
package version

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Name is the product name used in user agents and CLI banners.
const Name = "quotaguard"

var (
	// Set via: -ldflags "-X quotaguard/internal/version.Version=..."
	Version = "unknown"

	// Set via: -ldflags "-X quotaguard/internal/version.BuildDate=..."
	BuildDate = "unknown"

	// Set via: -ldflags "-X quotaguard/internal/version.GitCommit=..."
	GitCommit = "unknown"
)

// Info is the build metadata plus the identity of the running instance.
type Info struct {
	Version    string `json:"version"`
	GitCommit  string `json:"git_commit"`
	BuildDate  string `json:"build_date"`
	InstanceID string `json:"instance_id"`
	Hostname   string `json:"hostname"`
}

var (
	once sync.Once
	info Info
)

// GetInfo returns the process-wide Info. The instance ID is generated once.
func GetInfo() Info {
	once.Do(func() {
		info = Info{
			Version:    Version,
			GitCommit:  GitCommit,
			BuildDate:  BuildDate,
			InstanceID: uuid.New().String(),
			Hostname:   hostname(),
		}
	})
	return info
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "unknown"
	}
	return h
}

func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s)", Name, i.Version, i.GitCommit, i.BuildDate)
}

// UserAgent is sent on every outbound provider request.
func (i Info) UserAgent() string {
	return fmt.Sprintf("%s/%s", Name, i.Version)
}
