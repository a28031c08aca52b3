package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetInfo(t *testing.T) {
	first := GetInfo()

	assert.NotEmpty(t, first.Version)
	assert.NotEmpty(t, first.GitCommit)
	assert.NotEmpty(t, first.BuildDate)
	assert.NotEmpty(t, first.InstanceID)
	assert.NotEmpty(t, first.Hostname)

	second := GetInfo()
	assert.Equal(t, first.InstanceID, second.InstanceID, "instance id must be stable")
}

func TestInfoString(t *testing.T) {
	tests := []struct {
		name     string
		info     Info
		expected string
	}{
		{
			name:     "release",
			info:     Info{Version: "1.4.0", GitCommit: "9f8e7d6", BuildDate: "2026-03-02T09:00:00Z"},
			expected: "quotaguard 1.4.0 (commit: 9f8e7d6, built: 2026-03-02T09:00:00Z)",
		},
		{
			name:     "unstamped",
			info:     Info{Version: "unknown", GitCommit: "unknown", BuildDate: "unknown"},
			expected: "quotaguard unknown (commit: unknown, built: unknown)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.info.String())
		})
	}
}

func TestUserAgent(t *testing.T) {
	assert.Equal(t, "quotaguard/1.4.0", Info{Version: "1.4.0"}.UserAgent())
}
