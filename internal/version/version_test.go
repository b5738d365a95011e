package version

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShort(t *testing.T) {
	tests := []struct {
		name string
		info BuildInfo
		want string
	}{
		{name: "release", info: BuildInfo{Version: "v1.2.0", GitCommit: "abc1234def"}, want: "v1.2.0 (abc1234)"},
		{name: "dev build", info: BuildInfo{Version: "dev", GitCommit: "abc1234def"}, want: "dev-abc1234"},
		{name: "unknown commit", info: BuildInfo{Version: "v1.2.0", GitCommit: "unknown"}, want: "v1.2.0"},
		{name: "short commit", info: BuildInfo{Version: "v1.2.0", GitCommit: "abc"}, want: "v1.2.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.Short())
		})
	}
}

func TestDetailed(t *testing.T) {
	info := BuildInfo{
		Version:   "v1.2.0",
		GitCommit: "abc1234",
		BuildTime: time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC),
		GoVersion: "go1.24.4",
		Platform:  "linux/amd64",
		Dirty:     true,
	}
	assert.Equal(t, "Version: v1.2.0\nCommit: abc1234 (dirty)\nBuilt: 2024-03-05T14:07:09Z\nGo: go1.24.4\nPlatform: linux/amd64", info.Detailed())

	assert.Equal(t, "Version: dev\nGo: go1\nPlatform: a/b",
		BuildInfo{Version: "dev", GitCommit: "unknown", GoVersion: "go1", Platform: "a/b"}.Detailed())
}

func TestGetUsesLdflags(t *testing.T) {
	oldVersion, oldCommit, oldTime := Version, GitCommit, BuildTime
	t.Cleanup(func() { Version, GitCommit, BuildTime = oldVersion, oldCommit, oldTime })

	Version, GitCommit, BuildTime = "v9.9.9", "0123456789", "2024-01-02T03:04:05Z"
	info := Get()
	assert.Equal(t, "v9.9.9", info.Version)
	assert.Equal(t, "0123456789", info.GitCommit)
	assert.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), info.BuildTime.UTC())
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)
}
