package buildinfo

import (
	"runtime/debug"
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	info := Get()
	if info.Version == "" || info.Commit == "" || info.BuildTime == "" || info.GoVersion == "" {
		t.Errorf("Get() has empty fields: %+v", info)
	}
	if Get() != info {
		t.Error("Get() is not stable across calls")
	}
}

func TestResolve(t *testing.T) {
	embedded := &debug.BuildInfo{
		GoVersion: "go1.24.1",
		Main:      debug.Module{Path: "github.com/yndnr/mdmcache-go", Version: "v0.3.0"},
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "0123456789abcdef0123"},
			{Key: "vcs.time", Value: "2026-03-01T10:00:00Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	read := func() (*debug.BuildInfo, bool) { return embedded, true }

	tests := []struct {
		name    string
		version string
		commit  string
		want    Info
	}{
		{
			name:    "embedded only",
			version: "dev", commit: "unknown",
			want: Info{Version: "v0.3.0", Commit: "0123456789ab", BuildTime: "2026-03-01T10:00:00Z", GoVersion: "go1.24.1", Modified: true},
		},
		{
			name:    "ldflags win",
			version: "v1.0.0", commit: "feedbeef",
			want: Info{Version: "v1.0.0", Commit: "feedbeef", BuildTime: "2026-03-01T10:00:00Z", GoVersion: "go1.24.1", Modified: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolve(tt.version, tt.commit, "unknown", read)
			if got != tt.want {
				t.Errorf("resolve() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolve_NoBuildInfo(t *testing.T) {
	got := resolve("dev", "unknown", "unknown", func() (*debug.BuildInfo, bool) { return nil, false })
	if got.Version != "dev" || got.Commit != "unknown" || got.GoVersion == "" {
		t.Errorf("resolve() = %+v", got)
	}
}

func TestResolve_DevelVersionIgnored(t *testing.T) {
	bi := &debug.BuildInfo{Main: debug.Module{Version: "(devel)"}}
	got := resolve("dev", "unknown", "unknown", func() (*debug.BuildInfo, bool) { return bi, true })
	if got.Version != "dev" {
		t.Errorf("Version = %q, want dev", got.Version)
	}
}

func TestString(t *testing.T) {
	s := String()
	info := Get()
	if !strings.HasPrefix(s, info.Version+" (") || !strings.Contains(s, " built at "+info.BuildTime) {
		t.Errorf("String() = %q", s)
	}
}
