package version

import (
	"strings"
	"testing"
)

func TestGet(t *testing.T) {
	b := Get()
	if b.Version == "" || b.Commit == "" || b.Date == "" {
		t.Fatalf("build info must not contain empty fields: %+v", b)
	}
	if b.Version != GetVersion() {
		t.Errorf("Get().Version = %q, GetVersion() = %q", b.Version, GetVersion())
	}
}

func TestGet_PrefersLdflags(t *testing.T) {
	prevCommit, prevDate := commit, date
	t.Cleanup(func() { commit, date = prevCommit, prevDate })

	commit, date = "abc123", "2024-03-01"
	b := Get()
	if b.Commit != "abc123" || b.Date != "2024-03-01" {
		t.Errorf("unexpected build info: %+v", b)
	}
}

func TestString(t *testing.T) {
	s := String()
	for _, part := range []string{"version=", "commit=", "date="} {
		if !strings.Contains(s, part) {
			t.Errorf("String() = %q, want it to contain %q", s, part)
		}
	}
}
