package version

import (
	"runtime/debug"
	"testing"
	"time"
)

func TestCurrentNeverEmpty(t *testing.T) {
	if Current() == "" {
		t.Fatal("Current returned an empty string")
	}
	if Module() == "" {
		t.Fatal("Module returned an empty string")
	}
}

func TestPseudoVersionFormat(t *testing.T) {
	stamped := time.Date(2026, 8, 28, 12, 34, 56, 0, time.UTC)
	s := vcsStamp{
		revision: "0123456789abcdef0123456789abcdef01234567",
		stamped:  stamped,
	}
	if got, want := s.pseudo(), "v0.0.0-20260828123456-0123456789ab"; got != want {
		t.Fatalf("pseudo: got %q want %q", got, want)
	}
	s.dirty = true
	if got, want := s.pseudo(), "v0.0.0-20260828123456-0123456789ab+dirty"; got != want {
		t.Fatalf("dirty pseudo: got %q want %q", got, want)
	}
}

func TestPseudoRequiresRevisionAndTime(t *testing.T) {
	if got := (vcsStamp{revision: "abc"}).pseudo(); got != "" {
		t.Fatalf("expected empty pseudo without a timestamp, got %q", got)
	}
	if got := (vcsStamp{stamped: time.Now()}).pseudo(); got != "" {
		t.Fatalf("expected empty pseudo without a revision, got %q", got)
	}
}

func TestStampOfParsesSettings(t *testing.T) {
	info := &debug.BuildInfo{
		Settings: []debug.BuildSetting{
			{Key: "vcs.revision", Value: "deadbeef"},
			{Key: "vcs.time", Value: "2026-08-28T12:34:56Z"},
			{Key: "vcs.modified", Value: "true"},
		},
	}
	s := stampOf(info)
	if s.revision != "deadbeef" {
		t.Fatalf("revision: got %q", s.revision)
	}
	if s.stamped.IsZero() || !s.dirty {
		t.Fatalf("unexpected stamp: %+v", s)
	}
	if s := stampOf(nil); s.revision != "" || s.dirty || !s.stamped.IsZero() {
		t.Fatalf("nil build info should yield a zero stamp, got %+v", s)
	}
}
