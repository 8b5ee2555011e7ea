// Package svcfields centralises the log-field conventions shared by every
// subsystem so entries stay greppable across the process.
package svcfields

import (
	"strings"

	"pkt.systems/pslog"
)

// SubsystemKey is the canonical key for subsystem tags.
const SubsystemKey = pslog.TrustedString("sys")

// WithSubsystem returns a logger that tags every entry with the supplied
// dot-delimited subsystem path. Empty fragments are dropped; a nil logger is
// replaced with a no-op logger.
func WithSubsystem(logger pslog.Logger, parts ...string) pslog.Logger {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	kept := parts[:0]
	for _, part := range parts {
		part = strings.Trim(part, ". ")
		if part == "" {
			continue
		}
		kept = append(kept, part)
	}
	if len(kept) == 0 {
		return logger
	}
	return logger.With(SubsystemKey, strings.Join(kept, "."))
}
