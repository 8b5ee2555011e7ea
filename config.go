package quiesce

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultListen is the default TCP endpoint the server binds to.
	DefaultListen = ":9610"
	// DefaultListenProto controls the listener network when none is configured.
	DefaultListenProto = "tcp"
	// DefaultQuietPeriod is the grace window restarted by admissions observed
	// while draining.
	DefaultQuietPeriod = 10 * time.Second
	// DefaultShutdownTimeout is the fixed upper bound on total shutdown
	// duration, measured from the first Stop call.
	DefaultShutdownTimeout = 30 * time.Second
	// DefaultDrainPolicy decides requests arriving on surviving keep-alive
	// connections while draining ("reject" or "allow").
	DefaultDrainPolicy = DrainPolicyReject
	// DefaultMaxSleep caps the delay a client may request from the sleep
	// endpoint.
	DefaultMaxSleep = time.Minute
	// DefaultMaxRequestBytes bounds echoed request bodies.
	DefaultMaxRequestBytes = 1 << 20
	// DefaultMetricsListen is the Prometheus scrape endpoint; empty disables.
	DefaultMetricsListen = ""
	// DefaultPprofListen is the pprof debug listener; empty disables.
	DefaultPprofListen = ""
	// DefaultConfigFileName is the config file searched for when --config is
	// omitted.
	DefaultConfigFileName = "config.yaml"
)

const (
	// DrainPolicyReject refuses requests that arrive on already-open
	// connections after draining begins. They still count as admission
	// pressure and restart the quiet window.
	DrainPolicyReject = "reject"
	// DrainPolicyAllow admits such requests; each admission restarts the
	// quiet window. New connections are refused under both policies.
	DrainPolicyAllow = "allow"
)

var drainPolicyChoices = []string{DrainPolicyReject, DrainPolicyAllow}

// ValidDrainPolicies returns the supported drain policies.
func ValidDrainPolicies() []string {
	out := make([]string, len(drainPolicyChoices))
	copy(out, drainPolicyChoices)
	return out
}

// Config captures the tunables for a quiesce.Server instance. QuietPeriod and
// ShutdownTimeout are fixed before the server starts serving traffic and are
// never mutated afterwards.
type Config struct {
	// Listen is the server bind address (for example ":9610").
	Listen string
	// ListenProto selects the listener network (tcp, tcp4, tcp6, unix).
	ListenProto string
	// QuietPeriod is the grace duration restarted by every admission seen
	// while draining. Shutdown proceeds once it elapses without new work.
	QuietPeriod time.Duration
	// ShutdownTimeout caps total shutdown duration from the first Stop call.
	// It is expected, not enforced, to be >= QuietPeriod.
	ShutdownTimeout time.Duration
	// DrainPolicy governs requests arriving on surviving connections while
	// draining ("reject" or "allow").
	DrainPolicy string
	// MaxSleep caps client-requested delays on the sleep endpoint.
	MaxSleep time.Duration
	// MaxRequestBytes caps echoed request body size.
	MaxRequestBytes int64
	// MetricsListen is the metrics endpoint bind address; empty disables.
	MetricsListen string
	// PprofListen is the pprof endpoint bind address; empty disables.
	PprofListen string
	// EnableProfilingMetrics enables Go runtime metrics on the metrics
	// endpoint.
	EnableProfilingMetrics bool
	// OTLPEndpoint enables OTLP trace export to the given collector endpoint.
	OTLPEndpoint string
}

// Validate applies defaults and sanity-checks the configuration.
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.ListenProto == "" {
		c.ListenProto = DefaultListenProto
	}
	switch c.ListenProto {
	case "tcp", "tcp4", "tcp6", "unix":
	default:
		return fmt.Errorf("config: listen proto must be tcp, tcp4, tcp6 or unix")
	}
	if c.QuietPeriod == 0 {
		c.QuietPeriod = DefaultQuietPeriod
	} else if c.QuietPeriod < 0 {
		return fmt.Errorf("config: quiet period must be >= 0")
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	} else if c.ShutdownTimeout < 0 {
		return fmt.Errorf("config: shutdown timeout must be >= 0")
	}
	c.DrainPolicy = strings.ToLower(strings.TrimSpace(c.DrainPolicy))
	if c.DrainPolicy == "" {
		c.DrainPolicy = DefaultDrainPolicy
	}
	switch c.DrainPolicy {
	case DrainPolicyReject, DrainPolicyAllow:
	default:
		return fmt.Errorf("config: drain policy must be %q or %q", DrainPolicyReject, DrainPolicyAllow)
	}
	if c.MaxSleep == 0 {
		c.MaxSleep = DefaultMaxSleep
	} else if c.MaxSleep < 0 {
		return fmt.Errorf("config: max sleep must be >= 0")
	}
	if c.MaxRequestBytes == 0 {
		c.MaxRequestBytes = DefaultMaxRequestBytes
	} else if c.MaxRequestBytes < 0 {
		return fmt.Errorf("config: max request bytes must be >= 0")
	}
	if c.EnableProfilingMetrics && strings.TrimSpace(c.MetricsListen) == "" {
		return fmt.Errorf("config: profiling metrics require metrics-listen")
	}
	return nil
}

// DefaultConfigDir returns the per-user configuration directory searched for
// the default config file.
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".quiesced"), nil
}
