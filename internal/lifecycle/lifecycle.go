// Package lifecycle implements the state machine that takes a running server
// to a fully stopped one: refuse new work immediately, let admitted work
// finish when it can, and bound total shutdown latency with a restartable
// quiet period capped by a fixed hard timeout.
package lifecycle

import (
	"net"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/quiesce/internal/clock"
	"pkt.systems/quiesce/internal/conntrack"
	"pkt.systems/quiesce/internal/deadline"
	"pkt.systems/quiesce/internal/pending"
	"pkt.systems/quiesce/internal/svcfields"
)

// State is the lifecycle position of the server. Transitions are monotonic:
// Running → Draining → Stopped, with no state ever revisited.
type State int32

const (
	// Running accepts connections and requests.
	Running State = iota
	// Draining refuses new work while admitted work finishes.
	Draining
	// Stopped is terminal; both registries are empty.
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Policy decides what happens to a request that arrives on an already-open
// connection after draining has begun.
type Policy string

const (
	// PolicyReject refuses such requests. They still extend the quiet
	// deadline, since they are admission pressure the quiet period is
	// meant to wait out.
	PolicyReject Policy = "reject"
	// PolicyAllow admits such requests; each admission extends the quiet
	// deadline. New connections are refused under both policies.
	PolicyAllow Policy = "allow"
)

// Config carries the coordinator tunables. QuietPeriod and Timeout are fixed
// before the server starts and never change afterwards.
type Config struct {
	// QuietPeriod is the grace window restarted by every admission seen
	// while draining.
	QuietPeriod time.Duration
	// Timeout bounds total shutdown duration, measured from the first Stop
	// call. It is expected, not enforced, to be >= QuietPeriod.
	Timeout time.Duration
	// DrainPolicy governs requests arriving on surviving connections while
	// draining. Defaults to PolicyReject.
	DrainPolicy Policy
	// Clock defaults to the real clock.
	Clock clock.Clock
	// Logger defaults to a no-op logger.
	Logger pslog.Logger
}

// Stats is a point-in-time snapshot of the coordinator, consumed by the
// telemetry layer.
type Stats struct {
	State              State
	InflightRequests   int
	OpenConnections    int
	RejectedAdmissions uint64
	ForcedCloses       uint64
	// ShutdownDuration is zero until the coordinator reaches Stopped.
	ShutdownDuration time.Duration
}

// Coordinator drives the drain protocol. One instance exists per server; it
// is safe to call from any goroutine.
type Coordinator struct {
	cfg      Config
	clk      clock.Clock
	logger   pslog.Logger
	requests *pending.Registry
	conns    *conntrack.Registry

	kick chan struct{}
	done chan struct{}

	mu        sync.Mutex
	state     State
	deadlines deadline.State
	stoppedAt time.Time
	rejected  uint64
	forced    uint64
}

// New constructs a coordinator in the Running state.
func New(cfg Config) *Coordinator {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = pslog.NoopLogger()
	}
	if cfg.DrainPolicy == "" {
		cfg.DrainPolicy = PolicyReject
	}
	c := &Coordinator{
		cfg:      cfg,
		clk:      cfg.Clock,
		logger:   svcfields.WithSubsystem(cfg.Logger, "server.lifecycle"),
		requests: pending.New(),
		conns:    conntrack.New(cfg.Logger),
		kick:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	c.requests.SetIdleFunc(c.kickWatcher)
	return c
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AcceptingConnections reports whether the transport should admit new
// connections. Only a Running server accepts them.
func (c *Coordinator) AcceptingConnections() bool {
	return c.State() == Running
}

// ConnectionOpened registers a transport connection with the registry.
func (c *Coordinator) ConnectionOpened(conn net.Conn) {
	c.conns.Register(conn)
}

// ConnectionClosed records a natural transport-level close.
func (c *Coordinator) ConnectionClosed(conn net.Conn) {
	c.conns.Unregister(conn)
}

// BeginRequest asks for admission of a newly dispatched request. While
// draining, the request is admission pressure either way: it extends the
// quiet deadline, and the configured policy decides whether it also runs.
func (c *Coordinator) BeginRequest() (pending.Handle, bool) {
	now := c.clk.Now()
	c.mu.Lock()
	switch c.state {
	case Running:
		c.mu.Unlock()
		return c.requests.Begin(now), true
	case Draining:
		c.deadlines = deadline.Extend(c.deadlines, now, c.cfg.QuietPeriod)
		admit := c.cfg.DrainPolicy == PolicyAllow
		if !admit {
			c.rejected++
		}
		c.mu.Unlock()
		c.kickWatcher()
		if admit {
			return c.requests.Begin(now), true
		}
		return pending.Handle{}, false
	default:
		c.rejected++
		c.mu.Unlock()
		return pending.Handle{}, false
	}
}

// EndRequest reports completion (success or failure) of an admitted request.
// Results produced after a forced close are discarded by the transport; the
// bookkeeping here is identical either way.
func (c *Coordinator) EndRequest(h pending.Handle) {
	c.requests.End(h)
}

// Stop blocks until the coordinator reaches Stopped. The first caller drives
// the drain protocol; concurrent and repeated callers simply wait for the
// same completion. Stop never fails.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if c.state == Running {
		now := c.clk.Now()
		c.state = Draining
		c.deadlines = deadline.Start(now, c.cfg.QuietPeriod, c.cfg.Timeout)
		c.logger.Info("draining",
			"quiet_period", c.cfg.QuietPeriod,
			"timeout", c.cfg.Timeout,
			"inflight", c.requests.Count(),
			"connections", c.conns.Len(),
		)
		go c.watch()
	}
	c.mu.Unlock()
	<-c.done
}

// Done is closed when the coordinator reaches Stopped.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Deadlines returns the drain deadlines. The zero State is returned while
// the coordinator is still Running.
func (c *Coordinator) Deadlines() deadline.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deadlines
}

// Stats snapshots the coordinator for telemetry.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		State:              c.state,
		InflightRequests:   c.requests.Count(),
		OpenConnections:    c.conns.Len(),
		RejectedAdmissions: c.rejected,
		ForcedCloses:       c.forced,
	}
	if c.state == Stopped {
		s.ShutdownDuration = c.stoppedAt.Sub(c.deadlines.StartedAt)
	}
	return s
}

// kickWatcher wakes the drain watcher for immediate reevaluation. Harmless
// while Running; the buffered channel coalesces bursts.
func (c *Coordinator) kickWatcher() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

// watch is the draining loop. It reevaluates on every admission, on every
// completion that empties the registry, and on deadline expiry. Completing
// naturally is never artificially delayed: an empty registry finalizes at
// once regardless of remaining deadline.
func (c *Coordinator) watch() {
	for {
		c.mu.Lock()
		d := c.deadlines
		c.mu.Unlock()

		now := c.clk.Now()
		if c.requests.Count() == 0 {
			c.finalize("drained")
			return
		}
		if deadline.Expired(d, now) {
			c.finalize("deadline")
			return
		}
		select {
		case <-c.clk.After(deadline.Next(d, now)):
		case <-c.kick:
		}
	}
}

// finalize performs the Draining → Stopped transition. It is idempotent and
// order-independent: a natural drain and a cutoff racing into the same
// instant still force-close survivors exactly once.
func (c *Coordinator) finalize(reason string) {
	c.mu.Lock()
	if c.state == Stopped {
		c.mu.Unlock()
		return
	}
	c.state = Stopped
	c.stoppedAt = c.clk.Now()
	inflight := c.requests.Count()
	c.mu.Unlock()

	closed := c.conns.ForceCloseAll()

	c.mu.Lock()
	c.forced += uint64(closed)
	took := c.stoppedAt.Sub(c.deadlines.StartedAt)
	c.mu.Unlock()

	c.logger.Info("stopped",
		"reason", reason,
		"took", took,
		"abandoned", inflight,
		"force_closed", closed,
	)
	close(c.done)
}
