package lifecycle

import (
	"net"
	"sync"
	"testing"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/quiesce/internal/clock"
)

var testEpoch = time.Unix(1_700_000_000, 0).UTC()

func newTestCoordinator(quiet, timeout time.Duration, policy Policy) (*Coordinator, *clock.Manual) {
	clk := clock.NewManual(testEpoch)
	c := New(Config{
		QuietPeriod: quiet,
		Timeout:     timeout,
		DrainPolicy: policy,
		Clock:       clk,
		Logger:      pslog.NoopLogger(),
	})
	return c, clk
}

// waitFor polls cond with a real-time bound; the manual clock itself never
// advances unless the test advances it.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitStopped(t *testing.T, c *Coordinator) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("coordinator never reached stopped")
	}
}

func TestStopIdleFinalizesWithoutWaitingQuietPeriod(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(time.Hour, 2*time.Hour, PolicyReject)
	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()

	// No clock advancement at all: an idle server must not wait out the
	// quiet period.
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("idle stop did not finalize promptly")
	}
	if got := c.State(); got != Stopped {
		t.Fatalf("state = %v, want stopped", got)
	}
}

func TestStopWaitsForNaturalDrain(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(time.Hour, 2*time.Hour, PolicyReject)
	h, ok := c.BeginRequest()
	if !ok {
		t.Fatal("running server rejected a request")
	}

	go c.Stop()
	waitFor(t, "draining", func() bool { return c.State() == Draining })

	// Completion of the last in-flight request must finalize immediately,
	// event-driven, without any clock movement.
	c.EndRequest(h)
	waitStopped(t, c)

	stats := c.Stats()
	if stats.ForcedCloses != 0 {
		t.Fatalf("natural drain force-closed %d connections", stats.ForcedCloses)
	}
}

func TestQuietCutoffForcesStuckRequest(t *testing.T) {
	t.Parallel()

	c, clk := newTestCoordinator(time.Second, 2*time.Second, PolicyReject)
	server, client := net.Pipe()
	defer client.Close()
	c.ConnectionOpened(server)

	if _, ok := c.BeginRequest(); !ok {
		t.Fatal("running server rejected a request")
	}

	go c.Stop()
	waitFor(t, "watcher armed", func() bool {
		return c.State() == Draining && clk.Waiters() > 0
	})

	clk.Advance(time.Second)
	waitStopped(t, c)

	stats := c.Stats()
	if stats.ForcedCloses != 1 {
		t.Fatalf("forced closes = %d, want 1", stats.ForcedCloses)
	}
	if stats.OpenConnections != 0 {
		t.Fatalf("open connections = %d after stop, want 0", stats.OpenConnections)
	}
	if stats.ShutdownDuration != time.Second {
		t.Fatalf("shutdown took %v of manual time, want 1s", stats.ShutdownDuration)
	}
}

func TestAdmissionsExtendQuietUntilHardCutoff(t *testing.T) {
	t.Parallel()

	c, clk := newTestCoordinator(time.Second, 2*time.Second, PolicyReject)
	if _, ok := c.BeginRequest(); !ok {
		t.Fatal("running server rejected a request")
	}

	go c.Stop()
	waitFor(t, "watcher armed", func() bool {
		return c.State() == Draining && clk.Waiters() > 0
	})

	// Keep admission pressure coming every 400ms. Each arrival restarts the
	// quiet window, so only the hard cutoff can end the drain.
	for i := 0; i < 3; i++ {
		clk.Advance(400 * time.Millisecond)
		if _, ok := c.BeginRequest(); ok {
			t.Fatal("reject policy admitted a request while draining")
		}
		d := c.Deadlines()
		if d.Quiet.After(d.Hard) {
			t.Fatalf("quiet deadline %v exceeds hard deadline %v", d.Quiet, d.Hard)
		}
		if c.State() == Stopped {
			t.Fatalf("stopped before the hard cutoff at step %d", i)
		}
	}

	// Land exactly on the hard cutoff: 3×400ms of admissions + 800ms.
	clk.Advance(800 * time.Millisecond)
	waitStopped(t, c)

	stats := c.Stats()
	if stats.ShutdownDuration != 2*time.Second {
		t.Fatalf("shutdown took %v of manual time, want the 2s hard timeout", stats.ShutdownDuration)
	}
	if stats.RejectedAdmissions != 3 {
		t.Fatalf("rejected admissions = %d, want 3", stats.RejectedAdmissions)
	}
}

func TestPolicyAllowAdmitsDuringDrain(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(time.Second, 2*time.Second, PolicyAllow)
	first, ok := c.BeginRequest()
	if !ok {
		t.Fatal("running server rejected a request")
	}

	go c.Stop()
	waitFor(t, "draining", func() bool { return c.State() == Draining })

	before := c.Deadlines().Quiet
	second, ok := c.BeginRequest()
	if !ok {
		t.Fatal("allow policy refused a request on a surviving connection")
	}
	if after := c.Deadlines().Quiet; after.Before(before) {
		t.Fatalf("admission regressed the quiet deadline: %v -> %v", before, after)
	}

	c.EndRequest(first)
	c.EndRequest(second)
	waitStopped(t, c)
}

func TestBeginAfterStopIsRejected(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(time.Second, 2*time.Second, PolicyReject)
	c.Stop()
	if _, ok := c.BeginRequest(); ok {
		t.Fatal("stopped coordinator admitted a request")
	}
	if c.AcceptingConnections() {
		t.Fatal("stopped coordinator still accepting connections")
	}
}

func TestConcurrentStopsUnblockTogether(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(time.Hour, 2*time.Hour, PolicyReject)

	const callers = 16
	var wg sync.WaitGroup
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Stop()
			if got := c.State(); got != Stopped {
				t.Errorf("Stop returned with state %v", got)
			}
		}()
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent Stop callers did not all unblock")
	}

	// Stop after Stopped is a no-op that returns immediately.
	c.Stop()
}

func TestStateNeverRegresses(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(time.Hour, 2*time.Hour, PolicyReject)
	h, _ := c.BeginRequest()

	go c.Stop()
	waitFor(t, "draining", func() bool { return c.State() == Draining })

	stop := make(chan struct{})
	regressed := make(chan State, 1)
	go func() {
		last := Draining
		for {
			select {
			case <-stop:
				return
			default:
			}
			s := c.State()
			if s < last {
				regressed <- s
				return
			}
			last = s
		}
	}()

	c.EndRequest(h)
	waitStopped(t, c)
	close(stop)

	select {
	case s := <-regressed:
		t.Fatalf("observed state regression to %v", s)
	default:
	}
}

func TestLateConnectionClosedAfterStop(t *testing.T) {
	t.Parallel()

	c, _ := newTestCoordinator(time.Second, 2*time.Second, PolicyReject)
	c.Stop()

	server, client := net.Pipe()
	defer client.Close()
	// The transport should not hand conns to a stopped coordinator, but a
	// race can: the registry closes them on the spot.
	c.ConnectionOpened(server)
	if got := c.Stats().OpenConnections; got != 0 {
		t.Fatalf("stopped coordinator retained %d connections", got)
	}
}
