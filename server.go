package quiesce

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"pkt.systems/pslog"

	"pkt.systems/quiesce/internal/clock"
	"pkt.systems/quiesce/internal/lifecycle"
	"pkt.systems/quiesce/internal/svcfields"
)

// Server is an embeddable request-serving server built around the graceful
// shutdown coordinator: it refuses new work the instant Stop is called, lets
// admitted work finish inside the quiet window, and severs whatever survives
// the configured cutoffs.
type Server struct {
	cfg        Config
	logger     pslog.Logger
	coord      *lifecycle.Coordinator
	httpSrv    *http.Server
	clock      clock.Clock
	telemetry  *telemetryBundle
	socketPath string

	mu           sync.Mutex
	listener     net.Listener
	lastServeErr error

	readyOnce sync.Once
	readyCh   chan struct{}

	stopOnce sync.Once
	stopErr  error
}

// Option configures server instances.
type Option func(*options)

type options struct {
	Logger       pslog.Logger
	Clock        clock.Clock
	OTLPEndpoint string
}

// WithLogger supplies a custom logger.
func WithLogger(l pslog.Logger) Option {
	return func(o *options) {
		o.Logger = l
	}
}

// WithClock injects a custom clock implementation.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.Clock = c
	}
}

// WithOTLPEndpoint overrides the OTLP collector endpoint used for telemetry.
func WithOTLPEndpoint(endpoint string) Option {
	return func(o *options) {
		o.OTLPEndpoint = endpoint
	}
}

// NewServer constructs a server according to cfg.
// Example:
//
//	cfg := quiesce.Config{Listen: ":9610", QuietPeriod: time.Second, ShutdownTimeout: 2 * time.Second}
//	srv, err := quiesce.NewServer(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	go srv.Start()
func NewServer(cfg Config, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := o.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	serverClock := o.Clock
	if serverClock == nil {
		serverClock = clock.Real{}
	}

	policy := lifecycle.PolicyReject
	if cfg.DrainPolicy == DrainPolicyAllow {
		policy = lifecycle.PolicyAllow
	}
	coord := lifecycle.New(lifecycle.Config{
		QuietPeriod: cfg.QuietPeriod,
		Timeout:     cfg.ShutdownTimeout,
		DrainPolicy: policy,
		Clock:       serverClock,
		Logger:      logger,
	})

	otlpEndpoint := cfg.OTLPEndpoint
	if o.OTLPEndpoint != "" {
		otlpEndpoint = o.OTLPEndpoint
	}
	telemetry, err := setupTelemetry(context.Background(), telemetryConfig{
		OTLPEndpoint:           otlpEndpoint,
		MetricsListen:          cfg.MetricsListen,
		PprofListen:            cfg.PprofListen,
		EnableProfilingMetrics: cfg.EnableProfilingMetrics,
		Collectors:             lifecycleCollectors(coord),
	}, svcfields.WithSubsystem(logger, "telemetry"))
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:       cfg,
		logger:    svcfields.WithSubsystem(logger, "server"),
		coord:     coord,
		clock:     serverClock,
		telemetry: telemetry,
		readyCh:   make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/v1/sleep", s.withAdmission(http.HandlerFunc(s.handleSleep)))
	mux.Handle("/v1/echo", s.withAdmission(http.HandlerFunc(s.handleEcho)))

	s.httpSrv = &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
		BaseContext: func(net.Listener) context.Context {
			return context.Background()
		},
		ConnState: s.trackConnState,
	}
	return s, nil
}

// Handler returns the underlying HTTP handler so the server can be mounted
// inside an existing mux when embedding it into another program.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

// State returns the server's lifecycle state.
func (s *Server) State() lifecycle.State {
	return s.coord.State()
}

// Stats snapshots the coordinator for diagnostics.
func (s *Server) Stats() lifecycle.Stats {
	return s.coord.Stats()
}

// Start begins serving requests and blocks until the server stops.
func (s *Server) Start() error {
	if s.cfg.ListenProto == "unix" {
		if err := os.Remove(s.cfg.Listen); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove stale unix socket: %w", err)
		}
	}
	ln, err := net.Listen(s.cfg.ListenProto, s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen (%s %s): %w", s.cfg.ListenProto, s.cfg.Listen, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	if s.cfg.ListenProto == "unix" {
		s.socketPath = s.cfg.Listen
	}
	s.signalReady()
	s.logger.Info("listening",
		"network", s.cfg.ListenProto,
		"address", ln.Addr().String(),
		"quiet_period", s.cfg.QuietPeriod,
		"timeout", s.cfg.ShutdownTimeout,
		"drain_policy", s.cfg.DrainPolicy,
	)
	serveErr := s.httpSrv.Serve(&gatedListener{Listener: ln, coord: s.coord})
	s.recordServeErr(serveErr)
	if errors.Is(serveErr, http.ErrServerClosed) || errors.Is(serveErr, net.ErrClosed) {
		return nil
	}
	if serveErr != nil {
		return fmt.Errorf("http serve: %w", serveErr)
	}
	return nil
}

// Stop transitions the server out of service and blocks until it is fully
// stopped: the listener is closed, admitted requests either finish inside the
// quiet window or are cut off at the deadlines, and surviving connections are
// force-closed. Stop never fails; calling it again after the server stopped
// is a no-op that returns immediately, and concurrent callers all unblock
// once the server is stopped.
func (s *Server) Stop() {
	_ = s.stop(context.Background())
}

// Shutdown is Stop with a context bounding the post-drain cleanup (telemetry
// flush). The drain itself is already bounded by the configured shutdown
// timeout and is never cancelled.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.stop(ctx)
}

// Close gracefully shuts the server down using a background context.
func (s *Server) Close() error {
	return s.stop(context.Background())
}

func (s *Server) stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		// Refuse new connections before the drain protocol starts so the
		// RUNNING to DRAINING side effect is synchronous.
		s.mu.Lock()
		ln := s.listener
		s.listener = nil
		s.mu.Unlock()
		if ln != nil {
			_ = ln.Close()
		}

		s.coord.Stop()

		// Everything admitted has finished or been severed; release the
		// HTTP server's bookkeeping without another drain pass.
		_ = s.httpSrv.Close()

		var errs []error
		if s.telemetry != nil {
			telemetryCtx := ctx
			if telemetryCtx.Err() != nil {
				var cancel context.CancelFunc
				telemetryCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
			}
			if err := s.telemetry.Shutdown(telemetryCtx); err != nil {
				errs = append(errs, err)
			}
			s.telemetry = nil
		}
		if s.cfg.ListenProto == "unix" && s.socketPath != "" {
			if err := os.Remove(s.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
		s.stopErr = errors.Join(errs...)
	})
	<-s.coord.Done()
	return s.stopErr
}

func (s *Server) signalReady() {
	s.readyOnce.Do(func() {
		close(s.readyCh)
	})
}

// WaitUntilReady blocks until the server listener is initialized or the
// context ends.
func (s *Server) WaitUntilReady(ctx context.Context) error {
	select {
	case <-s.readyCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ListenerAddr returns the bound listener address once available.
func (s *Server) ListenerAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

func (s *Server) recordServeErr(err error) {
	s.mu.Lock()
	s.lastServeErr = err
	s.mu.Unlock()
}

// LastServeError returns the most recent error reported by the underlying
// HTTP server. It is primarily useful for diagnostics.
func (s *Server) LastServeError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastServeErr
}

// trackConnState feeds transport connection events into the connection
// registry so force-close can reach every survivor.
func (s *Server) trackConnState(conn net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.coord.ConnectionOpened(conn)
	case http.StateClosed, http.StateHijacked:
		s.coord.ConnectionClosed(conn)
	}
}

// withAdmission brackets every request with the coordinator's begin/end
// hooks. Refused requests get a 503 and a connection close so well-behaved
// clients stop reusing the connection.
func (s *Server) withAdmission(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := s.coord.BeginRequest()
		if !ok {
			w.Header().Set("Connection", "close")
			http.Error(w, "server is draining", http.StatusServiceUnavailable)
			return
		}
		defer s.coord.EndRequest(h)
		next.ServeHTTP(w, r)
		// Flush before the registry sees the request end, otherwise a
		// finalize triggered by this completion can sever the connection
		// ahead of the buffered response.
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	})
}

// handleSleep completes after the client-chosen delay (?ms=500 or
// ?d=1.5s), bounded by MaxSleep. A connection severed mid-sleep cancels the
// request context; the response is then discarded rather than written.
func (s *Server) handleSleep(w http.ResponseWriter, r *http.Request) {
	d, err := parseSleepDuration(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if d > s.cfg.MaxSleep {
		d = s.cfg.MaxSleep
	}
	if d > 0 {
		select {
		case <-s.clock.After(d):
		case <-r.Context().Done():
			return
		}
	}
	// A fixed Content-Length keeps the response a single identity-encoded
	// write, so the admission flush pushes the complete body before the
	// registry can observe the completion.
	payload, _ := json.Marshal(map[string]any{"slept_ms": d.Milliseconds()})
	payload = append(payload, '\n')
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	_, _ = w.Write(payload)
}

func parseSleepDuration(r *http.Request) (time.Duration, error) {
	q := r.URL.Query()
	if raw := q.Get("d"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			return 0, fmt.Errorf("invalid duration %q", raw)
		}
		return d, nil
	}
	raw := q.Get("ms")
	if raw == "" {
		return 0, nil
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ms < 0 {
		return 0, fmt.Errorf("invalid millisecond value %q", raw)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// handleEcho copies the request body back, bounded by MaxRequestBytes.
func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)
	defer body.Close()
	payload, err := io.ReadAll(body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "read request body", http.StatusBadRequest)
		return
	}
	if ct := r.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	_, _ = w.Write(payload)
}

// handleHealthz reports the lifecycle state. It bypasses admission so load
// balancers see "draining" instead of a bare refusal.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	state := s.coord.State()
	w.Header().Set("Content-Type", "application/json")
	if state != lifecycle.Running {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"state": state.String()})
}

// gatedListener consults the coordinator before handing connections to the
// HTTP layer, closing the small race between the drain transition and the
// listener close.
type gatedListener struct {
	net.Listener
	coord *lifecycle.Coordinator
}

func (l *gatedListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		if l.coord.AcceptingConnections() {
			return conn, nil
		}
		_ = conn.Close()
	}
}

// StartServer starts a server in a background goroutine and waits until it is
// ready to accept connections. It returns the running server alongside a stop
// function that gracefully shuts it down.
func StartServer(ctx context.Context, cfg Config, opts ...Option) (*Server, func(context.Context) error, error) {
	srv, err := NewServer(cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()
	waitCtx := ctx
	if waitCtx == nil {
		waitCtx = context.Background()
	}
	if err := srv.WaitUntilReady(waitCtx); err != nil {
		_ = srv.Close()
		<-errCh
		return nil, nil, err
	}
	var (
		stopOnce sync.Once
		stopErr  error
	)
	stop := func(shutdownCtx context.Context) error {
		stopOnce.Do(func() {
			if shutdownCtx == nil {
				shutdownCtx = context.Background()
			}
			if err := srv.Shutdown(shutdownCtx); err != nil {
				stopErr = err
				return
			}
			if err := <-errCh; err != nil {
				stopErr = err
			}
		})
		return stopErr
	}
	if ctx != nil {
		go func() {
			<-ctx.Done()
			_ = stop(context.Background())
		}()
	}
	return srv, stop, nil
}
