// Package quiesce exposes the Go APIs behind a small request-serving daemon
// whose whole purpose is to stop well. The server drains gracefully on
// shutdown: in-flight requests get a quiet period to finish, new work is
// refused (or optionally admitted) while draining, and a hard timeout caps
// how long a stuck request can hold the process hostage.
//
// # Running a server
//
// The server listens on the network specified by `Config.ListenProto` (default
// `tcp`) and address `Config.Listen`.
//
//	cfg := quiesce.Config{
//	    Listen:          ":9610",
//	    QuietPeriod:     10 * time.Second,
//	    ShutdownTimeout: 30 * time.Second,
//	}
//	srv, err := quiesce.NewServer(cfg)
//	if err != nil { log.Fatal(err) }
//	go func() {
//	    if err := srv.Start(); err != nil {
//	        log.Fatalf("quiesce: %v", err)
//	    }
//	}()
//	defer func() {
//	    if err := srv.Shutdown(context.Background()); err != nil {
//	        log.Printf("quiesce shutdown: %v", err)
//	    }
//	}()
//
// # How draining works
//
// `Shutdown` (and the bare `Stop`) moves the server from running to draining.
// The listener stops accepting connections immediately. A quiet-period clock
// starts: if no requests are pending, or the last pending request completes,
// the server finalizes as soon as the registry reports zero. Any request that
// arrives while draining restarts the quiet period, but the restart can never
// push the cutoff past the hard shutdown timeout measured from the moment
// draining began. When either deadline fires, remaining connections are
// force-closed and their requests aborted.
//
// Whether draining admits late requests is controlled by `Config.DrainPolicy`:
// "reject" (the default) answers 503 while still counting the arrival against
// the quiet period, "allow" serves them.
//
// # Unix domain sockets
//
// Set `ListenProto: "unix"` and point `Listen` at a socket path. The server
// removes a stale socket on start and unlinks it again on shutdown.
//
// # Observability
//
// `WithOTLPEndpoint` (or `Config.OTLPEndpoint`) enables OTLP trace export over
// gRPC or HTTP. `Config.MetricsListen` serves Prometheus metrics including the
// lifecycle state, in-flight request and open connection gauges, and counters
// for rejected admissions and forced closes. `Config.PprofListen` serves
// net/http/pprof.
package quiesce
