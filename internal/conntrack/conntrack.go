// Package conntrack tracks the connections currently owned by the transport
// so the lifecycle coordinator can sever any survivors when a drain cutoff
// fires. The registry never owns the sockets: the transport opens and closes
// them, the registry only requests closure.
package conntrack

import (
	"net"
	"sync"

	"github.com/rs/xid"

	"pkt.systems/quiesce/internal/svcfields"
	"pkt.systems/pslog"
)

// Registry is a thread-safe set of open connections.
type Registry struct {
	logger pslog.Logger

	mu     sync.Mutex
	conns  map[net.Conn]string
	sealed bool
}

// New returns an empty registry.
func New(logger pslog.Logger) *Registry {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Registry{
		logger: svcfields.WithSubsystem(logger, "server.conntrack"),
		conns:  make(map[net.Conn]string),
	}
}

// Register adds a connection and returns its tracking ID. After ForceCloseAll
// has run the registry is sealed: late registrations are closed on the spot
// so nothing survives past STOPPED.
func (r *Registry) Register(conn net.Conn) string {
	if conn == nil {
		return ""
	}
	id := xid.New().String()
	r.mu.Lock()
	if r.sealed {
		r.mu.Unlock()
		_ = conn.Close()
		r.logger.Debug("late connection refused", "conn", id, "remote", remoteAddr(conn))
		return id
	}
	r.conns[conn] = id
	r.mu.Unlock()
	return id
}

// Unregister removes a connection that closed naturally. Unknown connections
// are ignored, which makes the force-close path race-free against the
// transport's own close notifications.
func (r *Registry) Unregister(conn net.Conn) {
	if conn == nil {
		return
	}
	r.mu.Lock()
	delete(r.conns, conn)
	r.mu.Unlock()
}

// Len returns the number of tracked connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}

// ForceCloseAll severs every tracked connection and seals the registry. It is
// idempotent and safe on an empty registry; it returns how many connections
// were closed by this call.
func (r *Registry) ForceCloseAll() int {
	r.mu.Lock()
	r.sealed = true
	victims := make(map[net.Conn]string, len(r.conns))
	for conn, id := range r.conns {
		victims[conn] = id
	}
	r.conns = make(map[net.Conn]string)
	r.mu.Unlock()

	for conn, id := range victims {
		_ = conn.Close()
		r.logger.Debug("connection force-closed", "conn", id, "remote", remoteAddr(conn))
	}
	return len(victims)
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}
