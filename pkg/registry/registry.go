// Package registry maintains the mapping from device serial number to the
// live session serving it, with single-session-per-device and
// takeover-on-duplicate-login semantics. Grounded on the teacher's
// connected_devices/device_lock pattern, generalized from a
// single-UART-connection Service to a concurrent map of sessions guarded
// by one mutex.
package registry

import (
	"sync"
	"time"

	"github.com/parklock/gateway/internal/metrics"
	"github.com/parklock/gateway/pkg/protocol"
)

// Session is the minimal surface the Registry needs from a device
// connection. pkg/session.Session implements this; the registry package
// does not import pkg/session to avoid a dependency cycle (the session
// package needs to call back into the registry on bind/unbind).
type Session interface {
	RemoteAddr() string
	Close() error
	LastHeartbeat() time.Time
	LastReport() *protocol.HeartbeatReport
	WriteFrame(command byte, payload []byte) error
}

// Entry is a point-in-time, lock-free copy of one device's registration,
// safe to hand to callers outside the registry's lock.
type Entry struct {
	Serial        protocol.SerialNumber
	Address       string
	LastHeartbeat time.Time
	LastReport    *protocol.HeartbeatReport
}

// Registry is the concurrent serial -> Session map. At most one Session
// is registered per serial at any instant; a Session is present iff it
// has completed login and has not been superseded or disconnected.
type Registry struct {
	mu       sync.Mutex
	sessions map[protocol.SerialNumber]Session
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{sessions: make(map[protocol.SerialNumber]Session)}
}

// Bind registers newSession for serial, taking over from any existing
// session for the same serial. If the existing registration is exactly
// newSession (a retransmitted login on the same socket), Bind is a no-op
// — the caller is expected to refresh its own last-heartbeat time. The
// takeover itself is performed best-effort: the superseded session's
// socket is closed without holding the registry lock during the close.
// Bind reports whether a different, live session was evicted, so the
// caller can distinguish a first login from a takeover for event
// publishing.
func (r *Registry) Bind(serial protocol.SerialNumber, newSession Session) (tookOver bool) {
	r.mu.Lock()
	existing, ok := r.sessions[serial]
	if ok && existing == newSession {
		r.mu.Unlock()
		return false
	}
	r.sessions[serial] = newSession
	count := len(r.sessions)
	r.mu.Unlock()

	metrics.SessionsActive.Set(float64(count))
	if ok {
		_ = existing.Close()
	}
	return ok
}

// Unbind removes serial's registration only if it currently points to
// session — defense against a stale removal racing a takeover.
func (r *Registry) Unbind(serial protocol.SerialNumber, session Session) {
	r.mu.Lock()
	if current, ok := r.sessions[serial]; ok && current == session {
		delete(r.sessions, serial)
	}
	count := len(r.sessions)
	r.mu.Unlock()
	metrics.SessionsActive.Set(float64(count))
}

// Lookup returns the currently registered session for serial, if any.
func (r *Registry) Lookup(serial protocol.SerialNumber) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[serial]
	return s, ok
}

// Snapshot copies every registration under the lock for operator queries.
// The copies do not alias the live HeartbeatReport.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.sessions))
	for serial, s := range r.sessions {
		var report *protocol.HeartbeatReport
		if lr := s.LastReport(); lr != nil {
			copied := *lr
			report = &copied
		}
		out = append(out, Entry{
			Serial:        serial,
			Address:       s.RemoteAddr(),
			LastHeartbeat: s.LastHeartbeat(),
			LastReport:    report,
		})
	}
	return out
}

// CloseAll closes every currently registered session's socket, used on
// server shutdown to unblock every session's read loop.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		_ = s.Close()
	}
}
