// Package listener accepts device TCP connections and spawns one session
// actor per connection. Grounded on the teacher's single persistent
// usock connection in cmd/bluetooth-service/main.go, generalized from a
// single serial device to a TCP accept loop serving many concurrent
// devices.
package listener

import (
	"context"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/parklock/gateway/pkg/registry"
	"github.com/parklock/gateway/pkg/session"
)

// backlog is advisory only; Go's net package doesn't expose listen
// backlog tuning directly, kept here for documentation of intent.
const backlog = 128

// SessionFactory builds a Session for an accepted connection. Production
// code wires pkg/session.New; tests can substitute a stub.
type SessionFactory func(conn net.Conn) Runner

// Runner is the minimal surface a Listener needs from a session actor.
type Runner interface {
	Run()
}

// Listener owns the device-facing TCP socket.
type Listener struct {
	addr     string
	registry *registry.Registry
	factory  SessionFactory
	log      *zap.SugaredLogger

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// New returns a Listener bound to addr (host:port). Call Start to begin
// accepting.
func New(addr string, reg *registry.Registry, factory SessionFactory, log *zap.SugaredLogger) *Listener {
	return &Listener{addr: addr, registry: reg, factory: factory, log: log}
}

// Start binds the socket and begins accepting connections in a
// background goroutine. It returns once the socket is bound so callers
// know the port is live before proceeding.
func (l *Listener) Start() error {
	ln, err := net.Listen("tcp", l.addr)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.listener = ln
	l.mu.Unlock()

	l.log.Infow("device listener started", "addr", ln.Addr().String())

	l.wg.Add(1)
	go l.acceptLoop(ln)
	return nil
}

// Addr returns the bound listener's address. Only valid after Start
// returns successfully.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.listener == nil {
		return nil
	}
	return l.listener.Addr()
}

func (l *Listener) acceptLoop(ln net.Listener) {
	defer l.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			l.mu.Lock()
			stopped := l.listener == nil
			l.mu.Unlock()
			if stopped {
				return
			}
			l.log.Warnw("accept failed", "error", err)
			continue
		}
		l.log.Debugw("device connected", "remote", conn.RemoteAddr().String())

		sess := l.factory(conn)
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			sess.Run()
		}()
	}
}

// Stop closes the listening socket, stops accepting new connections, and
// closes every currently registered session to unblock their read loops.
// It then waits for the accept loop and every session goroutine to
// return, or for ctx to be done, whichever comes first.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	ln := l.listener
	l.listener = nil
	l.mu.Unlock()

	if ln != nil {
		_ = ln.Close()
	}
	l.registry.CloseAll()

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
