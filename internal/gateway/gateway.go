// Package gateway wires together the protocol, registry, dispatcher,
// webhook sink, device listener and optional event bus into the single
// running service. Grounded on the teacher's cmd/bluetooth-service/main.go
// wiring pattern (construct dependencies, start background watchers,
// wait on signals) generalized from one nRF52 connection to many
// concurrent TCP device sessions behind an HTTP control plane.
package gateway

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parklock/gateway/pkg/dispatcher"
	"github.com/parklock/gateway/pkg/eventbus"
	"github.com/parklock/gateway/pkg/listener"
	"github.com/parklock/gateway/pkg/protocol"
	"github.com/parklock/gateway/pkg/registry"
	"github.com/parklock/gateway/pkg/session"
	"github.com/parklock/gateway/pkg/webhook"
)

// Config carries the gateway's runtime configuration, populated from
// flags in cmd/gateway/main.go.
type Config struct {
	DeviceAddr string
	WebhookCfg webhook.Config
}

// Gateway owns every long-lived component of the running service.
type Gateway struct {
	cfg        Config
	registry   *registry.Registry
	dispatcher *dispatcher.Dispatcher
	sink       *webhook.Sink
	events     *eventbus.EventBus
	log        *zap.SugaredLogger
	factory    listener.SessionFactory

	listenerMu sync.Mutex
	listener   *listener.Listener
	running    bool
}

// New constructs a Gateway. events may be nil when no Redis address is
// configured.
func New(cfg Config, events *eventbus.EventBus, log *zap.SugaredLogger) *Gateway {
	reg := registry.New()
	sink := webhook.New(cfg.WebhookCfg, log)
	disp := dispatcher.New(reg)

	g := &Gateway{
		cfg:        cfg,
		registry:   reg,
		dispatcher: disp,
		sink:       sink,
		events:     events,
		log:        log,
	}
	g.factory = func(conn net.Conn) listener.Runner {
		return session.New(conn, reg, sink, eventAdapter{events}, log)
	}
	g.listener = listener.New(cfg.DeviceAddr, reg, g.factory, log)
	return g
}

// eventAdapter adapts *eventbus.EventBus (which may be nil) to
// session.EventPublisher without leaking a typed-nil interface value.
type eventAdapter struct {
	bus *eventbus.EventBus
}

func (a eventAdapter) PublishEvent(kind string, serial protocol.SerialNumber, fields map[string]interface{}) {
	if a.bus == nil {
		return
	}
	a.bus.PublishEvent(kind, serial, fields)
}

// Start binds the device listener. The HTTP facade is started separately
// by the caller (cmd/gateway/main.go) since it shares no lifecycle
// dependency with the device socket beyond reading this Gateway's state.
func (g *Gateway) Start() error {
	g.listenerMu.Lock()
	defer g.listenerMu.Unlock()
	if err := g.listener.Start(); err != nil {
		return err
	}
	g.running = true
	return nil
}

// Stop closes the device listener and every active session, and shuts
// down the webhook sink's delivery workers. It waits up to the given
// context's deadline for in-flight work to settle. Intended for process
// shutdown; StopDeviceListener is the runtime-toggleable counterpart used
// by the HTTP facade's /stop_server route.
func (g *Gateway) Stop(ctx context.Context) error {
	err := g.StopDeviceListener(ctx)
	g.sink.Close()
	if g.events != nil {
		_ = g.events.Close()
	}
	return err
}

// IsRunning reports whether the device listener currently accepts
// connections.
func (g *Gateway) IsRunning() bool {
	g.listenerMu.Lock()
	defer g.listenerMu.Unlock()
	return g.running
}

// StopDeviceListener closes the device listener, disconnecting every
// connected device, without touching the webhook sink or event bus.
// Mirrors the original API's /stop_server: the gateway process stays up,
// the HTTP facade stays reachable, only the device socket goes dark.
func (g *Gateway) StopDeviceListener(ctx context.Context) error {
	g.listenerMu.Lock()
	defer g.listenerMu.Unlock()
	if !g.running {
		return nil
	}
	err := g.listener.Stop(ctx)
	g.running = false
	return err
}

// StartDeviceListener rebinds the device listener after StopDeviceListener,
// reusing the configured address. Mirrors the original API's
// /start_server.
func (g *Gateway) StartDeviceListener() error {
	g.listenerMu.Lock()
	defer g.listenerMu.Unlock()
	if g.running {
		return nil
	}
	g.listener = listener.New(g.cfg.DeviceAddr, g.registry, g.factory, g.log)
	if err := g.listener.Start(); err != nil {
		return err
	}
	g.running = true
	return nil
}

// Registry exposes the device registry for the HTTP facade.
func (g *Gateway) Registry() *registry.Registry { return g.registry }

// Dispatcher exposes operator commands for the HTTP facade.
func (g *Gateway) Dispatcher() *dispatcher.Dispatcher { return g.dispatcher }

// WebhookStats reports webhook delivery counters for the HTTP /status
// endpoint.
func (g *Gateway) WebhookStats() (delivered, failed, dropped int64) {
	return g.sink.Stats()
}

// DeviceCount is a convenience wrapper over Registry().Snapshot for
// callers that only need the count.
func (g *Gateway) DeviceCount() int {
	return len(g.registry.Snapshot())
}

// DeviceAddr returns the bound device listener address. Only valid after
// Start has returned successfully and while the listener is running.
func (g *Gateway) DeviceAddr() net.Addr {
	g.listenerMu.Lock()
	defer g.listenerMu.Unlock()
	return g.listener.Addr()
}

// WatchCommands blocks consuming operator commands from the event bus
// command list and routes them to the dispatcher, until ctx is
// cancelled. A nil event bus makes this a no-op, matching
// eventbus.EventBus's nil-safe method set.
func (g *Gateway) WatchCommands(ctx context.Context) {
	if g.events == nil {
		return
	}
	g.events.WatchCommands(ctx, func(cmd eventbus.Command) {
		serial, err := protocol.ParseSerialHex(cmd.Serial)
		if err != nil {
			g.log.Warnw("dropping command with invalid serial", "serial", cmd.Serial, "error", err)
			return
		}

		var opErr error
		switch cmd.Op {
		case "open_lock":
			opErr = g.dispatcher.OpenLock(serial)
		case "close_lock":
			opErr = g.dispatcher.CloseLock(serial)
		case "sync_time":
			opErr = g.dispatcher.SyncTime(serial)
		case "restart_device":
			opErr = g.dispatcher.Restart(serial)
		case "set_state":
			opErr = g.dispatcher.SetState(serial, parseLockState(cmd.State))
		default:
			g.log.Warnw("unknown command op", "op", cmd.Op)
			return
		}
		if opErr != nil {
			g.log.Warnw("command dispatch failed", "op", cmd.Op, "serial", cmd.Serial, "error", opErr)
		}
	})
}

// parseLockState maps the numeric state carried by both the HTTP facade's
// /set_state body and the EventBus command queue (0=normal, 1=hold_open,
// 2=hold_close) to a dispatcher.LockState.
func parseLockState(state int) dispatcher.LockState {
	switch state {
	case 1:
		return dispatcher.LockStateHoldOpen
	case 2:
		return dispatcher.LockStateHoldClose
	default:
		return dispatcher.LockStateNormal
	}
}

// restartGracePeriod is how long Stop waits by default when the caller
// does not supply its own deadline (used by signal-triggered shutdown in
// cmd/gateway/main.go).
const restartGracePeriod = 10 * time.Second

// DefaultStopContext returns a context bounded by restartGracePeriod.
func DefaultStopContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), restartGracePeriod)
}
