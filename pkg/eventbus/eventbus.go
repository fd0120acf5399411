// Package eventbus publishes device lifecycle events (login, takeover,
// disconnect, status_change) to Redis pub/sub for external subscribers,
// and optionally
// watches a Redis list for operator commands issued by another process.
// Grounded on the teacher's pkg/redis.Client (Publish/Subscribe/BRPop)
// and pkg/service.WatchRedisCommands's BRPOP command loop; this is
// transient signaling, never the device registry's source of truth — the
// Registry in pkg/registry remains authoritative and in-memory.
package eventbus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/parklock/gateway/pkg/protocol"
)

// Channel is the Redis pub/sub channel device lifecycle events are
// published on.
const Channel = "parking-lock:events"

// CommandListKey is the Redis list operator commands are BRPOP'd from
// when an external process wants to issue commands without going
// through the HTTP facade.
const CommandListKey = "parking-lock:commands"

// event is the JSON shape published on Channel.
type event struct {
	Kind   string                 `json:"kind"`
	Serial string                 `json:"serial"`
	Time   int64                  `json:"time"`
	Fields map[string]interface{} `json:"fields,omitempty"`
}

// Command is a single operator command popped from CommandListKey, e.g.
// {"op":"open_lock","serial":"...","state":1}. State is numeric
// (0=normal, 1=hold_open, 2=hold_close), matching the HTTP facade's
// /set_state contract.
type Command struct {
	Op     string `json:"op"`
	Serial string `json:"serial"`
	State  int    `json:"state,omitempty"`
}

// EventBus wraps a Redis client for pub/sub event fan-out and an
// optional command queue. A nil *EventBus is valid: every method is a
// no-op, so the gateway can run with EventBus disabled entirely.
type EventBus struct {
	client *redis.Client
	log    *zap.SugaredLogger
}

// New connects to addr and pings it to fail fast on misconfiguration. A
// nil EventBus (not an error) should be constructed by the caller
// directly when no Redis address is configured.
func New(addr, password string, db int, log *zap.SugaredLogger) (*EventBus, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &EventBus{client: client, log: log}, nil
}

// PublishEvent publishes a device lifecycle event. Failures are logged,
// never propagated — publishing is best-effort and must never affect
// device session handling.
func (b *EventBus) PublishEvent(kind string, serial protocol.SerialNumber, fields map[string]interface{}) {
	if b == nil {
		return
	}
	payload, err := json.Marshal(event{
		Kind:   kind,
		Serial: serial.String(),
		Time:   time.Now().Unix(),
		Fields: fields,
	})
	if err != nil {
		b.log.Errorw("failed to marshal event", "kind", kind, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := b.client.Publish(ctx, Channel, payload).Err(); err != nil {
		b.log.Warnw("failed to publish event", "kind", kind, "serial", serial.String(), "error", err)
	}
}

// CommandHandler processes one popped operator command.
type CommandHandler func(Command)

// WatchCommands blocks popping commands from CommandListKey via BRPOP
// and invokes handle for each, until ctx is cancelled.
func (b *EventBus) WatchCommands(ctx context.Context, handle CommandHandler) {
	if b == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		result, err := b.client.BRPop(ctx, 5*time.Second, CommandListKey).Result()
		if err != nil {
			if err == redis.Nil || err == context.Canceled {
				continue
			}
			b.log.Warnw("error receiving command from redis", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if len(result) != 2 {
			continue
		}

		var cmd Command
		if err := json.Unmarshal([]byte(result[1]), &cmd); err != nil {
			b.log.Warnw("failed to decode command payload", "raw", result[1], "error", err)
			continue
		}
		handle(cmd)
	}
}

// Close releases the underlying Redis connection.
func (b *EventBus) Close() error {
	if b == nil {
		return nil
	}
	return b.client.Close()
}
