// Package dispatcher exposes the operator-level device commands: each
// builds a frame and writes it through the device's bound session.
// Grounded in the teacher's nrf_commands.go (one small builder function
// per command) and redis_handlers.go's WatchRedisCommands (string/command
// to frame payload translation), generalized from CBOR-over-UART messages
// to the fixed binary frame payloads this protocol requires.
package dispatcher

import (
	"encoding/binary"
	"errors"
	"time"

	"github.com/parklock/gateway/pkg/protocol"
	"github.com/parklock/gateway/pkg/registry"
)

// ErrNotConnected is returned when the target serial has no registered
// session.
var ErrNotConnected = errors.New("dispatcher: serial not connected")

// LockState is the set of values accepted by SetState.
type LockState byte

const (
	LockStateNormal LockState = 0
	LockStateHoldOpen LockState = 1
	LockStateHoldClose LockState = 2
)

// Dispatcher routes operator commands to a device's live session.
type Dispatcher struct {
	registry *registry.Registry
}

// New returns a Dispatcher over the given Registry.
func New(reg *registry.Registry) *Dispatcher {
	return &Dispatcher{registry: reg}
}

func flowNumber() uint32 {
	return uint32(time.Now().Unix() % 10000)
}

func u32le(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func (d *Dispatcher) send(serial protocol.SerialNumber, command byte, payload []byte) error {
	session, ok := d.registry.Lookup(serial)
	if !ok {
		return ErrNotConnected
	}
	return session.WriteFrame(command, payload)
}

// OpenLock sends command 0x84: serial ∥ flow (u32 LE).
func (d *Dispatcher) OpenLock(serial protocol.SerialNumber) error {
	payload := append(append([]byte{}, serial[:]...), u32le(flowNumber())...)
	return d.send(serial, protocol.CmdOpenLock, payload)
}

// CloseLock sends command 0x85: serial ∥ flow (u32 LE).
func (d *Dispatcher) CloseLock(serial protocol.SerialNumber) error {
	payload := append(append([]byte{}, serial[:]...), u32le(flowNumber())...)
	return d.send(serial, protocol.CmdCloseLock, payload)
}

// SetState sends command 0x8E: serial ∥ flow (u32 LE) ∥ state (1 byte).
func (d *Dispatcher) SetState(serial protocol.SerialNumber, state LockState) error {
	payload := append(append([]byte{}, serial[:]...), u32le(flowNumber())...)
	payload = append(payload, byte(state))
	return d.send(serial, protocol.CmdSetState, payload)
}

// SyncTime sends command 0x86: serial ∥ now (u32 LE unix seconds).
func (d *Dispatcher) SyncTime(serial protocol.SerialNumber) error {
	payload := append(append([]byte{}, serial[:]...), u32le(uint32(time.Now().Unix()))...)
	return d.send(serial, protocol.CmdSyncTime, payload)
}

// Restart sends command 0x8F with an empty payload.
func (d *Dispatcher) Restart(serial protocol.SerialNumber) error {
	return d.send(serial, protocol.CmdRestart, nil)
}
