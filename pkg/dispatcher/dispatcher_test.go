package dispatcher

import (
	"testing"
	"time"

	"github.com/parklock/gateway/pkg/protocol"
	"github.com/parklock/gateway/pkg/registry"
)

type recordingSession struct {
	addr     string
	commands []byte
	payloads [][]byte
}

func (r *recordingSession) RemoteAddr() string                  { return r.addr }
func (r *recordingSession) Close() error                        { return nil }
func (r *recordingSession) LastHeartbeat() time.Time             { return time.Time{} }
func (r *recordingSession) LastReport() *protocol.HeartbeatReport { return nil }
func (r *recordingSession) WriteFrame(command byte, payload []byte) error {
	r.commands = append(r.commands, command)
	r.payloads = append(r.payloads, payload)
	return nil
}

func TestOpenLockNotConnected(t *testing.T) {
	d := New(registry.New())
	var serial protocol.SerialNumber
	if err := d.OpenLock(serial); err != ErrNotConnected {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestOpenLockBuildsCorrectPayload(t *testing.T) {
	reg := registry.New()
	serial := protocol.SerialFromBytes([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	sess := &recordingSession{addr: "10.0.0.1:1"}
	reg.Bind(serial, sess)

	d := New(reg)
	if err := d.OpenLock(serial); err != nil {
		t.Fatalf("OpenLock: %v", err)
	}

	if len(sess.commands) != 1 || sess.commands[0] != protocol.CmdOpenLock {
		t.Fatalf("commands = %v, want [CmdOpenLock]", sess.commands)
	}
	payload := sess.payloads[0]
	if len(payload) != 12 {
		t.Fatalf("payload length = %d, want 12 (serial + flow)", len(payload))
	}
	if protocol.SerialFromBytes(payload[:8]) != serial {
		t.Fatalf("payload serial mismatch")
	}
}

func TestSetStateAppendsStateByte(t *testing.T) {
	reg := registry.New()
	serial := protocol.SerialFromBytes([]byte{8, 7, 6, 5, 4, 3, 2, 1})
	sess := &recordingSession{addr: "10.0.0.1:1"}
	reg.Bind(serial, sess)

	d := New(reg)
	if err := d.SetState(serial, LockStateHoldOpen); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	payload := sess.payloads[0]
	if len(payload) != 13 {
		t.Fatalf("payload length = %d, want 13 (serial + flow + state)", len(payload))
	}
	if payload[12] != byte(LockStateHoldOpen) {
		t.Fatalf("state byte = %d, want %d", payload[12], LockStateHoldOpen)
	}
}

func TestRestartEmptyPayload(t *testing.T) {
	reg := registry.New()
	serial := protocol.SerialFromBytes([]byte{1, 1, 1, 1, 1, 1, 1, 1})
	sess := &recordingSession{addr: "10.0.0.1:1"}
	reg.Bind(serial, sess)

	d := New(reg)
	if err := d.Restart(serial); err != nil {
		t.Fatalf("Restart: %v", err)
	}
	if len(sess.payloads[0]) != 0 {
		t.Fatalf("expected empty restart payload, got %v", sess.payloads[0])
	}
}
