// Package session implements the per-connection device session actor:
// reading frames, replying to login/heartbeat/event frames, and
// serializing writes onto the one socket shared between the read and
// write paths. Grounded on the teacher's pkg/usock read loop and
// pkg/service.HandleUSockMessage dispatch-by-type, generalized from a
// single UART connection to one TCP socket per device.
package session

import (
	"encoding/binary"
	"encoding/hex"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/parklock/gateway/internal/metrics"
	"github.com/parklock/gateway/pkg/framereader"
	"github.com/parklock/gateway/pkg/protocol"
	"github.com/parklock/gateway/pkg/registry"
)

// ReportSink receives parsed heartbeat reports for asynchronous delivery
// (the WebhookSink in production). Enqueue must never block the caller.
type ReportSink interface {
	Enqueue(protocol.SerialNumber, protocol.HeartbeatReport)
}

// EventPublisher receives device lifecycle notifications. Implementations
// must not block the read path; a nil EventPublisher is a valid no-op
// (checked by the Session before every call).
type EventPublisher interface {
	PublishEvent(kind string, serial protocol.SerialNumber, fields map[string]interface{})
}

// readBufferSize bounds a single socket read.
const readBufferSize = 4096

// Session is the live state for one connected device. It implements
// registry.Session.
type Session struct {
	conn       net.Conn
	remoteAddr string
	reader     *framereader.Reader
	registry   *registry.Registry
	sink       ReportSink
	events     EventPublisher
	log        *zap.SugaredLogger

	writeMu sync.Mutex

	mu              sync.RWMutex
	loggedIn        bool
	serial          protocol.SerialNumber
	lastHeartbeat   time.Time
	lastReport      *protocol.HeartbeatReport
	prevStatus      byte
	prevStatusLabel string
	prevCarStatus   byte

	closeOnce sync.Once
}

// New constructs a Session for an accepted connection. The session is
// Accepted but not yet bound to a serial; call Run to start its read
// loop.
func New(conn net.Conn, reg *registry.Registry, sink ReportSink, events EventPublisher, log *zap.SugaredLogger) *Session {
	return &Session{
		conn:       conn,
		remoteAddr: conn.RemoteAddr().String(),
		reader:     framereader.New(),
		registry:   reg,
		sink:       sink,
		events:     events,
		log:        log.With("remote", conn.RemoteAddr().String()),
	}
}

// RemoteAddr returns the TCP peer address.
func (s *Session) RemoteAddr() string { return s.remoteAddr }

// LastHeartbeat returns the wall time of the last accepted heartbeat.
func (s *Session) LastHeartbeat() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHeartbeat
}

// LastReport returns the most recently decoded heartbeat report, or nil.
func (s *Session) LastReport() *protocol.HeartbeatReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReport
}

// Serial returns the bound serial number and whether login has completed.
func (s *Session) Serial() (protocol.SerialNumber, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.serial, s.loggedIn
}

// WriteFrame builds and writes a single frame under the session's write
// mutex — the only serialization the protocol requires, since frames are
// self-delimited and a write is atomic per frame.
func (s *Session) WriteFrame(command byte, payload []byte) error {
	data := protocol.Build(command, payload)
	s.log.Debugw("tx frame", "command", command, "hex", hex.EncodeToString(data))
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.conn.Write(data)
	return err
}

// Close terminates the socket. Idempotent.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	return err
}

// Run drives the read loop until the socket closes or errors. On return
// the session unregisters itself from the registry if it still owns the
// registration for its serial.
func (s *Session) Run() {
	defer s.onClosed()

	buf := make([]byte, readBufferSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			frames, ferr := s.reader.Feed(buf[:n])
			if ferr != nil {
				s.log.Warnw("frame reader buffer overflow, dropping connection", "error", ferr)
				return
			}
			for _, raw := range frames {
				s.handleRaw(raw)
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) handleRaw(raw []byte) {
	frame, err := protocol.Parse(raw)
	if err != nil {
		metrics.FramesDropped.WithLabelValues(frameDropReason(err)).Inc()
		s.log.Debugw("dropping malformed frame", "error", err, "hex", hex.EncodeToString(raw))
		return
	}
	metrics.FramesParsed.WithLabelValues(commandLabel(frame.Command)).Inc()
	s.log.Debugw("rx frame", "command", frame.Command, "hex", hex.EncodeToString(raw))
	s.handleFrame(frame)
}

func (s *Session) handleFrame(frame protocol.Frame) {
	switch frame.Command {
	case protocol.CmdLogin:
		s.handleLogin(frame.Payload)
	case protocol.CmdHeartbeat:
		s.handleHeartbeat(frame.Payload)
	case protocol.CmdConfirmHold, protocol.CmdEndHold, protocol.CmdFault:
		if err := s.WriteFrame(frame.Command, []byte{0x01}); err != nil {
			s.log.Warnw("failed to ack frame", "command", frame.Command, "error", err)
		}
	case protocol.CmdCarStatus:
		if len(frame.Payload) >= 10 {
			serial := protocol.SerialFromBytes(frame.Payload[:8])
			s.log.Infow("car status change",
				"serial", serial.String(),
				"car_present", frame.Payload[8],
				"lock_status", frame.Payload[9],
			)
		}
		if err := s.WriteFrame(frame.Command, []byte{0x01}); err != nil {
			s.log.Warnw("failed to ack car status frame", "error", err)
		}
	default:
		s.log.Debugw("dropping unrecognized command", "command", frame.Command)
	}
}

func (s *Session) handleLogin(payload []byte) {
	if len(payload) < protocol.SerialLength {
		s.log.Warnw("login payload too short", "length", len(payload))
		return
	}
	serial := protocol.SerialFromBytes(payload)

	s.mu.Lock()
	wasLoggedIn := s.loggedIn
	s.serial = serial
	s.loggedIn = true
	s.lastHeartbeat = time.Now()
	s.mu.Unlock()

	tookOver := s.registry.Bind(serial, s)
	if !wasLoggedIn {
		kind := "login"
		if tookOver {
			kind = "takeover"
		}
		s.log.Infow("device logged in", "serial", serial.String(), "takeover", tookOver)
		if s.events != nil {
			s.events.PublishEvent(kind, serial, map[string]interface{}{"remote": s.remoteAddr})
		}
	}

	now := uint32(time.Now().Unix())
	if err := s.WriteFrame(protocol.CmdLogin, u32le(now)); err != nil {
		s.log.Warnw("failed to send login response", "error", err)
	}
}

func (s *Session) handleHeartbeat(payload []byte) {
	now := uint32(time.Now().Unix())
	if err := s.WriteFrame(protocol.CmdHeartbeat, u32le(now)); err != nil {
		s.log.Warnw("failed to send heartbeat response", "error", err)
	}

	report, err := protocol.DecodeHeartbeat(payload)
	if err != nil {
		s.log.Warnw("failed to decode heartbeat payload", "error", err)
		return
	}

	s.mu.Lock()
	loggedIn := s.loggedIn
	if loggedIn {
		s.lastHeartbeat = time.Now()
		s.lastReport = &report
	}
	prevStatus, prevStatusLabel, prevCarStatus := s.prevStatus, s.prevStatusLabel, s.prevCarStatus
	s.prevStatus = report.DeviceStatus
	s.prevStatusLabel = report.DeviceStatusLabel()
	s.prevCarStatus = report.CarStatus
	s.mu.Unlock()

	if !loggedIn {
		return
	}

	if prevStatusLabel != "" && (prevStatus != report.DeviceStatus || prevCarStatus != report.CarStatus) {
		s.log.Infow("device status changed",
			"serial", report.Serial.String(),
			"prev_status", prevStatus, "prev_status_label", prevStatusLabel,
			"status", report.DeviceStatus, "status_label", report.DeviceStatusLabel(),
			"prev_car_status", prevCarStatus, "car_status", report.CarStatus,
		)
		if s.events != nil {
			s.events.PublishEvent("status_change", report.Serial, map[string]interface{}{
				"prevStatus": prevStatus, "status": report.DeviceStatus,
				"prevCarStatus": prevCarStatus, "carStatus": report.CarStatus,
			})
		}
	}

	if s.sink != nil {
		s.sink.Enqueue(report.Serial, report)
	}
}

func (s *Session) onClosed() {
	s.mu.RLock()
	serial, loggedIn := s.serial, s.loggedIn
	s.mu.RUnlock()

	_ = s.Close()

	if loggedIn {
		// A session superseded by a takeover no longer owns the serial; the
		// device is still connected through the newer session, so no
		// disconnect event is published for it.
		current, ok := s.registry.Lookup(serial)
		owned := ok && current == s
		s.registry.Unbind(serial, s)
		s.log.Infow("device disconnected", "serial", serial.String())
		if owned && s.events != nil {
			s.events.PublishEvent("disconnect", serial, nil)
		}
	} else {
		s.log.Infow("connection closed before login")
	}
}

func u32le(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func commandLabel(command byte) string {
	switch command {
	case protocol.CmdLogin:
		return "login"
	case protocol.CmdHeartbeat:
		return "heartbeat"
	case protocol.CmdCarStatus:
		return "car_status"
	case protocol.CmdConfirmHold:
		return "confirm_hold"
	case protocol.CmdEndHold:
		return "end_hold"
	case protocol.CmdFault:
		return "fault"
	default:
		return "other"
	}
}

func frameDropReason(err error) string {
	switch err {
	case protocol.ErrTooShort:
		return "too_short"
	case protocol.ErrBadSentinel:
		return "bad_sentinel"
	case protocol.ErrLengthMismatch:
		return "length_mismatch"
	case protocol.ErrCRCMismatch:
		return "crc_mismatch"
	case protocol.ErrPayloadTooShort:
		return "payload_too_short"
	default:
		return "unknown"
	}
}
