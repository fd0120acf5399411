package protocol

import (
	"encoding/binary"
	"fmt"
)

// ErrorBit names one bit of the heartbeat error bitmask.
type ErrorBit uint16

const (
	ErrorUpperLimitSwitch ErrorBit = 1 << 0
	ErrorLowerLimitSwitch ErrorBit = 1 << 1
	ErrorMotorDownStall   ErrorBit = 1 << 2
	ErrorMotorUpStall     ErrorBit = 1 << 3
	ErrorRiseTimeout      ErrorBit = 1 << 4
	ErrorFallTimeout      ErrorBit = 1 << 5
	ErrorGroundSensor     ErrorBit = 1 << 6
	ErrorGearFault        ErrorBit = 1 << 7
	ErrorMotorCoilFault   ErrorBit = 1 << 8
	ErrorCarDetectModule  ErrorBit = 1 << 9
	ErrorTemporaryHold    ErrorBit = 1 << 10
)

var errorBitLabels = []struct {
	bit   ErrorBit
	label string
}{
	{ErrorUpperLimitSwitch, "upper limit switch"},
	{ErrorLowerLimitSwitch, "lower limit switch"},
	{ErrorMotorDownStall, "motor down stall"},
	{ErrorMotorUpStall, "motor up stall"},
	{ErrorRiseTimeout, "rise timeout"},
	{ErrorFallTimeout, "fall timeout"},
	{ErrorGroundSensor, "ground sensor fault"},
	{ErrorGearFault, "gear fault"},
	{ErrorMotorCoilFault, "motor coil fault"},
	{ErrorCarDetectModule, "car-detect module fault"},
	{ErrorTemporaryHold, "temporary hold-open"},
}

// DecodeErrors returns the human-readable descriptors set in an error
// bitmask, in bit order.
func DecodeErrors(code uint16) []string {
	var out []string
	for _, e := range errorBitLabels {
		if code&uint16(e.bit) != 0 {
			out = append(out, e.label)
		}
	}
	return out
}

var deviceStatusLabels = map[byte]string{
	0: "power-on initializing",
	1: "lock raised",
	2: "lock lowered",
	3: "raise error",
	4: "lower error",
	5: "in motion",
	6: "ground sensor fault",
	9: "car present",
}

// DeviceStatusLabel returns the human-readable label for a device status
// code, falling back to "unknown(N)" for unrecognized codes.
func DeviceStatusLabel(code byte) string {
	if label, ok := deviceStatusLabels[code]; ok {
		return label
	}
	return fmt.Sprintf("unknown(%d)", code)
}

var carStatusLabels = map[byte]string{
	0: "ready",
	1: "car present",
	2: "car absent",
}

// CarStatusLabel returns the human-readable label for a car status code.
func CarStatusLabel(code byte) string {
	if label, ok := carStatusLabels[code]; ok {
		return label
	}
	return fmt.Sprintf("unknown(%d)", code)
}

var controlStatusLabels = map[byte]string{
	0: "normal",
	1: "hold open",
	2: "hold close",
}

// ControlStatusLabel returns the human-readable label for a control status
// code.
func ControlStatusLabel(code byte) string {
	if label, ok := controlStatusLabels[code]; ok {
		return label
	}
	return fmt.Sprintf("unknown(%d)", code)
}

// WaterDetectionLabel returns the Chinese status text used verbatim in the
// webhook payload (spec.md §6.3): "有水" (water present) or "无水" (no
// water).
func WaterDetectionLabel(code byte) string {
	if code == 1 {
		return "有水"
	}
	return "无水"
}

// HeartbeatReport is the decoded 0x81 payload.
type HeartbeatReport struct {
	Serial            SerialNumber
	ActionStep        byte
	WaterDetection    byte
	Battery37V        byte
	SignalStrength    byte
	FlowNumber        uint32
	DeviceType        byte
	Battery12V        float64
	DeviceStatus      byte
	CarStatus         byte
	ErrorCode         uint16
	CurrentFrequency  uint32
	NoCarBase         uint32
	CarBase           uint32
	CarRatio          uint16
	NoCarRatio        uint16
	ControlStatus     byte
}

// DeviceStatusLabel returns the human-readable label for this report's
// device status.
func (r HeartbeatReport) DeviceStatusLabel() string { return DeviceStatusLabel(r.DeviceStatus) }

// CarStatusLabel returns the human-readable label for this report's car
// status.
func (r HeartbeatReport) CarStatusLabel() string { return CarStatusLabel(r.CarStatus) }

// ControlStatusLabel returns the human-readable label for this report's
// control status.
func (r HeartbeatReport) ControlStatusLabel() string { return ControlStatusLabel(r.ControlStatus) }

// Errors decodes this report's error bitmask into descriptors.
func (r HeartbeatReport) Errors() []string { return DecodeErrors(r.ErrorCode) }

// DecodeHeartbeat parses a 0x81 payload at the fixed offsets defined in
// spec.md §4.1. The only length guaranteed by callers is 32 bytes (up
// through no_car_base); every field at or beyond offset 30 defaults to
// its zero value when the payload does not extend far enough to contain
// it, the same way control_status defaults to 0 for payloads shorter
// than 39 bytes.
func DecodeHeartbeat(payload []byte) (HeartbeatReport, error) {
	if len(payload) < 32 {
		return HeartbeatReport{}, ErrPayloadTooShort
	}
	r := HeartbeatReport{
		Serial:           SerialFromBytes(payload[0:8]),
		ActionStep:       payload[8],
		WaterDetection:   payload[9],
		Battery37V:       payload[10],
		SignalStrength:   payload[11],
		FlowNumber:       binary.LittleEndian.Uint32(payload[12:16]),
		DeviceType:       payload[16],
		Battery12V:       float64(payload[17]) / 10.0,
		DeviceStatus:     payload[18],
		CarStatus:        payload[19],
		ErrorCode:        binary.LittleEndian.Uint16(payload[20:22]),
		CurrentFrequency: binary.LittleEndian.Uint32(payload[22:26]),
		NoCarBase:        binary.LittleEndian.Uint32(payload[26:30]),
	}
	if len(payload) >= 34 {
		r.CarBase = binary.LittleEndian.Uint32(payload[30:34])
	}
	if len(payload) >= 36 {
		r.CarRatio = binary.LittleEndian.Uint16(payload[34:36])
	}
	if len(payload) >= 38 {
		r.NoCarRatio = binary.LittleEndian.Uint16(payload[36:38])
	}
	if len(payload) >= 39 {
		r.ControlStatus = payload[38]
	}
	return r, nil
}
