package protocol

import (
	"encoding/binary"
	"testing"
)

func TestDecodeHeartbeat32ByteMinimum(t *testing.T) {
	payload := make([]byte, 32)
	copy(payload[0:8], []byte{1, 2, 3, 4, 5, 6, 7, 8})
	payload[9] = 1
	payload[17] = 125
	binary.LittleEndian.PutUint16(payload[20:22], 0x0045)

	report, err := DecodeHeartbeat(payload)
	if err != nil {
		t.Fatalf("DecodeHeartbeat: %v", err)
	}
	if report.Serial.String() != "0102030405060708" {
		t.Fatalf("Serial = %v", report.Serial)
	}
	if report.Battery12V != 12.5 {
		t.Fatalf("Battery12V = %v, want 12.5", report.Battery12V)
	}
	if report.ControlStatus != 0 {
		t.Fatalf("ControlStatus = %v, want 0 (defaulted for short payload)", report.ControlStatus)
	}
}

func TestDecodeHeartbeat39ByteWithControlStatus(t *testing.T) {
	payload := make([]byte, 39)
	copy(payload[0:8], []byte{8, 7, 6, 5, 4, 3, 2, 1})
	binary.LittleEndian.PutUint16(payload[20:22], 0x0045)
	payload[38] = 2 // hold close

	report, err := DecodeHeartbeat(payload)
	if err != nil {
		t.Fatalf("DecodeHeartbeat: %v", err)
	}
	if report.ControlStatus != 2 {
		t.Fatalf("ControlStatus = %v, want 2", report.ControlStatus)
	}
}

func TestDecodeHeartbeatTooShort(t *testing.T) {
	_, err := DecodeHeartbeat(make([]byte, 31))
	if err != ErrPayloadTooShort {
		t.Fatalf("err = %v, want ErrPayloadTooShort", err)
	}
}

func TestDecodeErrorsBitmask(t *testing.T) {
	got := DecodeErrors(0x0045)
	want := []string{"upper limit switch", "motor down stall", "ground sensor fault"}
	if len(got) != len(want) {
		t.Fatalf("DecodeErrors(0x0045) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("DecodeErrors(0x0045)[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestWaterDetectionLabel(t *testing.T) {
	if got := WaterDetectionLabel(1); got != "有水" {
		t.Fatalf("WaterDetectionLabel(1) = %q, want 有水", got)
	}
	if got := WaterDetectionLabel(0); got != "无水" {
		t.Fatalf("WaterDetectionLabel(0) = %q, want 无水", got)
	}
}

func TestDeviceStatusLabelUnknownFallback(t *testing.T) {
	if got := DeviceStatusLabel(200); got != "unknown(200)" {
		t.Fatalf("DeviceStatusLabel(200) = %q, want unknown(200)", got)
	}
}
