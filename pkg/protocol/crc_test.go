package protocol

import "testing"

func TestCRC16ModbusGoldenVectors(t *testing.T) {
	cases := []struct {
		name string
		data []byte
		want uint16
	}{
		{"empty", []byte{}, 0xFFFF},
		{"check string", []byte("123456789"), 0x4B37},
		{"single zero byte", []byte{0x00}, 0x40BF},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := crc16Modbus(tc.data)
			if got != tc.want {
				t.Fatalf("crc16Modbus(%q) = 0x%04X, want 0x%04X", tc.data, got, tc.want)
			}
		})
	}
}
