package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/parklock/gateway/internal/gateway"
	"github.com/parklock/gateway/pkg/webhook"
)

func newTestGateway(t *testing.T) *gateway.Gateway {
	t.Helper()
	log := zap.NewNop().Sugar()
	return gateway.New(gateway.Config{
		DeviceAddr: "127.0.0.1:0",
		WebhookCfg: webhook.Config{QueueSize: 8, Workers: 1},
	}, nil, log)
}

func TestStatusEndpoint(t *testing.T) {
	gw := newTestGateway(t)
	router := NewRouter(gw, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := body["devicesConnected"]; !ok {
		t.Fatal("expected devicesConnected field")
	}
}

func TestDevicesEndpointEmpty(t *testing.T) {
	gw := newTestGateway(t)
	router := NewRouter(gw, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/devices", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Devices []string `json:"devices"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(body.Devices) != 0 {
		t.Fatalf("expected no devices, got %v", body.Devices)
	}
}

func TestOpenLockUnknownSerialReturns404(t *testing.T) {
	gw := newTestGateway(t)
	router := NewRouter(gw, zap.NewNop())

	body, _ := json.Marshal(map[string]string{"deviceSerial": "0102030405060708"})
	req := httptest.NewRequest(http.MethodPost, "/open_lock", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestOpenLockInvalidSerialReturns400(t *testing.T) {
	gw := newTestGateway(t)
	router := NewRouter(gw, zap.NewNop())

	body, _ := json.Marshal(map[string]string{"deviceSerial": "nothex"})
	req := httptest.NewRequest(http.MethodPost, "/open_lock", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSetStateRejectsUnknownState(t *testing.T) {
	gw := newTestGateway(t)
	router := NewRouter(gw, zap.NewNop())

	body, _ := json.Marshal(map[string]interface{}{"deviceSerial": "0102030405060708", "state": 7})
	req := httptest.NewRequest(http.MethodPost, "/set_state", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestSetStateAcceptsNumericNormal(t *testing.T) {
	gw := newTestGateway(t)
	router := NewRouter(gw, zap.NewNop())

	body, _ := json.Marshal(map[string]interface{}{"deviceSerial": "0102030405060708", "state": 0})
	req := httptest.NewRequest(http.MethodPost, "/set_state", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	// Device isn't connected, but state:0 must parse and reach the
	// dispatcher rather than being rejected as a "missing required field".
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 (not connected)", rec.Code)
	}
}
