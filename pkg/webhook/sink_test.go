package webhook

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/parklock/gateway/pkg/protocol"
)

func testReport(serialByte byte) protocol.HeartbeatReport {
	return protocol.HeartbeatReport{
		Serial:         protocol.SerialFromBytes([]byte{serialByte, 0, 0, 0, 0, 0, 0, 0}),
		WaterDetection: 1,
		Battery37V:     40,
		SignalStrength: 90,
		Battery12V:     12.5,
		DeviceStatus:   1,
		CarStatus:      1,
		ErrorCode:      0,
	}
}

func TestSinkDeliversExpectedPayloadShape(t *testing.T) {
	var mu sync.Mutex
	var gotSecret string
	var gotBody map[string]interface{}
	received := make(chan struct{}, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotSecret = r.Header.Get("X-Webhook-Secret")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
		received <- struct{}{}
	}))
	defer server.Close()

	sink := New(Config{URL: server.URL, Secret: "s3cret", QueueSize: 8, Workers: 1, Timeout: time.Second}, zap.NewNop().Sugar())
	defer sink.Close()

	sink.Enqueue(protocol.SerialFromBytes([]byte{1, 0, 0, 0, 0, 0, 0, 0}), testReport(1))

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if gotSecret != "s3cret" {
		t.Fatalf("X-Webhook-Secret = %q, want s3cret", gotSecret)
	}
	waterDetection, ok := gotBody["waterDetection"].(map[string]interface{})
	if !ok {
		t.Fatalf("waterDetection field missing or wrong shape: %v", gotBody)
	}
	if waterDetection["description"] != "有水" {
		t.Fatalf("waterDetection.description = %v, want 有水", waterDetection["description"])
	}

	delivered, failed, dropped := sink.Stats()
	if delivered != 1 || failed != 0 || dropped != 0 {
		t.Fatalf("stats = (%d, %d, %d), want (1, 0, 0)", delivered, failed, dropped)
	}
}

func TestSinkDropsOldestOnOverflow(t *testing.T) {
	block := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	sink := New(Config{URL: server.URL, Secret: "x", QueueSize: 2, Workers: 1, Timeout: 5 * time.Second}, zap.NewNop().Sugar())
	defer func() {
		close(block)
		sink.Close()
	}()

	// The first enqueue is picked up immediately by the single worker and
	// blocks on the handler; the next three fill/overflow the queue.
	for i := byte(0); i < 4; i++ {
		sink.Enqueue(protocol.SerialFromBytes([]byte{i, 0, 0, 0, 0, 0, 0, 0}), testReport(i))
		time.Sleep(10 * time.Millisecond)
	}

	_, _, dropped := sink.Stats()
	if dropped == 0 {
		t.Fatal("expected at least one report dropped under queue pressure")
	}
}
