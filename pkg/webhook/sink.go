// Package webhook fans parsed heartbeat reports out to an external HTTP
// sink asynchronously, so a slow or unreachable webhook receiver never
// blocks a device's read path. Grounded on the teacher's pattern of
// fire-and-forget goroutines off the read path (HandleUSockMessage spawns
// acknowledgements inline but never blocks on them) and on the original
// Python's `threading.Thread(target=send_heartbeat_to_webhook, ...)` —
// generalized here into a bounded, drop-oldest queue drained by a fixed
// worker pool instead of one goroutine per report.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/parklock/gateway/internal/metrics"
	"github.com/parklock/gateway/pkg/protocol"
)

// Config controls sink behavior.
type Config struct {
	URL        string
	Secret     string
	QueueSize  int
	Workers    int
	Timeout    time.Duration
}

// DefaultConfig returns the recommended queue size, worker count and
// timeout from spec.md §4.6/§5.
func DefaultConfig(url, secret string) Config {
	return Config{
		URL:       url,
		Secret:    secret,
		QueueSize: 1024,
		Workers:   2,
		Timeout:   5 * time.Second,
	}
}

type delivery struct {
	serial protocol.SerialNumber
	report protocol.HeartbeatReport
}

// Sink is a bounded, drop-oldest delivery queue for heartbeat reports.
type Sink struct {
	cfg    Config
	client *http.Client
	log    *zap.SugaredLogger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []delivery
	closed bool

	dropped   atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64

	wg sync.WaitGroup
}

// New constructs a Sink and starts cfg.Workers delivery goroutines.
func New(cfg Config, log *zap.SugaredLogger) *Sink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	s := &Sink{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
	s.cond = sync.NewCond(&s.mu)
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	return s
}

// Enqueue adds a report for delivery. Never blocks: if the queue is at
// capacity, the oldest queued report is dropped (and a counter
// incremented) to make room for the newest — the read path is never
// blocked and the newest report, which is what downstream lock-status
// consumers actually want, is never the one dropped.
func (s *Sink) Enqueue(serial protocol.SerialNumber, report protocol.HeartbeatReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if len(s.queue) >= s.cfg.QueueSize {
		s.queue = s.queue[1:]
		s.dropped.Add(1)
		metrics.WebhookQueueDropped.Inc()
	}
	s.queue = append(s.queue, delivery{serial: serial, report: report})
	s.cond.Signal()
}

func (s *Sink) worker() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		d := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.deliver(d)
	}
}

func (s *Sink) deliver(d delivery) {
	if s.cfg.URL == "" {
		return
	}
	payload := projectReport(d.serial, d.report)
	body, err := json.Marshal(payload)
	if err != nil {
		s.failed.Add(1)
		metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		s.log.Errorw("failed to marshal webhook payload", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.URL, bytes.NewReader(body))
	if err != nil {
		s.failed.Add(1)
		metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		s.log.Errorw("failed to build webhook request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Secret", s.cfg.Secret)

	resp, err := s.client.Do(req)
	if err != nil {
		s.failed.Add(1)
		metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		s.log.Warnw("webhook delivery failed", "serial", d.serial.String(), "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		s.failed.Add(1)
		metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
		s.log.Warnw("webhook delivery rejected", "serial", d.serial.String(), "status", resp.StatusCode)
		return
	}
	s.delivered.Add(1)
	metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
}

// Stats returns delivered/failed/dropped counters for the metrics surface.
func (s *Sink) Stats() (delivered, failed, dropped int64) {
	return s.delivered.Load(), s.failed.Load(), s.dropped.Load()
}

// Close stops accepting new reports and waits for in-flight deliveries
// (not queued ones) to finish processing the current item; queued-but-
// undelivered reports are discarded.
func (s *Sink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()
	s.wg.Wait()
}

type statusField struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

type batteryField struct {
	V37 int     `json:"3.7v"`
	V12 float64 `json:"12v"`
}

type errorField struct {
	Code         int      `json:"code"`
	Descriptions []string `json:"descriptions"`
	HasError     bool     `json:"hasError"`
}

type groundSensorField struct {
	CurrentFrequency int `json:"currentFrequency"`
	NoCarBase        int `json:"noCarBase"`
	CarBase          int `json:"carBase"`
	CarRatio         int `json:"carRatio"`
	NoCarRatio       int `json:"noCarRatio"`
}

type waterDetectionField struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
}

// webhookPayload is the exact JSON projection spec.md §6.3 requires.
type webhookPayload struct {
	SerialNumber    string              `json:"serialNumber"`
	DeviceStatus    statusField         `json:"deviceStatus"`
	CarStatus       statusField         `json:"carStatus"`
	ControlStatus   statusField         `json:"controlStatus"`
	Battery         batteryField        `json:"battery"`
	SignalStrength  int                 `json:"signalStrength"`
	FlowNumber      int                 `json:"flowNumber"`
	Error           errorField          `json:"error"`
	GroundSensor    groundSensorField   `json:"groundSensor"`
	WaterDetection  waterDetectionField `json:"waterDetection"`
	LastHeartbeat   float64             `json:"lastHeartbeat"`
}

func projectReport(serial protocol.SerialNumber, r protocol.HeartbeatReport) webhookPayload {
	descriptions := r.Errors()
	if descriptions == nil {
		descriptions = []string{}
	}
	return webhookPayload{
		SerialNumber: serial.String(),
		DeviceStatus: statusField{Code: int(r.DeviceStatus), Description: r.DeviceStatusLabel()},
		CarStatus:    statusField{Code: int(r.CarStatus), Description: r.CarStatusLabel()},
		ControlStatus: statusField{Code: int(r.ControlStatus), Description: r.ControlStatusLabel()},
		Battery: batteryField{V37: int(r.Battery37V), V12: r.Battery12V},
		SignalStrength: int(r.SignalStrength),
		FlowNumber:     int(r.FlowNumber),
		Error: errorField{
			Code:         int(r.ErrorCode),
			Descriptions: descriptions,
			HasError:     r.ErrorCode > 0,
		},
		GroundSensor: groundSensorField{
			CurrentFrequency: int(r.CurrentFrequency),
			NoCarBase:        int(r.NoCarBase),
			CarBase:          int(r.CarBase),
			CarRatio:         int(r.CarRatio),
			NoCarRatio:       int(r.NoCarRatio),
		},
		WaterDetection: waterDetectionField{
			Code:        int(r.WaterDetection),
			Description: protocol.WaterDetectionLabel(r.WaterDetection),
		},
		LastHeartbeat: float64(time.Now().UnixNano()) / 1e9,
	}
}
