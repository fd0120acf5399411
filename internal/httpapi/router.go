// Package httpapi implements the operator-facing HTTP control plane: a
// thin gin-gonic JSON layer over the Gateway's registry and dispatcher.
// Grounded on the teacher's sibling examples' gin wiring (router groups,
// c.JSON(status, gin.H{...}) handlers, graceful http.Server shutdown) and
// enriched with gin-contrib middleware (requestid, gzip, zap access
// logging) observed elsewhere in the retrieved dependency surface.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-contrib/requestid"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/parklock/gateway/internal/gateway"
	"github.com/parklock/gateway/internal/metrics"
	"github.com/parklock/gateway/pkg/dispatcher"
	"github.com/parklock/gateway/pkg/protocol"
	"github.com/parklock/gateway/pkg/registry"
)

// NewRouter builds the gin engine serving every route in spec.md §6.2.
func NewRouter(gw *gateway.Gateway, log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New())
	router.Use(ginzap.Ginzap(log, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(log, true))
	router.Use(gzip.Gzip(gzip.DefaultCompression))

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	h := &handlers{gw: gw}
	router.GET("/status", h.status)
	router.GET("/devices", h.devices)
	router.GET("/device_status/:serial", h.deviceStatus)
	router.GET("/device_statuses", h.deviceStatuses)
	router.POST("/open_lock", h.openLock)
	router.POST("/close_lock", h.closeLock)
	router.POST("/set_state", h.setState)
	router.POST("/restart_device", h.restartDevice)
	router.POST("/sync_time", h.syncTime)
	router.POST("/start_server", h.startServer)
	router.POST("/stop_server", h.stopServer)

	return router
}

type handlers struct {
	gw *gateway.Gateway
}

func (h *handlers) status(c *gin.Context) {
	delivered, failed, dropped := h.gw.WebhookStats()
	c.JSON(http.StatusOK, gin.H{
		"devicesConnected": h.gw.DeviceCount(),
		"webhook": gin.H{
			"delivered": delivered,
			"failed":    failed,
			"dropped":   dropped,
		},
	})
}

func (h *handlers) devices(c *gin.Context) {
	snapshot := h.gw.Registry().Snapshot()
	serials := make([]string, 0, len(snapshot))
	for _, e := range snapshot {
		serials = append(serials, e.Serial.String())
	}
	c.JSON(http.StatusOK, gin.H{"devices": serials})
}

func (h *handlers) deviceStatuses(c *gin.Context) {
	snapshot := h.gw.Registry().Snapshot()
	out := make([]gin.H, 0, len(snapshot))
	for _, e := range snapshot {
		out = append(out, entryJSON(e))
	}
	c.JSON(http.StatusOK, gin.H{"devices": out})
}

func (h *handlers) deviceStatus(c *gin.Context) {
	serial, err := protocol.ParseSerialHex(c.Param("serial"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid serial number"})
		return
	}
	for _, e := range h.gw.Registry().Snapshot() {
		if e.Serial == serial {
			c.JSON(http.StatusOK, entryJSON(e))
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "device not connected"})
}

func entryJSON(e registry.Entry) gin.H {
	body := gin.H{
		"serial":        e.Serial.String(),
		"address":       e.Address,
		"lastHeartbeat": e.LastHeartbeat.Unix(),
	}
	if e.LastReport != nil {
		r := e.LastReport
		body["report"] = gin.H{
			"deviceStatus":  gin.H{"code": r.DeviceStatus, "description": r.DeviceStatusLabel()},
			"carStatus":     gin.H{"code": r.CarStatus, "description": r.CarStatusLabel()},
			"controlStatus": gin.H{"code": r.ControlStatus, "description": r.ControlStatusLabel()},
			"battery37v":    r.Battery37V,
			"battery12v":    r.Battery12V,
			"errors":        r.Errors(),
		}
	}
	return body
}

type openLockRequest struct {
	Serial string `json:"deviceSerial" binding:"required"`
}

func (h *handlers) openLock(c *gin.Context) {
	var req openLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	serial, err := protocol.ParseSerialHex(req.Serial)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid serial number"})
		return
	}
	if err := h.gw.Dispatcher().OpenLock(serial); err != nil {
		respondDispatchError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

func (h *handlers) closeLock(c *gin.Context) {
	var req openLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	serial, err := protocol.ParseSerialHex(req.Serial)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid serial number"})
		return
	}
	if err := h.gw.Dispatcher().CloseLock(serial); err != nil {
		respondDispatchError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

// setStateRequest's State is numeric (0=normal, 1=hold_open, 2=hold_close)
// per spec.md §6.2/§8 scenario 4 and the original parking_lock_api.py's
// `data.get('state', 0)`.
type setStateRequest struct {
	Serial string `json:"deviceSerial" binding:"required"`
	State  *int   `json:"state" binding:"required"`
}

func (h *handlers) setState(c *gin.Context) {
	var req setStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	serial, err := protocol.ParseSerialHex(req.Serial)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid serial number"})
		return
	}
	var state dispatcher.LockState
	switch *req.State {
	case 0:
		state = dispatcher.LockStateNormal
	case 1:
		state = dispatcher.LockStateHoldOpen
	case 2:
		state = dispatcher.LockStateHoldClose
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "state must be one of: 0 (normal), 1 (hold_open), 2 (hold_close)"})
		return
	}
	if err := h.gw.Dispatcher().SetState(serial, state); err != nil {
		respondDispatchError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

func (h *handlers) restartDevice(c *gin.Context) {
	var req openLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	serial, err := protocol.ParseSerialHex(req.Serial)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid serial number"})
		return
	}
	if err := h.gw.Dispatcher().Restart(serial); err != nil {
		respondDispatchError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

func (h *handlers) syncTime(c *gin.Context) {
	var req openLockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	serial, err := protocol.ParseSerialHex(req.Serial)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid serial number"})
		return
	}
	if err := h.gw.Dispatcher().SyncTime(serial); err != nil {
		respondDispatchError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
}

// startServer and stopServer mirror the original Python CLI's
// start_server/stop_server commands, which toggled the TCP listener
// without restarting the whole process. Only the device-facing listener
// is affected; the HTTP facade itself stays up so operators can still
// restart the listener afterward.
func (h *handlers) startServer(c *gin.Context) {
	if h.gw.IsRunning() {
		c.JSON(http.StatusOK, gin.H{"status": "already running"})
		return
	}
	if err := h.gw.StartDeviceListener(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "started"})
}

func (h *handlers) stopServer(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	if err := h.gw.StopDeviceListener(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "stopped"})
}

func respondDispatchError(c *gin.Context, err error) {
	if err == dispatcher.ErrNotConnected {
		c.JSON(http.StatusNotFound, gin.H{"error": "device not connected"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
