package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/user/lanscope/internal/engine"
	"github.com/user/lanscope/internal/model"
	"github.com/user/lanscope/internal/speedtest"
	"github.com/user/lanscope/internal/traffic"
	"github.com/user/lanscope/internal/util"
)

type handlers struct {
	svc        *engine.Service
	monitorCtx context.Context
}

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	SpeedTestRunning bool                `json:"speedtest_running"`
	LastSpeed        *model.SpeedResult  `json:"last_speed,omitempty"`
	Devices          int                 `json:"devices"`
	LastScan         *time.Time          `json:"last_scan,omitempty"`
	Traffic          model.TrafficStatus `json:"traffic"`
}

// TrafficResponse is returned by GET /api/traffic.
type TrafficResponse struct {
	Status  model.TrafficStatus            `json:"status"`
	Records map[string]model.TrafficRecord `json:"records"`
	Error   string                         `json:"error,omitempty"`
}

func (h *handlers) network(c *gin.Context) {
	info, err := h.svc.NetworkInfo(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// devices returns the cached scan. ?refresh=true rescans first.
func (h *handlers) devices(c *gin.Context) {
	if c.Query("refresh") == "true" {
		devices, err := h.svc.ScanDevices(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, devices)
		return
	}
	c.JSON(http.StatusOK, h.svc.Devices())
}

func (h *handlers) speedTest(c *gin.Context) {
	result, err := h.svc.RunSpeedTest(c.Request.Context(), nil)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handlers) traffic(c *gin.Context) {
	data, err := h.svc.TrafficData()
	resp := TrafficResponse{Status: h.svc.TrafficStatus(), Records: data}
	if resp.Records == nil {
		resp.Records = map[string]model.TrafficRecord{}
	}
	if err != nil {
		resp.Error = err.Error()
		c.JSON(statusFor(err), resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) trafficStart(c *gin.Context) {
	h.svc.StartTrafficMonitoring(h.monitorCtx)
	c.JSON(http.StatusOK, h.svc.TrafficStatus())
}

func (h *handlers) trafficStop(c *gin.Context) {
	h.svc.StopTrafficMonitoring()
	c.JSON(http.StatusOK, h.svc.TrafficStatus())
}

func (h *handlers) status(c *gin.Context) {
	resp := StatusResponse{
		SpeedTestRunning: h.svc.SpeedTestRunning(),
		LastSpeed:        h.svc.LastSpeedResult(),
		Devices:          len(h.svc.Devices()),
		Traffic:          h.svc.TrafficStatus(),
	}
	if t := h.svc.LastScan(); !t.IsZero() {
		resp.LastScan = &t
	}
	c.JSON(http.StatusOK, resp)
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	var dae *traffic.DataAccessError
	switch {
	case errors.Is(err, speedtest.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.As(err, &dae), errors.Is(err, engine.ErrNoInterface):
		return http.StatusServiceUnavailable
	case errors.Is(err, speedtest.ErrPingFailed),
		errors.Is(err, speedtest.ErrDownloadFailed),
		errors.Is(err, speedtest.ErrUploadFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		util.Warn("API %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}
	body := gin.H{"error": err.Error()}
	var dae *traffic.DataAccessError
	if errors.As(err, &dae) {
		body["requires_elevated_privilege"] = dae.RequiresElevatedPrivilege
	}
	c.JSON(code, body)
}
