// Package api provides HTTP handlers for observing a priming run.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/runtime-priming/heap-primer/internal/primer/session"
)

// Handler provides HTTP handlers for the heap-primer observation API.
type Handler struct {
	session *session.Session
}

// NewHandler creates a new Handler for the given session.
func NewHandler(s *session.Session) *Handler {
	return &Handler{session: s}
}

// ConfigResponse represents the session configuration.
type ConfigResponse struct {
	Verbose           bool   `json:"verbose"`
	SecondPass        bool   `json:"secondPass"`
	EstimatedHeapMB   int    `json:"estimatedHeapMB"`
	UnitArrayLen      int    `json:"unitArrayLen"`
	DeltaMB           int    `json:"deltaMB"`
	SecondPassDeltaMB int    `json:"secondPassDeltaMB"`
	AllocRateMBPerSec int    `json:"allocRateMBPerSec"`
	PostPrimingDelay  string `json:"postPrimingDelay"`
	SettleDelay       string `json:"settleDelay"`
	LogFile           string `json:"logFile,omitempty"`
}

// GetStatus handles GET /api/v1/status
func (h *Handler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.GetSnapshot())
}

// GetConfig handles GET /api/v1/config
func (h *Handler) GetConfig(c *gin.Context) {
	cfg := h.session.Config()
	c.JSON(http.StatusOK, ConfigResponse{
		Verbose:           cfg.Verbose,
		SecondPass:        cfg.SecondPass,
		EstimatedHeapMB:   cfg.EstimatedHeapMB,
		UnitArrayLen:      cfg.UnitArrayLen,
		DeltaMB:           cfg.DeltaMB,
		SecondPassDeltaMB: cfg.SecondPassDeltaMB,
		AllocRateMBPerSec: cfg.AllocRateMBPerSec,
		PostPrimingDelay:  cfg.PostPrimingDelay.String(),
		SettleDelay:       cfg.SettleDelay.String(),
		LogFile:           cfg.LogFile,
	})
}

// GetPercentiles handles GET /api/v1/percentiles - a snapshot of the
// in-flight latency distribution, refreshed at block boundaries.
func (h *Handler) GetPercentiles(c *gin.Context) {
	snap := h.session.GetSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"runId":   snap.RunID,
		"pass":    snap.Pass,
		"samples": snap.Samples,
		"percentilesNs": gin.H{
			"p50":  snap.P50,
			"p90":  snap.P90,
			"p99":  snap.P99,
			"p999": snap.P999,
			"max":  snap.Max,
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// RegisterRoutes registers all heap-primer API routes.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.GET("/status", h.GetStatus)
		api.GET("/config", h.GetConfig)
		api.GET("/percentiles", h.GetPercentiles)
	}
}
