package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/runtime-priming/heap-primer/internal/primer/config"
	"github.com/runtime-priming/heap-primer/internal/primer/session"
)

func setupRouter(t *testing.T) (*gin.Engine, *session.Session) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	cfg.EstimatedHeapMB = 1024
	sess := session.New(cfg, nil)

	router := gin.New()
	NewHandler(sess).RegisterRoutes(router)
	return router, sess
}

func TestGetStatus(t *testing.T) {
	router, sess := setupRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var snap session.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if snap.RunID != sess.RunID() {
		t.Errorf("runId = %q, want %q", snap.RunID, sess.RunID())
	}
	if snap.Running {
		t.Error("running = true for idle session")
	}
}

func TestGetConfig(t *testing.T) {
	router, _ := setupRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp ConfigResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.EstimatedHeapMB != 1024 {
		t.Errorf("estimatedHeapMB = %d, want 1024", resp.EstimatedHeapMB)
	}
	if resp.AllocRateMBPerSec != 800 {
		t.Errorf("allocRateMBPerSec = %d, want 800", resp.AllocRateMBPerSec)
	}
	if resp.DeltaMB != 100 {
		t.Errorf("deltaMB = %d, want 100", resp.DeltaMB)
	}
}

func TestGetPercentiles(t *testing.T) {
	router, sess := setupRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/percentiles", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		RunID         string           `json:"runId"`
		Samples       int64            `json:"samples"`
		PercentilesNs map[string]int64 `json:"percentilesNs"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if resp.RunID != sess.RunID() {
		t.Errorf("runId = %q, want %q", resp.RunID, sess.RunID())
	}
	for _, key := range []string{"p50", "p90", "p99", "p999", "max"} {
		if _, ok := resp.PercentilesNs[key]; !ok {
			t.Errorf("percentilesNs missing %q", key)
		}
	}
}
