package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func okProbe(name string, critical bool) Probe {
	return Probe{Name: name, Critical: critical, Check: func(ctx context.Context) error { return nil }}
}

func failProbe(name string, critical bool) Probe {
	return Probe{Name: name, Critical: critical, Check: func(ctx context.Context) error {
		return errors.New("connection refused")
	}}
}

func TestRunAllHealthy(t *testing.T) {
	checker := NewChecker("1.0.0")
	checker.AddProbe(okProbe("redis", true))
	checker.AddProbe(okProbe("evm-rpc", false))

	resp := checker.Run(context.Background())
	if resp.Status != StatusHealthy {
		t.Errorf("Status = %s, want %s", resp.Status, StatusHealthy)
	}
	if len(resp.Checks) != 2 {
		t.Fatalf("got %d checks, want 2", len(resp.Checks))
	}
	if resp.Version != "1.0.0" {
		t.Errorf("Version = %q, want 1.0.0", resp.Version)
	}
}

func TestRunCriticalFailureIsUnhealthy(t *testing.T) {
	checker := NewChecker("1.0.0")
	checker.AddProbe(failProbe("redis", true))
	checker.AddProbe(okProbe("evm-rpc", false))

	resp := checker.Run(context.Background())
	if resp.Status != StatusUnhealthy {
		t.Errorf("Status = %s, want %s", resp.Status, StatusUnhealthy)
	}
	for _, check := range resp.Checks {
		if check.Name == "redis" && check.Message == "" {
			t.Error("failing check should carry the error message")
		}
	}
}

func TestRunNonCriticalFailureIsDegraded(t *testing.T) {
	checker := NewChecker("1.0.0")
	checker.AddProbe(okProbe("redis", true))
	checker.AddProbe(failProbe("evm-rpc", false))

	resp := checker.Run(context.Background())
	if resp.Status != StatusDegraded {
		t.Errorf("Status = %s, want %s", resp.Status, StatusDegraded)
	}
}

func TestHealthHandlerAlwaysOK(t *testing.T) {
	checker := NewChecker("1.0.0")
	checker.AddProbe(failProbe("redis", true))

	router := gin.New()
	router.GET("/health", checker.HealthHandler)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestReadyHandler(t *testing.T) {
	tests := []struct {
		name       string
		probe      Probe
		wantCode   int
		wantStatus Status
	}{
		{"healthy", okProbe("redis", true), http.StatusOK, StatusHealthy},
		{"unhealthy", failProbe("redis", true), http.StatusServiceUnavailable, StatusUnhealthy},
		{"degraded", failProbe("evm-rpc", false), http.StatusServiceUnavailable, StatusDegraded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewChecker("1.0.0")
			checker.AddProbe(tt.probe)

			router := gin.New()
			router.GET("/ready", checker.ReadyHandler)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
			if w.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", w.Code, tt.wantCode)
			}

			var resp Response
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal body: %v", err)
			}
			if resp.Status != tt.wantStatus {
				t.Errorf("Status = %s, want %s", resp.Status, tt.wantStatus)
			}
		})
	}
}
