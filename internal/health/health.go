// Package health implements liveness and readiness checks for the
// facilitator service.
package health

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Check is the result of one probe.
type Check struct {
	Name    string `json:"name"`
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the aggregate health report.
type Response struct {
	Status  Status  `json:"status"`
	Checks  []Check `json:"checks"`
	Version string  `json:"version"`
}

// Probe is a named health check. A failing critical probe makes the
// service unhealthy; a failing non-critical probe only degrades it.
type Probe struct {
	Name     string
	Critical bool
	Check    func(ctx context.Context) error
}

// Checker runs probes concurrently and rolls their results up into a
// single status.
type Checker struct {
	version string
	probes  []Probe
}

func NewChecker(version string) *Checker {
	return &Checker{version: version}
}

func (c *Checker) AddProbe(p Probe) {
	c.probes = append(c.probes, p)
}

// Run executes all probes concurrently and aggregates the results.
func (c *Checker) Run(ctx context.Context) Response {
	checks := make([]Check, len(c.probes))

	var wg sync.WaitGroup
	for i, probe := range c.probes {
		wg.Add(1)
		go func(i int, probe Probe) {
			defer wg.Done()
			check := Check{Name: probe.Name, Status: StatusHealthy}
			if err := probe.Check(ctx); err != nil {
				check.Message = err.Error()
				if probe.Critical {
					check.Status = StatusUnhealthy
				} else {
					check.Status = StatusDegraded
				}
			}
			checks[i] = check
		}(i, probe)
	}
	wg.Wait()

	status := StatusHealthy
	for _, check := range checks {
		switch check.Status {
		case StatusUnhealthy:
			status = StatusUnhealthy
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}

	return Response{Status: status, Checks: checks, Version: c.version}
}

// HealthHandler reports liveness. It always returns 200; a process that
// can serve the request is alive.
func (c *Checker) HealthHandler(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": StatusHealthy, "version": c.version})
}

// ReadyHandler reports readiness. Probes run with a 5 second budget;
// anything short of healthy returns 503.
func (c *Checker) ReadyHandler(ctx *gin.Context) {
	runCtx, cancel := context.WithTimeout(ctx.Request.Context(), 5*time.Second)
	defer cancel()

	resp := c.Run(runCtx)
	code := http.StatusOK
	if resp.Status != StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	ctx.JSON(code, resp)
}
