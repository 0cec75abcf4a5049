package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Checker reports whether one dependency is usable.
type Checker func(ctx context.Context) error

// HealthHandler provides liveness and readiness endpoints.
type HealthHandler struct {
	checks  map[string]Checker
	timeout time.Duration
}

// NewHealthHandler creates a handler running checks on readiness requests.
func NewHealthHandler(checks map[string]Checker) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 3 * time.Second}
}

// LivenessCheck handles GET /live. It never touches dependencies.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// ReadinessCheck handles GET /ready.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	results := h.performChecks(c.Request.Context())
	status, httpStatus := "ready", http.StatusOK
	for _, r := range results {
		if r != "ok" {
			status, httpStatus = "not_ready", http.StatusServiceUnavailable
			break
		}
	}
	c.JSON(httpStatus, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"checks":    results,
	})
}

func (h *HealthHandler) performChecks(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = make(map[string]string, len(h.checks))
	)
	for name, check := range h.checks {
		wg.Add(1)
		go func(name string, check Checker) {
			defer wg.Done()
			status := "ok"
			if err := check(ctx); err != nil {
				status = "error: " + err.Error()
			}
			mu.Lock()
			results[name] = status
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()
	return results
}
