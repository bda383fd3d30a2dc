package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthChecker probes one dependency.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// Probe is a named dependency check. Optional probes report their state
// without failing readiness (the cache degrades, it does not block).
type Probe struct {
	Name     string
	Checker  HealthChecker
	Required bool
}

// Healthz is the liveness handler: the process is up.
func Healthz() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// Readyz aggregates dependency probes. 503 when any required probe
// fails.
func Readyz(probes ...Probe) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		checks := make(map[string]string, len(probes))
		ready := true
		for _, p := range probes {
			if p.Checker == nil {
				checks[p.Name] = "disabled"
				continue
			}
			if err := p.Checker.Healthy(ctx); err != nil {
				checks[p.Name] = "error: " + err.Error()
				if p.Required {
					ready = false
				}
				continue
			}
			checks[p.Name] = "ok"
		}

		status := http.StatusOK
		state := "ready"
		if !ready {
			status = http.StatusServiceUnavailable
			state = "not ready"
		}
		c.JSON(status, gin.H{"status": state, "checks": checks})
	}
}
