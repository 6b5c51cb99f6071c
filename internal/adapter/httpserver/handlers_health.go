package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/errgroup"

	"github.com/pscheid92/plantpulse/internal/platform/version"
)

const readinessProbeTimeout = 5 * time.Second

// HealthCheck is a named readiness check.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).Seconds(),
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

// handleReadiness runs every check concurrently under one deadline and reports
// all failures at once.
func (s *Server) handleReadiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), readinessProbeTimeout)
	defer cancel()

	var (
		mu     sync.Mutex
		failed = make(map[string]string)
		g      errgroup.Group
	)
	for _, hc := range s.healthChecks {
		g.Go(func() error {
			if err := hc.Check(ctx); err != nil {
				mu.Lock()
				failed[hc.Name] = err.Error()
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failed) > 0 {
		slog.WarnContext(ctx, "Readiness check failed", "failed_checks", failed)
		return writeReadiness(c, http.StatusServiceUnavailable, map[string]any{"status": "unhealthy", "failed_checks": failed})
	}
	return writeReadiness(c, http.StatusOK, map[string]any{"status": "ready"})
}

func writeReadiness(c echo.Context, status int, body map[string]any) error {
	if err := c.JSON(status, body); err != nil {
		return fmt.Errorf("failed to write readiness response: %w", err)
	}
	return nil
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
