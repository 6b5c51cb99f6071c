package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pscheid92/plantpulse/internal/adapter/metrics"
	"github.com/pscheid92/plantpulse/internal/domain"
	"github.com/pscheid92/plantpulse/internal/platform/config"
)

type dashboardService interface {
	Furnaces(ctx context.Context) ([]domain.Furnace, error)
	Furnace(ctx context.Context, id string) (domain.Furnace, error)
	Sensors(ctx context.Context) ([]domain.Sensor, error)
	Sensor(ctx context.Context, id string) (domain.Sensor, error)
	Alerts(ctx context.Context) ([]domain.Alert, error)
	AcknowledgeAlert(ctx context.Context, id string) (domain.Alert, error)
	ProductionMetrics(ctx context.Context) ([]domain.ProductionMetric, error)
	Predictions(ctx context.Context) ([]domain.Prediction, error)
	CameraFeeds(ctx context.Context) ([]domain.CameraFeed, error)
	KPIs(ctx context.Context) ([]domain.KPI, error)
	Hotspots(ctx context.Context) ([]domain.Hotspot, error)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	app              dashboardService
	websocketHandler http.Handler
	metricsHandler   http.Handler
	httpMetrics      *metrics.HTTPMetrics

	healthChecks []HealthCheck
	startTime    time.Time
}

func NewServer(cfg *config.Config, app dashboardService, websocketHandler, metricsHandler http.Handler, httpMetrics *metrics.HTTPMetrics, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:             e,
		config:           cfg,
		app:              app,
		websocketHandler: websocketHandler,
		metricsHandler:   metricsHandler,
		httpMetrics:      httpMetrics,
		healthChecks:     healthChecks,
		startTime:        time.Now(),
	}

	srv.registerRoutes()

	return srv
}

// ServeHTTP lets tests drive the full middleware chain.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
