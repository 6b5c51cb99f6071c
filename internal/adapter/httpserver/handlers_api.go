package httpserver

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

func (s *Server) registerAPIRoutes() {
	api := s.echo.Group("/api")

	api.GET("/furnaces", list(s.app.Furnaces))
	api.GET("/furnaces/:id", byID(s.app.Furnace))
	api.GET("/sensors", list(s.app.Sensors))
	api.GET("/sensors/:id", byID(s.app.Sensor))
	api.GET("/alerts", list(s.app.Alerts))
	api.POST("/alerts/:id/acknowledge", byID(s.app.AcknowledgeAlert))
	api.GET("/production-metrics", list(s.app.ProductionMetrics))
	api.GET("/predictions", list(s.app.Predictions))
	api.GET("/cameras", list(s.app.CameraFeeds))
	api.GET("/kpis", list(s.app.KPIs))
	api.GET("/hotspots", list(s.app.Hotspots))
}

// list serves a collection read. Query parameters such as a time range are
// accepted and ignored.
func list[T any](fetch func(ctx context.Context) ([]T, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		items, err := fetch(c.Request().Context())
		if err != nil {
			return classify(err).WithField("path", c.Path())
		}
		return writeJSON(c, items)
	}
}

func byID[T any](fetch func(ctx context.Context, id string) (T, error)) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Param("id")
		item, err := fetch(c.Request().Context(), id)
		if err != nil {
			return classify(err).WithField("id", id)
		}
		return writeJSON(c, item)
	}
}

func writeJSON(c echo.Context, body any) error {
	if err := c.JSON(http.StatusOK, body); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
