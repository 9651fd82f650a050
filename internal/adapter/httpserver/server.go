package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ajith4Tech/rforum/internal/adapter/metrics"
	"github.com/ajith4Tech/rforum/internal/adapter/redis"
	"github.com/ajith4Tech/rforum/internal/domain"
	"github.com/ajith4Tech/rforum/internal/fanout"
	"github.com/ajith4Tech/rforum/internal/platform/config"
)

// InstanceLister reports the fan-out processes sharing the bus.
type InstanceLister interface {
	Active(ctx context.Context) ([]redis.InstanceInfo, error)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	hub       *fanout.Hub
	directory domain.ChannelDirectory
	instances InstanceLister

	limits   *ConnectionLimits
	upgrader websocket.Upgrader

	registry      *prometheus.Registry
	fanoutMetrics *metrics.FanoutMetrics
	httpMetrics   *metrics.HTTPMetrics

	healthChecks []HealthCheck
	startTime    time.Time
}

// NewServer wires the HTTP surface. directory and instances may be nil: without
// a directory every well-formed session code is accepted, without instances
// /api/instances reports only this process.
func NewServer(cfg *config.Config, hub *fanout.Hub, directory domain.ChannelDirectory, instances InstanceLister, reg *prometheus.Registry, fanoutMetrics *metrics.FanoutMetrics, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handleHTTPError
	e.IPExtractor = echo.ExtractIPFromXFFHeader()

	if fanoutMetrics == nil {
		fanoutMetrics = metrics.NewNopFanoutMetrics()
	}

	srv := &Server{
		echo:          e,
		config:        cfg,
		hub:           hub,
		directory:     directory,
		instances:     instances,
		limits:        NewConnectionLimits(int64(cfg.MaxWebSocketConnections), cfg.MaxConnectionsPerIP, cfg.ConnectionRatePerSecond, cfg.ConnectionRateBurst),
		registry:      reg,
		fanoutMetrics: fanoutMetrics,
		httpMetrics:   metrics.NewHTTPMetrics(reg),
		healthChecks:  healthChecks,
		startTime:     time.Now(),
	}

	checkOrigin := NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment())
	srv.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if checkOrigin(r) {
				return true
			}
			srv.fanoutMetrics.RejectedConnections.WithLabelValues(rejectOrigin).Inc()
			return false
		},
	}

	srv.registerRoutes()

	return srv
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests. Upgraded connections are hijacked and
// not tracked by echo; they are closed by the hub's own Shutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
