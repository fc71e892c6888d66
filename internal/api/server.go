// Package api exposes positions, statistics, health and the live alert
// feed over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"trading-screener/internal/feed"
	"trading-screener/internal/metrics"
	"trading-screener/internal/model"
	"trading-screener/internal/report"
)

// Config holds HTTP server settings.
type Config struct {
	Addr            string        `yaml:"addr" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
}

// Stats computes performance statistics.
type Stats interface {
	Summary(ctx context.Context, strategyID string, since time.Time) (report.Summary, error)
}

// StrategyInfo is the public description of a configured strategy.
type StrategyInfo struct {
	ID          string   `json:"id"`
	Kind        string   `json:"kind"`
	Direction   string   `json:"direction,omitempty"`
	Description string   `json:"description,omitempty"`
	Schedule    []string `json:"schedule,omitempty"`
	TopN        int      `json:"top_n"`
	Horizon     string   `json:"horizon"`
}

// Deps are the services the handlers read from. Feed, Runs and Gatherer
// are optional.
type Deps struct {
	Positions  model.PositionStore
	Runs       model.RunJournal
	Stats      Stats
	Strategies []StrategyInfo
	Health     *metrics.HealthStatus
	Feed       *feed.Hub
	Gatherer   prometheus.Gatherer
}

// Server wraps the echo instance.
type Server struct {
	echo *echo.Echo
	cfg  Config
	log  *slog.Logger
}

// NewServer builds the router.
func NewServer(cfg Config, d Deps, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "api"))

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			log.Debug("http request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
			)
			return nil
		},
	}))

	h := &handlers{d: d, log: log}
	g := e.Group("/api/v1")
	g.GET("/health", h.health)
	g.GET("/positions", h.positions)
	g.GET("/positions/:id", h.position)
	g.GET("/stats", h.stats)
	g.GET("/strategies", h.strategies)
	g.GET("/runs", h.runs)

	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	if d.Feed != nil {
		e.GET("/ws", h.ws)
	}

	return &Server{echo: e, cfg: cfg, log: log}
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.echo }

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", slog.String("addr", s.cfg.Addr))
		if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	sctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.echo.Shutdown(sctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	s.log.Info("http server stopped")
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}
