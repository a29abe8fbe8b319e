package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/FitQuest/backend/internal/api/http"
	"github.com/GriffinCanCode/FitQuest/backend/internal/api/middleware"
	"github.com/GriffinCanCode/FitQuest/backend/internal/api/ws"
	"github.com/GriffinCanCode/FitQuest/backend/internal/infrastructure/config"
	"github.com/GriffinCanCode/FitQuest/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/FitQuest/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/FitQuest/backend/internal/providers/direct"
	"github.com/GriffinCanCode/FitQuest/backend/internal/relay"
	"github.com/GriffinCanCode/FitQuest/backend/internal/sandbox"
)

// PathBridge is where the mobile shell connects its WebView.
const PathBridge = "/ws/sandbox"

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg      *config.Config
	logger   *zap.Logger
	router   *gin.Engine
	handler  http.Handler
	registry *prometheus.Registry
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
	relay    *relay.Relay
	direct   *direct.Client
	surface  *sandbox.Surface
	logs     *apihttp.LogBuffer
}

// New creates a server. When the embedded sandbox is enabled its page is
// loaded before New returns.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, logger: logger}

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = monitoring.NewMetrics(s.registry)
	s.tracer = tracing.New("fitquest-relay", logger.Named("trace"))
	s.logs = apihttp.NewLogBuffer(200, relay.ZapSink(logger.Named("relay.sandbox")))

	r, err := relay.New(relayConfig(cfg),
		relay.WithLogger(logger.Named("relay")),
		relay.WithObserver(s.metrics),
		relay.WithLogSink(s.logs.Sink()),
	)
	if err != nil {
		return nil, fmt.Errorf("relay: %w", err)
	}
	s.relay = r

	if cfg.Direct.Enabled {
		client, err := direct.New(directConfig(cfg),
			direct.WithLogger(logger.Named("direct")),
			direct.WithRecorder(s.metrics),
		)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("direct client: %w", err)
		}
		s.direct = client
		logger.Info("Direct fallback enabled", zap.String("base_url", cfg.Relay.BaseURL))
	}

	if cfg.Sandbox.Embedded {
		if err := s.startEmbedded(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}

	s.router = s.buildRouter()
	compressed := gzhttp.GzipHandler(s.router)
	s.handler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		// The bridge upgrade needs the raw connection.
		if req.URL.Path == PathBridge {
			s.router.ServeHTTP(w, req)
			return
		}
		compressed.ServeHTTP(w, req)
	})

	logger.Info("Server initialized",
		zap.Bool("embedded_sandbox", cfg.Sandbox.Embedded),
		zap.Bool("direct_fallback", cfg.Direct.Enabled),
		zap.Bool("optimistic_dispatch", cfg.Relay.OptimisticDispatch),
	)
	return s, nil
}

func relayConfig(cfg *config.Config) relay.Config {
	rc := relay.DefaultConfig()
	rc.Compiler.BaseURL = cfg.Relay.BaseURL
	if cfg.Relay.Namespace != "" {
		rc.Compiler.Namespace = cfg.Relay.Namespace
	}
	if cfg.Relay.Channel != "" {
		rc.Compiler.Channel = cfg.Relay.Channel
	}
	rc.Compiler.MaxFileBytes = cfg.Relay.MaxFileBytes
	rc.LoadTimeout = cfg.Relay.LoadTimeout
	rc.PollInterval = cfg.Relay.PollInterval
	rc.OptimisticDispatch = cfg.Relay.OptimisticDispatch
	return rc
}

func directConfig(cfg *config.Config) direct.Config {
	dc := direct.DefaultConfig()
	dc.Compiler = relayConfig(cfg).Compiler
	dc.Timeout = cfg.Direct.Timeout
	dc.RetryCount = cfg.Direct.RetryCount
	dc.RequestsPerSec = cfg.Direct.RequestsPerSec
	dc.Burst = cfg.Direct.Burst
	dc.BreakerFailures = cfg.Direct.BreakerFailures
	dc.BreakerTimeout = cfg.Direct.BreakerOpenDelay
	return dc
}

// startEmbedded runs the sandbox in-process: the surface is bound first so
// requests queue while the page loads.
func (s *Server) startEmbedded(ctx context.Context) error {
	origin := s.cfg.Sandbox.Origin
	if origin == "" {
		origin = s.cfg.Relay.BaseURL
	}
	surface, err := sandbox.New(sandbox.Config{
		Origin:         origin,
		Channel:        strings.TrimPrefix(s.cfg.Relay.Channel, "window."),
		ExecTimeout:    s.cfg.Sandbox.ExecTimeout,
		RequestTimeout: s.cfg.Sandbox.RequestTimeout,
		QueueSize:      s.cfg.Sandbox.QueueSize,
		EnableConsole:  true,
	}, s.relay.HandleMessage, sandbox.WithLogger(s.logger.Named("sandbox")))
	if err != nil {
		return fmt.Errorf("sandbox: %w", err)
	}
	s.surface = surface
	s.relay.Bind(surface)

	loadCtx, cancel := context.WithTimeout(ctx, s.cfg.Relay.LoadTimeout)
	defer cancel()
	if err := surface.Load(loadCtx, s.cfg.Sandbox.PageURL); err != nil {
		return fmt.Errorf("sandbox page: %w", err)
	}
	s.relay.MarkLoaded(true)
	s.logger.Info("Embedded sandbox ready", zap.String("origin", origin))
	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	if !s.cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.Recovery(s.logger))
	router.Use(tracing.HTTPMiddleware(s.tracer))
	router.Use(middleware.RequestLogger(s.logger.Named("http")))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(middleware.CORSForOrigins(s.cfg.Server.AllowedOrigins)))
	if s.cfg.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", s.cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: s.cfg.RateLimit.RequestsPerSecond,
			Burst:             s.cfg.RateLimit.Burst,
		}))
	}
	if rps := s.cfg.RateLimit.GlobalRequestsPerSecond; rps > 0 {
		burst := s.cfg.RateLimit.GlobalBurst
		if burst <= 0 {
			burst = rps
		}
		s.logger.Info("Global rate limit enabled", zap.Int("rps", rps), zap.Int("burst", burst))
		router.Use(middleware.GlobalRateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: rps,
			Burst:             burst,
		}))
	}

	var fallback apihttp.Fallback
	if s.direct != nil {
		fallback = s.direct
	}
	timeout := s.cfg.Relay.LoadTimeout + s.cfg.Sandbox.RequestTimeout
	handlers := apihttp.NewHandlers(s.relay, fallback, s.metrics, s.tracer, s.logger.Named("api"), timeout).
		WithLogBuffer(s.logs)
	handlers.Register(router)

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	if !s.cfg.Sandbox.Embedded {
		bridge := ws.NewHandler(s.relay, s.bridgeConfig(), s.logger.Named("bridge"), s.metrics)
		router.GET(PathBridge, bridge.HandleConnection)
	}
	return router
}

func (s *Server) bridgeConfig() ws.Config {
	cfg := ws.DefaultConfig()
	origins := s.cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		return cfg
	}
	cfg.CheckOrigin = func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// Native shells do not send an Origin header.
			return true
		}
		for _, o := range origins {
			if o == origin {
				return true
			}
		}
		return false
	}
	return cfg
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Relay returns the request relay.
func (s *Server) Relay() *relay.Relay {
	return s.relay
}

// Run serves on the configured address until ctx is cancelled, then shuts
// down within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Server.Host, s.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases the relay, the embedded sandbox and the tracer.
func (s *Server) Close() error {
	var errs []error
	if s.relay != nil {
		errs = append(errs, s.relay.Close())
	}
	if s.surface != nil {
		errs = append(errs, s.surface.Close())
	}
	if s.tracer != nil {
		s.tracer.Close()
	}
	_ = s.logger.Sync()
	return errors.Join(errs...)
}
