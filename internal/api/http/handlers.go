package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/FitQuest/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/FitQuest/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/FitQuest/backend/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/FitQuest/backend/internal/relay"
)

// Paths a relayed payload can take.
const (
	PathSandbox = "sandbox"
	PathDirect  = "direct"
)

// Fallback performs payloads when no sandbox is bound.
type Fallback interface {
	Submit(ctx context.Context, p relay.Payload) (relay.Envelope, error)
	BreakerState() resilience.State
}

// Handlers contains all HTTP handlers
type Handlers struct {
	relay    *relay.Relay
	fallback Fallback
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
	logs     *LogBuffer
	log      *zap.Logger
	timeout  time.Duration
	started  time.Time
}

// NewHandlers creates a new handler set. fallback and metrics may be nil.
func NewHandlers(r *relay.Relay, fallback Fallback, metrics *monitoring.Metrics, tracer *tracing.Tracer, log *zap.Logger, timeout time.Duration) *Handlers {
	if timeout <= 0 {
		timeout = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	if tracer == nil {
		tracer = tracing.New("fitquest-relay", log)
	}
	return &Handlers{
		relay:    r,
		fallback: fallback,
		metrics:  metrics,
		tracer:   tracer,
		log:      log,
		timeout:  timeout,
		started:  time.Now(),
	}
}

// Register mounts the API routes on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)
	r.GET("/metrics/json", h.MetricsJSON)

	v1 := r.Group("/api/v1")
	v1.POST("/relay", h.Relay)
	v1.GET("/sandbox", h.SandboxStatus)
	v1.GET("/sandbox/logs", h.GetSandboxLogs)
}

// RelayResponse is the body returned for a relayed payload.
type RelayResponse struct {
	relay.Envelope
	Kind string `json:"kind,omitempty"`
	Path string `json:"path"`
	ID   string `json:"id,omitempty"`
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "FitQuest sandbox relay",
		"version": "1.0.0",
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	body := gin.H{
		"status":         "healthy",
		"sandbox":        h.relay.Stats(),
		"uptime_seconds": time.Since(h.started).Seconds(),
	}
	if h.fallback != nil {
		body["fallback"] = gin.H{"breaker": h.fallback.BreakerState().String()}
	}
	c.JSON(http.StatusOK, body)
}

// WithLogBuffer exposes buf through GetSandboxLogs.
func (h *Handlers) WithLogBuffer(buf *LogBuffer) *Handlers {
	h.logs = buf
	return h
}

// SandboxStatus reports the session state and request counts.
func (h *Handlers) SandboxStatus(c *gin.Context) {
	stats := h.relay.Stats()
	c.JSON(http.StatusOK, gin.H{
		"state":        stats.State,
		"available":    h.relay.IsAvailable(),
		"loaded":       h.relay.IsLoaded(),
		"bridge_ready": h.relay.IsBridgeReady(),
		"pending":      stats.Pending,
		"queued":       stats.Queued,
	})
}

// MetricsJSON returns the metrics snapshot.
func (h *Handlers) MetricsJSON(c *gin.Context) {
	if h.metrics == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "metrics disabled"})
		return
	}
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

// Relay submits a payload through the sandbox, or through the fallback when
// no sandbox is bound. Settled outcomes, including failures reported by the
// backend, are returned with 200; the HTTP status only reflects requests that
// never produced an outcome.
func (h *Handlers) Relay(c *gin.Context) {
	var p relay.Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload: " + err.Error()})
		return
	}
	if err := p.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	path := PathSandbox
	if !h.relay.IsAvailable() && h.fallback != nil {
		path = PathDirect
	}

	span, ctx := h.tracer.StartSpan(ctx, "relay.submit")
	span.SetTag("relay.path", path)
	span.SetTag("relay.transport", relay.SelectTransport(p).String())
	defer h.tracer.Finish(span)
	log := tracing.Logger(ctx, h.log)

	var (
		env relay.Envelope
		err error
	)
	if path == PathDirect {
		env, err = h.fallback.Submit(ctx, p)
	} else {
		env, err = h.relay.Submit(ctx, p)
	}

	if err != nil {
		span.SetError(err)
		status, kind := errorStatus(err)
		log.Warn("relay request failed", zap.String("path", path), zap.String("kind", kind), zap.Error(err))
		c.JSON(status, gin.H{"success": false, "kind": kind, "error": err.Error(), "path": path})
		return
	}

	resp := RelayResponse{Envelope: env, Path: path, ID: p.ID}
	if !env.OK {
		resp.Kind = env.Kind.String()
		span.SetTag("relay.outcome", resp.Kind)
	}
	log.Debug("relay request settled", zap.String("path", path), zap.Bool("ok", env.OK), zap.Int("status", env.Status))
	c.JSON(http.StatusOK, resp)
}

func errorStatus(err error) (int, string) {
	switch kind := relay.KindOf(err); kind {
	case relay.KindInvalidPayload:
		return http.StatusBadRequest, kind.String()
	case relay.KindSandboxUnavailable:
		return http.StatusServiceUnavailable, kind.String()
	case relay.KindLoadTimeout:
		return http.StatusGatewayTimeout, kind.String()
	case relay.KindInjection:
		return http.StatusBadGateway, kind.String()
	case relay.KindProtocol:
		return http.StatusConflict, kind.String()
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return 499, "canceled"
	}
	return http.StatusInternalServerError, "error"
}
