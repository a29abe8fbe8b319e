package direct

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/FitQuest/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/FitQuest/backend/internal/relay"
)

// CodeCircuitOpen marks envelopes refused by the open breaker.
const CodeCircuitOpen = "CIRCUIT_OPEN"

// CodeFileConversion matches the code the sandbox reports for unreadable files.
const CodeFileConversion = "FILE_CONVERSION_FAILED"

var errServerStatus = errors.New("upstream server error")

// Config configures the direct client.
type Config struct {
	Compiler        relay.CompilerConfig
	Timeout         time.Duration
	RetryCount      int
	RetryWait       time.Duration
	RetryMaxWait    time.Duration
	RequestsPerSec  float64 // <= 0 disables limiting
	Burst           int
	BreakerFailures uint32
	BreakerTimeout  time.Duration
	UserAgent       string
}

// DefaultConfig returns the fallback client defaults.
func DefaultConfig() Config {
	return Config{
		Compiler:        relay.DefaultCompilerConfig(),
		Timeout:         30 * time.Second,
		RetryCount:      2,
		RetryWait:       500 * time.Millisecond,
		RetryMaxWait:    5 * time.Second,
		RequestsPerSec:  10,
		Burst:           20,
		BreakerFailures: 5,
		BreakerTimeout:  30 * time.Second,
		UserAgent:       "FitQuestRelay/1.0",
	}
}

// Recorder receives per-call outcomes; monitoring implements it.
type Recorder interface {
	RecordDirectCall(outcome string, duration time.Duration)
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithRecorder registers a call recorder.
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithBreakerSettings overrides the breaker built from Config.
func WithBreakerSettings(s resilience.Settings) Option {
	return func(c *Client) { c.breaker = resilience.New("direct-fallback", s) }
}

// Client performs payloads directly against the backend, outside the
// sandbox. It has its own cookie jar, so it only reaches endpoints that do
// not depend on the sandbox session.
type Client struct {
	resty    *resty.Client
	limiter  *rate.Limiter
	breaker  *resilience.Breaker
	compiler *relay.Compiler
	log      *zap.Logger
	recorder Recorder
}

// New creates a direct client.
func New(cfg Config, opts ...Option) (*Client, error) {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RetryWait <= 0 {
		cfg.RetryWait = def.RetryWait
	}
	if cfg.RetryMaxWait < cfg.RetryWait {
		cfg.RetryMaxWait = cfg.RetryWait
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	compiler, err := relay.NewCompiler(cfg.Compiler)
	if err != nil {
		return nil, err
	}

	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil

	rc := resty.New().
		SetTransport(retryClient.HTTPClient.Transport).
		SetTimeout(cfg.Timeout).
		SetAllowGetMethodPayload(true).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(cfg.RetryWait).
		SetRetryMaxWaitTime(cfg.RetryMaxWait).
		AddRetryCondition(retryable).
		OnBeforeRequest(rewindParts).
		SetHeader("User-Agent", cfg.UserAgent)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSec), burst)
	}

	c := &Client{
		resty:    rc,
		limiter:  limiter,
		compiler: compiler,
		log:      zap.NewNop(),
	}
	failures := cfg.BreakerFailures
	c.breaker = resilience.New("direct-fallback", resilience.Settings{
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to resilience.State) {
			c.log.Warn("breaker state changed", zap.String("breaker", name),
				zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BreakerState reports the circuit breaker state.
func (c *Client) BreakerState() resilience.State {
	return c.breaker.State()
}

// Submit performs p and normalizes the response the same way sandbox
// responses are normalized. Like relay.Relay.Submit, the error is reserved
// for requests that never produced an outcome.
func (c *Client) Submit(ctx context.Context, p relay.Payload) (relay.Envelope, error) {
	start := time.Now()
	env, err := c.submit(ctx, p)

	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case !env.OK:
		outcome = env.Kind.String()
	}
	if c.recorder != nil {
		c.recorder.RecordDirectCall(outcome, time.Since(start))
	}
	c.log.Debug("direct call finished", zap.String("method", p.Method), zap.String("path", p.Path),
		zap.String("outcome", outcome), zap.Duration("elapsed", time.Since(start)))
	return env, err
}

func (c *Client) submit(ctx context.Context, p relay.Payload) (relay.Envelope, error) {
	d, err := c.compiler.Describe(p)
	if err != nil {
		return relay.Envelope{}, &relay.Error{Kind: relay.KindInvalidPayload, Op: "direct", ID: p.ID, Err: err}
	}

	req := c.resty.R()
	for _, h := range d.Headers {
		req.SetHeader(h.Name, h.Value)
	}
	if d.Transport == relay.TransportMultipart {
		readers, env, ok := attachParts(req, d)
		if !ok {
			return env, nil
		}
		req.SetContext(context.WithValue(ctx, partReadersKey{}, readers))
	} else {
		req.SetContext(ctx)
		if d.Body != nil {
			req.SetBody(*d.Body)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return relay.Envelope{}, fmt.Errorf("rate limit: %w", err)
	}

	resp, err := resilience.Call(c.breaker, func() (*resty.Response, error) {
		resp, err := req.Execute(d.Method, d.URL)
		if err == nil && resp.StatusCode() >= http.StatusInternalServerError {
			return resp, errServerStatus
		}
		return resp, err
	})
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		return relay.Failure(relay.KindTransport, http.StatusServiceUnavailable, CodeCircuitOpen,
			"direct fallback unavailable: "+err.Error()), nil
	case errors.Is(err, errServerStatus):
	case err != nil:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return relay.Envelope{}, ctxErr
		}
		return relay.Failure(relay.KindTransport, 0, "", err.Error()), nil
	}

	return classify(resp), nil
}

type partReadersKey struct{}

// attachParts adds the descriptor parts in order and returns their readers.
// It returns a failure envelope when a file cannot be decoded or exceeds the
// size cap.
func attachParts(req *resty.Request, d relay.Descriptor) ([]*bytes.Reader, relay.Envelope, bool) {
	fields := make([]*resty.MultipartField, 0, len(d.Parts))
	readers := make([]*bytes.Reader, 0, len(d.Parts))
	for _, part := range d.Parts {
		content := []byte(part.Content)
		if part.Kind == relay.PartFile {
			raw, err := base64.StdEncoding.DecodeString(part.Content)
			if err != nil {
				return nil, conversionFailure(part, "invalid base64 data"), false
			}
			if d.MaxFileBytes > 0 && int64(len(raw)) > d.MaxFileBytes {
				return nil, conversionFailure(part, fmt.Sprintf("file exceeds %d bytes", d.MaxFileBytes)), false
			}
			content = raw
		}
		r := bytes.NewReader(content)
		readers = append(readers, r)
		fields = append(fields, &resty.MultipartField{
			Param:       part.Field,
			FileName:    part.FileName,
			ContentType: part.MimeType,
			Reader:      r,
		})
	}
	req.SetMultipartFields(fields...)
	return readers, relay.Envelope{}, true
}

// rewindParts runs before every attempt. Resty rebuilds the multipart body
// from the same readers on retry, so they must start from zero each time.
func rewindParts(_ *resty.Client, r *resty.Request) error {
	readers, _ := r.Context().Value(partReadersKey{}).([]*bytes.Reader)
	for _, pr := range readers {
		if _, err := pr.Seek(0, io.SeekStart); err != nil {
			return err
		}
	}
	return nil
}

func conversionFailure(part relay.Part, reason string) relay.Envelope {
	name := part.OriginalName
	if name == "" {
		name = part.FileName
	}
	return relay.Failure(relay.KindDomain, 0, CodeFileConversion,
		fmt.Sprintf("failed to convert %s: %s", name, reason))
}

// classify turns a response into an envelope. HTML login pages served with a
// 2xx status are authentication failures.
func classify(resp *resty.Response) relay.Envelope {
	status := resp.StatusCode()
	body := resp.Body()
	contentType := strings.ToLower(resp.Header().Get("Content-Type"))

	if len(bytes.TrimSpace(body)) == 0 {
		return relay.Normalize(nil, status)
	}

	if strings.Contains(contentType, "text/html") || looksLikeHTML(body) {
		page := inspectHTML(toUTF8(body, contentType))
		if page.login && status < http.StatusBadRequest {
			return relay.Envelope{
				Kind:        relay.KindDomain,
				Status:      http.StatusUnauthorized,
				Code:        CodeAuthRequired,
				Message:     "authentication required",
				Description: page.title,
			}
		}
		return relay.Normalize(page.excerpt, status)
	}

	var raw any
	if err := sonic.Unmarshal(body, &raw); err != nil {
		return relay.Normalize(string(body), status)
	}
	return relay.Normalize(raw, status)
}

func retryable(r *resty.Response, err error) bool {
	if r == nil || r.Request == nil || !idempotent(r.Request.Method) {
		return false
	}
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}
	switch r.StatusCode() {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodPut, http.MethodDelete, http.MethodOptions:
		return true
	}
	return false
}
