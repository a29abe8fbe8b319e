package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/FitQuest/backend/internal/shared/id"
)

// Config configures a Relay.
type Config struct {
	Compiler     CompilerConfig
	LoadTimeout  time.Duration // how long a request waits for the page to load
	PollInterval time.Duration // how often the load flag is polled

	// OptimisticDispatch injects as soon as the page is loaded instead of
	// queueing until bridge-ready. A script injected before the bridge is
	// live can be lost, leaving its caller to its own context deadline.
	OptimisticDispatch bool
}

// DefaultConfig returns the production relay configuration.
func DefaultConfig() Config {
	return Config{
		Compiler:     DefaultCompilerConfig(),
		LoadTimeout:  10 * time.Second,
		PollInterval: 100 * time.Millisecond,
	}
}

// Observer receives relay events; monitoring implements it.
type Observer interface {
	RequestStarted(transport Transport)
	RequestFinished(transport Transport, outcome string, elapsed time.Duration)
	MessageRouted(kind MessageKind)
	QueueDepth(depth int)
	PendingCount(count int)
	SessionState(state State)
}

// LogSink receives side-channel log messages posted by the sandbox.
type LogSink func(Message)

// Option customizes a Relay.
type Option func(*Relay)

// WithClock injects the clock used for load polling.
func WithClock(c clockwork.Clock) Option {
	return func(r *Relay) { r.clock = c }
}

// WithLogger sets the relay logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Relay) { r.log = l }
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(r *Relay) { r.observer = o }
}

// WithLogSink replaces the default zap-backed sink for sandbox log messages.
func WithLogSink(s LogSink) Option {
	return func(r *Relay) { r.logSink = s }
}

// WithIDGenerator replaces the correlation id source.
func WithIDGenerator(next func() string) Option {
	return func(r *Relay) { r.nextID = next }
}

// Stats is a point-in-time view of the relay.
type Stats struct {
	State   string `json:"state"`
	Pending int    `json:"pending"`
	Queued  int    `json:"queued"`
}

// Relay executes requests inside the sandbox and correlates the responses.
type Relay struct {
	cfg      Config
	compiler *Compiler
	session  *Session
	pending  *correlator
	clock    clockwork.Clock
	log      *zap.Logger
	observer Observer
	logSink  LogSink
	nextID   func() string

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a relay with no handle bound.
func New(cfg Config, opts ...Option) (*Relay, error) {
	def := DefaultConfig()
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = def.LoadTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	compiler, err := NewCompiler(cfg.Compiler)
	if err != nil {
		return nil, err
	}
	cfg.Compiler = compiler.Config()

	r := &Relay{
		cfg:      cfg,
		compiler: compiler,
		session:  &Session{},
		pending:  newCorrelator(),
		clock:    clockwork.NewRealClock(),
		log:      zap.NewNop(),
		observer: nopObserver{},
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.nextID == nil {
		gen := id.NewGenerator()
		r.nextID = func() string { return gen.Correlation().String() }
	}
	if r.logSink == nil {
		r.logSink = ZapSink(r.log.Named("sandbox"))
	}
	return r, nil
}

// Compiler exposes the script compiler.
func (r *Relay) Compiler() *Compiler {
	return r.compiler
}

// Bind installs h as the live sandbox. Pending and queued requests survive and
// continue on the new handle.
func (r *Relay) Bind(h Handle) {
	r.session.Bind(h)
	r.log.Info("sandbox bound")
	r.observer.SessionState(r.session.State())
}

// Unbind drops h if it is still the live sandbox.
func (r *Relay) Unbind(h Handle) {
	if r.session.Unbind(h) {
		r.log.Info("sandbox unbound")
		r.observer.SessionState(StateUnbound)
	}
}

// MarkLoaded forwards the host's page-lifecycle signal. When the page is
// loaded and the bridge has not reported ready, a readiness probe is injected.
func (r *Relay) MarkLoaded(loaded bool) {
	probe := r.session.MarkLoaded(loaded)
	r.observer.SessionState(r.session.State())
	if probe == nil {
		return
	}
	if err := probe.InjectJavaScript(r.compiler.ReadinessProbe()); err != nil {
		r.log.Warn("readiness probe injection failed", zap.Error(err))
	}
}

func (r *Relay) IsAvailable() bool   { return r.session.IsAvailable() }
func (r *Relay) IsLoaded() bool      { return r.session.IsLoaded() }
func (r *Relay) IsBridgeReady() bool { return r.session.IsBridgeReady() }
func (r *Relay) State() State        { return r.session.State() }

// Stats reports the session state and the pending and queued counts.
func (r *Relay) Stats() Stats {
	pending, queued := r.pending.counts()
	return Stats{State: r.session.State().String(), Pending: pending, Queued: queued}
}

// Submit relays p through the sandbox and waits for its outcome.
//
// The returned error is non-nil only when the request never produced a
// response: no sandbox, load timeout, injection failure, cancellation or
// relay shutdown. Responses, including transport and domain failures, come
// back as an Envelope.
func (r *Relay) Submit(ctx context.Context, p Payload) (Envelope, error) {
	if !r.session.IsAvailable() {
		return Envelope{}, &Error{Kind: KindSandboxUnavailable, Op: "submit", ID: p.ID, Err: ErrSandboxUnavailable}
	}
	if p.ID == "" {
		p.ID = r.nextID()
	}

	script, err := r.compiler.Compile(p)
	if err != nil {
		return Envelope{}, &Error{Kind: KindInvalidPayload, Op: "compile", ID: p.ID, Err: err}
	}

	start := r.clock.Now()
	req, displaced := r.pending.register(p.ID, script.Transport, start)
	if displaced != nil {
		r.log.Warn("correlation id reused; older request displaced", zap.String("id", p.ID))
		displaced.done <- outcome{err: &Error{Kind: KindProtocol, Op: "submit", ID: p.ID, Message: "superseded by a request with the same id"}}
	}
	r.observer.RequestStarted(script.Transport)
	r.reportPending()

	go r.dispatch(req, script)

	var o outcome
	select {
	case o = <-req.done:
	case <-ctx.Done():
		if r.pending.remove(req) {
			o = outcome{err: ctx.Err()}
		} else {
			o = <-req.done
		}
	}

	r.observer.RequestFinished(script.Transport, outcomeLabel(o), r.clock.Since(start))
	r.reportPending()
	return o.env, o.err
}

// Call relays p and returns the response data, turning failure envelopes into
// errors.
func (r *Relay) Call(ctx context.Context, p Payload) (any, error) {
	env, err := r.Submit(ctx, p)
	if err != nil {
		return nil, err
	}
	if err := env.Err(); err != nil {
		return nil, err
	}
	return env.Data, nil
}

// Close fails every outstanding request and stops load polling.
func (r *Relay) Close() error {
	r.closeOnce.Do(func() {
		close(r.closed)
		n := r.pending.failAll(outcome{err: &Error{Kind: KindSandboxUnavailable, Op: "close", Message: "relay closed", Err: ErrSandboxUnavailable}})
		if n > 0 {
			r.log.Info("relay closed with pending requests", zap.Int("count", n))
		}
	})
	return nil
}

// dispatch walks one request through load wait, readiness gating and
// injection.
func (r *Relay) dispatch(req *pendingRequest, script Script) {
	if !r.session.IsLoaded() {
		if err := r.waitLoaded(req); err != nil {
			if r.pending.settleRequest(req, outcome{err: err}) {
				r.log.Warn("request failed waiting for sandbox", zap.String("id", req.id), zap.Error(err))
			}
			return
		}
	}

	if !r.cfg.OptimisticDispatch {
		queued, depth := r.pending.enqueueUnless(r.session.IsBridgeReady, queuedRequest{req: req, script: script})
		if queued {
			r.observer.QueueDepth(depth)
			r.log.Debug("request queued until bridge-ready", zap.String("id", req.id), zap.Int("depth", depth))
			return
		}
	}
	if !r.pending.isPending(req) {
		return
	}
	r.inject(req, script)
}

func (r *Relay) waitLoaded(req *pendingRequest) error {
	deadline := r.clock.Now().Add(r.cfg.LoadTimeout)
	for {
		if r.session.IsLoaded() {
			return nil
		}
		if !r.pending.isPending(req) {
			return errors.New("request no longer pending")
		}
		if !r.session.IsAvailable() {
			return &Error{Kind: KindSandboxUnavailable, Op: "wait", ID: req.id, Err: ErrSandboxUnavailable}
		}
		if !r.clock.Now().Before(deadline) {
			return &Error{Kind: KindLoadTimeout, Op: "wait", ID: req.id, Err: ErrLoadTimeout,
				Message: fmt.Sprintf("sandbox not loaded after %s", r.cfg.LoadTimeout)}
		}
		select {
		case <-r.clock.After(r.cfg.PollInterval):
		case <-r.closed:
			return &Error{Kind: KindSandboxUnavailable, Op: "wait", ID: req.id, Message: "relay closed", Err: ErrSandboxUnavailable}
		}
	}
}

func (r *Relay) inject(req *pendingRequest, script Script) {
	h := r.session.Handle()
	if h == nil {
		r.pending.settleRequest(req, outcome{err: &Error{Kind: KindSandboxUnavailable, Op: "inject", ID: req.id, Err: ErrSandboxUnavailable}})
		return
	}
	if err := h.InjectJavaScript(script.Text); err != nil {
		r.pending.settleRequest(req, outcome{err: &Error{Kind: KindInjection, Op: "inject", ID: req.id, Err: fmt.Errorf("%w: %v", ErrInjection, err)}})
		r.log.Warn("script injection failed", zap.String("id", req.id), zap.Error(err))
		return
	}
	r.log.Debug("script injected", zap.String("id", req.id), zap.Stringer("transport", script.Transport))
}

func (r *Relay) reportPending() {
	pending, queued := r.pending.counts()
	r.observer.PendingCount(pending)
	r.observer.QueueDepth(queued)
}

func outcomeLabel(o outcome) string {
	switch {
	case o.err != nil:
		if k := KindOf(o.err); k != 0 {
			return k.String()
		}
		if errors.Is(o.err, context.Canceled) || errors.Is(o.err, context.DeadlineExceeded) {
			return "canceled"
		}
		return "error"
	case o.env.OK:
		return "success"
	default:
		return o.env.Kind.String()
	}
}

type nopObserver struct{}

func (nopObserver) RequestStarted(Transport)                         {}
func (nopObserver) RequestFinished(Transport, string, time.Duration) {}
func (nopObserver) MessageRouted(MessageKind)                        {}
func (nopObserver) QueueDepth(int)                                   {}
func (nopObserver) PendingCount(int)                                 {}
func (nopObserver) SessionState(State)                               {}
