package sandbox

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Surface is an in-process browser page backed by a goja VM.
//
// The VM is owned by a single event-loop goroutine. Injected scripts, network
// completions and timers are all turns on that loop, so page code never runs
// concurrently with itself. Posted messages leave through an outbox goroutine
// and reach the sink in posting order.
type Surface struct {
	vm     *goja.Runtime
	config Config
	log    *zap.Logger

	sink MessageSink

	client    *resty.Client // carries the page cookie jar
	anonymous *resty.Client // credentials: 'omit'

	originMu sync.RWMutex
	origin   *url.URL

	jobs   chan func()
	outbox chan string

	// Loop-owned timer state
	timers    map[int64]*time.Timer
	nextTimer int64

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Option customizes a Surface.
type Option func(*Surface)

// WithLogger sets the surface logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Surface) { s.log = l }
}

// New creates a surface and starts its event loop. A nil sink drops posted
// messages.
func New(config Config, sink MessageSink, opts ...Option) (*Surface, error) {
	def := DefaultConfig()
	if config.Channel == "" {
		config.Channel = def.Channel
	}
	if config.ExecTimeout <= 0 {
		config.ExecTimeout = def.ExecTimeout
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = def.RequestTimeout
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.UserAgent == "" {
		config.UserAgent = def.UserAgent
	}

	var origin *url.URL
	if config.Origin != "" {
		u, err := url.Parse(config.Origin)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("invalid sandbox origin %q", config.Origin)
		}
		origin = u
	}

	client, err := newPageClient(config)
	if err != nil {
		return nil, err
	}

	s := &Surface{
		vm:        goja.New(),
		config:    config,
		log:       zap.NewNop(),
		sink:      sink,
		client:    client,
		anonymous: newAnonymousClient(config),
		origin:    origin,
		jobs:      make(chan func(), config.QueueSize),
		outbox:    make(chan string, config.QueueSize),
		timers:    make(map[int64]*time.Timer),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.vm.SetMaxCallStackSize(1024)
	if err := s.setupGlobals(); err != nil {
		return nil, err
	}

	s.wg.Add(2)
	go s.loop()
	go s.deliver()
	return s, nil
}

// InjectJavaScript queues script for evaluation and returns without waiting
// for it to run.
func (s *Surface) InjectJavaScript(script string) error {
	job := func() {
		if _, err := s.vm.RunString(script); err != nil {
			s.log.Warn("injected script failed", zap.Error(err))
		}
	}
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	select {
	case s.jobs <- job:
		return nil
	case <-s.done:
		return ErrClosed
	default:
		return ErrQueueFull
	}
}

// Load primes the page: it fetches pageURL with the page's cookie jar so any
// session cookies it sets apply to later requests, and records the page as
// the document location.
func (s *Surface) Load(ctx context.Context, pageURL string) error {
	if pageURL == "" {
		return nil
	}
	u, err := s.resolve(pageURL)
	if err != nil {
		return err
	}
	resp, err := s.client.R().SetContext(ctx).Get(u.String())
	if err != nil {
		return fmt.Errorf("load %s: %w", u.Redacted(), err)
	}
	if resp.StatusCode() >= http.StatusBadRequest {
		return fmt.Errorf("load %s: status %d", u.Redacted(), resp.StatusCode())
	}

	done := make(chan struct{})
	if !s.post(func() { s.setLocation(u); close(done) }) {
		return ErrClosed
	}
	select {
	case <-done:
	case <-s.done:
		return ErrClosed
	}
	s.log.Info("sandbox page loaded", zap.String("url", u.Redacted()), zap.Int("status", resp.StatusCode()))
	return nil
}

// Close stops the loop. Queued turns are discarded.
func (s *Surface) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.vm.Interrupt("sandbox closed")
		s.wg.Wait()
	})
	return nil
}

func (s *Surface) loop() {
	defer s.wg.Done()
	defer s.stopTimers()
	for {
		select {
		case job := <-s.jobs:
			s.turn(job)
		case <-s.done:
			return
		}
	}
}

// turn runs one job with the execution budget armed.
func (s *Surface) turn(job func()) {
	timer := time.AfterFunc(s.config.ExecTimeout, func() {
		s.vm.Interrupt("execution timeout exceeded")
	})
	defer func() {
		timer.Stop()
		s.vm.ClearInterrupt()
		if r := recover(); r != nil {
			s.log.Error("sandbox turn panicked", zap.Any("panic", r))
		}
	}()
	job()
}

func (s *Surface) deliver() {
	defer s.wg.Done()
	for {
		select {
		case msg := <-s.outbox:
			if s.sink != nil {
				s.sink(msg)
			}
		case <-s.done:
			return
		}
	}
}

// post schedules a job from outside the loop, waiting for queue space.
func (s *Surface) post(job func()) bool {
	select {
	case s.jobs <- job:
		return true
	case <-s.done:
		return false
	}
}

// setupGlobals configures global objects and security
func (s *Surface) setupGlobals() error {
	vm := s.vm

	// Remove dangerous globals
	for _, name := range []string{"require", "process", "module", "exports"} {
		if err := vm.Set(name, goja.Undefined()); err != nil {
			return err
		}
	}

	global := vm.GlobalObject()
	for _, name := range []string{"window", "self", "globalThis"} {
		if err := global.Set(name, global); err != nil {
			return err
		}
	}

	channel := vm.NewObject()
	if err := channel.Set("postMessage", s.postMessage); err != nil {
		return err
	}
	if err := global.Set(s.config.Channel, channel); err != nil {
		return err
	}

	navigator := vm.NewObject()
	_ = navigator.Set("userAgent", s.config.UserAgent)
	_ = global.Set("navigator", navigator)
	s.setLocation(s.origin)

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(level, s.makeConsoleFunc(level)); err != nil {
			return err
		}
	}
	if err := vm.Set("console", console); err != nil {
		return err
	}

	if err := vm.Set("setTimeout", s.setTimeout); err != nil {
		return err
	}
	if err := vm.Set("clearTimeout", s.clearTimeout); err != nil {
		return err
	}

	if err := s.installEncoding(); err != nil {
		return err
	}
	if err := s.installBlob(); err != nil {
		return err
	}
	if err := s.installFormData(); err != nil {
		return err
	}
	if err := s.installFetch(); err != nil {
		return err
	}
	return s.installXHR()
}

func (s *Surface) setLocation(u *url.URL) {
	location := s.vm.NewObject()
	if u != nil {
		_ = location.Set("href", u.String())
		_ = location.Set("origin", u.Scheme+"://"+u.Host)
		_ = location.Set("host", u.Host)
		_ = location.Set("pathname", u.EscapedPath())
		s.originMu.Lock()
		s.origin = u
		s.originMu.Unlock()
	}
	_ = s.vm.GlobalObject().Set("location", location)
}

func (s *Surface) postMessage(call goja.FunctionCall) goja.Value {
	msg := call.Argument(0)
	var text string
	if !goja.IsUndefined(msg) && !goja.IsNull(msg) {
		text = msg.String()
	}
	select {
	case s.outbox <- text:
	case <-s.done:
	}
	return goja.Undefined()
}

// makeConsoleFunc routes one console level to the surface logger.
func (s *Surface) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		if !s.config.EnableConsole {
			return goja.Undefined()
		}
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		s.log.Debug("sandbox console", zap.String("level", level), zap.String("message", strings.Join(parts, " ")))
		return goja.Undefined()
	}
}

// setTimeout schedules fn as a later loop turn. Extra arguments are passed
// through to fn.
func (s *Surface) setTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(s.vm.NewTypeError("setTimeout: callback is not a function"))
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	args := append([]goja.Value{}, call.Arguments[min(2, len(call.Arguments)):]...)

	s.nextTimer++
	id := s.nextTimer
	s.timers[id] = time.AfterFunc(delay, func() {
		s.post(func() {
			if _, live := s.timers[id]; !live {
				return
			}
			delete(s.timers, id)
			if _, err := fn(goja.Undefined(), args...); err != nil {
				s.log.Warn("timer callback failed", zap.Error(err))
			}
		})
	})
	return s.vm.ToValue(id)
}

func (s *Surface) clearTimeout(call goja.FunctionCall) goja.Value {
	id := call.Argument(0).ToInteger()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
	return goja.Undefined()
}

func (s *Surface) stopTimers() {
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}

// resolve makes raw absolute against the page origin.
func (s *Surface) resolve(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.IsAbs() {
		return u, nil
	}
	s.originMu.RLock()
	base := s.origin
	s.originMu.RUnlock()
	if base == nil {
		return nil, fmt.Errorf("relative url %q with no page origin", raw)
	}
	return base.ResolveReference(u), nil
}
