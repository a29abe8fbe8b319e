package relay

import "sync"

// Handle is the live sandbox surface. InjectJavaScript must not block on the
// script's own execution; an error means the script was not dispatched.
type Handle interface {
	InjectJavaScript(script string) error
}

// State is the sandbox session state.
type State int

const (
	StateUnbound State = iota
	StateBound
	StateLoaded
	StateReady
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateLoaded:
		return "loaded"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// Session tracks the single live handle and its two readiness flags.
type Session struct {
	mu     sync.RWMutex
	handle Handle
	loaded bool
	ready  bool
}

// Bind installs h as the live handle. Readiness is always reset, even when h
// is the handle already bound.
func (s *Session) Bind(h Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = h
	s.loaded = false
	s.ready = false
}

// Unbind drops h if it is still the live handle.
func (s *Session) Unbind(h Handle) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil || s.handle != h {
		return false
	}
	s.handle = nil
	s.loaded = false
	s.ready = false
	return true
}

// MarkLoaded records the host's page-lifecycle signal. It returns the handle
// to probe for readiness, or nil when no probe is needed.
func (s *Session) MarkLoaded(loaded bool) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return nil
	}
	s.loaded = loaded
	if !loaded {
		s.ready = false
		return nil
	}
	if s.ready {
		return nil
	}
	return s.handle
}

// MarkReady records bridge-ready. It reports false when no handle is bound.
func (s *Session) MarkReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return false
	}
	s.ready = true
	return true
}

// Handle returns the live handle or nil.
func (s *Session) Handle() Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle
}

func (s *Session) IsAvailable() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle != nil
}

func (s *Session) IsLoaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle != nil && s.loaded
}

func (s *Session) IsBridgeReady() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handle != nil && s.ready
}

// State derives the state machine position from the flags.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch {
	case s.handle == nil:
		return StateUnbound
	case s.loaded && s.ready:
		return StateReady
	case s.loaded:
		return StateLoaded
	default:
		return StateBound
	}
}
