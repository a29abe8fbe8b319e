package sandbox

import (
	"errors"
	"time"
)

var (
	ErrClosed    = errors.New("sandbox surface is closed")
	ErrQueueFull = errors.New("sandbox script queue is full")
)

// Config defines surface configuration
type Config struct {
	Origin         string        // page origin; relative request URLs resolve against it
	Channel        string        // window property holding the post-message object
	ExecTimeout    time.Duration // budget for one synchronous script turn
	RequestTimeout time.Duration // network timeout for fetch and XMLHttpRequest
	QueueSize      int           // pending script turns before InjectJavaScript fails
	UserAgent      string
	EnableConsole  bool // capture console.log/warn/error
}

// MessageSink receives every string the page posts through its channel, in
// posting order.
type MessageSink func(message string)

// DefaultConfig returns the configuration used by the embedded surface.
func DefaultConfig() Config {
	return Config{
		Channel:        "ReactNativeWebView",
		ExecTimeout:    5 * time.Second,
		RequestTimeout: 30 * time.Second,
		QueueSize:      256,
		UserAgent:      "FitQuestSandbox/1.0",
		EnableConsole:  true,
	}
}
