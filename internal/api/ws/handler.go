package ws

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/FitQuest/backend/internal/relay"
)

// Frame kinds exchanged with the shell.
const (
	KindMessage   = "message"   // shell → host: a string posted by the sandbox
	KindLifecycle = "lifecycle" // shell → host: page load state
	KindInject    = "inject"    // host → shell: script to evaluate
	KindPing      = "ping"
	KindPong      = "pong"
)

var (
	ErrConnClosed = errors.New("shell connection closed")
	ErrSendQueue  = errors.New("shell send queue full")
)

// Frame is one WebSocket text frame.
type Frame struct {
	Kind   string `json:"kind"`
	Data   string `json:"data,omitempty"`
	Loaded *bool  `json:"loaded,omitempty"`
	Script string `json:"script,omitempty"`
}

// Relay is the part of relay.Relay the bridge drives.
type Relay interface {
	Bind(h relay.Handle)
	Unbind(h relay.Handle)
	MarkLoaded(loaded bool)
	HandleMessage(raw string)
}

// Metrics receives connection and frame counts.
type Metrics interface {
	IncWSConnections()
	DecWSConnections()
	RecordWSMessage(direction, msgType string)
}

// Config tunes the bridge.
type Config struct {
	WriteTimeout time.Duration
	PongWait     time.Duration
	PingInterval time.Duration
	MaxFrameSize int64
	SendQueue    int
	CheckOrigin  func(r *http.Request) bool
}

// DefaultConfig returns the bridge defaults.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 10 * time.Second,
		PongWait:     60 * time.Second,
		PingInterval: 30 * time.Second,
		MaxFrameSize: 16 << 20,
		SendQueue:    256,
	}
}

// Handler accepts shell connections. The newest connection is the live
// sandbox; an older one is closed when it is replaced.
type Handler struct {
	relay    Relay
	cfg      Config
	log      *zap.Logger
	metrics  Metrics
	upgrader websocket.Upgrader

	mu      sync.Mutex
	current *shellConn
}

// NewHandler creates a bridge handler. metrics may be nil.
func NewHandler(r Relay, cfg Config, log *zap.Logger, metrics Metrics) *Handler {
	def := DefaultConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = def.PongWait
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.PongWait {
		cfg.PingInterval = cfg.PongWait * 9 / 10
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = def.MaxFrameSize
	}
	if cfg.SendQueue <= 0 {
		cfg.SendQueue = def.SendQueue
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		relay:    r,
		cfg:      cfg,
		log:      log,
		metrics:  metrics,
		upgrader: websocket.Upgrader{CheckOrigin: checkOrigin},
	}
}

// HandleConnection upgrades the request and serves the shell until it
// disconnects.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sc := &shellConn{
		ws:      conn,
		cfg:     h.cfg,
		log:     h.log,
		metrics: h.metrics,
		send:    make(chan Frame, h.cfg.SendQueue),
		done:    make(chan struct{}),
	}
	h.attach(sc)
	defer h.detach(sc)

	go sc.writeLoop()
	h.readLoop(sc)
}

func (h *Handler) attach(sc *shellConn) {
	h.mu.Lock()
	prev := h.current
	h.current = sc
	h.mu.Unlock()

	if prev != nil {
		h.log.Info("shell connection replaced")
		prev.close()
	}
	if h.metrics != nil {
		h.metrics.IncWSConnections()
	}
	h.relay.Bind(sc)
	h.log.Info("shell connected", zap.String("remote", sc.ws.RemoteAddr().String()))
}

func (h *Handler) detach(sc *shellConn) {
	h.relay.Unbind(sc)
	h.mu.Lock()
	if h.current == sc {
		h.current = nil
	}
	h.mu.Unlock()

	sc.close()
	if h.metrics != nil {
		h.metrics.DecWSConnections()
	}
	h.log.Info("shell disconnected")
}

func (h *Handler) readLoop(sc *shellConn) {
	sc.ws.SetReadLimit(h.cfg.MaxFrameSize)
	_ = sc.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	sc.ws.SetPongHandler(func(string) error {
		return sc.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := sc.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("shell read failed", zap.Error(err))
			}
			return
		}
		_ = sc.ws.SetReadDeadline(time.Now().Add(h.cfg.PongWait))

		var f Frame
		if err := sonic.Unmarshal(data, &f); err != nil {
			h.log.Warn("dropping undecodable shell frame", zap.Int("bytes", len(data)), zap.Error(err))
			continue
		}
		if h.metrics != nil {
			h.metrics.RecordWSMessage("in", f.Kind)
		}

		switch f.Kind {
		case KindMessage:
			h.relay.HandleMessage(f.Data)
		case KindLifecycle:
			if f.Loaded == nil {
				h.log.Warn("lifecycle frame without loaded flag")
				continue
			}
			h.relay.MarkLoaded(*f.Loaded)
		case KindPing:
			_ = sc.enqueue(Frame{Kind: KindPong})
		default:
			h.log.Warn("unknown shell frame kind", zap.String("kind", f.Kind))
		}
	}
}

// shellConn is the relay.Handle for one shell connection. Frames are written
// by a single goroutine; InjectJavaScript only queues.
type shellConn struct {
	ws      *websocket.Conn
	cfg     Config
	log     *zap.Logger
	metrics Metrics
	send    chan Frame

	closeOnce sync.Once
	done      chan struct{}
}

// InjectJavaScript queues script for the shell to evaluate.
func (sc *shellConn) InjectJavaScript(script string) error {
	return sc.enqueue(Frame{Kind: KindInject, Script: script})
}

func (sc *shellConn) enqueue(f Frame) error {
	select {
	case <-sc.done:
		return ErrConnClosed
	default:
	}
	select {
	case sc.send <- f:
		return nil
	case <-sc.done:
		return ErrConnClosed
	default:
		return ErrSendQueue
	}
}

func (sc *shellConn) writeLoop() {
	ticker := time.NewTicker(sc.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case f := <-sc.send:
			data, err := sonic.Marshal(f)
			if err != nil {
				sc.log.Error("encode shell frame", zap.Error(err))
				continue
			}
			_ = sc.ws.SetWriteDeadline(time.Now().Add(sc.cfg.WriteTimeout))
			if err := sc.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				sc.log.Warn("shell write failed", zap.Error(err))
				sc.close()
				return
			}
			if sc.metrics != nil {
				sc.metrics.RecordWSMessage("out", f.Kind)
			}
		case <-ticker.C:
			deadline := time.Now().Add(sc.cfg.WriteTimeout)
			if err := sc.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				sc.close()
				return
			}
		case <-sc.done:
			return
		}
	}
}

func (sc *shellConn) close() {
	sc.closeOnce.Do(func() {
		close(sc.done)
		deadline := time.Now().Add(time.Second)
		_ = sc.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = sc.ws.Close()
	})
}
