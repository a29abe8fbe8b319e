package relay

import (
	"fmt"

	"go.uber.org/zap"
)

// HandleMessage routes one string posted by the sandbox. Dispatch depends only
// on the message type; messages for ids with no pending request are dropped.
func (r *Relay) HandleMessage(raw string) {
	m := ParseMessage(raw)
	r.observer.MessageRouted(m.Kind)

	switch m.Kind {
	case MessageBridgeReady:
		r.onBridgeReady()

	case MessageLog:
		r.logSink(m)

	case MessageSuccess:
		env := Normalize(m.Data, m.Status)
		r.settle(m, outcome{env: env})

	case MessageError:
		kind := KindTransport
		if m.Code != "" {
			kind = KindDomain
		}
		msg := m.Message
		if msg == "" {
			msg = "sandbox request failed"
		}
		r.settle(m, outcome{env: Failure(kind, m.Status, m.Code, msg)})

	case MessageUnrecognized:
		if m.ID == "" {
			r.log.Debug("dropping unrecognized sandbox message", zap.String("type", m.Type))
			return
		}
		msg := fmt.Sprintf("unrecognized message type %q", m.Type)
		r.settle(m, outcome{env: Failure(KindProtocol, m.Status, "", msg)})

	default:
		r.log.Warn("dropping malformed sandbox message", zap.Int("bytes", len(m.Raw)))
	}
}

func (r *Relay) settle(m Message, o outcome) {
	if m.ID == "" || !r.pending.settle(m.ID, o) {
		r.log.Debug("no pending request for message", zap.String("type", m.Type), zap.String("id", m.ID))
	}
}

// onBridgeReady marks the session ready and replays the queue in FIFO order.
// The queue is emptied before replay starts; replay runs off the message
// path because a replayed request may still wait for the page to load.
func (r *Relay) onBridgeReady() {
	if !r.session.MarkReady() {
		r.log.Debug("bridge-ready with no sandbox bound")
		return
	}
	r.observer.SessionState(r.session.State())

	queued := r.pending.drain()
	r.observer.QueueDepth(0)
	r.log.Info("sandbox bridge ready", zap.Int("queued", len(queued)))
	if len(queued) == 0 {
		return
	}
	go func() {
		for _, q := range queued {
			if !r.pending.isPending(q.req) {
				continue
			}
			r.dispatch(q.req, q.script)
		}
	}()
}

// ZapSink writes sandbox log messages to l. It is the default LogSink.
func ZapSink(l *zap.Logger) LogSink {
	return func(m Message) {
		fields := []zap.Field{zap.String("type", m.Type)}
		if m.ID != "" {
			fields = append(fields, zap.String("id", m.ID))
		}
		if m.Data != nil {
			fields = append(fields, zap.Any("data", m.Data))
		}
		msg := m.Message
		if msg == "" {
			msg = m.Event
		}
		if m.Event == "error" {
			l.Warn(msg, fields...)
			return
		}
		l.Debug(msg, fields...)
	}
}
