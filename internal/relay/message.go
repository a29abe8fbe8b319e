package relay

import (
	"strings"

	"github.com/bytedance/sonic"
)

// MessageKind is the closed set of inbound sandbox message variants.
type MessageKind int

const (
	MessageMalformed MessageKind = iota
	MessageBridgeReady
	MessageSuccess
	MessageError
	MessageLog
	MessageUnrecognized
)

// String returns the string representation of the message kind
func (k MessageKind) String() string {
	switch k {
	case MessageBridgeReady:
		return "bridge_ready"
	case MessageSuccess:
		return "success"
	case MessageError:
		return "error"
	case MessageLog:
		return "log"
	case MessageUnrecognized:
		return "unrecognized"
	default:
		return "malformed"
	}
}

const typeBridgeReady = "bridge-ready"

// Message is a decoded sandbox message.
type Message struct {
	Kind      MessageKind
	Type      string
	Namespace string
	Event     string
	ID        string
	Status    int
	Data      any
	Message   string
	Code      string
	Raw       string
}

type wireMessage struct {
	Type    string `json:"type"`
	ID      any    `json:"id"`
	Status  any    `json:"status"`
	Data    any    `json:"data"`
	Message any    `json:"message"`
	Code    any    `json:"code"`
}

// ParseMessage decodes a raw posted string. It never fails: undecodable input
// yields MessageMalformed and unknown tags yield MessageUnrecognized.
func ParseMessage(raw string) Message {
	m := Message{Raw: raw}
	var w wireMessage
	if err := sonic.UnmarshalString(raw, &w); err != nil {
		return m
	}

	m.Type = strings.TrimSpace(w.Type)
	m.ID = codeString(w.ID)
	m.Data = w.Data
	m.Code = codeString(w.Code)
	if s, ok := w.Message.(string); ok {
		m.Message = s
	} else if w.Message != nil {
		m.Message = codeString(w.Message)
	}
	if n, ok := numeric(w.Status); ok {
		m.Status = int(n)
	}

	m.Kind = classify(m.Type)
	if idx := strings.LastIndex(m.Type, ":"); idx != -1 {
		m.Namespace, m.Event = m.Type[:idx], m.Type[idx+1:]
	}
	return m
}

func classify(typ string) MessageKind {
	if typ == typeBridgeReady {
		return MessageBridgeReady
	}
	idx := strings.LastIndex(typ, ":")
	if idx <= 0 {
		return MessageUnrecognized
	}
	ns, event := typ[:idx], typ[idx+1:]
	if ns == "debug" {
		return MessageLog
	}
	switch event {
	case "success":
		return MessageSuccess
	case "error":
		return MessageError
	case "log", "ping", "heartbeat", "start":
		return MessageLog
	}
	return MessageUnrecognized
}
