package relay

import "net/http"

// Envelope is the canonical outcome of a relayed request: either
// Success{Status, Data} or Failure{Status, Message, Code, Description}.
type Envelope struct {
	OK          bool   `json:"success"`
	Status      int    `json:"status"`
	Data        any    `json:"data,omitempty"`
	Message     string `json:"message,omitempty"`
	Code        string `json:"code,omitempty"`
	Description string `json:"description,omitempty"`
	Kind        Kind   `json:"-"`
}

// Success builds a successful envelope.
func Success(status int, data any) Envelope {
	if status == 0 {
		status = http.StatusOK
	}
	return Envelope{OK: true, Status: status, Data: data}
}

// Failure builds a failed envelope.
func Failure(kind Kind, status int, code, message string) Envelope {
	return Envelope{Kind: kind, Status: status, Code: code, Message: message}
}

// Err converts a failed envelope into an *Error. It returns nil on success.
func (e Envelope) Err() error {
	if e.OK {
		return nil
	}
	kind := e.Kind
	if kind == 0 {
		kind = KindDomain
	}
	msg := e.Message
	if msg == "" {
		msg = e.Description
	}
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if msg == "" {
		msg = "request failed"
	}
	return &Error{Kind: kind, Op: "response", Status: e.Status, Code: e.Code, Message: msg}
}
