package relay

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
)

// Normalize reduces a raw backend body into the canonical envelope.
//
// Rules are applied in order:
//  1. declaredStatus >= 400 is a failure whatever the body says
//  2. {value, errorCode}: non-success errorCode is a failure, else value is unwrapped
//  3. {errorCode} without value: non-success errorCode is a failure
//  4. {error: true} is a failure
//  5. anything else is a success carrying the body as-is
//
// An Envelope passed as raw is returned unchanged.
func Normalize(raw any, declaredStatus int) Envelope {
	switch v := raw.(type) {
	case Envelope:
		return v
	case *Envelope:
		if v != nil {
			return *v
		}
		raw = nil
	}

	body, isObject := raw.(map[string]any)

	if declaredStatus >= http.StatusBadRequest {
		env := Envelope{Kind: KindDomain, Status: declaredStatus}
		if isObject {
			env.Code = codeString(body["errorCode"])
			env.Description = stringField(body, "description")
			env.Message = firstNonEmpty(stringField(body, "message"), env.Description)
		} else if s, ok := raw.(string); ok {
			env.Message = strings.TrimSpace(s)
		}
		if env.Message == "" {
			env.Message = fmt.Sprintf("request failed with status %d", declaredStatus)
		}
		return env
	}

	status := declaredStatus
	if status == 0 {
		status = http.StatusOK
	}

	if !isObject {
		return Success(status, raw)
	}

	errorCode, hasCode := body["errorCode"]
	if value, ok := body["value"]; ok {
		if hasCode && errorCode != nil && !isSuccessCode(errorCode) {
			return codeFailure(body, errorCode, status)
		}
		return Success(status, value)
	}

	if hasCode && errorCode != nil && !isSuccessCode(errorCode) {
		return codeFailure(body, errorCode, status)
	}

	if flag, ok := body["error"].(bool); ok && flag {
		desc := stringField(body, "description")
		env := Envelope{
			Kind:        KindDomain,
			Status:      status,
			Code:        codeString(errorCode),
			Description: desc,
			Message:     firstNonEmpty(stringField(body, "message"), desc, "request failed"),
		}
		return env
	}

	return Success(status, body)
}

func codeFailure(body map[string]any, errorCode any, status int) Envelope {
	desc := stringField(body, "description")
	code := codeString(errorCode)
	if n, ok := numeric(errorCode); ok && n >= 400 && n < 600 {
		status = int(n)
	}
	return Envelope{
		Kind:        KindDomain,
		Status:      status,
		Code:        code,
		Description: desc,
		Message:     firstNonEmpty(desc, stringField(body, "message"), "request failed with error code "+code),
	}
}

// isSuccessCode reports whether errorCode is the backend's success sentinel.
func isSuccessCode(code any) bool {
	if n, ok := numeric(code); ok {
		return n == http.StatusOK
	}
	if s, ok := code.(string); ok {
		switch strings.ToUpper(strings.TrimSpace(s)) {
		case "200", "SUCCESS", "OK":
			return true
		}
	}
	return false
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func codeString(v any) string {
	if v == nil {
		return ""
	}
	if n, ok := numeric(v); ok {
		if n == math.Trunc(n) {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
