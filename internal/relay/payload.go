package relay

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
)

// Payload describes one logical request to execute inside the sandbox.
type Payload struct {
	ID              string                    `json:"id,omitempty"`
	Method          string                    `json:"method"`
	Path            string                    `json:"path"`
	Headers         map[string]string         `json:"headers,omitempty"`
	Query           map[string]any            `json:"query,omitempty"`
	Body            any                       `json:"body,omitempty"`
	UseMultipart    bool                      `json:"useMultipart,omitempty"`
	MultipartFields map[string]MultipartValue `json:"multipartFields,omitempty"`
}

// FilePart is a binary multipart attachment carried as base64.
type FilePart struct {
	Data     string `json:"data"`
	Name     string `json:"name"`
	MimeType string `json:"type"`
}

// UnmarshalJSON accepts both "type" and "mimeType" for the content type.
func (f *FilePart) UnmarshalJSON(b []byte) error {
	var raw struct {
		Data     string `json:"data"`
		Name     string `json:"name"`
		Type     string `json:"type"`
		MimeType string `json:"mimeType"`
	}
	if err := sonic.Unmarshal(b, &raw); err != nil {
		return err
	}
	f.Data, f.Name, f.MimeType = raw.Data, raw.Name, raw.Type
	if f.MimeType == "" {
		f.MimeType = raw.MimeType
	}
	return nil
}

// MultipartValue is one named multipart field: either a JSON document or one
// or more files. Exactly one of JSON and Files is meaningful.
type MultipartValue struct {
	JSON  any
	Files []FilePart

	isFile bool
}

// JSONPart builds a multipart value serialized as application/json.
func JSONPart(v any) MultipartValue {
	return MultipartValue{JSON: v}
}

// FileParts builds a multipart value from one or more files. The files are
// appended under the same field key in the given order.
func FileParts(files ...FilePart) MultipartValue {
	return MultipartValue{Files: files, isFile: true}
}

// IsFile reports whether the value carries files rather than JSON.
func (m MultipartValue) IsFile() bool {
	return m.isFile || len(m.Files) > 0
}

// MarshalJSON renders the value in the same shape UnmarshalJSON accepts.
func (m MultipartValue) MarshalJSON() ([]byte, error) {
	switch {
	case !m.IsFile():
		return sonic.Marshal(m.JSON)
	case len(m.Files) == 1:
		return sonic.Marshal(m.Files[0])
	default:
		return sonic.Marshal(m.Files)
	}
}

// UnmarshalJSON decodes a file descriptor ({data,name,type}), a list of file
// descriptors, or any other JSON value as a JSON part.
func (m *MultipartValue) UnmarshalJSON(b []byte) error {
	var probe any
	if err := sonic.Unmarshal(b, &probe); err != nil {
		return err
	}
	switch v := probe.(type) {
	case map[string]any:
		if _, ok := v["data"].(string); ok {
			var f FilePart
			if err := sonic.Unmarshal(b, &f); err != nil {
				return err
			}
			*m = FileParts(f)
			return nil
		}
	case []any:
		if len(v) > 0 && allFileDescriptors(v) {
			var files []FilePart
			if err := sonic.Unmarshal(b, &files); err != nil {
				return err
			}
			*m = FileParts(files...)
			return nil
		}
	}
	*m = JSONPart(probe)
	return nil
}

func allFileDescriptors(items []any) bool {
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			return false
		}
		if _, ok := obj["data"].(string); !ok {
			return false
		}
	}
	return true
}

var allowedMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Validate checks the fields the compiler depends on.
func (p Payload) Validate() error {
	method := strings.ToUpper(p.Method)
	if method == "" {
		method = http.MethodGet
	}
	if !allowedMethods[method] {
		return fmt.Errorf("unsupported method %q", p.Method)
	}
	if strings.TrimSpace(p.Path) == "" {
		return errors.New("path is required")
	}
	if p.UseMultipart && len(p.MultipartFields) == 0 {
		return errors.New("multipart payload has no fields")
	}
	return nil
}

// HasBody reports whether a body is attached.
func (p Payload) HasBody() bool {
	return p.Body != nil
}

func (p Payload) normalizedMethod() string {
	if p.Method == "" {
		return http.MethodGet
	}
	return strings.ToUpper(p.Method)
}
