package relay

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/gabriel-vasile/mimetype"
)

// Transport selects how the sandbox performs a request.
type Transport int

const (
	// TransportStandard is a fetch call with credentials included.
	TransportStandard Transport = iota
	// TransportGetWithBody uses the low-level request primitive so a GET can
	// carry a JSON body, which fetch refuses to send.
	TransportGetWithBody
	// TransportMultipart builds a form-encoded body inside the sandbox.
	TransportMultipart
)

// String returns the string representation of the transport
func (t Transport) String() string {
	switch t {
	case TransportStandard:
		return "standard"
	case TransportGetWithBody:
		return "get-with-body"
	case TransportMultipart:
		return "multipart"
	default:
		return "unknown"
	}
}

// HeaderField is one ordered request header.
type HeaderField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PartKind distinguishes JSON parts from file parts.
type PartKind string

const (
	PartJSON PartKind = "json"
	PartFile PartKind = "file"
)

// Part is one multipart entry in submission order.
type Part struct {
	Field        string   `json:"field"`
	Kind         PartKind `json:"kind"`
	Content      string   `json:"content"`
	FileName     string   `json:"fileName"`
	MimeType     string   `json:"mimeType"`
	OriginalName string   `json:"originalName,omitempty"`
}

// Descriptor is the transport-independent description of a request after
// transport selection. Scripts are a rendering of it.
type Descriptor struct {
	ID           string        `json:"id"`
	Namespace    string        `json:"ns"`
	Transport    Transport     `json:"-"`
	Method       string        `json:"method"`
	URL          string        `json:"url"`
	Headers      []HeaderField `json:"headers"`
	Body         *string       `json:"body"`
	Parts        []Part        `json:"parts,omitempty"`
	MaxFileBytes int64         `json:"maxFileBytes,omitempty"`
}

// Header returns the value of the named header (case-insensitive).
func (d Descriptor) Header(name string) (string, bool) {
	for _, h := range d.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value, true
		}
	}
	return "", false
}

const contentTypeJSON = "application/json"

var imageTypes = map[string]string{
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
}

var allowedMimeTypes = map[string]string{
	"image/jpeg": "image/jpeg",
	"image/jpg":  "image/jpeg",
	"image/png":  "image/png",
	"image/webp": "image/webp",
}

// SelectTransport picks the transport for a payload. Multipart wins over
// GET-with-body, which wins over the standard transport.
func SelectTransport(p Payload) Transport {
	switch {
	case p.UseMultipart:
		return TransportMultipart
	case p.normalizedMethod() == http.MethodGet && p.HasBody():
		return TransportGetWithBody
	default:
		return TransportStandard
	}
}

// Describe maps a payload onto a request descriptor.
func (c *Compiler) Describe(p Payload) (Descriptor, error) {
	if err := p.Validate(); err != nil {
		return Descriptor{}, err
	}

	target, err := c.resolveURL(p.Path, p.Query)
	if err != nil {
		return Descriptor{}, err
	}

	d := Descriptor{
		ID:        p.ID,
		Namespace: c.cfg.Namespace,
		Transport: SelectTransport(p),
		Method:    p.normalizedMethod(),
		URL:       target,
	}

	switch d.Transport {
	case TransportMultipart:
		d.Headers = mergeHeaders(nil, p.Headers, "Content-Type")
		d.MaxFileBytes = c.cfg.MaxFileBytes
		d.Parts, err = buildParts(p.MultipartFields)
		if err != nil {
			return Descriptor{}, err
		}
	case TransportGetWithBody:
		body, err := serializeBody(p.Body)
		if err != nil {
			return Descriptor{}, err
		}
		d.Body = &body
		d.Headers = mergeHeaders([]HeaderField{{Name: "Content-Type", Value: contentTypeJSON}}, p.Headers)
	default:
		var base []HeaderField
		if p.HasBody() {
			body, err := serializeBody(p.Body)
			if err != nil {
				return Descriptor{}, err
			}
			d.Body = &body
			base = []HeaderField{{Name: "Content-Type", Value: contentTypeJSON}}
		}
		d.Headers = mergeHeaders(base, p.Headers)
	}
	return d, nil
}

func serializeBody(body any) (string, error) {
	b, err := sonic.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("serialize body: %w", err)
	}
	return string(b), nil
}

// mergeHeaders appends caller headers in name order. A caller header replaces a
// base header of the same name in place; names listed in drop are skipped.
func mergeHeaders(base []HeaderField, caller map[string]string, drop ...string) []HeaderField {
	out := append([]HeaderField{}, base...)
	names := make([]string, 0, len(caller))
	for name := range caller {
		names = append(names, name)
	}
	sort.Strings(names)

next:
	for _, name := range names {
		for _, d := range drop {
			if strings.EqualFold(d, name) {
				continue next
			}
		}
		for i := range out {
			if strings.EqualFold(out[i].Name, name) {
				out[i] = HeaderField{Name: name, Value: caller[name]}
				continue next
			}
		}
		out = append(out, HeaderField{Name: name, Value: caller[name]})
	}
	return out
}

func (c *Compiler) resolveURL(p string, query map[string]any) (string, error) {
	target := strings.TrimSpace(p)
	if !isAbsoluteURL(target) && c.cfg.BaseURL != "" {
		target = strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(target, "/")
	}
	if _, err := url.Parse(target); err != nil {
		return "", fmt.Errorf("invalid path %q: %w", p, err)
	}

	values := url.Values{}
	for key, raw := range query {
		for _, v := range queryValues(raw) {
			values.Add(key, v)
		}
	}
	if len(values) == 0 {
		return target, nil
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + values.Encode(), nil
}

func isAbsoluteURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func queryValues(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case bool:
		return []string{strconv.FormatBool(t)}
	case []string:
		return t
	case []any:
		var out []string
		for _, item := range t {
			out = append(out, queryValues(item)...)
		}
		return out
	}
	if _, ok := numeric(v); ok {
		return []string{codeString(v)}
	}
	b, err := sonic.Marshal(v)
	if err != nil {
		return []string{fmt.Sprint(v)}
	}
	return []string{string(b)}
}

func buildParts(fields map[string]MultipartValue) ([]Part, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []Part
	for _, key := range keys {
		value := fields[key]
		if !value.IsFile() {
			b, err := sonic.Marshal(value.JSON)
			if err != nil {
				return nil, fmt.Errorf("serialize multipart field %q: %w", key, err)
			}
			parts = append(parts, Part{
				Field:    key,
				Kind:     PartJSON,
				Content:  string(b),
				FileName: key + ".json",
				MimeType: contentTypeJSON,
			})
			continue
		}
		for i, f := range value.Files {
			data := stripDataURL(f.Data)
			name := NormalizeFileName(f.Name, i)
			parts = append(parts, Part{
				Field:        key,
				Kind:         PartFile,
				Content:      data,
				FileName:     name,
				MimeType:     resolveMimeType(f.MimeType, data, name),
				OriginalName: f.Name,
			})
		}
	}
	return parts, nil
}

// NormalizeFileName guarantees one of the allowed image extensions, replacing
// an absent or disallowed extension with jpg.
func NormalizeFileName(name string, index int) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if base == "." || base == "/" {
		base = ""
	}
	ext := path.Ext(base)
	if _, ok := imageTypes[strings.ToLower(strings.TrimPrefix(ext, "."))]; ok && len(base) > len(ext) {
		return base
	}
	stem := strings.TrimSuffix(base, ext)
	if stem == "" {
		stem = fmt.Sprintf("image_%d", index)
	}
	return stem + ".jpg"
}

func stripDataURL(data string) string {
	if strings.HasPrefix(data, "data:") {
		if idx := strings.Index(data, ","); idx != -1 {
			return data[idx+1:]
		}
	}
	return data
}

// sniffLimit is a multiple of 4 so a prefix of valid base64 still decodes.
const sniffLimit = 4096

func resolveMimeType(declared, data, fileName string) string {
	if mt, ok := allowedMimeTypes[strings.ToLower(strings.TrimSpace(declared))]; ok {
		return mt
	}
	prefix := data
	if len(prefix) > sniffLimit {
		prefix = prefix[:sniffLimit]
	}
	if raw, err := base64.StdEncoding.DecodeString(prefix); err == nil && len(raw) > 0 {
		if mt, ok := allowedMimeTypes[mimetype.Detect(raw).String()]; ok {
			return mt
		}
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(fileName), "."))
	if mt, ok := imageTypes[ext]; ok {
		return mt
	}
	return "image/jpeg"
}
