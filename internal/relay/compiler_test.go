package relay

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pngHeader is enough of a PNG for content sniffing.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

func newTestCompiler(t *testing.T) *Compiler {
	t.Helper()
	cfg := DefaultCompilerConfig()
	cfg.BaseURL = "https://api.example.com/v2/"
	c, err := NewCompiler(cfg)
	require.NoError(t, err)
	return c
}

func TestSelectTransport(t *testing.T) {
	tests := []struct {
		name     string
		payload  Payload
		expected Transport
	}{
		{"plain get", Payload{Method: "GET", Path: "/a"}, TransportStandard},
		{"empty method defaults to get", Payload{Path: "/a"}, TransportStandard},
		{"get with body", Payload{Method: "get", Path: "/a", Body: map[string]any{"q": 1}}, TransportGetWithBody},
		{"post with body", Payload{Method: "POST", Path: "/a", Body: map[string]any{"q": 1}}, TransportStandard},
		{
			"multipart wins over get with body",
			Payload{Method: "GET", Path: "/a", Body: 1, UseMultipart: true},
			TransportMultipart,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, SelectTransport(tt.payload))
		})
	}
}

func TestDescribeStandard(t *testing.T) {
	c := newTestCompiler(t)

	d, err := c.Describe(Payload{ID: "1", Method: "DELETE", Path: "/users/7", Headers: map[string]string{"X-Trace": "t"}})
	require.NoError(t, err)

	assert.Equal(t, TransportStandard, d.Transport)
	assert.Equal(t, "https://api.example.com/v2/users/7", d.URL)
	assert.Nil(t, d.Body)
	_, hasCT := d.Header("content-type")
	assert.False(t, hasCT, "no body means no content type")
	assert.Equal(t, []HeaderField{{Name: "X-Trace", Value: "t"}}, d.Headers)

	d, err = c.Describe(Payload{ID: "2", Method: "POST", Path: "/users", Body: map[string]any{"name": "n"}})
	require.NoError(t, err)
	require.NotNil(t, d.Body)
	assert.JSONEq(t, `{"name":"n"}`, *d.Body)
	ct, _ := d.Header("Content-Type")
	assert.Equal(t, "application/json", ct)
}

func TestDescribeGetWithBody(t *testing.T) {
	c := newTestCompiler(t)

	d, err := c.Describe(Payload{
		ID:      "1",
		Method:  "GET",
		Path:    "/search",
		Headers: map[string]string{"content-type": "application/vnd.x+json", "Accept": "application/json"},
		Body:    map[string]any{"term": "run"},
	})
	require.NoError(t, err)

	assert.Equal(t, TransportGetWithBody, d.Transport)
	assert.Equal(t, "GET", d.Method)
	require.NotNil(t, d.Body)
	assert.JSONEq(t, `{"term":"run"}`, *d.Body)
	assert.Equal(t, []HeaderField{
		{Name: "content-type", Value: "application/vnd.x+json"},
		{Name: "Accept", Value: "application/json"},
	}, d.Headers)
}

func TestDescribeQuery(t *testing.T) {
	c := newTestCompiler(t)

	d, err := c.Describe(Payload{
		ID:    "1",
		Path:  "https://other.example.com/list?x=1",
		Query: map[string]any{"page": 2.0, "tag": []any{"a", "b"}, "skip": nil, "active": true},
	})
	require.NoError(t, err)

	assert.Equal(t, "https://other.example.com/list?x=1&active=true&page=2&tag=a&tag=b", d.URL)
}

func TestDescribeMultipart(t *testing.T) {
	c := newTestCompiler(t)
	png := base64.StdEncoding.EncodeToString(pngHeader)

	d, err := c.Describe(Payload{
		ID:           "1",
		Method:       "POST",
		Path:         "/upload",
		Headers:      map[string]string{"Content-Type": "application/json", "X-Client": "shell"},
		UseMultipart: true,
		MultipartFields: map[string]MultipartValue{
			"meta": JSONPart(map[string]any{"album": "runs"}),
			"files": FileParts(
				FilePart{Data: "data:image/png;base64," + png, Name: "first.PNG"},
				FilePart{Data: png, Name: "second.gif", MimeType: "image/gif"},
				FilePart{Data: "AAAA"},
			),
		},
	})
	require.NoError(t, err)

	assert.Equal(t, TransportMultipart, d.Transport)
	assert.Equal(t, []HeaderField{{Name: "X-Client", Value: "shell"}}, d.Headers)
	assert.EqualValues(t, DefaultMaxFileBytes, d.MaxFileBytes)
	require.Len(t, d.Parts, 4)

	assert.Equal(t, Part{Field: "files", Kind: PartFile, Content: png, FileName: "first.PNG", MimeType: "image/png", OriginalName: "first.PNG"}, d.Parts[0])
	assert.Equal(t, "second.jpg", d.Parts[1].FileName)
	assert.Equal(t, "image/png", d.Parts[1].MimeType, "disallowed declared type falls back to sniffing")
	assert.Equal(t, "image_2.jpg", d.Parts[2].FileName)
	assert.Equal(t, "image/jpeg", d.Parts[2].MimeType)

	assert.Equal(t, Part{Field: "meta", Kind: PartJSON, Content: `{"album":"runs"}`, FileName: "meta.json", MimeType: "application/json"}, d.Parts[3])
}

func TestDescribeRejectsInvalidPayloads(t *testing.T) {
	c := newTestCompiler(t)

	_, err := c.Describe(Payload{ID: "1", Method: "TRACE", Path: "/a"})
	assert.Error(t, err)

	_, err = c.Describe(Payload{ID: "1", Method: "GET", Path: "  "})
	assert.Error(t, err)

	_, err = c.Describe(Payload{ID: "1", Method: "POST", Path: "/a", UseMultipart: true})
	assert.Error(t, err)
}

func TestNormalizeFileName(t *testing.T) {
	tests := []struct {
		name     string
		index    int
		expected string
	}{
		{"photo.jpeg", 0, "photo.jpeg"},
		{"photo.WEBP", 0, "photo.WEBP"},
		{"scan.tiff", 0, "scan.jpg"},
		{"noext", 0, "noext.jpg"},
		{"", 3, "image_3.jpg"},
		{"C:\\tmp\\pic.png", 0, "pic.png"},
		{".png", 1, "image_1.jpg"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeFileName(tt.name, tt.index))
		})
	}
}

func TestCompile(t *testing.T) {
	c := newTestCompiler(t)

	_, err := c.Compile(Payload{Method: "GET", Path: "/a"})
	assert.Error(t, err, "id is required")

	script, err := c.Compile(Payload{ID: "abc", Method: "GET", Path: "/a", Body: map[string]any{"s": "line\u2028break"}})
	require.NoError(t, err)

	assert.Equal(t, "abc", script.ID)
	assert.Equal(t, TransportGetWithBody, script.Transport)
	assert.Contains(t, script.Text, "var channel = window.ReactNativeWebView;")
	assert.Contains(t, script.Text, "new XMLHttpRequest()")
	assert.Contains(t, script.Text, `"id":"abc"`)
	assert.Contains(t, script.Text, `"ns":"api"`)
	assert.False(t, strings.ContainsRune(script.Text, '\u2028'), "line separators must be escaped")
}

func TestCompilerRejectsUnsafeChannel(t *testing.T) {
	_, err := NewCompiler(CompilerConfig{Channel: "window.x;alert(1)"})
	assert.Error(t, err)

	c, err := NewCompiler(CompilerConfig{Channel: "window.bridge"})
	require.NoError(t, err)
	assert.Contains(t, c.ReadinessProbe(), "var channel = window.bridge;")
	assert.Equal(t, "api", c.Config().Namespace)
}
