package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append(args, "--env-file", filepath.Join(t.TempDir(), "missing.env"), "--log-level", "error"))
	err := cmd.Execute()
	return out.String(), err
}

func TestCallCommand(t *testing.T) {
	var gotMethod, gotHeader string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotHeader = r.Header.Get("X-Client")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"value":{"name":"runner"},"errorCode":200}`))
	}))
	defer backend.Close()
	t.Setenv("RELAY_BASE_URL", backend.URL)

	out, err := runCmd(t, "call", "/users/me", "-X", "post", "-d", `{"x":1}`, "-H", "X-Client: cli")

	require.NoError(t, err)
	assert.Equal(t, "POST", gotMethod)
	assert.Equal(t, "cli", gotHeader)
	assert.Contains(t, out, `"success": true`)
	assert.Contains(t, out, `"runner"`)
}

func TestCallCommandRejectsBadInput(t *testing.T) {
	t.Setenv("RELAY_BASE_URL", "http://127.0.0.1:1")

	_, err := runCmd(t, "call", "/x", "-d", "{nope")
	assert.ErrorContains(t, err, "--body is not JSON")

	_, err = runCmd(t, "call", "/x", "-H", "no-colon")
	assert.ErrorContains(t, err, "name:value")

	_, err = runCmd(t, "call", "/x", "-X", "TRACE")
	assert.ErrorContains(t, err, "unsupported method")
}

func TestCallCommandNeedsOrigin(t *testing.T) {
	t.Setenv("RELAY_BASE_URL", "")
	_, err := runCmd(t, "call", "/x")
	assert.ErrorContains(t, err, "SANDBOX_EMBEDDED")
}
