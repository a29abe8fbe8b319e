package sandbox

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echo struct {
	Method      string `json:"method"`
	ContentType string `json:"contentType"`
	Body        string `json:"body"`
	Session     string `json:"session"`
	Custom      string `json:"custom"`
}

func echoServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "session", Value: "s3cr3t", Path: "/"})
		w.Write([]byte("<html></html>"))
	})
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		e := echo{
			Method:      r.Method,
			ContentType: r.Header.Get("Content-Type"),
			Body:        string(body),
			Custom:      r.Header.Get("X-Custom"),
		}
		if c, err := r.Cookie("session"); err == nil {
			e.Session = c.Value
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(e)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, s *Surface, script string) {
	t.Helper()
	require.NoError(t, s.InjectJavaScript(script))
}

func decodeEcho(t *testing.T, raw string) echo {
	t.Helper()
	var e echo
	require.NoError(t, json.Unmarshal([]byte(raw), &e))
	return e
}

func TestFetch(t *testing.T) {
	srv := echoServer(t)
	s, messages := newTestSurface(t, DefaultConfig())

	execute(t, s, `
		fetch('`+srv.URL+`/echo', {
			method: 'post',
			headers: { 'Content-Type': 'application/json', 'X-Custom': 'yes' },
			body: JSON.stringify({ a: 1 }),
			credentials: 'include'
		}).then(function (res) {
			return res.text().then(function (text) {
				window.ReactNativeWebView.postMessage(res.status + ' ' + res.ok + ' ' + res.headers.get('content-type'));
				window.ReactNativeWebView.postMessage(text);
			});
		});
	`)

	assert.Equal(t, "202 true application/json", nextMessage(t, messages))
	e := decodeEcho(t, nextMessage(t, messages))
	assert.Equal(t, "POST", e.Method)
	assert.Equal(t, "application/json", e.ContentType)
	assert.Equal(t, `{"a":1}`, e.Body)
	assert.Equal(t, "yes", e.Custom)
}

func TestFetchRejectsGetWithBody(t *testing.T) {
	srv := echoServer(t)
	s, messages := newTestSurface(t, DefaultConfig())

	execute(t, s, `
		fetch('`+srv.URL+`/echo', { method: 'GET', body: '{}' })
			.then(function () { window.ReactNativeWebView.postMessage('sent'); })
			.catch(function (e) { window.ReactNativeWebView.postMessage('rejected: ' + e.message); });
	`)

	assert.Contains(t, nextMessage(t, messages), "rejected: ")
}

func TestFetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()
	s, messages := newTestSurface(t, DefaultConfig())

	execute(t, s, `
		fetch('`+target+`/gone').catch(function (e) {
			window.ReactNativeWebView.postMessage(e.name + ': ' + e.message);
		});
	`)

	assert.Contains(t, nextMessage(t, messages), "TypeError: Failed to fetch")
}

func TestCookieJarCarriesSession(t *testing.T) {
	srv := echoServer(t)
	config := DefaultConfig()
	config.Origin = srv.URL
	s, messages := newTestSurface(t, config)

	require.NoError(t, s.Load(context.Background(), "/login"))

	post := `function (res) { return res.text().then(function (t) { window.ReactNativeWebView.postMessage(t); }); }`
	execute(t, s, `fetch('/echo', { credentials: 'include' }).then(`+post+`);`)
	assert.Equal(t, "s3cr3t", decodeEcho(t, nextMessage(t, messages)).Session)

	execute(t, s, `fetch('/echo').then(`+post+`);`)
	assert.Equal(t, "s3cr3t", decodeEcho(t, nextMessage(t, messages)).Session, "same-origin sends cookies")

	execute(t, s, `fetch('/echo', { credentials: 'omit' }).then(`+post+`);`)
	assert.Empty(t, decodeEcho(t, nextMessage(t, messages)).Session)

	execute(t, s, `window.ReactNativeWebView.postMessage(location.origin);`)
	assert.Equal(t, srv.URL, nextMessage(t, messages))
}

func TestXMLHttpRequestGetWithBody(t *testing.T) {
	srv := echoServer(t)
	s, messages := newTestSurface(t, DefaultConfig())

	execute(t, s, `
		var xhr = new XMLHttpRequest();
		xhr.open('GET', '`+srv.URL+`/echo', true);
		xhr.withCredentials = true;
		xhr.setRequestHeader('Content-Type', 'application/json');
		xhr.onload = function () {
			window.ReactNativeWebView.postMessage(xhr.readyState + ' ' + xhr.status);
			window.ReactNativeWebView.postMessage(xhr.responseText);
		};
		xhr.onerror = function () { window.ReactNativeWebView.postMessage('error'); };
		xhr.send('{"term":"run"}');
	`)

	assert.Equal(t, "4 202", nextMessage(t, messages))
	e := decodeEcho(t, nextMessage(t, messages))
	assert.Equal(t, "GET", e.Method)
	assert.Equal(t, "application/json", e.ContentType)
	assert.Equal(t, `{"term":"run"}`, e.Body)
}

func TestXMLHttpRequestError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	target := srv.URL
	srv.Close()
	s, messages := newTestSurface(t, DefaultConfig())

	execute(t, s, `
		var xhr = new XMLHttpRequest();
		xhr.open('GET', '`+target+`');
		xhr.onload = function () { window.ReactNativeWebView.postMessage('load'); };
		xhr.onerror = function () { window.ReactNativeWebView.postMessage('error ' + xhr.readyState); };
		xhr.send();
	`)

	assert.Equal(t, "error 4", nextMessage(t, messages))
}

func TestFormDataUpload(t *testing.T) {
	type upload struct {
		Field       string
		FileName    string
		ContentType string
		Content     string
	}
	received := make(chan []upload, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reader, err := r.MultipartReader()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var parts []upload
		for {
			p, err := reader.NextPart()
			if err != nil {
				break
			}
			data, _ := io.ReadAll(p)
			parts = append(parts, upload{p.FormName(), p.FileName(), p.Header.Get("Content-Type"), string(data)})
		}
		received <- parts
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)
	s, messages := newTestSurface(t, DefaultConfig())

	execute(t, s, `
		var form = new FormData();
		form.append('files', new Blob([new Uint8Array([104, 105])], { type: 'image/png' }), 'a.png');
		form.append('files', new Blob(['yo'], { type: 'image/jpeg' }), 'b.jpg');
		form.append('meta', new Blob(['{"k":1}'], { type: 'application/json' }), 'meta.json');
		fetch('`+srv.URL+`', { method: 'POST', body: form, credentials: 'include' }).then(function (res) {
			window.ReactNativeWebView.postMessage(String(res.status));
		});
	`)

	assert.Equal(t, "201", nextMessage(t, messages))
	parts := <-received
	require.Len(t, parts, 3)
	assert.Equal(t, upload{"files", "a.png", "image/png", "hi"}, parts[0])
	assert.Equal(t, upload{"files", "b.jpg", "image/jpeg", "yo"}, parts[1])
	assert.Equal(t, upload{"meta", "meta.json", "application/json", `{"k":1}`}, parts[2])
}
