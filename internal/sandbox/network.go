package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/dop251/goja"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

// newPageClient builds the client behind fetch and XMLHttpRequest. It keeps
// the page cookie jar and lets GET carry a body, which the page's
// XMLHttpRequest allows and fetch does not.
func newPageClient(config Config) (*resty.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	return resty.New().
		SetCookieJar(jar).
		SetTimeout(config.RequestTimeout).
		SetAllowGetMethodPayload(true).
		SetHeader("User-Agent", config.UserAgent), nil
}

func newAnonymousClient(config Config) *resty.Client {
	return resty.New().
		SetCookieJar(nil).
		SetTimeout(config.RequestTimeout).
		SetAllowGetMethodPayload(true).
		SetHeader("User-Agent", config.UserAgent)
}

type header struct {
	name  string
	value string
}

// outbound is a request snapshot taken on the loop; it is safe to send from
// another goroutine.
type outbound struct {
	method      string
	url         *url.URL
	headers     []header
	body        []byte
	hasBody     bool
	contentType string // implied by a Blob body
	form        []formEntry
	hasForm     bool
	cookies     bool
	timeout     time.Duration
}

func (s *Surface) snapshotBody(o *outbound, v goja.Value) error {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if f, ok := formOf(v); ok {
		o.form = append([]formEntry{}, f.entries...)
		o.hasForm = true
		return nil
	}
	if b, ok := blobOf(v); ok {
		o.body, o.hasBody, o.contentType = append([]byte{}, b.data...), true, b.typ
		return nil
	}
	if _, ok := v.(*goja.Object); ok {
		raw, err := s.bytesOf(v)
		if err != nil {
			return err
		}
		o.body, o.hasBody = raw, true
		return nil
	}
	o.body, o.hasBody = []byte(v.String()), true
	o.contentType = "text/plain;charset=UTF-8"
	return nil
}

// sendsCookies applies the fetch credentials modes.
func (s *Surface) sendsCookies(mode string, target *url.URL) bool {
	switch mode {
	case "omit":
		return false
	case "include":
		return true
	}
	s.originMu.RLock()
	origin := s.origin
	s.originMu.RUnlock()
	return origin != nil && strings.EqualFold(origin.Scheme, target.Scheme) && strings.EqualFold(origin.Host, target.Host)
}

// send performs o off the loop.
func (s *Surface) send(ctx context.Context, o *outbound) (*resty.Response, error) {
	client := s.anonymous
	if o.cookies {
		client = s.client
	}
	req := client.R().SetContext(ctx)

	hasContentType := false
	for _, h := range o.headers {
		if strings.EqualFold(h.name, "Content-Type") {
			if o.hasForm {
				continue
			}
			hasContentType = true
		}
		req.SetHeader(h.name, h.value)
	}

	switch {
	case o.hasForm:
		var fields []*resty.MultipartField
		values := map[string]string{}
		for _, e := range o.form {
			if e.file == nil {
				values[e.name] = e.value
				continue
			}
			ct := e.file.typ
			if ct == "" {
				ct = "application/octet-stream"
			}
			fields = append(fields, &resty.MultipartField{
				Param:       e.name,
				FileName:    e.fileName,
				ContentType: ct,
				Reader:      bytes.NewReader(e.file.data),
			})
		}
		if len(values) > 0 {
			req.SetMultipartFormData(values)
		}
		req.SetMultipartFields(fields...)
	case o.hasBody:
		if !hasContentType && o.contentType != "" {
			req.SetHeader("Content-Type", o.contentType)
		}
		req.SetBody(o.body)
	}

	return req.Execute(o.method, o.url.String())
}

func (s *Surface) requestContext(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = s.config.RequestTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// dispatch runs o in the background and completes it as a loop turn.
func (s *Surface) dispatch(o *outbound, complete func(*resty.Response, error)) {
	go func() {
		ctx, cancel := s.requestContext(o.timeout)
		defer cancel()
		start := time.Now()
		resp, err := s.send(ctx, o)
		if err != nil {
			s.log.Debug("sandbox request failed", zap.String("method", o.method), zap.String("url", o.url.Redacted()), zap.Error(err))
		} else {
			s.log.Debug("sandbox request",
				zap.String("method", o.method),
				zap.String("url", o.url.Redacted()),
				zap.Int("status", resp.StatusCode()),
				zap.Duration("elapsed", time.Since(start)))
		}
		s.post(func() { complete(resp, err) })
	}()
}

func (s *Surface) installFetch() error {
	return s.vm.Set("fetch", func(call goja.FunctionCall) goja.Value {
		promise, resolve, reject := s.vm.NewPromise()
		o, err := s.fetchRequest(call.Argument(0), call.Argument(1))
		if err != nil {
			_ = reject(s.vm.NewTypeError(err.Error()))
			return s.vm.ToValue(promise)
		}
		s.dispatch(o, func(resp *resty.Response, err error) {
			if err != nil {
				_ = reject(s.vm.NewTypeError("Failed to fetch: " + err.Error()))
				return
			}
			_ = resolve(s.newResponse(o.url, resp))
		})
		return s.vm.ToValue(promise)
	})
}

func (s *Surface) fetchRequest(input, init goja.Value) (*outbound, error) {
	target, err := s.resolve(input.String())
	if err != nil {
		return nil, err
	}
	o := &outbound{method: http.MethodGet, url: target}
	mode := "same-origin"

	if opts, ok := init.(*goja.Object); ok {
		if m := opts.Get("method"); m != nil && !goja.IsUndefined(m) {
			o.method = strings.ToUpper(m.String())
		}
		if c := opts.Get("credentials"); c != nil && !goja.IsUndefined(c) {
			mode = c.String()
		}
		if h, ok := opts.Get("headers").(*goja.Object); ok {
			o.headers = headersOf(h)
		}
		if err := s.snapshotBody(o, opts.Get("body")); err != nil {
			return nil, err
		}
	}
	if (o.hasBody || o.hasForm) && (o.method == http.MethodGet || o.method == http.MethodHead) {
		return nil, errors.New("request with GET/HEAD method cannot have body")
	}
	o.cookies = s.sendsCookies(mode, target)
	return o, nil
}

func headersOf(obj *goja.Object) []header {
	keys := obj.Keys()
	sort.Strings(keys)
	out := make([]header, 0, len(keys))
	for _, k := range keys {
		out = append(out, header{name: k, value: obj.Get(k).String()})
	}
	return out
}

func (s *Surface) newResponse(target *url.URL, resp *resty.Response) *goja.Object {
	code := resp.StatusCode()
	body := resp.Body()
	obj := s.vm.NewObject()
	_ = obj.Set("status", code)
	_ = obj.Set("ok", code >= 200 && code < 300)
	_ = obj.Set("statusText", http.StatusText(code))
	_ = obj.Set("url", target.String())
	_ = obj.Set("headers", s.headerObject(resp.Header()))
	_ = obj.Set("text", func(goja.FunctionCall) goja.Value {
		return s.resolved(string(body))
	})
	_ = obj.Set("json", func(goja.FunctionCall) goja.Value {
		var v interface{}
		if err := sonic.Unmarshal(body, &v); err != nil {
			return s.rejected(fmt.Errorf("invalid JSON in response body: %w", err))
		}
		return s.resolved(v)
	})
	_ = obj.Set("blob", func(goja.FunctionCall) goja.Value {
		return s.resolved(s.newBlob(append([]byte{}, body...), resp.Header().Get("Content-Type")))
	})
	_ = obj.Set("arrayBuffer", func(goja.FunctionCall) goja.Value {
		return s.resolved(s.vm.NewArrayBuffer(append([]byte{}, body...)))
	})
	return obj
}

func (s *Surface) headerObject(h http.Header) *goja.Object {
	obj := s.vm.NewObject()
	_ = obj.Set("get", func(c goja.FunctionCall) goja.Value {
		values := h.Values(c.Argument(0).String())
		if len(values) == 0 {
			return goja.Null()
		}
		return s.vm.ToValue(strings.Join(values, ", "))
	})
	_ = obj.Set("has", func(c goja.FunctionCall) goja.Value {
		return s.vm.ToValue(len(h.Values(c.Argument(0).String())) > 0)
	})
	return obj
}

func (s *Surface) rejected(err error) goja.Value {
	p, _, reject := s.vm.NewPromise()
	_ = reject(s.vm.NewGoError(err))
	return s.vm.ToValue(p)
}

// xhr is the Go side of one XMLHttpRequest.
type xhr struct {
	method   string
	url      string
	headers  []header
	response http.Header
	sent     bool
	aborted  bool
}

func (s *Surface) installXHR() error {
	return s.vm.Set("XMLHttpRequest", func(call goja.ConstructorCall) *goja.Object {
		x := &xhr{}
		obj := call.This
		_ = obj.Set("readyState", 0)
		_ = obj.Set("status", 0)
		_ = obj.Set("statusText", "")
		_ = obj.Set("responseText", "")
		_ = obj.Set("timeout", 0)
		_ = obj.Set("withCredentials", false)

		_ = obj.Set("open", func(c goja.FunctionCall) goja.Value {
			x.method = strings.ToUpper(c.Argument(0).String())
			x.url = c.Argument(1).String()
			x.headers, x.sent, x.aborted = nil, false, false
			s.xhrState(obj, 1)
			return goja.Undefined()
		})
		_ = obj.Set("setRequestHeader", func(c goja.FunctionCall) goja.Value {
			if x.method == "" || x.sent {
				panic(s.vm.NewGoError(errors.New("setRequestHeader: the object's state must be OPENED")))
			}
			x.headers = append(x.headers, header{name: c.Argument(0).String(), value: c.Argument(1).String()})
			return goja.Undefined()
		})
		_ = obj.Set("getResponseHeader", func(c goja.FunctionCall) goja.Value {
			if x.response == nil {
				return goja.Null()
			}
			values := x.response.Values(c.Argument(0).String())
			if len(values) == 0 {
				return goja.Null()
			}
			return s.vm.ToValue(strings.Join(values, ", "))
		})
		_ = obj.Set("abort", func(goja.FunctionCall) goja.Value {
			x.aborted = true
			return goja.Undefined()
		})
		_ = obj.Set("send", func(c goja.FunctionCall) goja.Value {
			s.xhrSend(obj, x, c.Argument(0))
			return goja.Undefined()
		})
		return obj
	})
}

func (s *Surface) xhrSend(obj *goja.Object, x *xhr, body goja.Value) {
	if x.method == "" || x.sent {
		panic(s.vm.NewGoError(errors.New("send: the object's state must be OPENED")))
	}
	target, err := s.resolve(x.url)
	if err != nil {
		panic(s.vm.NewTypeError(err.Error()))
	}
	o := &outbound{method: x.method, url: target, headers: x.headers}
	if err := s.snapshotBody(o, body); err != nil {
		panic(s.vm.NewTypeError(err.Error()))
	}
	if o.method == http.MethodHead {
		o.body, o.hasBody, o.form, o.hasForm = nil, false, nil, false
	}
	mode := "same-origin"
	if obj.Get("withCredentials").ToBoolean() {
		mode = "include"
	}
	o.cookies = s.sendsCookies(mode, target)
	o.timeout = time.Duration(obj.Get("timeout").ToInteger()) * time.Millisecond
	x.sent = true

	s.dispatch(o, func(resp *resty.Response, err error) {
		if x.aborted {
			s.xhrState(obj, 4)
			s.fire(obj, "onabort")
			s.fire(obj, "onloadend")
			return
		}
		if err != nil {
			s.xhrState(obj, 4)
			if isTimeout(err) {
				s.fire(obj, "ontimeout")
			} else {
				s.fire(obj, "onerror")
			}
			s.fire(obj, "onloadend")
			return
		}
		x.response = resp.Header()
		_ = obj.Set("status", resp.StatusCode())
		_ = obj.Set("statusText", http.StatusText(resp.StatusCode()))
		_ = obj.Set("responseText", string(resp.Body()))
		_ = obj.Set("responseURL", target.String())
		s.xhrState(obj, 4)
		s.fire(obj, "onload")
		s.fire(obj, "onloadend")
	})
}

func (s *Surface) xhrState(obj *goja.Object, state int) {
	_ = obj.Set("readyState", state)
	s.fire(obj, "onreadystatechange")
}

// fire calls obj[handler] if page code installed one.
func (s *Surface) fire(obj *goja.Object, handler string) {
	fn, ok := goja.AssertFunction(obj.Get(handler))
	if !ok {
		return
	}
	if _, err := fn(obj); err != nil {
		s.log.Warn("request callback failed", zap.String("handler", handler), zap.Error(err))
	}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
}
