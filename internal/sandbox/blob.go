package sandbox

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
)

const (
	blobSlot = "__blob"
	formSlot = "__form"
)

// blob is the Go side of a page Blob.
type blob struct {
	data []byte
	typ  string
}

type formEntry struct {
	name     string
	value    string
	file     *blob
	fileName string
}

// form is the Go side of a page FormData, in append order.
type form struct {
	entries []formEntry
}

var errInvalidBase64 = errors.New("the string to be decoded is not correctly encoded")

// decodeBase64 follows the forgiving-base64 rules: ASCII whitespace is
// ignored and padding is optional.
func decodeBase64(in string) ([]byte, error) {
	clean := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\f', '\r':
			return -1
		}
		return r
	}, in)
	clean = strings.TrimRight(clean, "=")
	if len(clean)%4 == 1 {
		return nil, errInvalidBase64
	}
	raw, err := base64.RawStdEncoding.DecodeString(clean)
	if err != nil {
		return nil, errInvalidBase64
	}
	return raw, nil
}

// binaryString maps each byte to the code point of the same value, which is
// what atob hands back to page code.
func binaryString(raw []byte) string {
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes)
}

func (s *Surface) installEncoding() error {
	if err := s.vm.Set("atob", func(call goja.FunctionCall) goja.Value {
		raw, err := decodeBase64(call.Argument(0).String())
		if err != nil {
			panic(s.vm.NewGoError(fmt.Errorf("atob: %w", err)))
		}
		return s.vm.ToValue(binaryString(raw))
	}); err != nil {
		return err
	}
	return s.vm.Set("btoa", func(call goja.FunctionCall) goja.Value {
		in := call.Argument(0).String()
		raw := make([]byte, 0, len(in))
		for _, r := range in {
			if r > 0xff {
				panic(s.vm.NewGoError(errors.New("btoa: string contains characters outside of the Latin1 range")))
			}
			raw = append(raw, byte(r))
		}
		return s.vm.ToValue(base64.StdEncoding.EncodeToString(raw))
	})
}

func (s *Surface) installBlob() error {
	return s.vm.Set("Blob", func(call goja.ConstructorCall) *goja.Object {
		b := &blob{}
		if parts, ok := call.Argument(0).(*goja.Object); ok {
			length := int(parts.Get("length").ToInteger())
			for i := 0; i < length; i++ {
				chunk, err := s.bytesOf(parts.Get(fmt.Sprint(i)))
				if err != nil {
					panic(s.vm.NewTypeError(err.Error()))
				}
				b.data = append(b.data, chunk...)
			}
		}
		if opts, ok := call.Argument(1).(*goja.Object); ok {
			if t := opts.Get("type"); t != nil && !goja.IsUndefined(t) {
				b.typ = strings.ToLower(t.String())
			}
		}
		s.wrapBlob(call.This, b)
		return call.This
	})
}

// wrapBlob exposes b through obj.
func (s *Surface) wrapBlob(obj *goja.Object, b *blob) {
	_ = obj.DefineDataProperty(blobSlot, s.vm.ToValue(b), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
	_ = obj.Set("size", len(b.data))
	_ = obj.Set("type", b.typ)
	_ = obj.Set("text", func(goja.FunctionCall) goja.Value {
		return s.resolved(string(b.data))
	})
	_ = obj.Set("arrayBuffer", func(goja.FunctionCall) goja.Value {
		return s.resolved(s.vm.NewArrayBuffer(append([]byte{}, b.data...)))
	})
}

func (s *Surface) newBlob(data []byte, typ string) *goja.Object {
	obj := s.vm.NewObject()
	s.wrapBlob(obj, &blob{data: data, typ: typ})
	return obj
}

// resolved returns a promise already fulfilled with v.
func (s *Surface) resolved(v interface{}) goja.Value {
	p, resolve, _ := s.vm.NewPromise()
	_ = resolve(v)
	return s.vm.ToValue(p)
}

func blobOf(v goja.Value) (*blob, bool) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	slot := obj.Get(blobSlot)
	if slot == nil {
		return nil, false
	}
	b, ok := slot.Export().(*blob)
	return b, ok
}

func formOf(v goja.Value) (*form, bool) {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, false
	}
	slot := obj.Get(formSlot)
	if slot == nil {
		return nil, false
	}
	f, ok := slot.Export().(*form)
	return f, ok
}

// bytesOf reads a Blob part: a Blob, an ArrayBuffer, a typed array or view,
// an array of byte values, or anything else as its string form.
func (s *Surface) bytesOf(v goja.Value) ([]byte, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil, errors.New("blob part is null or undefined")
	}
	if b, ok := blobOf(v); ok {
		return b.data, nil
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return []byte(v.String()), nil
	}

	switch x := obj.Export().(type) {
	case []byte:
		return append([]byte{}, x...), nil
	case goja.ArrayBuffer:
		return append([]byte{}, x.Bytes()...), nil
	}

	if buf, ok := obj.Get("buffer").(*goja.Object); ok {
		if ab, ok := buf.Export().(goja.ArrayBuffer); ok {
			all := ab.Bytes()
			off := int(obj.Get("byteOffset").ToInteger())
			n := int(obj.Get("byteLength").ToInteger())
			if off >= 0 && n >= 0 && off+n <= len(all) {
				return append([]byte{}, all[off:off+n]...), nil
			}
		}
	}

	if l := obj.Get("length"); l != nil && !goja.IsUndefined(l) {
		n := int(l.ToInteger())
		out := make([]byte, n)
		for i := 0; i < n; i++ {
			out[i] = byte(obj.Get(fmt.Sprint(i)).ToInteger())
		}
		return out, nil
	}
	return []byte(v.String()), nil
}

func (s *Surface) installFormData() error {
	return s.vm.Set("FormData", func(call goja.ConstructorCall) *goja.Object {
		f := &form{}
		obj := call.This
		_ = obj.DefineDataProperty(formSlot, s.vm.ToValue(f), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)

		_ = obj.Set("append", func(c goja.FunctionCall) goja.Value {
			f.entries = append(f.entries, s.formEntry(c))
			return goja.Undefined()
		})
		_ = obj.Set("set", func(c goja.FunctionCall) goja.Value {
			entry := s.formEntry(c)
			f.remove(entry.name)
			f.entries = append(f.entries, entry)
			return goja.Undefined()
		})
		_ = obj.Set("delete", func(c goja.FunctionCall) goja.Value {
			f.remove(c.Argument(0).String())
			return goja.Undefined()
		})
		_ = obj.Set("has", func(c goja.FunctionCall) goja.Value {
			name := c.Argument(0).String()
			for _, e := range f.entries {
				if e.name == name {
					return s.vm.ToValue(true)
				}
			}
			return s.vm.ToValue(false)
		})
		return obj
	})
}

func (s *Surface) formEntry(c goja.FunctionCall) formEntry {
	entry := formEntry{name: c.Argument(0).String()}
	if b, ok := blobOf(c.Argument(1)); ok {
		entry.file = b
		entry.fileName = "blob"
		if name := c.Argument(2); !goja.IsUndefined(name) && !goja.IsNull(name) {
			entry.fileName = name.String()
		}
		return entry
	}
	entry.value = c.Argument(1).String()
	return entry
}

func (f *form) remove(name string) {
	kept := f.entries[:0]
	for _, e := range f.entries {
		if e.name != name {
			kept = append(kept, e)
		}
	}
	f.entries = kept
}
