package universal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
	"golang.org/x/net/http/httpguts"
)

// NextFunc continues the surrounding chain. A nil error means "not handled here".
type NextFunc func(err error)

// NodeHandler is a callback style handler.
type NodeHandler func(w http.ResponseWriter, r *http.Request, next NextFunc)

// FetchHandler maps a request to a response. A nil response with a nil
// error means the request was not handled.
type FetchHandler func(r *http.Request) (*http.Response, error)

// ErrMalformedHeaders is returned when a header name or value cannot be
// represented on the other side of the adapter.
var ErrMalformedHeaders = errors.New("universal: malformed headers")

// nullBodyStatuses never carry a body.
var nullBodyStatuses = map[int]bool{
	100: true,
	101: true,
	102: true,
	103: true,
	204: true,
	205: true,
	304: true,
}

// IsNullBodyStatus reports whether a response with this status must not carry a body.
func IsNullBodyStatus(code int) bool {
	return nullBodyStatuses[code]
}

// Exchange is the loggable summary of one adapted request.
type Exchange struct {
	Method string
	URL    string
	Status int
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (e Exchange) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("method", e.Method)
	enc.AddString("url", e.URL)
	if e.Status != 0 {
		enc.AddInt("status", e.Status)
	}
	return nil
}

// NewExchange summarizes a request and its (possibly nil) response.
func NewExchange(r *http.Request, resp *http.Response) Exchange {
	e := Exchange{Method: r.Method, URL: r.URL.String()}
	if resp != nil {
		e.Status = resp.StatusCode
	}
	return e
}

type outcome struct {
	resp *http.Response
	err  error
}

// ConnectToWeb adapts a NodeHandler into a FetchHandler.
//
// The returned handler resolves with the captured response as soon as the
// handler writes, flushes or ends it; with (nil, nil) when the handler calls
// next(nil); and with an error when the handler calls next(err) or panics.
// A handler that returns without doing any of these produces an empty 200.
func ConnectToWeb(h NodeHandler) FetchHandler {
	return func(r *http.Request) (*http.Response, error) {
		req, err := newIncomingRequest(r)
		if err != nil {
			return nil, err
		}
		res := CreateServerResponse(req)

		out := make(chan outcome, 1)
		var once sync.Once
		deliver := func(o outcome) bool {
			delivered := false
			once.Do(func() {
				out <- o
				delivered = true
			})
			return delivered
		}

		res.OnReady(func(c Captured) {
			deliver(outcome{resp: c.response(req)})
		})
		next := func(err error) {
			if deliver(outcome{err: err}) {
				res.discard()
			}
		}

		go func() {
			defer func() {
				if p := recover(); p != nil {
					err := panicError(p)
					if deliver(outcome{err: err}) {
						res.discard()
					}
					res.abort(err)
				}
			}()
			h(res, req, next)
			_ = res.End()
		}()

		select {
		case o := <-out:
			return o.resp, o.err
		case <-r.Context().Done():
			if deliver(outcome{}) {
				res.discard()
			}
			return nil, r.Context().Err()
		}
	}
}

// newIncomingRequest builds the request handed to a NodeHandler. Repeated
// header values are joined with ", ", except Set-Cookie which keeps every value.
func newIncomingRequest(r *http.Request) (*http.Request, error) {
	ctx := r.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	req := r.Clone(ctx)

	header, err := flattenHeader(r.Header)
	if err != nil {
		return nil, err
	}
	req.Header = header

	if req.Body == nil {
		req.Body = http.NoBody
	}
	return req, nil
}

func flattenHeader(h http.Header) (http.Header, error) {
	out := make(http.Header, len(h))
	for key, values := range h {
		if !httpguts.ValidHeaderFieldName(key) {
			return nil, fmt.Errorf("%w: invalid name %q", ErrMalformedHeaders, key)
		}
		for _, v := range values {
			if !httpguts.ValidHeaderFieldValue(v) {
				return nil, fmt.Errorf("%w: invalid value for %q", ErrMalformedHeaders, key)
			}
		}
		canonical := http.CanonicalHeaderKey(key)
		if canonical == "Set-Cookie" || len(values) < 2 {
			out[canonical] = append([]string(nil), values...)
			continue
		}
		out[canonical] = []string{strings.Join(values, ", ")}
	}
	return out, nil
}

func panicError(p any) error {
	if err, ok := p.(error); ok {
		return err
	}
	return fmt.Errorf("%v", p)
}
