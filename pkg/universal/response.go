package universal

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
)

// Event is a lifecycle event of a ServerResponse.
type Event string

const (
	// EventFinish fires after End has flushed every byte to the body stream.
	EventFinish Event = "finish"
	// EventClose fires once, when the response ends or the consumer closes the body.
	EventClose Event = "close"
	// EventDrain fires after a write has been fully consumed.
	EventDrain Event = "drain"
)

var (
	// ErrEnded is returned by writes after End.
	ErrEnded = errors.New("universal: write after end")

	errDiscarded = errors.New("universal: response discarded")
)

// Captured is the finalized response state handed to OnReady callbacks.
type Captured struct {
	StatusCode    int
	StatusMessage string
	Header        http.Header
	Body          io.ReadCloser
}

func (c Captured) response(req *http.Request) *http.Response {
	status := strconv.Itoa(c.StatusCode) + " "
	if c.StatusMessage != "" {
		status += c.StatusMessage
	} else {
		status += http.StatusText(c.StatusCode)
	}

	resp := &http.Response{
		Status:        status,
		StatusCode:    c.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        c.Header,
		Body:          c.Body,
		ContentLength: -1,
		Request:       req,
	}
	if cl := c.Header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			resp.ContentLength = n
		}
	}

	if IsNullBodyStatus(c.StatusCode) {
		body := c.Body
		go func() {
			_, _ = io.Copy(io.Discard, body)
			_ = body.Close()
		}()
		resp.Body = http.NoBody
		resp.ContentLength = 0
	}
	return resp
}

// ServerResponse captures what a NodeHandler writes. It implements
// http.ResponseWriter and http.Flusher.
type ServerResponse struct {
	req *http.Request
	pr  *io.PipeReader
	pw  *io.PipeWriter

	mu            sync.Mutex
	header        http.Header
	status        int
	statusMessage string
	ended         bool
	captured      *Captured
	onReady       []func(Captured)
	listeners     map[Event][]func()

	readyOnce sync.Once
	closeOnce sync.Once
}

// CreateServerResponse returns a capturing response for r.
func CreateServerResponse(r *http.Request) *ServerResponse {
	pr, pw := io.Pipe()
	return &ServerResponse{
		req:       r,
		pr:        pr,
		pw:        pw,
		header:    make(http.Header),
		listeners: make(map[Event][]func()),
	}
}

// Request returns the request this response answers.
func (s *ServerResponse) Request() *http.Request {
	return s.req
}

// Header implements http.ResponseWriter.
func (s *ServerResponse) Header() http.Header {
	return s.header
}

// WriteHeader implements http.ResponseWriter. It only records the status;
// the response becomes ready on the first write, flush or end.
func (s *ServerResponse) WriteHeader(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.captured != nil {
		return
	}
	s.status = code
}

// WriteHead sets the status and, optionally, a status message and headers.
// Accepted forms:
//
//	WriteHead(200)
//	WriteHead(200, "OK")
//	WriteHead(200, headers)
//	WriteHead(200, "OK", headers)
//
// where headers is an http.Header, map[string]string or map[string][]string.
func (s *ServerResponse) WriteHead(status int, args ...any) error {
	if status < 100 || status > 999 {
		return fmt.Errorf("universal: invalid status code %d", status)
	}

	var message string
	var headers any
	switch len(args) {
	case 0:
	case 1:
		if m, ok := args[0].(string); ok {
			message = m
		} else {
			headers = args[0]
		}
	case 2:
		m, ok := args[0].(string)
		if !ok {
			return fmt.Errorf("universal: WriteHead status message must be a string, got %T", args[0])
		}
		message = m
		headers = args[1]
	default:
		return fmt.Errorf("universal: WriteHead takes at most 2 arguments after the status, got %d", len(args))
	}

	normalized, err := normalizeHeaders(headers)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.captured != nil {
		return errors.New("universal: headers already sent")
	}
	for key, values := range normalized {
		s.header[key] = values
	}
	s.status = status
	s.statusMessage = message
	return nil
}

func normalizeHeaders(v any) (http.Header, error) {
	out := make(http.Header)
	switch h := v.(type) {
	case nil:
	case http.Header:
		for key, values := range h {
			out[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
		}
	case map[string][]string:
		for key, values := range h {
			out[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
		}
	case map[string]string:
		for key, value := range h {
			out.Set(key, value)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported header type %T", ErrMalformedHeaders, v)
	}
	for key := range out {
		if key == "" {
			return nil, fmt.Errorf("%w: empty header name", ErrMalformedHeaders)
		}
	}
	return out, nil
}

// Write implements http.ResponseWriter. It blocks until the consumer reads p.
func (s *ServerResponse) Write(p []byte) (int, error) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return 0, ErrEnded
	}
	s.mu.Unlock()

	s.ready()
	if len(p) == 0 {
		return 0, nil
	}
	n, err := s.pw.Write(p)
	if err == nil {
		s.emit(EventDrain)
	}
	return n, err
}

// Flush implements http.Flusher. It makes the response ready without writing.
func (s *ServerResponse) Flush() {
	s.ready()
}

// End writes any final chunks and closes the body stream. Calling End
// more than once is a no-op.
func (s *ServerResponse) End(chunks ...[]byte) error {
	for _, c := range chunks {
		if _, err := s.Write(c); err != nil {
			return err
		}
	}

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	s.mu.Unlock()

	s.ready()
	err := s.pw.Close()
	s.emit(EventFinish)
	s.emitClose()
	return err
}

// Ended reports whether End has been called.
func (s *ServerResponse) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

// StatusCode returns the status recorded so far.
func (s *ServerResponse) StatusCode() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}

// OnReady registers fn to run once the response is ready. If it is already
// ready, fn runs immediately.
func (s *ServerResponse) OnReady(fn func(Captured)) {
	s.mu.Lock()
	if s.captured != nil {
		c := *s.captured
		s.mu.Unlock()
		fn(c)
		return
	}
	s.onReady = append(s.onReady, fn)
	s.mu.Unlock()
}

// On registers a lifecycle listener.
func (s *ServerResponse) On(ev Event, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[ev] = append(s.listeners[ev], fn)
}

func (s *ServerResponse) ready() {
	s.readyOnce.Do(func() {
		s.mu.Lock()
		if s.status == 0 {
			s.status = http.StatusOK
		}
		c := Captured{
			StatusCode:    s.status,
			StatusMessage: s.statusMessage,
			Header:        s.header.Clone(),
			Body:          &body{r: s.pr, res: s},
		}
		s.captured = &c
		callbacks := s.onReady
		s.onReady = nil
		s.mu.Unlock()

		for _, fn := range callbacks {
			fn(c)
		}
	})
}

func (s *ServerResponse) emit(ev Event) {
	s.mu.Lock()
	fns := append([]func(){}, s.listeners[ev]...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

func (s *ServerResponse) emitClose() {
	s.closeOnce.Do(func() {
		s.emit(EventClose)
	})
}

// discard makes pending and future writes fail instead of blocking.
func (s *ServerResponse) discard() {
	_ = s.pr.CloseWithError(errDiscarded)
}

// abort terminates the body stream with err.
func (s *ServerResponse) abort(err error) {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	_ = s.pw.CloseWithError(err)
	s.emitClose()
}

type body struct {
	r   *io.PipeReader
	res *ServerResponse
}

func (b *body) Read(p []byte) (int, error) {
	return b.r.Read(p)
}

func (b *body) Close() error {
	err := b.r.Close()
	b.res.emitClose()
	return err
}
