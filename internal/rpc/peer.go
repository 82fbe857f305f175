package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultTimeout bounds every call unless Options.Timeout says otherwise.
const DefaultTimeout = time.Second

const tracerName = "github.com/photon-dev/photon/internal/rpc"

// HandlerFunc serves one method. params is the raw JSON sent by the caller.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Observer is notified after every outgoing call.
type Observer interface {
	ObserveCall(method, status string, d time.Duration)
}

// Options configures a Peer.
type Options struct {
	// Timeout bounds every call. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Logger receives protocol diagnostics. Defaults to a no-op logger.
	Logger *zap.Logger

	// Observer, if set, records call outcomes.
	Observer Observer

	// Tracer creates call spans. Defaults to the global otel tracer.
	Tracer trace.Tracer
}

type message struct {
	ID     string          `json:"id"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RemoteError    `json:"error,omitempty"`
}

// Peer is one end of a duplex RPC channel. Both ends can call and serve.
type Peer struct {
	r    io.Reader
	w    io.WriteCloser
	opts Options

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]chan *message
	handlers map[string]HandlerFunc

	closed     chan struct{}
	closeOnce  sync.Once
	closeErr   error
	writerOnce sync.Once
}

// NewPeer creates a peer reading frames from r and writing frames to w.
// Call Serve to start processing incoming frames.
func NewPeer(r io.Reader, w io.WriteCloser, opts Options) *Peer {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}
	return &Peer{
		r:        r,
		w:        w,
		opts:     opts,
		pending:  make(map[string]chan *message),
		handlers: make(map[string]HandlerFunc),
		closed:   make(chan struct{}),
	}
}

// Handle registers the handler for method, replacing any previous one.
func (p *Peer) Handle(method string, h HandlerFunc) {
	p.mu.Lock()
	p.handlers[method] = h
	p.mu.Unlock()
}

// Timeout returns the default per-call timeout.
func (p *Peer) Timeout() time.Duration {
	return p.opts.Timeout
}

// Call invokes method on the remote side with the default timeout and
// decodes the result into out (which may be nil).
func (p *Peer) Call(ctx context.Context, method string, params, out any) Result {
	return p.CallTimeout(ctx, p.opts.Timeout, method, params, out)
}

// CallTimeout is Call with an explicit timeout.
func (p *Peer) CallTimeout(ctx context.Context, timeout time.Duration, method string, params, out any) Result {
	start := time.Now()
	ctx, span := p.opts.Tracer.Start(ctx, "rpc."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("rpc.method", method)),
	)

	res := p.call(ctx, timeout, method, params, out)

	span.SetAttributes(attribute.String("rpc.status", res.Status.String()))
	if !res.OK() {
		span.SetStatus(codes.Error, res.Status.String())
		if res.Err != nil {
			span.RecordError(res.Err)
		}
	}
	span.End()

	if p.opts.Observer != nil {
		p.opts.Observer.ObserveCall(method, res.Status.String(), time.Since(start))
	}
	return res
}

func (p *Peer) call(ctx context.Context, timeout time.Duration, method string, params, out any) Result {
	select {
	case <-p.closed:
		return failed(method, ErrClosed)
	default:
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return failed(method, fmt.Errorf("encode params: %w", err))
	}

	id := uuid.NewString()
	ch := make(chan *message, 1)
	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, id)
		p.mu.Unlock()
	}()

	// The write runs beside the timer so a peer that stopped reading
	// cannot stall the caller past its timeout.
	sent := make(chan error, 1)
	go func() {
		sent <- p.send(&message{ID: id, Method: method, Params: raw})
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case err := <-sent:
			if err != nil {
				return failed(method, err)
			}
			sent = nil
		case msg := <-ch:
			if msg.Error != nil {
				return failed(method, msg.Error)
			}
			if out != nil && len(msg.Result) > 0 {
				if err := json.Unmarshal(msg.Result, out); err != nil {
					return failed(method, fmt.Errorf("decode result: %w", err))
				}
			}
			return ok(method)
		case <-timer.C:
			p.opts.Logger.Debug("rpc call timed out",
				zap.String("method", method),
				zap.Duration("timeout", timeout),
			)
			return timedOut(method)
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return timedOut(method)
			}
			return failed(method, ctx.Err())
		case <-p.closed:
			return failed(method, ErrClosed)
		}
	}
}

// Notify sends a request without waiting for the answer.
func (p *Peer) Notify(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return p.send(&message{ID: uuid.NewString(), Method: method, Params: raw})
}

func (p *Peer) send(msg *message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	select {
	case <-p.closed:
		return ErrClosed
	default:
	}
	return WriteFrame(p.w, data)
}

// Serve reads frames until the reader fails or the peer is closed.
// It returns nil when the remote side closes the channel cleanly.
func (p *Peer) Serve(ctx context.Context) error {
	for {
		payload, err := ReadFrame(p.r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = nil
			}
			p.shutdown(err)
			return err
		}

		var msg message
		if err := json.Unmarshal(payload, &msg); err != nil {
			p.opts.Logger.Warn("rpc: dropping malformed message", zap.Error(err))
			continue
		}

		if msg.Method != "" {
			go p.dispatch(ctx, &msg)
			continue
		}

		p.mu.Lock()
		ch, ok := p.pending[msg.ID]
		p.mu.Unlock()
		if !ok {
			// Late answer to a call that already timed out.
			p.opts.Logger.Debug("rpc: response for unknown call", zap.String("id", msg.ID))
			continue
		}
		select {
		case ch <- &msg:
		default:
		}
	}
}

func (p *Peer) dispatch(ctx context.Context, req *message) {
	p.mu.Lock()
	h, ok := p.handlers[req.Method]
	p.mu.Unlock()

	resp := &message{ID: req.ID}
	if !ok {
		resp.Error = &RemoteError{Message: "unknown method " + req.Method}
	} else {
		result, err := p.invoke(ctx, h, req)
		if err != nil {
			resp.Error = toRemoteError(err)
		} else if result != nil {
			raw, err := json.Marshal(result)
			if err != nil {
				resp.Error = &RemoteError{Message: "encode result: " + err.Error()}
			} else {
				resp.Result = raw
			}
		}
	}

	if err := p.send(resp); err != nil && !errors.Is(err, ErrClosed) {
		p.opts.Logger.Warn("rpc: failed to send response",
			zap.String("method", req.Method),
			zap.Error(err),
		)
	}
}

func (p *Peer) invoke(ctx context.Context, h HandlerFunc, req *message) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s handler: %v", req.Method, r)
		}
	}()
	return h(ctx, req.Params)
}

func toRemoteError(err error) *RemoteError {
	var remote *RemoteError
	if errors.As(err, &remote) {
		return remote
	}
	var coded interface{ ErrorCode() string }
	if errors.As(err, &coded) {
		return &RemoteError{Message: err.Error(), Code: coded.ErrorCode()}
	}
	return &RemoteError{Message: err.Error()}
}

// Done is closed once the peer shuts down.
func (p *Peer) Done() <-chan struct{} {
	return p.closed
}

// Err returns the error that shut the peer down, if any.
func (p *Peer) Err() error {
	select {
	case <-p.closed:
		return p.closeErr
	default:
		return nil
	}
}

// Close shuts the peer down and closes the writer. Pending calls fail
// with ErrClosed.
func (p *Peer) Close() error {
	p.shutdown(nil)
	var err error
	p.writerOnce.Do(func() {
		err = p.w.Close()
	})
	return err
}

func (p *Peer) shutdown(err error) {
	p.closeOnce.Do(func() {
		p.closeErr = err
		close(p.closed)
	})
}
