package universal

import (
	"errors"
	"io"
	"net/http"
)

// ConnectToNode adapts a FetchHandler into a NodeHandler. An unhandled
// request calls next(nil); an error calls next(err).
func ConnectToNode(f FetchHandler) NodeHandler {
	return func(w http.ResponseWriter, r *http.Request, next NextFunc) {
		resp, err := f(r)
		if err != nil {
			next(err)
			return
		}
		if resp == nil {
			next(nil)
			return
		}
		if err := WriteResponse(w, resp); err != nil {
			next(err)
		}
	}
}

// Handler serves a FetchHandler over net/http. Unhandled requests get 404
// and errors get 500.
func Handler(f FetchHandler) http.Handler {
	return HandlerWithFallback(f, nil)
}

// HandlerWithFallback is Handler with a custom handler for unhandled requests.
func HandlerWithFallback(f FetchHandler, fallback http.Handler) http.Handler {
	if fallback == nil {
		fallback = http.NotFoundHandler()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ConnectToNode(f)(w, r, func(err error) {
			if err == nil {
				fallback.ServeHTTP(w, r)
				return
			}
			if errors.Is(err, r.Context().Err()) {
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
		})
	})
}

// WriteResponse copies resp onto w, flushing after every chunk so the body
// streams end to end. The response body is always closed.
func WriteResponse(w http.ResponseWriter, resp *http.Response) error {
	body := resp.Body
	if body == nil {
		body = http.NoBody
	}
	defer body.Close()

	dst := w.Header()
	for key, values := range resp.Header {
		dst[key] = append([]string(nil), values...)
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if IsNullBodyStatus(status) || body == http.NoBody {
		return nil
	}

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// Chain runs handlers in order and returns the first non-nil response or error.
func Chain(handlers ...FetchHandler) FetchHandler {
	return func(r *http.Request) (*http.Response, error) {
		for _, h := range handlers {
			resp, err := h(r)
			if err != nil || resp != nil {
				return resp, err
			}
		}
		return nil, nil
	}
}
