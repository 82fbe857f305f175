// Package universal converts between the two request handler models photon
// has to bridge.
//
// A NodeHandler is callback style: it receives a response writer, the
// request, and a next continuation it calls when it does not handle the
// request. A FetchHandler is request in, response out.
//
// ConnectToWeb turns a NodeHandler into a FetchHandler:
//
//	fetch := universal.ConnectToWeb(func(w http.ResponseWriter, r *http.Request, next universal.NextFunc) {
//	    if r.URL.Path != "/hello" {
//	        next(nil)
//	        return
//	    }
//	    w.Header().Set("Content-Type", "text/plain")
//	    w.Write([]byte("hello"))
//	})
//
//	resp, err := fetch(req) // resp == nil && err == nil: not handled
//
// Response bodies are streamed through an io.Pipe. A write on the handler
// side returns once the consumer has read it, so large bodies are never
// buffered whole.
//
// ConnectToNode and Handler go the other way, and Chain composes fetch
// handlers where the first non-nil response wins.
package universal
