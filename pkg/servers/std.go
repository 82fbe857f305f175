package servers

import (
	"net"
	"net/http"
)

type stdServer struct {
	base
	mux *http.ServeMux
}

func newStd(opts Options) Server {
	s := &stdServer{base: newBase("std", opts), mux: http.NewServeMux()}
	s.mux.HandleFunc("/", s.serveMounted)
	return s
}

func (s *stdServer) Mount(h http.Handler) { s.setHandler(h) }

func (s *stdServer) Listen(addr string, onReady func(net.Addr)) error {
	return s.listen(addr, s.mux, onReady)
}
