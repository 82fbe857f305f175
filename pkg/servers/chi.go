package servers

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type chiServer struct {
	base
	router chi.Router
}

func newChi(opts Options) Server {
	s := &chiServer{base: newBase("chi", opts), router: chi.NewRouter()}
	s.router.Use(middleware.Recoverer)
	s.router.Handle("/*", http.HandlerFunc(s.serveMounted))
	return s
}

func (s *chiServer) Mount(h http.Handler) { s.setHandler(h) }

func (s *chiServer) Listen(addr string, onReady func(net.Addr)) error {
	return s.listen(addr, s.router, onReady)
}
