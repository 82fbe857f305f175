// Package servers hides the Go HTTP stack the dev listener runs on behind
// one small interface.
//
//	srv, err := servers.New("chi", servers.Options{Logger: logger})
//	if err != nil {
//	    return err
//	}
//	srv.Mount(handler)
//	go srv.Listen(":3000", func(addr net.Addr) {
//	    logger.Info("listening", zap.Stringer("addr", addr))
//	})
//
// Variants: "std" (net/http ServeMux), "chi" (go-chi router with
// Recoverer), "gin" (gin engine in release mode, optional CORS).
// Every variant passes the raw http.ResponseWriter through, so handlers
// can still hijack connections.
package servers
