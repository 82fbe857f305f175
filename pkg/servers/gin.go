package servers

import (
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type ginServer struct {
	base
	engine *gin.Engine
}

func newGin(opts Options) Server {
	gin.SetMode(gin.ReleaseMode)

	s := &ginServer{base: newBase("gin", opts), engine: gin.New()}
	s.engine.Use(gin.Recovery())
	s.engine.Use(requestLogger(opts.Logger.Named("gin")))
	if opts.CORS {
		s.engine.Use(cors.New(cors.Config{
			AllowAllOrigins: true,
			AllowMethods:    []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
			AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
			MaxAge:          12 * time.Hour,
		}))
	}
	s.engine.NoRoute(func(c *gin.Context) {
		// NoRoute presets 404; the mounted handler decides the status.
		c.Status(http.StatusOK)
		s.serveMounted(c.Writer, c.Request)
	})
	return s
}

func (s *ginServer) Mount(h http.Handler) { s.setHandler(h) }

func (s *ginServer) Listen(addr string, onReady func(net.Addr)) error {
	return s.listen(addr, s.engine, onReady)
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}
