package relay

import (
	_ "embed"
	"net/http"
	"time"

	"github.com/bhandras/greeter/internal/metrics"
	"github.com/bhandras/greeter/pkg/logger"
	"github.com/bhandras/greeter/pkg/wire"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// BridgePath serves the wallet bridge page. The wallet token travels in the
// URL fragment so it never reaches the relay's access log.
const BridgePath = "/bridge"

//go:embed web/bridge.html
var bridgePage []byte

// NewRouter mounts the relay endpoints: the bridge page, the socket.io
// endpoint, a health check and, when m is non-nil, the metrics scrape.
func NewRouter(s *Server, m *metrics.Metrics) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Content-Type"},
		ExposeHeaders:   []string{"Content-Length"},
		MaxAge:          12 * time.Hour,
	}))
	router.Use(loggingMiddleware())

	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "greeter relay")
	})
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":   "ok",
			"pairings": s.Registry().Len(),
		})
	})
	router.GET(BridgePath, func(c *gin.Context) {
		c.Header("Cache-Control", "no-store")
		c.Data(http.StatusOK, "text/html; charset=utf-8", bridgePage)
	})
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	router.Any(wire.SocketPath, s.HandleSocketIO())
	router.Any(wire.SocketPath+"/*any", s.HandleSocketIO())
	return router
}

// loggingMiddleware logs requests at trace level. Query strings are left out;
// socket.io polling puts session ids there.
func loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Tracef("[%s] %s - %d (%v)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
