package broker

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/openmined/vcsws/internal/middlewares"
	"github.com/openmined/vcsws/internal/version"
)

func (s *Server) routes() (http.Handler, error) {
	r := gin.New()

	r.Use(middlewares.Logger())
	r.Use(gin.Recovery())
	r.Use(middlewares.SecurityHeaders())
	r.Use(middlewares.GZIP())
	r.Use(middlewares.CORS())

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)
	r.GET("/status", s.StatusHandler)
	r.GET("/rounds", s.RoundsHandler)

	ws := []gin.HandlerFunc{s.handleWebsocket}
	if s.config.RateLimit != "" {
		limit, err := middlewares.RateLimiter(s.config.RateLimit)
		if err != nil {
			return nil, err
		}
		ws = append([]gin.HandlerFunc{limit}, ws...)
	}
	r.GET("/ws", ws...)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "not found",
		})
	})

	return r.Handler(), nil
}

func IndexHandler(ctx *gin.Context) {
	ctx.String(http.StatusOK, version.DetailedWithApp())
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

func (s *Server) StatusHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"subscribers": s.registry.Len(),
		"rounds":      s.Rounds(),
		"version":     version.Version,
	})
}

const (
	defaultRoundsLimit = 20
	maxRoundsLimit     = 500
)

func (s *Server) RoundsHandler(ctx *gin.Context) {
	limit := defaultRoundsLimit
	if v := ctx.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			ctx.PureJSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxRoundsLimit)
	}

	records, err := s.history.Recent(limit)
	if err != nil {
		slog.Error("broker rounds query", "error", err)
		ctx.PureJSON(http.StatusInternalServerError, gin.H{"error": "round history unavailable"})
		return
	}
	ctx.PureJSON(http.StatusOK, gin.H{
		"rounds": records,
	})
}

func init() {
	gin.SetMode(gin.ReleaseMode)
}
