// Package httpapi is a thin JSON front-end over report.Engine. Callers
// identify themselves with the X-User-ID header.
package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"railsight/internal/report"
)

const UserHeader = "X-User-ID"

// HTTPMetrics records served requests. metrics.Collector implements it.
type HTTPMetrics interface {
	ObserveHTTP(method, route string, status int, d time.Duration)
}

type Params struct {
	Engine  *report.Engine
	Metrics HTTPMetrics
	Logger  *slog.Logger
	// Started is the process start, reported as uptime by /health.
	Started time.Time
}

type handler struct {
	engine  *report.Engine
	log     *slog.Logger
	started time.Time
}

func NewRouter(p Params) *gin.Engine {
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Started.IsZero() {
		p.Started = time.Now()
	}
	h := &handler{engine: p.Engine, log: p.Logger, started: p.Started}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(p.Logger), metricsMiddleware(p.Metrics), cors())

	r.GET("/", h.root)
	r.GET("/health", h.health)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	v1 := r.Group("/v1")
	{
		v1.GET("/stations", h.stations)
		v1.GET("/stations/:station/departures", h.departures)
		v1.GET("/stations/:station/timetable", h.stationTimetable)
		v1.GET("/sightings", h.sightings)
		v1.GET("/sightings/:station", h.stationSightings)

		user := v1.Group("", requireUser())
		user.POST("/reports", h.submit)
		user.GET("/reports/mine", h.mine)
		user.POST("/reports/:id/votes", h.vote)
		user.GET("/reports/:id/votes/me", h.myVote)
		user.DELETE("/reports/:id", h.delete)
	}
	return r
}
