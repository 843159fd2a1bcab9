package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"railsight/internal/report"
	"railsight/internal/timetable"
)

func (h *handler) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"service": "railsight", "status": "running"})
}

func (h *handler) health(c *gin.Context) {
	status, store := "ok", "ok"
	if h.engine.Degraded() {
		status, store = "degraded", "unavailable"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"store":     store,
		"timezone":  h.engine.Location().String(),
	})
}

func (h *handler) stations(c *gin.Context) {
	dir, ok := optionalDirection(c)
	if !ok {
		return
	}
	if dir == "" {
		c.JSON(http.StatusOK, gin.H{"stations": h.engine.Catalog().AllStations()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"direction": dir, "stations": h.engine.Catalog().Stations(dir)})
}

type departuresResponse struct {
	Station    string                `json:"station"`
	Direction  timetable.Direction   `json:"direction"`
	After      timetable.TimeOfDay   `json:"after"`
	Next       *timetable.TimeOfDay  `json:"next"`
	Departures []timetable.TimeOfDay `json:"departures,omitempty"`
}

func (h *handler) departures(c *gin.Context) {
	station := c.Param("station")
	if !h.engine.Catalog().Contains(station) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown station"})
		return
	}
	dir, ok := requiredDirection(c)
	if !ok {
		return
	}
	after := timetable.Of(h.engine.Now())
	if v := c.Query("after"); v != "" {
		t, err := timetable.ParseTimeOfDay(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		after = t
	}
	all, err := strconv.ParseBool(c.DefaultQuery("all", "false"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "all must be a boolean"})
		return
	}

	idx := h.engine.Timetable()
	resp := departuresResponse{Station: station, Direction: dir, After: after}
	if next, ok := idx.NextDeparture(station, dir, after); ok {
		resp.Next = &next
	}
	if all {
		resp.Departures = idx.AllDeparturesAfter(station, dir, after)
	}
	c.JSON(http.StatusOK, resp)
}

// stationTimetable returns every departure of the day for one station.
func (h *handler) stationTimetable(c *gin.Context) {
	station := c.Param("station")
	if !h.engine.Catalog().Contains(station) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown station"})
		return
	}
	dir, ok := requiredDirection(c)
	if !ok {
		return
	}
	deps := h.engine.Timetable().Departures(station, dir)
	if deps == nil {
		deps = []timetable.TimeOfDay{}
	}
	c.JSON(http.StatusOK, gin.H{"station": station, "direction": dir, "departures": deps})
}

type submitRequest struct {
	Station   string `json:"station" binding:"required"`
	Direction string `json:"direction" binding:"required"`
}

func (h *handler) submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	dir, err := timetable.ParseDirection(req.Direction)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r, err := h.engine.Submit(c.Request.Context(), req.Station, dir, c.GetString("userID"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func (h *handler) mine(c *gin.Context) {
	reports, err := h.engine.MyReports(c.Request.Context(), c.GetString("userID"))
	if err != nil {
		writeError(c, err, gin.H{"reports": reports})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

func (h *handler) sightings(c *gin.Context) {
	dir, ok := optionalDirection(c)
	if !ok {
		return
	}
	s, err := h.engine.Sightings(c.Request.Context(), dir)
	if err != nil {
		writeError(c, err, gin.H{"buckets": s.Buckets, "stations": s.Stations})
		return
	}
	c.JSON(http.StatusOK, s)
}

func (h *handler) stationSightings(c *gin.Context) {
	dir, ok := requiredDirection(c)
	if !ok {
		return
	}
	reports, err := h.engine.StationReports(c.Request.Context(), c.Param("station"), dir)
	if err != nil {
		writeError(c, err, gin.H{"reports": reports})
		return
	}
	c.JSON(http.StatusOK, gin.H{"station": c.Param("station"), "direction": dir, "reports": reports})
}

type voteRequest struct {
	Vote string `json:"vote" binding:"required"`
}

func (h *handler) vote(c *gin.Context) {
	var req voteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	v, err := report.ParseVote(req.Vote)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	tally, err := h.engine.CastVote(c.Request.Context(), c.Param("id"), c.GetString("userID"), v)
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, tally)
}

func (h *handler) myVote(c *gin.Context) {
	v, err := h.engine.CurrentVote(c.Request.Context(), c.Param("id"), c.GetString("userID"))
	if err != nil {
		writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusOK, gin.H{"vote": v, "hasVoted": v != report.VoteNone})
}

func (h *handler) delete(c *gin.Context) {
	if err := h.engine.Delete(c.Request.Context(), c.Param("id"), c.GetString("userID")); err != nil {
		writeError(c, err, nil)
		return
	}
	c.Status(http.StatusNoContent)
}

func optionalDirection(c *gin.Context) (timetable.Direction, bool) {
	v := c.Query("direction")
	if v == "" {
		return "", true
	}
	dir, err := timetable.ParseDirection(v)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return "", false
	}
	return dir, true
}

func requiredDirection(c *gin.Context) (timetable.Direction, bool) {
	if c.Query("direction") == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "direction is required"})
		return "", false
	}
	return optionalDirection(c)
}

// writeError maps engine errors onto HTTP statuses. extra is merged into the
// body so degraded reads still carry their empty collections.
func writeError(c *gin.Context, err error, extra gin.H) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, report.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, report.ErrUnauthorized):
		status = http.StatusForbidden
	case errors.Is(err, report.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, report.ErrVoteConflict):
		status = http.StatusConflict
	case errors.Is(err, report.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	body := gin.H{"error": err.Error()}
	for k, v := range extra {
		body[k] = v
	}
	c.JSON(status, body)
}
