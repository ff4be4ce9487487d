package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"gallerygrab/internal/run"
	"gallerygrab/internal/session"
)

type startRunResponse struct {
	RunID string    `json:"run_id"`
	State run.State `json:"state"`
}

// API exposes the session protocol over HTTP: starting and cancelling runs,
// inspecting their state and event log, streaming live events, and serving
// the finished archive.
type API struct {
	runs *run.Manager
}

func NewAPI(runs *run.Manager) *API {
	return &API{runs: runs}
}

// RegisterRoutes registers API routes on the provided gin engine.
func (a *API) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/v1")
	{
		api.POST("/runs", a.StartRun)
		api.GET("/runs/:id", a.GetRun)
		api.POST("/runs/:id/cancel", a.CancelRun)
		api.GET("/runs/:id/events", a.StreamEvents)
		api.GET("/runs/:id/archive", a.DownloadArchive)
	}
}

// StartRun begins a new download run from the posted request.
func (a *API) StartRun(c *gin.Context) {
	var req session.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warn().Err(err).Msg("invalid start request")
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	id, err := a.runs.Start(req)
	switch {
	case errors.Is(err, run.ErrAlreadyRunning):
		log.Warn().Msg("rejecting start: a run is already active")
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, run.ErrInvalidConfig):
		log.Warn().Err(err).Msg("rejecting start: bad configuration")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		log.Error().Err(err).Msg("start failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	snap, _ := a.runs.Get(id)
	c.JSON(http.StatusAccepted, startRunResponse{RunID: id, State: snap.State})
}

// GetRun returns a snapshot of the run, including its recorded events.
func (a *API) GetRun(c *gin.Context) {
	id := c.Param("id")
	snap, ok := a.runs.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	c.JSON(http.StatusOK, snap)
}

// CancelRun signals cancellation for the run.
func (a *API) CancelRun(c *gin.Context) {
	id := c.Param("id")
	if err := a.runs.Cancel(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	log.Info().Str("run_id", id).Msg("cancellation requested")
	c.JSON(http.StatusAccepted, gin.H{"status": "cancelling"})
}

// StreamEvents streams the run's live session messages as server-sent
// events. The stream ends with the run's terminal event.
func (a *API) StreamEvents(c *gin.Context) {
	id := c.Param("id")
	ch, unsubscribe, ok := a.runs.Subscribe(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	defer unsubscribe()

	c.Stream(func(w io.Writer) bool {
		select {
		case msg, open := <-ch:
			if !open {
				return false
			}
			c.SSEvent(string(msg.Kind), msg)
			return !msg.Terminal()
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// DownloadArchive serves the finished archive file.
func (a *API) DownloadArchive(c *gin.Context) {
	id := c.Param("id")
	snap, ok := a.runs.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
		return
	}
	if snap.State != run.StateCompleted || snap.SinkHandle == "" {
		log.Warn().Str("run_id", id).Str("state", string(snap.State)).Msg("archive not ready to download")
		c.JSON(http.StatusBadRequest, gin.H{"error": "archive not ready"})
		return
	}
	c.FileAttachment(snap.SinkHandle, "archive-"+id+".zip")
}
