package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ReplayRequest bounds a per-order replay. ToSequence zero means no upper
// bound.
type ReplayRequest struct {
	FromSequence int64 `json:"fromSequence" binding:"omitempty,min=1"`
	ToSequence   int64 `json:"toSequence" binding:"omitempty,min=1"`
}

// ReplayWindowRequest bounds a cross-order replay by time
type ReplayWindowRequest struct {
	Start time.Time `json:"start" binding:"required"`
	End   time.Time `json:"end" binding:"required"`
}

// replayOrder re-emits an order's events in a sequence range
func (s *Server) replayOrder(c *gin.Context) {
	var req ReplayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.ToSequence > 0 && req.FromSequence > req.ToSequence {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fromSequence must not exceed toSequence"})
		return
	}

	published, err := s.svc.ReplayRange(c.Request.Context(), c.Param("id"), req.FromSequence, req.ToSequence)
	if err != nil {
		log.Error().Err(err).Str("orderId", c.Param("id")).Msg("Replay failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "replay failed", "published": published})
		return
	}

	c.JSON(http.StatusOK, gin.H{"published": published})
}

// replayWindow re-emits every event in a time window, across orders
func (s *Server) replayWindow(c *gin.Context) {
	var req ReplayWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !req.End.After(req.Start) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must be after start"})
		return
	}

	published, err := s.svc.ReplayWindow(c.Request.Context(), req.Start, req.End)
	if err != nil {
		log.Error().Err(err).Msg("Window replay failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "replay failed", "published": published})
		return
	}

	c.JSON(http.StatusOK, gin.H{"published": published})
}

// rebuildProjections recomputes every read model from the event store
func (s *Server) rebuildProjections(c *gin.Context) {
	rebuilt, err := s.svc.RebuildAllProjections(c.Request.Context())
	if err != nil {
		log.Error().Err(err).Msg("Projection rebuild failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rebuild failed", "rebuilt": rebuilt})
		return
	}

	c.JSON(http.StatusOK, gin.H{"rebuilt": rebuilt})
}

// sweepStale marks terminally failed outbox events
func (s *Server) sweepStale(c *gin.Context) {
	if err := s.svc.SweepStale(c.Request.Context()); err != nil {
		log.Error().Err(err).Msg("Stale sweep failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sweep failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// resetIdempotencyKey clears a processed marker after operator review
func (s *Server) resetIdempotencyKey(c *gin.Context) {
	key := c.Param("key")
	if err := s.svc.ResetIdempotencyKey(c.Request.Context(), key); err != nil {
		log.Error().Err(err).Str("key", key).Msg("Failed to reset idempotency key")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset key"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
