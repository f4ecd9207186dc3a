package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/orders/internal/taskqueue"
)

// TaskRequest is the request body for enqueueing a task
type TaskRequest struct {
	RoutingKey  string          `json:"routingKey" binding:"required"`
	Payload     json.RawMessage `json:"payload" binding:"required"`
	Priority    string          `json:"priority" binding:"omitempty,oneof=HIGH MEDIUM LOW"`
	MaxAttempts int             `json:"maxAttempts" binding:"omitempty,min=1,max=10"`
	ScheduleAt  *time.Time      `json:"scheduleAt"`
}

// enqueueTask puts a work item on the task queue
func (s *Server) enqueueTask(c *gin.Context) {
	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := s.svc.EnqueueTask(c.Request.Context(), taskqueue.Message{
		RoutingKey:  req.RoutingKey,
		Payload:     req.Payload,
		Priority:    req.Priority,
		MaxAttempts: req.MaxAttempts,
		ScheduleAt:  req.ScheduleAt,
	})
	if err != nil {
		log.Error().Err(err).Str("routingKey", req.RoutingKey).Msg("Failed to enqueue task")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue task"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"messageId": msg.MessageID})
}

// getQueueMetrics returns the task queue counters
func (s *Server) getQueueMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.QueueMetrics())
}

// getMetrics returns the full counter snapshot
func (s *Server) getMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.Metrics())
}
