package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/orders/internal/models"
	"example.com/backstage/services/orders/internal/projections"
	"example.com/backstage/services/orders/internal/service"
)

// EventRequest is the request body for appending an order event
type EventRequest struct {
	EventType     string          `json:"eventType" binding:"required"`
	EventID       string          `json:"eventId"`
	CorrelationID string          `json:"correlationId"`
	CausationID   string          `json:"causationId"`
	Data          json.RawMessage `json:"data" binding:"required"`
}

// EventResponse describes one committed event
type EventResponse struct {
	EventID        string `json:"eventId"`
	AggregateID    string `json:"aggregateId"`
	EventType      string `json:"eventType"`
	SequenceNumber int64  `json:"sequenceNumber"`
}

func toEventResponses(events []models.Event) []EventResponse {
	out := make([]EventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, EventResponse{
			EventID:        e.EventID,
			AggregateID:    e.AggregateID,
			EventType:      e.EventType,
			SequenceNumber: e.SequenceNumber,
		})
	}
	return out
}

// appendEvent validates and appends a state-change event to an order
func (s *Server) appendEvent(c *gin.Context) {
	var req EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	committed, err := s.svc.AppendEvent(c.Request.Context(), service.AppendEventCommand{
		AggregateID:   c.Param("id"),
		EventType:     req.EventType,
		EventID:       req.EventID,
		CorrelationID: req.CorrelationID,
		CausationID:   req.CausationID,
		Data:          req.Data,
	})
	if err != nil {
		if errors.Is(err, service.ErrInvalidEvent) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		log.Error().Err(err).Str("orderId", c.Param("id")).Msg("Failed to append event")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to append event"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"events": toEventResponses(committed)})
}

// getOrder returns an order's read model
func (s *Server) getOrder(c *gin.Context) {
	model, err := s.svc.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, projections.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		log.Error().Err(err).Str("orderId", c.Param("id")).Msg("Failed to get order")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get order"})
		return
	}

	c.JSON(http.StatusOK, model)
}

// getEventHistory returns an order's events from a sequence number
func (s *Server) getEventHistory(c *gin.Context) {
	from, err := strconv.ParseInt(c.DefaultQuery("from", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from parameter"})
		return
	}

	events, err := s.svc.GetEventHistory(c.Request.Context(), c.Param("id"), from)
	if err != nil {
		log.Error().Err(err).Str("orderId", c.Param("id")).Msg("Failed to get event history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get event history"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"events": events})
}

// getEventStatistics summarizes an order's event history
func (s *Server) getEventStatistics(c *gin.Context) {
	stats, err := s.svc.GetEventStatistics(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.Error().Err(err).Str("orderId", c.Param("id")).Msg("Failed to get event statistics")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get event statistics"})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// listOrders pages through a read-model index dimension
func (s *Server) listOrders(c *gin.Context) {
	dimension := c.DefaultQuery("index", projections.IndexRecent)
	value := c.Query("value")

	switch dimension {
	case projections.IndexRecent:
	case projections.IndexUser, projections.IndexStatus, projections.IndexService:
		if value == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "value is required for index " + dimension})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown index " + dimension})
		return
	}

	offset, err := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 64)
	if err != nil || offset < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset parameter"})
		return
	}
	limit, err := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	if err != nil || limit < 1 || limit > 200 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit parameter"})
		return
	}

	orders, err := s.svc.ListOrders(c.Request.Context(), dimension, value, offset, limit)
	if err != nil {
		log.Error().Err(err).Str("index", dimension).Msg("Failed to list orders")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list orders"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"orders": orders})
}
