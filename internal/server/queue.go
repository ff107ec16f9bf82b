package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	obsmiddleware "github.com/smallbiznis/stockline/internal/observability/logger"
	queuedomain "github.com/smallbiznis/stockline/internal/queue/domain"
)

type enqueueRequest struct {
	Items      []json.RawMessage `json:"items"`
	Source     string            `json:"source"`
	Priority   *int              `json:"priority"`
	MaxRetries *int              `json:"maxRetries"`
	BatchName  string            `json:"batchName"`
}

type clearCompletedRequest struct {
	OlderThanDays *int `json:"olderThanDays"`
}

const defaultRetentionDays = 7

func (s *Server) EnqueueItems(c *gin.Context) {
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.Set(obsmiddleware.KeyQueueSource, strings.TrimSpace(req.Source))

	res, err := s.queueSvc.Enqueue(c.Request.Context(), queuedomain.EnqueueRequest{
		Items:      req.Items,
		Source:     req.Source,
		Priority:   req.Priority,
		MaxRetries: req.MaxRetries,
		BatchName:  req.BatchName,
	})
	if err != nil {
		if errors.Is(err, queuedomain.ErrNoValidItems) && len(res.Rejected) > 0 {
			AbortWithError(c, rejectionErrors(res.Rejected))
			return
		}
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": res})
}

func rejectionErrors(rejected []queuedomain.Rejection) error {
	out := &ValidationErrors{Errors: make([]ValidationError, 0, len(rejected))}
	for _, r := range rejected {
		index := r.Index
		out.Errors = append(out.Errors, ValidationError{
			Index:   &index,
			Field:   r.Field,
			Code:    r.Code,
			Message: r.Reason,
		})
	}
	return out
}

func (s *Server) QueueStats(c *gin.Context) {
	stats, err := s.queueSvc.Stats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (s *Server) ListQueueItems(c *gin.Context) {
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be a number"))
		return
	}
	offset, err := parseOptionalInt(c.Query("offset"))
	if err != nil {
		AbortWithError(c, newValidationError("offset", "invalid_offset", "offset must be a number"))
		return
	}

	filter := queuedomain.ListFilter{
		Status: queuedomain.Status(strings.ToLower(strings.TrimSpace(c.Query("status")))),
		Source: strings.TrimSpace(c.Query("source")),
	}
	if limit != nil {
		filter.Limit = *limit
	}
	if offset != nil {
		filter.Offset = *offset
	}
	if raw := strings.TrimSpace(c.Query("batch_id")); raw != "" {
		batchID, err := parseID(raw)
		if err != nil {
			AbortWithError(c, newValidationError("batch_id", "invalid_batch_id", "invalid batch_id"))
			return
		}
		filter.BatchID = &batchID
	}

	items, err := s.queueSvc.ListItems(c.Request.Context(), filter)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) GetQueueItem(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	item, err := s.queueSvc.GetItem(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": item})
}

func (s *Server) RetryFailed(c *gin.Context) {
	count, err := s.queueSvc.RetryFailed(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"retried": count}})
}

func (s *Server) RetryItem(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.queueSvc.RetryItem(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id.String(), "status": queuedomain.StatusPending}})
}

func (s *Server) ClearCompleted(c *gin.Context) {
	var req clearCompletedRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	days := defaultRetentionDays
	if req.OlderThanDays != nil {
		days = *req.OlderThanDays
	}

	count, err := s.queueSvc.ClearCompleted(c.Request.Context(), days)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"cleared": count, "olderThanDays": days}})
}

func (s *Server) DeleteQueueItem(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.queueSvc.DeleteItem(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) GetBatch(c *gin.Context) {
	id, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	progress, err := s.queueSvc.GetBatch(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": progress})
}
