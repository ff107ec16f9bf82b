package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/stockline/internal/dispatcher"
)

// DispatcherControl is the part of the dispatcher the API drives.
type DispatcherControl interface {
	StopProcessing(ctx context.Context) error
	StartProcessing(ctx context.Context) error
	Status() dispatcher.Status
}

func (s *Server) DispatcherStatus(c *gin.Context) {
	if s.dispatcher == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.dispatcher.Status()})
}

func (s *Server) StopDispatcher(c *gin.Context) {
	if s.dispatcher == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	if err := s.dispatcher.StopProcessing(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.dispatcher.Status()})
}

func (s *Server) StartDispatcher(c *gin.Context) {
	if s.dispatcher == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}
	if err := s.dispatcher.StartProcessing(c.Request.Context()); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": s.dispatcher.Status()})
}
