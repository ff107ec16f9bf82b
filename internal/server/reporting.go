package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) DataLogStats(c *gin.Context) {
	stats, err := s.datalogSvc.Stats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func (s *Server) ProcessingMetrics(c *gin.Context) {
	metrics, err := s.datalogSvc.ProcessingMetrics(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": metrics})
}

func (s *Server) DeviceHistory(c *gin.Context) {
	imei, err := parseIMEI(c.Param("imei"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	limit, err := parseOptionalInt(c.Query("limit"))
	if err != nil {
		AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be a number"))
		return
	}
	n := 0
	if limit != nil {
		n = *limit
	}

	records, err := s.datalogSvc.History(c.Request.Context(), imei, n)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records})
}
