package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/stockline/internal/stationsync"
)

// StationSyncer pulls one station day into the queue.
type StationSyncer interface {
	ParseDate(value string) (time.Time, error)
	SyncStation(ctx context.Context, station string, date time.Time) (stationsync.Result, error)
}

type stationSyncRequest struct {
	Date string `json:"date"`
}

func (s *Server) SyncStation(c *gin.Context) {
	var req stationSyncRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	date, err := s.stationSync.ParseDate(req.Date)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	res, err := s.stationSync.SyncStation(c.Request.Context(), c.Param("station"), date)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"data": res})
}
