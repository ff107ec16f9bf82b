package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type archiveRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) ArchiveDevice(c *gin.Context) {
	imei, err := parseIMEI(c.Param("imei"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req archiveRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	count, err := s.archiveSvc.Archive(c.Request.Context(), imei, req.Reason)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": gin.H{"imei": imei, "archived": count}})
}

func (s *Server) RestoreDevice(c *gin.Context) {
	imei, err := parseIMEI(c.Param("imei"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	count, err := s.archiveSvc.Restore(c.Request.Context(), imei)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"imei": imei, "restored": count}})
}

func (s *Server) PermanentlyDeleteArchive(c *gin.Context) {
	imei, err := parseIMEI(c.Param("imei"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	count, err := s.archiveSvc.PermanentlyDelete(c.Request.Context(), imei)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"imei": imei, "deleted": count}})
}

func (s *Server) ListArchive(c *gin.Context) {
	imei, err := parseIMEI(c.Param("imei"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	records, err := s.archiveSvc.List(c.Request.Context(), imei)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records})
}

func (s *Server) ArchiveStats(c *gin.Context) {
	stats, err := s.archiveSvc.Stats(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}
