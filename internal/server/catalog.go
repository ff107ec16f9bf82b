package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/stockline/internal/audit/domain"
	catalogdomain "github.com/smallbiznis/stockline/internal/catalog/domain"
)

type catalogImportRequest struct {
	Items []catalogdomain.ImportItem `json:"items"`
}

func (s *Server) ImportCatalog(c *gin.Context) {
	var req catalogImportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	count, err := s.catalogSvc.Import(c.Request.Context(), req.Items)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	_ = s.auditSvc.AuditLog(c.Request.Context(), "", nil, auditdomain.ActionCatalogImport, "catalog", nil, map[string]any{
		"count": count,
	})
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"imported": count}})
}

func (s *Server) ListCatalogKeys(c *gin.Context) {
	keys, err := s.catalogSvc.Keys(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": keys})
}
