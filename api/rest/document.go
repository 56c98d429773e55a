package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/thc1967/codex-quest-manager-sub000/audit"
	mw "github.com/thc1967/codex-quest-manager-sub000/middleware"
	"go.uber.org/zap"
)

// DocumentHandler exposes the campaign metadata and the change journal.
type DocumentHandler struct {
	quests  *QuestHandler
	journal *audit.Service
}

// NewDocumentHandler creates a DocumentHandler sharing the session binding
// and error mapping of quests.
func NewDocumentHandler(quests *QuestHandler, journal *audit.Service) *DocumentHandler {
	return &DocumentHandler{quests: quests, journal: journal}
}

// Register mounts the document routes on g.
func (h *DocumentHandler) Register(g *gin.RouterGroup) {
	g.GET("", h.Metadata)
	g.PUT("", h.Rename)
	g.GET("/changes", h.Changes)
}

// Metadata handles GET /api/document.
func (h *DocumentHandler) Metadata(c *gin.Context) {
	m := h.quests.session(c)
	meta, err := m.Metadata(c.Request.Context())
	if err != nil {
		h.quests.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"path": m.Path(), "metadata": meta})
}

type renameRequest struct {
	CampaignName string `json:"campaignName" binding:"max=128"`
}

// Rename handles PUT /api/document. Directors only.
func (h *DocumentHandler) Rename(c *gin.Context) {
	if !mw.IsDirector(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "director only"})
		return
	}
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m := h.quests.session(c)
	if err := m.SetCampaignName(c.Request.Context(), req.CampaignName); err != nil {
		h.quests.fail(c, err)
		return
	}
	meta, err := m.Metadata(c.Request.Context())
	if err != nil {
		h.quests.fail(c, err)
		return
	}
	h.quests.logger.Info("campaign renamed", zap.String("name", req.CampaignName))
	c.JSON(http.StatusOK, gin.H{"path": m.Path(), "metadata": meta})
}

// Changes handles GET /api/document/changes?limit=.
func (h *DocumentHandler) Changes(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := h.journal.Recent(c.Request.Context(), h.quests.mgr.Path(), limit)
	if err != nil {
		h.quests.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"changes": entries, "count": len(entries)})
}
