package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	mw "github.com/thc1967/codex-quest-manager-sub000/middleware"
	"github.com/thc1967/codex-quest-manager-sub000/players"
	"go.uber.org/zap"
)

// PlayerHandler serves display names and colors.
type PlayerHandler struct {
	dir    *players.Directory
	logger *zap.Logger
}

// NewPlayerHandler creates a PlayerHandler.
func NewPlayerHandler(dir *players.Directory, logger *zap.Logger) *PlayerHandler {
	return &PlayerHandler{dir: dir, logger: logger}
}

// Register mounts the player routes on g.
func (h *PlayerHandler) Register(g *gin.RouterGroup) {
	g.PUT("/me", h.UpdateMe)
	g.GET("/:id", h.Get)
}

// Get handles GET /api/players/:id.
func (h *PlayerHandler) Get(c *gin.Context) {
	p, err := h.dir.Lookup(c.Request.Context(), c.Param("id"))
	if errors.Is(err, players.ErrUnknownPlayer) {
		c.JSON(http.StatusNotFound, gin.H{"error": "player not found"})
		return
	}
	if err != nil {
		h.logger.Error("player lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, p)
}

type updatePlayerRequest struct {
	DisplayName string `json:"display_name" binding:"max=64"`
	Color       string `json:"color"`
}

// UpdateMe handles PUT /api/players/me.
func (h *PlayerHandler) UpdateMe(c *gin.Context) {
	var req updatePlayerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := strconv.FormatInt(mw.GetAccountID(c), 10)
	p, err := h.dir.Update(c.Request.Context(), id, req.DisplayName, req.Color)
	switch {
	case errors.Is(err, players.ErrInvalidColor):
		c.JSON(http.StatusBadRequest, gin.H{"error": "color must be #rrggbb"})
	case errors.Is(err, players.ErrUnknownPlayer):
		c.JSON(http.StatusNotFound, gin.H{"error": "player not found"})
	case err != nil:
		h.logger.Error("player update failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		c.JSON(http.StatusOK, p)
	}
}
