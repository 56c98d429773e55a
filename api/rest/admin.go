package rest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/thc1967/codex-quest-manager-sub000/quest"
	"github.com/thc1967/codex-quest-manager-sub000/scheduler"
	"go.uber.org/zap"
)

// Announcer broadcasts a message to connected clients.
type Announcer interface {
	Announce(ctx context.Context, message string) error
}

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by middleware.AdminAuth.
type AdminHandler struct {
	quests    *QuestHandler
	sched     *scheduler.Scheduler
	announcer Announcer
	logger    *zap.Logger
}

// NewAdminHandler creates an AdminHandler. announcer may be nil.
func NewAdminHandler(quests *QuestHandler, sched *scheduler.Scheduler, announcer Announcer, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{quests: quests, sched: sched, announcer: announcer, logger: logger}
}

// Register mounts the admin routes on g.
func (h *AdminHandler) Register(g *gin.RouterGroup) {
	g.GET("/scheduler", h.ListSchedulerTasks)
	g.GET("/quests", h.ListQuests)
	g.POST("/document/reinitialize", h.Reinitialize)
	g.POST("/announce", h.Announce)
}

// admin is the manager identity used by admin key holders.
func (h *AdminHandler) admin() *quest.Manager {
	return h.quests.mgr.ForUser(quest.User{ID: "admin", Director: true})
}

// ListSchedulerTasks returns all registered periodic jobs.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	tasks := h.sched.Status()
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "count": len(tasks)})
}

// ListQuests returns counts of every quest by status, hidden ones included.
// GET /api/admin/quests
func (h *AdminHandler) ListQuests(c *gin.Context) {
	all, total, err := h.admin().GetAllQuests(c.Request.Context())
	if err != nil {
		h.quests.fail(c, err)
		return
	}
	byStatus := make(map[quest.Status]int, len(quest.Statuses))
	for _, s := range quest.Statuses {
		byStatus[s] = 0
	}
	hidden := 0
	for _, q := range all {
		byStatus[q.Status()]++
		if !q.VisibleToPlayers() {
			hidden++
		}
	}
	c.JSON(http.StatusOK, gin.H{"total": total, "hidden": hidden, "by_status": byStatus})
}

// Reinitialize wipes the quest document.
// POST /api/admin/document/reinitialize
func (h *AdminHandler) Reinitialize(c *gin.Context) {
	if err := h.admin().Reinitialize(c.Request.Context()); err != nil {
		h.quests.fail(c, err)
		return
	}
	h.logger.Warn("quest document reinitialised by admin", zap.String("ip", c.ClientIP()))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type announceRequest struct {
	Message string `json:"message" binding:"required,max=500"`
}

// Announce pushes a message to every SSE client.
// POST /api/admin/announce
func (h *AdminHandler) Announce(c *gin.Context) {
	if h.announcer == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "announcements unavailable"})
		return
	}
	var req announceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.announcer.Announce(c.Request.Context(), req.Message); err != nil {
		h.logger.Error("announce failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "announce failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
