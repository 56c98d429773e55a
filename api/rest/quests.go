package rest

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	mw "github.com/thc1967/codex-quest-manager-sub000/middleware"
	"github.com/thc1967/codex-quest-manager-sub000/players"
	"github.com/thc1967/codex-quest-manager-sub000/quest"
	"go.uber.org/zap"
)

// QuestHandler serves the quest tracker to signed-in players.
type QuestHandler struct {
	mgr    *quest.Manager
	dir    *players.Directory
	logger *zap.Logger
}

// NewQuestHandler creates a QuestHandler. dir may be nil, in which case
// views carry no display names.
func NewQuestHandler(mgr *quest.Manager, dir *players.Directory, logger *zap.Logger) *QuestHandler {
	return &QuestHandler{mgr: mgr, dir: dir, logger: logger}
}

// Register mounts the quest routes on g.
func (h *QuestHandler) Register(g *gin.RouterGroup) {
	g.GET("", h.List)
	g.POST("", h.Create)
	g.GET("/by-title", h.ByTitle)
	g.GET("/:id", h.Get)
	g.PUT("/:id", h.Update)
	g.DELETE("/:id", h.Delete)
	g.GET("/:id/modified", h.LastModified)
	g.POST("/:id/objectives", h.AddObjective)
	g.PUT("/:id/objectives/:oid", h.UpdateObjective)
	g.POST("/:id/objectives/:oid/move", h.MoveObjective)
	g.DELETE("/:id/objectives/:oid", h.RemoveObjective)
	g.POST("/:id/notes", h.AddNote)
	g.DELETE("/:id/notes/:nid", h.RemoveNote)
}

// ---- views ----

type objectiveView struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Status      quest.Status `json:"status"`
	Order       int          `json:"order"`
	CreatedBy   string       `json:"createdBy"`
	CanRemove   bool         `json:"canRemove"`
}

type noteView struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	AuthorID    string    `json:"authorId"`
	AuthorName  string    `json:"authorName,omitempty"`
	AuthorColor string    `json:"authorColor,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	CanRemove   bool      `json:"canRemove"`
}

type questView struct {
	ID               string          `json:"id"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	QuestGiver       string          `json:"questGiver"`
	Location         string          `json:"location"`
	Rewards          string          `json:"rewards"`
	Category         quest.Category  `json:"category"`
	Status           quest.Status    `json:"status"`
	Priority         quest.Priority  `json:"priority"`
	RewardsClaimed   bool            `json:"rewardsClaimed"`
	VisibleToPlayers bool            `json:"visibleToPlayers"`
	CreatedBy        string          `json:"createdBy"`
	CreatedByName    string          `json:"createdByName,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
	ModifiedAt       *time.Time      `json:"modifiedAt"`
	Objectives       []objectiveView `json:"objectives"`
	Notes            []noteView      `json:"notes"`
	CanModify        bool            `json:"canModify"`
}

func (h *QuestHandler) objectiveView(m *quest.Manager, o *quest.Objective) objectiveView {
	return objectiveView{
		ID:          o.ID(),
		Title:       o.Title(),
		Description: o.Description(),
		Status:      o.Status(),
		Order:       o.Order(),
		CreatedBy:   o.CreatedBy(),
		CanRemove:   m.CanRemoveObjective(o),
	}
}

func (h *QuestHandler) noteView(m *quest.Manager, n *quest.Note, names map[string]players.Player) noteView {
	v := noteView{
		ID:        n.ID(),
		Content:   n.Content(),
		AuthorID:  n.AuthorID(),
		CreatedAt: n.CreatedAt(),
		CanRemove: m.CanRemoveNote(n),
	}
	if p, ok := names[n.AuthorID()]; ok {
		v.AuthorName = p.DisplayName
		v.AuthorColor = p.Color
	}
	return v
}

func (h *QuestHandler) questView(m *quest.Manager, q *quest.Quest, names map[string]players.Player) questView {
	v := questView{
		ID:               q.ID(),
		Title:            q.Title(),
		Description:      q.Description(),
		QuestGiver:       q.QuestGiver(),
		Location:         q.Location(),
		Rewards:          q.Rewards(),
		Category:         q.Category(),
		Status:           q.Status(),
		Priority:         q.Priority(),
		RewardsClaimed:   q.RewardsClaimed(),
		VisibleToPlayers: q.VisibleToPlayers(),
		CreatedBy:        q.CreatedBy(),
		CreatedAt:        q.CreatedAt(),
		ModifiedAt:       q.ModifiedAt(),
		Objectives:       []objectiveView{},
		Notes:            []noteView{},
		CanModify:        m.CanModify(q),
	}
	if p, ok := names[q.CreatedBy()]; ok {
		v.CreatedByName = p.DisplayName
	}
	for _, o := range q.GetObjectivesSorted() {
		v.Objectives = append(v.Objectives, h.objectiveView(m, o))
	}
	for _, n := range q.GetNotes() {
		v.Notes = append(v.Notes, h.noteView(m, n, names))
	}
	return v
}

// names resolves the creators and note authors of qs. Lookup failures only
// cost the display names.
func (h *QuestHandler) names(c *gin.Context, qs ...*quest.Quest) map[string]players.Player {
	if h.dir == nil {
		return nil
	}
	var ids []string
	for _, q := range qs {
		ids = append(ids, q.CreatedBy())
		for _, n := range q.GetNotes() {
			ids = append(ids, n.AuthorID())
		}
	}
	names, err := h.dir.Names(c.Request.Context(), ids)
	if err != nil {
		h.logger.Warn("player names unavailable", zap.Error(err))
		return nil
	}
	return names
}

func (h *QuestHandler) render(c *gin.Context, status int, m *quest.Manager, q *quest.Quest) {
	c.JSON(status, h.questView(m, q, h.names(c, q)))
}

// ---- helpers ----

// session binds the manager to the authenticated account.
func (h *QuestHandler) session(c *gin.Context) *quest.Manager {
	return h.mgr.ForUser(quest.User{
		ID:       strconv.FormatInt(mw.GetAccountID(c), 10),
		Director: mw.IsDirector(c),
	})
}

// fail maps manager errors onto responses.
func (h *QuestHandler) fail(c *gin.Context, err error) {
	switch {
	case errors.Is(err, quest.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
	case errors.Is(err, quest.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "quest was modified by someone else"})
	case errors.Is(err, quest.ErrMalformedDocument):
		h.logger.Error("quest document unreadable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "quest document unavailable"})
	default:
		h.logger.Error("quest request failed", zap.String("route", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// load fetches the quest named by the :id parameter, writing 404 when it
// is absent or hidden.
func (h *QuestHandler) load(c *gin.Context, m *quest.Manager) (*quest.Quest, bool) {
	q, err := m.GetQuest(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return nil, false
	}
	if q == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "quest not found"})
		return nil, false
	}
	return q, true
}

// loadModifiable is load plus a CanModify check.
func (h *QuestHandler) loadModifiable(c *gin.Context, m *quest.Manager) (*quest.Quest, bool) {
	q, ok := h.load(c, m)
	if !ok {
		return nil, false
	}
	if !m.CanModify(q) {
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
		return nil, false
	}
	return q, true
}

// ---- quests ----

// List handles GET /api/quests[?status=&category=].
func (h *QuestHandler) List(c *gin.Context) {
	m := h.session(c)
	ctx := c.Request.Context()

	status := quest.Status(c.Query("status"))
	if status != "" && !status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}
	category := quest.Category(c.Query("category"))
	if category != "" && !category.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid category"})
		return
	}

	var (
		found map[string]*quest.Quest
		err   error
	)
	switch {
	case status != "":
		found, err = m.GetQuestsByStatus(ctx, status)
	case category != "":
		found, err = m.GetQuestsByCategory(ctx, category)
	default:
		found, _, err = m.GetAllQuests(ctx)
	}
	if err != nil {
		h.fail(c, err)
		return
	}

	list := make([]*quest.Quest, 0, len(found))
	for _, q := range found {
		if category != "" && q.Category() != category {
			continue
		}
		list = append(list, q)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].CreatedAt().Equal(list[j].CreatedAt()) {
			return list[i].CreatedAt().Before(list[j].CreatedAt())
		}
		return list[i].ID() < list[j].ID()
	})

	names := h.names(c, list...)
	views := make([]questView, 0, len(list))
	for _, q := range list {
		views = append(views, h.questView(m, q, names))
	}
	c.JSON(http.StatusOK, gin.H{"quests": views, "count": len(views)})
}

// Create handles POST /api/quests. The body is optional.
func (h *QuestHandler) Create(c *gin.Context) {
	var props quest.Properties
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&props); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	m := h.session(c)
	q, err := m.CreateQuestWith(c.Request.Context(), props)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.render(c, http.StatusCreated, m, q)
}

// ByTitle handles GET /api/quests/by-title?title=.
func (h *QuestHandler) ByTitle(c *gin.Context) {
	title := c.Query("title")
	if title == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "title required"})
		return
	}
	m := h.session(c)
	q, err := m.GetQuestByTitle(c.Request.Context(), title)
	if err != nil {
		h.fail(c, err)
		return
	}
	if q == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "quest not found"})
		return
	}
	h.render(c, http.StatusOK, m, q)
}

// Get handles GET /api/quests/:id.
func (h *QuestHandler) Get(c *gin.Context) {
	m := h.session(c)
	q, ok := h.load(c, m)
	if !ok {
		return
	}
	h.render(c, http.StatusOK, m, q)
}

type updateQuestRequest struct {
	quest.Properties
	// BaseModifiedAt is the modifiedAt the client last saw. When present the
	// update is rejected with 409 if the quest changed since.
	BaseModifiedAt *time.Time `json:"baseModifiedAt"`
}

// Update handles PUT /api/quests/:id.
func (h *QuestHandler) Update(c *gin.Context) {
	var req updateQuestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m := h.session(c)
	q, ok := h.loadModifiable(c, m)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	var err error
	if req.BaseModifiedAt != nil {
		q.Apply(req.Properties)
		err = m.StoreQuestIfUnmodified(ctx, q, req.BaseModifiedAt)
	} else {
		err = q.UpdateProperties(ctx, req.Properties, "Update quest")
	}
	if err != nil {
		h.fail(c, err)
		return
	}
	h.render(c, http.StatusOK, m, q)
}

// Delete handles DELETE /api/quests/:id.
func (h *QuestHandler) Delete(c *gin.Context) {
	m := h.session(c)
	q, ok := h.loadModifiable(c, m)
	if !ok {
		return
	}
	if err := m.DeleteQuest(c.Request.Context(), q.ID()); err != nil {
		h.fail(c, err)
		return
	}
	h.logger.Info("quest deleted", zap.String("quest", q.ID()), zap.String("user", m.User().ID))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// LastModified handles GET /api/quests/:id/modified. modifiedAt is null
// for a quest another writer stored without a stamp.
func (h *QuestHandler) LastModified(c *gin.Context) {
	q, ok := h.load(c, h.session(c))
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": q.ID(), "modifiedAt": q.ModifiedAt()})
}

// ---- objectives ----

// AddObjective handles POST /api/quests/:id/objectives.
func (h *QuestHandler) AddObjective(c *gin.Context) {
	var patch quest.ObjectivePatch
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&patch); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	m := h.session(c)
	q, ok := h.loadModifiable(c, m)
	if !ok {
		return
	}
	o, err := m.AddObjective(c.Request.Context(), q.ID(), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	if o == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "quest not found"})
		return
	}
	c.JSON(http.StatusCreated, h.objectiveView(m, o))
}

// UpdateObjective handles PUT /api/quests/:id/objectives/:oid.
func (h *QuestHandler) UpdateObjective(c *gin.Context) {
	var patch quest.ObjectivePatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m := h.session(c)
	q, ok := h.loadModifiable(c, m)
	if !ok {
		return
	}
	o, err := m.UpdateObjective(c.Request.Context(), q.ID(), c.Param("oid"), patch)
	if err != nil {
		h.fail(c, err)
		return
	}
	if o == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "objective not found"})
		return
	}
	c.JSON(http.StatusOK, h.objectiveView(m, o))
}

type moveObjectiveRequest struct {
	Position *int `json:"position" binding:"required"`
}

// MoveObjective handles POST /api/quests/:id/objectives/:oid/move. The
// position is 0-based and clamped to the objective list.
func (h *QuestHandler) MoveObjective(c *gin.Context) {
	var req moveObjectiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m := h.session(c)
	q, ok := h.loadModifiable(c, m)
	if !ok {
		return
	}
	moved, err := m.MoveObjective(c.Request.Context(), q.ID(), c.Param("oid"), *req.Position)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !moved {
		c.JSON(http.StatusNotFound, gin.H{"error": "objective not found"})
		return
	}
	q, ok = h.load(c, m)
	if !ok {
		return
	}
	h.render(c, http.StatusOK, m, q)
}

// RemoveObjective handles DELETE /api/quests/:id/objectives/:oid.
func (h *QuestHandler) RemoveObjective(c *gin.Context) {
	m := h.session(c)
	q, ok := h.load(c, m)
	if !ok {
		return
	}
	o := q.GetObjective(c.Param("oid"))
	if o == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "objective not found"})
		return
	}
	if !m.CanRemoveObjective(o) {
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
		return
	}
	removed, err := m.RemoveObjective(c.Request.Context(), q.ID(), o.ID())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": removed})
}

// ---- notes ----

type addNoteRequest struct {
	Content string `json:"content" binding:"required,max=4000"`
}

// AddNote handles POST /api/quests/:id/notes. Anyone who can see the quest
// may annotate it.
func (h *QuestHandler) AddNote(c *gin.Context) {
	var req addNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m := h.session(c)
	n, err := m.AddNote(c.Request.Context(), c.Param("id"), req.Content)
	if err != nil {
		h.fail(c, err)
		return
	}
	if n == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "quest not found"})
		return
	}
	var names map[string]players.Player
	if h.dir != nil {
		names, _ = h.dir.Names(c.Request.Context(), []string{n.AuthorID()})
	}
	c.JSON(http.StatusCreated, h.noteView(m, n, names))
}

// RemoveNote handles DELETE /api/quests/:id/notes/:nid.
func (h *QuestHandler) RemoveNote(c *gin.Context) {
	m := h.session(c)
	q, ok := h.load(c, m)
	if !ok {
		return
	}
	n := q.GetNote(c.Param("nid"))
	if n == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "note not found"})
		return
	}
	if !m.CanRemoveNote(n) {
		c.JSON(http.StatusForbidden, gin.H{"error": "permission denied"})
		return
	}
	removed, err := m.RemoveNote(c.Request.Context(), q.ID(), n.ID())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": removed})
}
