package quest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/thc1967/codex-quest-manager-sub000/docstore"
	"go.uber.org/zap"
)

var (
	// ErrForbidden is returned in strict mode when the user may not modify
	// the target quest, objective or note.
	ErrForbidden = errors.New("quest: permission denied")
	// ErrConflict is returned by StoreQuestIfUnmodified when the stored quest
	// was modified after the caller read it.
	ErrConflict = errors.New("quest: modified concurrently")

	errMissingID = errors.New("quest: quest has no id")
	errNoChange  = errors.New("quest: nothing to change")
)

// User is the session the manager acts for.
type User struct {
	ID       string
	Director bool
}

// RepairPolicy decides what happens when the stored document is malformed.
type RepairPolicy string

const (
	// RepairReset replaces a malformed document with an empty one.
	RepairReset RepairPolicy = "reset"
	// RepairFail surfaces ErrMalformedDocument and leaves the payload alone.
	RepairFail RepairPolicy = "fail"
)

// Option configures a Manager.
type Option func(*Manager)

func WithEnv(env Env) Option { return func(m *Manager) { m.env = env } }

func WithCampaignName(name string) Option { return func(m *Manager) { m.campaign = name } }

func WithRepairPolicy(p RepairPolicy) Option {
	return func(m *Manager) {
		if p == RepairFail {
			m.repair = RepairFail
		} else {
			m.repair = RepairReset
		}
	}
}

// WithStrictPermissions makes every mutation check CanModify (or the
// objective/note equivalents) and return ErrForbidden on failure.
func WithStrictPermissions() Option { return func(m *Manager) { m.strict = true } }

// OnRepair registers a callback run after a malformed document was reset.
func OnRepair(fn func(path string)) Option { return func(m *Manager) { m.onRepair = fn } }

// Manager is the repository facade over one quest document. A Manager is
// bound to a user with ForUser; every read re-fetches the stored snapshot.
type Manager struct {
	store    docstore.Store
	logger   *zap.Logger
	env      Env
	campaign string
	repair   RepairPolicy
	strict   bool
	onRepair func(path string)
	user     User
}

// NewManager creates a Manager acting for the anonymous user. Call ForUser
// to bind a session.
func NewManager(store docstore.Store, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:  store,
		logger: logger,
		env:    DefaultEnv(),
		repair: RepairReset,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ForUser returns a copy of m acting for u.
func (m *Manager) ForUser(u User) *Manager {
	c := *m
	c.user = u
	c.logger = m.logger.With(zap.String("user", u.ID))
	return &c
}

// User returns the bound session user.
func (m *Manager) User() User { return m.user }

// Path returns the document path of the underlying store.
func (m *Manager) Path() string { return m.store.Path() }

// ---- permissions ----

// Visible reports whether the bound user may read q: directors see
// everything, players see visible quests and their own.
func (m *Manager) Visible(q *Quest) bool {
	return m.user.Director || q.visibleToPlayers || q.createdBy == m.user.ID
}

// CanModify reports whether the bound user may edit or delete q.
func (m *Manager) CanModify(q *Quest) bool {
	return m.user.Director || q.createdBy == m.user.ID
}

// CanRemoveObjective reports whether the bound user may delete o.
func (m *Manager) CanRemoveObjective(o *Objective) bool {
	return m.user.Director || o.createdBy == m.user.ID
}

// CanRemoveNote reports whether the bound user may delete n.
func (m *Manager) CanRemoveNote(n *Note) bool {
	return m.user.Director || n.authorID == m.user.ID
}

// ---- reads ----

// GetQuest returns the quest with id, or nil if it does not exist or is not
// visible to the bound user.
func (m *Manager) GetQuest(ctx context.Context, id string) (*Quest, error) {
	doc, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	q := doc.Quests[id]
	if q == nil || !m.Visible(q) {
		return nil, nil
	}
	return m.attach(q), nil
}

// GetQuestByTitle returns the first visible quest whose title matches title
// case-insensitively, or nil. Which quest wins when titles collide is not
// part of the contract.
func (m *Manager) GetQuestByTitle(ctx context.Context, title string) (*Quest, error) {
	doc, err := m.load(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range sortedIDs(doc.Quests) {
		q := doc.Quests[id]
		if m.Visible(q) && strings.EqualFold(q.title, title) {
			return m.attach(q), nil
		}
	}
	return nil, nil
}

// GetAllQuests returns every visible quest keyed by id, and their count.
// The quests are private copies.
func (m *Manager) GetAllQuests(ctx context.Context) (map[string]*Quest, int, error) {
	return m.filter(ctx, func(*Quest) bool { return true })
}

// GetQuestsByStatus returns the visible quests with status s.
func (m *Manager) GetQuestsByStatus(ctx context.Context, s Status) (map[string]*Quest, error) {
	out, _, err := m.filter(ctx, func(q *Quest) bool { return q.status == s })
	return out, err
}

// GetQuestsByCategory returns the visible quests in category c.
func (m *Manager) GetQuestsByCategory(ctx context.Context, c Category) (map[string]*Quest, error) {
	out, _, err := m.filter(ctx, func(q *Quest) bool { return q.category == c })
	return out, err
}

// GetQuestLastModified returns the stored modifiedAt of a visible quest. It
// is nil when the quest is absent or hidden, and for a record another writer
// stored without a stamp. Quests written through a Manager are always
// stamped.
func (m *Manager) GetQuestLastModified(ctx context.Context, id string) (*time.Time, error) {
	q, err := m.GetQuest(ctx, id)
	if err != nil || q == nil {
		return nil, err
	}
	return q.modifiedAt, nil
}

// Metadata returns the document metadata.
func (m *Manager) Metadata(ctx context.Context) (Metadata, error) {
	doc, err := m.load(ctx)
	if err != nil {
		return Metadata{}, err
	}
	return doc.Metadata, nil
}

func (m *Manager) filter(ctx context.Context, keep func(*Quest) bool) (map[string]*Quest, int, error) {
	doc, err := m.load(ctx)
	if err != nil {
		return nil, 0, err
	}
	out := make(map[string]*Quest)
	for id, q := range doc.Quests {
		if m.Visible(q) && keep(q) {
			out[id] = m.attach(q)
		}
	}
	return out, len(out), nil
}

// ---- quest mutations ----

// CreateQuest creates an empty quest owned by the bound user and returns it
// as reloaded from the store.
func (m *Manager) CreateQuest(ctx context.Context) (*Quest, error) {
	return m.CreateQuestWith(ctx, Properties{})
}

// CreateQuestWith creates a quest with p applied, in a single change.
func (m *Manager) CreateQuestWith(ctx context.Context, p Properties) (*Quest, error) {
	q := New(m.env, m.user.ID, m.user.Director)
	q.Apply(p)
	err := m.transact(ctx, "Create quest", true, func(doc *Document) error {
		doc.Quests[q.id] = q
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.GetQuest(ctx, q.id)
}

// StoreQuest upserts q by id and stamps its modifiedAt. createdBy and
// createdAt of an existing quest are never overwritten. Last write wins.
func (m *Manager) StoreQuest(ctx context.Context, q *Quest) error {
	return m.upsert(ctx, q, "Update quest", nil)
}

// StoreQuestIfUnmodified stores q unless the stored modifiedAt differs from
// since, in which case it returns ErrConflict. A nil since expects a quest
// that was never saved.
func (m *Manager) StoreQuestIfUnmodified(ctx context.Context, q *Quest, since *time.Time) error {
	return m.upsert(ctx, q, "Update quest", func(existing *Quest) error {
		if existing == nil || existing.modifiedAt == nil {
			return nil
		}
		if since == nil || !existing.modifiedAt.Equal(*since) {
			return ErrConflict
		}
		return nil
	})
}

// mergeProperties applies p to the live stored quest and copies the result
// back into q.
func (m *Manager) mergeProperties(ctx context.Context, q *Quest, p Properties, description string) error {
	if q == nil || q.id == "" {
		return errMissingID
	}
	var live *Quest
	err := m.transact(ctx, description, true, func(doc *Document) error {
		stored := doc.Quests[q.id]
		if stored == nil || !m.Visible(stored) {
			return errNoChange
		}
		if m.strict && !m.CanModify(stored) {
			return ErrForbidden
		}
		stored.Apply(p)
		doc.touch(q.id)
		live = stored
		return nil
	})
	if err != nil || live == nil {
		return err
	}
	fresh := live.Clone()
	fresh.env = q.env
	fresh.owner = q.owner
	*q = *fresh
	return nil
}

func (m *Manager) upsert(ctx context.Context, q *Quest, description string, guard func(existing *Quest) error) error {
	if q == nil || q.id == "" {
		return errMissingID
	}
	stored := q.Clone()
	err := m.transact(ctx, description, true, func(doc *Document) error {
		existing := doc.Quests[q.id]
		if existing != nil {
			if m.strict && !m.CanModify(existing) {
				return ErrForbidden
			}
			stored.createdBy = existing.createdBy
			stored.createdAt = existing.createdAt
		}
		if guard != nil {
			if err := guard(existing); err != nil {
				return err
			}
		}
		stored.owner = nil
		doc.Quests[q.id] = stored
		doc.touch(q.id)
		return nil
	})
	if err != nil {
		return err
	}
	q.createdBy = stored.createdBy
	q.createdAt = stored.createdAt
	q.modifiedAt = stored.modifiedAt
	return nil
}

// DeleteQuest removes the quest with id. Deleting an absent quest is a no-op.
func (m *Manager) DeleteQuest(ctx context.Context, id string) error {
	return m.transact(ctx, "Delete quest", true, func(doc *Document) error {
		q := doc.Quests[id]
		if q == nil {
			return errNoChange
		}
		if m.strict && !m.CanModify(q) {
			return ErrForbidden
		}
		delete(doc.Quests, id)
		return nil
	})
}

// ExecuteUpdateFn runs fn against the live document inside one change.
// Quests passed to fn are detached: calling UpdateProperties on them returns
// ErrDetached. Every quest fn modifies gets its modifiedAt stamped. fn is
// trusted and bypasses visibility and permission checks.
func (m *Manager) ExecuteUpdateFn(ctx context.Context, description string, fn func(doc *Document) error) error {
	return m.transact(ctx, description, true, fn)
}

// ---- objectives and notes ----

// AddObjective appends an objective with p applied to the quest and returns
// it. It returns nil for an absent quest.
func (m *Manager) AddObjective(ctx context.Context, questID string, p ObjectivePatch) (*Objective, error) {
	var added *Objective
	err := m.onQuest(ctx, questID, "Add objective", func(q *Quest) error {
		if m.strict && !m.CanModify(q) {
			return ErrForbidden
		}
		added = q.AddObjective(m.user.ID)
		added.Apply(p)
		return nil
	})
	return added, err
}

// UpdateObjective applies p to an objective and returns it, or nil when the
// quest or objective is absent.
func (m *Manager) UpdateObjective(ctx context.Context, questID, objectiveID string, p ObjectivePatch) (*Objective, error) {
	var updated *Objective
	err := m.onQuest(ctx, questID, "Update objective", func(q *Quest) error {
		o := q.GetObjective(objectiveID)
		if o == nil {
			return errNoChange
		}
		if m.strict && !m.CanModify(q) {
			return ErrForbidden
		}
		o.Apply(p)
		updated = o
		return nil
	})
	return updated, err
}

// MoveObjective places an objective at position (0-based) and renumbers the
// rest. It reports whether the objective exists.
func (m *Manager) MoveObjective(ctx context.Context, questID, objectiveID string, position int) (bool, error) {
	moved := false
	err := m.onQuest(ctx, questID, "Reorder objectives", func(q *Quest) error {
		if q.GetObjective(objectiveID) == nil {
			return errNoChange
		}
		if m.strict && !m.CanModify(q) {
			return ErrForbidden
		}
		moved = q.MoveObjective(objectiveID, position)
		return nil
	})
	return moved, err
}

// RemoveObjective deletes an objective and reports whether it existed.
func (m *Manager) RemoveObjective(ctx context.Context, questID, objectiveID string) (bool, error) {
	removed := false
	err := m.onQuest(ctx, questID, "Remove objective", func(q *Quest) error {
		o := q.GetObjective(objectiveID)
		if o == nil {
			return errNoChange
		}
		if m.strict && !m.CanRemoveObjective(o) {
			return ErrForbidden
		}
		q.RemoveObjective(objectiveID)
		removed = true
		return nil
	})
	return removed, err
}

// AddNote attaches a note written by the bound user. Any user who can see
// the quest may annotate it. It returns nil for an absent quest.
func (m *Manager) AddNote(ctx context.Context, questID, content string) (*Note, error) {
	var added *Note
	err := m.onQuest(ctx, questID, "Add note", func(q *Quest) error {
		added = q.AddNote(content, m.user.ID)
		return nil
	})
	return added, err
}

// RemoveNote deletes a note and reports whether it existed.
func (m *Manager) RemoveNote(ctx context.Context, questID, noteID string) (bool, error) {
	removed := false
	err := m.onQuest(ctx, questID, "Remove note", func(q *Quest) error {
		n := q.GetNote(noteID)
		if n == nil {
			return errNoChange
		}
		if m.strict && !m.CanRemoveNote(n) {
			return ErrForbidden
		}
		q.RemoveNote(noteID)
		removed = true
		return nil
	})
	return removed, err
}

// onQuest runs fn on a visible quest inside one change. Absent or hidden
// quests are a silent no-op.
func (m *Manager) onQuest(ctx context.Context, id, description string, fn func(q *Quest) error) error {
	return m.transact(ctx, description, true, func(doc *Document) error {
		q := doc.Quests[id]
		if q == nil || !m.Visible(q) {
			return errNoChange
		}
		return fn(q)
	})
}

// ---- document ----

// SetCampaignName renames the campaign in the document metadata.
func (m *Manager) SetCampaignName(ctx context.Context, name string) error {
	return m.transact(ctx, "Rename campaign", true, func(doc *Document) error {
		if doc.Metadata.CampaignName == name {
			return errNoChange
		}
		doc.Metadata.CampaignName = name
		return nil
	})
}

// Reinitialize replaces the document with an empty one. Every quest is lost.
func (m *Manager) Reinitialize(ctx context.Context) error {
	err := m.transact(ctx, "Reinitialize quest document", false, func(doc *Document) error {
		campaign := doc.Metadata.CampaignName
		if campaign == "" {
			campaign = m.campaign
		}
		*doc = *newDocument(m.env, campaign)
		return nil
	})
	if err == nil {
		m.logger.Info("quest document reinitialised", zap.String("path", m.store.Path()))
	}
	return err
}

// ---- plumbing ----

func (m *Manager) attach(q *Quest) *Quest {
	q.env = m.env
	q.owner = m
	return q
}

// load reads the current document. An empty store yields an empty document
// without writing it. A malformed one is reset or reported per the policy.
func (m *Manager) load(ctx context.Context) (*Document, error) {
	data, err := m.store.Snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("quest: read %s: %w", m.store.Path(), err)
	}
	doc, err := decodeDocument(data, m.env, m.campaign)
	switch {
	case err == nil:
		return doc, nil
	case errors.Is(err, errUninitialized):
		return newDocument(m.env, m.campaign), nil
	case errors.Is(err, ErrMalformedDocument) && m.repair == RepairReset:
		var repaired *Document
		err = m.transact(ctx, "Repair quest document", false, func(d *Document) error {
			repaired = d
			return nil
		})
		if err != nil {
			return nil, err
		}
		return repaired, nil
	default:
		return nil, err
	}
}

// decodeForChange is load for an open change: repairs happen in place.
func (m *Manager) decodeForChange(data []byte) (*Document, error) {
	doc, err := decodeDocument(data, m.env, m.campaign)
	switch {
	case err == nil:
		return doc, nil
	case errors.Is(err, errUninitialized):
		return newDocument(m.env, m.campaign), nil
	case errors.Is(err, ErrMalformedDocument) && m.repair == RepairReset:
		m.logger.Warn("resetting malformed quest document",
			zap.String("path", m.store.Path()),
			zap.Int("bytes", len(data)),
			zap.Error(err))
		if m.onRepair != nil {
			m.onRepair(m.store.Path())
		}
		return newDocument(m.env, m.campaign), nil
	default:
		return nil, err
	}
}

// transact brackets fn in one store change. Quests whose encoding changed,
// or that fn marked with touch, get modifiedAt stamped, and the document
// modifiedTimestamp is bumped.
// fn returning errNoChange aborts the change without error.
func (m *Manager) transact(ctx context.Context, description string, undoable bool, fn func(doc *Document) error) error {
	ch, err := m.store.BeginChange(ctx)
	if err != nil {
		return fmt.Errorf("quest: begin change: %w", err)
	}
	closed := false
	defer func() {
		if !closed {
			ch.Abort()
		}
	}()

	doc, err := m.decodeForChange(ch.Data())
	if err != nil {
		return err
	}
	before := make(map[string][]byte, len(doc.Quests))
	for id, q := range doc.Quests {
		q.env = m.env
		b, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("quest: encode %s: %w", id, err)
		}
		before[id] = b
	}

	if err := fn(doc); err != nil {
		if errors.Is(err, errNoChange) {
			return nil
		}
		return err
	}
	if doc.Quests == nil {
		doc.Quests = make(map[string]*Quest)
	}

	now := m.env.now()
	for id, q := range doc.Quests {
		if q == nil {
			delete(doc.Quests, id)
			continue
		}
		b, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("quest: encode %s: %w", id, err)
		}
		if _, ok := doc.touched[id]; ok || !bytes.Equal(b, before[id]) {
			q.modifiedAt = &now
		}
	}
	doc.Metadata.ModifiedTimestamp = now

	data, err := doc.encode()
	if err != nil {
		return fmt.Errorf("quest: encode document: %w", err)
	}
	ch.Set(data)
	closed = true
	if err := ch.CompleteChange(ctx, description, docstore.CompleteOptions{
		Undoable: undoable,
		Actor:    m.user.ID,
	}); err != nil {
		return fmt.Errorf("quest: commit %q: %w", description, err)
	}
	m.logger.Debug("quest document changed",
		zap.String("path", m.store.Path()),
		zap.String("change", description))
	return nil
}

func sortedIDs(quests map[string]*Quest) []string {
	ids := make([]string, 0, len(quests))
	for id := range quests {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
