package quest

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"
)

// ErrDetached is returned by UpdateProperties on a quest that was not
// obtained from a Manager.
var ErrDetached = errors.New("quest: not attached to a manager")

// committer merges property changes into the stored quest inside one
// transaction.
type committer interface {
	mergeProperties(ctx context.Context, q *Quest, p Properties, description string) error
}

// Quest is the aggregate root: metadata plus embedded objectives and notes.
// Enum fields are only ever assigned through their setters, so they always
// hold valid values.
type Quest struct {
	id               string
	title            string
	description      string
	questGiver       string
	location         string
	rewards          string
	category         Category
	status           Status
	priority         Priority
	rewardsClaimed   bool
	visibleToPlayers bool
	objectives       map[string]*Objective
	notes            map[string]*Note
	createdBy        string
	createdAt        time.Time
	modifiedAt       *time.Time

	env   Env
	owner committer
}

// record is the persisted shape of a quest.
type record struct {
	ID               string                `json:"id"`
	Title            string                `json:"title"`
	Description      string                `json:"description"`
	QuestGiver       string                `json:"questGiver"`
	Location         string                `json:"location"`
	Rewards          string                `json:"rewards"`
	Category         Category              `json:"category"`
	Status           Status                `json:"status"`
	Priority         Priority              `json:"priority"`
	RewardsClaimed   bool                  `json:"rewardsClaimed"`
	VisibleToPlayers bool                  `json:"visibleToPlayers"`
	Objectives       map[string]*Objective `json:"objectives"`
	Notes            map[string]*Note      `json:"notes"`
	CreatedBy        string                `json:"createdBy"`
	CreatedAt        time.Time             `json:"createdAt"`
	ModifiedAt       *time.Time            `json:"modifiedAt"`
}

// New allocates a quest created by user. Quests created by a director start
// hidden from players; everyone else's start visible.
func New(env Env, createdBy string, director bool) *Quest {
	return &Quest{
		id:               env.id(),
		category:         DefaultCategory,
		status:           DefaultStatus,
		priority:         DefaultPriority,
		visibleToPlayers: !director,
		objectives:       make(map[string]*Objective),
		notes:            make(map[string]*Note),
		createdBy:        createdBy,
		createdAt:        env.now(),
		env:              env,
	}
}

func (q *Quest) ID() string              { return q.id }
func (q *Quest) Title() string           { return q.title }
func (q *Quest) Description() string     { return q.description }
func (q *Quest) QuestGiver() string      { return q.questGiver }
func (q *Quest) Location() string        { return q.location }
func (q *Quest) Rewards() string         { return q.rewards }
func (q *Quest) Category() Category      { return q.category }
func (q *Quest) Status() Status          { return q.status }
func (q *Quest) Priority() Priority      { return q.priority }
func (q *Quest) RewardsClaimed() bool    { return q.rewardsClaimed }
func (q *Quest) VisibleToPlayers() bool  { return q.visibleToPlayers }
func (q *Quest) CreatedBy() string       { return q.createdBy }
func (q *Quest) CreatedAt() time.Time    { return q.createdAt }
func (q *Quest) ModifiedAt() *time.Time  { return q.modifiedAt }
func (q *Quest) ObjectiveCount() int     { return len(q.objectives) }
func (q *Quest) NoteCount() int          { return len(q.notes) }
func (q *Quest) SetTitle(v string)       { q.title = v }
func (q *Quest) SetDescription(v string) { q.description = v }
func (q *Quest) SetQuestGiver(v string)  { q.questGiver = v }
func (q *Quest) SetLocation(v string)    { q.location = v }
func (q *Quest) SetRewards(v string)     { q.rewards = v }
func (q *Quest) SetRewardsClaimed(v bool) {
	q.rewardsClaimed = v
}
func (q *Quest) SetVisibleToPlayers(v bool) {
	q.visibleToPlayers = v
}

// SetCategory assigns c if valid; otherwise the old value is kept.
func (q *Quest) SetCategory(c Category) bool {
	if !c.Valid() {
		return false
	}
	q.category = c
	return true
}

// SetStatus assigns s if valid; otherwise the old value is kept.
func (q *Quest) SetStatus(s Status) bool {
	if !s.Valid() {
		return false
	}
	q.status = s
	return true
}

// SetPriority assigns p if valid; otherwise the old value is kept.
func (q *Quest) SetPriority(p Priority) bool {
	if !p.Valid() {
		return false
	}
	q.priority = p
	return true
}

// AddObjective appends a new objective ordered after every existing one.
func (q *Quest) AddObjective(createdBy string) *Objective {
	next := 0
	for _, o := range q.objectives {
		if o.order > next {
			next = o.order
		}
	}
	o := &Objective{
		id:        q.env.id(),
		status:    DefaultStatus,
		order:     next + 1,
		createdBy: createdBy,
	}
	q.objectives[o.id] = o
	return o
}

// GetObjective returns the objective with the given id, or nil.
func (q *Quest) GetObjective(id string) *Objective {
	return q.objectives[id]
}

// RemoveObjective deletes the objective if present.
func (q *Quest) RemoveObjective(id string) {
	delete(q.objectives, id)
}

// GetObjectivesSorted returns the objectives ascending by order. Equal orders
// fall back to id so the result is deterministic.
func (q *Quest) GetObjectivesSorted() []*Objective {
	out := make([]*Objective, 0, len(q.objectives))
	for _, o := range q.objectives {
		out = append(out, o)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].order != out[j].order {
			return out[i].order < out[j].order
		}
		return out[i].id < out[j].id
	})
	return out
}

// MoveObjective renumbers the objectives so that id sits at position
// (0-based, clamped) and orders become 1..n. It reports whether id exists.
func (q *Quest) MoveObjective(id string, position int) bool {
	target, ok := q.objectives[id]
	if !ok {
		return false
	}
	sorted := q.GetObjectivesSorted()
	rest := make([]*Objective, 0, len(sorted))
	for _, o := range sorted {
		if o.id != id {
			rest = append(rest, o)
		}
	}
	if position < 0 {
		position = 0
	}
	if position > len(rest) {
		position = len(rest)
	}
	ordered := make([]*Objective, 0, len(sorted))
	ordered = append(ordered, rest[:position]...)
	ordered = append(ordered, target)
	ordered = append(ordered, rest[position:]...)
	for i, o := range ordered {
		o.order = i + 1
	}
	return true
}

// AddNote attaches a new note stamped with the current time.
func (q *Quest) AddNote(content, authorID string) *Note {
	n := &Note{
		id:        q.env.id(),
		content:   content,
		authorID:  authorID,
		createdAt: q.env.now(),
	}
	q.notes[n.id] = n
	return n
}

// GetNote returns the note with the given id, or nil.
func (q *Quest) GetNote(id string) *Note {
	return q.notes[id]
}

// RemoveNote deletes the note if present.
func (q *Quest) RemoveNote(id string) {
	delete(q.notes, id)
}

// GetNotes returns the notes newest first.
func (q *Quest) GetNotes() []*Note {
	out := make([]*Note, 0, len(q.notes))
	for _, n := range q.notes {
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].createdAt.Equal(out[j].createdAt) {
			return out[i].createdAt.After(out[j].createdAt)
		}
		return out[i].id < out[j].id
	})
	return out
}

// UpdateProperties merges p into the stored quest through the manager that
// returned it, as a single change labelled description, and refreshes q from
// the committed record. Changes committed since q was read are kept. If the
// quest is gone or no longer visible, nothing is written and q is unchanged.
func (q *Quest) UpdateProperties(ctx context.Context, p Properties, description string) error {
	if q.owner == nil {
		return ErrDetached
	}
	return q.owner.mergeProperties(ctx, q, p, description)
}

// Clone returns a deep copy. The copy stays attached to the same manager.
func (q *Quest) Clone() *Quest {
	c := *q
	c.objectives = make(map[string]*Objective, len(q.objectives))
	for id, o := range q.objectives {
		c.objectives[id] = o.clone()
	}
	c.notes = make(map[string]*Note, len(q.notes))
	for id, n := range q.notes {
		c.notes[id] = n.clone()
	}
	if q.modifiedAt != nil {
		t := *q.modifiedAt
		c.modifiedAt = &t
	}
	return &c
}

func (q *Quest) MarshalJSON() ([]byte, error) {
	return json.Marshal(record{
		ID:               q.id,
		Title:            q.title,
		Description:      q.description,
		QuestGiver:       q.questGiver,
		Location:         q.location,
		Rewards:          q.rewards,
		Category:         q.category,
		Status:           q.status,
		Priority:         q.priority,
		RewardsClaimed:   q.rewardsClaimed,
		VisibleToPlayers: q.visibleToPlayers,
		Objectives:       q.objectives,
		Notes:            q.notes,
		CreatedBy:        q.createdBy,
		CreatedAt:        q.createdAt,
		ModifiedAt:       q.modifiedAt,
	})
}

// UnmarshalJSON decodes a stored quest. Enum fields outside their enum are
// reset to the defaults and missing collections become empty.
func (q *Quest) UnmarshalJSON(data []byte) error {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*q = Quest{
		id:               rec.ID,
		title:            rec.Title,
		description:      rec.Description,
		questGiver:       rec.QuestGiver,
		location:         rec.Location,
		rewards:          rec.Rewards,
		category:         DefaultCategory,
		status:           DefaultStatus,
		priority:         DefaultPriority,
		rewardsClaimed:   rec.RewardsClaimed,
		visibleToPlayers: rec.VisibleToPlayers,
		objectives:       make(map[string]*Objective, len(rec.Objectives)),
		notes:            make(map[string]*Note, len(rec.Notes)),
		createdBy:        rec.CreatedBy,
		createdAt:        rec.CreatedAt.UTC(),
	}
	q.SetCategory(rec.Category)
	q.SetStatus(rec.Status)
	q.SetPriority(rec.Priority)
	for id, o := range rec.Objectives {
		if o != nil {
			q.objectives[id] = o
		}
	}
	for id, n := range rec.Notes {
		if n != nil {
			q.notes[id] = n
		}
	}
	if rec.ModifiedAt != nil {
		t := rec.ModifiedAt.UTC()
		q.modifiedAt = &t
	}
	return nil
}
