package quest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEnv hands out sequential ids and a clock that advances one second per
// reading.
func testEnv() Env {
	var mu sync.Mutex
	n := 0
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return Env{
		NewID: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("id-%03d", n)
		},
		Now: func() time.Time {
			mu.Lock()
			defer mu.Unlock()
			clock = clock.Add(time.Second)
			return clock
		},
	}
}

func TestNew_Defaults(t *testing.T) {
	q := New(testEnv(), "alice", false)
	assert.NotEmpty(t, q.ID())
	assert.Equal(t, "", q.Title())
	assert.Equal(t, CategoryMain, q.Category())
	assert.Equal(t, StatusNotStarted, q.Status())
	assert.Equal(t, PriorityMedium, q.Priority())
	assert.False(t, q.RewardsClaimed())
	assert.True(t, q.VisibleToPlayers(), "player-created quests start visible")
	assert.Equal(t, "alice", q.CreatedBy())
	assert.Nil(t, q.ModifiedAt())
	assert.Equal(t, time.UTC, q.CreatedAt().Location())

	dm := New(testEnv(), "gm", true)
	assert.False(t, dm.VisibleToPlayers(), "director-created quests start hidden")
}

func TestSetters_RejectInvalidEnums(t *testing.T) {
	q := New(testEnv(), "alice", false)

	assert.True(t, q.SetCategory(CategorySide))
	assert.False(t, q.SetCategory("Epic"))
	assert.Equal(t, CategorySide, q.Category())

	assert.True(t, q.SetStatus(StatusActive))
	assert.False(t, q.SetStatus("active"))
	assert.False(t, q.SetStatus(""))
	assert.Equal(t, StatusActive, q.Status())

	assert.True(t, q.SetPriority(PriorityLow))
	assert.False(t, q.SetPriority("Urgent"))
	assert.Equal(t, PriorityLow, q.Priority())
}

func TestSetters_EnumsAlwaysValid(t *testing.T) {
	q := New(testEnv(), "alice", false)
	inputs := []string{"Main", "bogus", "Side", "", "Tutorial", "Completed", "High", "On Hold", "x"}
	for _, in := range inputs {
		q.SetCategory(Category(in))
		q.SetStatus(Status(in))
		q.SetPriority(Priority(in))
		assert.True(t, q.Category().Valid())
		assert.True(t, q.Status().Valid())
		assert.True(t, q.Priority().Valid())
	}
}

func TestAddObjective_Order(t *testing.T) {
	q := New(testEnv(), "alice", false)
	first := q.AddObjective("alice")
	assert.Equal(t, 1, first.Order())
	assert.Equal(t, StatusNotStarted, first.Status())

	second := q.AddObjective("bob")
	assert.Equal(t, 2, second.Order())

	q.RemoveObjective(first.ID())
	third := q.AddObjective("alice")
	assert.Equal(t, 3, third.Order(), "max of remaining orders plus one")

	second.SetOrder(10)
	assert.Equal(t, 11, q.AddObjective("alice").Order())
}

func TestRemoveObjective_MissingIsNoop(t *testing.T) {
	q := New(testEnv(), "alice", false)
	q.AddObjective("alice")
	q.RemoveObjective("nope")
	assert.Equal(t, 1, q.ObjectiveCount())
}

func TestGetObjectivesSorted(t *testing.T) {
	q := New(testEnv(), "alice", false)
	for i := 0; i < 5; i++ {
		q.AddObjective("alice")
	}
	objs := q.GetObjectivesSorted()
	objs[0].SetOrder(7)
	objs[1].SetOrder(3)
	objs[2].SetOrder(3)
	objs[3].SetOrder(-1)

	sorted := q.GetObjectivesSorted()
	require.Len(t, sorted, 5)
	for i := 1; i < len(sorted); i++ {
		assert.LessOrEqual(t, sorted[i-1].Order(), sorted[i].Order())
	}
	assert.Equal(t, -1, sorted[0].Order())
}

func TestMoveObjective(t *testing.T) {
	q := New(testEnv(), "alice", false)
	a := q.AddObjective("alice")
	b := q.AddObjective("alice")
	c := q.AddObjective("alice")

	require.True(t, q.MoveObjective(c.ID(), 0))
	ids := func() []string {
		var out []string
		for _, o := range q.GetObjectivesSorted() {
			out = append(out, o.ID())
		}
		return out
	}
	assert.Equal(t, []string{c.ID(), a.ID(), b.ID()}, ids())
	assert.Equal(t, 1, c.Order())
	assert.Equal(t, 3, b.Order())

	require.True(t, q.MoveObjective(c.ID(), 99))
	assert.Equal(t, []string{a.ID(), b.ID(), c.ID()}, ids())

	assert.False(t, q.MoveObjective("missing", 0))
}

func TestGetNotes_NewestFirst(t *testing.T) {
	q := New(testEnv(), "alice", false)
	first := q.AddNote("first", "alice")
	second := q.AddNote("second", "bob")
	third := q.AddNote("third", "alice")

	notes := q.GetNotes()
	require.Len(t, notes, 3)
	assert.Equal(t, []string{third.ID(), second.ID(), first.ID()},
		[]string{notes[0].ID(), notes[1].ID(), notes[2].ID()})
	for i := 1; i < len(notes); i++ {
		assert.False(t, notes[i].CreatedAt().After(notes[i-1].CreatedAt()))
	}

	q.RemoveNote(second.ID())
	q.RemoveNote("missing")
	assert.Equal(t, 2, q.NoteCount())
	assert.Nil(t, q.GetNote(second.ID()))
}

func TestApply_Properties(t *testing.T) {
	q := New(testEnv(), "alice", false)
	title := "Find the Amulet"
	bad := Category("Legendary")
	status := StatusActive
	hidden := false
	q.Apply(Properties{Title: &title, Category: &bad, Status: &status, VisibleToPlayers: &hidden})

	assert.Equal(t, title, q.Title())
	assert.Equal(t, CategoryMain, q.Category(), "invalid category dropped")
	assert.Equal(t, StatusActive, q.Status())
	assert.False(t, q.VisibleToPlayers())
	assert.Equal(t, "", q.Location(), "nil fields untouched")
}

func TestUpdateProperties_Detached(t *testing.T) {
	q := New(testEnv(), "alice", false)
	title := "x"
	err := q.UpdateProperties(context.Background(), Properties{Title: &title}, "Rename")
	assert.ErrorIs(t, err, ErrDetached)
}

func TestClone_IsDeep(t *testing.T) {
	q := New(testEnv(), "alice", false)
	o := q.AddObjective("alice")
	o.SetTitle("original")
	n := q.AddNote("original", "alice")

	c := q.Clone()
	c.SetTitle("changed")
	c.GetObjective(o.ID()).SetTitle("changed")
	c.GetNote(n.ID()).SetContent("changed")
	c.AddObjective("bob")

	assert.Equal(t, "", q.Title())
	assert.Equal(t, "original", q.GetObjective(o.ID()).Title())
	assert.Equal(t, "original", q.GetNote(n.ID()).Content())
	assert.Equal(t, 1, q.ObjectiveCount())
}

func TestQuestJSON_RoundTrip(t *testing.T) {
	q := New(testEnv(), "alice", true)
	q.SetTitle("Find the Amulet")
	q.SetQuestGiver("Old Tom")
	q.SetStatus(StatusOnHold)
	q.AddObjective("alice").SetDescription("dig")
	q.AddNote("seen near the mill", "bob")

	data, err := json.Marshal(q)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	for _, key := range []string{"id", "title", "questGiver", "rewardsClaimed", "visibleToPlayers", "objectives", "notes", "createdBy", "createdAt", "modifiedAt"} {
		assert.Contains(t, raw, key)
	}

	var back Quest
	require.NoError(t, json.Unmarshal(data, &back))
	again, err := json.Marshal(&back)
	require.NoError(t, err)
	assert.JSONEq(t, string(data), string(again))
	assert.True(t, q.CreatedAt().Equal(back.CreatedAt()))
	assert.True(t, q.GetNotes()[0].CreatedAt().Equal(back.GetNotes()[0].CreatedAt()))
}

func TestQuestJSON_NormalisesStoredEnums(t *testing.T) {
	var q Quest
	require.NoError(t, json.Unmarshal([]byte(`{
		"id":"q1","category":"Legendary","status":"done","priority":"",
		"objectives":{"o1":{"id":"o1","status":"weird","order":2},"o2":null}
	}`), &q))
	assert.Equal(t, DefaultCategory, q.Category())
	assert.Equal(t, DefaultStatus, q.Status())
	assert.Equal(t, DefaultPriority, q.Priority())
	require.Equal(t, 1, q.ObjectiveCount())
	assert.Equal(t, DefaultStatus, q.GetObjective("o1").Status())
	assert.NotNil(t, q.GetNotes())
}
