package quest

import (
	"encoding/json"
	"time"
)

// Note is a timestamped annotation on a quest.
type Note struct {
	id        string
	content   string
	authorID  string
	createdAt time.Time
}

type noteRecord struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	AuthorID  string    `json:"authorId"`
	Timestamp time.Time `json:"timestamp"`
}

func (n *Note) ID() string           { return n.id }
func (n *Note) Content() string      { return n.content }
func (n *Note) AuthorID() string     { return n.authorID }
func (n *Note) CreatedAt() time.Time { return n.createdAt }

func (n *Note) SetContent(content string) { n.content = content }

func (n *Note) clone() *Note {
	c := *n
	return &c
}

func (n *Note) MarshalJSON() ([]byte, error) {
	return json.Marshal(noteRecord{
		ID:        n.id,
		Content:   n.content,
		AuthorID:  n.authorID,
		Timestamp: n.createdAt,
	})
}

func (n *Note) UnmarshalJSON(data []byte) error {
	var rec noteRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*n = Note{id: rec.ID, content: rec.Content, authorID: rec.AuthorID, createdAt: rec.Timestamp.UTC()}
	return nil
}
