package quest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SchemaVersion is written to Metadata.Version of every new document.
const SchemaVersion = 1

var (
	// ErrMalformedDocument is returned when the stored payload cannot be
	// decoded into a quest document and the manager is configured to fail.
	ErrMalformedDocument = errors.New("quest: malformed document")

	errUninitialized = errors.New("quest: document not initialised")
)

// Metadata describes the campaign a document belongs to.
type Metadata struct {
	CampaignName      string    `json:"campaignName"`
	Version           int       `json:"version"`
	CreatedTimestamp  time.Time `json:"createdTimestamp"`
	ModifiedTimestamp time.Time `json:"modifiedTimestamp"`
}

// Document is the persisted shape: every quest keyed by id plus metadata.
type Document struct {
	Quests   map[string]*Quest `json:"quests"`
	Metadata Metadata          `json:"metadata"`

	touched map[string]struct{}
}

// touch marks a quest as saved by the open change even when its content did
// not change.
func (d *Document) touch(id string) {
	if d.touched == nil {
		d.touched = make(map[string]struct{})
	}
	d.touched[id] = struct{}{}
}

func newDocument(env Env, campaign string) *Document {
	now := env.now()
	return &Document{
		Quests: make(map[string]*Quest),
		Metadata: Metadata{
			CampaignName:      campaign,
			Version:           SchemaVersion,
			CreatedTimestamp:  now,
			ModifiedTimestamp: now,
		},
	}
}

// decodeDocument parses a stored payload. An empty payload reports
// errUninitialized; a payload without a quests object reports
// ErrMalformedDocument. Missing metadata is filled in from env.
func decodeDocument(data []byte, env Env, campaign string) (*Document, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errUninitialized
	}

	var raw struct {
		Quests   json.RawMessage `json:"quests"`
		Metadata *Metadata       `json:"metadata"`
	}
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if q := bytes.TrimSpace(raw.Quests); len(q) == 0 || q[0] != '{' {
		return nil, fmt.Errorf("%w: missing quests mapping", ErrMalformedDocument)
	}
	quests := make(map[string]*Quest)
	if err := json.Unmarshal(raw.Quests, &quests); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}

	doc := &Document{Quests: make(map[string]*Quest, len(quests))}
	for key, q := range quests {
		if q == nil {
			continue
		}
		q.id = key
		doc.Quests[key] = q
	}
	if raw.Metadata != nil {
		doc.Metadata = *raw.Metadata
		doc.Metadata.CreatedTimestamp = doc.Metadata.CreatedTimestamp.UTC()
		doc.Metadata.ModifiedTimestamp = doc.Metadata.ModifiedTimestamp.UTC()
	} else {
		doc.Metadata = newDocument(env, campaign).Metadata
	}
	return doc, nil
}

func (d *Document) encode() ([]byte, error) {
	return json.Marshal(d)
}
