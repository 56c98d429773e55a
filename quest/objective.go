package quest

import "encoding/json"

// Objective is a single task within a quest.
type Objective struct {
	id          string
	title       string
	description string
	status      Status
	order       int
	createdBy   string
}

type objectiveRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      Status `json:"status"`
	Order       int    `json:"order"`
	CreatedBy   string `json:"createdBy"`
}

func (o *Objective) ID() string          { return o.id }
func (o *Objective) Title() string       { return o.title }
func (o *Objective) Description() string { return o.description }
func (o *Objective) Status() Status      { return o.status }
func (o *Objective) Order() int          { return o.order }
func (o *Objective) CreatedBy() string   { return o.createdBy }

func (o *Objective) SetTitle(title string)             { o.title = title }
func (o *Objective) SetDescription(description string) { o.description = description }
func (o *Objective) SetOrder(order int)                { o.order = order }

// SetStatus assigns s if it is a valid Status. Invalid values are dropped and
// the previous status is kept; the result reports whether s was accepted.
func (o *Objective) SetStatus(s Status) bool {
	if !s.Valid() {
		return false
	}
	o.status = s
	return true
}

func (o *Objective) clone() *Objective {
	c := *o
	return &c
}

func (o *Objective) MarshalJSON() ([]byte, error) {
	return json.Marshal(objectiveRecord{
		ID:          o.id,
		Title:       o.title,
		Description: o.description,
		Status:      o.status,
		Order:       o.order,
		CreatedBy:   o.createdBy,
	})
}

func (o *Objective) UnmarshalJSON(data []byte) error {
	var rec objectiveRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	*o = Objective{
		id:          rec.ID,
		title:       rec.Title,
		description: rec.Description,
		status:      rec.Status,
		order:       rec.Order,
		createdBy:   rec.CreatedBy,
	}
	if !o.status.Valid() {
		o.status = DefaultStatus
	}
	return nil
}
