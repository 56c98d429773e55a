package quest

// Properties is a partial update of a quest's scalar fields. Nil fields are
// left untouched.
type Properties struct {
	Title            *string   `json:"title,omitempty"`
	Description      *string   `json:"description,omitempty"`
	QuestGiver       *string   `json:"questGiver,omitempty"`
	Location         *string   `json:"location,omitempty"`
	Rewards          *string   `json:"rewards,omitempty"`
	Category         *Category `json:"category,omitempty"`
	Status           *Status   `json:"status,omitempty"`
	Priority         *Priority `json:"priority,omitempty"`
	RewardsClaimed   *bool     `json:"rewardsClaimed,omitempty"`
	VisibleToPlayers *bool     `json:"visibleToPlayers,omitempty"`
}

// Apply merges p into q through the regular setters, so invalid enum values
// are dropped exactly as a direct Set call would drop them.
func (q *Quest) Apply(p Properties) {
	if p.Title != nil {
		q.SetTitle(*p.Title)
	}
	if p.Description != nil {
		q.SetDescription(*p.Description)
	}
	if p.QuestGiver != nil {
		q.SetQuestGiver(*p.QuestGiver)
	}
	if p.Location != nil {
		q.SetLocation(*p.Location)
	}
	if p.Rewards != nil {
		q.SetRewards(*p.Rewards)
	}
	if p.Category != nil {
		q.SetCategory(*p.Category)
	}
	if p.Status != nil {
		q.SetStatus(*p.Status)
	}
	if p.Priority != nil {
		q.SetPriority(*p.Priority)
	}
	if p.RewardsClaimed != nil {
		q.SetRewardsClaimed(*p.RewardsClaimed)
	}
	if p.VisibleToPlayers != nil {
		q.SetVisibleToPlayers(*p.VisibleToPlayers)
	}
}

// ObjectivePatch is a partial update of an objective.
type ObjectivePatch struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *Status `json:"status,omitempty"`
}

// Apply merges p into o; an invalid status is dropped.
func (o *Objective) Apply(p ObjectivePatch) {
	if p.Title != nil {
		o.SetTitle(*p.Title)
	}
	if p.Description != nil {
		o.SetDescription(*p.Description)
	}
	if p.Status != nil {
		o.SetStatus(*p.Status)
	}
}
