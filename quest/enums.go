package quest

// Category groups quests in the tracker.
type Category string

const (
	CategoryMain     Category = "Main"
	CategorySide     Category = "Side"
	CategoryPersonal Category = "Personal"
	CategoryFaction  Category = "Faction"
	CategoryTutorial Category = "Tutorial"
)

// Categories lists every valid Category in display order.
var Categories = []Category{CategoryMain, CategorySide, CategoryPersonal, CategoryFaction, CategoryTutorial}

// Valid reports whether c is one of Categories.
func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// Status is the progress state shared by quests and objectives.
type Status string

const (
	StatusNotStarted Status = "Not Started"
	StatusActive     Status = "Active"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
	StatusOnHold     Status = "On Hold"
)

// Statuses lists every valid Status in display order.
var Statuses = []Status{StatusNotStarted, StatusActive, StatusCompleted, StatusFailed, StatusOnHold}

// Valid reports whether s is one of Statuses.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if s == v {
			return true
		}
	}
	return false
}

// Priority ranks quests.
type Priority string

const (
	PriorityHigh   Priority = "High"
	PriorityMedium Priority = "Medium"
	PriorityLow    Priority = "Low"
)

// Priorities lists every valid Priority in display order.
var Priorities = []Priority{PriorityHigh, PriorityMedium, PriorityLow}

// Valid reports whether p is one of Priorities.
func (p Priority) Valid() bool {
	for _, v := range Priorities {
		if p == v {
			return true
		}
	}
	return false
}

const (
	DefaultCategory = CategoryMain
	DefaultStatus   = StatusNotStarted
	DefaultPriority = PriorityMedium
)
