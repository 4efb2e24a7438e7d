package domain

// TicketStatus is the board column of a ticket.
type TicketStatus int

const (
	StatusToDo TicketStatus = iota
	StatusBlocked
	StatusInProgress
	StatusDone
)

// IsValid reports whether the status is one of the known columns.
func (s TicketStatus) IsValid() bool {
	return s >= StatusToDo && s <= StatusDone
}

func (s TicketStatus) String() string {
	switch s {
	case StatusToDo:
		return "To Do"
	case StatusBlocked:
		return "Blocked"
	case StatusInProgress:
		return "In Progress"
	case StatusDone:
		return "Done"
	default:
		return "Unknown"
	}
}

// TicketPriority is the urgency of a ticket. Lower is more urgent.
type TicketPriority int

const (
	PriorityHigh TicketPriority = iota
	PriorityMedium
	PriorityLow
)

// IsValid reports whether the priority is known.
func (p TicketPriority) IsValid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

func (p TicketPriority) String() string {
	switch p {
	case PriorityHigh:
		return "High"
	case PriorityMedium:
		return "Medium"
	case PriorityLow:
		return "Low"
	default:
		return "Unknown"
	}
}

// Departments a ticket can be routed to, indexed by their wire value.
var Departments = []string{
	"Fleet",
	"Updater",
	"Dispatcher",
	"Insurance",
	"Safety",
	"Hr",
	"Accounting",
}

// DepartmentName returns the label for a department value.
func DepartmentName(d int) string {
	if d < 0 || d >= len(Departments) {
		return "Unknown"
	}
	return Departments[d]
}

// TicketSummary is the subset of a ticket kept current by live sync.
type TicketSummary struct {
	ID         ID             `json:"id"`
	Status     TicketStatus   `json:"status"`
	Department int            `json:"department"`
	Priority   TicketPriority `json:"priority"`
	UpdatedAt  *Timestamp     `json:"updatedAt,omitempty"`
	Title      string         `json:"title,omitempty"`
	Text       string         `json:"text,omitempty"`
	WriterName string         `json:"writerName,omitempty"`
}

// TicketPatch is a partial update pushed by TicketUpdated. Nil fields are
// left untouched.
type TicketPatch struct {
	ID         ID              `json:"id"`
	Status     *TicketStatus   `json:"status,omitempty"`
	Department *int            `json:"department,omitempty"`
	Priority   *TicketPriority `json:"priority,omitempty"`
	UpdatedAt  *Timestamp      `json:"updatedAt,omitempty"`
}

// IsEmpty reports whether the patch carries no field besides the id.
func (p TicketPatch) IsEmpty() bool {
	return p.Status == nil && p.Department == nil && p.Priority == nil && p.UpdatedAt == nil
}

// ApplyTo shallow-merges the patch onto t.
func (p TicketPatch) ApplyTo(t *TicketSummary) {
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Department != nil {
		t.Department = *p.Department
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.UpdatedAt != nil {
		updated := *p.UpdatedAt
		t.UpdatedAt = &updated
	}
}

// TicketLink is the dashboard route for a ticket.
func TicketLink(id ID) string {
	return "/dashboard/tasks/" + string(id)
}

