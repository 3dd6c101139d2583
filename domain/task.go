package domain

import "time"

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusAssigned   TaskStatus = "assigned"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
	StatusCancelled  TaskStatus = "cancelled"
)

// ValidStatus reports whether s names a known task status.
func ValidStatus(s TaskStatus) bool {
	switch s {
	case StatusPending, StatusAssigned, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// transitions lists the legal status moves. Pending only leaves through
// a claim, so it never appears as an UpdateStatus target.
var transitions = map[TaskStatus][]TaskStatus{
	StatusPending:    {StatusAssigned},
	StatusAssigned:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether a task may move from one status to another.
func CanTransition(from, to TaskStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

type TaskType string

const (
	TypeDelivery    TaskType = "delivery"
	TypeSetup       TaskType = "setup"
	TypePickup      TaskType = "pickup"
	TypeMaintenance TaskType = "maintenance"
)

type TaskPriority string

const (
	PriorityHigh   TaskPriority = "high"
	PriorityMedium TaskPriority = "medium"
	PriorityLow    TaskPriority = "low"
)

// MaxCompletionPhotos caps the number of photo URLs accepted on completion.
const MaxCompletionPhotos = 5

// Task is a dispatchable unit of field work.
type Task struct {
	ID                  string       `json:"id"`
	OrderRef            string       `json:"orderRef"`
	Status              TaskStatus   `json:"status"`
	Type                TaskType     `json:"type"`
	Priority            TaskPriority `json:"priority"`
	Description         string       `json:"description,omitempty"`
	AssignedContractors []string     `json:"assignedContractors"`
	// AssignedTo is the legacy single-assignee field, kept in sync with
	// AssignedContractors for older consumers.
	AssignedTo       string     `json:"assignedTo,omitempty"`
	Location         *Location  `json:"location,omitempty"`
	PaymentAmount    float64    `json:"paymentAmount,omitempty"`
	ScheduledAt      time.Time  `json:"scheduledDateTime,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty"`
	CompletionNotes  string     `json:"completionNotes,omitempty"`
	CompletionPhotos []string   `json:"completionPhotos,omitempty"`
	CreatedAt        time.Time  `json:"createdAt,omitempty"`
}

// IsAssignedTo reports whether the contractor holds this task, honoring
// both the assignee set and the legacy field.
func (t *Task) IsAssignedTo(contractorID string) bool {
	if contractorID == "" {
		return false
	}
	if t.AssignedTo == contractorID {
		return true
	}
	for _, id := range t.AssignedContractors {
		if id == contractorID {
			return true
		}
	}
	return false
}
