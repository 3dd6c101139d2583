package domain

import "time"

type NotificationPriority string

const (
	NotifyNormal NotificationPriority = "normal"
	NotifyHigh   NotificationPriority = "high"
)

// Notification is the durable mirror of a realtime push, queryable and
// ackable by the recipient after the fact.
type Notification struct {
	ID           string               `json:"id"`
	ContractorID string               `json:"contractorId"`
	Type         string               `json:"type"`
	Priority     NotificationPriority `json:"priority"`
	Title        string               `json:"title"`
	Message      string               `json:"message"`
	Data         map[string]any       `json:"data,omitempty"`
	Delivered    bool                 `json:"delivered"`
	CreatedAt    time.Time            `json:"createdAt"`
	ExpiresAt    time.Time            `json:"expiresAt"`
}
