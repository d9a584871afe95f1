package conversation

import "time"

// Status is the conversation lifecycle state.
type Status string

const (
	StatusOpen     Status = "open"
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
)

// Conversation is the single active dialogue between a contact and a channel.
type Conversation struct {
	ID                 string
	CompanyID          string
	ContactID          string
	Channel            string
	Status             Status
	AssignedOperatorID string
	LastMessageAt      time.Time
	Metadata           map[string]any
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
