package contacts

import "time"

// Contact is a stable identity for a message sender within a company.
type Contact struct {
	ID          string
	CompanyID   string
	Phone       string
	DisplayName string
	RemoteJID   string
	AvatarURL   string
	Metadata    map[string]any
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ResolveInput carries what an inbound event knows about its sender.
type ResolveInput struct {
	CompanyID string
	Instance  string
	RemoteJID string
	PushName  string
}
