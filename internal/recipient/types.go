package recipient

import (
	"context"

	"safetynotify/internal/channel"
	"safetynotify/internal/event"
)

// Role is a stakeholder tag used by the notification matrix.
type Role string

const (
	RoleFirstAider    Role = "first_aider"
	RoleSupervisor    Role = "supervisor"
	RoleManager       Role = "manager"
	RoleSafetyOfficer Role = "safety_officer"
	RoleAdmin         Role = "admin"
)

// Recipient is a person eligible for notification. Identity and addresses
// are owned by the org directory; this core only reads them.
type Recipient struct {
	ID   string
	Name string

	Phone          string
	Email          string
	PushToken      string
	TelegramChatID string

	Language string
	Roles    []Role
}

func (r Recipient) HasRole(role Role) bool {
	for _, have := range r.Roles {
		if have == role {
			return true
		}
	}
	return false
}

// AddressFor returns the destination address for a channel, or "" when the
// recipient has no usable address on that channel.
func (r Recipient) AddressFor(ch channel.Channel) string {
	switch ch {
	case channel.WhatsApp:
		return r.Phone
	case channel.Email:
		return r.Email
	case channel.Push:
		return r.PushToken
	case channel.Telegram:
		return r.TelegramChatID
	}
	return ""
}

// MatrixRule is one row of the tenant's stakeholder-role matrix: notify
// this role on these channels for events at or above MinSeverity.
type MatrixRule struct {
	Role        Role
	Channels    []channel.Channel
	MinSeverity event.Severity
}

// Directory is the narrow read surface onto the org's stakeholder data.
type Directory interface {
	MatrixRules(ctx context.Context, tenant string) ([]MatrixRule, error)
	PeopleByRole(ctx context.Context, tenant string, role Role) ([]Recipient, error)
	PersonByID(ctx context.Context, tenant, id string) (Recipient, error)
}

// Target is one resolved notification target: a person plus the channel
// set to reach them on.
type Target struct {
	Recipient Recipient
	Channels  []channel.Channel
}
