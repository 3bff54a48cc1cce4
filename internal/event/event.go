package event

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeSessionLogin   Type = "session.login"
	TypeSessionLogout  Type = "session.logout"
	TypeSessionRevoked Type = "session.revoked"
	TypeEmailVerified  Type = "identity.verified"
	TypePasswordReset  Type = "identity.password_reset"
)

// Event is published for collaborators such as the real-time notification
// channel. It carries the subject id and role flag, never credentials.
type Event struct {
	ID        string `json:"id"`
	Type      Type   `json:"type"`
	SubjectID string `json:"subject_id"`
	Admin     bool   `json:"admin,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Timestamp string `json:"timestamp"`
}

func New(t Type, subjectID string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		SubjectID: subjectID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

type Bus interface {
	Publish(e Event)
	Subscribe() (<-chan Event, func()) // Returns channel and unsubscribe function
}
