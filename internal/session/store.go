// Package session records the single valid refresh rotation per subject and the
// pending one-shot password reset ticket. Every read-modify-write on a subject
// is atomic inside the backing store, so two concurrent refreshes presenting the
// same rotation id can never both win.
package session

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoSession        = errors.New("no active session")
	ErrRotationMismatch = errors.New("rotation id mismatch")
	ErrTicketNotFound   = errors.New("reset ticket not found")
)

// Store tracks the current refresh rotation id per subject.
type Store interface {
	RecordRotation(ctx context.Context, subjectID, rotationID string, ttl time.Duration) error
	CurrentRotation(ctx context.Context, subjectID string) (string, error)
	// Rotate swaps expected for next only if expected is still current.
	Rotate(ctx context.Context, subjectID, expected, next string, ttl time.Duration) error
	Revoke(ctx context.Context, subjectID string) error
}

// TicketStore tracks pending password reset tickets and the advisory attempt counter.
type TicketStore interface {
	PutResetTicket(ctx context.Context, subjectID, ticketID string, ttl time.Duration) error
	ConsumeResetTicket(ctx context.Context, subjectID, ticketID string) error
	IncrResetAttempts(ctx context.Context, subjectID string, window time.Duration) (int64, error)
}

// Backend is what the auth service needs from a session backend.
type Backend interface {
	Store
	TicketStore
	Ping(ctx context.Context) error
	Close() error
}
