package sessionclient

import (
	"encoding/json"
	"errors"
	"fmt"
)

// User mirrors the profile the auth service returns.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username"`
	Gender   string `json:"gender,omitempty"`
	IsAdmin  bool   `json:"is_admin"`
	Verified bool   `json:"verified"`
}

// View is the client-held session state. A nil User means Anonymous.
type View struct {
	User         *User
	Loading      bool
	CheckingAuth bool
	Refreshing   bool
	// Attempts counts forgot-password requests made by this client.
	Attempts int
	Error    string
}

func (v View) Authenticated() bool { return v.User != nil }

type ProfileUpdate struct {
	Username *string `json:"username,omitempty"`
	Gender   *string `json:"gender,omitempty"`
}

type SignupInput struct {
	Username        string `json:"username,omitempty"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	Gender          string `json:"gender,omitempty"`
}

// Server error codes the coordinator acts on.
const (
	CodeReplayDetected     = "REPLAY_DETECTED"
	CodeInvalidCredentials = "INVALID_CREDENTIALS"
	CodeSessionNotFound    = "SESSION_NOT_FOUND"
	CodeTokenExpired       = "TOKEN_EXPIRED"
)

var ErrPasswordMismatch = errors.New("passwords do not match")

// Error is a failed response from the auth service.
type Error struct {
	Status  int
	Code    string
	Message string
	Details string
}

func (e *Error) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("auth service returned %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsCode reports whether err is a service Error carrying code.
func IsCode(err error, code string) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == code
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Details string `json:"details,omitempty"`
	} `json:"error,omitempty"`
}

type userPayload struct {
	Message string `json:"message,omitempty"`
	User    *User  `json:"user"`
}
