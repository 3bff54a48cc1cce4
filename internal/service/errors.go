package service

import (
	"errors"
	"net/http"

	"storefront-auth/internal/model"
	"storefront-auth/pkg/apierror"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrConflict           = errors.New("email already registered")
	ErrSessionNotFound    = errors.New("session not found")
	// ErrReplayDetected ends the session: a superseded refresh credential was presented.
	ErrReplayDetected   = errors.New("refresh token reuse detected")
	ErrInvalidToken     = errors.New("token is invalid or already used")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrNotFound         = errors.New("not found")
)

func invalidInput(field string, message string) error {
	return apierror.Wrap(model.ErrInvalidInput, "BAD_REQUEST", message, field, http.StatusBadRequest)
}
