package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"storefront-auth/internal/model"
	"storefront-auth/internal/observability"
	"storefront-auth/internal/service"
	"storefront-auth/internal/token"
	"storefront-auth/pkg/apierror"
)

func writeSuccess(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: true,
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	body := &model.APIError{
		Code:    "INTERNAL_ERROR",
		Message: "Unexpected server error",
	}

	var apiErr *apierror.APIError
	if errors.As(err, &apiErr) {
		status = apiErr.HTTPStatus
		body.Code = apiErr.Code
		body.Message = apiErr.Message
		body.Details = apiErr.Details
	} else if errors.Is(err, service.ErrInvalidCredentials) {
		status = http.StatusUnauthorized
		body.Code = "INVALID_CREDENTIALS"
		body.Message = "Invalid email or password"
	} else if errors.Is(err, service.ErrConflict) {
		status = http.StatusConflict
		body.Code = "CONFLICT"
		body.Message = "Email is already registered"
	} else if errors.Is(err, service.ErrReplayDetected) {
		status = http.StatusUnauthorized
		body.Code = "REPLAY_DETECTED"
		body.Message = "Session ended, please log in again"
	} else if errors.Is(err, service.ErrSessionNotFound) {
		status = http.StatusUnauthorized
		body.Code = "SESSION_NOT_FOUND"
		body.Message = "No active session"
	} else if errors.Is(err, token.ErrExpired) {
		status = http.StatusUnauthorized
		body.Code = "TOKEN_EXPIRED"
		body.Message = "Token has expired"
	} else if errors.Is(err, token.ErrMalformed) || errors.Is(err, token.ErrSignatureInvalid) || errors.Is(err, token.ErrKindMismatch) {
		status = http.StatusUnauthorized
		body.Code = "TOKEN_INVALID"
		body.Message = "Token is invalid"
	} else if errors.Is(err, service.ErrInvalidToken) {
		status = http.StatusBadRequest
		body.Code = "TOKEN_INVALID"
		body.Message = "Token is invalid or has already been used"
	} else if errors.Is(err, service.ErrPasswordMismatch) {
		status = http.StatusBadRequest
		body.Code = "BAD_REQUEST"
		body.Message = "Passwords do not match"
		body.Details = "confirmPassword"
	} else if errors.Is(err, service.ErrNotFound) || errors.Is(err, model.ErrUserNotFound) {
		status = http.StatusNotFound
		body.Code = "NOT_FOUND"
		body.Message = "User not found"
	} else if errors.Is(err, model.ErrInvalidInput) {
		status = http.StatusBadRequest
		body.Code = "BAD_REQUEST"
		body.Message = "Invalid input"
	} else {
		slog.Error("unhandled error in writeError", "error", err.Error())
		observability.CaptureError(err)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Success: false,
		Error:   body,
	})
}

// writeLinkError reports failures of emailed tokens (reset, verify) as 400:
// the caller followed a link, it does not hold a session.
func writeLinkError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, token.ErrExpired):
		writeError(w, apierror.Wrap(err, "TOKEN_EXPIRED", "Link has expired, please request a new one", "", http.StatusBadRequest))
	case errors.Is(err, service.ErrInvalidToken):
		writeError(w, apierror.Wrap(err, "TOKEN_INVALID", "Link is invalid or has already been used", "", http.StatusBadRequest))
	default:
		writeError(w, err)
	}
}

func writeBadJSON(w http.ResponseWriter) {
	writeError(w, apierror.New("BAD_REQUEST", "invalid JSON body", "", http.StatusBadRequest))
}
