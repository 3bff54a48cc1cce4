package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"storefront-auth/internal/middleware"
	"storefront-auth/internal/model"
	"storefront-auth/internal/service"
	"storefront-auth/internal/token"
	"storefront-auth/pkg/apierror"
)

const maxBodyBytes = 1 << 20

type AuthHandler struct {
	service *service.AuthService
	cookies *CookieJar
}

func NewAuthHandler(service *service.AuthService, cookies *CookieJar) *AuthHandler {
	return &AuthHandler{service: service, cookies: cookies}
}

func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var payload model.SignupRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	identity, err := h.service.Signup(r.Context(), service.SignupInput{
		Username:        payload.Username,
		Email:           payload.Email,
		Password:        payload.Password,
		ConfirmPassword: payload.ConfirmPassword,
		Gender:          payload.Gender,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusCreated, model.UserResponse{
		Message: "Account created, check your email to verify it",
		User:    identity.Profile(),
	})
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload model.LoginRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	sess, err := h.service.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, err)
		return
	}

	h.cookies.SetSession(w, sess)
	writeSuccess(w, http.StatusOK, model.UserResponse{Message: "Logged in", User: sess.Identity.Profile()})
}

// Logout always succeeds and always clears the credential cookies.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.service.Logout(r.Context(), RefreshTokenFromRequest(r))
	h.cookies.Clear(w)
	writeSuccess(w, http.StatusOK, model.MessageResponse{Message: "Logged out"})
}

func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	raw := RefreshTokenFromRequest(r)
	if raw == "" {
		writeError(w, service.ErrSessionNotFound)
		return
	}

	sess, err := h.service.Refresh(r.Context(), raw)
	if err != nil {
		if endsSession(err) {
			h.cookies.Clear(w)
		}
		writeError(w, err)
		return
	}

	h.cookies.SetSession(w, sess)
	writeSuccess(w, http.StatusOK, model.UserResponse{User: sess.Identity.Profile()})
}

func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	identity, sess, err := h.service.VerifyEmail(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeLinkError(w, err)
		return
	}

	message := "Email already verified"
	if sess != nil {
		h.cookies.SetSession(w, *sess)
		message = "Email verified"
	}
	writeSuccess(w, http.StatusOK, model.UserResponse{Message: message, User: identity.Profile()})
}

// ForgotPassword answers identically whether or not the address is known.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var payload model.ForgotPasswordRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	if err := h.service.ForgotPassword(r.Context(), payload.Email); err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.MessageResponse{
		Message: "If an account exists for that email, a reset link has been sent",
	})
}

func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var payload model.ResetPasswordRequest
	if !decodeJSON(w, r, &payload) {
		return
	}

	err := h.service.ResetPassword(r.Context(), chi.URLParam(r, "token"), payload.NewPassword, payload.ConfirmPassword)
	if err != nil {
		writeLinkError(w, err)
		return
	}

	// the subject's session was revoked
	h.cookies.Clear(w)
	writeSuccess(w, http.StatusOK, model.MessageResponse{Message: "Password updated, please log in"})
}

func (h *AuthHandler) Profile(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, apierror.New("UNAUTHORIZED", "authentication required", "", http.StatusUnauthorized))
		return
	}

	identity, err := h.service.Profile(r.Context(), principal.SubjectID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.UserResponse{User: identity.Profile()})
}

func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, apierror.New("UNAUTHORIZED", "authentication required", "", http.StatusUnauthorized))
		return
	}

	var payload model.ProfileUpdate
	if !decodeJSON(w, r, &payload) {
		return
	}

	identity, err := h.service.UpdateProfile(r.Context(), principal.SubjectID, payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, model.UserResponse{Message: "Profile updated", User: identity.Profile()})
}

// AdminPing is a minimal admin-only route for collaborators checking role gating.
func (h *AuthHandler) AdminPing(w http.ResponseWriter, r *http.Request) {
	principal, _ := middleware.PrincipalFromContext(r.Context())
	writeSuccess(w, http.StatusOK, map[string]any{"status": "ok", "subject_id": principal.SubjectID})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()

	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeBadJSON(w)
		return false
	}
	return true
}

// endsSession reports refresh failures after which the cookies are useless.
func endsSession(err error) bool {
	return errors.Is(err, service.ErrReplayDetected) ||
		errors.Is(err, service.ErrSessionNotFound) ||
		errors.Is(err, token.ErrExpired) ||
		errors.Is(err, token.ErrMalformed) ||
		errors.Is(err, token.ErrSignatureInvalid) ||
		errors.Is(err, token.ErrKindMismatch)
}
