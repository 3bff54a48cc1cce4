package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

func (c *Coordinator) Signup(ctx context.Context, in SignupInput) (*User, error) {
	if in.Password != in.ConfirmPassword {
		return nil, c.fail(ErrPasswordMismatch)
	}

	c.begin()
	var payload userPayload
	err := c.call(ctx, http.MethodPost, "/api/auth/signup", in, &payload)
	c.finish(err)
	if err != nil {
		return nil, err
	}
	return payload.User, nil
}

func (c *Coordinator) Login(ctx context.Context, email, password string) (*User, error) {
	c.begin()
	var payload userPayload
	err := c.call(ctx, http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": password}, &payload)
	if err == nil {
		c.setUser(payload.User)
	}
	c.finish(err)
	if err != nil {
		return nil, err
	}
	return payload.User, nil
}

// Logout ends the session on the server and always leaves the client
// Anonymous, even if the server could not be reached.
func (c *Coordinator) Logout(ctx context.Context) error {
	c.begin()
	err := c.call(ctx, http.MethodPost, "/api/auth/logout", nil, nil)
	c.setUser(nil)
	c.finish(nil)
	return err
}

func (c *Coordinator) VerifyEmail(ctx context.Context, token string) (*User, error) {
	c.begin()
	var payload userPayload
	err := c.call(ctx, http.MethodGet, "/api/auth/verify-email/"+url.PathEscape(token), nil, &payload)
	if err == nil {
		c.setUser(payload.User)
	}
	c.finish(err)
	if err != nil {
		return nil, err
	}
	return payload.User, nil
}

// CheckAuth loads the profile for the current credentials. Any failure leaves
// the client Anonymous.
func (c *Coordinator) CheckAuth(ctx context.Context) (*User, error) {
	c.mu.Lock()
	c.view.CheckingAuth = true
	c.mu.Unlock()

	var payload userPayload
	err := c.call(ctx, http.MethodGet, "/api/auth/profile", nil, &payload)

	c.mu.Lock()
	c.view.CheckingAuth = false
	if err != nil {
		c.view.User = nil
	} else {
		c.view.User = payload.User
	}
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return payload.User, nil
}

// ForgotPassword requests a reset link. The server answers identically for
// unknown addresses, so the attempt count is kept locally.
func (c *Coordinator) ForgotPassword(ctx context.Context, email string) error {
	c.mu.Lock()
	c.view.Attempts++
	c.mu.Unlock()

	c.begin()
	err := c.call(ctx, http.MethodPost, "/api/auth/forgot-password", map[string]string{"email": email}, nil)
	c.finish(err)
	return err
}

func (c *Coordinator) ResetPassword(ctx context.Context, token, newPassword, confirmPassword string) error {
	if newPassword != confirmPassword {
		return c.fail(ErrPasswordMismatch)
	}

	c.begin()
	err := c.call(ctx, http.MethodPost, "/api/auth/reset-password/"+url.PathEscape(token),
		map[string]string{"newPassword": newPassword, "confirmPassword": confirmPassword}, nil)
	if err == nil {
		// the server revoked every session of the subject
		c.setUser(nil)
	}
	c.finish(err)
	return err
}

func (c *Coordinator) UpdateProfile(ctx context.Context, update ProfileUpdate) (*User, error) {
	c.begin()
	var payload userPayload
	err := c.call(ctx, http.MethodPatch, "/api/auth/profile", update, &payload)
	if err == nil {
		c.setUser(payload.User)
	}
	c.finish(err)
	if err != nil {
		return nil, err
	}
	return payload.User, nil
}

func (c *Coordinator) call(ctx context.Context, method, path string, body any, data any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decodeEnvelope(resp, data)
}

func (c *Coordinator) begin() {
	c.mu.Lock()
	c.view.Loading = true
	c.view.Error = ""
	c.mu.Unlock()
}

func (c *Coordinator) finish(err error) {
	c.mu.Lock()
	c.view.Loading = false
	if err != nil {
		c.view.Error = errorMessage(err)
	}
	c.mu.Unlock()
}

func (c *Coordinator) fail(err error) error {
	c.mu.Lock()
	c.view.Error = errorMessage(err)
	c.mu.Unlock()
	return err
}

func (c *Coordinator) setUser(u *User) {
	c.mu.Lock()
	c.view.User = u
	c.mu.Unlock()
}

func errorMessage(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
