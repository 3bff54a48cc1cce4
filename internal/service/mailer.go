package service

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"storefront-auth/internal/model"
)

// Mailer delivers verification and reset links. Actual email transport lives
// outside this service.
type Mailer interface {
	SendVerification(ctx context.Context, to model.Identity, link string) error
	SendPasswordReset(ctx context.Context, to model.Identity, link string) error
}

// LogMailer writes outgoing links to the structured log. Links contain live
// tokens, so they are only emitted at debug level.
type LogMailer struct{}

func (LogMailer) SendVerification(ctx context.Context, to model.Identity, link string) error {
	slog.InfoContext(ctx, "verification email queued", "subject_id", to.ID)
	slog.DebugContext(ctx, "verification link", "subject_id", to.ID, "link", link)
	return nil
}

func (LogMailer) SendPasswordReset(ctx context.Context, to model.Identity, link string) error {
	slog.InfoContext(ctx, "password reset email queued", "subject_id", to.ID)
	slog.DebugContext(ctx, "password reset link", "subject_id", to.ID, "link", link)
	return nil
}

func buildLink(baseURL string, route string, tok string) string {
	return strings.TrimRight(baseURL, "/") + "/" + route + "/" + url.PathEscape(tok)
}
