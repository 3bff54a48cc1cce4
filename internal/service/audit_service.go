package service

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"storefront-auth/internal/event"
	"storefront-auth/internal/model"
	"storefront-auth/pkg/apierror"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 200
)

type AuditStore interface {
	Append(ctx context.Context, entry model.AuditEntry) error
	Query(ctx context.Context, query model.AuditQuery) ([]model.AuditEntry, int, error)
}

// AuditListInput is an audit query as received from a caller. Times are RFC 3339.
type AuditListInput struct {
	Type      string
	SubjectID string
	From      string
	To        string
	Page      int
	Limit     int
}

// AuditService records session events from the bus and serves them to admins.
type AuditService struct {
	store AuditStore
}

func NewAuditService(store AuditStore) *AuditService {
	return &AuditService{store: store}
}

// Run appends every event from events until the channel is closed.
func (s *AuditService) Run(events <-chan event.Event) {
	for e := range events {
		if err := s.Record(context.Background(), e); err != nil {
			slog.Error("failed to record session event", "type", e.Type, "subject_id", e.SubjectID, "error", err)
		}
	}
}

func (s *AuditService) Record(ctx context.Context, e event.Event) error {
	occurredAt, err := parseAuditTime(e.Timestamp)
	if err != nil {
		occurredAt = time.Now().UTC()
	}

	return s.store.Append(ctx, model.AuditEntry{
		ID:         e.ID,
		Type:       string(e.Type),
		SubjectID:  e.SubjectID,
		Admin:      e.Admin,
		Reason:     e.Reason,
		OccurredAt: occurredAt,
	})
}

func (s *AuditService) Query(ctx context.Context, in AuditListInput) (model.AuditListData, error) {
	query := model.AuditQuery{
		Type:      strings.TrimSpace(in.Type),
		SubjectID: strings.TrimSpace(in.SubjectID),
		Page:      in.Page,
		Limit:     in.Limit,
	}
	if query.Page < 1 {
		query.Page = 1
	}
	if query.Limit <= 0 {
		query.Limit = defaultAuditLimit
	}
	if query.Limit > maxAuditLimit {
		query.Limit = maxAuditLimit
	}

	var err error
	if query.From, err = parseOptionalAuditTime(in.From); err != nil {
		return model.AuditListData{}, apierror.New("BAD_REQUEST", "invalid 'from' datetime format", in.From, http.StatusBadRequest)
	}
	if query.To, err = parseOptionalAuditTime(in.To); err != nil {
		return model.AuditListData{}, apierror.New("BAD_REQUEST", "invalid 'to' datetime format", in.To, http.StatusBadRequest)
	}

	items, total, err := s.store.Query(ctx, query)
	if err != nil {
		return model.AuditListData{}, err
	}

	return model.AuditListData{Items: items, Meta: model.NewMeta(query.Page, query.Limit, total)}, nil
}

func parseOptionalAuditTime(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, nil
	}

	return parseAuditTime(trimmed)
}

func parseAuditTime(raw string) (time.Time, error) {
	value, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return value.UTC(), nil
}
