package service

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-auth/internal/event"
	"storefront-auth/internal/repository"
	"storefront-auth/pkg/apierror"
)

func TestAuditService_RecordsBusEvents(t *testing.T) {
	audit := NewAuditService(repository.NewMemoryAuditRepository())
	bus := event.NewBus()
	events, unsubscribe := bus.Subscribe()

	done := make(chan struct{})
	go func() {
		audit.Run(events)
		close(done)
	}()

	revoked := event.New(event.TypeSessionRevoked, "u1")
	revoked.Reason = "replay"
	bus.Publish(event.New(event.TypeSessionLogin, "u1"))
	bus.Publish(revoked)
	bus.Publish(event.New(event.TypeSessionLogin, "u2"))
	unsubscribe()
	<-done

	ctx := context.Background()
	all, err := audit.Query(ctx, AuditListInput{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Meta.Total)
	assert.Equal(t, 50, all.Meta.Limit)

	byType, err := audit.Query(ctx, AuditListInput{Type: "session.revoked"})
	require.NoError(t, err)
	require.Len(t, byType.Items, 1)
	assert.Equal(t, "u1", byType.Items[0].SubjectID)
	assert.Equal(t, "replay", byType.Items[0].Reason)

	bySubject, err := audit.Query(ctx, AuditListInput{SubjectID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, 1, bySubject.Meta.Total)
}

func TestAuditService_QueryPagination(t *testing.T) {
	audit := NewAuditService(repository.NewMemoryAuditRepository())
	ctx := context.Background()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := event.New(event.TypeSessionLogin, "u1")
		e.Timestamp = base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339)
		require.NoError(t, audit.Record(ctx, e))
	}

	page, err := audit.Query(ctx, AuditListInput{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Meta.Total)
	assert.Equal(t, 3, page.Meta.TotalPages)
	require.Len(t, page.Items, 2)
	assert.Equal(t, base.Add(2*time.Minute), page.Items[0].OccurredAt, "newest first")

	window, err := audit.Query(ctx, AuditListInput{
		From: base.Add(time.Minute).Format(time.RFC3339),
		To:   base.Add(3 * time.Minute).Format(time.RFC3339),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, window.Meta.Total)

	capped, err := audit.Query(ctx, AuditListInput{Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, 200, capped.Meta.Limit)

	past, err := audit.Query(ctx, AuditListInput{Page: 9})
	require.NoError(t, err)
	assert.Empty(t, past.Items)
}

func TestAuditService_RejectsBadTimes(t *testing.T) {
	audit := NewAuditService(repository.NewMemoryAuditRepository())

	_, err := audit.Query(context.Background(), AuditListInput{From: "yesterday"})
	apiErr, ok := apierror.As(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusBadRequest, apiErr.HTTPStatus)
	assert.Equal(t, "BAD_REQUEST", apiErr.Code)
}
