package publisher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agegate/pkg/domain"
	audit "agegate/pkg/platform/audit"
	"agegate/pkg/platform/audit/store/memory"
	"agegate/pkg/requestcontext"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)
	ctx = requestcontext.WithRequestID(ctx, "req-42")

	subjectID := domain.NewSubjectID()
	err := pub.Emit(ctx, audit.Event{
		SubjectID: subjectID,
		Action:    string(audit.EventVerificationApproved),
	})
	require.NoError(t, err)

	events, err := pub.List(ctx, subjectID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventVerificationApproved), events[0].Action)
	assert.Equal(t, audit.CategoryCompliance, events[0].Category)
	assert.Equal(t, now, events[0].Timestamp)
	assert.Equal(t, "req-42", events[0].RequestID)
	assert.NotEmpty(t, events[0].ID)
}

func TestPublisher_AsyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(10))
	defer pub.Close()

	subjectID := domain.NewSubjectID()
	err := pub.Emit(context.Background(), audit.Event{
		SubjectID: subjectID,
		Action:    string(audit.EventBotSuspected),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		events, err := pub.List(context.Background(), subjectID)
		return err == nil && len(events) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	subjectID := domain.NewSubjectID()
	for range 10 {
		err := pub.Emit(context.Background(), audit.Event{
			SubjectID: subjectID,
			Action:    string(audit.EventVerificationStarted),
		})
		require.NoError(t, err)
	}

	pub.Close()

	events, err := store.ListBySubject(context.Background(), subjectID)
	require.NoError(t, err)
	assert.Len(t, events, 10)

	err = pub.Emit(context.Background(), audit.Event{SubjectID: subjectID})
	assert.ErrorIs(t, err, ErrClosed)
}
