package ops

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "guestgate/pkg/domain"
	audit "guestgate/pkg/platform/audit"
	"guestgate/pkg/platform/audit/store/memory"
)

type failingStore struct{}

func (failingStore) Append(context.Context, audit.Event) error {
	return errors.New("store down")
}

func (failingStore) ListBySession(context.Context, id.SessionID) ([]audit.Event, error) {
	return nil, nil
}

func TestTracker_PersistsEvent(t *testing.T) {
	store := memory.NewInMemoryStore()
	tracker := NewTracker(store)

	sessionID := id.NewSessionID()
	tracker.Track(context.Background(), audit.OpsEvent{
		SessionID: sessionID,
		Action:    string(audit.EventStepAdvanced),
		Step:      "contact",
	})
	require.NoError(t, tracker.Close())

	events, err := store.ListBySession(context.Background(), sessionID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventStepAdvanced), events[0].Action)
	assert.Equal(t, "contact", events[0].Step)
	assert.False(t, events[0].Timestamp.IsZero(), "tracker stamps the event")
}

func TestTracker_SampledOutEventIsDropped(t *testing.T) {
	store := memory.NewInMemoryStore()
	tracker := NewTracker(store, WithSampler(NewSampler(0)))

	sessionID := id.NewSessionID()
	tracker.Track(context.Background(), audit.OpsEvent{
		SessionID: sessionID,
		Action:    string(audit.EventSnapshotSaved),
	})
	require.NoError(t, tracker.Close())

	events, err := store.ListBySession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestTracker_OpenBreakerDropsWithoutPersisting(t *testing.T) {
	store := memory.NewInMemoryStore()
	breaker := NewCircuitBreaker(1, 0)
	breaker.RecordFailure()
	tracker := NewTracker(store, WithCircuitBreaker(breaker))

	sessionID := id.NewSessionID()
	tracker.Track(context.Background(), audit.OpsEvent{
		SessionID: sessionID,
		Action:    string(audit.EventSessionStarted),
	})
	require.NoError(t, tracker.Close())

	events, err := store.ListBySession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestTracker_FailuresOpenBreaker(t *testing.T) {
	breaker := NewCircuitBreaker(3, 0)
	tracker := NewTracker(failingStore{}, WithCircuitBreaker(breaker))

	for range 3 {
		tracker.Track(context.Background(), audit.OpsEvent{
			SessionID: id.NewSessionID(),
			Action:    string(audit.EventSessionStarted),
		})
	}
	require.NoError(t, tracker.Close())

	assert.True(t, breaker.IsOpen(), "persist failures must trip the breaker")
}
