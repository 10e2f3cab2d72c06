package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/getAlby/knostr.go/db/models"
	"github.com/getAlby/knostr.go/lib/responses"
	"github.com/getAlby/knostr.go/lib/store"
	"github.com/getAlby/knostr.go/lib/store/mock_store"
	"github.com/getAlby/knostr.go/lib/testutils"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ziflex/lecho/v3"
)

func newTestService(t *testing.T, eventStore store.EventStore, config *Config) *RelayService {
	t.Helper()
	if config == nil {
		config = &Config{
			DispatcherQueueSize: 100,
			DispatcherWorkers:   4,
			SendTimeout:         time.Second,
			EnqueueTimeout:      time.Second,
			SeenCacheSize:       1000,
		}
	}
	svc, err := NewRelayService(config, eventStore, lecho.New(io.Discard), nil)
	require.NoError(t, err)
	svc.Start(context.Background())
	t.Cleanup(svc.Dispatcher.Close)
	return svc
}

// subscribeAll registers a catch-all subscription on a new session.
func subscribeAll(t *testing.T, svc *RelayService) *testutils.Session {
	t.Helper()
	session := testutils.NewSession()
	svc.Subscriptions.Subscribe(context.Background(), "all", session, []models.EventFilter{{}})
	return session
}

func TestSaveEventRejectsBadID(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := newTestService(t, mock_store.NewMockEventStore(ctrl), nil)
	session := testutils.NewSession()

	event := testutils.NewSigner().Note("hello")
	event.Content = "changed"

	result := svc.SaveEvent(context.Background(), &event, session)
	assert.Equal(t, responses.Invalid(event.ID, "event id does not match"), result)
	assert.Equal(t, [][]byte{result.JSON()}, session.Messages())
}

func TestSaveEventRejectsBadSignature(t *testing.T) {
	ctrl := gomock.NewController(t)
	svc := newTestService(t, mock_store.NewMockEventStore(ctrl), nil)
	session := testutils.NewSession()

	event := testutils.NewSigner().Note("hello")
	event.Sig = testutils.NewSigner().Note("other").Sig

	result := svc.SaveEvent(context.Background(), &event, session)
	assert.Equal(t, responses.Invalid(event.ID, "event signature verification failed"), result)
	assert.Len(t, session.Messages(), 1)
}

func TestSaveEventStoresAndNotifies(t *testing.T) {
	ctrl := gomock.NewController(t)
	eventStore := mock_store.NewMockEventStore(ctrl)
	eventStore.EXPECT().Filter(gomock.Any(), gomock.Any()).Return([]models.Event{}, nil)
	svc := newTestService(t, eventStore, nil)
	subscriber := subscribeAll(t, svc)

	event := testutils.NewSigner().Note("hello")
	eventStore.EXPECT().ExistsByID(gomock.Any(), event.ID).Return(false, nil)
	eventStore.EXPECT().Save(gomock.Any(), &event).Return(nil)

	publisher := testutils.NewSession()
	result := svc.SaveEvent(context.Background(), &event, publisher)
	assert.Equal(t, responses.Ok(event.ID), result)
	assert.JSONEq(t, fmt.Sprintf(`["OK",%q,true,""]`, event.ID), string(publisher.Messages()[0]))

	assert.Eventually(t, func() bool { return subscriber.Count("EVENT") == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, publisher.Count("EVENT"))
}

func TestSaveEventDuplicateIsAcknowledgedOnce(t *testing.T) {
	ctrl := gomock.NewController(t)
	eventStore := mock_store.NewMockEventStore(ctrl)
	eventStore.EXPECT().Filter(gomock.Any(), gomock.Any()).Return([]models.Event{}, nil)
	svc := newTestService(t, eventStore, nil)
	subscriber := subscribeAll(t, svc)

	event := testutils.NewSigner().Note("hello")
	eventStore.EXPECT().ExistsByID(gomock.Any(), event.ID).Return(false, nil).Times(1)
	eventStore.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	publisher := testutils.NewSession()
	first := svc.SaveEvent(context.Background(), &event, publisher)
	second := svc.SaveEvent(context.Background(), &event, publisher)

	assert.Equal(t, responses.Ok(event.ID), first)
	assert.Equal(t, responses.Duplicate(event.ID), second)
	assert.Equal(t, 2, publisher.Count("OK"))

	assert.Eventually(t, func() bool { return subscriber.Count("EVENT") == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, subscriber.Count("EVENT"))
}

func TestSaveEventDuplicateFromStore(t *testing.T) {
	ctrl := gomock.NewController(t)
	eventStore := mock_store.NewMockEventStore(ctrl)
	svc := newTestService(t, eventStore, nil)

	known := testutils.NewSigner().Note("known")
	eventStore.EXPECT().ExistsByID(gomock.Any(), known.ID).Return(true, nil)
	assert.Equal(t, responses.Duplicate(known.ID), svc.SaveEvent(context.Background(), &known, testutils.NewSession()))

	// lost a race with a concurrent publish of the same event
	raced := testutils.NewSigner().Note("raced")
	eventStore.EXPECT().ExistsByID(gomock.Any(), raced.ID).Return(false, nil)
	eventStore.EXPECT().Save(gomock.Any(), gomock.Any()).Return(fmt.Errorf("insert: %w", store.ErrDuplicateEvent))
	assert.Equal(t, responses.Duplicate(raced.ID), svc.SaveEvent(context.Background(), &raced, testutils.NewSession()))
}

func TestSaveEventStorageError(t *testing.T) {
	ctrl := gomock.NewController(t)
	eventStore := mock_store.NewMockEventStore(ctrl)
	eventStore.EXPECT().Filter(gomock.Any(), gomock.Any()).Return([]models.Event{}, nil)
	svc := newTestService(t, eventStore, nil)
	subscriber := subscribeAll(t, svc)

	event := testutils.NewSigner().Note("hello")
	eventStore.EXPECT().ExistsByID(gomock.Any(), event.ID).Return(false, nil)
	eventStore.EXPECT().Save(gomock.Any(), gomock.Any()).Return(errors.New("connection reset"))

	publisher := testutils.NewSession()
	result := svc.SaveEvent(context.Background(), &event, publisher)
	assert.Equal(t, responses.Errorf(event.ID, "could not save event"), result)
	assert.Equal(t, 1, publisher.Count("OK"))

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, subscriber.Count("EVENT"))
}

func TestSaveEventDeletion(t *testing.T) {
	ctrl := gomock.NewController(t)
	eventStore := mock_store.NewMockEventStore(ctrl)
	svc := newTestService(t, eventStore, nil)

	signer := testutils.NewSigner()
	a := signer.Note("a")
	b := signer.Note("b")
	deletion := signer.Event(models.KindEventDeletion, 0, models.Tags{{"e", a.ID}, {"e", b.ID}}, "")

	gomock.InOrder(
		eventStore.EXPECT().ExistsByID(gomock.Any(), deletion.ID).Return(false, nil),
		eventStore.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil),
		eventStore.EXPECT().DeleteAll(gomock.Any(), signer.PublicKey, []string{a.ID, b.ID}).Return(nil),
	)
	assert.Equal(t, responses.Ok(deletion.ID), svc.SaveEvent(context.Background(), &deletion, testutils.NewSession()))
}

func TestSaveEventReplaceable(t *testing.T) {
	ctrl := gomock.NewController(t)
	eventStore := mock_store.NewMockEventStore(ctrl)
	svc := newTestService(t, eventStore, nil)

	signer := testutils.NewSigner()
	for _, kind := range []int{models.KindSetMetadata, models.KindContactList} {
		event := signer.Event(kind, 0, nil, "{}")
		gomock.InOrder(
			eventStore.EXPECT().ExistsByID(gomock.Any(), event.ID).Return(false, nil),
			eventStore.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil),
			eventStore.EXPECT().DeleteOldestOfKind(gomock.Any(), signer.PublicKey, kind).Return(nil),
		)
		assert.Equal(t, responses.Ok(event.ID), svc.SaveEvent(context.Background(), &event, testutils.NewSession()))
	}
}

func TestSaveEventEphemeralIsNeverStored(t *testing.T) {
	ctrl := gomock.NewController(t)
	eventStore := mock_store.NewMockEventStore(ctrl)
	eventStore.EXPECT().Filter(gomock.Any(), gomock.Any()).Return([]models.Event{}, nil)
	svc := newTestService(t, eventStore, nil)
	subscriber := subscribeAll(t, svc)

	event := testutils.NewSigner().Event(20001, 0, nil, "typing")
	publisher := testutils.NewSession()

	assert.Equal(t, responses.Ok(event.ID), svc.SaveEvent(context.Background(), &event, publisher))
	assert.Eventually(t, func() bool { return subscriber.Count("EVENT") == 1 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, responses.Duplicate(event.ID), svc.SaveEvent(context.Background(), &event, publisher))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, subscriber.Count("EVENT"))
}

func TestDeletionRemovesEventsFromFilterResults(t *testing.T) {
	eventStore := newBadgerStore(t)
	svc := newTestService(t, eventStore, nil)
	session := testutils.NewSession()

	alice := testutils.NewSigner()
	bob := testutils.NewSigner()
	a := alice.Event(1, 100, nil, "a")
	b := alice.Event(1, 200, nil, "b")
	c := alice.Event(1, 300, nil, "c")
	theirs := bob.Event(1, 400, nil, "bob")
	for _, event := range []*models.Event{&a, &b, &c, &theirs} {
		require.Equal(t, responses.Ok(event.ID), svc.SaveEvent(context.Background(), event, session))
	}

	deletion := alice.Event(models.KindEventDeletion, 500, models.Tags{{"e", a.ID}, {"e", b.ID}, {"e", theirs.ID}}, "")
	require.Equal(t, responses.Ok(deletion.ID), svc.SaveEvent(context.Background(), &deletion, session))

	events, err := eventStore.Filter(context.Background(), []models.EventFilter{{Kinds: []int{1}}})
	require.NoError(t, err)
	ids := []string{}
	for _, event := range events {
		ids = append(ids, event.ID)
	}
	assert.Equal(t, []string{theirs.ID, c.ID}, ids)

	// deleted events stay known
	assert.Equal(t, responses.Duplicate(a.ID), svc.SaveEvent(context.Background(), &a, session))
}

func TestNewerReplaceableEventWins(t *testing.T) {
	eventStore := newBadgerStore(t)
	svc := newTestService(t, eventStore, nil)
	session := testutils.NewSession()
	signer := testutils.NewSigner()

	older := signer.Event(models.KindSetMetadata, 100, nil, `{"name":"old"}`)
	newer := signer.Event(models.KindSetMetadata, 200, nil, `{"name":"new"}`)
	require.Equal(t, responses.Ok(older.ID), svc.SaveEvent(context.Background(), &older, session))
	require.Equal(t, responses.Ok(newer.ID), svc.SaveEvent(context.Background(), &newer, session))

	events, err := eventStore.Filter(context.Background(), []models.EventFilter{{Authors: []string{signer.PublicKey}, Kinds: []int{0}}})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, newer.ID, events[0].ID)
}

func TestAllLiveEventsReachAllSubscribersWithSmallQueue(t *testing.T) {
	const (
		publishers   = 4
		perPublisher = 10
		subscribers  = 5
	)
	svc := newTestService(t, newBadgerStore(t), &Config{
		DispatcherQueueSize: 2,
		DispatcherWorkers:   2,
		SendTimeout:         time.Second,
		EnqueueTimeout:      5 * time.Second,
		SeenCacheSize:       1000,
	})

	sessions := make([]*testutils.Session, subscribers)
	for i := range sessions {
		sessions[i] = subscribeAll(t, svc)
		assert.Equal(t, 1, sessions[i].Count("EOSE"))
	}

	done := make(chan struct{})
	for p := 0; p < publishers; p++ {
		go func() {
			defer func() { done <- struct{}{} }()
			signer := testutils.NewSigner()
			publisher := testutils.NewSession()
			for i := 0; i < perPublisher; i++ {
				event := signer.Note(fmt.Sprintf("note %d", i))
				svc.SaveEvent(context.Background(), &event, publisher)
			}
		}()
	}
	for p := 0; p < publishers; p++ {
		<-done
	}

	for _, session := range sessions {
		session := session
		assert.Eventually(t, func() bool {
			return session.Count("EVENT") == publishers*perPublisher
		}, 5*time.Second, 10*time.Millisecond)
	}
}

func TestSaveEventReplayRetriesFailedDeletion(t *testing.T) {
	ctrl := gomock.NewController(t)
	eventStore := mock_store.NewMockEventStore(ctrl)
	svc := newTestService(t, eventStore, nil)

	signer := testutils.NewSigner()
	target := signer.Note("target")
	deletion := signer.Event(models.KindEventDeletion, 0, models.Tags{{"e", target.ID}}, "")

	gomock.InOrder(
		eventStore.EXPECT().ExistsByID(gomock.Any(), deletion.ID).Return(false, nil),
		eventStore.EXPECT().Save(gomock.Any(), gomock.Any()).Return(nil),
		eventStore.EXPECT().DeleteAll(gomock.Any(), signer.PublicKey, []string{target.ID}).Return(errors.New("connection reset")),
		eventStore.EXPECT().ExistsByID(gomock.Any(), deletion.ID).Return(true, nil),
		eventStore.EXPECT().DeleteAll(gomock.Any(), signer.PublicKey, []string{target.ID}).Return(nil),
	)

	first := svc.SaveEvent(context.Background(), &deletion, testutils.NewSession())
	assert.Equal(t, responses.Errorf(deletion.ID, "could not save event"), first)

	second := svc.SaveEvent(context.Background(), &deletion, testutils.NewSession())
	assert.Equal(t, responses.Duplicate(deletion.ID), second)

	// applied once, later replays are answered from the cache
	third := svc.SaveEvent(context.Background(), &deletion, testutils.NewSession())
	assert.Equal(t, responses.Duplicate(deletion.ID), third)
}

func TestSaveEventRacedReplaceableStillReplaces(t *testing.T) {
	ctrl := gomock.NewController(t)
	eventStore := mock_store.NewMockEventStore(ctrl)
	svc := newTestService(t, eventStore, nil)

	signer := testutils.NewSigner()
	event := signer.Event(models.KindSetMetadata, 0, nil, "{}")
	gomock.InOrder(
		eventStore.EXPECT().ExistsByID(gomock.Any(), event.ID).Return(false, nil),
		eventStore.EXPECT().Save(gomock.Any(), gomock.Any()).Return(store.ErrDuplicateEvent),
		eventStore.EXPECT().DeleteOldestOfKind(gomock.Any(), signer.PublicKey, models.KindSetMetadata).Return(nil),
	)
	assert.Equal(t, responses.Duplicate(event.ID), svc.SaveEvent(context.Background(), &event, testutils.NewSession()))
}
