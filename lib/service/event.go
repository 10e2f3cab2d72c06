package service

import (
	"context"
	"errors"

	"github.com/getAlby/knostr.go/db/models"
	"github.com/getAlby/knostr.go/lib/responses"
	"github.com/getAlby/knostr.go/lib/store"
	"github.com/getsentry/sentry-go"
)

// SaveEvent runs the publish path for event: validate, dedupe, classify,
// persist, notify. Exactly one OK is sent back to session, and returned.
func (svc *RelayService) SaveEvent(ctx context.Context, event *models.Event, session Session) responses.CommandResult {
	result := svc.admit(ctx, event, session)
	svc.Dispatcher.SendNow(ctx, result.JSON(), session)
	return result
}

func (svc *RelayService) admit(ctx context.Context, event *models.Event, session Session) responses.CommandResult {
	if !event.HasValidID() {
		return responses.Invalid(event.ID, "event id does not match")
	}
	if !event.HasValidSignature() {
		return responses.Invalid(event.ID, "event signature verification failed")
	}

	if event.IsEphemeral() {
		// never stored, so the cache is the only place to spot a replay
		if seen, _ := svc.seen.ContainsOrAdd(event.ID, struct{}{}); seen {
			return responses.Duplicate(event.ID)
		}
		svc.publish(event, session)
		return responses.Ok(event.ID)
	}

	if svc.seen.Contains(event.ID) {
		return responses.Duplicate(event.ID)
	}
	exists, err := svc.Store.ExistsByID(ctx, event.ID)
	if err != nil {
		return svc.storageError(event, err)
	}
	if exists {
		return svc.duplicate(ctx, event)
	}

	err = svc.Store.Save(ctx, event)
	if errors.Is(err, store.ErrDuplicateEvent) {
		return svc.duplicate(ctx, event)
	}
	if err != nil {
		return svc.storageError(event, err)
	}
	if err := svc.applyDeletions(ctx, event); err != nil {
		return svc.storageError(event, err)
	}
	svc.seen.Add(event.ID, struct{}{})

	svc.publish(event, session)
	return responses.Ok(event.ID)
}

// duplicate answers a replay of a stored event. The delete or replace step
// runs again because it may have failed after the event was saved.
func (svc *RelayService) duplicate(ctx context.Context, event *models.Event) responses.CommandResult {
	if err := svc.applyDeletions(ctx, event); err != nil {
		return svc.storageError(event, err)
	}
	svc.seen.Add(event.ID, struct{}{})
	return responses.Duplicate(event.ID)
}

// applyDeletions soft deletes what a deletion or replaceable event supersedes.
// Both store calls are idempotent.
func (svc *RelayService) applyDeletions(ctx context.Context, event *models.Event) error {
	switch {
	case event.ShouldBeDeleted():
		return svc.Store.DeleteAll(ctx, event.PubKey, event.ReferencedEventIDs())
	case event.ShouldOverwrite():
		return svc.Store.DeleteOldestOfKind(ctx, event.PubKey, event.Kind)
	}
	return nil
}

func (svc *RelayService) publish(event *models.Event, origin Session) {
	svc.Subscriptions.Notify(event, origin)
	if missed := svc.Feed.Publish(event); missed > 0 {
		svc.Logger.Warnf("Event %s missed by %d feed consumers", event.ID, missed)
	}
}

func (svc *RelayService) storageError(event *models.Event, err error) responses.CommandResult {
	svc.Logger.Errorf("Failed to save event %s of kind %d: %v", event.ID, event.Kind, err)
	sentry.CaptureException(err)
	return responses.Errorf(event.ID, "could not save event")
}
