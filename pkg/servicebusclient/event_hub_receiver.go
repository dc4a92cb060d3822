package servicebusclient

import (
	"context"
	"time"

	"github.com/yourorg/go-sblite/pkg/checkpoint"
	"github.com/yourorg/go-sblite/pkg/errors"
)

// EventHubReceiver reads one partition through a consumer group. Events are
// settled as soon as they are received.
type EventHubReceiver struct {
	receiver *MessageReceiver
	key      checkpoint.Key
	store    checkpoint.Store
}

// Path returns the partition's entity path.
func (r *EventHubReceiver) Path() string { return r.receiver.Path() }

// PartitionID returns the partition read.
func (r *EventHubReceiver) PartitionID() string { return r.key.PartitionID }

// SetCheckpointStore sets where Checkpoint writes.
func (r *EventHubReceiver) SetCheckpointStore(store checkpoint.Store) {
	r.store = store
}

// Receive waits for one event. It returns (nil, nil) when the receive
// timeout elapses first.
func (r *EventHubReceiver) Receive(ctx context.Context) (*EventData, error) {
	return r.receiver.ReceiveEventData(ctx)
}

// Checkpoint records event as the last one processed on this partition.
func (r *EventHubReceiver) Checkpoint(ctx context.Context, event *EventData) error {
	if r.store == nil {
		return errors.NewAppError(errors.ErrorCodeInvalidOperation, "receiver has no checkpoint store")
	}
	if event == nil {
		return errors.ErrNilMessage
	}
	if event.Offset() == "" {
		return errors.NewValidationError("event carries no offset")
	}
	return r.store.UpdateCheckpoint(ctx, checkpoint.Checkpoint{
		Key:            r.key,
		Offset:         event.Offset(),
		SequenceNumber: event.SequenceNumber(),
		UpdatedAt:      time.Now().UTC(),
	})
}

// Close closes the underlying link. Closing twice is safe.
func (r *EventHubReceiver) Close(ctx context.Context) error {
	return r.receiver.Close(ctx)
}
