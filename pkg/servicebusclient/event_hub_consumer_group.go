package servicebusclient

import (
	"context"
	"time"

	"github.com/yourorg/go-sblite/pkg/checkpoint"
	"github.com/yourorg/go-sblite/pkg/errors"
)

// EventHubReceiverOptions positions a new partition receiver. Both bounds are
// exclusive and may be combined.
type EventHubReceiverOptions struct {
	StartOffset string
	StartTime   time.Time
}

// EventHubConsumerGroup creates partition receivers for one consumer group.
type EventHubConsumerGroup struct {
	factory *MessagingFactory
	hubPath string
	name    string
}

// Name returns the consumer group name.
func (g *EventHubConsumerGroup) Name() string { return g.name }

// EventHubPath returns the hub path.
func (g *EventHubConsumerGroup) EventHubPath() string { return g.hubPath }

// CreateReceiver reads partitionID from wherever the broker starts.
func (g *EventHubConsumerGroup) CreateReceiver(partitionID string) *EventHubReceiver {
	return g.CreateReceiverWithOptions(partitionID, EventHubReceiverOptions{})
}

// CreateReceiverFromOffset reads events after offset.
func (g *EventHubConsumerGroup) CreateReceiverFromOffset(partitionID, offset string) *EventHubReceiver {
	return g.CreateReceiverWithOptions(partitionID, EventHubReceiverOptions{StartOffset: offset})
}

// CreateReceiverFromTime reads events enqueued after startTime.
func (g *EventHubConsumerGroup) CreateReceiverFromTime(partitionID string, startTime time.Time) *EventHubReceiver {
	return g.CreateReceiverWithOptions(partitionID, EventHubReceiverOptions{StartTime: startTime})
}

// CreateReceiverWithOptions reads events matching every bound in opts.
func (g *EventHubConsumerGroup) CreateReceiverWithOptions(partitionID string, opts EventHubReceiverOptions) *EventHubReceiver {
	path := ConsumerGroupPartitionPath(g.hubPath, g.name, partitionID)
	return &EventHubReceiver{
		receiver: g.factory.createEventHubReceiver(path, eventFilter{offset: opts.StartOffset, startTime: opts.StartTime}),
		key:      g.checkpointKey(partitionID),
	}
}

// CreateReceiverFromCheckpoint resumes after the offset stored for
// partitionID, or reads from the start when nothing is stored. The receiver
// writes its checkpoints to store.
func (g *EventHubConsumerGroup) CreateReceiverFromCheckpoint(ctx context.Context, partitionID string, store checkpoint.Store) (*EventHubReceiver, error) {
	var opts EventHubReceiverOptions
	cp, err := store.GetCheckpoint(ctx, g.checkpointKey(partitionID))
	switch {
	case errors.HasCode(err, errors.ErrorCodeNotFound):
	case err != nil:
		return nil, err
	default:
		opts.StartOffset = cp.Offset
	}

	r := g.CreateReceiverWithOptions(partitionID, opts)
	r.store = store
	return r, nil
}

func (g *EventHubConsumerGroup) checkpointKey(partitionID string) checkpoint.Key {
	return checkpoint.Key{
		Namespace:     g.factory.Endpoint().Hostname(),
		EventHub:      g.hubPath,
		ConsumerGroup: g.name,
		PartitionID:   partitionID,
	}
}
