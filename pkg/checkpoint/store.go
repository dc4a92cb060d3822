// Package checkpoint persists how far an Event Hub consumer group has read
// each partition, so a restarted receiver can resume after the last
// processed event.
package checkpoint

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Key identifies one partition of one consumer group.
type Key struct {
	Namespace     string `json:"namespace"`
	EventHub      string `json:"eventHub"`
	ConsumerGroup string `json:"consumerGroup"`
	PartitionID   string `json:"partitionId"`
}

// String renders the key as a slash-separated, lower-cased path.
func (k Key) String() string {
	return strings.ToLower(fmt.Sprintf("%s/%s/%s/checkpoint/%s", k.Namespace, k.EventHub, k.ConsumerGroup, k.PartitionID))
}

// Checkpoint is the position of the last processed event.
type Checkpoint struct {
	Key            Key       `json:"key"`
	Offset         string    `json:"offset"`
	SequenceNumber int64     `json:"sequenceNumber"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// Store reads and writes checkpoints. GetCheckpoint returns an
// ErrorCodeNotFound error when no checkpoint exists for the key.
type Store interface {
	GetCheckpoint(ctx context.Context, key Key) (*Checkpoint, error)
	UpdateCheckpoint(ctx context.Context, cp Checkpoint) error
}
