package servicebusclient

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/yourorg/go-sblite/pkg/errors"
)

// DefaultConsumerGroupName is the consumer group every Event Hub has.
const DefaultConsumerGroupName = "$Default"

// PublisherPath is the entity path for sending as a named publisher.
func PublisherPath(hubPath, publisher string) string {
	return hubPath + "/Publishers/" + publisher
}

// PartitionPath is the entity path for sending to one partition.
func PartitionPath(hubPath, partitionID string) string {
	return hubPath + "/Partitions/" + partitionID
}

// ConsumerGroupPartitionPath is the entity path for reading one partition
// through a consumer group.
func ConsumerGroupPartitionPath(hubPath, consumerGroup, partitionID string) string {
	return hubPath + "/ConsumerGroups/" + consumerGroup + "/Partitions/" + partitionID
}

// EventHubClient publishes to an Event Hub and hands out senders and
// consumer groups for it.
type EventHubClient struct {
	factory *MessagingFactory
	path    string

	ownsFactory bool

	mu     sync.Mutex
	sender *EventHubSender
	closed bool
}

// NewEventHubClientFromConnectionString creates a client for the hub named by
// the connection string's EntityPath.
func NewEventHubClientFromConnectionString(connectionString string, opts ...FactoryOption) (*EventHubClient, error) {
	f, builder, err := factoryFromConnectionString(connectionString, opts...)
	if err != nil {
		return nil, err
	}
	if builder.EntityPath == "" {
		return nil, errors.NewValidationError("connection string is missing EntityPath")
	}
	c := f.CreateEventHubClient(builder.EntityPath)
	c.ownsFactory = true
	return c, nil
}

// Path returns the hub path.
func (c *EventHubClient) Path() string { return c.path }

// Send publishes event to the hub; the broker picks the partition, or hashes
// the event's partition key.
func (c *EventHubClient) Send(ctx context.Context, event *EventData) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.ErrClosed
	}
	if c.sender == nil {
		c.sender = newEventHubSender(c.factory, c.path, "")
	}
	sender := c.sender
	c.mu.Unlock()

	return sender.Send(ctx, event)
}

// CreateSender returns a sender that publishes as publisher. The caller owns
// and closes it.
func (c *EventHubClient) CreateSender(publisher string) *EventHubSender {
	return newEventHubSender(c.factory, PublisherPath(c.path, publisher), publisher)
}

// CreatePartitionedSender returns a sender bound to one partition. The
// caller owns and closes it.
func (c *EventHubClient) CreatePartitionedSender(partitionID string) *EventHubSender {
	return newEventHubSender(c.factory, PartitionPath(c.path, partitionID), "")
}

// GetConsumerGroup returns the named consumer group.
func (c *EventHubClient) GetConsumerGroup(name string) *EventHubConsumerGroup {
	return &EventHubConsumerGroup{factory: c.factory, hubPath: c.path, name: name}
}

// GetDefaultConsumerGroup returns the $Default consumer group.
func (c *EventHubClient) GetDefaultConsumerGroup() *EventHubConsumerGroup {
	return c.GetConsumerGroup(DefaultConsumerGroupName)
}

// Close closes the client's own sender, and the factory when the client was
// created from a connection string. Closing twice is safe.
func (c *EventHubClient) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.sender != nil {
		errs = append(errs, c.sender.Close(ctx))
	}
	if c.ownsFactory {
		errs = append(errs, c.factory.Close())
	}
	return stderrors.Join(errs...)
}
