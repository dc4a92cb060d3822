package servicebusclient

import (
	"context"

	"github.com/yourorg/go-sblite/pkg/errors"
)

// TopicClient publishes to one topic.
type TopicClient struct {
	*entity
}

// NewTopicClientFromConnectionString creates a client for the topic named by
// the connection string's EntityPath.
func NewTopicClientFromConnectionString(connectionString string, opts ...FactoryOption) (*TopicClient, error) {
	f, builder, err := factoryFromConnectionString(connectionString, opts...)
	if err != nil {
		return nil, err
	}
	if builder.EntityPath == "" {
		return nil, errors.NewValidationError("connection string is missing EntityPath")
	}
	c := f.CreateTopicClient(builder.EntityPath)
	c.ownsFactory = true
	return c, nil
}

// Path returns the topic path.
func (c *TopicClient) Path() string { return c.path }

// Send transmits msg to the topic.
func (c *TopicClient) Send(ctx context.Context, msg *BrokeredMessage) error {
	return c.send(ctx, msg)
}

// Close closes the client's sender, and the factory when the client was
// created from a connection string.
func (c *TopicClient) Close(ctx context.Context) error {
	return c.close(ctx)
}
