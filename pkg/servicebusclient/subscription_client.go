package servicebusclient

import (
	"context"

	"github.com/google/uuid"

	"github.com/yourorg/go-sblite/pkg/errors"
)

// SubscriptionPath returns the entity path of a topic subscription.
func SubscriptionPath(topicPath, name string) string {
	return topicPath + "/Subscriptions/" + name
}

// SubscriptionClient receives from one topic subscription.
type SubscriptionClient struct {
	*entity
	topicPath string
	name      string
}

// NewSubscriptionClientFromConnectionString creates a client for subscription
// name of the topic named by the connection string's EntityPath.
func NewSubscriptionClientFromConnectionString(connectionString, name string, mode ReceiveMode, opts ...FactoryOption) (*SubscriptionClient, error) {
	f, builder, err := factoryFromConnectionString(connectionString, opts...)
	if err != nil {
		return nil, err
	}
	if builder.EntityPath == "" {
		return nil, errors.NewValidationError("connection string is missing EntityPath")
	}
	c := f.CreateSubscriptionClient(builder.EntityPath, name, mode)
	c.ownsFactory = true
	return c, nil
}

// TopicPath returns the parent topic path.
func (c *SubscriptionClient) TopicPath() string { return c.topicPath }

// Name returns the subscription name.
func (c *SubscriptionClient) Name() string { return c.name }

// Path returns the subscription's entity path.
func (c *SubscriptionClient) Path() string { return c.path }

// Receive waits for one message; see MessageReceiver.Receive.
func (c *SubscriptionClient) Receive(ctx context.Context) (*BrokeredMessage, error) {
	return c.receive(ctx)
}

// Complete accepts a peek-locked message. Unknown tokens are ignored.
func (c *SubscriptionClient) Complete(ctx context.Context, lockToken uuid.UUID) error {
	return c.settle(ctx, lockToken, DispositionComplete)
}

// Abandon releases a peek-locked message. Unknown tokens are ignored.
func (c *SubscriptionClient) Abandon(ctx context.Context, lockToken uuid.UUID) error {
	return c.settle(ctx, lockToken, DispositionAbandon)
}

// OnMessage starts a message pump; see MessageReceiver.OnMessage.
func (c *SubscriptionClient) OnMessage(ctx context.Context, action OnMessageAction, opts *OnMessageOptions) error {
	return c.onMessage(ctx, action, opts)
}

// Close closes the client's receiver, and the factory when the client was
// created from a connection string.
func (c *SubscriptionClient) Close(ctx context.Context) error {
	return c.close(ctx)
}
