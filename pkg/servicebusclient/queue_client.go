package servicebusclient

import (
	"context"

	"github.com/google/uuid"

	"github.com/yourorg/go-sblite/pkg/errors"
)

// QueueClient sends to and receives from one queue.
type QueueClient struct {
	*entity
}

// NewQueueClientFromConnectionString creates a client for the queue named by
// the connection string's EntityPath, on a factory of its own.
func NewQueueClientFromConnectionString(connectionString string, mode ReceiveMode, opts ...FactoryOption) (*QueueClient, error) {
	f, builder, err := factoryFromConnectionString(connectionString, opts...)
	if err != nil {
		return nil, err
	}
	if builder.EntityPath == "" {
		return nil, errors.NewValidationError("connection string is missing EntityPath")
	}
	c := f.CreateQueueClient(builder.EntityPath, mode)
	c.ownsFactory = true
	return c, nil
}

// Path returns the queue path.
func (c *QueueClient) Path() string { return c.path }

// Mode returns the receive mode.
func (c *QueueClient) Mode() ReceiveMode { return c.mode }

// Send transmits msg to the queue.
func (c *QueueClient) Send(ctx context.Context, msg *BrokeredMessage) error {
	return c.send(ctx, msg)
}

// Receive waits for one message; see MessageReceiver.Receive.
func (c *QueueClient) Receive(ctx context.Context) (*BrokeredMessage, error) {
	return c.receive(ctx)
}

// Complete accepts a peek-locked message. Unknown tokens are ignored.
func (c *QueueClient) Complete(ctx context.Context, lockToken uuid.UUID) error {
	return c.settle(ctx, lockToken, DispositionComplete)
}

// Abandon releases a peek-locked message. Unknown tokens are ignored.
func (c *QueueClient) Abandon(ctx context.Context, lockToken uuid.UUID) error {
	return c.settle(ctx, lockToken, DispositionAbandon)
}

// OnMessage starts a message pump; see MessageReceiver.OnMessage.
func (c *QueueClient) OnMessage(ctx context.Context, action OnMessageAction, opts *OnMessageOptions) error {
	return c.onMessage(ctx, action, opts)
}

// Close closes the client's sender and receiver, and the factory when the
// client was created from a connection string.
func (c *QueueClient) Close(ctx context.Context) error {
	return c.close(ctx)
}
