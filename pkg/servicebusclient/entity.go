package servicebusclient

import (
	"context"
	stderrors "errors"
	"sync"

	"github.com/google/uuid"

	"github.com/yourorg/go-sblite/pkg/errors"
)

// entity lazily creates and memoizes the one sender and one receiver an
// entity client owns.
type entity struct {
	factory *MessagingFactory
	path    string
	mode    ReceiveMode

	// ownsFactory is set for clients built from a connection string; their
	// factory is closed with them.
	ownsFactory bool

	mu       sync.Mutex
	sender   *MessageSender
	receiver *MessageReceiver
	closed   bool
}

func newEntity(f *MessagingFactory, path string, mode ReceiveMode) *entity {
	return &entity{factory: f, path: path, mode: mode}
}

func (e *entity) messageSender() (*MessageSender, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.ErrClosed
	}
	if e.sender == nil {
		e.sender = e.factory.CreateMessageSender(e.path)
	}
	return e.sender, nil
}

func (e *entity) messageReceiver() (*MessageReceiver, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, errors.ErrClosed
	}
	if e.receiver == nil {
		e.receiver = e.factory.CreateMessageReceiver(e.path, e.mode)
	}
	return e.receiver, nil
}

// existingReceiver returns the receiver if one was created. Settling never
// creates a receiver: a token can only come from an existing one.
func (e *entity) existingReceiver() *MessageReceiver {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.receiver
}

func (e *entity) close(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	var errs []error
	if e.sender != nil {
		errs = append(errs, e.sender.Close(ctx))
	}
	if e.receiver != nil {
		errs = append(errs, e.receiver.Close(ctx))
	}
	if e.ownsFactory {
		errs = append(errs, e.factory.Close())
	}
	return stderrors.Join(errs...)
}

func (e *entity) send(ctx context.Context, msg *BrokeredMessage) error {
	s, err := e.messageSender()
	if err != nil {
		return err
	}
	return s.Send(ctx, msg)
}

func (e *entity) receive(ctx context.Context) (*BrokeredMessage, error) {
	r, err := e.messageReceiver()
	if err != nil {
		return nil, err
	}
	return r.Receive(ctx)
}

func (e *entity) settle(ctx context.Context, lockToken uuid.UUID, d Disposition) error {
	r := e.existingReceiver()
	if r == nil {
		return nil
	}
	_, err := r.Settle(ctx, lockToken, d)
	return err
}

func (e *entity) onMessage(ctx context.Context, action OnMessageAction, opts *OnMessageOptions) error {
	r, err := e.messageReceiver()
	if err != nil {
		return err
	}
	return r.OnMessage(ctx, action, opts)
}
