package servicebusclient

import (
	"context"
	stderrors "errors"

	"github.com/yourorg/go-sblite/pkg/errors"
)

// EventHubSender publishes events to a hub, a publisher path or a partition.
type EventHubSender struct {
	sender    *MessageSender
	publisher string

	// owned is the factory created for this sender from a connection string.
	owned *MessagingFactory
}

func newEventHubSender(f *MessagingFactory, path, publisher string) *EventHubSender {
	return &EventHubSender{sender: f.CreateMessageSender(path), publisher: publisher}
}

// NewEventHubSenderFromConnectionString creates a sender for the hub named by
// EntityPath, publishing as Publisher when the connection string names one.
func NewEventHubSenderFromConnectionString(connectionString string, opts ...FactoryOption) (*EventHubSender, error) {
	f, builder, err := factoryFromConnectionString(connectionString, opts...)
	if err != nil {
		return nil, err
	}
	if builder.EntityPath == "" {
		return nil, errors.NewValidationError("connection string is missing EntityPath")
	}
	path := builder.EntityPath
	if builder.Publisher != "" {
		path = PublisherPath(builder.EntityPath, builder.Publisher)
	}
	s := newEventHubSender(f, path, builder.Publisher)
	s.owned = f
	return s, nil
}

// Path returns the entity path events are sent to.
func (s *EventHubSender) Path() string { return s.sender.Path() }

// Publisher returns the publisher name, empty when not publisher-scoped.
func (s *EventHubSender) Publisher() string { return s.publisher }

// Send publishes event and returns once the broker has accepted it. Events
// from a publisher-scoped sender carry the publisher unless already set.
func (s *EventHubSender) Send(ctx context.Context, event *EventData) error {
	if event == nil {
		return errors.ErrNilMessage
	}
	if s.publisher != "" && event.Publisher() == "" {
		event.SetPublisher(s.publisher)
	}
	return s.sender.SendEventData(ctx, event)
}

// Close closes the underlying link, and the factory when the sender was
// created from a connection string. Closing twice is safe.
func (s *EventHubSender) Close(ctx context.Context) error {
	err := s.sender.Close(ctx)
	if s.owned != nil {
		err = stderrors.Join(err, s.owned.Close())
	}
	return err
}
