package servicebusclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/Azure/go-amqp"
	"golang.org/x/time/rate"

	"github.com/yourorg/go-sblite/pkg/errors"
	"github.com/yourorg/go-sblite/pkg/logging"
	"github.com/yourorg/go-sblite/pkg/telemetry"
	"github.com/yourorg/go-sblite/pkg/transport"
)

// MessageSender sends to one entity over its own session and link, created
// on the first send.
type MessageSender struct {
	factory *MessagingFactory
	entity  string
	logger  logging.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	session transport.Session
	link    transport.SenderLink
	closed  bool
}

func newMessageSender(f *MessagingFactory, entity string) *MessageSender {
	s := &MessageSender{
		factory: f,
		entity:  entity,
		logger: f.logger.With(
			logging.NewField("entity", entity),
		),
	}
	if f.settings.SendRateLimit > 0 {
		burst := f.settings.SendBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(f.settings.SendRateLimit), burst)
	}
	return s
}

// Path returns the entity path.
func (s *MessageSender) Path() string {
	return s.entity
}

// Send transmits msg and returns once the broker has settled it. The
// message's body is consumed and its MessageID replaced by a fresh one.
// Nothing is transmitted when the factory cannot open.
func (s *MessageSender) Send(ctx context.Context, msg *BrokeredMessage) error {
	if msg == nil {
		return errors.ErrNilMessage
	}
	return s.transmit(ctx, func() (*amqp.Message, error) { return msg.toAMQPMessage() })
}

// SendEventData transmits an event and returns once the broker has settled it.
func (s *MessageSender) SendEventData(ctx context.Context, event *EventData) error {
	if event == nil {
		return errors.ErrNilMessage
	}
	return s.transmit(ctx, func() (*amqp.Message, error) { return eventDataToAMQP(event) })
}

func (s *MessageSender) transmit(ctx context.Context, convert func() (*amqp.Message, error)) error {
	logger := s.logger.With(logging.NewField("operation", "send"))

	return telemetry.Track(ctx, s.factory.telemetry, "send", s.entity, func() error {
		link, err := s.ensureLink(ctx)
		if err != nil {
			logger.WithError(err).Error("Failed to open send link")
			return err
		}

		wire, err := convert()
		if err != nil {
			return err
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("send rate limit wait: %w", err)
			}
		}

		sendCtx, cancel := s.factory.withOperationTimeout(ctx)
		defer cancel()
		if err := link.Send(sendCtx, wire, nil); err != nil {
			logger.WithError(err).Error("Failed to send message")
			return fmt.Errorf("failed to send message to %s: %w", s.entity, errors.FromError(err))
		}

		logger.DebugWithContext(logging.WithMessageID(ctx, messageIDOf(wire)), "Message sent")
		return nil
	})
}

// ensureLink opens the factory connection and this sender's session and link
// on first use.
func (s *MessageSender) ensureLink(ctx context.Context) (transport.SenderLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, errors.ErrClosed
	}
	if s.link != nil {
		return s.link, nil
	}

	conn, err := s.factory.acquire(ctx, s.entity)
	if err != nil {
		return nil, err
	}

	session, err := conn.NewSession(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", errors.FromError(err))
	}
	link, err := session.NewSender(ctx, s.entity, &amqp.SenderOptions{Name: "amqp-send-link " + s.entity})
	if err != nil {
		_ = session.Close(ctx)
		return nil, fmt.Errorf("failed to open sender link: %w", errors.FromError(err))
	}

	s.session, s.link = session, link
	return link, nil
}

// Close closes the link and session. Closing twice is safe.
func (s *MessageSender) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.link != nil {
		errs = append(errs, s.link.Close(ctx))
	}
	if s.session != nil {
		errs = append(errs, s.session.Close(ctx))
	}
	s.link, s.session = nil, nil
	return stderrors.Join(errs...)
}

func messageIDOf(msg *amqp.Message) string {
	if msg.Properties == nil || msg.Properties.MessageID == nil {
		return ""
	}
	return identifierString(msg.Properties.MessageID)
}
