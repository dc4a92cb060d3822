// Package cbs performs claims-based security: presenting a token to the
// broker's $cbs node before links to an entity are used.
package cbs

import (
	"context"
	"fmt"

	"github.com/Azure/go-amqp"
	"github.com/google/uuid"

	"github.com/yourorg/go-sblite/pkg/errors"
	"github.com/yourorg/go-sblite/pkg/logging"
	"github.com/yourorg/go-sblite/pkg/security"
	"github.com/yourorg/go-sblite/pkg/transport"
)

const (
	// NodeAddress is the broker's token endpoint.
	NodeAddress = "$cbs"

	operationPutToken = "put-token"

	propOperation         = "operation"
	propType              = "type"
	propName              = "name"
	propStatusCode        = "status-code"
	propStatusDescription = "status-description"
)

// Audience is the resource a token is presented for.
func Audience(host, entity string) string {
	return fmt.Sprintf("amqp://%s/%s", host, entity)
}

// Negotiator runs put-token exchanges over a connection. Each exchange uses a
// fresh session and link pair which is closed afterwards.
type Negotiator struct {
	conn   transport.Conn
	logger logging.Logger
}

// NewNegotiator creates a Negotiator for conn.
func NewNegotiator(conn transport.Conn, logger logging.Logger) *Negotiator {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Negotiator{conn: conn, logger: logger}
}

// NegotiateClaim presents token for audience and waits for the broker's
// verdict. Only status 200 and 202 count as success.
func (n *Negotiator) NegotiateClaim(ctx context.Context, audience string, token *security.Token) error {
	logger := n.logger.With(
		logging.NewField("operation", "negotiate_claim"),
		logging.NewField("audience", audience),
	)

	session, err := n.conn.NewSession(ctx, nil)
	if err != nil {
		logger.WithError(err).Error("Failed to open CBS session")
		return fmt.Errorf("failed to open CBS session: %w", errors.FromError(err))
	}
	defer closeQuietly(ctx, logger, "session", session.Close)

	sender, err := session.NewSender(ctx, NodeAddress, nil)
	if err != nil {
		return fmt.Errorf("failed to open CBS sender: %w", errors.FromError(err))
	}
	defer closeQuietly(ctx, logger, "sender", sender.Close)

	replyTo := "cbs-reply-to-" + uuid.NewString()
	receiver, err := session.NewReceiver(ctx, NodeAddress, &amqp.ReceiverOptions{
		TargetAddress: replyTo,
		Credit:        1,
	})
	if err != nil {
		return fmt.Errorf("failed to open CBS receiver: %w", errors.FromError(err))
	}
	defer closeQuietly(ctx, logger, "receiver", receiver.Close)

	request := &amqp.Message{
		Properties: &amqp.MessageProperties{
			MessageID: uuid.NewString(),
			ReplyTo:   &replyTo,
		},
		ApplicationProperties: map[string]any{
			propOperation: operationPutToken,
			propType:      string(token.Type),
			propName:      audience,
		},
		Value: token.Value,
	}
	if err := sender.Send(ctx, request, nil); err != nil {
		logger.WithError(err).Error("Failed to send put-token request")
		return fmt.Errorf("failed to send put-token request: %w", errors.FromError(err))
	}

	reply, err := receiver.Receive(ctx, nil)
	if err != nil {
		logger.WithError(err).Error("Failed to receive put-token reply")
		return fmt.Errorf("failed to receive put-token reply: %w", errors.FromError(err))
	}
	if err := receiver.AcceptMessage(ctx, reply); err != nil {
		logger.WithError(err).Warn("Failed to accept put-token reply")
	}

	if err := checkReply(reply); err != nil {
		logger.WithError(err).Warn("Broker rejected token")
		return err
	}

	logger.Debug("Token accepted", logging.NewField("token_type", string(token.Type)))
	return nil
}

func checkReply(reply *amqp.Message) error {
	if reply.Properties == nil || reply.ApplicationProperties == nil {
		return errors.NewUnauthorizedError("put-token reply carried no status")
	}
	code, ok := statusCode(reply.ApplicationProperties[propStatusCode])
	if !ok {
		return errors.NewUnauthorizedError("put-token reply carried no status")
	}
	if code == 200 || code == 202 {
		return nil
	}

	description, _ := reply.ApplicationProperties[propStatusDescription].(string)
	return errors.NewUnauthorizedError(fmt.Sprintf("put-token rejected with status %d: %s", code, description)).
		WithDetails(map[string]interface{}{
			propStatusCode:        code,
			propStatusDescription: description,
		})
}

func statusCode(v any) (int64, bool) {
	switch n := v.(type) {
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	default:
		return 0, false
	}
}

func closeQuietly(ctx context.Context, logger logging.Logger, what string, closeFn func(context.Context) error) {
	if err := closeFn(context.WithoutCancel(ctx)); err != nil {
		logger.WithError(err).Debug("Failed to close CBS " + what)
	}
}
