package servicebusclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"time"
	"weak"

	"github.com/Azure/go-amqp"
	"github.com/google/uuid"

	"github.com/yourorg/go-sblite/pkg/errors"
)

// ReceiveMode selects how a receiver settles deliveries.
type ReceiveMode int

const (
	// PeekLock holds each message under a lock token until Complete or Abandon.
	PeekLock ReceiveMode = iota
	// ReceiveAndDelete settles each message as soon as it is delivered.
	ReceiveAndDelete
)

func (m ReceiveMode) String() string {
	switch m {
	case PeekLock:
		return "peeklock"
	case ReceiveAndDelete:
		return "receiveanddelete"
	default:
		return fmt.Sprintf("ReceiveMode(%d)", int(m))
	}
}

// ParseReceiveMode accepts "peeklock" and "receiveanddelete", case-insensitively.
func ParseReceiveMode(s string) (ReceiveMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "peeklock", "":
		return PeekLock, nil
	case "receiveanddelete":
		return ReceiveAndDelete, nil
	default:
		return PeekLock, errors.NewValidationError(fmt.Sprintf("unknown receive mode %q", s))
	}
}

// BrokeredMessage is a queue/topic message with broker-assigned properties.
// Zero-valued fields are not put on the wire.
type BrokeredMessage struct {
	DeliveryCount           int32
	TimeToLive              time.Duration
	EnqueuedTimeUtc         time.Time
	SequenceNumber          int64
	LockedUntilUtc          time.Time
	MessageID               string
	CorrelationID           string
	ContentType             string
	Label                   string
	To                      string
	ReplyTo                 string
	SessionID               string
	ReplyToSessionID        string
	ScheduledEnqueueTimeUtc time.Time
	PartitionKey            string
	Publisher               string

	// Properties holds user properties. Values outside the supported scalar
	// kinds are dropped when the message is sent.
	Properties map[string]any

	// LockToken is set on messages received in PeekLock mode.
	LockToken uuid.UUID

	body     io.Reader
	receiver weak.Pointer[MessageReceiver]
}

// NewBrokeredMessage creates a message whose body is read once from body.
func NewBrokeredMessage(body io.Reader) *BrokeredMessage {
	return &BrokeredMessage{body: body, Properties: make(map[string]any)}
}

// NewBrokeredMessageFromBytes creates a message with a byte body.
func NewBrokeredMessageFromBytes(body []byte) *BrokeredMessage {
	return NewBrokeredMessage(bytes.NewReader(body))
}

// newBrokeredMessageFromAMQP wraps a received wire message.
func newBrokeredMessageFromAMQP(msg *amqp.Message) (*BrokeredMessage, error) {
	if msg == nil {
		return nil, errors.ErrNilMessage
	}
	m := NewBrokeredMessageFromBytes(wireBody(msg))
	amqpToBrokeredMessage(msg, m)
	return m, nil
}

// GetBytes drains the body. The body is a stream: a second call returns an
// empty slice.
func (m *BrokeredMessage) GetBytes() ([]byte, error) {
	return drain(&m.body)
}

// Complete settles the message positively through the receiver it came from.
func (m *BrokeredMessage) Complete(ctx context.Context) error {
	r := m.receiver.Value()
	if r == nil {
		return errors.ErrNoReceiver
	}
	return r.Complete(ctx, m.LockToken)
}

// Abandon releases the message lock through the receiver it came from.
func (m *BrokeredMessage) Abandon(ctx context.Context) error {
	r := m.receiver.Value()
	if r == nil {
		return errors.ErrNoReceiver
	}
	return r.Abandon(ctx, m.LockToken)
}

func drain(body *io.Reader) ([]byte, error) {
	if *body == nil {
		return []byte{}, nil
	}
	data, err := io.ReadAll(*body)
	*body = nil
	if err != nil {
		return nil, fmt.Errorf("failed to read message body: %w", err)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// wireBody flattens the body sections of a wire message.
func wireBody(msg *amqp.Message) []byte {
	switch {
	case len(msg.Data) == 1:
		return msg.Data[0]
	case len(msg.Data) > 1:
		return bytes.Join(msg.Data, nil)
	}
	switch v := msg.Value.(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	}
	return nil
}
