package servicebusclient

import (
	"bytes"
	"io"
	"time"

	"github.com/Azure/go-amqp"

	"github.com/yourorg/go-sblite/pkg/errors"
)

// System property keys of EventData.
const (
	SystemPropertyPartitionKey    = "PartitionKey"
	SystemPropertyOffset          = "Offset"
	SystemPropertySequenceNumber  = "SequenceNumber"
	SystemPropertyEnqueuedTimeUtc = "EnqueuedTimeUtc"
	SystemPropertyPublisher       = "Publisher"
)

// EventData is an Event Hub event.
type EventData struct {
	// SystemProperties holds broker-assigned values keyed by the
	// SystemProperty* constants.
	SystemProperties map[string]any
	// Properties holds user properties.
	Properties map[string]any

	body io.Reader
}

// NewEventData creates an event whose body is read once from body.
func NewEventData(body io.Reader) *EventData {
	return &EventData{
		SystemProperties: make(map[string]any),
		Properties:       make(map[string]any),
		body:             body,
	}
}

// NewEventDataFromBytes creates an event with a byte body.
func NewEventDataFromBytes(body []byte) *EventData {
	return NewEventData(bytes.NewReader(body))
}

func newEventDataFromAMQP(msg *amqp.Message) (*EventData, error) {
	if msg == nil {
		return nil, errors.ErrNilMessage
	}
	e := NewEventDataFromBytes(wireBody(msg))
	amqpToEventData(msg, e)
	return e, nil
}

// GetBytes drains the body; a second call returns an empty slice.
func (e *EventData) GetBytes() ([]byte, error) {
	return drain(&e.body)
}

func (e *EventData) PartitionKey() string {
	s, _ := e.SystemProperties[SystemPropertyPartitionKey].(string)
	return s
}

func (e *EventData) SetPartitionKey(key string) {
	e.SystemProperties[SystemPropertyPartitionKey] = key
}

func (e *EventData) Publisher() string {
	s, _ := e.SystemProperties[SystemPropertyPublisher].(string)
	return s
}

func (e *EventData) SetPublisher(publisher string) {
	e.SystemProperties[SystemPropertyPublisher] = publisher
}

func (e *EventData) Offset() string {
	s, _ := e.SystemProperties[SystemPropertyOffset].(string)
	return s
}

func (e *EventData) SequenceNumber() int64 {
	n, _ := e.SystemProperties[SystemPropertySequenceNumber].(int64)
	return n
}

func (e *EventData) EnqueuedTimeUtc() time.Time {
	t, _ := e.SystemProperties[SystemPropertyEnqueuedTimeUtc].(time.Time)
	return t
}
