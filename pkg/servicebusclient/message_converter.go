package servicebusclient

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/google/uuid"

	"github.com/yourorg/go-sblite/pkg/utils"
)

// Wire annotation keys.
const (
	annotationPartitionKey         = "x-opt-partition-key"
	annotationOffset               = "x-opt-offset"
	annotationSequenceNumber       = "x-opt-sequence-number"
	annotationEnqueuedTime         = "x-opt-enqueued-time"
	annotationPublisher            = "x-opt-publisher"
	annotationLockedUntil          = "x-opt-locked-until"
	annotationScheduledEnqueueTime = "x-opt-scheduled-enqueue-time"
)

// Char is a single UTF-16 character property value. It travels as an int32
// and comes back as one.
type Char rune

// Decimal is a decimal number in its canonical text form, e.g. "12.50". It
// travels as a string and comes back as one.
type Decimal string

// PropertyKind enumerates the user property value kinds that can be sent.
type PropertyKind int

const (
	KindByte PropertyKind = iota
	KindSByte
	KindChar
	KindInt16
	KindUInt16
	KindInt32
	KindUInt32
	KindInt64
	KindUInt64
	KindSingle
	KindDouble
	KindDecimal
	KindBoolean
	KindGUID
	KindString
	KindURI
	KindDateTime
	KindTimeSpan

	kindCount
)

var kindNames = [kindCount]string{
	"Byte", "SByte", "Char", "Int16", "UInt16", "Int32", "UInt32", "Int64", "UInt64",
	"Single", "Double", "Decimal", "Boolean", "Guid", "String", "Uri", "DateTime", "TimeSpan",
}

func (k PropertyKind) String() string {
	if k >= 0 && k < kindCount {
		return kindNames[k]
	}
	return fmt.Sprintf("PropertyKind(%d)", int(k))
}

// kindOf classifies a property value.
func kindOf(v any) (PropertyKind, bool) {
	switch v.(type) {
	case uint8:
		return KindByte, true
	case int8:
		return KindSByte, true
	case Char:
		return KindChar, true
	case int16:
		return KindInt16, true
	case uint16:
		return KindUInt16, true
	case int32:
		return KindInt32, true
	case uint32:
		return KindUInt32, true
	case int64, int:
		return KindInt64, true
	case uint64, uint:
		return KindUInt64, true
	case float32:
		return KindSingle, true
	case float64:
		return KindDouble, true
	case Decimal:
		return KindDecimal, true
	case bool:
		return KindBoolean, true
	case uuid.UUID, amqp.UUID:
		return KindGUID, true
	case string:
		return KindString, true
	case *url.URL:
		return KindURI, true
	case time.Time:
		return KindDateTime, true
	case time.Duration:
		return KindTimeSpan, true
	default:
		return 0, false
	}
}

type coercion func(any) any

func identity(v any) any { return v }

// outboundCoercions turns an application value of each kind into its wire form.
var outboundCoercions = [kindCount]coercion{
	KindByte:    identity,
	KindSByte:   identity,
	KindChar:    func(v any) any { return int32(v.(Char)) },
	KindInt16:   identity,
	KindUInt16:  identity,
	KindInt32:   identity,
	KindUInt32:  identity,
	KindInt64:   toInt64,
	KindUInt64:  toUint64,
	KindSingle:  identity,
	KindDouble:  identity,
	KindDecimal: func(v any) any { return string(v.(Decimal)) },
	KindBoolean: identity,
	KindGUID:    toAMQPUUID,
	KindString:  identity,
	KindURI:     func(v any) any { return v.(*url.URL).String() },
	KindDateTime: func(v any) any {
		return v.(time.Time).UTC()
	},
	KindTimeSpan: func(v any) any { return v.(time.Duration).Milliseconds() },
}

// inboundCoercions turns a decoded wire value into its application form.
// Char, Decimal, URI and TimeSpan have no entry: they are sent as plain
// integers or strings and arrive as such.
var inboundCoercions = [kindCount]coercion{
	KindByte:     identity,
	KindSByte:    identity,
	KindInt16:    identity,
	KindUInt16:   identity,
	KindInt32:    identity,
	KindUInt32:   identity,
	KindInt64:    toInt64,
	KindUInt64:   toUint64,
	KindSingle:   identity,
	KindDouble:   identity,
	KindBoolean:  identity,
	KindGUID:     toUUID,
	KindString:   identity,
	KindDateTime: identity,
}

func toInt64(v any) any {
	if n, ok := v.(int); ok {
		return int64(n)
	}
	return v
}

func toUint64(v any) any {
	if n, ok := v.(uint); ok {
		return uint64(n)
	}
	return v
}

func toAMQPUUID(v any) any {
	if id, ok := v.(uuid.UUID); ok {
		return amqp.UUID(id)
	}
	return v
}

func toUUID(v any) any {
	if id, ok := v.(amqp.UUID); ok {
		return uuid.UUID(id)
	}
	return v
}

// ConvertProperties maps user properties to their wire form. Values of an
// unsupported type are omitted; their keys are returned, sorted, in dropped.
func ConvertProperties(props map[string]any) (converted map[string]any, dropped []string) {
	return convertWith(props, &outboundCoercions)
}

func convertInboundProperties(props map[string]any) map[string]any {
	converted, _ := convertWith(props, &inboundCoercions)
	return converted
}

func convertWith(props map[string]any, table *[kindCount]coercion) (map[string]any, []string) {
	if len(props) == 0 {
		return nil, nil
	}
	converted := make(map[string]any, len(props))
	var dropped []string
	for key, value := range props {
		kind, ok := kindOf(value)
		if !ok || table[kind] == nil {
			dropped = append(dropped, key)
			continue
		}
		converted[key] = table[kind](value)
	}
	sort.Strings(dropped)
	return converted, dropped
}

// eventDataToAMQP builds the wire form of an event, draining its body.
func eventDataToAMQP(e *EventData) (*amqp.Message, error) {
	body, err := e.GetBytes()
	if err != nil {
		return nil, err
	}
	msg := &amqp.Message{Data: [][]byte{body}}

	annotations := amqp.Annotations{}
	if p := e.Publisher(); p != "" {
		annotations[annotationPublisher] = p
	}
	if pk := e.PartitionKey(); pk != "" {
		annotations[annotationPartitionKey] = pk
	}
	if len(annotations) > 0 {
		msg.Annotations = annotations
	}
	msg.ApplicationProperties, _ = ConvertProperties(e.Properties)
	return msg, nil
}

// amqpToEventData copies the wire fields present on msg into e.
func amqpToEventData(msg *amqp.Message, e *EventData) {
	if v, ok := annotationString(msg, annotationPublisher); ok {
		e.SystemProperties[SystemPropertyPublisher] = v
	}
	if v, ok := annotationString(msg, annotationPartitionKey); ok {
		e.SystemProperties[SystemPropertyPartitionKey] = v
	}
	if v, ok := annotationTime(msg, annotationEnqueuedTime); ok {
		e.SystemProperties[SystemPropertyEnqueuedTimeUtc] = v
	}
	if v, ok := annotationInt64(msg, annotationSequenceNumber); ok {
		e.SystemProperties[SystemPropertySequenceNumber] = v
	}
	if v, ok := annotationString(msg, annotationOffset); ok {
		e.SystemProperties[SystemPropertyOffset] = v
	}
	if props := convertInboundProperties(msg.ApplicationProperties); props != nil {
		e.Properties = props
	}
}

// toAMQPMessage builds the wire form of m, draining its body. A fresh message
// id is always assigned first, replacing any id the caller set.
func (m *BrokeredMessage) toAMQPMessage() (*amqp.Message, error) {
	m.MessageID = utils.NewMessageID()

	body, err := m.GetBytes()
	if err != nil {
		return nil, err
	}
	msg := &amqp.Message{
		Data:       [][]byte{body},
		Properties: &amqp.MessageProperties{},
	}

	if m.DeliveryCount != 0 || m.TimeToLive != 0 {
		msg.Header = &amqp.MessageHeader{
			DeliveryCount: uint32(m.DeliveryCount),
			TTL:           m.TimeToLive,
		}
	}

	annotations := amqp.Annotations{}
	if !m.EnqueuedTimeUtc.IsZero() {
		annotations[annotationEnqueuedTime] = m.EnqueuedTimeUtc.UTC()
	}
	if m.SequenceNumber != 0 {
		annotations[annotationSequenceNumber] = m.SequenceNumber
	}
	if !m.LockedUntilUtc.IsZero() {
		annotations[annotationLockedUntil] = m.LockedUntilUtc.UTC()
	}
	if m.Publisher != "" {
		annotations[annotationPublisher] = m.Publisher
	}
	if m.PartitionKey != "" {
		annotations[annotationPartitionKey] = m.PartitionKey
	}
	if !m.ScheduledEnqueueTimeUtc.IsZero() {
		annotations[annotationScheduledEnqueueTime] = m.ScheduledEnqueueTimeUtc.UTC()
	}
	if len(annotations) > 0 {
		msg.Annotations = annotations
	}

	props := msg.Properties
	props.MessageID = m.MessageID
	if m.CorrelationID != "" {
		props.CorrelationID = m.CorrelationID
	}
	props.ContentType = optional(m.ContentType)
	props.Subject = optional(m.Label)
	props.To = optional(m.To)
	props.ReplyTo = optional(m.ReplyTo)
	props.GroupID = optional(m.SessionID)
	props.ReplyToGroupID = optional(m.ReplyToSessionID)

	msg.ApplicationProperties, _ = ConvertProperties(m.Properties)
	return msg, nil
}

// amqpToBrokeredMessage copies the wire fields present on msg into m.
func amqpToBrokeredMessage(msg *amqp.Message, m *BrokeredMessage) {
	if h := msg.Header; h != nil {
		m.DeliveryCount = int32(h.DeliveryCount)
		m.TimeToLive = h.TTL
	}

	if v, ok := annotationTime(msg, annotationEnqueuedTime); ok {
		m.EnqueuedTimeUtc = v
	}
	if v, ok := annotationInt64(msg, annotationSequenceNumber); ok {
		m.SequenceNumber = v
	}
	if v, ok := annotationTime(msg, annotationLockedUntil); ok {
		m.LockedUntilUtc = v
	}
	if v, ok := annotationString(msg, annotationPublisher); ok {
		m.Publisher = v
	}
	if v, ok := annotationString(msg, annotationPartitionKey); ok {
		m.PartitionKey = v
	}
	if v, ok := annotationTime(msg, annotationScheduledEnqueueTime); ok {
		m.ScheduledEnqueueTimeUtc = v
	}

	if p := msg.Properties; p != nil {
		if p.MessageID != nil {
			m.MessageID = identifierString(p.MessageID)
		}
		if p.CorrelationID != nil {
			m.CorrelationID = identifierString(p.CorrelationID)
		}
		m.ContentType = deref(p.ContentType)
		m.Label = deref(p.Subject)
		m.To = deref(p.To)
		m.ReplyTo = deref(p.ReplyTo)
		m.SessionID = deref(p.GroupID)
		m.ReplyToSessionID = deref(p.ReplyToGroupID)
	}

	if props := convertInboundProperties(msg.ApplicationProperties); props != nil {
		m.Properties = props
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// identifierString renders a message or correlation id, which the wire
// allows to be a string, UUID, ulong or binary.
func identifierString(id any) string {
	switch v := id.(type) {
	case string:
		return v
	case amqp.UUID:
		return uuid.UUID(v).String()
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}

func annotation(msg *amqp.Message, key string) (any, bool) {
	if msg.Annotations == nil {
		return nil, false
	}
	v, ok := msg.Annotations[key]
	return v, ok && v != nil
}

func annotationString(msg *amqp.Message, key string) (string, bool) {
	v, ok := annotation(msg, key)
	if !ok {
		return "", false
	}
	switch s := v.(type) {
	case string:
		return s, true
	case int64:
		return strconv.FormatInt(s, 10), true
	default:
		return fmt.Sprint(s), true
	}
}

func annotationInt64(msg *amqp.Message, key string) (int64, bool) {
	v, ok := annotation(msg, key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint32:
		return int64(n), true
	default:
		return 0, false
	}
}

func annotationTime(msg *amqp.Message, key string) (time.Time, bool) {
	v, ok := annotation(msg, key)
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case int64:
		return time.UnixMilli(t).UTC(), true
	default:
		return time.Time{}, false
	}
}
