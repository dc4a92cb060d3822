package transport

import (
	"context"
	"sync"

	"github.com/Azure/go-amqp"
	"github.com/google/uuid"
)

const cbsNode = "$cbs"

// DispositionKind is the outcome a receiver applied to a delivery.
type DispositionKind string

const (
	DispositionAccepted DispositionKind = "accepted"
	DispositionReleased DispositionKind = "released"
)

// Disposition is one settlement observed by the broker.
type Disposition struct {
	Source  string
	Kind    DispositionKind
	Message *amqp.Message
}

// DialRecord captures one Dial call.
type DialRecord struct {
	Addr    string
	Options *amqp.ConnOptions
}

// CBSResponder computes the broker's reply to a put-token request. A nil
// reply means the broker never answers.
type CBSResponder func(req *amqp.Message) *amqp.Message

// CBSStatusResponder answers every put-token request with the given status.
func CBSStatusResponder(code int32, description string) CBSResponder {
	return func(req *amqp.Message) *amqp.Message {
		reply := &amqp.Message{
			Properties: &amqp.MessageProperties{},
			ApplicationProperties: map[string]any{
				"status-code":        code,
				"status-description": description,
			},
		}
		if req.Properties != nil {
			reply.Properties.CorrelationID = req.Properties.MessageID
		}
		return reply
	}
}

// MockBroker is an in-memory AMQP peer. Messages sent to an address are
// recorded, not routed; tests enqueue what receivers should see. Released
// deliveries are recorded but not redelivered.
type MockBroker struct {
	mu     sync.Mutex
	notify chan struct{}

	queues       map[string][]*amqp.Message
	sent         map[string][]*amqp.Message
	sendErrs     map[string]error
	dials        []DialRecord
	dialErr      error
	senderOpts   map[string][]*amqp.SenderOptions
	receiverOpts map[string][]*amqp.ReceiverOptions
	credits      map[string]uint32
	dispositions []Disposition
	cbsRequests  []*amqp.Message
	cbsResponder CBSResponder
	openSessions int
	openLinks    int
	closedConns  int
}

// NewMockBroker creates a broker that accepts every CBS token.
func NewMockBroker() *MockBroker {
	return &MockBroker{
		notify:       make(chan struct{}),
		queues:       make(map[string][]*amqp.Message),
		sent:         make(map[string][]*amqp.Message),
		sendErrs:     make(map[string]error),
		senderOpts:   make(map[string][]*amqp.SenderOptions),
		receiverOpts: make(map[string][]*amqp.ReceiverOptions),
		credits:      make(map[string]uint32),
		cbsResponder: CBSStatusResponder(200, "OK"),
	}
}

// Dial implements Dialer.
func (b *MockBroker) Dial(ctx context.Context, addr string, opts *amqp.ConnOptions) (Conn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.dials = append(b.dials, DialRecord{Addr: addr, Options: opts})
	if b.dialErr != nil {
		return nil, b.dialErr
	}
	return &mockConn{broker: b}, nil
}

// SetDialError makes every later Dial fail.
func (b *MockBroker) SetDialError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dialErr = err
}

// SetCBSResponder replaces the put-token reply logic.
func (b *MockBroker) SetCBSResponder(fn CBSResponder) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cbsResponder = fn
}

// FailSends makes every later Send to target return err.
func (b *MockBroker) FailSends(target string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sendErrs[target] = err
}

// Enqueue makes messages available to receivers on source. Messages without
// a delivery tag get a random 16-byte one.
func (b *MockBroker) Enqueue(source string, msgs ...*amqp.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, msg := range msgs {
		if len(msg.DeliveryTag) == 0 {
			tag := uuid.New()
			msg.DeliveryTag = tag[:]
		}
		b.queues[source] = append(b.queues[source], msg)
	}
	b.broadcastLocked()
}

// Sent returns the messages transmitted to target, in order.
func (b *MockBroker) Sent(target string) []*amqp.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*amqp.Message(nil), b.sent[target]...)
}

// Dials returns every Dial call.
func (b *MockBroker) Dials() []DialRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]DialRecord(nil), b.dials...)
}

// SenderOptions returns the options of every sender link attached to target.
func (b *MockBroker) SenderOptions(target string) []*amqp.SenderOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*amqp.SenderOptions(nil), b.senderOpts[target]...)
}

// ReceiverOptions returns the options of every receiver link attached to source.
func (b *MockBroker) ReceiverOptions(source string) []*amqp.ReceiverOptions {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*amqp.ReceiverOptions(nil), b.receiverOpts[source]...)
}

// CreditIssued returns the total manual credit issued on source.
func (b *MockBroker) CreditIssued(source string) uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.credits[source]
}

// Dispositions returns every settlement in order.
func (b *MockBroker) Dispositions() []Disposition {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Disposition(nil), b.dispositions...)
}

// CBSRequests returns every put-token request received.
func (b *MockBroker) CBSRequests() []*amqp.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*amqp.Message(nil), b.cbsRequests...)
}

// OpenSessions returns the number of sessions not yet closed.
func (b *MockBroker) OpenSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openSessions
}

// OpenLinks returns the number of links not yet closed.
func (b *MockBroker) OpenLinks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.openLinks
}

// ClosedConnections returns how many connections were closed.
func (b *MockBroker) ClosedConnections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closedConns
}

func (b *MockBroker) broadcastLocked() {
	close(b.notify)
	b.notify = make(chan struct{})
}

type mockConn struct {
	broker *MockBroker
	closed bool
}

func (c *mockConn) NewSession(ctx context.Context, opts *amqp.SessionOptions) (Session, error) {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return nil, &amqp.ConnError{}
	}
	b.openSessions++
	return &mockSession{conn: c}, nil
}

func (c *mockConn) Close() error {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	b.closedConns++
	b.broadcastLocked()
	return nil
}

type mockSession struct {
	conn   *mockConn
	closed bool
}

func (s *mockSession) NewSender(ctx context.Context, target string, opts *amqp.SenderOptions) (SenderLink, error) {
	b := s.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed || s.conn.closed {
		return nil, &amqp.SessionError{}
	}
	b.senderOpts[target] = append(b.senderOpts[target], opts)
	b.openLinks++
	return &mockSender{session: s, target: target}, nil
}

func (s *mockSession) NewReceiver(ctx context.Context, source string, opts *amqp.ReceiverOptions) (ReceiverLink, error) {
	b := s.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed || s.conn.closed {
		return nil, &amqp.SessionError{}
	}
	b.receiverOpts[source] = append(b.receiverOpts[source], opts)
	b.openLinks++
	return &mockReceiver{session: s, source: source}, nil
}

func (s *mockSession) Close(ctx context.Context) error {
	b := s.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if !s.closed {
		s.closed = true
		b.openSessions--
		b.broadcastLocked()
	}
	return nil
}

type mockSender struct {
	session *mockSession
	target  string
	closed  bool
}

func (l *mockSender) Send(ctx context.Context, msg *amqp.Message, opts *amqp.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b := l.session.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if l.closed || l.session.closed || l.session.conn.closed {
		return &amqp.LinkError{}
	}
	if err := b.sendErrs[l.target]; err != nil {
		return err
	}

	if l.target == cbsNode {
		b.cbsRequests = append(b.cbsRequests, msg)
		if reply := b.cbsResponder(msg); reply != nil {
			b.queues[cbsNode] = append(b.queues[cbsNode], reply)
			b.broadcastLocked()
		}
		return nil
	}
	b.sent[l.target] = append(b.sent[l.target], msg)
	return nil
}

func (l *mockSender) Close(ctx context.Context) error {
	b := l.session.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if !l.closed {
		l.closed = true
		b.openLinks--
	}
	return nil
}

type mockReceiver struct {
	session *mockSession
	source  string
	closed  bool
}

func (l *mockReceiver) Receive(ctx context.Context, opts *amqp.ReceiveOptions) (*amqp.Message, error) {
	b := l.session.conn.broker
	for {
		b.mu.Lock()
		if l.session.conn.closed {
			b.mu.Unlock()
			return nil, &amqp.ConnError{}
		}
		if l.closed || l.session.closed {
			b.mu.Unlock()
			return nil, &amqp.LinkError{}
		}
		if q := b.queues[l.source]; len(q) > 0 {
			msg := q[0]
			b.queues[l.source] = q[1:]
			b.mu.Unlock()
			return msg, nil
		}
		wait := b.notify
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

func (l *mockReceiver) IssueCredit(credit uint32) error {
	b := l.session.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.credits[l.source] += credit
	return nil
}

func (l *mockReceiver) AcceptMessage(ctx context.Context, msg *amqp.Message) error {
	return l.settle(DispositionAccepted, msg)
}

func (l *mockReceiver) ReleaseMessage(ctx context.Context, msg *amqp.Message) error {
	return l.settle(DispositionReleased, msg)
}

func (l *mockReceiver) settle(kind DispositionKind, msg *amqp.Message) error {
	b := l.session.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if l.session.conn.closed {
		return &amqp.ConnError{}
	}
	b.dispositions = append(b.dispositions, Disposition{Source: l.source, Kind: kind, Message: msg})
	return nil
}

func (l *mockReceiver) Close(ctx context.Context) error {
	b := l.session.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if !l.closed {
		l.closed = true
		b.openLinks--
		b.broadcastLocked()
	}
	return nil
}
