// Package transport is the narrow AMQP 1.0 surface the client needs: a
// connection that opens sessions, and sessions that open sender and receiver
// links. DialAMQP backs it with go-amqp; MockBroker backs it in memory.
package transport

import (
	"context"

	"github.com/Azure/go-amqp"
)

// Dialer opens a connection to addr.
type Dialer func(ctx context.Context, addr string, opts *amqp.ConnOptions) (Conn, error)

// Conn is an open AMQP connection.
type Conn interface {
	NewSession(ctx context.Context, opts *amqp.SessionOptions) (Session, error)
	Close() error
}

// Session multiplexes links over a connection.
type Session interface {
	NewSender(ctx context.Context, target string, opts *amqp.SenderOptions) (SenderLink, error)
	NewReceiver(ctx context.Context, source string, opts *amqp.ReceiverOptions) (ReceiverLink, error)
	Close(ctx context.Context) error
}

// SenderLink transmits messages to its target. Send blocks until the broker
// settles the delivery.
type SenderLink interface {
	Send(ctx context.Context, msg *amqp.Message, opts *amqp.SendOptions) error
	Close(ctx context.Context) error
}

// ReceiverLink delivers messages from its source.
type ReceiverLink interface {
	Receive(ctx context.Context, opts *amqp.ReceiveOptions) (*amqp.Message, error)
	IssueCredit(credit uint32) error
	AcceptMessage(ctx context.Context, msg *amqp.Message) error
	ReleaseMessage(ctx context.Context, msg *amqp.Message) error
	Close(ctx context.Context) error
}
