package transport

import (
	"context"

	"github.com/Azure/go-amqp"
)

// DialAMQP is the production Dialer.
func DialAMQP(ctx context.Context, addr string, opts *amqp.ConnOptions) (Conn, error) {
	conn, err := amqp.Dial(ctx, addr, opts)
	if err != nil {
		return nil, err
	}
	return &amqpConn{conn: conn}, nil
}

type amqpConn struct {
	conn *amqp.Conn
}

func (c *amqpConn) NewSession(ctx context.Context, opts *amqp.SessionOptions) (Session, error) {
	s, err := c.conn.NewSession(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &amqpSession{session: s}, nil
}

func (c *amqpConn) Close() error {
	return c.conn.Close()
}

type amqpSession struct {
	session *amqp.Session
}

func (s *amqpSession) NewSender(ctx context.Context, target string, opts *amqp.SenderOptions) (SenderLink, error) {
	sender, err := s.session.NewSender(ctx, target, opts)
	if err != nil {
		return nil, err
	}
	return sender, nil
}

func (s *amqpSession) NewReceiver(ctx context.Context, source string, opts *amqp.ReceiverOptions) (ReceiverLink, error) {
	receiver, err := s.session.NewReceiver(ctx, source, opts)
	if err != nil {
		return nil, err
	}
	return receiver, nil
}

func (s *amqpSession) Close(ctx context.Context) error {
	return s.session.Close(ctx)
}
