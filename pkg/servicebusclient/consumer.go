package servicebusclient

import (
	"context"

	"github.com/Azure/go-amqp"

	"github.com/yourorg/go-sblite/pkg/errors"
	"github.com/yourorg/go-sblite/pkg/logging"
	"github.com/yourorg/go-sblite/pkg/transport"
)

// OnMessageAction handles one message delivered by the pump. In PeekLock
// mode a returned error abandons the message.
type OnMessageAction func(ctx context.Context, msg *BrokeredMessage) error

// OnMessageOptions configures a message pump.
type OnMessageOptions struct {
	// AutoComplete completes each PeekLock message after the action returns
	// nil, unless the action already settled it.
	AutoComplete bool
	// ExceptionReceived is called with action errors, and with the receive
	// error that stops the pump.
	ExceptionReceived func(error)
}

// NewOnMessageOptions returns the default options: AutoComplete on.
func NewOnMessageOptions() *OnMessageOptions {
	return &OnMessageOptions{AutoComplete: true}
}

type messagePump struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *messagePump) stop() {
	p.cancel()
	<-p.done
}

// OnMessage starts a pump that delivers messages to action one at a time on
// a background goroutine. The pump runs until ctx is cancelled, the receiver
// is closed, or a receive fails. Only one pump may run per receiver.
func (r *MessageReceiver) OnMessage(ctx context.Context, action OnMessageAction, opts *OnMessageOptions) error {
	if action == nil {
		return errors.NewValidationError("message action is required")
	}
	if opts == nil {
		opts = NewOnMessageOptions()
	}

	link, manual, err := r.ensureLink(ctx, creditPump)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == receiverClosed {
		return errors.ErrClosed
	}
	if r.pump != nil {
		return errors.NewAppError(errors.ErrorCodeInvalidOperation, "message pump already running")
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	p := &messagePump{cancel: cancel, done: make(chan struct{})}
	r.pump = p

	go r.runPump(pumpCtx, p, link, manual, action, opts)
	return nil
}

func (r *MessageReceiver) runPump(ctx context.Context, p *messagePump, link transport.ReceiverLink, manual bool, action OnMessageAction, opts *OnMessageOptions) {
	logger := r.logger.With(logging.NewField("operation", "pump"))
	defer func() {
		r.mu.Lock()
		if r.pump == p {
			r.pump = nil
		}
		r.mu.Unlock()
		close(p.done)
	}()

	logger.Info("Message pump started", logging.NewField("auto_complete", opts.AutoComplete))

	for {
		wire, err := r.receiveOne(ctx, link, manual)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("Message pump stopped")
				return
			}
			logger.WithError(err).Error("Message pump stopped on receive error")
			r.factory.telemetry.RecordCustomEvent("MessagePumpStopped", map[string]interface{}{
				"entity": r.entity,
				"error":  err.Error(),
			})
			if opts.ExceptionReceived != nil {
				opts.ExceptionReceived(errors.FromError(err))
			}
			return
		}
		if wire == nil {
			continue
		}
		r.dispatch(ctx, link, wire, action, opts, logger)
	}
}

// dispatch runs action for one delivery and settles it according to the
// receive mode and options.
func (r *MessageReceiver) dispatch(ctx context.Context, link transport.ReceiverLink, wire *amqp.Message, action OnMessageAction, opts *OnMessageOptions, logger logging.Logger) {
	// Settlement must survive a pump stop that happens mid-action.
	settleCtx := context.WithoutCancel(ctx)

	msg, err := r.deliver(settleCtx, link, wire)
	if err != nil {
		logger.WithError(err).Error("Failed to deliver message")
		if opts.ExceptionReceived != nil {
			opts.ExceptionReceived(err)
		}
		return
	}

	actionCtx := logging.WithMessageID(ctx, msg.MessageID)
	actionErr := action(actionCtx, msg)

	if r.mode == PeekLock {
		var settleErr error
		switch {
		case actionErr != nil:
			settleErr = r.Abandon(settleCtx, msg.LockToken)
		case opts.AutoComplete:
			settleErr = r.Complete(settleCtx, msg.LockToken)
		}
		if settleErr != nil {
			logger.WithError(settleErr).Error("Failed to settle message")
		}
	}

	if actionErr != nil {
		logger.WithError(actionErr).WarnWithContext(actionCtx, "Message handler failed")
		if opts.ExceptionReceived != nil {
			opts.ExceptionReceived(actionErr)
		}
		return
	}
	logger.DebugWithContext(actionCtx, "Message processed")
}
