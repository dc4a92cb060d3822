package servicebusclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"weak"

	"github.com/Azure/go-amqp"
	"github.com/google/uuid"

	"github.com/yourorg/go-sblite/pkg/errors"
	"github.com/yourorg/go-sblite/pkg/logging"
	"github.com/yourorg/go-sblite/pkg/telemetry"
	"github.com/yourorg/go-sblite/pkg/transport"
	"github.com/yourorg/go-sblite/pkg/utils"
)

// Disposition is the outcome applied to a peek-locked message.
type Disposition int

const (
	// DispositionComplete accepts the message; the broker deletes it.
	DispositionComplete Disposition = iota
	// DispositionAbandon releases the lock; the broker redelivers the message.
	DispositionAbandon
)

func (d Disposition) String() string {
	if d == DispositionAbandon {
		return "abandon"
	}
	return "complete"
}

// eventFilter selects events after an offset and/or enqueue time. Both
// bounds are exclusive.
type eventFilter struct {
	offset    string
	startTime time.Time
}

// selectorExpression joins the active clauses with AND. Both clauses travel
// in a single selector filter because the filter set is keyed by filter name.
func (f eventFilter) selectorExpression() string {
	var clauses []string
	if f.offset != "" {
		clauses = append(clauses, fmt.Sprintf("amqp.annotation.x-opt-offset > '%s'", f.offset))
	}
	if !f.startTime.IsZero() {
		clauses = append(clauses, fmt.Sprintf("amqp.annotation.x-opt-enqueuedtimeutc > %d", f.startTime.UnixMilli()))
	}
	return strings.Join(clauses, " AND ")
}

func (f eventFilter) linkFilters() []amqp.LinkFilter {
	expr := f.selectorExpression()
	if expr == "" {
		return nil
	}
	return []amqp.LinkFilter{amqp.NewSelectorFilter(expr)}
}

type receiverState int

const (
	receiverNoLink receiverState = iota
	receiverOpening
	receiverLinkOpen
	receiverClosed
)

// linkCredit is the flow-control profile a receive link is opened with.
type linkCredit int

const (
	creditManual  linkCredit = iota // one credit issued per Receive
	creditDefault                   // go-amqp's default prefetch
	creditPump                      // steady credit of 1
)

// MessageReceiver receives from one entity over its own session and link,
// created on the first receive. In PeekLock mode it tracks every unsettled
// message by lock token until Complete or Abandon.
type MessageReceiver struct {
	factory *MessagingFactory
	entity  string
	mode    ReceiveMode
	filter  eventFilter
	logger  logging.Logger

	mu           sync.Mutex
	state        receiverState
	ready        chan struct{} // closed when an in-flight link open finishes
	session      transport.Session
	link         transport.ReceiverLink
	manualCredit bool
	pump         *messagePump

	creditMu    sync.Mutex
	outstanding uint32
	waiting     uint32

	pendingMu sync.Mutex
	pending   map[uuid.UUID]*amqp.Message
}

func newMessageReceiver(f *MessagingFactory, entity string, mode ReceiveMode, filter eventFilter) *MessageReceiver {
	return &MessageReceiver{
		factory: f,
		entity:  entity,
		mode:    mode,
		filter:  filter,
		logger: f.logger.With(
			logging.NewField("entity", entity),
			logging.NewField("receive_mode", mode.String()),
		),
		pending: make(map[uuid.UUID]*amqp.Message),
	}
}

// Path returns the entity path.
func (r *MessageReceiver) Path() string {
	return r.entity
}

// Mode returns the receive mode.
func (r *MessageReceiver) Mode() ReceiveMode {
	return r.mode
}

// Receive waits for one message. It returns (nil, nil) when the configured
// receive timeout elapses first.
//
// In ReceiveAndDelete mode the message is settled before it is returned. In
// PeekLock mode it is returned unsettled with a LockToken, and stays pending
// until Complete or Abandon.
func (r *MessageReceiver) Receive(ctx context.Context) (*BrokeredMessage, error) {
	var msg *BrokeredMessage
	err := telemetry.Track(ctx, r.factory.telemetry, "receive", r.entity, func() error {
		link, manual, err := r.ensureLink(ctx, creditManual)
		if err != nil {
			return err
		}
		wire, err := r.receiveOne(ctx, link, manual)
		if err != nil || wire == nil {
			return err
		}
		msg, err = r.deliver(ctx, link, wire)
		return err
	})
	if err != nil {
		r.logger.With(logging.NewField("operation", "receive")).WithError(err).Error("Failed to receive message")
		return nil, err
	}
	return msg, nil
}

// ReceiveEventData waits for one event and settles it immediately,
// regardless of the receive mode. It returns (nil, nil) on receive timeout.
func (r *MessageReceiver) ReceiveEventData(ctx context.Context) (*EventData, error) {
	var event *EventData
	err := telemetry.Track(ctx, r.factory.telemetry, "receive", r.entity, func() error {
		link, manual, err := r.ensureLink(ctx, creditDefault)
		if err != nil {
			return err
		}
		wire, err := r.receiveOne(ctx, link, manual)
		if err != nil || wire == nil {
			return err
		}
		if err := link.AcceptMessage(ctx, wire); err != nil {
			return fmt.Errorf("failed to accept event: %w", errors.FromError(err))
		}
		event, err = newEventDataFromAMQP(wire)
		return err
	})
	if err != nil {
		r.logger.With(logging.NewField("operation", "receive_event")).WithError(err).Error("Failed to receive event")
		return nil, err
	}
	return event, nil
}

// Complete accepts the message held under lockToken. An unknown or already
// settled token is ignored.
func (r *MessageReceiver) Complete(ctx context.Context, lockToken uuid.UUID) error {
	_, err := r.Settle(ctx, lockToken, DispositionComplete)
	return err
}

// Abandon releases the message held under lockToken. An unknown or already
// settled token is ignored.
func (r *MessageReceiver) Abandon(ctx context.Context, lockToken uuid.UUID) error {
	_, err := r.Settle(ctx, lockToken, DispositionAbandon)
	return err
}

// Settle applies d to the message held under lockToken and reports whether
// such a message was pending. Each token is settled at most once.
func (r *MessageReceiver) Settle(ctx context.Context, lockToken uuid.UUID, d Disposition) (bool, error) {
	wire := r.untrack(lockToken)
	logger := r.logger.With(
		logging.NewField("operation", d.String()),
		logging.NewField("lock_token", lockToken.String()),
	)
	if wire == nil {
		logger.Debug("Lock token not pending, ignoring")
		return false, nil
	}

	link := r.currentLink()
	if link == nil {
		return true, errors.ErrClosed
	}

	err := telemetry.Track(ctx, r.factory.telemetry, d.String(), r.entity, func() error {
		if d == DispositionAbandon {
			return link.ReleaseMessage(ctx, wire)
		}
		return link.AcceptMessage(ctx, wire)
	})
	if err != nil {
		logger.WithError(err).Error("Failed to settle message")
		return true, fmt.Errorf("failed to %s message: %w", d, errors.FromError(err))
	}
	return true, nil
}

// PendingCount returns the number of peek-locked messages awaiting settlement.
func (r *MessageReceiver) PendingCount() int {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return len(r.pending)
}

// Close stops the message pump, if any, then closes the link and session.
// Pending lock tokens are forgotten. Closing twice is safe.
func (r *MessageReceiver) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.state == receiverClosed {
		r.mu.Unlock()
		return nil
	}
	r.state = receiverClosed
	pump := r.pump
	r.pump = nil
	r.mu.Unlock()

	if pump != nil {
		pump.stop()
	}

	r.mu.Lock()
	link, session := r.link, r.session
	r.link, r.session = nil, nil
	r.mu.Unlock()

	var errs []error
	if link != nil {
		errs = append(errs, link.Close(ctx))
	}
	if session != nil {
		errs = append(errs, session.Close(ctx))
	}

	r.pendingMu.Lock()
	clear(r.pending)
	r.pendingMu.Unlock()

	return stderrors.Join(errs...)
}

// ensureLink opens the factory connection and this receiver's session and
// link on first use. The credit profile of the first caller sticks. The lock
// is not held during network I/O; concurrent callers wait for one open.
func (r *MessageReceiver) ensureLink(ctx context.Context, credit linkCredit) (transport.ReceiverLink, bool, error) {
	for {
		r.mu.Lock()
		switch r.state {
		case receiverClosed:
			r.mu.Unlock()
			return nil, false, errors.ErrClosed
		case receiverLinkOpen:
			link, manual := r.link, r.manualCredit
			r.mu.Unlock()
			return link, manual, nil
		case receiverOpening:
			ready := r.ready
			r.mu.Unlock()
			select {
			case <-ready:
				continue
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
		}

		// receiverNoLink
		r.state = receiverOpening
		r.ready = make(chan struct{})
		r.mu.Unlock()

		session, link, err := r.openLink(ctx, credit)

		r.mu.Lock()
		close(r.ready)
		switch {
		case r.state == receiverClosed:
			r.mu.Unlock()
			cleanupCtx := context.WithoutCancel(ctx)
			if link != nil {
				_ = link.Close(cleanupCtx)
			}
			if session != nil {
				_ = session.Close(cleanupCtx)
			}
			return nil, false, errors.ErrClosed
		case err != nil:
			r.state = receiverNoLink
			r.mu.Unlock()
			return nil, false, err
		}
		r.session, r.link = session, link
		r.manualCredit = credit == creditManual
		r.state = receiverLinkOpen
		manual := r.manualCredit
		r.mu.Unlock()

		r.logger.Debug("Receive link opened",
			logging.NewField("selector", r.filter.selectorExpression()),
			logging.NewField("manual_credit", manual),
		)
		return link, manual, nil
	}
}

func (r *MessageReceiver) openLink(ctx context.Context, credit linkCredit) (transport.Session, transport.ReceiverLink, error) {
	conn, err := r.factory.acquire(ctx, r.entity)
	if err != nil {
		return nil, nil, err
	}

	session, err := conn.NewSession(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open session: %w", errors.FromError(err))
	}

	opts := &amqp.ReceiverOptions{
		Name:    "amqp-receive-link " + r.entity,
		Filters: r.filter.linkFilters(),
	}
	switch credit {
	case creditManual:
		opts.Credit = -1
	case creditPump:
		opts.Credit = 1
	}

	link, err := session.NewReceiver(ctx, r.entity, opts)
	if err != nil {
		_ = session.Close(ctx)
		return nil, nil, fmt.Errorf("failed to open receiver link: %w", errors.FromError(err))
	}
	return session, link, nil
}

func (r *MessageReceiver) currentLink() transport.ReceiverLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.link
}

// receiveOne waits for a single delivery, bounded by the receive timeout.
// A timeout yields (nil, nil).
func (r *MessageReceiver) receiveOne(ctx context.Context, link transport.ReceiverLink, manual bool) (*amqp.Message, error) {
	if manual {
		if err := r.reserveCredit(link); err != nil {
			return nil, fmt.Errorf("failed to issue credit: %w", errors.FromError(err))
		}
	}

	receiveCtx := ctx
	timeout := r.factory.settings.ReceiveTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		receiveCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	msg, err := link.Receive(receiveCtx, nil)
	if manual {
		r.releaseCredit(err == nil)
	}
	if err != nil {
		if timeout > 0 && ctx.Err() == nil && stderrors.Is(err, context.DeadlineExceeded) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// reserveCredit makes sure the link has one credit per waiting caller, so a
// lone caller issues exactly one credit and only when none is outstanding.
func (r *MessageReceiver) reserveCredit(link transport.ReceiverLink) error {
	r.creditMu.Lock()
	defer r.creditMu.Unlock()

	r.waiting++
	if r.outstanding >= r.waiting {
		return nil
	}
	n := r.waiting - r.outstanding
	if err := link.IssueCredit(n); err != nil {
		r.waiting--
		return err
	}
	r.outstanding += n
	return nil
}

func (r *MessageReceiver) releaseCredit(delivered bool) {
	r.creditMu.Lock()
	defer r.creditMu.Unlock()

	r.waiting--
	if delivered && r.outstanding > 0 {
		r.outstanding--
	}
}

// deliver converts a delivery and applies the receive mode to it.
func (r *MessageReceiver) deliver(ctx context.Context, link transport.ReceiverLink, wire *amqp.Message) (*BrokeredMessage, error) {
	msg, err := newBrokeredMessageFromAMQP(wire)
	if err != nil {
		return nil, err
	}

	if r.mode == ReceiveAndDelete {
		if err := link.AcceptMessage(ctx, wire); err != nil {
			return nil, fmt.Errorf("failed to accept message: %w", errors.FromError(err))
		}
		return msg, nil
	}

	msg.LockToken = utils.LockTokenFromDeliveryTag(wire.DeliveryTag)
	msg.receiver = weak.Make(r)
	r.track(msg.LockToken, wire)
	return msg, nil
}

func (r *MessageReceiver) track(lockToken uuid.UUID, wire *amqp.Message) {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	r.pending[lockToken] = wire
}

func (r *MessageReceiver) untrack(lockToken uuid.UUID) *amqp.Message {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	wire, ok := r.pending[lockToken]
	if !ok {
		return nil
	}
	delete(r.pending, lockToken)
	return wire
}
