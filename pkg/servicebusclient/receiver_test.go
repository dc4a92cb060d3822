package servicebusclient

import (
	"context"
	"testing"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/go-sblite/pkg/errors"
	"github.com/yourorg/go-sblite/pkg/transport"
)

func wireMessage(body string) *amqp.Message {
	return &amqp.Message{
		Data:       [][]byte{[]byte(body)},
		Properties: &amqp.MessageProperties{MessageID: uuid.NewString()},
	}
}

func TestReceive_PeekLockSettlesExactlyOnce(t *testing.T) {
	h := newHarness(t, testConnectionString)
	ctx := context.Background()
	client := h.factory.CreateQueueClient("q1", PeekLock)
	defer client.Close(ctx)

	h.broker.Enqueue("q1", wireMessage("a"))

	msg, err := client.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.NotEqual(t, uuid.Nil, msg.LockToken)
	assert.Empty(t, h.broker.Dispositions(), "peek-lock leaves the message unsettled")

	receiver := client.existingReceiver()
	assert.Equal(t, 1, receiver.PendingCount())

	require.NoError(t, client.Complete(ctx, msg.LockToken))
	require.NoError(t, client.Complete(ctx, msg.LockToken))
	require.NoError(t, msg.Abandon(ctx))

	dispositions := h.broker.Dispositions()
	require.Len(t, dispositions, 1)
	assert.Equal(t, transport.DispositionAccepted, dispositions[0].Kind)
	assert.Equal(t, 0, receiver.PendingCount())
	assert.Equal(t, 2, h.logs.FilterMessage("Lock token not pending, ignoring").Len())
}

func TestReceive_MessageAbandonsThroughReceiver(t *testing.T) {
	h := newHarness(t, testConnectionString)
	ctx := context.Background()
	receiver := h.factory.CreateMessageReceiver("q1", PeekLock)
	defer receiver.Close(ctx)

	h.broker.Enqueue("q1", wireMessage("a"))
	msg, err := receiver.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, msg.Abandon(ctx))

	dispositions := h.broker.Dispositions()
	require.Len(t, dispositions, 1)
	assert.Equal(t, transport.DispositionReleased, dispositions[0].Kind)

	settled, err := receiver.Settle(ctx, msg.LockToken, DispositionComplete)
	require.NoError(t, err)
	assert.False(t, settled)
}

func TestReceive_ReceiveAndDeleteSettlesOnDelivery(t *testing.T) {
	h := newHarness(t, testConnectionString)
	ctx := context.Background()
	client := h.factory.CreateQueueClient("q1", ReceiveAndDelete)
	defer client.Close(ctx)

	h.broker.Enqueue("q1", wireMessage("a"))

	msg, err := client.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)

	assert.Equal(t, uuid.Nil, msg.LockToken)
	dispositions := h.broker.Dispositions()
	require.Len(t, dispositions, 1)
	assert.Equal(t, transport.DispositionAccepted, dispositions[0].Kind)

	assert.ErrorIs(t, msg.Complete(ctx), errors.ErrNoReceiver)
	assert.Equal(t, 0, client.existingReceiver().PendingCount())
}

func TestReceive_TimeoutReturnsNoMessage(t *testing.T) {
	h := newHarness(t, testConnectionString, WithReceiveTimeout(20*time.Millisecond))
	ctx := context.Background()
	client := h.factory.CreateQueueClient("q1", PeekLock)
	defer client.Close(ctx)

	msg, err := client.Receive(ctx)
	assert.NoError(t, err)
	assert.Nil(t, msg)
}

func TestReceive_CallerCancellationIsAnError(t *testing.T) {
	h := newHarness(t, testConnectionString, WithReceiveTimeout(time.Minute))
	client := h.factory.CreateQueueClient("q1", PeekLock)
	defer client.Close(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	msg, err := client.Receive(ctx)
	assert.Error(t, err)
	assert.Nil(t, msg)
}

func TestReceiver_StatusAndCloseDoNotWaitForSlowOpen(t *testing.T) {
	broker := transport.NewMockBroker()
	dialing := make(chan struct{})
	release := make(chan struct{})
	dialer := func(ctx context.Context, addr string, opts *amqp.ConnOptions) (transport.Conn, error) {
		close(dialing)
		<-release
		return broker.Dial(ctx, addr, opts)
	}
	f, err := NewMessagingFactoryFromConnectionString(testConnectionString,
		WithDialer(dialer), WithReceiveTimeout(20*time.Millisecond))
	require.NoError(t, err)
	defer f.Close()
	receiver := f.CreateMessageReceiver("q1", PeekLock)

	received := make(chan error, 1)
	go func() {
		_, err := receiver.Receive(context.Background())
		received <- err
	}()
	<-dialing

	st := receiver.Status()
	assert.False(t, st.LinkOpen)
	assert.Equal(t, "opening", st.ConnectionState)
	require.NoError(t, receiver.Close(context.Background()))

	close(release)
	assert.ErrorIs(t, <-received, errors.ErrClosed)
	assert.Equal(t, 0, broker.OpenLinks())
}

func TestReceive_IssuesOneCreditPerCall(t *testing.T) {
	h := newHarness(t, testConnectionString)
	ctx := context.Background()
	client := h.factory.CreateQueueClient("q1", ReceiveAndDelete)
	defer client.Close(ctx)

	h.broker.Enqueue("q1", wireMessage("a"), wireMessage("b"))

	_, err := client.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), h.broker.CreditIssued("q1"))

	_, err = client.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), h.broker.CreditIssued("q1"))

	opts := h.broker.ReceiverOptions("q1")
	require.Len(t, opts, 1, "one link per receiver")
	assert.Equal(t, int32(-1), opts[0].Credit)
	assert.Equal(t, "amqp-receive-link q1", opts[0].Name)
}

func TestReceive_UnsettledCreditIsReused(t *testing.T) {
	h := newHarness(t, testConnectionString, WithReceiveTimeout(10*time.Millisecond))
	ctx := context.Background()
	client := h.factory.CreateQueueClient("q1", ReceiveAndDelete)
	defer client.Close(ctx)

	for i := 0; i < 3; i++ {
		msg, err := client.Receive(ctx)
		require.NoError(t, err)
		assert.Nil(t, msg)
	}
	assert.Equal(t, uint32(1), h.broker.CreditIssued("q1"), "an unused credit stays outstanding")
}

func TestReceiver_Close(t *testing.T) {
	h := newHarness(t, testConnectionString)
	ctx := context.Background()
	receiver := h.factory.CreateMessageReceiver("q1", PeekLock)

	h.broker.Enqueue("q1", wireMessage("a"))
	msg, err := receiver.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, receiver.Close(ctx))
	require.NoError(t, receiver.Close(ctx))
	assert.Equal(t, 0, h.broker.OpenLinks())
	assert.Equal(t, 0, h.broker.OpenSessions())
	assert.Equal(t, 0, receiver.PendingCount())

	_, err = receiver.Receive(ctx)
	assert.ErrorIs(t, err, errors.ErrClosed)

	require.NoError(t, msg.Complete(ctx), "tokens are forgotten on close")
	assert.Empty(t, h.broker.Dispositions())
}

func TestReceive_RecordsTelemetry(t *testing.T) {
	h := newHarness(t, testConnectionString)
	ctx := context.Background()
	client := h.factory.CreateQueueClient("q1", PeekLock)
	defer client.Close(ctx)

	h.broker.Enqueue("q1", wireMessage("a"))
	msg, err := client.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, msg.Complete(ctx))

	require.Len(t, h.recorder.Operations("receive"), 1)
	require.Len(t, h.recorder.Operations("complete"), 1)
	assert.Equal(t, "q1", h.recorder.Operations("complete")[0].Entity)
}

func TestSubscriptionClient_ReceivesFromSubscriptionPath(t *testing.T) {
	h := newHarness(t, testConnectionString)
	ctx := context.Background()
	client := h.factory.CreateSubscriptionClient("orders", "audit", PeekLock)
	defer client.Close(ctx)

	assert.Equal(t, "orders/Subscriptions/audit", client.Path())
	assert.Equal(t, "orders", client.TopicPath())
	assert.Equal(t, "audit", client.Name())

	h.broker.Enqueue("orders/Subscriptions/audit", wireMessage("a"))
	msg, err := client.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.NoError(t, client.Complete(ctx, msg.LockToken))
	assert.Len(t, h.broker.Dispositions(), 1)
}

func TestTopicClient_Send(t *testing.T) {
	h := newHarness(t, testConnectionString)
	ctx := context.Background()
	client := h.factory.CreateTopicClient("orders")

	msg := NewBrokeredMessageFromBytes([]byte("created"))
	msg.Properties["region"] = "eu"
	require.NoError(t, client.Send(ctx, msg))
	require.NoError(t, client.Close(ctx))

	sent := h.broker.Sent("orders")
	require.Len(t, sent, 1)
	assert.Equal(t, "eu", sent[0].ApplicationProperties["region"])

	err := client.Send(ctx, NewBrokeredMessageFromBytes(nil))
	assert.ErrorIs(t, err, errors.ErrClosed)
}

func TestEntity_SettleWithoutReceiverIsNoOp(t *testing.T) {
	h := newHarness(t, testConnectionString)
	client := h.factory.CreateQueueClient("q1", PeekLock)

	require.NoError(t, client.Complete(context.Background(), uuid.New()))
	assert.Empty(t, h.broker.Dials())
}

func TestEventFilter_SelectorExpression(t *testing.T) {
	start := time.UnixMilli(1709294400000).UTC()

	assert.Equal(t, "", eventFilter{}.selectorExpression())
	assert.Nil(t, eventFilter{}.linkFilters())
	assert.Equal(t, "amqp.annotation.x-opt-offset > '100'", eventFilter{offset: "100"}.selectorExpression())
	assert.Equal(t, "amqp.annotation.x-opt-enqueuedtimeutc > 1709294400000", eventFilter{startTime: start}.selectorExpression())
	assert.Equal(t,
		"amqp.annotation.x-opt-offset > '100' AND amqp.annotation.x-opt-enqueuedtimeutc > 1709294400000",
		eventFilter{offset: "100", startTime: start}.selectorExpression())
	assert.Len(t, eventFilter{offset: "100", startTime: start}.linkFilters(), 1)
}
