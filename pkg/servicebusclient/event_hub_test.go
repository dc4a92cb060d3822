package servicebusclient

import (
	"context"
	"testing"
	"time"

	"github.com/Azure/go-amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/go-sblite/pkg/checkpoint"
	"github.com/yourorg/go-sblite/pkg/errors"
	"github.com/yourorg/go-sblite/pkg/transport"
)

const testEventHubConnectionString = "Endpoint=sb://ns.servicebus.windows.net/;SharedAccessKeyName=k;SharedAccessKey=v;EntityPath=telemetry"

func wireEvent(body, offset string, sequence int64) *amqp.Message {
	return &amqp.Message{
		Data: [][]byte{[]byte(body)},
		Annotations: amqp.Annotations{
			annotationOffset:         offset,
			annotationSequenceNumber: sequence,
			annotationEnqueuedTime:   time.Date(2024, 4, 2, 9, 30, 0, 0, time.UTC),
		},
	}
}

func TestEventHubPaths(t *testing.T) {
	assert.Equal(t, "hub/Publishers/dev-1", PublisherPath("hub", "dev-1"))
	assert.Equal(t, "hub/Partitions/3", PartitionPath("hub", "3"))
	assert.Equal(t, "hub/ConsumerGroups/$Default/Partitions/3", ConsumerGroupPartitionPath("hub", "$Default", "3"))
}

func TestEventHubClient_Send(t *testing.T) {
	h := newHarness(t, testEventHubConnectionString)
	ctx := context.Background()
	client := h.factory.CreateEventHubClient("telemetry")

	event := NewEventDataFromBytes([]byte("21.5"))
	event.SetPartitionKey("sensor-1")
	require.NoError(t, client.Send(ctx, event))
	require.NoError(t, client.Send(ctx, NewEventDataFromBytes([]byte("22.0"))))
	require.NoError(t, client.Close(ctx))

	sent := h.broker.Sent("telemetry")
	require.Len(t, sent, 2)
	assert.Equal(t, "sensor-1", sent[0].Annotations[annotationPartitionKey])
	assert.Nil(t, sent[1].Annotations)
	assert.Len(t, h.broker.SenderOptions("telemetry"), 1, "the client reuses its sender")

	assert.ErrorIs(t, client.Send(ctx, NewEventDataFromBytes(nil)), errors.ErrClosed)
}

func TestEventHubClient_PublisherAndPartitionSenders(t *testing.T) {
	h := newHarness(t, testEventHubConnectionString)
	ctx := context.Background()
	client := h.factory.CreateEventHubClient("telemetry")

	publisher := client.CreateSender("dev-1")
	defer publisher.Close(ctx)
	assert.Equal(t, "telemetry/Publishers/dev-1", publisher.Path())
	assert.Equal(t, "dev-1", publisher.Publisher())
	require.NoError(t, publisher.Send(ctx, NewEventDataFromBytes([]byte("x"))))

	sent := h.broker.Sent("telemetry/Publishers/dev-1")
	require.Len(t, sent, 1)
	assert.Equal(t, "dev-1", sent[0].Annotations[annotationPublisher])

	partition := client.CreatePartitionedSender("2")
	defer partition.Close(ctx)
	assert.Equal(t, "telemetry/Partitions/2", partition.Path())
	require.NoError(t, partition.Send(ctx, NewEventDataFromBytes([]byte("y"))))
	assert.Len(t, h.broker.Sent("telemetry/Partitions/2"), 1)

	assert.ErrorIs(t, partition.Send(ctx, nil), errors.ErrNilMessage)
}

func TestNewEventHubSenderFromConnectionString(t *testing.T) {
	broker := transport.NewMockBroker()
	sender, err := NewEventHubSenderFromConnectionString(testEventHubConnectionString+";Publisher=dev-9", WithDialer(broker.Dial))
	require.NoError(t, err)
	assert.Equal(t, "telemetry/Publishers/dev-9", sender.Path())

	require.NoError(t, sender.Send(context.Background(), NewEventDataFromBytes([]byte("x"))))
	require.NoError(t, sender.Close(context.Background()))

	assert.Len(t, broker.Sent("telemetry/Publishers/dev-9"), 1)
	assert.Equal(t, "amqps://ns.servicebus.windows.net:5671", broker.Dials()[0].Addr)
	assert.Equal(t, 1, broker.ClosedConnections())
}

func TestConsumerGroup_ReceiverFromOffset(t *testing.T) {
	h := newHarness(t, testEventHubConnectionString)
	ctx := context.Background()
	group := h.factory.CreateEventHubClient("telemetry").GetDefaultConsumerGroup()
	assert.Equal(t, "$Default", group.Name())
	assert.Equal(t, "telemetry", group.EventHubPath())

	receiver := group.CreateReceiverFromOffset("0", "100")
	defer receiver.Close(ctx)
	path := "telemetry/ConsumerGroups/$Default/Partitions/0"
	assert.Equal(t, path, receiver.Path())
	assert.Equal(t, "0", receiver.PartitionID())

	h.broker.Enqueue(path, wireEvent("a", "120", 7))

	event, err := receiver.Receive(ctx)
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "120", event.Offset())
	assert.Equal(t, int64(7), event.SequenceNumber())

	opts := h.broker.ReceiverOptions(path)
	require.Len(t, opts, 1)
	assert.Len(t, opts[0].Filters, 1)
	assert.Equal(t, "amqp.annotation.x-opt-offset > '100'", receiver.receiver.filter.selectorExpression())

	dispositions := h.broker.Dispositions()
	require.Len(t, dispositions, 1, "events are settled on receipt")
	assert.Equal(t, transport.DispositionAccepted, dispositions[0].Kind)
	assert.Equal(t, uint32(0), h.broker.CreditIssued(path), "event receivers use link prefetch")
}

func TestConsumerGroup_ReceiverFromTimeAndOffset(t *testing.T) {
	h := newHarness(t, testEventHubConnectionString)
	group := h.factory.CreateEventHubClient("telemetry").GetConsumerGroup("analytics")
	start := time.UnixMilli(1709294400000)

	fromTime := group.CreateReceiverFromTime("1", start)
	assert.Equal(t, "amqp.annotation.x-opt-enqueuedtimeutc > 1709294400000", fromTime.receiver.filter.selectorExpression())

	both := group.CreateReceiverWithOptions("1", EventHubReceiverOptions{StartOffset: "5", StartTime: start})
	assert.Equal(t,
		"amqp.annotation.x-opt-offset > '5' AND amqp.annotation.x-opt-enqueuedtimeutc > 1709294400000",
		both.receiver.filter.selectorExpression())
	assert.Equal(t, "telemetry/ConsumerGroups/analytics/Partitions/1", both.Path())

	plain := group.CreateReceiver("1")
	assert.Empty(t, plain.receiver.filter.selectorExpression())
}

func TestConsumerGroup_ReceiverFromCheckpoint(t *testing.T) {
	h := newHarness(t, testEventHubConnectionString)
	ctx := context.Background()
	group := h.factory.CreateEventHubClient("telemetry").GetDefaultConsumerGroup()
	store := checkpoint.NewMockStore()

	fresh, err := group.CreateReceiverFromCheckpoint(ctx, "0", store)
	require.NoError(t, err)
	assert.Empty(t, fresh.receiver.filter.selectorExpression(), "no checkpoint reads from the start")

	path := "telemetry/ConsumerGroups/$Default/Partitions/0"
	h.broker.Enqueue(path, wireEvent("a", "4096", 42))
	event, err := fresh.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, fresh.Checkpoint(ctx, event))
	require.NoError(t, fresh.Close(ctx))

	key := checkpoint.Key{
		Namespace:     "ns.servicebus.windows.net",
		EventHub:      "telemetry",
		ConsumerGroup: "$Default",
		PartitionID:   "0",
	}
	cp, err := store.GetCheckpoint(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "4096", cp.Offset)
	assert.Equal(t, int64(42), cp.SequenceNumber)

	resumed, err := group.CreateReceiverFromCheckpoint(ctx, "0", store)
	require.NoError(t, err)
	defer resumed.Close(ctx)
	assert.Equal(t, "amqp.annotation.x-opt-offset > '4096'", resumed.receiver.filter.selectorExpression())
}

func TestEventHubReceiver_CheckpointErrors(t *testing.T) {
	h := newHarness(t, testEventHubConnectionString)
	ctx := context.Background()
	receiver := h.factory.CreateEventHubClient("telemetry").GetDefaultConsumerGroup().CreateReceiver("0")

	err := receiver.Checkpoint(ctx, NewEventDataFromBytes(nil))
	assert.True(t, errors.HasCode(err, errors.ErrorCodeInvalidOperation))

	receiver.SetCheckpointStore(checkpoint.NewMockStore())
	err = receiver.Checkpoint(ctx, NewEventDataFromBytes(nil))
	assert.True(t, errors.HasCode(err, errors.ErrorCodeValidation), "event without offset")
}

func TestEventHubReceiver_TimeoutReturnsNoEvent(t *testing.T) {
	h := newHarness(t, testEventHubConnectionString, WithReceiveTimeout(20*time.Millisecond))
	ctx := context.Background()
	receiver := h.factory.CreateEventHubClient("telemetry").GetDefaultConsumerGroup().CreateReceiver("0")
	defer receiver.Close(ctx)

	event, err := receiver.Receive(ctx)
	assert.NoError(t, err)
	assert.Nil(t, event)
}
