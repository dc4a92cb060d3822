package servicebusclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceiverStatus(t *testing.T) {
	h := newHarness(t, testConnectionString)
	ctx := context.Background()
	client := h.factory.CreateQueueClient("q1", PeekLock)
	defer client.Close(ctx)

	idle := client.Status()
	assert.Equal(t, ReceiverStatus{Entity: "q1", Mode: "peeklock", ConnectionState: "unopened"}, idle)
	assert.True(t, idle.Usable())

	h.broker.Enqueue("q1", wireMessage("a"))
	_, err := client.Receive(ctx)
	require.NoError(t, err)

	st := client.Status()
	assert.Equal(t, "opened", st.ConnectionState)
	assert.True(t, st.LinkOpen)
	assert.False(t, st.PumpRunning)
	assert.Equal(t, 1, st.PendingMessages)

	require.NoError(t, h.factory.Close())
	assert.False(t, client.Status().Usable())
}
