package sse_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"rauction/adapters/metrics"
	"rauction/adapters/sse"
)

func receive(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		require.True(t, ok, "channel closed")
		return msg
	case <-time.After(time.Second):
		t.Fatal("did not receive message in time")
		return Message{}
	}
}

func metricValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name || len(f.GetMetric()) == 0 {
			continue
		}
		m := f.GetMetric()[0]
		if m.GetCounter() != nil {
			return m.GetCounter().GetValue()
		}
		return m.GetGauge().GetValue()
	}
	return 0
}

func TestConnectionManager_LocalDispatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	cm, err := sse.NewConnectionManager[Message]()
	require.NoError(t, err)
	cm.Start()
	defer cm.Done()

	auctionA, err := cm.Subscribe("auction-a")
	require.NoError(t, err)
	auctionB, err := cm.Subscribe("auction-b")
	require.NoError(t, err)
	all, err := cm.Subscribe(sse.WildcardChannel)
	require.NoError(t, err)

	require.NoError(t, cm.Publish("auction-a", Message{Data: "floor 900"}))

	assert.Equal(t, "floor 900", receive(t, auctionA).Data)
	assert.Equal(t, "floor 900", receive(t, all).Data)
	select {
	case msg := <-auctionB:
		t.Fatalf("unexpected message on other channel: %v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnectionManager_PreservesOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	cm, err := sse.NewConnectionManager(sse.WithBufferSize[Message](64))
	require.NoError(t, err)
	cm.Start()
	defer cm.Done()

	sub, err := cm.Subscribe("auction-a")
	require.NoError(t, err)
	for i := range 20 {
		require.NoError(t, cm.Publish("auction-a", Message{Data: fmt.Sprint(i)}))
	}
	for i := range 20 {
		assert.Equal(t, fmt.Sprint(i), receive(t, sub).Data)
	}
}

func TestConnectionManager_Unsubscribe(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := prometheus.NewRegistry()
	cm, err := sse.NewConnectionManager(sse.WithMetrics[Message](metrics.New(reg)))
	require.NoError(t, err)
	cm.Start()
	defer cm.Done()

	sub, err := cm.Subscribe("auction-a")
	require.NoError(t, err)
	assert.Equal(t, 1, cm.Subscribers("auction-a"))

	cm.Unsubscribe("auction-a", sub)
	_, ok := <-sub
	assert.False(t, ok)
	assert.Equal(t, 0, cm.Subscribers("auction-a"))

	assert.Equal(t, 0.0, metricValue(t, reg, "rauction_sse_subscribers"))
}

func TestConnectionManager_DroppedMessagesAreCounted(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	cm, err := sse.NewConnectionManager(
		sse.WithBufferSize[Message](1),
		sse.WithMetrics[Message](m),
	)
	require.NoError(t, err)
	cm.Start()
	defer cm.Done()

	slow, err := cm.Subscribe("auction-a")
	require.NoError(t, err)
	fast, err := cm.Subscribe("auction-a")
	require.NoError(t, err)

	for i := range 3 {
		require.NoError(t, cm.Publish("auction-a", Message{Data: fmt.Sprint(i)}))
		assert.Equal(t, fmt.Sprint(i), receive(t, fast).Data)
	}
	assert.Equal(t, "0", receive(t, slow).Data)

	assert.Eventually(t, func() bool {
		return metricValue(t, reg, "rauction_broadcast_dropped_total") == 2
	}, time.Second, 10*time.Millisecond)
}

func TestConnectionManager_Transport(t *testing.T) {
	defer goleak.VerifyNone(t)

	transport := newLoopback()
	cm, err := sse.NewConnectionManager(
		sse.WithPublisher[Message](transport),
		sse.WithSubscriber[Message](transport),
	)
	require.NoError(t, err)
	cm.Start()

	sub, err := cm.Subscribe("auction-a")
	require.NoError(t, err)
	require.NoError(t, cm.Publish("auction-a", Message{Data: "via transport"}))
	assert.Equal(t, "via transport", receive(t, sub).Data)

	cm.Done()
	assert.True(t, transport.isClosed())
	_, ok := <-sub
	assert.False(t, ok, "subscribers are closed on Done")
}

func TestConnectionManager_Closed(t *testing.T) {
	defer goleak.VerifyNone(t)

	cm, err := sse.NewConnectionManager[Message]()
	require.NoError(t, err)

	_, err = cm.Subscribe("auction-a")
	assert.ErrorIs(t, err, sse.ErrManagerClosed)

	cm.Start()
	cm.Done()
	cm.Done() // Should be no-op

	assert.ErrorIs(t, cm.Publish("auction-a", Message{}), sse.ErrManagerClosed)
	_, err = cm.Subscribe("auction-a")
	assert.ErrorIs(t, err, sse.ErrManagerClosed)
}

func TestConnectionManager_ChannelFactory(t *testing.T) {
	defer goleak.VerifyNone(t)

	var created []string
	cm, err := sse.NewConnectionManager(
		sse.WithBufferSize[Message](4),
		sse.WithChannelFactory(func(bufferSize int) sse.IChannel[Message] {
			created = append(created, fmt.Sprintf("buffer=%d", bufferSize))
			return sse.NewChannel[Message](bufferSize)
		}),
	)
	require.NoError(t, err)
	cm.Start()
	defer cm.Done()

	first, err := cm.Subscribe("auction-a")
	require.NoError(t, err)
	_, err = cm.Subscribe("auction-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"buffer=4"}, created)
	assert.Equal(t, 2, cm.Subscribers("auction-a"))

	// 每個新頻道都經由 factory 建立
	cm.Unsubscribe("auction-a", first)
	assert.Equal(t, 1, cm.Subscribers("auction-a"))
	_, err = cm.Subscribe("auction-b")
	require.NoError(t, err)
	assert.Len(t, created, 2)
}
