package redis

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"rauction/auction"
)

func readArgs(lastID string) *redis.XReadArgs {
	return &redis.XReadArgs{
		Streams: []string{"auction-events", lastID},
		Count:   16,
		Block:   time.Second,
	}
}

func TestNewConsumer(t *testing.T) {
	client, _, cleanup := setupTest(t)
	defer cleanup()

	tests := []struct {
		name    string
		client  *redis.Client
		stream  string
		opts    []ConsumerOption[auction.UpdateEvent]
		wantErr string
	}{
		{
			name:   "valid configuration",
			client: client,
			stream: "auction-events",
		},
		{
			name:    "nil client",
			stream:  "auction-events",
			wantErr: "redis client cannot be nil",
		},
		{
			name:    "empty stream",
			client:  client,
			wantErr: "stream cannot be empty",
		},
		{
			name:   "with all options",
			client: client,
			stream: "auction-events",
			opts: []ConsumerOption[auction.UpdateEvent]{
				WithConsumerLogger[auction.UpdateEvent](slog.Default()),
				WithConsumerBufferSize[auction.UpdateEvent](200),
				WithConsumerBatchSize[auction.UpdateEvent](4),
				WithConsumerBlockTimeout[auction.UpdateEvent](2 * time.Second),
				WithConsumerRetryDelay[auction.UpdateEvent](time.Second),
				WithConsumerStartID[auction.UpdateEvent]("0"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)

			consumer, err := NewConsumer(tt.client, tt.stream, tt.opts...)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				assert.Nil(t, consumer)
				return
			}
			require.NoError(t, err)
			consumer.Close()
		})
	}
}

func TestConsumer_StartStop(t *testing.T) {
	defer goleak.VerifyNone(t)
	client, mock, cleanup := setupTest(t)
	defer cleanup()

	mock.ExpectXRevRangeN("auction-events", "+", "-", 1).SetVal([]redis.XMessage{})
	mock.ExpectXRead(readArgs("0-0")).SetErr(redis.Nil)

	consumer, err := NewConsumer[auction.UpdateEvent](client, "auction-events")
	require.NoError(t, err)

	consumer.Start()
	consumer.Start() // Should be no-op
	time.Sleep(100 * time.Millisecond)
	consumer.Close()
	consumer.Close() // Should be no-op

	_, ok := <-consumer.Subscribe()
	assert.False(t, ok, "downstream should be closed")
}

func TestConsumer_MessageConsumption(t *testing.T) {
	t.Run("delivers messages in order and advances last id", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		events := []auction.UpdateEvent{floorEvent("950"), floorEvent("900"), floorEvent("850")}
		values := make([]map[string]any, len(events))
		for i, event := range events {
			v, err := DefaultParseToMessage(event)
			require.NoError(t, err)
			values[i] = v
		}

		mock.ExpectXRevRangeN("auction-events", "+", "-", 1).SetVal([]redis.XMessage{})
		mock.ExpectXRead(readArgs("0-0")).SetVal([]redis.XStream{{
			Stream: "auction-events",
			Messages: []redis.XMessage{
				{ID: "1-0", Values: values[0]},
				{ID: "2-0", Values: values[1]},
			},
		}})
		mock.ExpectXRead(readArgs("2-0")).SetVal([]redis.XStream{{
			Stream:   "auction-events",
			Messages: []redis.XMessage{{ID: "3-0", Values: values[2]}},
		}})

		consumer, err := NewConsumer[auction.UpdateEvent](client, "auction-events")
		require.NoError(t, err)
		consumer.Start()
		defer consumer.Close()

		for _, want := range events {
			select {
			case got := <-consumer.Subscribe():
				assert.True(t, want.NewFloor.Equal(*got.NewFloor))
			case <-time.After(2 * time.Second):
				t.Fatal("timeout waiting for message")
			}
		}
	})

	t.Run("skips messages that fail to parse", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		good, err := DefaultParseToMessage(floorEvent("700"))
		require.NoError(t, err)
		mock.ExpectXRevRangeN("auction-events", "+", "-", 1).SetVal([]redis.XMessage{})
		mock.ExpectXRead(readArgs("0-0")).SetVal([]redis.XStream{{
			Stream: "auction-events",
			Messages: []redis.XMessage{
				{ID: "1-0", Values: map[string]any{"data": true}},
				{ID: "2-0", Values: good},
			},
		}})

		consumer, err := NewConsumer[auction.UpdateEvent](client, "auction-events")
		require.NoError(t, err)
		consumer.Start()
		defer consumer.Close()

		select {
		case got := <-consumer.Subscribe():
			assert.Equal(t, "700", got.NewFloor.String())
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("custom parse error", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		mock.ExpectXRevRangeN("auction-events", "+", "-", 1).SetVal([]redis.XMessage{})
		mock.ExpectXRead(readArgs("0-0")).SetVal([]redis.XStream{{
			Stream:   "auction-events",
			Messages: []redis.XMessage{{ID: "1-0", Values: map[string]any{"data": "x"}}},
		}})

		consumer, err := NewConsumer(
			client,
			"auction-events",
			WithConsumerParseFunc(func(map[string]any) (auction.UpdateEvent, error) {
				return auction.UpdateEvent{}, errors.New("failed to parse message")
			}),
		)
		require.NoError(t, err)
		consumer.Start()
		defer consumer.Close()

		select {
		case <-consumer.Subscribe():
			t.Fatal("should not receive invalid message")
		case <-time.After(300 * time.Millisecond):
		}
	})

	t.Run("redis error is retried", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		good, err := DefaultParseToMessage(floorEvent("600"))
		require.NoError(t, err)
		mock.ExpectXRevRangeN("auction-events", "+", "-", 1).SetVal([]redis.XMessage{})
		mock.ExpectXRead(readArgs("0-0")).SetErr(redis.ErrClosed)
		mock.ExpectXRead(readArgs("0-0")).SetVal([]redis.XStream{{
			Stream:   "auction-events",
			Messages: []redis.XMessage{{ID: "1-0", Values: good}},
		}})

		consumer, err := NewConsumer(client, "auction-events",
			WithConsumerRetryDelay[auction.UpdateEvent](10*time.Millisecond))
		require.NoError(t, err)
		consumer.Start()
		defer consumer.Close()

		select {
		case got := <-consumer.Subscribe():
			assert.Equal(t, "600", got.NewFloor.String())
		case <-time.After(2 * time.Second):
			t.Fatal("timeout waiting for message")
		}
	})
}

func TestConsumer_ResolvesStartID(t *testing.T) {
	defer goleak.VerifyNone(t)
	client, mock, cleanup := setupTest(t)
	defer cleanup()

	good, err := DefaultParseToMessage(floorEvent("500"))
	require.NoError(t, err)
	// stream 中已有舊消息時，從最後一則之後開始讀取，且逾時後不會跳過新消息
	mock.ExpectXRevRangeN("auction-events", "+", "-", 1).SetVal([]redis.XMessage{{ID: "5-0"}})
	mock.ExpectXRead(readArgs("5-0")).SetErr(redis.Nil)
	mock.ExpectXRead(readArgs("5-0")).SetVal([]redis.XStream{{
		Stream:   "auction-events",
		Messages: []redis.XMessage{{ID: "6-0", Values: good}},
	}})

	consumer, err := NewConsumer[auction.UpdateEvent](client, "auction-events")
	require.NoError(t, err)
	consumer.Start()
	defer consumer.Close()

	select {
	case got := <-consumer.Subscribe():
		assert.Equal(t, "500", got.NewFloor.String())
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}
