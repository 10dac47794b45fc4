package redis

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"rauction/auction"
)

func TestDefaultParseMessage_UpdateEvent(t *testing.T) {
	t.Run("floor event", func(t *testing.T) {
		input := floorEvent("880.50")

		message, err := DefaultParseToMessage(input)
		require.NoError(t, err)
		require.Contains(t, message, "data")

		output, err := DefaultParseFromMessage[auction.UpdateEvent](message)
		require.NoError(t, err)
		assert.Equal(t, input.Kind, output.Kind)
		assert.Equal(t, input.AuctionID, output.AuctionID)
		require.NotNil(t, output.ItemID)
		assert.Equal(t, *input.ItemID, *output.ItemID)
		require.NotNil(t, output.NewFloor)
		assert.True(t, input.NewFloor.Equal(*output.NewFloor), "floor mismatch: %s", output.NewFloor)
		assert.True(t, input.Timestamp.Equal(output.Timestamp))
	})

	t.Run("status event", func(t *testing.T) {
		input := auction.UpdateEvent{
			Kind:      auction.EventKindStatus,
			AuctionID: uuid.New(),
			Status:    auction.StatusClosed,
			Timestamp: time.Now().UTC(),
		}

		message, err := DefaultParseToMessage(input)
		require.NoError(t, err)
		output, err := DefaultParseFromMessage[auction.UpdateEvent](message)
		require.NoError(t, err)
		assert.Equal(t, auction.StatusClosed, output.Status)
		assert.Nil(t, output.ItemID)
		assert.Nil(t, output.NewFloor)
	})

	t.Run("payload as bytes", func(t *testing.T) {
		input := floorEvent("900")
		raw, err := msgpack.Marshal(input)
		require.NoError(t, err)

		output, err := DefaultParseFromMessage[auction.UpdateEvent](map[string]any{
			"data": []byte(base64.StdEncoding.EncodeToString(raw)),
		})
		require.NoError(t, err)
		assert.Equal(t, "900", output.NewFloor.String())
	})
}

func TestDefaultParseMessage_Errors(t *testing.T) {
	t.Run("pointer input", func(t *testing.T) {
		event := floorEvent("1")
		_, err := DefaultParseToMessage(&event)
		assert.ErrorIs(t, err, ErrPointerType)
	})

	t.Run("pointer output", func(t *testing.T) {
		_, err := DefaultParseFromMessage[*auction.UpdateEvent](map[string]any{"data": ""})
		assert.ErrorIs(t, err, ErrPointerType)
	})

	t.Run("empty message", func(t *testing.T) {
		output, err := DefaultParseFromMessage[auction.UpdateEvent](map[string]any{})
		assert.NoError(t, err)
		assert.Equal(t, auction.UpdateEvent{}, output)
	})

	t.Run("missing payload", func(t *testing.T) {
		_, err := DefaultParseFromMessage[auction.UpdateEvent](map[string]any{"other": 1})
		assert.ErrorIs(t, err, ErrMissingPayload)
	})

	t.Run("invalid base64", func(t *testing.T) {
		_, err := DefaultParseFromMessage[auction.UpdateEvent](map[string]any{"data": "%%%"})
		assert.ErrorContains(t, err, "base64 decode error")
	})

	t.Run("invalid msgpack", func(t *testing.T) {
		_, err := DefaultParseFromMessage[auction.UpdateEvent](map[string]any{
			"data": base64.StdEncoding.EncodeToString([]byte{0xc1}),
		})
		assert.ErrorContains(t, err, "msgpack unmarshal error")
	})
}
