package auction

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseItemsText(t *testing.T) {
	items, err := ParseItemsText("Steel pipe, 10, m\n\n  Bolts  \nNuts,,box\n")
	require.NoError(t, err)
	assert.Equal(t, []ItemDraft{
		{Description: "Steel pipe", Quantity: 10, UnitOfMeasure: "m"},
		{Description: "Bolts", Quantity: 1, UnitOfMeasure: DefaultUnitOfMeasure},
		{Description: "Nuts", Quantity: 1, UnitOfMeasure: "box"},
	}, items)

	_, err = ParseItemsText("Bolts,ten")
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = ParseItemsText("Bolts,-1")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	items, err = ParseItemsText("  \n")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestAuctionDraftNormalize(t *testing.T) {
	valid := func() AuctionDraft {
		return AuctionDraft{
			BuyerID:         " buyer-1 ",
			Title:           " Steel ",
			StartPrice:      decimal.NewFromInt(1000),
			DecrementStep:   decimal.NewFromInt(50),
			DurationMinutes: 30,
			Items:           []ItemDraft{{Description: " Pipe "}},
		}
	}

	got, err := valid().Normalize()
	require.NoError(t, err)
	assert.Equal(t, "buyer-1", got.BuyerID)
	assert.Equal(t, "Steel", got.Title)
	assert.Equal(t, ItemDraft{Description: "Pipe", Quantity: 1, UnitOfMeasure: DefaultUnitOfMeasure}, got.Items[0])

	tests := []struct {
		name   string
		mutate func(*AuctionDraft)
	}{
		{"missing buyer", func(d *AuctionDraft) { d.BuyerID = "" }},
		{"missing title", func(d *AuctionDraft) { d.Title = "  " }},
		{"long title", func(d *AuctionDraft) { d.Title = strings.Repeat("標", maxTitleLength+1) }},
		{"zero start price", func(d *AuctionDraft) { d.StartPrice = decimal.Zero }},
		{"negative step", func(d *AuctionDraft) { d.DecrementStep = decimal.NewFromInt(-1) }},
		{"step equal to start price", func(d *AuctionDraft) { d.DecrementStep = decimal.NewFromInt(1000) }},
		{"zero duration", func(d *AuctionDraft) { d.DurationMinutes = 0 }},
		{"no items", func(d *AuctionDraft) { d.Items = nil }},
		{"empty description", func(d *AuctionDraft) { d.Items = []ItemDraft{{Description: " "}} }},
		{"start price beyond scale", func(d *AuctionDraft) { d.StartPrice = decimal.RequireFromString("1000.00001") }},
		{"step beyond scale", func(d *AuctionDraft) { d.DecrementStep = decimal.RequireFromString("0.00005") }},
		{"negative quantity", func(d *AuctionDraft) { d.Items = []ItemDraft{{Description: "x", Quantity: -2}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(&d)
			_, err := d.Normalize()
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestParseStatus(t *testing.T) {
	status, err := ParseStatus("live")
	require.NoError(t, err)
	assert.Equal(t, StatusLive, status)

	_, err = ParseStatus("paused")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.True(t, StatusScheduled.CanTransitionTo(StatusLive))
	assert.True(t, StatusLive.CanTransitionTo(StatusClosed))
	assert.False(t, StatusClosed.CanTransitionTo(StatusLive))
	assert.False(t, StatusScheduled.CanTransitionTo(StatusClosed))
}
