package books

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylebaus/Baus/internal/core"
	"github.com/kylebaus/Baus/internal/event"
)

func testInstrument(symbol string) *core.Instrument {
	return &core.Instrument{
		Exchange:       core.ExchangeDeribit,
		InternalSymbol: symbol,
		ExternalSymbol: symbol,
		PriceTick:      0.5,
		QuantityStep:   1,
		Kind:           core.InstrumentInversePerpetual,
	}
}

func TestSubscribeDeduplicates(t *testing.T) {
	cache := NewCache()
	inst := testInstrument("BTC-PERPETUAL")

	assert.False(t, cache.Subscribe(inst), "first subscription must report not mapped")
	assert.True(t, cache.Subscribe(inst), "second subscription must report already mapped")

	other := testInstrument("ETH-PERPETUAL")
	assert.False(t, cache.Subscribe(other))
}

func TestApplyLastWriterWins(t *testing.T) {
	cache := NewCache()
	inst := testInstrument("BTC-PERPETUAL")
	cache.Subscribe(inst)

	first := time.Now()
	cache.Apply(event.TopOfBook{
		Instrument: inst,
		UpdateAt:   first,
		BestBid:    core.OrderbookLevel{Instrument: inst, Side: core.SideBuy, Price: 100, Quantity: 5},
		BestAsk:    core.OrderbookLevel{Instrument: inst, Side: core.SideSell, Price: 101, Quantity: 7},
	})
	cache.Apply(event.TopOfBook{
		Instrument: inst,
		UpdateAt:   first.Add(time.Millisecond),
		BestBid:    core.OrderbookLevel{Instrument: inst, Side: core.SideBuy, Price: 99, Quantity: 2},
		BestAsk:    core.OrderbookLevel{Instrument: inst, Side: core.SideSell, Price: 100.5, Quantity: 3},
	})

	book, err := cache.Orderbook(inst)
	require.NoError(t, err)
	assert.Equal(t, 99.0, book.BestBid().Price)
	assert.Equal(t, 100.5, book.BestAsk().Price)
	assert.Equal(t, first.Add(time.Millisecond), book.LastUpdateAt())
}

func TestOrderbookUnknownKey(t *testing.T) {
	cache := NewCache()
	_, err := cache.Orderbook(testInstrument("SOL-PERPETUAL"))
	require.Error(t, err)
}
