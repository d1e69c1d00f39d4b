package core

import "time"

// OrderbookLevel is one side of a top-of-book quote.
type OrderbookLevel struct {
	Instrument *Instrument
	Side       Side
	Price      float64
	Quantity   float64
}

// Orderbook holds the best bid/ask snapshot for one instrument. It is
// mutated only by top-of-book events applied from the dispatcher loop.
type Orderbook struct {
	instrument   *Instrument
	lastUpdateAt time.Time
	bestBid      OrderbookLevel
	bestAsk      OrderbookLevel
}

func NewOrderbook(instrument *Instrument) *Orderbook {
	return &Orderbook{instrument: instrument}
}

func (b *Orderbook) Instrument() *Instrument { return b.instrument }

func (b *Orderbook) LastUpdateAt() time.Time { return b.lastUpdateAt }

func (b *Orderbook) BestBid() OrderbookLevel { return b.bestBid }

func (b *Orderbook) BestAsk() OrderbookLevel { return b.bestAsk }

// Apply replaces the stored snapshot unconditionally. Exchange feeds are
// single-stream ordered, so last writer wins.
func (b *Orderbook) Apply(updateAt time.Time, bestBid, bestAsk OrderbookLevel) {
	b.lastUpdateAt = updateAt
	b.bestBid = bestBid
	b.bestAsk = bestAsk
}
