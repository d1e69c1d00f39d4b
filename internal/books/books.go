// Package books is the market-data cache: one top-of-book record per
// (exchange, external symbol), with subscription deduplication so a given
// exchange subscription is issued at most once across strategies.
package books

import (
	"github.com/yanun0323/errors"

	"github.com/kylebaus/Baus/internal/core"
	"github.com/kylebaus/Baus/internal/event"
	"github.com/kylebaus/Baus/pkg/exception"
)

type bookKey struct {
	exchange core.Exchange
	symbol   string
}

// Cache holds orderbooks keyed by (exchange, external symbol). It is
// private to the dispatcher loop.
type Cache struct {
	books map[bookKey]*core.Orderbook
}

func NewCache() *Cache {
	return &Cache{books: make(map[bookKey]*core.Orderbook)}
}

// Subscribe maps an orderbook for the instrument. It reports true when the
// key was already mapped, meaning no new exchange subscription is needed.
func (c *Cache) Subscribe(instrument *core.Instrument) (alreadyMapped bool) {
	key := bookKey{instrument.Exchange, instrument.ExternalSymbol}
	if _, ok := c.books[key]; ok {
		return true
	}
	c.books[key] = core.NewOrderbook(instrument)
	return false
}

// Orderbook returns the cached book for the instrument.
func (c *Cache) Orderbook(instrument *core.Instrument) (*core.Orderbook, error) {
	key := bookKey{instrument.Exchange, instrument.ExternalSymbol}
	book, ok := c.books[key]
	if !ok {
		return nil, errors.Wrapf(exception.ErrUnknownOrderbook, "key: %s %s", instrument.Exchange, instrument.ExternalSymbol)
	}
	return book, nil
}

// Apply replaces the stored snapshot for the event's instrument.
// Last writer wins; arrival order is the only ordering.
func (c *Cache) Apply(e event.TopOfBook) {
	key := bookKey{e.Instrument.Exchange, e.Instrument.ExternalSymbol}
	book, ok := c.books[key]
	if !ok {
		return
	}
	book.Apply(e.UpdateAt, e.BestBid, e.BestAsk)
}
