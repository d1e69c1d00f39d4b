// Package strategy hosts the trading-strategy runtime: a single loop that
// drains gateway events through the dispatcher and steps every registered
// strategy, plus the persistent-order helper strategies build quoting on.
package strategy

import (
	"github.com/kylebaus/Baus/internal/core"
	"github.com/kylebaus/Baus/internal/dispatcher"
	"github.com/kylebaus/Baus/internal/event"
)

// Strategy is one trading strategy. All methods run on the runtime loop
// goroutine: OnEvent once per routed event, Update once per loop pass
// after the events are applied.
type Strategy interface {
	Name() string
	OnStart(ctx *Context)
	OnEvent(ctx *Context, e event.Event)
	Update(ctx *Context)
}

// Context binds a strategy id to the dispatcher. Strategies hold their
// context for the lifetime of the process and never talk to the
// dispatcher directly.
type Context struct {
	strategyID int
	dispatcher *dispatcher.Dispatcher
	events     <-chan event.Event
}

func (c *Context) StrategyID() int { return c.strategyID }

// Place submits an order and returns its internal id immediately. The
// outcome arrives later through OnEvent.
func (c *Context) Place(order core.Order) int64 {
	return c.dispatcher.Place(c.strategyID, order)
}

// Cancel requests a cancel for a live internal order id.
func (c *Context) Cancel(orderID int64) {
	c.dispatcher.Cancel(orderID)
}

// Modify requests an in-place modification for a live internal order id.
func (c *Context) Modify(orderID int64, order core.Order) {
	c.dispatcher.Modify(orderID, order)
}

// SubscribeOrderbook opens the instrument's cached top-of-book.
func (c *Context) SubscribeOrderbook(account core.Account, instrument *core.Instrument) {
	c.dispatcher.SubscribeOrderbook(account, instrument)
}

// SubscribeTrades routes the instrument's trade prints to this strategy.
func (c *Context) SubscribeTrades(account core.Account, instrument *core.Instrument) {
	c.dispatcher.SubscribeTrades(c.strategyID, account, instrument)
}

// SubscribeFills opens the account's private fill stream.
func (c *Context) SubscribeFills(account core.Account) {
	c.dispatcher.SubscribeFills(account)
}

// Orderbook returns the cached book for the instrument.
func (c *Context) Orderbook(instrument *core.Instrument) (*core.Orderbook, error) {
	return c.dispatcher.Orderbook(instrument)
}

// IsActive reports whether the account's gateway transport is up.
func (c *Context) IsActive(account core.Account) bool {
	return c.dispatcher.IsActive(account)
}
