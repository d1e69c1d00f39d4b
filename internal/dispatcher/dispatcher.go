// Package dispatcher is the strategy-facing front of the platform. It owns
// the order ledger and the market-data cache, routes requests to the
// connection registry, and drains gateway events back to the owning
// strategies. Every method runs on the single runtime loop goroutine, so
// none of the owned state needs locking.
package dispatcher

import (
	"github.com/yanun0323/logs"

	"github.com/kylebaus/Baus/internal/books"
	"github.com/kylebaus/Baus/internal/core"
	"github.com/kylebaus/Baus/internal/event"
	"github.com/kylebaus/Baus/internal/gateway"
	"github.com/kylebaus/Baus/internal/obs"
	"github.com/kylebaus/Baus/internal/oms"
	"github.com/kylebaus/Baus/internal/risk"
)

const defaultStrategyQueueCapacity = 1024

// Gateways is the connection-registry surface the dispatcher routes
// through.
type Gateways interface {
	IsActive(account core.Account) bool
	Place(account core.Account, orderID int64, order core.Order) error
	Cancel(account core.Account, orderID int64) error
	Modify(account core.Account, orderID int64, order core.Order) error
	SubscribeOrderbook(account core.Account, instrument *core.Instrument) error
	SubscribeTrades(account core.Account, instrument *core.Instrument) error
	SubscribeFills(account core.Account) error
	DrainEvents(cb gateway.Callbacks)
}

type tradeKey struct {
	exchange core.Exchange
	symbol   string
}

// Dispatcher routes strategy requests out and gateway events back.
type Dispatcher struct {
	ledger   *oms.Ledger
	books    *books.Cache
	gateways Gateways

	strategies map[int]chan event.Event
	tradeSubs  map[tradeKey][]int

	// OnFill, when set, observes every fill after it is routed. Used for
	// the fill journal.
	OnFill func(event.Fill)
	// Metrics, when set, counts routed events and drops.
	Metrics *obs.Metrics
	// Risk, when set, gates every place against pre-trade limits.
	Risk *risk.Engine
}

func New(ledger *oms.Ledger, cache *books.Cache, gateways Gateways) *Dispatcher {
	return &Dispatcher{
		ledger:     ledger,
		books:      cache,
		gateways:   gateways,
		strategies: make(map[int]chan event.Event),
		tradeSubs:  make(map[tradeKey][]int),
	}
}

// RegisterStrategy allocates the strategy's buffered event channel.
// Re-registering an id replaces the old channel.
func (d *Dispatcher) RegisterStrategy(strategyID int) <-chan event.Event {
	ch := make(chan event.Event, defaultStrategyQueueCapacity)
	d.strategies[strategyID] = ch
	return ch
}

// IsActive reports whether the account's gateway transport is up.
func (d *Dispatcher) IsActive(account core.Account) bool {
	return d.gateways.IsActive(account)
}

// Place records the order in the ledger and forwards it to the owning
// gateway. The returned internal id is live immediately; the outcome
// arrives later as a PlaceAck or PlaceReject.
func (d *Dispatcher) Place(strategyID int, order core.Order) int64 {
	orderID := d.ledger.Place(strategyID, order)
	if d.Risk != nil {
		if err := d.Risk.Check(order, d.referencePrice(order.Instrument)); err != nil {
			logs.Errorf("dispatcher: place %d: %+v", orderID, err)
			d.push(strategyID, event.PlaceReject{OrderID: orderID, Reason: "RISK DENIED"})
			return orderID
		}
	}
	if err := d.gateways.Place(order.Account, orderID, order); err != nil {
		logs.Errorf("dispatcher: place %d: %+v", orderID, err)
		d.push(strategyID, event.PlaceReject{OrderID: orderID, Reason: "UNKNOWN GATEWAY"})
	}
	return orderID
}

// referencePrice returns the cached top-of-book mid, or 0 when no book is
// mapped or either side is empty.
func (d *Dispatcher) referencePrice(instrument *core.Instrument) float64 {
	book, err := d.books.Orderbook(instrument)
	if err != nil {
		return 0
	}
	bid, ask := book.BestBid().Price, book.BestAsk().Price
	if bid <= 0 || ask <= 0 {
		return 0
	}
	return (bid + ask) / 2
}

// Cancel forwards a cancel for a live internal order id.
func (d *Dispatcher) Cancel(orderID int64) {
	status, ok := d.ledger.Status(orderID)
	if !ok {
		logs.Errorf("dispatcher: cancel unknown order id %d", orderID)
		return
	}
	d.ledger.Cancel(status.Order.Account, orderID)
	if err := d.gateways.Cancel(status.Order.Account, orderID); err != nil {
		logs.Errorf("dispatcher: cancel %d: %+v", orderID, err)
		d.push(status.StrategyID, event.CancelReject{OrderID: orderID, Reason: "UNKNOWN GATEWAY"})
	}
}

// Modify forwards an in-place modification for a live internal order id.
func (d *Dispatcher) Modify(orderID int64, order core.Order) {
	status, ok := d.ledger.Status(orderID)
	if !ok {
		logs.Errorf("dispatcher: modify unknown order id %d", orderID)
		return
	}
	d.ledger.Modify(status.StrategyID, orderID, order)
	if err := d.gateways.Modify(status.Order.Account, orderID, order); err != nil {
		logs.Errorf("dispatcher: modify %d: %+v", orderID, err)
		d.push(status.StrategyID, event.CancelReject{OrderID: orderID, Reason: "UNKNOWN GATEWAY"})
	}
}

// SubscribeOrderbook maps a cached book for the instrument and issues the
// exchange subscription at most once per (exchange, symbol).
func (d *Dispatcher) SubscribeOrderbook(account core.Account, instrument *core.Instrument) {
	if d.books.Subscribe(instrument) {
		return
	}
	if err := d.gateways.SubscribeOrderbook(account, instrument); err != nil {
		logs.Errorf("dispatcher: subscribe orderbook %s: %+v", instrument.ExternalSymbol, err)
	}
}

// SubscribeTrades registers the strategy for trade prints and issues the
// exchange subscription at most once per (exchange, symbol).
func (d *Dispatcher) SubscribeTrades(strategyID int, account core.Account, instrument *core.Instrument) {
	key := tradeKey{instrument.Exchange, instrument.ExternalSymbol}
	subs := d.tradeSubs[key]
	for _, id := range subs {
		if id == strategyID {
			return
		}
	}
	d.tradeSubs[key] = append(subs, strategyID)
	if len(subs) > 0 {
		return
	}
	if err := d.gateways.SubscribeTrades(account, instrument); err != nil {
		logs.Errorf("dispatcher: subscribe trades %s: %+v", instrument.ExternalSymbol, err)
	}
}

// SubscribeFills opens the account's private fill stream.
func (d *Dispatcher) SubscribeFills(account core.Account) {
	if err := d.gateways.SubscribeFills(account); err != nil {
		logs.Errorf("dispatcher: subscribe fills %s: %+v", account, err)
	}
}

// Orderbook returns the cached book for the instrument.
func (d *Dispatcher) Orderbook(instrument *core.Instrument) (*core.Orderbook, error) {
	return d.books.Orderbook(instrument)
}

// Drain consumes every gateway event queued right now: order events route
// to the owning strategy, book updates refresh the cache, trade prints go
// to their subscribers and disconnects broadcast.
func (d *Dispatcher) Drain() {
	d.gateways.DrainEvents(gateway.Callbacks{
		OnOrderUpdate:      d.routeOrderEvent,
		OnMarketDataUpdate: d.routeMarketData,
		OnGatewayUpdate:    d.broadcast,
	})
}

func (d *Dispatcher) routeOrderEvent(e event.Event) {
	orderEvent, ok := e.(event.OrderEvent)
	if !ok {
		logs.Errorf("dispatcher: non-order event %d on order path", e.Kind())
		return
	}

	strategyID, err := d.ledger.StrategyID(orderEvent.OrderRef())
	if err != nil {
		// an event for an order this process never placed is a routing
		// defect, not a normal race
		logs.Errorf("dispatcher: route %d event: %+v", e.Kind(), err)
		return
	}
	d.push(strategyID, e)

	if fill, ok := e.(event.Fill); ok {
		if d.Risk != nil {
			d.Risk.ApplyFill(fill)
		}
		if d.OnFill != nil {
			d.OnFill(fill)
		}
	}
}

func (d *Dispatcher) routeMarketData(e event.Event) {
	switch md := e.(type) {
	case event.TopOfBook:
		d.books.Apply(md)
		d.Metrics.ObserveEvent(md.Kind())
	case event.Trade:
		key := tradeKey{md.Instrument.Exchange, md.Instrument.ExternalSymbol}
		for _, strategyID := range d.tradeSubs[key] {
			d.push(strategyID, e)
		}
	default:
		logs.Errorf("dispatcher: unhandled market data kind %d", e.Kind())
	}
}

// broadcast delivers gateway-level events to every strategy; any of them
// may depend on the affected account.
func (d *Dispatcher) broadcast(e event.Event) {
	for strategyID := range d.strategies {
		d.push(strategyID, e)
	}
}

func (d *Dispatcher) push(strategyID int, e event.Event) {
	ch, ok := d.strategies[strategyID]
	if !ok {
		logs.Errorf("dispatcher: push %d event to unknown strategy %d", e.Kind(), strategyID)
		return
	}
	select {
	case ch <- e:
		d.Metrics.ObserveEvent(e.Kind())
	default:
		d.Metrics.IncQueueDrop()
		logs.Errorf("dispatcher: strategy %d queue full, drop %d event", strategyID, e.Kind())
	}
}
