// Package event defines the normalized event taxonomy emitted by exchange
// gateways. Exchange payloads are decoded exactly once at the gateway
// boundary into this closed set; raw transport errors never cross it.
package event

import (
	"time"

	"github.com/kylebaus/Baus/internal/core"
)

// Kind tags the concrete event type.
type Kind uint8

const (
	_kind_beg Kind = iota
	KindPlaceAck
	KindCancelAck
	KindModifyAck
	KindPlaceReject
	KindCancelReject
	KindFill
	KindTrade
	KindTopOfBook
	KindDisconnect
	_kind_end
)

func (k Kind) IsAvailable() bool {
	return k > _kind_beg && k < _kind_end
}

// Event is the unit routed between gateways, the dispatcher and strategies.
type Event interface {
	Kind() Kind
}

// OrderEvent is implemented by events that reference an internal order id
// and are routed back to the owning strategy.
type OrderEvent interface {
	Event
	OrderRef() int64
}

// PlaceAck confirms an order was accepted with exchange-confirmed
// price and quantity.
type PlaceAck struct {
	OrderID    int64
	Account    core.Account
	Instrument *core.Instrument
	Side       core.Side
	Price      float64
	Quantity   float64
}

func (PlaceAck) Kind() Kind        { return KindPlaceAck }
func (e PlaceAck) OrderRef() int64 { return e.OrderID }

// CancelAck confirms an order is no longer working.
type CancelAck struct {
	OrderID int64
}

func (CancelAck) Kind() Kind        { return KindCancelAck }
func (e CancelAck) OrderRef() int64 { return e.OrderID }

// ModifyAck confirms an in-place modification.
type ModifyAck struct {
	OrderID  int64
	Price    float64
	Quantity float64
}

func (ModifyAck) Kind() Kind        { return KindModifyAck }
func (e ModifyAck) OrderRef() int64 { return e.OrderID }

// PlaceReject reports an order that was not accepted. Reason covers both
// remote exchange rejections and local ones (rate-limit cooldown,
// inactive transport).
type PlaceReject struct {
	OrderID int64
	Reason  string
}

func (PlaceReject) Kind() Kind        { return KindPlaceReject }
func (e PlaceReject) OrderRef() int64 { return e.OrderID }

// CancelReject reports a cancel that was not accepted.
type CancelReject struct {
	OrderID int64
	Reason  string
}

func (CancelReject) Kind() Kind        { return KindCancelReject }
func (e CancelReject) OrderRef() int64 { return e.OrderID }

// Fill reports an execution. OrderID may be zero inside a gateway while the
// place acknowledgement is still in flight; such fills are cached by the
// gateway and re-delivered tagged once the mapping exists, so strategies
// never observe a zero owner.
type Fill struct {
	Timestamp   time.Time
	FillID      string
	OrderID     int64
	Account     core.Account
	Instrument  *core.Instrument
	Side        core.Side
	Price       float64
	Quantity    float64
	Fee         float64
	FeeCurrency string
}

func (Fill) Kind() Kind        { return KindFill }
func (e Fill) OrderRef() int64 { return e.OrderID }

// Trade is a public trade print.
type Trade struct {
	Instrument *core.Instrument
	Side       core.Side
	Price      float64
	Quantity   float64
}

func (Trade) Kind() Kind { return KindTrade }

// TopOfBook carries a best bid/ask snapshot.
type TopOfBook struct {
	Instrument *core.Instrument
	UpdateAt   time.Time
	BestBid    core.OrderbookLevel
	BestAsk    core.OrderbookLevel
}

func (TopOfBook) Kind() Kind { return KindTopOfBook }

// Disconnect reports a lost gateway transport. Broadcast to every strategy
// since any of them may depend on the account.
type Disconnect struct {
	Account core.Account
}

func (Disconnect) Kind() Kind { return KindDisconnect }

// IsOrderEvent reports whether e routes to the owning strategy.
func IsOrderEvent(e Event) bool {
	_, ok := e.(OrderEvent)
	return ok
}

// IsMarketData reports whether e is a market-data update.
func IsMarketData(e Event) bool {
	switch e.Kind() {
	case KindTrade, KindTopOfBook:
		return true
	default:
		return false
	}
}
