package strategy

import (
	"math"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/kylebaus/Baus/internal/core"
	"github.com/kylebaus/Baus/internal/event"
	"github.com/kylebaus/Baus/pkg/exception"
)

// PersistentState is the lifecycle position of a persistent order.
type PersistentState uint8

const (
	_persistent_state_beg PersistentState = iota
	PersistentInactive
	PersistentPendingPlace
	PersistentActive
	PersistentPendingCancel
	_persistent_state_end
)

func (s PersistentState) IsAvailable() bool {
	return s > _persistent_state_beg && s < _persistent_state_end
}

// PersistentOrder is a reusable single-order slot: one live exchange order
// at a time for a fixed (account, instrument, side). Strategies requote by
// cancelling and placing again on the same slot; each placement gets a
// fresh internal id, never a reused one.
type PersistentOrder struct {
	account    core.Account
	instrument *core.Instrument
	side       core.Side
	orderType  core.OrderType

	state     PersistentState
	orderID   int64
	history   []int64
	price     float64
	quantity  float64
	remaining float64
}

func NewPersistentOrder(account core.Account, instrument *core.Instrument, side core.Side, orderType core.OrderType) *PersistentOrder {
	return &PersistentOrder{
		account:    account,
		instrument: instrument,
		side:       side,
		orderType:  orderType,
		state:      PersistentInactive,
	}
}

func (p *PersistentOrder) State() PersistentState { return p.state }
func (p *PersistentOrder) Side() core.Side        { return p.side }

// IsActive reports whether the slot holds an exchange-acknowledged order.
func (p *PersistentOrder) IsActive() bool { return p.state == PersistentActive }

// Idle reports whether the slot can accept a new placement.
func (p *PersistentOrder) Idle() bool { return p.state == PersistentInactive }

// OrderID returns the internal id of the current placement. Zero when the
// slot never placed.
func (p *PersistentOrder) OrderID() int64 { return p.orderID }

// History returns every internal id this slot has used, oldest first.
func (p *PersistentOrder) History() []int64 { return p.history }

// Price and Remaining describe the last acknowledged placement.
func (p *PersistentOrder) Price() float64     { return p.price }
func (p *PersistentOrder) Remaining() float64 { return p.remaining }

// Update drives the slot toward the desired (active, price, quantity)
// state. Call once per strategy tick: an idle slot places when active is
// wanted, a working order that drifted from the desired price or quantity
// beyond the instrument precision is cancelled and re-placed on a later
// tick, and a pending transition is left to settle untouched.
func (p *PersistentOrder) Update(ctx *Context, active bool, price, quantity float64) error {
	switch p.state {
	case PersistentPendingPlace, PersistentPendingCancel:
		return nil
	case PersistentActive:
		if !active || p.drifted(price, quantity) {
			return p.Cancel(ctx)
		}
		return nil
	case PersistentInactive:
		if active {
			return p.Place(ctx, price, quantity)
		}
		return nil
	default:
		return errors.Wrapf(exception.ErrInternal, "persistent order in state %d", p.state)
	}
}

// drifted compares the working order against the desired one, with the
// instrument's tick and step as tolerances.
func (p *PersistentOrder) drifted(price, quantity float64) bool {
	return math.Abs(p.price-price) > p.instrument.PriceTick ||
		math.Abs(p.remaining-quantity) > p.instrument.QuantityStep
}

// Place submits a new order on an idle slot.
func (p *PersistentOrder) Place(ctx *Context, price, quantity float64) error {
	if p.state != PersistentInactive {
		return errors.Wrapf(exception.ErrUnsupportedAction, "place in state %d", p.state)
	}

	p.state = PersistentPendingPlace
	p.price = price
	p.quantity = quantity
	p.remaining = quantity
	p.orderID = ctx.Place(core.Order{
		Instrument: p.instrument,
		Account:    p.account,
		Side:       p.side,
		Price:      price,
		Quantity:   quantity,
		Type:       p.orderType,
	})
	p.history = append(p.history, p.orderID)
	return nil
}

// Cancel requests a cancel of the live order.
func (p *PersistentOrder) Cancel(ctx *Context) error {
	if p.state != PersistentActive {
		return errors.Wrapf(exception.ErrUnsupportedAction, "cancel in state %d", p.state)
	}
	p.state = PersistentPendingCancel
	ctx.Cancel(p.orderID)
	return nil
}

// Apply feeds one event into the state machine. It reports whether the
// event referenced this slot's current order; events for other orders are
// untouched.
func (p *PersistentOrder) Apply(e event.Event) bool {
	orderEvent, ok := e.(event.OrderEvent)
	if !ok || p.orderID == 0 || orderEvent.OrderRef() != p.orderID {
		return false
	}

	switch e := e.(type) {
	case event.PlaceAck:
		p.state = PersistentActive
		p.price = e.Price
		p.quantity = e.Quantity
		p.remaining = e.Quantity
	case event.PlaceReject:
		logs.Infof("persistent order %d: place rejected: %s", p.orderID, e.Reason)
		p.state = PersistentInactive
	case event.CancelAck:
		p.state = PersistentInactive
	case event.CancelReject:
		// the order is still working; drop back so the caller may retry
		logs.Infof("persistent order %d: cancel rejected: %s", p.orderID, e.Reason)
		if p.state == PersistentPendingCancel {
			p.state = PersistentActive
		}
	case event.ModifyAck:
		p.price = e.Price
		p.quantity = e.Quantity
		p.remaining = e.Quantity
	case event.Fill:
		p.remaining -= e.Quantity
		// float accumulation: anything under half a quantity step is full
		if p.remaining < p.instrument.QuantityStep/2 {
			p.remaining = 0
			p.state = PersistentInactive
		}
	}
	return true
}
