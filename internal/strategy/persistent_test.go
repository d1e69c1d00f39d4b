package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylebaus/Baus/internal/books"
	"github.com/kylebaus/Baus/internal/core"
	"github.com/kylebaus/Baus/internal/dispatcher"
	"github.com/kylebaus/Baus/internal/event"
	"github.com/kylebaus/Baus/internal/gateway"
	"github.com/kylebaus/Baus/internal/oms"
)

type fakeGateways struct {
	placed   []int64
	canceled []int64
	queued   []event.Event
}

func (f *fakeGateways) IsActive(core.Account) bool { return true }

func (f *fakeGateways) Place(_ core.Account, orderID int64, _ core.Order) error {
	f.placed = append(f.placed, orderID)
	return nil
}

func (f *fakeGateways) Cancel(_ core.Account, orderID int64) error {
	f.canceled = append(f.canceled, orderID)
	return nil
}
func (f *fakeGateways) Modify(core.Account, int64, core.Order) error { return nil }
func (f *fakeGateways) SubscribeOrderbook(core.Account, *core.Instrument) error {
	return nil
}
func (f *fakeGateways) SubscribeTrades(core.Account, *core.Instrument) error { return nil }
func (f *fakeGateways) SubscribeFills(core.Account) error                    { return nil }

func (f *fakeGateways) DrainEvents(cb gateway.Callbacks) {
	for _, e := range f.queued {
		switch {
		case event.IsOrderEvent(e):
			cb.OnOrderUpdate(e)
		case event.IsMarketData(e):
			cb.OnMarketDataUpdate(e)
		default:
			cb.OnGatewayUpdate(e)
		}
	}
	f.queued = nil
}

func testAccount() core.Account {
	return core.Account{Exchange: core.ExchangeDeribit, Name: "main"}
}

func testInstrument() *core.Instrument {
	return &core.Instrument{
		Exchange:       core.ExchangeDeribit,
		InternalSymbol: "BTC-PERP",
		ExternalSymbol: "BTC-PERPETUAL",
		PriceTick:      0.5,
		QuantityStep:   0.1,
	}
}

// recorder keeps hold of its context and the events it was stepped with.
type recorder struct {
	ctx    *Context
	events []event.Event
}

func (r *recorder) Name() string                      { return "recorder" }
func (r *recorder) OnStart(ctx *Context)              { r.ctx = ctx }
func (r *recorder) OnEvent(_ *Context, e event.Event) { r.events = append(r.events, e) }
func (r *recorder) Update(*Context)                   {}

func newTestRuntime(f *fakeGateways) (*Runtime, *recorder) {
	d := dispatcher.New(oms.NewLedger(), books.NewCache(), f)
	r := NewRuntime(d)
	rec := &recorder{}
	rec.ctx = r.Register(rec)
	return r, rec
}

func TestPersistentOrderLifecycle(t *testing.T) {
	f := &fakeGateways{}
	r, rec := newTestRuntime(f)

	slot := NewPersistentOrder(testAccount(), testInstrument(), core.SideBuy, core.OrderTypeLimit)
	assert.True(t, slot.Idle())
	assert.False(t, slot.IsActive())

	require.NoError(t, slot.Place(rec.ctx, 100, 1))
	assert.Equal(t, PersistentPendingPlace, slot.State())
	firstID := slot.OrderID()
	require.NotZero(t, firstID)

	// double placement on a busy slot is a caller bug
	assert.Error(t, slot.Place(rec.ctx, 100, 1))

	f.queued = []event.Event{event.PlaceAck{OrderID: firstID, Price: 100, Quantity: 1}}
	r.step()
	for _, e := range rec.events {
		slot.Apply(e)
	}
	assert.True(t, slot.IsActive())
	assert.Equal(t, 1.0, slot.Remaining())

	// a full fill frees the slot
	rec.events = nil
	f.queued = []event.Event{event.Fill{OrderID: firstID, FillID: "T-1", Price: 100, Quantity: 1}}
	r.step()
	for _, e := range rec.events {
		slot.Apply(e)
	}
	assert.True(t, slot.Idle())
	assert.Zero(t, slot.Remaining())

	// the next placement gets a fresh internal id
	require.NoError(t, slot.Place(rec.ctx, 101, 1))
	assert.NotEqual(t, firstID, slot.OrderID())
	assert.Equal(t, []int64{firstID, slot.OrderID()}, slot.History())
}

func TestPersistentOrderPartialFillsAccumulate(t *testing.T) {
	slot := NewPersistentOrder(testAccount(), testInstrument(), core.SideSell, core.OrderTypeLimit)
	slot.state = PersistentActive
	slot.orderID = 5
	slot.remaining = 1

	slot.Apply(event.Fill{OrderID: 5, Quantity: 0.4})
	assert.True(t, slot.IsActive())
	assert.InDelta(t, 0.6, slot.Remaining(), 1e-9)

	// one quantity step remaining still counts as working
	slot.Apply(event.Fill{OrderID: 5, Quantity: 0.5})
	assert.True(t, slot.IsActive())

	// inside half a quantity step of zero counts as fully filled
	slot.Apply(event.Fill{OrderID: 5, Quantity: 0.06})
	assert.True(t, slot.Idle())
	assert.Zero(t, slot.Remaining())
}

func TestPersistentOrderCancelRejectKeepsWorking(t *testing.T) {
	slot := NewPersistentOrder(testAccount(), testInstrument(), core.SideBuy, core.OrderTypeLimit)
	slot.state = PersistentActive
	slot.orderID = 7
	slot.remaining = 1

	f := &fakeGateways{}
	_, rec := newTestRuntime(f)
	require.NoError(t, slot.Cancel(rec.ctx))
	assert.Equal(t, PersistentPendingCancel, slot.State())

	slot.Apply(event.CancelReject{OrderID: 7, Reason: "order not mapped"})
	assert.True(t, slot.IsActive(), "a rejected cancel leaves the order working")

	require.NoError(t, slot.Cancel(rec.ctx))
	slot.Apply(event.CancelAck{OrderID: 7})
	assert.True(t, slot.Idle())
}

func TestPersistentOrderPlaceRejectFreesSlot(t *testing.T) {
	f := &fakeGateways{}
	_, rec := newTestRuntime(f)

	slot := NewPersistentOrder(testAccount(), testInstrument(), core.SideBuy, core.OrderTypeLimit)
	require.NoError(t, slot.Place(rec.ctx, 100, 1))

	slot.Apply(event.PlaceReject{OrderID: slot.OrderID(), Reason: "INTERNAL RATE LIMIT"})
	assert.True(t, slot.Idle())
}

func TestApplyIgnoresOtherOrders(t *testing.T) {
	slot := NewPersistentOrder(testAccount(), testInstrument(), core.SideBuy, core.OrderTypeLimit)
	slot.state = PersistentActive
	slot.orderID = 9
	slot.remaining = 1

	assert.False(t, slot.Apply(event.Fill{OrderID: 10, Quantity: 1}))
	assert.True(t, slot.IsActive())
	assert.Equal(t, 1.0, slot.Remaining())
}

// deliver drains the queued events through the runtime and feeds them to
// the slot, the way a strategy's OnEvent would.
func deliver(r *Runtime, rec *recorder, slot *PersistentOrder) {
	rec.events = nil
	r.step()
	for _, e := range rec.events {
		slot.Apply(e)
	}
}

func TestUpdateConvergesAndRequotesOnDrift(t *testing.T) {
	f := &fakeGateways{}
	r, rec := newTestRuntime(f)
	slot := NewPersistentOrder(testAccount(), testInstrument(), core.SideBuy, core.OrderTypeLimit)

	// idle + desired active: place once
	require.NoError(t, slot.Update(rec.ctx, true, 100, 1))
	assert.Equal(t, PersistentPendingPlace, slot.State())
	firstID := slot.OrderID()
	require.Len(t, f.placed, 1)

	// pending: repeated ticks do nothing
	require.NoError(t, slot.Update(rec.ctx, true, 100, 1))
	require.NoError(t, slot.Update(rec.ctx, true, 105, 2))
	assert.Len(t, f.placed, 1)

	f.queued = []event.Event{event.PlaceAck{OrderID: firstID, Price: 100, Quantity: 1}}
	deliver(r, rec, slot)
	assert.True(t, slot.IsActive())

	// matched desired state and drift inside tolerance: hold
	require.NoError(t, slot.Update(rec.ctx, true, 100, 1))
	require.NoError(t, slot.Update(rec.ctx, true, 100.5, 1))
	assert.Empty(t, f.canceled)

	// drift beyond the price tick: cancel, then wait
	require.NoError(t, slot.Update(rec.ctx, true, 101, 1))
	assert.Equal(t, PersistentPendingCancel, slot.State())
	assert.Equal(t, []int64{firstID}, f.canceled)
	require.NoError(t, slot.Update(rec.ctx, true, 101, 1))
	assert.Len(t, f.canceled, 1)
	assert.Len(t, f.placed, 1)

	// cancel settles, the next tick re-places at the new price
	f.queued = []event.Event{event.CancelAck{OrderID: firstID}}
	deliver(r, rec, slot)
	assert.True(t, slot.Idle())
	require.NoError(t, slot.Update(rec.ctx, true, 101, 1))
	require.Len(t, f.placed, 2)
	assert.NotEqual(t, firstID, slot.OrderID())
	assert.Equal(t, []int64{firstID, slot.OrderID()}, slot.History())
}

func TestUpdateDesiredInactiveCancels(t *testing.T) {
	f := &fakeGateways{}
	r, rec := newTestRuntime(f)
	slot := NewPersistentOrder(testAccount(), testInstrument(), core.SideSell, core.OrderTypeLimit)

	require.NoError(t, slot.Update(rec.ctx, true, 200, 2))
	f.queued = []event.Event{event.PlaceAck{OrderID: slot.OrderID(), Price: 200, Quantity: 2}}
	deliver(r, rec, slot)

	require.NoError(t, slot.Update(rec.ctx, false, 0, 0))
	assert.Equal(t, PersistentPendingCancel, slot.State())
	require.NoError(t, slot.Update(rec.ctx, false, 0, 0))
	assert.Len(t, f.canceled, 1)

	f.queued = []event.Event{event.CancelAck{OrderID: slot.OrderID()}}
	deliver(r, rec, slot)
	assert.True(t, slot.Idle())

	// inactive + desired inactive: nothing happens
	require.NoError(t, slot.Update(rec.ctx, false, 0, 0))
	assert.Len(t, f.placed, 1)
}

func TestUpdateKeepsSingleOutstandingOrder(t *testing.T) {
	f := &fakeGateways{}
	r, rec := newTestRuntime(f)
	slot := NewPersistentOrder(testAccount(), testInstrument(), core.SideBuy, core.OrderTypeLimit)

	closed := 0
	outstanding := func() int { return len(f.placed) - closed }

	ticks := []struct {
		active          bool
		price, quantity float64
	}{
		{true, 100, 1},
		{true, 100, 1},
		{true, 102, 1},
		{true, 102, 1},
		{false, 0, 0},
		{true, 99, 0.5},
		{true, 99, 0.5},
	}
	for _, tick := range ticks {
		require.NoError(t, slot.Update(rec.ctx, tick.active, tick.price, tick.quantity))
		require.LessOrEqual(t, outstanding(), 1)

		// settle whatever the tick requested before the next one
		switch slot.State() {
		case PersistentPendingPlace:
			f.queued = []event.Event{event.PlaceAck{OrderID: slot.OrderID(), Price: tick.price, Quantity: tick.quantity}}
		case PersistentPendingCancel:
			f.queued = []event.Event{event.CancelAck{OrderID: slot.OrderID()}}
			closed++
		}
		deliver(r, rec, slot)
		require.LessOrEqual(t, outstanding(), 1)
	}

	// every desired change produced its own placement, never two at once
	assert.Equal(t, 3, len(f.placed))
	assert.Len(t, slot.History(), 3)
}
