package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylebaus/Baus/internal/books"
	"github.com/kylebaus/Baus/internal/core"
	"github.com/kylebaus/Baus/internal/event"
	"github.com/kylebaus/Baus/internal/gateway"
	"github.com/kylebaus/Baus/internal/oms"
	"github.com/kylebaus/Baus/internal/risk"
)

type fakeGateways struct {
	active   bool
	placed   []int64
	canceled []int64
	bookSubs []string
	tradeSub []string
	fillSubs []core.Account
	queued   []event.Event
	failAll  bool
}

type routeError struct{}

func (routeError) Error() string { return "unknown gateway" }

func (f *fakeGateways) IsActive(core.Account) bool { return f.active }

func (f *fakeGateways) Place(_ core.Account, orderID int64, _ core.Order) error {
	if f.failAll {
		return routeError{}
	}
	f.placed = append(f.placed, orderID)
	return nil
}

func (f *fakeGateways) Cancel(_ core.Account, orderID int64) error {
	if f.failAll {
		return routeError{}
	}
	f.canceled = append(f.canceled, orderID)
	return nil
}

func (f *fakeGateways) Modify(_ core.Account, orderID int64, _ core.Order) error {
	if f.failAll {
		return routeError{}
	}
	return nil
}

func (f *fakeGateways) SubscribeOrderbook(_ core.Account, instrument *core.Instrument) error {
	f.bookSubs = append(f.bookSubs, instrument.ExternalSymbol)
	return nil
}

func (f *fakeGateways) SubscribeTrades(_ core.Account, instrument *core.Instrument) error {
	f.tradeSub = append(f.tradeSub, instrument.ExternalSymbol)
	return nil
}

func (f *fakeGateways) SubscribeFills(account core.Account) error {
	f.fillSubs = append(f.fillSubs, account)
	return nil
}

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

func testInstrument() *core.Instrument {
	return &core.Instrument{
		Exchange:       core.ExchangeDeribit,
		InternalSymbol: "BTC-PERP",
		ExternalSymbol: "BTC-PERPETUAL",
		PriceTick:      0.5,
		QuantityStep:   0.1,
	}
}

func testAccount() core.Account {
	return core.Account{Exchange: core.ExchangeDeribit, Name: "main"}
}

func newTestDispatcher(f *fakeGateways) *Dispatcher {
	return New(oms.NewLedger(), books.NewCache(), f)
}

func TestPlaceAllocatesIncreasingIDs(t *testing.T) {
	f := &fakeGateways{}
	d := newTestDispatcher(f)
	d.RegisterStrategy(1)

	order := core.Order{Instrument: testInstrument(), Account: testAccount(), Side: core.SideBuy, Price: 100, Quantity: 1}
	first := d.Place(1, order)
	second := d.Place(1, order)
	assert.Less(t, first, second)
	assert.Equal(t, []int64{first, second}, f.placed)
}

func TestPlaceUnknownGatewayRejectsLocally(t *testing.T) {
	f := &fakeGateways{failAll: true}
	d := newTestDispatcher(f)
	ch := d.RegisterStrategy(1)

	orderID := d.Place(1, core.Order{Instrument: testInstrument(), Account: testAccount()})

	require.Len(t, ch, 1)
	reject, ok := (<-ch).(event.PlaceReject)
	require.True(t, ok)
	assert.Equal(t, orderID, reject.OrderID)
	assert.Equal(t, "UNKNOWN GATEWAY", reject.Reason)
}

func TestOrderEventsRouteToOwningStrategy(t *testing.T) {
	f := &fakeGateways{}
	d := newTestDispatcher(f)
	chA := d.RegisterStrategy(1)
	chB := d.RegisterStrategy(2)

	order := core.Order{Instrument: testInstrument(), Account: testAccount(), Side: core.SideBuy, Price: 100, Quantity: 1}
	idA := d.Place(1, order)
	idB := d.Place(2, order)

	f.queued = []event.Event{
		event.PlaceAck{OrderID: idB, Account: testAccount()},
		event.PlaceAck{OrderID: idA, Account: testAccount()},
	}
	d.Drain()

	require.Len(t, chA, 1)
	require.Len(t, chB, 1)
	assert.Equal(t, idA, (<-chA).(event.PlaceAck).OrderID)
	assert.Equal(t, idB, (<-chB).(event.PlaceAck).OrderID)
}

func TestUnknownOrderEventIsDroppedNotMisrouted(t *testing.T) {
	f := &fakeGateways{}
	d := newTestDispatcher(f)
	ch := d.RegisterStrategy(1)

	f.queued = []event.Event{event.PlaceAck{OrderID: 999}}
	d.Drain()
	assert.Empty(t, ch)
}

func TestOrderbookSubscriptionDeduplicates(t *testing.T) {
	f := &fakeGateways{}
	d := newTestDispatcher(f)
	inst := testInstrument()

	d.SubscribeOrderbook(testAccount(), inst)
	d.SubscribeOrderbook(testAccount(), inst)
	assert.Equal(t, []string{"BTC-PERPETUAL"}, f.bookSubs, "exchange subscription issued at most once")

	f.queued = []event.Event{event.TopOfBook{
		Instrument: inst,
		UpdateAt:   time.UnixMilli(1700000000000),
		BestBid:    core.OrderbookLevel{Instrument: inst, Side: core.SideBuy, Price: 100, Quantity: 2},
		BestAsk:    core.OrderbookLevel{Instrument: inst, Side: core.SideSell, Price: 100.5, Quantity: 3},
	}}
	d.Drain()

	book, err := d.Orderbook(inst)
	require.NoError(t, err)
	assert.Equal(t, 100.0, book.BestBid().Price)
	assert.Equal(t, 100.5, book.BestAsk().Price)
}

func TestTradesRouteToSubscribersOnly(t *testing.T) {
	f := &fakeGateways{}
	d := newTestDispatcher(f)
	chA := d.RegisterStrategy(1)
	chB := d.RegisterStrategy(2)
	inst := testInstrument()

	d.SubscribeTrades(1, testAccount(), inst)
	d.SubscribeTrades(2, testAccount(), inst)
	assert.Equal(t, []string{"BTC-PERPETUAL"}, f.tradeSub, "exchange subscription issued at most once")

	f.queued = []event.Event{event.Trade{Instrument: inst, Side: core.SideBuy, Price: 100, Quantity: 1}}
	d.Drain()
	assert.Len(t, chA, 1)
	assert.Len(t, chB, 1)
}

func TestDisconnectBroadcasts(t *testing.T) {
	f := &fakeGateways{}
	d := newTestDispatcher(f)
	chA := d.RegisterStrategy(1)
	chB := d.RegisterStrategy(2)

	f.queued = []event.Event{event.Disconnect{Account: testAccount()}}
	d.Drain()
	assert.Len(t, chA, 1)
	assert.Len(t, chB, 1)
}

func TestFillHookObservesRoutedFills(t *testing.T) {
	f := &fakeGateways{}
	d := newTestDispatcher(f)
	d.RegisterStrategy(1)

	var seen []event.Fill
	d.OnFill = func(fill event.Fill) { seen = append(seen, fill) }

	orderID := d.Place(1, core.Order{Instrument: testInstrument(), Account: testAccount()})
	f.queued = []event.Event{event.Fill{OrderID: orderID, FillID: "T-1", Price: 100, Quantity: 1}}
	d.Drain()

	require.Len(t, seen, 1)
	assert.Equal(t, "T-1", seen[0].FillID)
}

func TestRiskDenialRejectsLocally(t *testing.T) {
	f := &fakeGateways{}
	d := newTestDispatcher(f)
	d.Risk = risk.NewEngine(risk.Config{MaxOrderQuantity: 1})
	ch := d.RegisterStrategy(1)

	order := core.Order{Instrument: testInstrument(), Account: testAccount(), Side: core.SideBuy, Price: 100, Quantity: 2, Type: core.OrderTypeLimit}
	orderID := d.Place(1, order)

	assert.Empty(t, f.placed)
	require.Len(t, ch, 1)
	reject, ok := (<-ch).(event.PlaceReject)
	require.True(t, ok)
	assert.Equal(t, orderID, reject.OrderID)
	assert.Equal(t, "RISK DENIED", reject.Reason)

	order.Quantity = 0.5
	d.Place(1, order)
	assert.Len(t, f.placed, 1)
}

func TestRoutedFillsUpdateRiskPositions(t *testing.T) {
	f := &fakeGateways{}
	d := newTestDispatcher(f)
	d.Risk = risk.NewEngine(risk.Config{})
	d.RegisterStrategy(1)

	instrument := testInstrument()
	order := core.Order{Instrument: instrument, Account: testAccount(), Side: core.SideBuy, Price: 100, Quantity: 1, Type: core.OrderTypeLimit}
	orderID := d.Place(1, order)

	f.queued = []event.Event{
		event.Fill{FillID: "1", OrderID: orderID, Account: testAccount(), Instrument: instrument, Side: core.SideBuy, Price: 100, Quantity: 0.4},
	}
	d.Drain()

	assert.Equal(t, 0.4, d.Risk.Position(testAccount(), instrument.InternalSymbol))
}
