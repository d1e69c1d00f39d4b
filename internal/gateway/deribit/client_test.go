package deribit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kylebaus/Baus/internal/core"
	"github.com/kylebaus/Baus/internal/event"
	"github.com/kylebaus/Baus/internal/gateway"
)

type capture struct {
	order   []event.Event
	market  []event.Event
	gateway []event.Event
}

func (c *capture) callbacks() gateway.Callbacks {
	return gateway.Callbacks{
		OnOrderUpdate:      func(e event.Event) { c.order = append(c.order, e) },
		OnMarketDataUpdate: func(e event.Event) { c.market = append(c.market, e) },
		OnGatewayUpdate:    func(e event.Event) { c.gateway = append(c.gateway, e) },
	}
}

func perpInstrument() *core.Instrument {
	return &core.Instrument{
		Exchange:       core.ExchangeDeribit,
		InternalSymbol: "BTC-PERP",
		ExternalSymbol: "BTC-PERPETUAL",
		PriceTick:      0.5,
		QuantityStep:   10,
		Kind:           core.InstrumentInversePerpetual,
		ContractValue:  1,
	}
}

func newTestClient(cap *capture, cfg gateway.Config) *Client {
	cfg.Account = core.Account{Exchange: core.ExchangeDeribit, Name: "main"}
	if cfg.Key == "" {
		cfg.Key = "client-id"
	}
	if cfg.Secret == "" {
		cfg.Secret = "deribit-secret"
	}
	return New(cfg, cap.callbacks())
}

func TestSignature(t *testing.T) {
	c := newTestClient(&capture{}, gateway.Config{})
	signed := c.signature(1700000000000, "nonce123", "")
	assert.Equal(t, "9ffb1a467e951161a17ff33f0fa5ed13b482f7f0a3839bafa17b662c111ebfd0", signed)
}

func TestPlaceAckWithImmediateFill(t *testing.T) {
	cap := &capture{}
	c := newTestClient(cap, gateway.Config{})
	inst := perpInstrument()
	c.placeIDs[1] = pendingPlace{orderID: 7, order: core.Order{
		Instrument: inst, Side: core.SideBuy, Price: 100, Quantity: 10,
	}}

	c.parseWebsocket([]byte(`{
		"jsonrpc":"2.0","id":1,
		"result":{
			"order":{"order_id":"DER-1","price":100.0,"amount":1000.0,"direction":"buy"},
			"trades":[{"trade_id":"T-1","order_id":"DER-1","instrument_name":"BTC-PERPETUAL","direction":"buy","price":100.0,"amount":1000.0,"fee":0.0001,"fee_currency":"BTC","timestamp":1700000000000}]
		}
	}`))

	require.Len(t, cap.order, 2)
	ack, ok := cap.order[0].(event.PlaceAck)
	require.True(t, ok)
	assert.Equal(t, int64(7), ack.OrderID)
	assert.Equal(t, 100.0, ack.Price)
	assert.Equal(t, 10.0, ack.Quantity, "contract amount converts back to base quantity")

	fill, ok := cap.order[1].(event.Fill)
	require.True(t, ok)
	assert.Equal(t, int64(7), fill.OrderID)
	assert.Equal(t, 10.0, fill.Quantity)
	assert.Equal(t, "T-1", fill.FillID)

	// the channel copy of the already-reported trade is suppressed
	c.parseWebsocket([]byte(`{
		"jsonrpc":"2.0","method":"subscription",
		"params":{"channel":"user.trades.any.any.raw","data":[
			{"trade_id":"T-1","order_id":"DER-1","instrument_name":"BTC-PERPETUAL","direction":"buy","price":100.0,"amount":1000.0,"fee":0.0001,"fee_currency":"BTC","timestamp":1700000000000}
		]}
	}`))
	assert.Len(t, cap.order, 2)
}

func TestFillBeforeAckIsCachedAndRedelivered(t *testing.T) {
	cap := &capture{}
	c := newTestClient(cap, gateway.Config{})
	inst := perpInstrument()

	c.parseWebsocket([]byte(`{
		"jsonrpc":"2.0","method":"subscription",
		"params":{"channel":"user.trades.any.any.raw","data":[
			{"trade_id":"T-9","order_id":"DER-2","instrument_name":"BTC-PERPETUAL","direction":"sell","price":100.0,"amount":500.0,"fee":0,"fee_currency":"BTC","timestamp":1700000000000}
		]}
	}`))
	require.Empty(t, cap.order, "unmapped fill must be buffered, not delivered with a null owner")

	c.placeIDs[2] = pendingPlace{orderID: 9, order: core.Order{
		Instrument: inst, Side: core.SideSell, Price: 100, Quantity: 5,
	}}
	c.parseWebsocket([]byte(`{
		"jsonrpc":"2.0","id":2,
		"result":{"order":{"order_id":"DER-2","price":100.0,"amount":500.0,"direction":"sell"},"trades":[]}
	}`))

	require.Len(t, cap.order, 2)
	_, ok := cap.order[0].(event.PlaceAck)
	require.True(t, ok)
	fill, ok := cap.order[1].(event.Fill)
	require.True(t, ok)
	assert.Equal(t, int64(9), fill.OrderID, "buffered fill must be re-tagged with the internal id")
	assert.Equal(t, 5.0, fill.Quantity)
	assert.Empty(t, c.cachedFills)
}

func TestPlaceRejectRateLimitTriggersCooldown(t *testing.T) {
	cap := &capture{}
	c := newTestClient(cap, gateway.Config{})
	c.placeIDs[3] = pendingPlace{orderID: 11, order: core.Order{Instrument: perpInstrument()}}

	c.parseWebsocket([]byte(`{"jsonrpc":"2.0","id":3,"error":{"code":10028,"message":"too_many_requests"}}`))

	require.Len(t, cap.order, 1)
	reject, ok := cap.order[0].(event.PlaceReject)
	require.True(t, ok)
	assert.Equal(t, "too_many_requests", reject.Reason)

	c.Place(12, core.Order{Instrument: perpInstrument(), Side: core.SideBuy, Price: 100, Quantity: 10})
	require.Len(t, cap.order, 2)
	local, ok := cap.order[1].(event.PlaceReject)
	require.True(t, ok)
	assert.Equal(t, "INTERNAL RATE LIMIT", local.Reason)
}

func TestCancelClosedCodeAcksAsSuccess(t *testing.T) {
	cap := &capture{}
	c := newTestClient(cap, gateway.Config{CancelRejectClosedCodes: []string{"11044"}})
	c.cancelIDs[4] = 13

	c.parseWebsocket([]byte(`{"jsonrpc":"2.0","id":4,"error":{"code":11044,"message":"not_open_order"}}`))
	require.Len(t, cap.order, 1)
	_, ok := cap.order[0].(event.CancelAck)
	assert.True(t, ok, "already filled/cancelled must be acknowledged as a successful close")
}

func TestParseTicker(t *testing.T) {
	cap := &capture{}
	c := newTestClient(cap, gateway.Config{})
	inst := perpInstrument()
	c.bookSubs[inst.ExternalSymbol] = inst

	c.parseWebsocket([]byte(`{
		"jsonrpc":"2.0","method":"subscription",
		"params":{"channel":"ticker.BTC-PERPETUAL.raw","data":{
			"instrument_name":"BTC-PERPETUAL","timestamp":1700000000000,
			"best_bid_price":100.0,"best_bid_amount":2000.0,
			"best_ask_price":100.5,"best_ask_amount":1000.0
		}}
	}`))

	require.Len(t, cap.market, 1)
	top, ok := cap.market[0].(event.TopOfBook)
	require.True(t, ok)
	assert.Equal(t, 100.0, top.BestBid.Price)
	assert.Equal(t, 20.0, top.BestBid.Quantity, "USD amount converts to base quantity")
	assert.Equal(t, 100.5, top.BestAsk.Price)
}

func TestMalformedFrameIsDropped(t *testing.T) {
	cap := &capture{}
	c := newTestClient(cap, gateway.Config{})
	c.parseWebsocket([]byte(`{not json`))
	assert.Empty(t, cap.order)
	assert.Empty(t, cap.market)
}

func TestInactiveTransportRejectsLocally(t *testing.T) {
	cap := &capture{}
	c := newTestClient(cap, gateway.Config{})
	inst := perpInstrument()

	// no websocket stored yet: a place must reject, never go silent
	c.Place(7, core.Order{Instrument: inst, Account: c.account, Side: core.SideBuy, Price: 50000, Quantity: 1000, Type: core.OrderTypeLimit})

	require.Len(t, cap.order, 1)
	reject, ok := cap.order[0].(event.PlaceReject)
	require.True(t, ok)
	assert.Equal(t, int64(7), reject.OrderID)
	assert.Equal(t, "TRANSPORT INACTIVE", reject.Reason)
	assert.Empty(t, c.placeIDs)

	// a cancel for a mapped order rejects the same way
	c.internalToExternal[7] = "EXT-7"
	c.Cancel(7)
	require.Len(t, cap.order, 2)
	cancelReject, ok := cap.order[1].(event.CancelReject)
	require.True(t, ok)
	assert.Equal(t, "TRANSPORT INACTIVE", cancelReject.Reason)
	assert.Empty(t, c.cancelIDs)
}

func TestFailedSubscribeRollsBackCorrelationID(t *testing.T) {
	cap := &capture{}
	c := newTestClient(cap, gateway.Config{})
	inst := perpInstrument()

	// no transport: the frames never leave the process
	c.SubscribeOrderbook(inst)
	c.SubscribeTrades(inst)
	c.SubscribeFills()

	assert.Empty(t, c.subIDs)
	// the desired-subscription set survives for the on-connect replay
	assert.Contains(t, c.bookSubs, inst.ExternalSymbol)
	assert.Contains(t, c.tradeSubs, inst.ExternalSymbol)
	assert.True(t, c.fillsSub)
}

func TestTerminalOrderStatePrunesCorrelationState(t *testing.T) {
	cap := &capture{}
	c := newTestClient(cap, gateway.Config{})
	inst := perpInstrument()
	c.placeIDs[4] = pendingPlace{orderID: 15, order: core.Order{
		Instrument: inst, Side: core.SideBuy, Price: 100, Quantity: 10,
	}}
	c.parseWebsocket([]byte(`{
		"jsonrpc":"2.0","id":4,
		"result":{"order":{"order_id":"DER-5","order_state":"open","price":100.0,"amount":1000.0,"direction":"buy"},"trades":[]}
	}`))
	require.Len(t, cap.order, 1)
	assert.Contains(t, c.internalToExternal, int64(15))

	// a partial fill keeps the mapping
	c.parseWebsocket([]byte(`{
		"jsonrpc":"2.0","method":"subscription",
		"params":{"channel":"user.trades.any.any.raw","data":[
			{"trade_id":"T-20","order_id":"DER-5","instrument_name":"BTC-PERPETUAL","direction":"buy","price":100.0,"amount":400.0,"fee":0,"fee_currency":"BTC","state":"open","timestamp":1700000000000}
		]}
	}`))
	require.Len(t, cap.order, 2)
	assert.Contains(t, c.internalToExternal, int64(15))

	// the closing fill drops every correlation entry
	c.parseWebsocket([]byte(`{
		"jsonrpc":"2.0","method":"subscription",
		"params":{"channel":"user.trades.any.any.raw","data":[
			{"trade_id":"T-21","order_id":"DER-5","instrument_name":"BTC-PERPETUAL","direction":"buy","price":100.0,"amount":600.0,"fee":0,"fee_currency":"BTC","state":"filled","timestamp":1700000001000}
		]}
	}`))
	require.Len(t, cap.order, 3)
	assert.Empty(t, c.internalToExternal)
	assert.Empty(t, c.externalToInternal)
	assert.Empty(t, c.orderInstrument)
	assert.Empty(t, c.cachedFills)
}

func TestCancelAckPrunesCorrelationState(t *testing.T) {
	cap := &capture{}
	c := newTestClient(cap, gateway.Config{})
	inst := perpInstrument()
	c.placeIDs[5] = pendingPlace{orderID: 16, order: core.Order{
		Instrument: inst, Side: core.SideSell, Price: 100, Quantity: 10,
	}}
	c.parseWebsocket([]byte(`{
		"jsonrpc":"2.0","id":5,
		"result":{"order":{"order_id":"DER-6","order_state":"open","price":100.0,"amount":1000.0,"direction":"sell"},"trades":[]}
	}`))
	require.Len(t, cap.order, 1)

	c.cancelIDs[6] = 16
	c.parseWebsocket([]byte(`{"jsonrpc":"2.0","id":6,"result":{"order_id":"DER-6","order_state":"cancelled"}}`))
	require.Len(t, cap.order, 2)
	_, ok := cap.order[1].(event.CancelAck)
	require.True(t, ok)
	assert.Empty(t, c.internalToExternal)
	assert.Empty(t, c.externalToInternal)
	assert.Empty(t, c.orderInstrument)
}
