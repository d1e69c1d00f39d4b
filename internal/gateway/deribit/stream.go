package deribit

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/logs"

	"github.com/kylebaus/Baus/internal/core"
	"github.com/kylebaus/Baus/internal/event"
)

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcMessage struct {
	ID     int64           `json:"id"`
	Method string          `json:"method"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
	Params *notification   `json:"params"`
}

type notification struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type orderState struct {
	OrderID    string  `json:"order_id"`
	OrderState string  `json:"order_state"`
	Price      float64 `json:"price"`
	Amount     float64 `json:"amount"`
	Direction  string  `json:"direction"`
}

type userTrade struct {
	TradeID        string  `json:"trade_id"`
	OrderID        string  `json:"order_id"`
	InstrumentName string  `json:"instrument_name"`
	Direction      string  `json:"direction"`
	Price          float64 `json:"price"`
	Amount         float64 `json:"amount"`
	Fee            float64 `json:"fee"`
	FeeCurrency    string  `json:"fee_currency"`
	State          string  `json:"state"`
	Timestamp      int64   `json:"timestamp"`
}

type placeResult struct {
	Order  orderState  `json:"order"`
	Trades []userTrade `json:"trades"`
}

type tickerData struct {
	InstrumentName string  `json:"instrument_name"`
	Timestamp      int64   `json:"timestamp"`
	BestBidPrice   float64 `json:"best_bid_price"`
	BestBidAmount  float64 `json:"best_bid_amount"`
	BestAskPrice   float64 `json:"best_ask_price"`
	BestAskAmount  float64 `json:"best_ask_amount"`
}

type publicTrade struct {
	InstrumentName string  `json:"instrument_name"`
	Direction      string  `json:"direction"`
	Price          float64 `json:"price"`
	Amount         float64 `json:"amount"`
}

func terminalOrderState(state string) bool {
	switch state {
	case "filled", "cancelled", "rejected":
		return true
	default:
		return false
	}
}

func parseDirection(direction string) core.Side {
	if direction == "sell" {
		return core.SideSell
	}
	return core.SideBuy
}

// parseWebsocket decodes one frame. Responses are matched to their pending
// request by id; subscription notifications route by channel prefix.
// Malformed frames are logged and dropped.
func (c *Client) parseWebsocket(payload []byte) {
	var message rpcMessage
	if err := sonic.ConfigFastest.Unmarshal(payload, &message); err != nil {
		logs.Errorf("deribit %s: parse websocket %s: %+v", c.account, payload, err)
		return
	}

	if message.Method == "subscription" && message.Params != nil {
		c.parseNotification(*message.Params)
		return
	}
	if message.ID != 0 {
		c.parseResponse(message)
	}
}

func (c *Client) parseResponse(message rpcMessage) {
	c.mu.Lock()
	if _, ok := c.loginIDs[message.ID]; ok {
		delete(c.loginIDs, message.ID)
		c.mu.Unlock()
		if message.Error != nil {
			logs.Errorf("deribit %s: login rejected: %d %s", c.account, message.Error.Code, message.Error.Message)
			return
		}
		logs.Infof("deribit %s: login success", c.account)
		return
	}
	if _, ok := c.subIDs[message.ID]; ok {
		delete(c.subIDs, message.ID)
		c.mu.Unlock()
		if message.Error != nil {
			logs.Errorf("deribit %s: subscribe rejected: %d %s", c.account, message.Error.Code, message.Error.Message)
		}
		return
	}
	if pending, ok := c.placeIDs[message.ID]; ok {
		delete(c.placeIDs, message.ID)
		c.mu.Unlock()
		c.parsePlace(pending, message)
		return
	}
	if pending, ok := c.editIDs[message.ID]; ok {
		delete(c.editIDs, message.ID)
		c.mu.Unlock()
		c.parseEdit(pending, message)
		return
	}
	if orderID, ok := c.cancelIDs[message.ID]; ok {
		delete(c.cancelIDs, message.ID)
		c.mu.Unlock()
		c.parseCancel(orderID, message)
		return
	}
	c.mu.Unlock()
}

func (c *Client) parsePlace(pending pendingPlace, message rpcMessage) {
	if message.Error != nil {
		logs.Infof("deribit %s: place %d rejected: %d %s",
			c.account, pending.orderID, message.Error.Code, message.Error.Message)
		c.cb.OnOrderUpdate(event.PlaceReject{OrderID: pending.orderID, Reason: message.Error.Message})
		if message.Error.Code == _rateLimitedErrorCode {
			c.cooldown.Trigger()
		}
		return
	}

	var result placeResult
	if err := sonic.ConfigFastest.Unmarshal(message.Result, &result); err != nil {
		logs.Errorf("deribit %s: parse place result %s: %+v", c.account, message.Result, err)
		c.cb.OnOrderUpdate(event.PlaceReject{OrderID: pending.orderID, Reason: string(message.Result)})
		return
	}

	instrument := pending.order.Instrument

	c.mu.Lock()
	c.internalToExternal[pending.orderID] = result.Order.OrderID
	c.externalToInternal[result.Order.OrderID] = pending.orderID
	c.orderInstrument[pending.orderID] = instrument
	cached := c.cachedFills[result.Order.OrderID]
	delete(c.cachedFills, result.Order.OrderID)
	for _, trade := range result.Trades {
		c.ackedFills[trade.TradeID] = struct{}{}
	}
	c.mu.Unlock()

	c.cb.OnOrderUpdate(event.PlaceAck{
		OrderID:    pending.orderID,
		Account:    c.account,
		Instrument: instrument,
		Side:       pending.order.Side,
		Price:      result.Order.Price,
		Quantity:   instrument.BaseQuantity(result.Order.Amount, result.Order.Price),
	})

	// fills embedded in the place response, delivered here so the channel
	// copy of the same trade can be suppressed
	for _, trade := range result.Trades {
		c.cb.OnOrderUpdate(c.fillEvent(pending.orderID, instrument, trade))
	}

	// channel fills that raced ahead of this response
	for _, fill := range cached {
		c.mu.Lock()
		_, acked := c.ackedFills[fill.FillID]
		delete(c.ackedFills, fill.FillID)
		c.mu.Unlock()
		if acked {
			continue
		}
		fill.OrderID = pending.orderID
		fill.Instrument = instrument
		fill.Quantity = instrument.BaseQuantity(fill.Quantity, fill.Price)
		c.cb.OnOrderUpdate(fill)
	}

	if terminalOrderState(result.Order.OrderState) {
		c.forget(pending.orderID)
	}
}

func (c *Client) fillEvent(orderID int64, instrument *core.Instrument, trade userTrade) event.Fill {
	return event.Fill{
		Timestamp:   time.UnixMilli(trade.Timestamp),
		FillID:      trade.TradeID,
		OrderID:     orderID,
		Account:     c.account,
		Instrument:  instrument,
		Side:        parseDirection(trade.Direction),
		Price:       trade.Price,
		Quantity:    instrument.BaseQuantity(trade.Amount, trade.Price),
		Fee:         trade.Fee,
		FeeCurrency: trade.FeeCurrency,
	}
}

func (c *Client) parseEdit(pending pendingEdit, message rpcMessage) {
	if message.Error != nil {
		logs.Infof("deribit %s: edit %d rejected: %d %s",
			c.account, pending.orderID, message.Error.Code, message.Error.Message)
		c.cb.OnOrderUpdate(event.CancelReject{OrderID: pending.orderID, Reason: message.Error.Message})
		if message.Error.Code == _rateLimitedErrorCode {
			c.cooldown.Trigger()
		}
		return
	}

	var result placeResult
	if err := sonic.ConfigFastest.Unmarshal(message.Result, &result); err != nil {
		logs.Errorf("deribit %s: parse edit result %s: %+v", c.account, message.Result, err)
		c.cb.OnOrderUpdate(event.CancelReject{OrderID: pending.orderID, Reason: string(message.Result)})
		return
	}

	instrument := pending.order.Instrument
	c.cb.OnOrderUpdate(event.ModifyAck{
		OrderID:  pending.orderID,
		Price:    result.Order.Price,
		Quantity: instrument.BaseQuantity(result.Order.Amount, result.Order.Price),
	})
}

func (c *Client) parseCancel(orderID int64, message rpcMessage) {
	if message.Error != nil {
		if c.cfg.ClosedCode(strconv.Itoa(message.Error.Code)) {
			// already filled or cancelled: closed either way
			c.forget(orderID)
			c.cb.OnOrderUpdate(event.CancelAck{OrderID: orderID})
			return
		}
		logs.Infof("deribit %s: cancel %d rejected: %d %s",
			c.account, orderID, message.Error.Code, message.Error.Message)
		c.cb.OnOrderUpdate(event.CancelReject{OrderID: orderID, Reason: message.Error.Message})
		if message.Error.Code == _rateLimitedErrorCode {
			c.cooldown.Trigger()
		}
		return
	}
	c.forget(orderID)
	c.cb.OnOrderUpdate(event.CancelAck{OrderID: orderID})
}

func (c *Client) parseNotification(note notification) {
	switch {
	case strings.HasPrefix(note.Channel, "ticker."):
		c.parseTicker(note.Data)
	case strings.HasPrefix(note.Channel, "trades."):
		c.parseTrades(note.Data)
	case strings.HasPrefix(note.Channel, "user.trades."):
		c.parseUserTrades(note.Data)
	}
}

func (c *Client) parseTicker(data json.RawMessage) {
	var ticker tickerData
	if err := sonic.ConfigFastest.Unmarshal(data, &ticker); err != nil {
		logs.Errorf("deribit %s: parse ticker %s: %+v", c.account, data, err)
		return
	}

	c.mu.Lock()
	instrument, ok := c.bookSubs[ticker.InstrumentName]
	c.mu.Unlock()
	if !ok {
		return
	}

	c.cb.OnMarketDataUpdate(event.TopOfBook{
		Instrument: instrument,
		UpdateAt:   time.UnixMilli(ticker.Timestamp),
		BestBid: core.OrderbookLevel{
			Instrument: instrument,
			Side:       core.SideBuy,
			Price:      ticker.BestBidPrice,
			Quantity:   instrument.BaseQuantity(ticker.BestBidAmount, ticker.BestBidPrice),
		},
		BestAsk: core.OrderbookLevel{
			Instrument: instrument,
			Side:       core.SideSell,
			Price:      ticker.BestAskPrice,
			Quantity:   instrument.BaseQuantity(ticker.BestAskAmount, ticker.BestAskPrice),
		},
	})
}

func (c *Client) parseTrades(data json.RawMessage) {
	var trades []publicTrade
	if err := sonic.ConfigFastest.Unmarshal(data, &trades); err != nil {
		logs.Errorf("deribit %s: parse trades %s: %+v", c.account, data, err)
		return
	}

	for _, trade := range trades {
		c.mu.Lock()
		instrument, ok := c.tradeSubs[trade.InstrumentName]
		c.mu.Unlock()
		if !ok {
			continue
		}
		c.cb.OnMarketDataUpdate(event.Trade{
			Instrument: instrument,
			Side:       parseDirection(trade.Direction),
			Price:      trade.Price,
			Quantity:   instrument.BaseQuantity(trade.Amount, trade.Price),
		})
	}
}

// parseUserTrades turns private trade notifications into fills. A trade
// already reported inside a place response is suppressed; a trade whose
// order has no internal mapping yet raced ahead of the place response and
// is cached until the mapping is recorded.
func (c *Client) parseUserTrades(data json.RawMessage) {
	var trades []userTrade
	if err := sonic.ConfigFastest.Unmarshal(data, &trades); err != nil {
		logs.Errorf("deribit %s: parse user trades %s: %+v", c.account, data, err)
		return
	}

	for _, trade := range trades {
		c.mu.Lock()
		if _, acked := c.ackedFills[trade.TradeID]; acked {
			delete(c.ackedFills, trade.TradeID)
			c.mu.Unlock()
			continue
		}
		orderID, mapped := c.externalToInternal[trade.OrderID]
		if !mapped {
			// quantity stays in contract units until the instrument is known
			c.cachedFills[trade.OrderID] = append(c.cachedFills[trade.OrderID], event.Fill{
				Timestamp:   time.UnixMilli(trade.Timestamp),
				FillID:      trade.TradeID,
				Account:     c.account,
				Side:        parseDirection(trade.Direction),
				Price:       trade.Price,
				Quantity:    trade.Amount,
				Fee:         trade.Fee,
				FeeCurrency: trade.FeeCurrency,
			})
			c.mu.Unlock()
			continue
		}
		instrument := c.orderInstrument[orderID]
		c.mu.Unlock()

		c.cb.OnOrderUpdate(c.fillEvent(orderID, instrument, trade))
		if terminalOrderState(trade.State) {
			c.forget(orderID)
		}
	}
}
