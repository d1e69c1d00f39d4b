package okx

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/logs"

	"github.com/kylebaus/Baus/internal/core"
	"github.com/kylebaus/Baus/internal/event"
)

type channelArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

type privateMessage struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`

	ID   string          `json:"id"`
	Op   string          `json:"op"`
	Data json.RawMessage `json:"data"`

	Arg *channelArg `json:"arg"`
}

type opResult struct {
	ClOrdID string `json:"clOrdId"`
	OrdID   string `json:"ordId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
}

type orderUpdate struct {
	InstID   string `json:"instId"`
	ClOrdID  string `json:"clOrdId"`
	OrdID    string `json:"ordId"`
	State    string `json:"state"`
	Side     string `json:"side"`
	Px       string `json:"px"`
	Sz       string `json:"sz"`
	FillPx   string `json:"fillPx"`
	FillSz   string `json:"fillSz"`
	TradeID  string `json:"tradeId"`
	FillTime string `json:"fillTime"`
	Fee      string `json:"fee"`
	FeeCcy   string `json:"feeCcy"`
}

type bboUpdate struct {
	Asks [][]decimal.Decimal `json:"asks"`
	Bids [][]decimal.Decimal `json:"bids"`
	TS   string              `json:"ts"`
}

type publicTrade struct {
	InstID string          `json:"instId"`
	Px     decimal.Decimal `json:"px"`
	Sz     decimal.Decimal `json:"sz"`
	Side   string          `json:"side"`
}

// parseFloat tolerates the empty strings the orders channel uses for
// fields that do not apply to the current state.
func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func decimalFloat(d decimal.Decimal) float64 {
	return parseFloat(d.String())
}

func parseSide(side string) core.Side {
	if side == "sell" {
		return core.SideSell
	}
	return core.SideBuy
}

// parsePrivate decodes one private frame: login and subscribe events, op
// responses matched by request id, and orders-channel pushes. Malformed
// frames are logged and dropped.
func (c *Client) parsePrivate(payload []byte) {
	if string(payload) == "pong" {
		return
	}

	var message privateMessage
	if err := sonic.ConfigFastest.Unmarshal(payload, &message); err != nil {
		logs.Errorf("okx %s: parse private %s: %+v", c.account, payload, err)
		return
	}

	switch {
	case message.Event != "":
		c.parseEvent(message)
	case message.Op == "order":
		c.parsePlaceResponse(message)
	case message.Op == "cancel-order":
		c.parseCancelResponse(message)
	case message.Arg != nil && message.Arg.Channel == "orders":
		c.parseOrdersChannel(message.Data)
	}
}

func (c *Client) parseEvent(message privateMessage) {
	switch message.Event {
	case "login":
		if message.Code != "" && message.Code != "0" {
			logs.Errorf("okx %s: login rejected: %s %s", c.account, message.Code, message.Msg)
			return
		}
		c.onLogin()
	case "error":
		logs.Errorf("okx %s: event error: %s %s", c.account, message.Code, message.Msg)
	default:
	}
}

func (c *Client) parsePlaceResponse(message privateMessage) {
	c.mu.Lock()
	pending, ok := c.placeIDs[message.ID]
	delete(c.placeIDs, message.ID)
	c.mu.Unlock()
	if !ok {
		return
	}

	var results []opResult
	if err := sonic.ConfigFastest.Unmarshal(message.Data, &results); err != nil || len(results) == 0 {
		logs.Errorf("okx %s: parse place response %s: %+v", c.account, message.Data, err)
		c.dropPlace(pending)
		c.cb.OnOrderUpdate(event.PlaceReject{OrderID: pending.orderID, Reason: message.Msg})
		return
	}
	result := results[0]

	if message.Code != "0" || result.SCode != "0" {
		reason := result.SMsg
		if reason == "" {
			reason = message.Msg
		}
		logs.Infof("okx %s: place %d rejected: %s %s", c.account, pending.orderID, result.SCode, reason)
		c.dropPlace(pending)
		c.cb.OnOrderUpdate(event.PlaceReject{OrderID: pending.orderID, Reason: reason})
		if result.SCode == _rateLimitedErrorCode || message.Code == _rateLimitedErrorCode {
			c.cooldown.Trigger()
		}
		return
	}

	c.mu.Lock()
	_, acked := c.ackedPlaces[pending.clientID]
	if !acked {
		c.ackedPlaces[pending.clientID] = struct{}{}
	}
	c.mu.Unlock()
	if acked {
		// the orders channel beat this response
		return
	}

	c.cb.OnOrderUpdate(event.PlaceAck{
		OrderID:    pending.orderID,
		Account:    c.account,
		Instrument: pending.order.Instrument,
		Side:       pending.order.Side,
		Price:      pending.order.Price,
		Quantity:   pending.order.Quantity,
	})
}

func (c *Client) dropPlace(pending pendingPlace) {
	c.mu.Lock()
	delete(c.clientToInternal, pending.clientID)
	delete(c.clientOrder, pending.clientID)
	delete(c.ackedPlaces, pending.clientID)
	c.mu.Unlock()
}

func (c *Client) parseCancelResponse(message privateMessage) {
	c.mu.Lock()
	orderID, ok := c.cancelIDs[message.ID]
	delete(c.cancelIDs, message.ID)
	c.mu.Unlock()
	if !ok {
		return
	}

	var results []opResult
	_ = sonic.ConfigFastest.Unmarshal(message.Data, &results)
	var result opResult
	if len(results) > 0 {
		result = results[0]
	}

	if message.Code != "0" || result.SCode != "0" {
		if c.cfg.ClosedCode(result.SCode) {
			// already filled or cancelled: the order is closed either way
			c.cb.OnOrderUpdate(event.CancelAck{OrderID: orderID})
			return
		}
		reason := result.SMsg
		if reason == "" {
			reason = message.Msg
		}
		logs.Infof("okx %s: cancel %d rejected: %s %s", c.account, orderID, result.SCode, reason)
		c.cb.OnOrderUpdate(event.CancelReject{OrderID: orderID, Reason: reason})
		if result.SCode == _rateLimitedErrorCode || message.Code == _rateLimitedErrorCode {
			c.cooldown.Trigger()
		}
		return
	}
	c.cb.OnOrderUpdate(event.CancelAck{OrderID: orderID})
}

// parseOrdersChannel handles execution reports. The channel can outrun the
// op response, so a live state acknowledges the place here and the later
// response is suppressed. Client order ids embed the internal id, so fills
// always map without caching.
func (c *Client) parseOrdersChannel(data json.RawMessage) {
	var updates []orderUpdate
	if err := sonic.ConfigFastest.Unmarshal(data, &updates); err != nil {
		logs.Errorf("okx %s: parse orders channel %s: %+v", c.account, data, err)
		return
	}

	for _, update := range updates {
		c.mu.Lock()
		orderID, mapped := c.clientToInternal[update.ClOrdID]
		order := c.clientOrder[update.ClOrdID]
		c.mu.Unlock()
		if !mapped {
			// an order from another session
			continue
		}
		instrument := order.Instrument

		if update.State == "live" {
			c.mu.Lock()
			_, acked := c.ackedPlaces[update.ClOrdID]
			if !acked {
				c.ackedPlaces[update.ClOrdID] = struct{}{}
			}
			c.mu.Unlock()
			if !acked {
				px := parseFloat(update.Px)
				c.cb.OnOrderUpdate(event.PlaceAck{
					OrderID:    orderID,
					Account:    c.account,
					Instrument: instrument,
					Side:       parseSide(update.Side),
					Price:      px,
					Quantity:   instrument.BaseQuantity(parseFloat(update.Sz), px),
				})
			}
		}

		if update.FillSz != "" && update.FillSz != "0" {
			fillPx := parseFloat(update.FillPx)
			fillTime, _ := strconv.ParseInt(update.FillTime, 10, 64)
			c.cb.OnOrderUpdate(event.Fill{
				Timestamp:  time.UnixMilli(fillTime),
				FillID:     update.TradeID,
				OrderID:    orderID,
				Account:    c.account,
				Instrument: instrument,
				Side:       parseSide(update.Side),
				Price:      fillPx,
				Quantity:   instrument.BaseQuantity(parseFloat(update.FillSz), fillPx),
				// fees are reported negative when charged
				Fee:         -parseFloat(update.Fee),
				FeeCurrency: update.FeeCcy,
			})
		}

		// the channel always delivers the terminal state, so the
		// correlation entries can be dropped here
		if update.State == "filled" || update.State == "canceled" {
			c.forget(update.ClOrdID)
		}
	}
}

// parsePublic decodes one public frame: bbo-tbt and trades pushes.
func (c *Client) parsePublic(payload []byte) {
	if string(payload) == "pong" {
		return
	}

	var message privateMessage
	if err := sonic.ConfigFastest.Unmarshal(payload, &message); err != nil {
		logs.Errorf("okx %s: parse public %s: %+v", c.account, payload, err)
		return
	}

	if message.Event != "" {
		if message.Event == "error" {
			logs.Errorf("okx %s: public event error: %s %s", c.account, message.Code, message.Msg)
		}
		return
	}
	if message.Arg == nil {
		return
	}

	switch message.Arg.Channel {
	case "bbo-tbt":
		c.parseBBO(message.Arg.InstID, message.Data)
	case "trades":
		c.parseTrades(message.Data)
	}
}

func (c *Client) parseBBO(instID string, data json.RawMessage) {
	c.mu.Lock()
	instrument, ok := c.bookSubs[instID]
	c.mu.Unlock()
	if !ok {
		return
	}

	var updates []bboUpdate
	if err := sonic.ConfigFastest.Unmarshal(data, &updates); err != nil {
		logs.Errorf("okx %s: parse bbo %s: %+v", c.account, data, err)
		return
	}

	for _, update := range updates {
		if len(update.Bids) == 0 || len(update.Asks) == 0 ||
			len(update.Bids[0]) < 2 || len(update.Asks[0]) < 2 {
			continue
		}

		bidPx := decimalFloat(update.Bids[0][0])
		askPx := decimalFloat(update.Asks[0][0])
		ts, _ := strconv.ParseInt(update.TS, 10, 64)

		c.cb.OnMarketDataUpdate(event.TopOfBook{
			Instrument: instrument,
			UpdateAt:   time.UnixMilli(ts),
			BestBid: core.OrderbookLevel{
				Instrument: instrument,
				Side:       core.SideBuy,
				Price:      bidPx,
				Quantity:   instrument.BaseQuantity(decimalFloat(update.Bids[0][1]), bidPx),
			},
			BestAsk: core.OrderbookLevel{
				Instrument: instrument,
				Side:       core.SideSell,
				Price:      askPx,
				Quantity:   instrument.BaseQuantity(decimalFloat(update.Asks[0][1]), askPx),
			},
		})
	}
}

func (c *Client) parseTrades(data json.RawMessage) {
	var trades []publicTrade
	if err := sonic.ConfigFastest.Unmarshal(data, &trades); err != nil {
		logs.Errorf("okx %s: parse trades %s: %+v", c.account, data, err)
		return
	}

	for _, trade := range trades {
		c.mu.Lock()
		instrument, ok := c.tradeSubs[trade.InstID]
		c.mu.Unlock()
		if !ok {
			continue
		}

		px := decimalFloat(trade.Px)
		c.cb.OnMarketDataUpdate(event.Trade{
			Instrument: instrument,
			Side:       parseSide(trade.Side),
			Price:      px,
			Quantity:   instrument.BaseQuantity(decimalFloat(trade.Sz), px),
		})
	}
}
