package binancecm

import (
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/logs"

	"github.com/kylebaus/Baus/internal/core"
	"github.com/kylebaus/Baus/internal/event"
)

type streamMessage struct {
	Event     string `json:"e"`
	EventTime int64  `json:"E"`
	Symbol    string `json:"s"`

	// bookTicker
	BidPrice string `json:"b"`
	BidQty   string `json:"B"`
	AskPrice string `json:"a"`
	AskQty   string `json:"A"`

	// trade
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`

	Order *orderTradeUpdate `json:"o"`
}

type orderTradeUpdate struct {
	Symbol      string `json:"s"`
	ExternalID  int64  `json:"i"`
	Status      string `json:"X"`
	Side        string `json:"S"`
	LastPrice   string `json:"L"`
	LastQty     string `json:"l"`
	Fee         string `json:"n"`
	FeeCurrency string `json:"N"`
	TradeTime   int64  `json:"T"`
	TradeID     int64  `json:"t"`
}

// parseWebsocket decodes one stream frame. Malformed frames are logged and
// dropped, never allowed to take the gateway down.
func (c *Client) parseWebsocket(payload []byte) {
	var message streamMessage
	if err := sonic.ConfigFastest.Unmarshal(payload, &message); err != nil {
		logs.Errorf("binancecm %s: parse websocket %s: %+v", c.account, payload, err)
		return
	}

	switch message.Event {
	case "bookTicker":
		c.parseBookTicker(message)
	case "trade":
		c.parseTrade(message)
	case "ORDER_TRADE_UPDATE":
		if message.Order != nil {
			c.parseOrderTradeUpdate(*message.Order)
		}
	default:
	}
}

func (c *Client) parseBookTicker(message streamMessage) {
	c.mu.Lock()
	instrument, ok := c.bookSubs[message.Symbol]
	c.mu.Unlock()
	if !ok {
		return
	}

	bidPrice, _ := strconv.ParseFloat(message.BidPrice, 64)
	bidQty, _ := strconv.ParseFloat(message.BidQty, 64)
	askPrice, _ := strconv.ParseFloat(message.AskPrice, 64)
	askQty, _ := strconv.ParseFloat(message.AskQty, 64)

	c.cb.OnMarketDataUpdate(event.TopOfBook{
		Instrument: instrument,
		UpdateAt:   time.UnixMilli(message.EventTime),
		BestBid:    core.OrderbookLevel{Instrument: instrument, Side: core.SideBuy, Price: bidPrice, Quantity: bidQty},
		BestAsk:    core.OrderbookLevel{Instrument: instrument, Side: core.SideSell, Price: askPrice, Quantity: askQty},
	})
}

func (c *Client) parseTrade(message streamMessage) {
	c.mu.Lock()
	instrument, ok := c.tradeSubs[message.Symbol]
	c.mu.Unlock()
	if !ok {
		return
	}

	price, _ := strconv.ParseFloat(message.Price, 64)
	quantity, _ := strconv.ParseFloat(message.Quantity, 64)
	side := core.SideBuy
	if message.IsBuyerMaker {
		side = core.SideSell
	}

	c.cb.OnMarketDataUpdate(event.Trade{
		Instrument: instrument,
		Side:       side,
		Price:      price,
		Quantity:   quantity,
	})
}

// parseOrderTradeUpdate turns execution reports into fills. A fill whose
// external id has no internal mapping yet raced ahead of the place
// acknowledgement and is cached until the mapping is recorded. A terminal
// report additionally releases the order's correlation state.
func (c *Client) parseOrderTradeUpdate(update orderTradeUpdate) {
	if terminalOrderStatus(update.Status) {
		defer c.forget(update.ExternalID)
	}
	if update.LastPrice == "" || update.LastPrice == "0" {
		return
	}

	price, _ := strconv.ParseFloat(update.LastPrice, 64)
	quantity, _ := strconv.ParseFloat(update.LastQty, 64)
	fee, _ := strconv.ParseFloat(update.Fee, 64)

	side := core.SideBuy
	if update.Side == "SELL" {
		side = core.SideSell
	}

	c.mu.Lock()
	orderID, mapped := c.externalToInternal[update.ExternalID]
	var instrument *core.Instrument
	if mapped {
		instrument = c.orderInstrument[orderID]
	}

	fill := event.Fill{
		Timestamp:   time.UnixMilli(update.TradeTime),
		FillID:      strconv.FormatInt(update.TradeID, 10),
		OrderID:     orderID,
		Account:     c.account,
		Instrument:  instrument,
		Side:        side,
		Price:       price,
		Quantity:    quantity,
		Fee:         fee,
		FeeCurrency: update.FeeCurrency,
	}

	if !mapped {
		c.cachedFills[update.ExternalID] = append(c.cachedFills[update.ExternalID], fill)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.cb.OnOrderUpdate(fill)
}

func terminalOrderStatus(status string) bool {
	switch status {
	case "FILLED", "CANCELED", "EXPIRED", "REJECTED":
		return true
	default:
		return false
	}
}
