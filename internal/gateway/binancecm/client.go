// Package binancecm implements the Binance COIN-M futures gateway: signed
// REST order entry and a listen-key user/market data stream over one
// websocket connection.
package binancecm

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/kylebaus/Baus/internal/core"
	"github.com/kylebaus/Baus/internal/event"
	"github.com/kylebaus/Baus/internal/gateway"
	"github.com/kylebaus/Baus/pkg/ws"
)

const (
	_defaultRestHost = "https://dapi.binance.com"

	_listenKeyEndpoint = "/dapi/v1/listenKey"
	_orderEndpoint     = "/dapi/v1/order"

	_recvWindowMillis     = 60000
	_listenKeyKeepAlive   = 30 * time.Minute
	_requestTimeout       = 15 * time.Second
	_rateLimitedErrorCode = -1015
)

// Client is the Binance COIN-M protocol client. It runs inside one gateway
// runner context; the internal mutex only covers the correlation maps
// shared between the command path and the websocket read loop.
type Client struct {
	cfg     gateway.Config
	cb      gateway.Callbacks
	account core.Account

	http     *http.Client
	restHost string

	wsClient atomic.Pointer[ws.Client]
	cooldown *gateway.Cooldown

	mu                 sync.Mutex
	wsID               int64
	internalToExternal map[int64]int64
	externalToInternal map[int64]int64
	orderInstrument    map[int64]*core.Instrument
	cachedFills        map[int64][]event.Fill
	bookSubs           map[string]*core.Instrument
	tradeSubs          map[string]*core.Instrument
}

func New(cfg gateway.Config, cb gateway.Callbacks) *Client {
	restHost := cfg.RestHost
	if restHost == "" {
		restHost = _defaultRestHost
	}
	return &Client{
		cfg:                cfg,
		cb:                 cb,
		account:            cfg.Account,
		http:               &http.Client{Timeout: _requestTimeout},
		restHost:           restHost,
		cooldown:           gateway.NewCooldown(cfg.RateLimitCooldown),
		internalToExternal: make(map[int64]int64),
		externalToInternal: make(map[int64]int64),
		orderInstrument:    make(map[int64]*core.Instrument),
		cachedFills:        make(map[int64][]event.Fill),
		bookSubs:           make(map[string]*core.Instrument),
		tradeSubs:          make(map[string]*core.Instrument),
	}
}

func (c *Client) IsActive() bool {
	client := c.wsClient.Load()
	return client != nil && client.IsActive()
}

// Run fetches the user-stream listen key, connects the websocket and keeps
// the listen key alive. Blocks until the context is done.
func (c *Client) Run(ctx context.Context) {
	listenKey, err := c.fetchListenKey(ctx)
	for err != nil {
		logs.Errorf("binancecm %s: fetch listen key: %+v", c.account, err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.reconnectCooloff()):
		}
		listenKey, err = c.fetchListenKey(ctx)
	}

	client := ws.New(c.cfg.Host+"/"+listenKey, ws.Option{
		OnConnect:    c.resubscribe,
		OnRead:       c.parseWebsocket,
		OnDisconnect: c.notifyDisconnect,
		Cooloff:      c.reconnectCooloff(),
	})
	c.wsClient.Store(client)

	go c.keepAliveListenKey(ctx)
	client.Run(ctx)
}

func (c *Client) reconnectCooloff() time.Duration {
	if c.cfg.ReconnectCooloff > 0 {
		return c.cfg.ReconnectCooloff
	}
	return ws.DefaultCooloff
}

func (c *Client) notifyDisconnect() {
	logs.Infof("binancecm %s: transport lost", c.account)
	c.cb.OnGatewayUpdate(event.Disconnect{Account: c.account})
}

// signature signs a payload string with the account secret.
func (c *Client) signature(payload string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.Secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// signPayload appends the millisecond timestamp and receive window, then
// the signature over the urlencoded parameters.
func (c *Client) signPayload(params url.Values) string {
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", strconv.Itoa(_recvWindowMillis))
	encoded := params.Encode()
	return encoded + "&signature=" + c.signature(encoded)
}

func (c *Client) request(ctx context.Context, method, endpoint, signedQuery string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, _requestTimeout)
	defer cancel()

	target := c.restHost + endpoint
	if signedQuery != "" {
		target += "?" + signedQuery
	}
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("X-MBX-APIKEY", c.cfg.Key)
	if method == http.MethodGet {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *Client) fetchListenKey(ctx context.Context) (string, error) {
	body, err := c.request(ctx, http.MethodPost, _listenKeyEndpoint, "")
	if err != nil {
		return "", errors.Wrap(err, "listen key request")
	}
	var parsed struct {
		ListenKey string `json:"listenKey"`
	}
	if err := sonic.ConfigFastest.Unmarshal(body, &parsed); err != nil {
		return "", errors.Wrap(err, "parse listen key")
	}
	if parsed.ListenKey == "" {
		return "", errors.Errorf("empty listen key response: %s", body)
	}
	return parsed.ListenKey, nil
}

func (c *Client) keepAliveListenKey(ctx context.Context) {
	ticker := time.NewTicker(_listenKeyKeepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.request(ctx, http.MethodPut, _listenKeyEndpoint, ""); err != nil {
				logs.Errorf("binancecm %s: keep alive listen key: %+v", c.account, err)
				continue
			}
			logs.Infof("binancecm %s: keep alive listen key success", c.account)
		}
	}
}

func timeInForce(orderType core.OrderType) string {
	switch orderType {
	case core.OrderTypeIOC:
		return "IOC"
	case core.OrderTypePostOnly:
		return "GTX"
	default:
		return "GTC"
	}
}

// Place sends a signed order-entry request. The REST round trip runs on
// its own goroutine so the command loop never blocks on network I/O.
func (c *Client) Place(orderID int64, order core.Order) {
	if c.cooldown.Active() {
		c.cb.OnOrderUpdate(event.PlaceReject{OrderID: orderID, Reason: "INTERNAL RATE LIMIT"})
		return
	}
	go c.placeRequest(context.Background(), orderID, order)
}

type orderResponse struct {
	OrderID int64  `json:"orderId"`
	Price   string `json:"price"`
	OrigQty string `json:"origQty"`
	Code    int    `json:"code"`
	Msg     string `json:"msg"`
}

func (c *Client) placeRequest(ctx context.Context, orderID int64, order core.Order) {
	params := url.Values{}
	params.Set("symbol", order.Instrument.ExternalSymbol)
	params.Set("side", order.Side.String())
	params.Set("type", "LIMIT")
	params.Set("timeInForce", timeInForce(order.Type))
	params.Set("quantity", gateway.FormatQuantity(order.Instrument, order.Quantity))
	params.Set("price", gateway.FormatPrice(order.Instrument, order.Price))

	body, err := c.request(ctx, http.MethodPost, _orderEndpoint, c.signPayload(params))
	if err != nil {
		logs.Errorf("binancecm %s: place %d: %+v", c.account, orderID, err)
		c.cb.OnOrderUpdate(event.PlaceReject{OrderID: orderID, Reason: err.Error()})
		return
	}

	var parsed orderResponse
	if err := sonic.ConfigFastest.Unmarshal(body, &parsed); err != nil {
		logs.Errorf("binancecm %s: parse place response %s: %+v", c.account, body, err)
		c.cb.OnOrderUpdate(event.PlaceReject{OrderID: orderID, Reason: string(body)})
		return
	}

	if parsed.OrderID == 0 {
		logs.Infof("binancecm %s: place %d rejected: %s", c.account, orderID, body)
		c.cb.OnOrderUpdate(event.PlaceReject{OrderID: orderID, Reason: parsed.Msg})
		if parsed.Code == _rateLimitedErrorCode {
			c.cooldown.Trigger()
		}
		return
	}

	price, _ := strconv.ParseFloat(parsed.Price, 64)
	quantity, _ := strconv.ParseFloat(parsed.OrigQty, 64)

	c.mu.Lock()
	c.internalToExternal[orderID] = parsed.OrderID
	c.externalToInternal[parsed.OrderID] = orderID
	c.orderInstrument[orderID] = order.Instrument
	pending := c.cachedFills[parsed.OrderID]
	delete(c.cachedFills, parsed.OrderID)
	c.mu.Unlock()

	c.cb.OnOrderUpdate(event.PlaceAck{
		OrderID:    orderID,
		Account:    c.account,
		Instrument: order.Instrument,
		Side:       order.Side,
		Price:      price,
		Quantity:   quantity,
	})

	// fills that raced ahead of this acknowledgement, re-tagged now that
	// the mapping exists
	for _, fill := range pending {
		fill.OrderID = orderID
		c.cb.OnOrderUpdate(fill)
	}
}

// forget drops a closed order's correlation state so the maps do not grow
// with the process lifetime. Unmapped ids keep their cached fills; the
// mapping is still on its way.
func (c *Client) forget(externalID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	orderID, mapped := c.externalToInternal[externalID]
	if !mapped {
		return
	}
	delete(c.externalToInternal, externalID)
	delete(c.internalToExternal, orderID)
	delete(c.orderInstrument, orderID)
	delete(c.cachedFills, externalID)
}

// Cancel sends a signed cancel for the mapped external order id.
func (c *Client) Cancel(orderID int64) {
	c.mu.Lock()
	externalID, mapped := c.internalToExternal[orderID]
	instrument := c.orderInstrument[orderID]
	c.mu.Unlock()
	if !mapped {
		c.cb.OnOrderUpdate(event.CancelReject{OrderID: orderID, Reason: "order not mapped"})
		return
	}
	go c.cancelRequest(context.Background(), orderID, externalID, instrument)
}

func (c *Client) cancelRequest(ctx context.Context, orderID, externalID int64, instrument *core.Instrument) {
	params := url.Values{}
	params.Set("symbol", instrument.ExternalSymbol)
	params.Set("orderId", strconv.FormatInt(externalID, 10))

	body, err := c.request(ctx, http.MethodDelete, _orderEndpoint, c.signPayload(params))
	if err != nil {
		logs.Errorf("binancecm %s: cancel %d: %+v", c.account, orderID, err)
		c.cb.OnOrderUpdate(event.CancelReject{OrderID: orderID, Reason: err.Error()})
		return
	}

	var parsed orderResponse
	if err := sonic.ConfigFastest.Unmarshal(body, &parsed); err != nil {
		c.cb.OnOrderUpdate(event.CancelReject{OrderID: orderID, Reason: string(body)})
		return
	}
	if parsed.Code != 0 {
		if c.cfg.ClosedCode(strconv.Itoa(parsed.Code)) {
			// already filled or cancelled: the order is closed either way
			c.forget(externalID)
			c.cb.OnOrderUpdate(event.CancelAck{OrderID: orderID})
			return
		}
		c.cb.OnOrderUpdate(event.CancelReject{OrderID: orderID, Reason: parsed.Msg})
		return
	}
	c.forget(externalID)
	c.cb.OnOrderUpdate(event.CancelAck{OrderID: orderID})
}

// Modify is not supported on this venue; reported as a reject so the
// caller's pending state clears.
func (c *Client) Modify(orderID int64, order core.Order) {
	c.cb.OnOrderUpdate(event.CancelReject{OrderID: orderID, Reason: "MODIFY NOT SUPPORTED"})
}

func (c *Client) nextWsID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.wsID++
	return c.wsID
}

func (c *Client) send(v any) {
	client := c.wsClient.Load()
	if client == nil {
		logs.Errorf("binancecm %s: send before transport ready", c.account)
		return
	}
	if err := client.SendJSON(v); err != nil {
		logs.Errorf("binancecm %s: send: %+v", c.account, err)
	}
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func (c *Client) SubscribeOrderbook(instrument *core.Instrument) {
	logs.Infof("binancecm %s: subscribe orderbook %s", c.account, instrument.ExternalSymbol)
	c.mu.Lock()
	c.bookSubs[instrument.ExternalSymbol] = instrument
	c.mu.Unlock()
	c.send(subscribeRequest{
		Method: "SUBSCRIBE",
		Params: []string{strings.ToLower(instrument.ExternalSymbol) + "@bookTicker"},
		ID:     c.nextWsID(),
	})
}

func (c *Client) SubscribeTrades(instrument *core.Instrument) {
	logs.Infof("binancecm %s: subscribe trades %s", c.account, instrument.ExternalSymbol)
	c.mu.Lock()
	c.tradeSubs[instrument.ExternalSymbol] = instrument
	c.mu.Unlock()
	c.send(subscribeRequest{
		Method: "SUBSCRIBE",
		Params: []string{strings.ToLower(instrument.ExternalSymbol) + "@trade"},
		ID:     c.nextWsID(),
	})
}

// resubscribe replays every live market-data stream after a dial. Order
// flow needs no replay, the listen-key stream pushes it unprompted.
func (c *Client) resubscribe(_ context.Context, client *ws.Client) error {
	c.mu.Lock()
	params := make([]string, 0, len(c.bookSubs)+len(c.tradeSubs))
	for symbol := range c.bookSubs {
		params = append(params, strings.ToLower(symbol)+"@bookTicker")
	}
	for symbol := range c.tradeSubs {
		params = append(params, strings.ToLower(symbol)+"@trade")
	}
	c.wsID++
	id := c.wsID
	c.mu.Unlock()

	if len(params) == 0 {
		return nil
	}
	return client.SendJSON(subscribeRequest{
		Method: "SUBSCRIBE",
		Params: params,
		ID:     id,
	})
}

func (c *Client) SubscribeFills() {
	logs.Infof("binancecm %s: subscribe fills", c.account)
	c.send(subscribeRequest{
		Method: "SUBSCRIBE",
		Params: []string{"ORDER_TRADE_UPDATE"},
		ID:     c.nextWsID(),
	})
}
