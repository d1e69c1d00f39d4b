// Package deribit implements the Deribit gateway: one authenticated
// JSON-RPC websocket carries order entry, private fills and public market
// data.
package deribit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanun0323/logs"

	"github.com/kylebaus/Baus/internal/core"
	"github.com/kylebaus/Baus/internal/event"
	"github.com/kylebaus/Baus/internal/gateway"
	"github.com/kylebaus/Baus/pkg/ws"
)

const (
	_defaultHost = "wss://www.deribit.com/ws/api/v2"

	_rateLimitedErrorCode = 10028
)

type pendingPlace struct {
	orderID int64
	order   core.Order
}

type pendingEdit struct {
	orderID int64
	order   core.Order
}

// Client is the Deribit protocol client. Request ids correlate JSON-RPC
// responses back to the command that produced them; the mutex covers the
// correlation maps shared between the command path and the read loop.
type Client struct {
	cfg     gateway.Config
	cb      gateway.Callbacks
	account core.Account

	wsClient atomic.Pointer[ws.Client]
	cooldown *gateway.Cooldown

	mu        sync.Mutex
	rpcID     int64
	loginIDs  map[int64]struct{}
	subIDs    map[int64]struct{}
	placeIDs  map[int64]pendingPlace
	editIDs   map[int64]pendingEdit
	cancelIDs map[int64]int64

	internalToExternal map[int64]string
	externalToInternal map[string]int64
	orderInstrument    map[int64]*core.Instrument
	cachedFills        map[string][]event.Fill
	ackedFills         map[string]struct{}

	bookSubs  map[string]*core.Instrument
	tradeSubs map[string]*core.Instrument
	fillsSub  bool
}

func New(cfg gateway.Config, cb gateway.Callbacks) *Client {
	return &Client{
		cfg:                cfg,
		cb:                 cb,
		account:            cfg.Account,
		cooldown:           gateway.NewCooldown(cfg.RateLimitCooldown),
		loginIDs:           make(map[int64]struct{}),
		subIDs:             make(map[int64]struct{}),
		placeIDs:           make(map[int64]pendingPlace),
		editIDs:            make(map[int64]pendingEdit),
		cancelIDs:          make(map[int64]int64),
		internalToExternal: make(map[int64]string),
		externalToInternal: make(map[string]int64),
		orderInstrument:    make(map[int64]*core.Instrument),
		cachedFills:        make(map[string][]event.Fill),
		ackedFills:         make(map[string]struct{}),
		bookSubs:           make(map[string]*core.Instrument),
		tradeSubs:          make(map[string]*core.Instrument),
	}
}

func (c *Client) IsActive() bool {
	client := c.wsClient.Load()
	return client != nil && client.IsActive()
}

// Run connects the websocket and blocks until the context is done. The
// login frame and every live subscription are replayed on each reconnect.
func (c *Client) Run(ctx context.Context) {
	host := c.cfg.Host
	if host == "" {
		host = _defaultHost
	}

	cooloff := c.cfg.ReconnectCooloff
	if cooloff <= 0 {
		cooloff = ws.DefaultCooloff
	}

	client := ws.New(host, ws.Option{
		OnRead:       c.parseWebsocket,
		OnConnect:    c.onConnect,
		OnDisconnect: c.notifyDisconnect,
		Cooloff:      cooloff,
	})
	c.wsClient.Store(client)
	client.Run(ctx)
}

func (c *Client) onConnect(context.Context, *ws.Client) error {
	c.login()

	c.mu.Lock()
	channels := make([]string, 0, len(c.bookSubs)+len(c.tradeSubs)+1)
	for symbol := range c.bookSubs {
		channels = append(channels, "ticker."+symbol+".raw")
	}
	for symbol := range c.tradeSubs {
		channels = append(channels, "trades."+symbol+".raw")
	}
	if c.fillsSub {
		channels = append(channels, "user.trades.any.any.raw")
	}
	c.mu.Unlock()

	if len(channels) > 0 {
		c.sendRequest("private/subscribe", map[string]any{"channels": channels}, c.registerSub)
	}
	return nil
}

func (c *Client) notifyDisconnect() {
	logs.Infof("deribit %s: transport lost", c.account)
	c.cb.OnGatewayUpdate(event.Disconnect{Account: c.account})
}

// signature signs timestamp\nnonce\ndata with the account secret.
func (c *Client) signature(timestamp int64, nonce, data string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.Secret))
	mac.Write([]byte(strconv.FormatInt(timestamp, 10) + "\n" + nonce + "\n" + data))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) login() {
	timestamp := time.Now().UnixMilli()
	nonce := strconv.FormatInt(time.Now().UnixNano(), 36)
	id, sent := c.sendRequest("public/auth", map[string]any{
		"grant_type": "client_signature",
		"client_id":  c.cfg.Key,
		"timestamp":  timestamp,
		"nonce":      nonce,
		"data":       "",
		"signature":  c.signature(timestamp, nonce, ""),
	}, func(id int64) {
		c.loginIDs[id] = struct{}{}
	})
	if !sent {
		c.mu.Lock()
		delete(c.loginIDs, id)
		c.mu.Unlock()
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// sendRequest allocates a request id, records it via register while still
// holding the lock and writes the frame. Returns false when the transport
// is down, with the registration rolled back by the caller's map.
func (c *Client) sendRequest(method string, params any, register func(id int64)) (int64, bool) {
	c.mu.Lock()
	c.rpcID++
	id := c.rpcID
	if register != nil {
		register(id)
	}
	c.mu.Unlock()

	client := c.wsClient.Load()
	if client == nil {
		logs.Errorf("deribit %s: %s before transport ready", c.account, method)
		return id, false
	}
	if err := client.SendJSON(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}); err != nil {
		logs.Errorf("deribit %s: %s: %+v", c.account, method, err)
		return id, false
	}
	return id, true
}

func (c *Client) registerSub(id int64) {
	c.subIDs[id] = struct{}{}
}

// subscribe issues one private/subscribe request, rolling the registered
// correlation id back when the frame never left the process.
func (c *Client) subscribe(channels []string) {
	id, sent := c.sendRequest("private/subscribe", map[string]any{"channels": channels}, c.registerSub)
	if !sent {
		c.mu.Lock()
		delete(c.subIDs, id)
		c.mu.Unlock()
	}
}

// Place submits a limit order carrying the internal id as its label.
func (c *Client) Place(orderID int64, order core.Order) {
	if c.cooldown.Active() {
		c.cb.OnOrderUpdate(event.PlaceReject{OrderID: orderID, Reason: "INTERNAL RATE LIMIT"})
		return
	}

	method := "private/buy"
	if order.Side == core.SideSell {
		method = "private/sell"
	}

	params := map[string]any{
		"instrument_name": order.Instrument.ExternalSymbol,
		"amount":          order.Instrument.ContractQuantity(order.Quantity, order.Price),
		"price":           order.Price,
		"type":            "limit",
		"label":           strconv.FormatInt(orderID, 10),
	}
	switch order.Type {
	case core.OrderTypeIOC:
		params["time_in_force"] = "immediate_or_cancel"
	case core.OrderTypePostOnly:
		params["post_only"] = true
	}

	id, sent := c.sendRequest(method, params, func(id int64) {
		c.placeIDs[id] = pendingPlace{orderID: orderID, order: order}
	})
	if !sent {
		c.mu.Lock()
		delete(c.placeIDs, id)
		c.mu.Unlock()
		c.cb.OnOrderUpdate(event.PlaceReject{OrderID: orderID, Reason: "TRANSPORT INACTIVE"})
	}
}

// forget drops the correlation state of a closed order so the maps do
// not grow with every order the session ever placed.
func (c *Client) forget(orderID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	externalID, mapped := c.internalToExternal[orderID]
	if !mapped {
		return
	}
	delete(c.internalToExternal, orderID)
	delete(c.externalToInternal, externalID)
	delete(c.orderInstrument, orderID)
	delete(c.cachedFills, externalID)
}

// Cancel cancels the mapped external order id.
func (c *Client) Cancel(orderID int64) {
	c.mu.Lock()
	externalID, mapped := c.internalToExternal[orderID]
	c.mu.Unlock()
	if !mapped {
		c.cb.OnOrderUpdate(event.CancelReject{OrderID: orderID, Reason: "order not mapped"})
		return
	}

	id, sent := c.sendRequest("private/cancel", map[string]any{"order_id": externalID}, func(id int64) {
		c.cancelIDs[id] = orderID
	})
	if !sent {
		c.mu.Lock()
		delete(c.cancelIDs, id)
		c.mu.Unlock()
		c.cb.OnOrderUpdate(event.CancelReject{OrderID: orderID, Reason: "TRANSPORT INACTIVE"})
	}
}

// Modify edits price and amount in place.
func (c *Client) Modify(orderID int64, order core.Order) {
	c.mu.Lock()
	externalID, mapped := c.internalToExternal[orderID]
	c.mu.Unlock()
	if !mapped {
		c.cb.OnOrderUpdate(event.CancelReject{OrderID: orderID, Reason: "order not mapped"})
		return
	}

	id, sent := c.sendRequest("private/edit", map[string]any{
		"order_id": externalID,
		"amount":   order.Instrument.ContractQuantity(order.Quantity, order.Price),
		"price":    order.Price,
	}, func(id int64) {
		c.editIDs[id] = pendingEdit{orderID: orderID, order: order}
	})
	if !sent {
		c.mu.Lock()
		delete(c.editIDs, id)
		c.mu.Unlock()
		c.cb.OnOrderUpdate(event.CancelReject{OrderID: orderID, Reason: "TRANSPORT INACTIVE"})
	}
}

func (c *Client) SubscribeOrderbook(instrument *core.Instrument) {
	logs.Infof("deribit %s: subscribe orderbook %s", c.account, instrument.ExternalSymbol)
	c.mu.Lock()
	c.bookSubs[instrument.ExternalSymbol] = instrument
	c.mu.Unlock()
	c.subscribe([]string{"ticker." + instrument.ExternalSymbol + ".raw"})
}

func (c *Client) SubscribeTrades(instrument *core.Instrument) {
	logs.Infof("deribit %s: subscribe trades %s", c.account, instrument.ExternalSymbol)
	c.mu.Lock()
	c.tradeSubs[instrument.ExternalSymbol] = instrument
	c.mu.Unlock()
	c.subscribe([]string{"trades." + instrument.ExternalSymbol + ".raw"})
}

func (c *Client) SubscribeFills() {
	logs.Infof("deribit %s: subscribe fills", c.account)
	c.mu.Lock()
	c.fillsSub = true
	c.mu.Unlock()
	c.subscribe([]string{"user.trades.any.any.raw"})
}
