// Package okx implements the OKX v5 gateway: a private websocket with a
// login frame for order entry and fills, and a public websocket for market
// data. Client order ids carry the internal order id so every execution
// report maps without a round trip.
package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
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
	_defaultPrivateHost = "wss://ws.okx.com:8443/ws/v5/private"
	_defaultPublicHost  = "wss://ws.okx.com:8443/ws/v5/public"

	_signRequestPath = "/users/self/verify"

	_pingInterval = 20 * time.Second

	_rateLimitedErrorCode = "50011"
)

type pendingPlace struct {
	orderID  int64
	clientID string
	order    core.Order
}

// Client is the OKX protocol client. The clientID prefix is fixed at
// construction time so client order ids never collide across restarts.
type Client struct {
	cfg     gateway.Config
	cb      gateway.Callbacks
	account core.Account

	private atomic.Pointer[ws.Client]
	public  atomic.Pointer[ws.Client]

	cooldown *gateway.Cooldown
	prefix   string

	mu          sync.Mutex
	reqID       int64
	placeIDs    map[string]pendingPlace
	cancelIDs   map[string]int64
	ackedPlaces map[string]struct{}

	clientToInternal map[string]int64
	clientOrder      map[string]core.Order

	bookSubs  map[string]*core.Instrument
	tradeSubs map[string]*core.Instrument
	fillsSub  bool
}

func New(cfg gateway.Config, cb gateway.Callbacks) *Client {
	return &Client{
		cfg:              cfg,
		cb:               cb,
		account:          cfg.Account,
		cooldown:         gateway.NewCooldown(cfg.RateLimitCooldown),
		prefix:           strconv.FormatInt(time.Now().Unix(), 10),
		placeIDs:         make(map[string]pendingPlace),
		cancelIDs:        make(map[string]int64),
		ackedPlaces:      make(map[string]struct{}),
		clientToInternal: make(map[string]int64),
		clientOrder:      make(map[string]core.Order),
		bookSubs:         make(map[string]*core.Instrument),
		tradeSubs:        make(map[string]*core.Instrument),
	}
}

func (c *Client) IsActive() bool {
	private := c.private.Load()
	public := c.public.Load()
	return private != nil && private.IsActive() && public != nil && public.IsActive()
}

// Run connects both websockets and blocks until the context is done. The
// private login and every live subscription are replayed on reconnect.
func (c *Client) Run(ctx context.Context) {
	privateHost := c.cfg.PrivateHost
	if privateHost == "" {
		privateHost = _defaultPrivateHost
	}
	publicHost := c.cfg.PublicHost
	if publicHost == "" {
		publicHost = _defaultPublicHost
	}

	cooloff := c.cfg.ReconnectCooloff
	if cooloff <= 0 {
		cooloff = ws.DefaultCooloff
	}

	private := ws.New(privateHost, ws.Option{
		OnRead:       c.parsePrivate,
		OnConnect:    c.login,
		OnDisconnect: c.notifyDisconnect,
		Cooloff:      cooloff,
		PingInterval: _pingInterval,
		PingPayload:  []byte("ping"),
	})
	public := ws.New(publicHost, ws.Option{
		OnRead:       c.parsePublic,
		OnConnect:    c.resubscribePublic,
		OnDisconnect: c.notifyDisconnect,
		Cooloff:      cooloff,
		PingInterval: _pingInterval,
		PingPayload:  []byte("ping"),
	})
	c.private.Store(private)
	c.public.Store(public)

	go public.Run(ctx)
	private.Run(ctx)
}

func (c *Client) notifyDisconnect() {
	logs.Infof("okx %s: transport lost", c.account)
	c.cb.OnGatewayUpdate(event.Disconnect{Account: c.account})
}

// signature signs timestamp+method+path with the account secret, base64
// encoded the way the login frame expects.
func (c *Client) signature(timestamp string) string {
	mac := hmac.New(sha256.New, []byte(c.cfg.Secret))
	mac.Write([]byte(timestamp + "GET" + _signRequestPath))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

type wsFrame struct {
	ID   string `json:"id,omitempty"`
	Op   string `json:"op"`
	Args []any  `json:"args"`
}

func (c *Client) login(context.Context, *ws.Client) error {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	c.sendPrivate(wsFrame{
		Op: "login",
		Args: []any{map[string]string{
			"apiKey":     c.cfg.Key,
			"passphrase": c.cfg.Passphrase,
			"timestamp":  timestamp,
			"sign":       c.signature(timestamp),
		}},
	})
	return nil
}

// onLogin runs after the exchange confirms the login frame; channel
// subscriptions sent earlier would have been rejected as unauthenticated.
func (c *Client) onLogin() {
	logs.Infof("okx %s: login success", c.account)
	c.mu.Lock()
	fillsSub := c.fillsSub
	c.mu.Unlock()
	if fillsSub {
		c.subscribeOrdersChannel()
	}
}

func (c *Client) subscribeOrdersChannel() {
	c.sendPrivate(wsFrame{
		Op:   "subscribe",
		Args: []any{map[string]string{"channel": "orders", "instType": "ANY"}},
	})
}

func (c *Client) resubscribePublic(context.Context, *ws.Client) error {
	c.mu.Lock()
	args := make([]any, 0, len(c.bookSubs)+len(c.tradeSubs))
	for symbol := range c.bookSubs {
		args = append(args, map[string]string{"channel": "bbo-tbt", "instId": symbol})
	}
	for symbol := range c.tradeSubs {
		args = append(args, map[string]string{"channel": "trades", "instId": symbol})
	}
	c.mu.Unlock()
	if len(args) > 0 {
		c.sendPublic(wsFrame{Op: "subscribe", Args: args})
	}
	return nil
}

func (c *Client) sendPrivate(v any) bool {
	client := c.private.Load()
	if client == nil {
		logs.Errorf("okx %s: send before private transport ready", c.account)
		return false
	}
	if err := client.SendJSON(v); err != nil {
		logs.Errorf("okx %s: private send: %+v", c.account, err)
		return false
	}
	return true
}

func (c *Client) sendPublic(v any) bool {
	client := c.public.Load()
	if client == nil {
		logs.Errorf("okx %s: send before public transport ready", c.account)
		return false
	}
	if err := client.SendJSON(v); err != nil {
		logs.Errorf("okx %s: public send: %+v", c.account, err)
		return false
	}
	return true
}

func (c *Client) nextReqID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reqID++
	return strconv.FormatInt(c.reqID, 10)
}

func (c *Client) clientID(orderID int64) string {
	return c.prefix + strconv.FormatInt(orderID, 10)
}

// forget drops the correlation state of a closed order so the maps do
// not grow with every order the session ever placed.
func (c *Client) forget(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.clientToInternal, clientID)
	delete(c.clientOrder, clientID)
	delete(c.ackedPlaces, clientID)
}

func tradeMode(instrument *core.Instrument) string {
	if instrument.Kind == core.InstrumentSpot {
		return "cash"
	}
	return "cross"
}

func orderType(t core.OrderType) string {
	switch t {
	case core.OrderTypeIOC:
		return "ioc"
	case core.OrderTypePostOnly:
		return "post_only"
	default:
		return "limit"
	}
}

// Place submits a limit order. The client order id embeds the internal id,
// so execution reports on the orders channel map even when they overtake
// the op response.
func (c *Client) Place(orderID int64, order core.Order) {
	if c.cooldown.Active() {
		c.cb.OnOrderUpdate(event.PlaceReject{OrderID: orderID, Reason: "INTERNAL RATE LIMIT"})
		return
	}

	clientID := c.clientID(orderID)
	reqID := c.nextReqID()

	c.mu.Lock()
	c.placeIDs[reqID] = pendingPlace{orderID: orderID, clientID: clientID, order: order}
	c.clientToInternal[clientID] = orderID
	c.clientOrder[clientID] = order
	c.mu.Unlock()

	sent := c.sendPrivate(wsFrame{
		ID: reqID,
		Op: "order",
		Args: []any{map[string]string{
			"instId":  order.Instrument.ExternalSymbol,
			"tdMode":  tradeMode(order.Instrument),
			"clOrdId": clientID,
			"side":    sideName(order.Side),
			"ordType": orderType(order.Type),
			"px":      gateway.FormatPrice(order.Instrument, order.Price),
			"sz":      gateway.FormatQuantity(order.Instrument, order.Instrument.ContractQuantity(order.Quantity, order.Price)),
		}},
	})
	if !sent {
		c.mu.Lock()
		delete(c.placeIDs, reqID)
		delete(c.clientToInternal, clientID)
		delete(c.clientOrder, clientID)
		c.mu.Unlock()
		c.cb.OnOrderUpdate(event.PlaceReject{OrderID: orderID, Reason: "TRANSPORT INACTIVE"})
	}
}

func sideName(s core.Side) string {
	if s == core.SideSell {
		return "sell"
	}
	return "buy"
}

// Cancel cancels by client order id.
func (c *Client) Cancel(orderID int64) {
	clientID := c.clientID(orderID)

	c.mu.Lock()
	order, mapped := c.clientOrder[clientID]
	c.mu.Unlock()
	if !mapped {
		c.cb.OnOrderUpdate(event.CancelReject{OrderID: orderID, Reason: "order not mapped"})
		return
	}

	reqID := c.nextReqID()
	c.mu.Lock()
	c.cancelIDs[reqID] = orderID
	c.mu.Unlock()

	sent := c.sendPrivate(wsFrame{
		ID: reqID,
		Op: "cancel-order",
		Args: []any{map[string]string{
			"instId":  order.Instrument.ExternalSymbol,
			"clOrdId": clientID,
		}},
	})
	if !sent {
		c.mu.Lock()
		delete(c.cancelIDs, reqID)
		c.mu.Unlock()
		c.cb.OnOrderUpdate(event.CancelReject{OrderID: orderID, Reason: "TRANSPORT INACTIVE"})
	}
}

// Modify is not supported on this venue; reported as a reject so the
// caller's pending state clears.
func (c *Client) Modify(orderID int64, order core.Order) {
	c.cb.OnOrderUpdate(event.CancelReject{OrderID: orderID, Reason: "MODIFY NOT SUPPORTED"})
}

func (c *Client) SubscribeOrderbook(instrument *core.Instrument) {
	logs.Infof("okx %s: subscribe orderbook %s", c.account, instrument.ExternalSymbol)
	c.mu.Lock()
	c.bookSubs[instrument.ExternalSymbol] = instrument
	c.mu.Unlock()
	c.sendPublic(wsFrame{
		Op:   "subscribe",
		Args: []any{map[string]string{"channel": "bbo-tbt", "instId": instrument.ExternalSymbol}},
	})
}

func (c *Client) SubscribeTrades(instrument *core.Instrument) {
	logs.Infof("okx %s: subscribe trades %s", c.account, instrument.ExternalSymbol)
	c.mu.Lock()
	c.tradeSubs[instrument.ExternalSymbol] = instrument
	c.mu.Unlock()
	c.sendPublic(wsFrame{
		Op:   "subscribe",
		Args: []any{map[string]string{"channel": "trades", "instId": instrument.ExternalSymbol}},
	})
}

func (c *Client) SubscribeFills() {
	logs.Infof("okx %s: subscribe fills", c.account)
	c.mu.Lock()
	c.fillsSub = true
	c.mu.Unlock()
	c.subscribeOrdersChannel()
}
