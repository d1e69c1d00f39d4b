// Package gateway implements the generic exchange protocol-client pattern:
// each concrete exchange client runs in an isolated goroutine context
// behind a runner, which talks to the connection registry only through two
// bounded queues (inbound commands, outbound events).
package gateway

import (
	"context"
	"time"

	"github.com/kylebaus/Baus/internal/core"
	"github.com/kylebaus/Baus/internal/event"
)

// Callbacks fan gateway events out by classification. Inside a gateway
// they publish to the outbound queue; on the dispatcher side they route to
// the ledger, the market-data cache and strategy channels.
type Callbacks struct {
	OnOrderUpdate      func(event.Event)
	OnMarketDataUpdate func(event.Event)
	OnGatewayUpdate    func(event.Event)
}

// Client is one exchange protocol implementation. Methods are invoked from
// the owning runner's command loop only, but results arrive on the
// transport read loop, so clients guard their correlation maps internally.
type Client interface {
	Run(ctx context.Context)
	IsActive() bool

	Place(orderID int64, order core.Order)
	Cancel(orderID int64)
	Modify(orderID int64, order core.Order)

	SubscribeOrderbook(instrument *core.Instrument)
	SubscribeTrades(instrument *core.Instrument)
	SubscribeFills()
}

// Config carries the per-account connection settings resolved from
// configuration at startup.
type Config struct {
	Account core.Account

	Key        string
	Secret     string
	Passphrase string

	// RestHost is the order-entry REST endpoint (exchanges that use one).
	RestHost string
	// Host is the single websocket endpoint, or the user-stream endpoint.
	Host string
	// PublicHost/PrivateHost split market data from order entry (OKX).
	PublicHost  string
	PrivateHost string

	// RateLimitCooldown gates local place rejects after a rate-limit code.
	// Zero means DefaultRateLimitCooldown.
	RateLimitCooldown time.Duration
	// ReconnectCooloff is the wait before re-dialing a lost transport.
	// Zero means ws.DefaultCooloff.
	ReconnectCooloff time.Duration

	// CancelRejectClosedCodes lists exchange cancel-reject codes meaning
	// "order already filled or cancelled", acknowledged as a successful
	// close instead of a reject. Exchange-specific, so configured.
	CancelRejectClosedCodes []string
}

// ClosedCode reports whether a cancel-reject code is configured to mean
// the order is already closed.
func (c Config) ClosedCode(code string) bool {
	for _, closed := range c.CancelRejectClosedCodes {
		if closed == code {
			return true
		}
	}
	return false
}
