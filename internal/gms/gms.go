// Package gms is the connection registry: it owns one gateway runner per
// (exchange, account) pair and routes order and subscription requests to
// the right one.
package gms

import (
	"context"
	"sync"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/kylebaus/Baus/internal/core"
	"github.com/kylebaus/Baus/internal/gateway"
	"github.com/kylebaus/Baus/internal/gateway/binancecm"
	"github.com/kylebaus/Baus/internal/gateway/deribit"
	"github.com/kylebaus/Baus/internal/gateway/okx"
	"github.com/kylebaus/Baus/pkg/exception"
)

// Registry maps accounts to gateway runners. Registration happens during
// startup wiring; afterwards the map is read-only and routing is
// lock-free in practice.
type Registry struct {
	mu      sync.RWMutex
	runners map[core.Account]*gateway.Runner
}

func New() *Registry {
	return &Registry{runners: make(map[core.Account]*gateway.Runner)}
}

// Register builds the protocol client for the account's exchange and
// wraps it in a runner. Registering the same account twice is a wiring
// bug and fails loudly.
func (g *Registry) Register(cfg gateway.Config) (*gateway.Runner, error) {
	build, err := clientBuilder(cfg)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.runners[cfg.Account]; ok {
		return nil, errors.Wrapf(exception.ErrInvalidArgument, "account %s already registered", cfg.Account)
	}

	runner := gateway.NewRunner(cfg.Account, build)
	g.runners[cfg.Account] = runner
	logs.Infof("gms: registered gateway %s", cfg.Account)
	return runner, nil
}

func clientBuilder(cfg gateway.Config) (func(gateway.Callbacks) gateway.Client, error) {
	switch cfg.Account.Exchange {
	case core.ExchangeBinanceCM:
		return func(cb gateway.Callbacks) gateway.Client { return binancecm.New(cfg, cb) }, nil
	case core.ExchangeOKX:
		return func(cb gateway.Callbacks) gateway.Client { return okx.New(cfg, cb) }, nil
	case core.ExchangeDeribit:
		return func(cb gateway.Callbacks) gateway.Client { return deribit.New(cfg, cb) }, nil
	default:
		return nil, errors.Wrapf(exception.ErrUnknownGateway, "exchange %d", cfg.Account.Exchange)
	}
}

// Run starts every registered runner.
func (g *Registry) Run(ctx context.Context) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, runner := range g.runners {
		runner.Run(ctx)
	}
}

func (g *Registry) runner(account core.Account) (*gateway.Runner, error) {
	g.mu.RLock()
	runner, ok := g.runners[account]
	g.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(exception.ErrUnknownGateway, "account %s", account)
	}
	return runner, nil
}

// Runners snapshots every registered runner, in no particular order.
func (g *Registry) Runners() []*gateway.Runner {
	g.mu.RLock()
	defer g.mu.RUnlock()
	runners := make([]*gateway.Runner, 0, len(g.runners))
	for _, runner := range g.runners {
		runners = append(runners, runner)
	}
	return runners
}

// IsActive reports whether the account's gateway transport is up. An
// unregistered account is simply inactive.
func (g *Registry) IsActive(account core.Account) bool {
	runner, err := g.runner(account)
	if err != nil {
		return false
	}
	return runner.IsActive()
}

// Place routes a place request to the owning gateway.
func (g *Registry) Place(account core.Account, orderID int64, order core.Order) error {
	runner, err := g.runner(account)
	if err != nil {
		return err
	}
	runner.Place(orderID, order)
	return nil
}

// Cancel routes a cancel request to the owning gateway.
func (g *Registry) Cancel(account core.Account, orderID int64) error {
	runner, err := g.runner(account)
	if err != nil {
		return err
	}
	runner.Cancel(orderID)
	return nil
}

// Modify routes a modify request to the owning gateway.
func (g *Registry) Modify(account core.Account, orderID int64, order core.Order) error {
	runner, err := g.runner(account)
	if err != nil {
		return err
	}
	runner.Modify(orderID, order)
	return nil
}

// SubscribeOrderbook routes an orderbook subscription.
func (g *Registry) SubscribeOrderbook(account core.Account, instrument *core.Instrument) error {
	runner, err := g.runner(account)
	if err != nil {
		return err
	}
	runner.SubscribeOrderbook(instrument)
	return nil
}

// SubscribeTrades routes a trade-print subscription.
func (g *Registry) SubscribeTrades(account core.Account, instrument *core.Instrument) error {
	runner, err := g.runner(account)
	if err != nil {
		return err
	}
	runner.SubscribeTrades(instrument)
	return nil
}

// SubscribeFills routes a private fill-stream subscription.
func (g *Registry) SubscribeFills(account core.Account) error {
	runner, err := g.runner(account)
	if err != nil {
		return err
	}
	runner.SubscribeFills()
	return nil
}

// DrainEvents drains every runner's outbound queue through cb.
func (g *Registry) DrainEvents(cb gateway.Callbacks) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, runner := range g.runners {
		runner.DrainEvents(cb)
	}
}
