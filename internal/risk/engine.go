// Package risk applies static pre-trade limits before an order leaves the
// process. The engine also reduces fills into per-instrument positions so
// the position limit sees the live book of the whole process, not a single
// strategy's view.
package risk

import (
	"math"
	"time"

	"github.com/yanun0323/errors"

	"github.com/kylebaus/Baus/internal/core"
	"github.com/kylebaus/Baus/internal/event"
	"github.com/kylebaus/Baus/pkg/exception"
)

// Config defines the static limits. Zero values disable the matching
// check, so an empty Config allows everything except when KillSwitch is
// set.
type Config struct {
	KillSwitch           bool
	MaxOrderQuantity     float64
	MaxPosition          float64
	MaxPriceDeviationBps float64
	OrderRateLimit       int
	OrderRateWindow      time.Duration
}

type positionKey struct {
	account core.Account
	symbol  string
}

// Engine evaluates orders against Config and tracks net positions from
// fills. It runs on the dispatcher loop goroutine and needs no locking.
type Engine struct {
	cfg       Config
	positions map[positionKey]float64

	rateWindowStart time.Time
	rateCount       int
}

func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:       cfg,
		positions: make(map[positionKey]float64),
	}
}

// Check returns nil when the order may leave the process. referencePrice
// is the current top-of-book mid, or 0 when no book is mapped; the price
// band check is skipped without a reference.
func (e *Engine) Check(order core.Order, referencePrice float64) error {
	if e.cfg.KillSwitch {
		return errors.Wrap(exception.ErrRiskDenied, "kill switch engaged")
	}

	if e.cfg.OrderRateLimit > 0 && e.cfg.OrderRateWindow > 0 {
		now := time.Now()
		if e.rateWindowStart.IsZero() || now.Sub(e.rateWindowStart) >= e.cfg.OrderRateWindow {
			e.rateWindowStart = now
			e.rateCount = 0
		}
		e.rateCount++
		if e.rateCount > e.cfg.OrderRateLimit {
			return errors.Wrapf(exception.ErrRiskDenied, "order rate above %d per %s", e.cfg.OrderRateLimit, e.cfg.OrderRateWindow)
		}
	}

	if e.cfg.MaxOrderQuantity > 0 && order.Quantity > e.cfg.MaxOrderQuantity {
		return errors.Wrapf(exception.ErrRiskDenied, "quantity %f above limit %f", order.Quantity, e.cfg.MaxOrderQuantity)
	}

	if e.cfg.MaxPosition > 0 && order.Instrument != nil {
		current := e.Position(order.Account, order.Instrument.InternalSymbol)
		next := current
		switch order.Side {
		case core.SideBuy:
			next += order.Quantity
		case core.SideSell:
			next -= order.Quantity
		}
		if math.Abs(next) > e.cfg.MaxPosition {
			return errors.Wrapf(exception.ErrRiskDenied, "position %f would exceed limit %f", next, e.cfg.MaxPosition)
		}
	}

	if e.cfg.MaxPriceDeviationBps > 0 && order.Type.IsAvailable() && order.Price > 0 && referencePrice > 0 {
		deviation := math.Abs(order.Price-referencePrice) / referencePrice * 10000
		if deviation > e.cfg.MaxPriceDeviationBps {
			return errors.Wrapf(exception.ErrRiskDenied, "price %f is %.1f bps from reference %f", order.Price, deviation, referencePrice)
		}
	}

	return nil
}

// ApplyFill reduces a fill into the net position and returns the new
// quantity.
func (e *Engine) ApplyFill(fill event.Fill) float64 {
	symbol := ""
	if fill.Instrument != nil {
		symbol = fill.Instrument.InternalSymbol
	}
	key := positionKey{account: fill.Account, symbol: symbol}
	current := e.positions[key]
	switch fill.Side {
	case core.SideBuy:
		current += fill.Quantity
	case core.SideSell:
		current -= fill.Quantity
	}
	e.positions[key] = current
	return current
}

// Position returns the net position for the account's instrument.
func (e *Engine) Position(account core.Account, symbol string) float64 {
	return e.positions[positionKey{account: account, symbol: symbol}]
}
