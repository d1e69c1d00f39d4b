package strategy

import (
	"context"
	"time"

	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"

	"github.com/kylebaus/Baus/internal/dispatcher"
	"github.com/kylebaus/Baus/internal/obs"
)

const (
	defaultLoopInterval  = time.Millisecond
	defaultSlowThreshold = 100 * time.Millisecond
)

type boundStrategy struct {
	strategy Strategy
	ctx      *Context
}

// Runtime steps every registered strategy on one goroutine: drain gateway
// events through the dispatcher, apply each strategy's events, then call
// its Update. Single-threaded by construction, so strategies share
// dispatcher state without locks.
type Runtime struct {
	dispatcher *dispatcher.Dispatcher
	strategies []boundStrategy
	nextID     int

	interval      time.Duration
	slowThreshold time.Duration

	// Metrics, when set, observes loop and drain latency.
	Metrics *obs.Metrics
}

func NewRuntime(d *dispatcher.Dispatcher) *Runtime {
	return &Runtime{
		dispatcher:    d,
		interval:      defaultLoopInterval,
		slowThreshold: defaultSlowThreshold,
	}
}

// Register binds the strategy to a fresh id and event channel. Must be
// called before Run.
func (r *Runtime) Register(s Strategy) *Context {
	r.nextID++
	ctx := &Context{
		strategyID: r.nextID,
		dispatcher: r.dispatcher,
		events:     r.dispatcher.RegisterStrategy(r.nextID),
	}
	r.strategies = append(r.strategies, boundStrategy{strategy: s, ctx: ctx})
	logs.Infof("runtime: registered strategy %d %s", r.nextID, s.Name())
	return ctx
}

// Run blocks until the context is done or a shutdown signal arrives.
func (r *Runtime) Run(ctx context.Context) {
	for _, bound := range r.strategies {
		bound.strategy.OnStart(bound.ctx)
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sys.Shutdown():
			logs.Info("runtime: shutdown signal")
			return
		case <-ticker.C:
			began := time.Now()
			r.step()
			elapsed := time.Since(began)
			r.Metrics.ObserveLoop(elapsed)
			if elapsed > r.slowThreshold {
				logs.Errorf("runtime: slow loop pass: %s", elapsed)
			}
		}
	}
}

func (r *Runtime) step() {
	began := time.Now()
	r.dispatcher.Drain()
	r.Metrics.ObserveDrain(time.Since(began))
	for _, bound := range r.strategies {
		drainEvents(bound.strategy, bound.ctx)
		bound.strategy.Update(bound.ctx)
	}
}

func drainEvents(s Strategy, ctx *Context) {
	for {
		select {
		case e, ok := <-ctx.events:
			if !ok {
				return
			}
			s.OnEvent(ctx, e)
		default:
			return
		}
	}
}
