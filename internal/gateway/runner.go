package gateway

import (
	"context"

	"github.com/yanun0323/logs"

	"github.com/kylebaus/Baus/internal/bus"
	"github.com/kylebaus/Baus/internal/core"
	"github.com/kylebaus/Baus/internal/event"
)

const defaultQueueCapacity = 4096

// Runner isolates one exchange client behind two bounded queues. Outbound
// calls are fire-and-forget enqueues; results come back later as events on
// the outbound queue, drained by the dispatcher loop.
type Runner struct {
	account  core.Account
	client   Client
	inbound  *bus.Queue[Command]
	outbound *bus.Queue[event.Event]
}

// NewRunner builds the queue pair and constructs the client with callbacks
// that publish into the outbound queue.
func NewRunner(account core.Account, build func(Callbacks) Client) *Runner {
	r := &Runner{
		account:  account,
		inbound:  bus.NewQueue[Command](defaultQueueCapacity),
		outbound: bus.NewQueue[event.Event](defaultQueueCapacity),
	}

	publish := func(e event.Event) {
		if err := r.outbound.TryPublish(e); err != nil {
			logs.Errorf("gateway %s: drop outbound %d event: %+v", account, e.Kind(), err)
		}
	}
	r.client = build(Callbacks{
		OnOrderUpdate:      publish,
		OnMarketDataUpdate: publish,
		OnGatewayUpdate:    publish,
	})
	return r
}

func (r *Runner) Account() core.Account { return r.account }

// Run starts the client and the command loop in the gateway's own
// goroutine context.
func (r *Runner) Run(ctx context.Context) {
	go r.client.Run(ctx)
	go r.inbound.Run(ctx, r.apply)
}

func (r *Runner) apply(cmd Command) {
	switch cmd.kind {
	case commandPlace:
		r.client.Place(cmd.OrderID, cmd.Order)
	case commandCancel:
		r.client.Cancel(cmd.OrderID)
	case commandModify:
		r.client.Modify(cmd.OrderID, cmd.Order)
	case commandSubscribeOrderbook:
		r.client.SubscribeOrderbook(cmd.Instrument)
	case commandSubscribeTrades:
		r.client.SubscribeTrades(cmd.Instrument)
	case commandSubscribeFills:
		r.client.SubscribeFills()
	default:
		logs.Errorf("gateway %s: unsupported command kind %d", r.account, cmd.kind)
	}
}

// IsActive reads the client's transport flag.
func (r *Runner) IsActive() bool {
	return r.client.IsActive()
}

// Place enqueues a place request. A full command queue is reported as a
// local reject, never a silent drop.
func (r *Runner) Place(orderID int64, order core.Order) {
	if err := r.inbound.TryPublish(Command{kind: commandPlace, OrderID: orderID, Order: order}); err != nil {
		r.rejectLocally(event.PlaceReject{OrderID: orderID, Reason: "COMMAND QUEUE FULL"})
	}
}

// Cancel enqueues a cancel request.
func (r *Runner) Cancel(orderID int64) {
	if err := r.inbound.TryPublish(Command{kind: commandCancel, OrderID: orderID}); err != nil {
		r.rejectLocally(event.CancelReject{OrderID: orderID, Reason: "COMMAND QUEUE FULL"})
	}
}

// Modify enqueues a modify request.
func (r *Runner) Modify(orderID int64, order core.Order) {
	if err := r.inbound.TryPublish(Command{kind: commandModify, OrderID: orderID, Order: order}); err != nil {
		r.rejectLocally(event.CancelReject{OrderID: orderID, Reason: "COMMAND QUEUE FULL"})
	}
}

// SubscribeOrderbook enqueues an orderbook subscription.
func (r *Runner) SubscribeOrderbook(instrument *core.Instrument) {
	if err := r.inbound.TryPublish(Command{kind: commandSubscribeOrderbook, Instrument: instrument}); err != nil {
		logs.Errorf("gateway %s: drop orderbook subscription: %+v", r.account, err)
	}
}

// SubscribeTrades enqueues a trade-print subscription.
func (r *Runner) SubscribeTrades(instrument *core.Instrument) {
	if err := r.inbound.TryPublish(Command{kind: commandSubscribeTrades, Instrument: instrument}); err != nil {
		logs.Errorf("gateway %s: drop trades subscription: %+v", r.account, err)
	}
}

// SubscribeFills enqueues a private fill-stream subscription.
func (r *Runner) SubscribeFills() {
	if err := r.inbound.TryPublish(Command{kind: commandSubscribeFills}); err != nil {
		logs.Errorf("gateway %s: drop fills subscription: %+v", r.account, err)
	}
}

func (r *Runner) rejectLocally(e event.Event) {
	if err := r.outbound.TryPublish(e); err != nil {
		logs.Errorf("gateway %s: drop local reject: %+v", r.account, err)
	}
}

// DrainEvents consumes every outbound event queued right now, classifying
// each by kind for the dispatcher's handlers.
func (r *Runner) DrainEvents(cb Callbacks) {
	r.outbound.Drain(func(e event.Event) {
		switch {
		case event.IsOrderEvent(e):
			cb.OnOrderUpdate(e)
		case event.IsMarketData(e):
			cb.OnMarketDataUpdate(e)
		case e.Kind() == event.KindDisconnect:
			cb.OnGatewayUpdate(e)
		default:
			logs.Errorf("gateway %s: unhandled event kind %d", r.account, e.Kind())
		}
	})
}
