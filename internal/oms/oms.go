// Package oms is the order ledger: it allocates process-unique internal
// order identifiers and records which strategy owns each order. It is
// private to the dispatcher loop and needs no locking.
package oms

import (
	"github.com/yanun0323/errors"

	"github.com/kylebaus/Baus/internal/core"
	"github.com/kylebaus/Baus/pkg/exception"
)

// Status is the ledger's view of one order.
type Status struct {
	StrategyID int
	Pending    bool
	Order      core.Order
}

// Ledger maps internal order ids to their owning strategy.
type Ledger struct {
	orders map[int64]*Status
	lastID int64
}

func NewLedger() *Ledger {
	return &Ledger{orders: make(map[int64]*Status)}
}

// Place allocates the next internal order id and records ownership. Ids are
// strictly increasing for the lifetime of the process and never reused.
func (l *Ledger) Place(strategyID int, order core.Order) int64 {
	l.lastID++
	l.orders[l.lastID] = &Status{
		StrategyID: strategyID,
		Pending:    true,
		Order:      order,
	}
	return l.lastID
}

func (l *Ledger) Cancel(account core.Account, orderID int64) {}

func (l *Ledger) Modify(strategyID int, orderID int64, order core.Order) {}

// StrategyID resolves the owner of an order id. An unknown id indicates a
// routing defect, not a normal race, so it fails loudly instead of being
// silently dropped.
func (l *Ledger) StrategyID(orderID int64) (int, error) {
	status, ok := l.orders[orderID]
	if !ok {
		return 0, errors.Wrapf(exception.ErrUnknownOrderID, "order id: %d", orderID)
	}
	return status.StrategyID, nil
}

// Status returns the recorded state for an order id.
func (l *Ledger) Status(orderID int64) (*Status, bool) {
	status, ok := l.orders[orderID]
	return status, ok
}
