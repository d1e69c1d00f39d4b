package core

// Side buy, sell
type Side uint8

const (
	_side_beg Side = iota
	SideBuy
	SideSell
	_side_end
)

func (s Side) IsAvailable() bool {
	return s > _side_beg && s < _side_end
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "UNKNOWN"
	}
}

// OrderType limit, immediate-or-cancel, post-only
type OrderType uint8

const (
	_order_type_beg OrderType = iota
	OrderTypeLimit
	OrderTypeIOC
	OrderTypePostOnly
	_order_type_end
)

func (t OrderType) IsAvailable() bool {
	return t > _order_type_beg && t < _order_type_end
}

// Order is a single working order. Price and Quantity track the
// last-acknowledged state; the order ledger entry that created the order
// owns it exclusively until it is closed.
type Order struct {
	Instrument *Instrument
	Account    Account
	Side       Side
	Price      float64
	Quantity   float64
	Type       OrderType
}
