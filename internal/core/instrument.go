package core

import "time"

// InstrumentKind spot, linear/inverse future, perpetual, option
type InstrumentKind uint8

const (
	_instrument_kind_beg InstrumentKind = iota
	InstrumentSpot
	InstrumentLinearFuture
	InstrumentInverseFuture
	InstrumentLinearPerpetual
	InstrumentInversePerpetual
	InstrumentLinearOption
	InstrumentInverseOption
	_instrument_kind_end
)

func (k InstrumentKind) IsAvailable() bool {
	return k > _instrument_kind_beg && k < _instrument_kind_end
}

// IsInverse reports whether the contract is quoted inversely.
func (k InstrumentKind) IsInverse() bool {
	switch k {
	case InstrumentInverseFuture, InstrumentInversePerpetual, InstrumentInverseOption:
		return true
	default:
		return false
	}
}

// Currency describes one settlement currency on one exchange.
type Currency struct {
	Exchange       Exchange
	InternalSymbol string
	ExternalSymbol string
	PriceTick      float64
	QuantityStep   float64
}

// Instrument describes one tradable market. Instruments are immutable and
// shared by reference across strategies and gateways.
type Instrument struct {
	Exchange       Exchange
	InternalSymbol string
	ExternalSymbol string
	Base           *Currency
	Quote          *Currency

	// PriceTick and QuantityStep are the minimum representable price and
	// quantity increments, used as comparison tolerances.
	PriceTick    float64
	QuantityStep float64

	MinOrderQuantity float64
	MinOrderNotional float64

	Kind          InstrumentKind
	ContractValue float64   // zero for spot
	Expiry        time.Time // zero for perpetuals and spot
}

// ContractQuantity converts a base-currency quantity to the number of
// contracts the exchange expects. Inverse contracts additionally scale by
// the traded price.
func (i *Instrument) ContractQuantity(quantity, price float64) float64 {
	if i.ContractValue == 0 {
		return quantity
	}
	quantity /= i.ContractValue
	if i.Kind.IsInverse() {
		quantity *= price
	}
	return quantity
}

// BaseQuantity converts an exchange contract amount back to the
// base-currency quantity, the inverse of ContractQuantity.
func (i *Instrument) BaseQuantity(amount, price float64) float64 {
	if i.ContractValue == 0 {
		return amount
	}
	amount *= i.ContractValue
	if i.Kind.IsInverse() && price != 0 {
		amount /= price
	}
	return amount
}
