package core

import "github.com/yanun0323/errors"

// Exchange identifies a supported trading venue.
type Exchange uint8

const (
	_exchange_beg Exchange = iota
	ExchangeBinanceCM
	ExchangeOKX
	ExchangeDeribit
	_exchange_end
)

func (e Exchange) IsAvailable() bool {
	return e > _exchange_beg && e < _exchange_end
}

func (e Exchange) String() string {
	switch e {
	case ExchangeBinanceCM:
		return "BINANCECM"
	case ExchangeOKX:
		return "OKX"
	case ExchangeDeribit:
		return "DERIBIT"
	default:
		return "UNKNOWN"
	}
}

// ParseExchange maps a configuration string to an Exchange.
func ParseExchange(s string) (Exchange, error) {
	switch s {
	case "BINANCECM":
		return ExchangeBinanceCM, nil
	case "OKX":
		return ExchangeOKX, nil
	case "DERIBIT":
		return ExchangeDeribit, nil
	default:
		return 0, errors.Errorf("unsupported exchange: %s", s)
	}
}

// Account identifies one credential set on one exchange.
// Immutable after configuration load.
type Account struct {
	Exchange Exchange
	Name     string
}

func (a Account) String() string {
	return a.Exchange.String() + "/" + a.Name
}
