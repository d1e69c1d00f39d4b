package exception

import "github.com/yanun0323/errors"

var (
	ErrNilInstance       = errors.New("nil instance")
	ErrInternal          = errors.New("internal error")
	ErrInvalidArgument   = errors.New("invalid argument")
	ErrUnknownOrderID    = errors.New("unknown internal order id")
	ErrUnknownGateway    = errors.New("no gateway registered for account")
	ErrUnknownOrderbook  = errors.New("orderbook not mapped")
	ErrUnknownStrategy   = errors.New("strategy not registered")
	ErrUnsupportedAction = errors.New("unsupported gateway action")
	ErrRiskDenied        = errors.New("order denied by pre-trade limits")
)
