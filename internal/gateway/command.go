package gateway

import "github.com/kylebaus/Baus/internal/core"

type commandKind uint8

const (
	_command_beg commandKind = iota
	commandPlace
	commandCancel
	commandModify
	commandSubscribeOrderbook
	commandSubscribeTrades
	commandSubscribeFills
	_command_end
)

// Command is one outbound request crossing the dispatcher→gateway queue.
type Command struct {
	kind       commandKind
	OrderID    int64
	Order      core.Order
	Instrument *core.Instrument
}
