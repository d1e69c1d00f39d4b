package exception

import "github.com/yanun0323/errors"

var (
	ErrConnectionClosed  = errors.New("connection closed")
	ErrTransportInactive = errors.New("transport not active")
	ErrRateLimited       = errors.New("internal rate limit")
	ErrEmptySocketPath   = errors.New("empty unix socket path")
)
