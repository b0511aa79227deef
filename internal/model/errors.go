package model

import "errors"

var (
	ErrDataGap             = errors.New("price side missing")
	ErrStaleSnapshot       = errors.New("snapshot is stale")
	ErrEmptySnapshot       = errors.New("snapshot has no tickers")
	ErrLegRejected         = errors.New("leg rejected by exchange")
	ErrLegAmbiguous        = errors.New("leg outcome unknown")
	ErrLegNotFilled        = errors.New("leg not fully filled")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidOrderSize    = errors.New("invalid order size")
	ErrCancelled           = errors.New("execution cancelled")
	ErrUnknownSymbol       = errors.New("unknown symbol")
)
