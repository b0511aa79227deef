package exchange

import (
	"context"
	"errors"

	"triarb/internal/model"
)

// ErrAmbiguous marks an order whose outcome is unknown: it may or may not have
// been executed by the exchange.
var ErrAmbiguous = model.ErrLegAmbiguous

// ErrUnsupported is returned for operations an exchange client does not offer.
var ErrUnsupported = errors.New("exchange: operation not supported")

// ExchangeClient defines the standard interface for all exchange ticker streams.
type ExchangeClient interface {
	GetName() string
	StartStream(ctx context.Context, tickChan chan<- model.Ticker) error
}

// SnapshotProvider supplies a point-in-time top-of-book snapshot.
type SnapshotProvider interface {
	GetName() string
	Snapshot(ctx context.Context) (model.Snapshot, error)
}
