package exchange

import (
	"fmt"
	"log/slog"

	"triarb/internal/config"
)

// NewClient creates a new exchange client based on the given name and configuration.
func NewClient(name string, logger *slog.Logger, cfg *config.ExchangeConfig) (ExchangeClient, error) {
	switch name {
	case "kraken":
		return NewKrakenClient(logger, cfg), nil
	case "binance":
		return NewBinanceClient(logger, cfg), nil
	default:
		return nil, fmt.Errorf("unknown exchange: %s", name)
	}
}
