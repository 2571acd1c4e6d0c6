package internal

import (
	"context"
	"fmt"

	binance "github.com/adshao/go-binance/v2"
	bybit "github.com/hirokisan/bybit/v2"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
	"github.com/arbiterhq/arbiter/internal/services/executor"
	"github.com/arbiterhq/arbiter/internal/services/pricer"
)

// OrderExecutor is the venue-side execution port.
type OrderExecutor interface {
	Submit(ctx context.Context, order domain.Order) (domain.ExecutionResult, error)
	Cancel(ctx context.Context, orderID string) (bool, error)
	PendingOrders(ctx context.Context) ([]domain.Order, error)
}

// Pricer is the market price port used by the consensus fallback.
type Pricer interface {
	GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error)
}

// VenueProvider defines a factory interface for creating venue-specific services.
type VenueProvider interface {
	Executor() (OrderExecutor, error)
	Pricer() (Pricer, error)
}

// NewVenueProvider creates a venue provider based on the client type.
// This is the single point of truth for dispatching to venue-specific
// implementations. A nil client selects the paper venue.
func NewVenueProvider(client any, dryRunPrices map[string]decimal.Decimal, logger *zap.Logger) (VenueProvider, error) {
	switch c := client.(type) {
	case *binance.Client:
		return &binanceVenue{client: c}, nil
	case *bybit.Client:
		return &bybitVenue{client: c}, nil
	case nil:
		return &paperVenue{prices: dryRunPrices, logger: logger}, nil
	default:
		return nil, fmt.Errorf("unsupported client type: %T", client)
	}
}

type binanceVenue struct {
	client *binance.Client
}

func (v *binanceVenue) Executor() (OrderExecutor, error) {
	return executor.NewBinanceExecutor(v.client), nil
}
func (v *binanceVenue) Pricer() (Pricer, error) {
	return pricer.NewBinancePricer(v.client), nil
}

type bybitVenue struct {
	client *bybit.Client
}

func (v *bybitVenue) Executor() (OrderExecutor, error) {
	return executor.NewBybitExecutor(v.client), nil
}
func (v *bybitVenue) Pricer() (Pricer, error) {
	return pricer.NewBybitPricer(v.client), nil
}

type paperVenue struct {
	prices map[string]decimal.Decimal
	logger *zap.Logger
}

func (v *paperVenue) Executor() (OrderExecutor, error) {
	return executor.NewPaperExecutor(v.logger), nil
}
func (v *paperVenue) Pricer() (Pricer, error) {
	return pricer.NewStaticPricer(v.prices), nil
}
