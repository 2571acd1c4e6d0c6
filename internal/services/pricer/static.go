package pricer

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/arbiterhq/arbiter/internal/domain"
)

// StaticPricer serves prices from a fixed table; used in dry-run mode and tests.
type StaticPricer struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
}

// NewStaticPricer creates a pricer with the given pair -> price table.
func NewStaticPricer(prices map[string]decimal.Decimal) *StaticPricer {
	if prices == nil {
		prices = make(map[string]decimal.Decimal)
	}
	return &StaticPricer{prices: prices}
}

// SetPrice updates the table.
func (p *StaticPricer) SetPrice(pair domain.Pair, price decimal.Decimal) {
	p.mu.Lock()
	p.prices[pair.String()] = price
	p.mu.Unlock()
}

// GetPrice returns the configured price for the pair.
func (p *StaticPricer) GetPrice(ctx context.Context, pair domain.Pair) (decimal.Decimal, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	price, ok := p.prices[pair.String()]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("no price configured for %s", pair.String())
	}
	return price, nil
}
