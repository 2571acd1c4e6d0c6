// Package executor contains the order-executor adapters: real venues
// (Binance, Bybit) and an in-memory paper executor for dry runs.
package executor

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/arbiterhq/arbiter/internal/domain"
)

// PaperExecutor fills every order immediately at its target price without
// touching a venue. Used in dry-run mode and tests.
type PaperExecutor struct {
	mu     sync.Mutex
	fills  []domain.Order
	logger *zap.Logger
}

// NewPaperExecutor creates a paper executor.
func NewPaperExecutor(logger *zap.Logger) *PaperExecutor {
	return &PaperExecutor{logger: logger}
}

// Submit fills the order at its price.
func (p *PaperExecutor) Submit(ctx context.Context, order domain.Order) (domain.ExecutionResult, error) {
	if order.Quantity.IsZero() {
		return domain.ExecutionResult{}, domain.NewFatalExecError(errors.New("zero quantity"))
	}

	order.Status = domain.OrderFilled

	p.mu.Lock()
	p.fills = append(p.fills, order)
	p.mu.Unlock()

	p.logger.Info("paper fill",
		zap.String("order", order.ID),
		zap.String("pair", order.Pair.String()),
		zap.String("side", order.Side.String()),
		zap.String("qty", order.Quantity.String()),
		zap.String("price", order.Price.String()))

	return domain.ExecutionResult{
		OrderID:   order.ID,
		Status:    domain.OrderFilled,
		FilledQty: order.Quantity,
	}, nil
}

// Cancel has nothing to cancel; paper fills are instantaneous.
func (p *PaperExecutor) Cancel(ctx context.Context, orderID string) (bool, error) {
	return false, nil
}

// PendingOrders is always empty for the paper executor.
func (p *PaperExecutor) PendingOrders(ctx context.Context) ([]domain.Order, error) {
	return nil, nil
}

// Fills returns a copy of all filled orders, oldest first.
func (p *PaperExecutor) Fills() []domain.Order {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Order, len(p.fills))
	copy(out, p.fills)
	return out
}
