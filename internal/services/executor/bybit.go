package executor

import (
	"context"
	"sync"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/arbiterhq/arbiter/internal/domain"
)

// BybitExecutor submits market orders to Bybit spot.
type BybitExecutor struct {
	client *bybit.Client

	mu      sync.Mutex
	symbols map[string]bybit.SymbolV5 // our order ID -> venue symbol, needed for cancel
}

// NewBybitExecutor creates a Bybit order executor.
func NewBybitExecutor(client *bybit.Client) *BybitExecutor {
	return &BybitExecutor{
		client:  client,
		symbols: make(map[string]bybit.SymbolV5),
	}
}

// Submit places a market order using our order ID as the order link ID.
func (e *BybitExecutor) Submit(ctx context.Context, order domain.Order) (domain.ExecutionResult, error) {
	side := bybit.SideBuy
	if order.Side == domain.SignalSell {
		side = bybit.SideSell
	}

	qty := order.Quantity.RoundFloor(4)
	linkID := order.ID
	_, err := e.client.V5().Order().CreateOrder(bybit.V5CreateOrderParam{
		Category:    bybit.CategoryV5Spot,
		Symbol:      bybit.SymbolV5(order.Pair.Symbol()),
		Side:        side,
		OrderType:   bybit.OrderTypeMarket,
		Qty:         qty.String(),
		OrderLinkID: &linkID,
	})
	if err != nil {
		// the v5 client does not expose typed rejection codes, treat as transient
		return domain.ExecutionResult{}, domain.NewRetryableExecError(errors.Wrap(err, "submit bybit order"))
	}

	e.mu.Lock()
	e.symbols[order.ID] = bybit.SymbolV5(order.Pair.Symbol())
	e.mu.Unlock()

	// market orders fill synchronously on bybit spot
	return domain.ExecutionResult{
		OrderID:   order.ID,
		Status:    domain.OrderFilled,
		FilledQty: qty,
	}, nil
}

// Cancel cancels an open order by our order link ID. Returns false when the
// order was not placed through this executor.
func (e *BybitExecutor) Cancel(ctx context.Context, orderID string) (bool, error) {
	e.mu.Lock()
	symbol, ok := e.symbols[orderID]
	e.mu.Unlock()
	if !ok {
		return false, nil
	}

	linkID := orderID
	_, err := e.client.V5().Order().CancelOrder(bybit.V5CancelOrderParam{
		Category:    bybit.CategoryV5Spot,
		Symbol:      symbol,
		OrderLinkID: &linkID,
	})
	if err != nil {
		return false, errors.Wrap(err, "cancel bybit order")
	}
	return true, nil
}

// PendingOrders lists open spot orders.
func (e *BybitExecutor) PendingOrders(ctx context.Context) ([]domain.Order, error) {
	res, err := e.client.V5().Order().GetOpenOrders(bybit.V5GetOpenOrdersParam{
		Category: bybit.CategoryV5Spot,
	})
	if err != nil {
		return nil, errors.Wrap(err, "list bybit open orders")
	}

	orders := make([]domain.Order, 0, len(res.Result.List))
	for _, o := range res.Result.List {
		qty, _ := decimal.NewFromString(o.Qty)
		price, _ := decimal.NewFromString(o.Price)
		side := domain.SignalBuy
		if o.Side == bybit.SideSell {
			side = domain.SignalSell
		}
		orders = append(orders, domain.Order{
			ID:       o.OrderLinkID,
			Side:     side,
			Quantity: qty,
			Price:    price,
			Status:   domain.OrderSubmitted,
		})
	}
	return orders, nil
}
