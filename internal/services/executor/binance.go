package executor

import (
	"context"
	"sync"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/arbiterhq/arbiter/internal/domain"
)

// Binance API error codes that mean the order can never succeed.
const (
	binanceCodeInsufficientBalance = -2010
	binanceCodeUnknownOrder        = -2013
)

// BinanceExecutor submits market orders to Binance spot.
type BinanceExecutor struct {
	client *binance.Client

	mu      sync.Mutex
	symbols map[string]string // our order ID -> venue symbol, needed for cancel
}

// NewBinanceExecutor creates a Binance order executor.
func NewBinanceExecutor(client *binance.Client) *BinanceExecutor {
	return &BinanceExecutor{
		client:  client,
		symbols: make(map[string]string),
	}
}

// Submit places a market order using our order ID as the client order ID.
func (e *BinanceExecutor) Submit(ctx context.Context, order domain.Order) (domain.ExecutionResult, error) {
	side := binance.SideTypeBuy
	if order.Side == domain.SignalSell {
		side = binance.SideTypeSell
	}

	qty := order.Quantity.RoundFloor(4)
	res, err := e.client.NewCreateOrderService().
		Symbol(order.Pair.Symbol()).
		Side(side).
		Type(binance.OrderTypeMarket).
		Quantity(qty.String()).
		NewClientOrderID(order.ID).
		Do(ctx)
	if err != nil {
		return domain.ExecutionResult{}, classifyBinanceError(err)
	}

	e.mu.Lock()
	e.symbols[order.ID] = order.Pair.Symbol()
	e.mu.Unlock()

	filled, parseErr := decimal.NewFromString(res.ExecutedQuantity)
	if parseErr != nil {
		filled = decimal.Zero
	}

	return domain.ExecutionResult{
		OrderID:   order.ID,
		Status:    mapBinanceStatus(res.Status),
		FilledQty: filled,
	}, nil
}

// Cancel cancels an open order by our order ID. Returns false when the venue
// no longer knows the order.
func (e *BinanceExecutor) Cancel(ctx context.Context, orderID string) (bool, error) {
	e.mu.Lock()
	symbol := e.symbols[orderID]
	e.mu.Unlock()
	if symbol == "" {
		return false, nil
	}

	_, err := e.client.NewCancelOrderService().
		Symbol(symbol).
		OrigClientOrderID(orderID).
		Do(ctx)
	if err != nil {
		if apiErr, ok := err.(*common.APIError); ok && apiErr.Code == binanceCodeUnknownOrder {
			return false, nil
		}
		return false, errors.Wrap(err, "cancel binance order")
	}
	return true, nil
}

// PendingOrders lists open orders across all symbols.
func (e *BinanceExecutor) PendingOrders(ctx context.Context) ([]domain.Order, error) {
	open, err := e.client.NewListOpenOrdersService().Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list binance open orders")
	}

	orders := make([]domain.Order, 0, len(open))
	for _, o := range open {
		qty, _ := decimal.NewFromString(o.OrigQuantity)
		price, _ := decimal.NewFromString(o.Price)
		side := domain.SignalBuy
		if o.Side == binance.SideTypeSell {
			side = domain.SignalSell
		}
		orders = append(orders, domain.Order{
			ID:       o.ClientOrderID,
			Side:     side,
			Quantity: qty,
			Price:    price,
			Status:   mapBinanceStatus(o.Status),
		})
	}
	return orders, nil
}

func mapBinanceStatus(status binance.OrderStatusType) domain.OrderStatus {
	switch status {
	case binance.OrderStatusTypeFilled:
		return domain.OrderFilled
	case binance.OrderStatusTypePartiallyFilled:
		return domain.OrderPartiallyFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired:
		return domain.OrderCancelled
	case binance.OrderStatusTypeRejected:
		return domain.OrderRejected
	default:
		return domain.OrderSubmitted
	}
}

// classifyBinanceError distinguishes permanent venue rejections from
// transient failures.
func classifyBinanceError(err error) error {
	if apiErr, ok := err.(*common.APIError); ok {
		if apiErr.Code == binanceCodeInsufficientBalance {
			return domain.NewFatalExecError(errors.Wrap(err, "insufficient balance"))
		}
	}
	return domain.NewRetryableExecError(errors.Wrap(err, "submit binance order"))
}
