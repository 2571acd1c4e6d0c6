package domain

import "github.com/shopspring/decimal"

// OrderStatus lifecycle state of a submitted order.
type OrderStatus string

const (
	OrderSubmitted       OrderStatus = "submitted"
	OrderFilled          OrderStatus = "filled"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderRejected        OrderStatus = "rejected"
	OrderCancelled       OrderStatus = "cancelled"
)

// Order is the executable form of a trading decision. DecisionID is a
// back-reference only; the order does not own the decision.
type Order struct {
	ID         string
	DecisionID string
	Pair       Pair
	Side       SignalType
	Quantity   decimal.Decimal
	Price      decimal.Decimal
	StopLoss   decimal.Decimal // zero means not set
	TakeProfit decimal.Decimal // zero means not set
	Status     OrderStatus
}

// ExecutionResult is what the order executor reports back after submission.
type ExecutionResult struct {
	OrderID   string
	Status    OrderStatus
	FilledQty decimal.Decimal
}
