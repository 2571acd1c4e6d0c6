package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestRiskBudget_Allocate(t *testing.T) {
	budget := NewRiskBudget(10)

	value, amount := budget.Allocate(decimal.NewFromInt(10000), decimal.NewFromInt(100), decimal.Zero)
	require.True(t, value.Equal(decimal.NewFromInt(1000)), "10%% of 10000")
	require.True(t, amount.Equal(decimal.NewFromInt(10)))

	// max size caps both amount and position value
	value, amount = budget.Allocate(decimal.NewFromInt(10000), decimal.NewFromInt(100), decimal.NewFromInt(4))
	require.True(t, amount.Equal(decimal.NewFromInt(4)))
	require.True(t, value.Equal(decimal.NewFromInt(400)))

	// zero price allocates nothing
	_, amount = budget.Allocate(decimal.NewFromInt(10000), decimal.Zero, decimal.Zero)
	require.True(t, amount.IsZero())

	// zero percent allocates nothing
	_, amount = NewRiskBudget(0).Allocate(decimal.NewFromInt(10000), decimal.NewFromInt(100), decimal.Zero)
	require.True(t, amount.IsZero())
}

func TestExecError_Classification(t *testing.T) {
	require.False(t, IsRetryableExec(NewFatalExecError(errInsufficient)))
	require.True(t, IsRetryableExec(NewRetryableExecError(errTimeout)))
	// unclassified errors stay retryable
	require.True(t, IsRetryableExec(errTimeout))
}

var (
	errInsufficient = errNew("insufficient funds")
	errTimeout      = errNew("request timeout")
)

type errNew string

func (e errNew) Error() string { return string(e) }
