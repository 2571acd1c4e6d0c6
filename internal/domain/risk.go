package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RiskLevel severity scale used by the risk manager and alert stream.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

// String returns the string representation of the risk level.
func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// RiskAssessment is the risk manager's verdict on a single decision.
type RiskAssessment struct {
	Level  RiskLevel
	Reason string
}

// RiskSnapshot point-in-time portfolio risk state.
type RiskSnapshot struct {
	Level    RiskLevel
	Exposure decimal.Decimal
	At       time.Time
}

// RiskAlert is an asynchronous alert from the risk management stream.
type RiskAlert struct {
	Severity RiskLevel
	Reason   string
	Source   string
	At       time.Time
}
