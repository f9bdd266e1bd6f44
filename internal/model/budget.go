package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BudgetStatus summarizes how close spending is to the ceiling.
type BudgetStatus string

// Budget statuses.
const (
	BudgetOnTrack  BudgetStatus = "on_track"
	BudgetWarning  BudgetStatus = "warning"
	BudgetExceeded BudgetStatus = "exceeded"
)

// DefaultWarningThreshold is the percentage of the ceiling at which a budget turns to warning.
const DefaultWarningThreshold = 80

var hundred = decimal.NewFromInt(100)

// ComputeBudgetStatus applies the status rule to a spent/ceiling pair:
// exceeded above the ceiling, warning at or above threshold percent of it.
// A zero ceiling with nothing spent is therefore already a warning.
func ComputeBudgetStatus(spent, ceiling decimal.Decimal, warningThreshold int) BudgetStatus {
	if spent.GreaterThan(ceiling) {
		return BudgetExceeded
	}
	warnAt := ceiling.Mul(decimal.NewFromInt(int64(warningThreshold))).Div(hundred)
	if spent.GreaterThanOrEqual(warnAt) {
		return BudgetWarning
	}
	return BudgetOnTrack
}

// Budget is a spending ceiling for one category in one month.
type Budget struct {
	CreatedAt        time.Time
	Ceiling          decimal.Decimal
	Spent            decimal.Decimal
	Remaining        decimal.Decimal
	ID               string
	CategoryID       string
	CategoryName     string
	Month            Month
	Status           BudgetStatus
	Notes            string
	TransactionIDs   []string
	WarningThreshold int
}

// Recompute refreshes the derived fields from the folded amounts.
func (b *Budget) Recompute(amounts []decimal.Decimal) {
	spent := decimal.Zero
	for _, a := range amounts {
		spent = spent.Add(a.Abs())
	}
	b.Spent = spent
	b.Remaining = b.Ceiling.Sub(spent)
	b.Status = ComputeBudgetStatus(spent, b.Ceiling, b.WarningThreshold)
}

// NewBudget holds the caller-supplied fields for budget creation.
type NewBudget struct {
	Ceiling          decimal.Decimal
	CategoryID       string
	Month            Month
	Notes            string
	WarningThreshold int
}

// BudgetUpdate is a partial update; nil fields are left untouched.
type BudgetUpdate struct {
	Ceiling          *decimal.Decimal
	WarningThreshold *int
	Notes            *string
}

// CategorySpend is one line of a monthly summary.
type CategorySpend struct {
	Ceiling      decimal.Decimal
	Spent        decimal.Decimal
	Remaining    decimal.Decimal
	BudgetID     string
	CategoryName string
	Status       BudgetStatus
}

// MonthlySummary aggregates every budget in a month.
type MonthlySummary struct {
	CeilingTotal   decimal.Decimal
	SpentTotal     decimal.Decimal
	RemainingTotal decimal.Decimal
	Month          Month
	Status         BudgetStatus
	Categories     []CategorySpend
}

// TemplateEntry is one budget to create in a bulk template application.
type TemplateEntry struct {
	Ceiling          decimal.Decimal
	CategoryName     string
	Month            Month
	Notes            string
	WarningThreshold int
}

// BulkResult reports the outcome of a bulk budget operation.
type BulkResult struct {
	Created []Budget
	Skipped int
}
