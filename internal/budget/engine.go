// Package budget folds expenses into monthly per-category budgets and keeps
// their spent, remaining and status figures current.
package budget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/pocket-ledger/internal/common"
	"github.com/Veraticus/pocket-ledger/internal/model"
)

// DefaultFallbackCategory receives expenses whose category has no budget.
const DefaultFallbackCategory = "Miscellaneous"

// ErrInvalidBudget is returned for malformed budget input.
var ErrInvalidBudget = errors.New("invalid budget")

// Store is the persistence the engine needs. Every call made during one
// engine operation goes through the same Store, so passing a database
// transaction makes the whole operation atomic with the caller's mutation.
type Store interface {
	GetCategory(ctx context.Context, id string) (*model.Category, error)
	GetCategoryByName(ctx context.Context, name string) (*model.Category, error)
	EnsureCategory(ctx context.Context, spec model.NewCategory) (*model.Category, bool, error)

	InsertBudget(ctx context.Context, b *model.Budget) error
	InsertBudgetIfAbsent(ctx context.Context, b *model.Budget) (bool, error)
	GetBudget(ctx context.Context, id string) (*model.Budget, error)
	FindBudget(ctx context.Context, categoryID string, month model.Month) (*model.Budget, error)
	ListBudgets(ctx context.Context, month model.Month) ([]model.Budget, error)
	SaveBudget(ctx context.Context, b *model.Budget) error
	DeleteBudget(ctx context.Context, id string) error

	FoldTransaction(ctx context.Context, budgetID, transactionID string, amount decimal.Decimal) (bool, error)
	UnfoldTransaction(ctx context.Context, transactionID string) (string, error)
	FoldedAmounts(ctx context.Context, budgetID string) ([]decimal.Decimal, error)
}

// Config tunes the engine.
type Config struct {
	FallbackCeiling  decimal.Decimal
	FallbackCategory string
	WarningThreshold int
}

// Engine applies budget rules. It holds no state of its own; every
// operation runs against the Store it is given.
type Engine struct {
	cfg Config
}

// NewEngine returns an engine, filling unset config with defaults.
func NewEngine(cfg Config) *Engine {
	if strings.TrimSpace(cfg.FallbackCategory) == "" {
		cfg.FallbackCategory = DefaultFallbackCategory
	}
	if cfg.WarningThreshold <= 0 || cfg.WarningThreshold > 100 {
		cfg.WarningThreshold = model.DefaultWarningThreshold
	}
	if cfg.FallbackCeiling.IsNegative() {
		cfg.FallbackCeiling = decimal.Zero
	}
	return &Engine{cfg: cfg}
}

// FallbackCategory returns the name of the category that catches unbudgeted expenses.
func (e *Engine) FallbackCategory() string {
	return e.cfg.FallbackCategory
}

// OnExpenseRecorded folds an expense into the budget for its category and
// month. When the category has no budget that month, or the expense has no
// category, it lands in the fallback category's budget, which is created on
// demand. Folding the same transaction twice has no further effect. Non-expenses
// are ignored and return nil.
func (e *Engine) OnExpenseRecorded(ctx context.Context, st Store, txn *model.Transaction) (*model.Budget, error) {
	if txn == nil || !txn.IsExpense() || txn.IsDeleted() {
		return nil, nil
	}
	month := txn.Month()

	var target *model.Budget
	if txn.CategoryID != nil && *txn.CategoryID != "" {
		b, err := st.FindBudget(ctx, *txn.CategoryID, month)
		if err != nil {
			return nil, err
		}
		target = b
	}
	if target == nil {
		b, err := e.fallbackBudget(ctx, st, month)
		if err != nil {
			return nil, err
		}
		target = b
	}

	folded, err := st.FoldTransaction(ctx, target.ID, txn.ID, txn.Amount)
	if err != nil {
		return nil, err
	}
	if !folded {
		slog.Debug("transaction already folded", "transaction", txn.ID, "budget", target.ID)
		return st.GetBudget(ctx, target.ID)
	}
	return e.recompute(ctx, st, target.ID)
}

// OnTransactionRemoved takes a transaction back out of whichever budget holds
// it. It returns nil when the transaction was never folded.
func (e *Engine) OnTransactionRemoved(ctx context.Context, st Store, transactionID string) (*model.Budget, error) {
	budgetID, err := st.UnfoldTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if budgetID == "" {
		return nil, nil
	}
	return e.recompute(ctx, st, budgetID)
}

// fallbackBudget returns the fallback category's budget for month, creating
// the category and the budget if either is missing. A concurrent creator
// winning the race is not an error.
func (e *Engine) fallbackBudget(ctx context.Context, st Store, month model.Month) (*model.Budget, error) {
	cat, created, err := st.EnsureCategory(ctx, model.NewCategory{Name: e.cfg.FallbackCategory})
	if err != nil {
		return nil, fmt.Errorf("failed to provision fallback category: %w", err)
	}
	if created {
		slog.Info("provisioned fallback category", "name", cat.Name)
	}

	b := e.newBudget(cat, month, e.cfg.FallbackCeiling, e.cfg.WarningThreshold, "")
	inserted, err := st.InsertBudgetIfAbsent(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("failed to provision fallback budget: %w", err)
	}
	if inserted {
		slog.Info("provisioned fallback budget", "category", cat.Name, "month", month)
	}

	existing, err := st.FindBudget(ctx, cat.ID, month)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, fmt.Errorf("%w: %s %s", common.ErrBudgetNotFound, cat.Name, month)
	}
	return existing, nil
}

func (e *Engine) newBudget(cat *model.Category, month model.Month, ceiling decimal.Decimal, threshold int, notes string) *model.Budget {
	b := &model.Budget{
		CategoryID:       cat.ID,
		CategoryName:     cat.Name,
		Month:            month,
		Ceiling:          ceiling,
		WarningThreshold: threshold,
		Notes:            notes,
		TransactionIDs:   []string{},
	}
	b.Recompute(nil)
	return b
}

// recompute reloads a budget, re-derives spent, remaining and status from
// its folded amounts, and saves it.
func (e *Engine) recompute(ctx context.Context, st Store, budgetID string) (*model.Budget, error) {
	b, err := st.GetBudget(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	amounts, err := st.FoldedAmounts(ctx, budgetID)
	if err != nil {
		return nil, err
	}
	b.Recompute(amounts)
	if err := st.SaveBudget(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Recalculate re-derives a budget's figures from its folded transactions.
func (e *Engine) Recalculate(ctx context.Context, st Store, budgetID string) (*model.Budget, error) {
	return e.recompute(ctx, st, budgetID)
}

func (e *Engine) prepare(ctx context.Context, st Store, spec model.NewBudget) (*model.Budget, error) {
	if spec.CategoryID == "" {
		return nil, fmt.Errorf("%w: missing category", ErrInvalidBudget)
	}
	month, err := model.ParseMonth(string(spec.Month))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBudget, err)
	}
	if spec.Ceiling.IsNegative() {
		return nil, fmt.Errorf("%w: ceiling cannot be negative", ErrInvalidBudget)
	}
	threshold := spec.WarningThreshold
	if threshold == 0 {
		threshold = e.cfg.WarningThreshold
	}
	if threshold < 0 || threshold > 100 {
		return nil, fmt.Errorf("%w: warning threshold must be between 0 and 100", ErrInvalidBudget)
	}

	cat, err := st.GetCategory(ctx, spec.CategoryID)
	if err != nil {
		return nil, err
	}
	return e.newBudget(cat, month, spec.Ceiling, threshold, spec.Notes), nil
}

// CreateBudgetStrict creates a budget, failing with ErrDuplicateBudget if
// the category already has one for the month. A zero warning threshold
// takes the configured default.
func (e *Engine) CreateBudgetStrict(ctx context.Context, st Store, spec model.NewBudget) (*model.Budget, error) {
	b, err := e.prepare(ctx, st, spec)
	if err != nil {
		return nil, err
	}
	if err := st.InsertBudget(ctx, b); err != nil {
		return nil, err
	}
	slog.Info("created budget", "category", b.CategoryName, "month", b.Month, "ceiling", b.Ceiling)
	return b, nil
}

// CreateBudgetOrGetExisting creates a budget, or returns the one the
// category already has for the month. created reports which happened.
func (e *Engine) CreateBudgetOrGetExisting(ctx context.Context, st Store, spec model.NewBudget) (b *model.Budget, created bool, err error) {
	b, err = e.prepare(ctx, st, spec)
	if err != nil {
		return nil, false, err
	}
	inserted, err := st.InsertBudgetIfAbsent(ctx, b)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		return b, true, nil
	}
	existing, err := st.FindBudget(ctx, b.CategoryID, b.Month)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("%w: %s %s", common.ErrBudgetNotFound, b.CategoryName, b.Month)
	}
	return existing, false, nil
}

// UpdateBudget changes a budget's ceiling, threshold or notes and refreshes
// its status.
func (e *Engine) UpdateBudget(ctx context.Context, st Store, id string, update model.BudgetUpdate) (*model.Budget, error) {
	b, err := st.GetBudget(ctx, id)
	if err != nil {
		return nil, err
	}
	if update.Ceiling != nil {
		if update.Ceiling.IsNegative() {
			return nil, fmt.Errorf("%w: ceiling cannot be negative", ErrInvalidBudget)
		}
		b.Ceiling = *update.Ceiling
	}
	if update.WarningThreshold != nil {
		if *update.WarningThreshold < 0 || *update.WarningThreshold > 100 {
			return nil, fmt.Errorf("%w: warning threshold must be between 0 and 100", ErrInvalidBudget)
		}
		b.WarningThreshold = *update.WarningThreshold
	}
	if update.Notes != nil {
		b.Notes = *update.Notes
	}

	amounts, err := st.FoldedAmounts(ctx, id)
	if err != nil {
		return nil, err
	}
	b.Recompute(amounts)
	if err := st.SaveBudget(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// DeleteBudget removes a budget. Its transactions are no longer folded anywhere.
func (e *Engine) DeleteBudget(ctx context.Context, st Store, id string) error {
	return st.DeleteBudget(ctx, id)
}

// MonthlySummary totals every budget in a month. The overall status applies
// the status rule to the totals; a month without budgets is on track.
func (e *Engine) MonthlySummary(ctx context.Context, st Store, month model.Month) (*model.MonthlySummary, error) {
	month, err := model.ParseMonth(string(month))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBudget, err)
	}
	budgets, err := st.ListBudgets(ctx, month)
	if err != nil {
		return nil, err
	}

	summary := &model.MonthlySummary{
		Month:          month,
		CeilingTotal:   decimal.Zero,
		SpentTotal:     decimal.Zero,
		RemainingTotal: decimal.Zero,
		Categories:     make([]model.CategorySpend, 0, len(budgets)),
	}
	for i := range budgets {
		b := &budgets[i]
		summary.CeilingTotal = summary.CeilingTotal.Add(b.Ceiling)
		summary.SpentTotal = summary.SpentTotal.Add(b.Spent)
		summary.Categories = append(summary.Categories, model.CategorySpend{
			BudgetID:     b.ID,
			CategoryName: b.CategoryName,
			Ceiling:      b.Ceiling,
			Spent:        b.Spent,
			Remaining:    b.Remaining,
			Status:       b.Status,
		})
	}
	summary.RemainingTotal = summary.CeilingTotal.Sub(summary.SpentTotal)
	summary.Status = model.BudgetOnTrack
	if len(budgets) > 0 {
		summary.Status = model.ComputeBudgetStatus(summary.SpentTotal, summary.CeilingTotal, e.cfg.WarningThreshold)
	}
	return summary, nil
}

// CopyToMonth creates a budget in to for every budget in from, keeping
// ceiling, threshold and notes. Categories that already have a budget in to
// are skipped.
func (e *Engine) CopyToMonth(ctx context.Context, st Store, from, to model.Month) (*model.BulkResult, error) {
	from, err := model.ParseMonth(string(from))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBudget, err)
	}
	to, err = model.ParseMonth(string(to))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidBudget, err)
	}
	if from == to {
		return nil, fmt.Errorf("%w: source and target month are the same", ErrInvalidBudget)
	}

	source, err := st.ListBudgets(ctx, from)
	if err != nil {
		return nil, err
	}

	result := &model.BulkResult{Created: []model.Budget{}}
	for i := range source {
		src := &source[i]
		cat := &model.Category{ID: src.CategoryID, Name: src.CategoryName}
		b := e.newBudget(cat, to, src.Ceiling, src.WarningThreshold, src.Notes)
		inserted, err := st.InsertBudgetIfAbsent(ctx, b)
		if err != nil {
			return nil, err
		}
		if !inserted {
			result.Skipped++
			continue
		}
		result.Created = append(result.Created, *b)
	}

	slog.Info("copied budgets", "from", from, "to", to, "created", len(result.Created), "skipped", result.Skipped)
	return result, nil
}

// ApplyTemplate creates one budget per entry, creating categories by name
// where needed. Entries whose category already has a budget that month are
// skipped. Any invalid entry fails the whole template.
func (e *Engine) ApplyTemplate(ctx context.Context, st Store, entries []model.TemplateEntry) (*model.BulkResult, error) {
	for i, entry := range entries {
		if strings.TrimSpace(entry.CategoryName) == "" {
			return nil, fmt.Errorf("%w: entry %d has no category", ErrInvalidBudget, i)
		}
		if _, err := model.ParseMonth(string(entry.Month)); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %w", ErrInvalidBudget, i, err)
		}
		if entry.Ceiling.IsNegative() {
			return nil, fmt.Errorf("%w: entry %d has a negative ceiling", ErrInvalidBudget, i)
		}
		if entry.WarningThreshold < 0 || entry.WarningThreshold > 100 {
			return nil, fmt.Errorf("%w: entry %d threshold out of range", ErrInvalidBudget, i)
		}
	}

	result := &model.BulkResult{Created: []model.Budget{}}
	for _, entry := range entries {
		cat, _, err := st.EnsureCategory(ctx, model.NewCategory{Name: entry.CategoryName, IsUserDefined: true})
		if err != nil {
			return nil, err
		}
		month, _ := model.ParseMonth(string(entry.Month))
		threshold := entry.WarningThreshold
		if threshold == 0 {
			threshold = e.cfg.WarningThreshold
		}

		b := e.newBudget(cat, month, entry.Ceiling, threshold, entry.Notes)
		inserted, err := st.InsertBudgetIfAbsent(ctx, b)
		if err != nil {
			return nil, err
		}
		if !inserted {
			result.Skipped++
			continue
		}
		result.Created = append(result.Created, *b)
	}
	return result, nil
}
