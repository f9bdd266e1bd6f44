package ledger

import (
	"context"

	"github.com/Veraticus/pocket-ledger/internal/cache"
	"github.com/Veraticus/pocket-ledger/internal/model"
	"github.com/Veraticus/pocket-ledger/internal/storage"
)

func cloneBudget(b model.Budget) model.Budget {
	b.TransactionIDs = append([]string(nil), b.TransactionIDs...)
	return b
}

func cloneBudgets(bs []model.Budget) []model.Budget {
	if bs == nil {
		return nil
	}
	out := make([]model.Budget, len(bs))
	for i := range bs {
		out[i] = cloneBudget(bs[i])
	}
	return out
}

func cloneSummary(s *model.MonthlySummary) *model.MonthlySummary {
	if s == nil {
		return nil
	}
	c := *s
	c.Categories = append([]model.CategorySpend(nil), s.Categories...)
	return &c
}

func (l *Ledger) budgetChanged(op Op, ids ...string) {
	l.invalidateBudgets()
	l.publish(EntityBudget, op, ids...)
}

// CreateBudgetStrict creates a budget, failing with ErrDuplicateBudget when
// the category already has one that month.
func (l *Ledger) CreateBudgetStrict(ctx context.Context, spec model.NewBudget) (*model.Budget, error) {
	var b *model.Budget
	err := l.inTx(ctx, func(tx *storage.Tx) error {
		var err error
		b, err = l.engine.CreateBudgetStrict(ctx, tx, spec)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.budgetChanged(OpCreated, b.ID)
	return b, nil
}

// CreateBudgetOrGetExisting creates a budget or returns the existing one.
func (l *Ledger) CreateBudgetOrGetExisting(ctx context.Context, spec model.NewBudget) (*model.Budget, bool, error) {
	var b *model.Budget
	var created bool
	err := l.inTx(ctx, func(tx *storage.Tx) error {
		var err error
		b, created, err = l.engine.CreateBudgetOrGetExisting(ctx, tx, spec)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		l.budgetChanged(OpCreated, b.ID)
	}
	return b, created, nil
}

// GetBudget returns a budget by id.
func (l *Ledger) GetBudget(ctx context.Context, id string) (*model.Budget, error) {
	b, err := cache.Load(l.cache, cache.TierVolatile, keyBudgets+"id:"+id, cloneBudget, func() (model.Budget, error) {
		b, err := l.store.GetBudget(ctx, id)
		if err != nil {
			return model.Budget{}, err
		}
		return *b, nil
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBudgets returns every budget in a month.
func (l *Ledger) ListBudgets(ctx context.Context, month model.Month) ([]model.Budget, error) {
	return cache.Load(l.cache, cache.TierVolatile, keyBudgets+"month:"+string(month), cloneBudgets, func() ([]model.Budget, error) {
		return l.store.ListBudgets(ctx, month)
	})
}

// UpdateBudget changes a budget's ceiling, threshold or notes.
func (l *Ledger) UpdateBudget(ctx context.Context, id string, update model.BudgetUpdate) (*model.Budget, error) {
	var b *model.Budget
	err := l.inTx(ctx, func(tx *storage.Tx) error {
		var err error
		b, err = l.engine.UpdateBudget(ctx, tx, id, update)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.budgetChanged(OpUpdated, b.ID)
	return b, nil
}

// DeleteBudget removes a budget.
func (l *Ledger) DeleteBudget(ctx context.Context, id string) error {
	if err := l.engine.DeleteBudget(ctx, l.store, id); err != nil {
		return err
	}
	l.budgetChanged(OpDeleted, id)
	return nil
}

// RecalculateBudget re-derives a budget's figures from its folded transactions.
func (l *Ledger) RecalculateBudget(ctx context.Context, id string) (*model.Budget, error) {
	var b *model.Budget
	err := l.inTx(ctx, func(tx *storage.Tx) error {
		var err error
		b, err = l.engine.Recalculate(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.budgetChanged(OpUpdated, b.ID)
	return b, nil
}

// MonthlySummary totals the budgets of a month.
func (l *Ledger) MonthlySummary(ctx context.Context, month model.Month) (*model.MonthlySummary, error) {
	return cache.Load(l.cache, cache.TierVolatile, keySummary+string(month), cloneSummary, func() (*model.MonthlySummary, error) {
		var s *model.MonthlySummary
		err := l.inTx(ctx, func(tx *storage.Tx) error {
			var err error
			s, err = l.engine.MonthlySummary(ctx, tx, month)
			return err
		})
		return s, err
	})
}

// CopyToMonth repeats one month's budgets in another.
func (l *Ledger) CopyToMonth(ctx context.Context, from, to model.Month) (*model.BulkResult, error) {
	var result *model.BulkResult
	err := l.inTx(ctx, func(tx *storage.Tx) error {
		var err error
		result, err = l.engine.CopyToMonth(ctx, tx, from, to)
		return err
	})
	if err != nil {
		return nil, err
	}
	l.budgetChanged(OpCreated, budgetIDs(result.Created)...)
	return result, nil
}

// ApplyTemplate creates budgets from a list of entries.
func (l *Ledger) ApplyTemplate(ctx context.Context, entries []model.TemplateEntry) (*model.BulkResult, error) {
	var result *model.BulkResult
	err := l.inTx(ctx, func(tx *storage.Tx) error {
		var err error
		result, err = l.engine.ApplyTemplate(ctx, tx, entries)
		return err
	})
	if err != nil {
		return nil, err
	}
	// Templates may create categories.
	l.invalidateCategories()
	l.budgetChanged(OpCreated, budgetIDs(result.Created)...)
	return result, nil
}

func budgetIDs(bs []model.Budget) []string {
	ids := make([]string, len(bs))
	for i := range bs {
		ids[i] = bs[i].ID
	}
	return ids
}
