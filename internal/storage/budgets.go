package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/pocket-ledger/internal/common"
	"github.com/Veraticus/pocket-ledger/internal/model"
)

const budgetColumns = `id, category_id, category_name, month, ceiling, spent, remaining, status,
	warning_threshold, notes, created_at`

func scanBudget(row rowScanner) (*model.Budget, error) {
	var b model.Budget
	if err := row.Scan(
		&b.ID, &b.CategoryID, &b.CategoryName, &b.Month, &b.Ceiling, &b.Spent, &b.Remaining, &b.Status,
		&b.WarningThreshold, &b.Notes, &b.CreatedAt,
	); err != nil {
		return nil, err
	}
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}

func (q *queries) insertBudget(ctx context.Context, b *model.Budget, ignoreConflict bool) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateBudget(b); err != nil {
		return false, err
	}

	if b.ID == "" {
		b.ID = q.NewID()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = q.Now()
	}

	query := `INSERT INTO budgets (` + budgetColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if ignoreConflict {
		query += ` ON CONFLICT(category_id, month) DO NOTHING`
	}

	result, err := q.q.ExecContext(ctx, query,
		b.ID, b.CategoryID, b.CategoryName, b.Month, b.Ceiling, b.Spent, b.Remaining, b.Status,
		b.WarningThreshold, b.Notes, b.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, fmt.Errorf("%w: %s %s", common.ErrDuplicateBudget, b.CategoryName, b.Month)
		}
		return false, classifyError(fmt.Errorf("failed to insert budget: %w", err))
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check insert result: %w", err)
	}
	return affected > 0, nil
}

// InsertBudget inserts a budget, failing with ErrDuplicateBudget if the
// category already has one for the month.
func (q *queries) InsertBudget(ctx context.Context, b *model.Budget) error {
	_, err := q.insertBudget(ctx, b, false)
	return err
}

// InsertBudgetIfAbsent inserts a budget unless the category already has one
// for the month. It reports whether a row was inserted.
func (q *queries) InsertBudgetIfAbsent(ctx context.Context, b *model.Budget) (bool, error) {
	return q.insertBudget(ctx, b, true)
}

// GetBudget returns a budget by id with its folded transaction ids.
func (q *queries) GetBudget(ctx context.Context, id string) (*model.Budget, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	b, err := scanBudget(q.q.QueryRowContext(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", common.ErrBudgetNotFound, id)
	}
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to query budget: %w", err))
	}
	if err := q.loadTransactionIDs(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// FindBudget returns the budget for a category and month, or nil when there is none.
func (q *queries) FindBudget(ctx context.Context, categoryID string, month model.Month) (*model.Budget, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	b, err := scanBudget(q.q.QueryRowContext(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE category_id = ? AND month = ?`, categoryID, month))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to query budget: %w", err))
	}
	if err := q.loadTransactionIDs(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// ListBudgets returns every budget for a month ordered by category name.
func (q *queries) ListBudgets(ctx context.Context, month model.Month) ([]model.Budget, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := q.q.QueryContext(ctx,
		`SELECT `+budgetColumns+` FROM budgets WHERE month = ? ORDER BY category_name COLLATE NOCASE`, month)
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to query budgets: %w", err))
	}

	var budgets []model.Budget
	for rows.Next() {
		b, err := scanBudget(rows)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("failed to scan budget: %w", err)
		}
		budgets = append(budgets, *b)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("error iterating budgets: %w", err)
	}
	// Release the connection before issuing the per-budget queries.
	_ = rows.Close()

	for i := range budgets {
		if err := q.loadTransactionIDs(ctx, &budgets[i]); err != nil {
			return nil, err
		}
	}
	return budgets, nil
}

func (q *queries) loadTransactionIDs(ctx context.Context, b *model.Budget) error {
	rows, err := q.q.QueryContext(ctx,
		`SELECT transaction_id FROM budget_transactions WHERE budget_id = ? ORDER BY folded_at, rowid`, b.ID)
	if err != nil {
		return classifyError(fmt.Errorf("failed to query budget transactions: %w", err))
	}
	defer func() { _ = rows.Close() }()

	b.TransactionIDs = []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("failed to scan budget transaction: %w", err)
		}
		b.TransactionIDs = append(b.TransactionIDs, id)
	}
	return rows.Err()
}

// SaveBudget writes a budget's mutable and derived fields.
func (q *queries) SaveBudget(ctx context.Context, b *model.Budget) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateBudget(b); err != nil {
		return err
	}

	result, err := q.q.ExecContext(ctx, `
		UPDATE budgets SET
			category_name = ?, ceiling = ?, spent = ?, remaining = ?, status = ?,
			warning_threshold = ?, notes = ?
		WHERE id = ?`,
		b.CategoryName, b.Ceiling, b.Spent, b.Remaining, b.Status, b.WarningThreshold, b.Notes, b.ID,
	)
	if err != nil {
		return classifyError(fmt.Errorf("failed to save budget: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check save result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", common.ErrBudgetNotFound, b.ID)
	}
	return nil
}

// DeleteBudget removes a budget and its fold records.
func (q *queries) DeleteBudget(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}

	result, err := q.q.ExecContext(ctx, `DELETE FROM budgets WHERE id = ?`, id)
	if err != nil {
		return classifyError(fmt.Errorf("failed to delete budget: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", common.ErrBudgetNotFound, id)
	}

	slog.Info("deleted budget", "id", id)
	return nil
}

// FoldTransaction records that a transaction counts toward a budget. A
// transaction folds at most once; folded reports whether this call added it.
func (q *queries) FoldTransaction(ctx context.Context, budgetID, transactionID string, amount decimal.Decimal) (bool, error) {
	result, err := q.q.ExecContext(ctx, `
		INSERT INTO budget_transactions (transaction_id, budget_id, amount, folded_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(transaction_id) DO NOTHING`,
		transactionID, budgetID, amount, q.Now(),
	)
	if err != nil {
		return false, classifyError(fmt.Errorf("failed to fold transaction: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check fold result: %w", err)
	}
	if affected == 0 {
		return false, nil
	}
	if err := q.s.fault(FaultBudgetFolded); err != nil {
		return false, err
	}
	return true, nil
}

// UnfoldTransaction removes a transaction from whichever budget holds it.
// It returns the budget id, or "" when the transaction was never folded.
func (q *queries) UnfoldTransaction(ctx context.Context, transactionID string) (string, error) {
	var budgetID string
	err := q.q.QueryRowContext(ctx,
		`SELECT budget_id FROM budget_transactions WHERE transaction_id = ?`, transactionID).Scan(&budgetID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", classifyError(fmt.Errorf("failed to find folded transaction: %w", err))
	}

	if _, err := q.q.ExecContext(ctx,
		`DELETE FROM budget_transactions WHERE transaction_id = ?`, transactionID,
	); err != nil {
		return "", classifyError(fmt.Errorf("failed to unfold transaction: %w", err))
	}
	return budgetID, nil
}

// FoldedAmounts returns the amounts of every transaction folded into a budget.
func (q *queries) FoldedAmounts(ctx context.Context, budgetID string) ([]decimal.Decimal, error) {
	rows, err := q.q.QueryContext(ctx,
		`SELECT amount FROM budget_transactions WHERE budget_id = ?`, budgetID)
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to query folded amounts: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var amounts []decimal.Decimal
	for rows.Next() {
		var a decimal.Decimal
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("failed to scan folded amount: %w", err)
		}
		amounts = append(amounts, a)
	}
	return amounts, rows.Err()
}
