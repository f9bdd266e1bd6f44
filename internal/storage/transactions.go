package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/pocket-ledger/internal/common"
	"github.com/Veraticus/pocket-ledger/internal/model"
)

const transactionColumns = `t.id, t.wallet_id, t.category_id, COALESCE(c.name, ''), t.kind, t.amount, t.fee,
	t.date, t.note, t.transfer_group_id, t.leg, t.external_id,
	t.created_at, t.updated_at, t.deleted_at, t.last_synced, t.is_dirty`

const transactionFrom = ` FROM transactions t LEFT JOIN categories c ON c.id = t.category_id`

func scanTransaction(row rowScanner) (*model.Transaction, error) {
	var txn model.Transaction
	var categoryID, groupID, externalID sql.NullString
	var deletedAt, lastSynced sql.NullTime
	if err := row.Scan(
		&txn.ID, &txn.WalletID, &categoryID, &txn.CategoryName, &txn.Kind, &txn.Amount, &txn.Fee,
		&txn.Date, &txn.Note, &groupID, &txn.Leg, &externalID,
		&txn.CreatedAt, &txn.UpdatedAt, &deletedAt, &lastSynced, &txn.IsDirty,
	); err != nil {
		return nil, err
	}
	txn.CategoryID = stringPtr(categoryID)
	txn.TransferGroupID = groupID.String
	txn.ExternalID = externalID.String
	txn.Date = txn.Date.UTC()
	txn.CreatedAt = txn.CreatedAt.UTC()
	txn.UpdatedAt = txn.UpdatedAt.UTC()
	txn.DeletedAt = timePtr(deletedAt)
	txn.LastSynced = timePtr(lastSynced)
	return &txn, nil
}

func (q *queries) queryTransactions(ctx context.Context, query string, args ...any) ([]model.Transaction, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to query transactions: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var transactions []model.Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		transactions = append(transactions, *txn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return transactions, nil
}

// getTransactionAny returns a transaction by id including tombstones, or nil.
func (q *queries) getTransactionAny(ctx context.Context, id string) (*model.Transaction, error) {
	txn, err := scanTransaction(q.q.QueryRowContext(ctx,
		`SELECT `+transactionColumns+transactionFrom+` WHERE t.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to query transaction: %w", err))
	}
	return txn, nil
}

// GetTransaction returns a live transaction by id.
func (q *queries) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	txn, err := q.getTransactionAny(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn == nil || txn.IsDeleted() {
		return nil, fmt.Errorf("%w: %s", common.ErrTransactionNotFound, id)
	}
	return txn, nil
}

// ListTransactions returns live transactions ordered by date descending, with
// insertion order as the tie-break.
func (q *queries) ListTransactions(ctx context.Context, filter model.TransactionFilter) ([]model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", ErrInvalidTransaction)
	}

	query := `SELECT ` + transactionColumns + transactionFrom + ` WHERE t.deleted_at IS NULL`
	args := []any{}
	if filter.WalletID != "" {
		query += ` AND t.wallet_id = ?`
		args = append(args, filter.WalletID)
	}
	query += ` ORDER BY t.date DESC, t.rowid DESC`

	switch {
	case filter.Limit > 0:
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	case filter.Offset > 0:
		query += ` LIMIT -1 OFFSET ?`
		args = append(args, filter.Offset)
	}

	return q.queryTransactions(ctx, query, args...)
}

// TransferLegs returns both legs of a transfer group.
func (q *queries) TransferLegs(ctx context.Context, groupID string) ([]model.Transaction, error) {
	if err := validateString(groupID, "groupID"); err != nil {
		return nil, err
	}
	return q.queryTransactions(ctx,
		`SELECT `+transactionColumns+transactionFrom+`
		WHERE t.transfer_group_id = ? AND t.deleted_at IS NULL
		ORDER BY t.rowid`, groupID)
}

// walletHistory returns a wallet's live transactions in replay order.
func (q *queries) walletHistory(ctx context.Context, walletID string) ([]model.Transaction, error) {
	return q.queryTransactions(ctx,
		`SELECT `+transactionColumns+transactionFrom+`
		WHERE t.wallet_id = ? AND t.deleted_at IS NULL
		ORDER BY t.date ASC, t.rowid ASC`, walletID)
}

// sumEffects totals the signed effect of every live transaction on a wallet.
func (q *queries) sumEffects(ctx context.Context, walletID string) (decimal.Decimal, error) {
	txns, err := q.walletHistory(ctx, walletID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for i := range txns {
		total = total.Add(txns[i].SignedEffect())
	}
	return total, nil
}

func (q *queries) insertTransaction(ctx context.Context, txn *model.Transaction) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO transactions (
			id, wallet_id, category_id, kind, amount, fee, date, note,
			transfer_group_id, leg, external_id, created_at, updated_at, is_dirty
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		txn.ID, txn.WalletID, nullString(txn.CategoryID), txn.Kind, txn.Amount, txn.Fee, txn.Date, txn.Note,
		nullString(&txn.TransferGroupID), txn.Leg, nullString(&txn.ExternalID), txn.CreatedAt, txn.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) && txn.ExternalID != "" {
			return fmt.Errorf("%w: %s", ErrDuplicateImport, txn.ExternalID)
		}
		return classifyError(fmt.Errorf("failed to insert transaction %s: %w", txn.ID, err))
	}
	return nil
}

// activeWallet loads a wallet and requires it to accept transactions.
func (q *queries) activeWallet(ctx context.Context, id string) (*model.Wallet, error) {
	w, err := q.GetWallet(ctx, id)
	if err != nil {
		return nil, err
	}
	if !w.IsActive() {
		return nil, fmt.Errorf("%w: %s", common.ErrWalletInactive, id)
	}
	return w, nil
}

// HasExternalID reports whether a transaction with this import id already exists on the wallet.
func (q *queries) HasExternalID(ctx context.Context, walletID, externalID string) (bool, error) {
	var n int
	err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE wallet_id = ? AND external_id = ?`,
		walletID, externalID).Scan(&n)
	if err != nil {
		return false, classifyError(fmt.Errorf("failed to check external id: %w", err))
	}
	return n > 0, nil
}

// RecordTransaction inserts an income or expense and applies its effect to
// the owning wallet. Both rows are stamped dirty.
func (t *Tx) RecordTransaction(ctx context.Context, spec model.NewTransaction) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateNewTransaction(spec); err != nil {
		return nil, err
	}

	wallet, err := t.activeWallet(ctx, spec.WalletID)
	if err != nil {
		return nil, err
	}

	var categoryName string
	if spec.CategoryID != nil && *spec.CategoryID != "" {
		cat, err := t.GetCategory(ctx, *spec.CategoryID)
		if err != nil {
			return nil, err
		}
		categoryName = cat.Name
	}

	if spec.Kind == model.KindExpense && !wallet.CanSpend(spec.Amount) {
		return nil, fmt.Errorf("%w: wallet %s has %s, needs %s",
			common.ErrInsufficientBalance, wallet.ID, wallet.Balance, spec.Amount)
	}

	now := t.Now()
	date := spec.Date.UTC()
	if spec.Date.IsZero() {
		date = now
	}

	txn := &model.Transaction{
		ID:           t.NewID(),
		WalletID:     wallet.ID,
		CategoryID:   spec.CategoryID,
		CategoryName: categoryName,
		Kind:         spec.Kind,
		Amount:       spec.Amount,
		Fee:          decimal.Zero,
		Date:         date,
		Note:         spec.Note,
		ExternalID:   spec.ExternalID,
		CreatedAt:    now,
		UpdatedAt:    now,
		IsDirty:      true,
	}

	if err := t.insertTransaction(ctx, txn); err != nil {
		return nil, err
	}
	if err := t.s.fault(FaultTransactionInserted); err != nil {
		return nil, err
	}

	if err := t.setBalance(ctx, wallet.ID, wallet.Balance.Add(txn.SignedEffect())); err != nil {
		return nil, err
	}
	if err := t.s.fault(FaultBalanceApplied); err != nil {
		return nil, err
	}

	slog.Debug("recorded transaction", "id", txn.ID, "wallet", wallet.ID, "kind", txn.Kind, "amount", txn.Amount)
	return txn, nil
}

// RecordTransaction runs Tx.RecordTransaction in its own transaction.
func (s *SQLiteStorage) RecordTransaction(ctx context.Context, spec model.NewTransaction) (*model.Transaction, error) {
	var out *model.Transaction
	err := s.InTx(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.RecordTransaction(ctx, spec)
		return err
	})
	return out, err
}

// Transfer moves money between two wallets as a debit leg and a credit leg
// sharing one transfer group id.
func (t *Tx) Transfer(ctx context.Context, req model.TransferRequest) (*model.TransferResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateTransfer(req); err != nil {
		return nil, err
	}

	from, err := t.activeWallet(ctx, req.FromWalletID)
	if err != nil {
		return nil, err
	}
	to, err := t.activeWallet(ctx, req.ToWalletID)
	if err != nil {
		return nil, err
	}

	total := req.Amount.Add(req.Fee)
	if !from.CanSpend(total) {
		return nil, fmt.Errorf("%w: wallet %s has %s, needs %s",
			common.ErrInsufficientBalance, from.ID, from.Balance, total)
	}

	now := t.Now()
	date := req.Date.UTC()
	if req.Date.IsZero() {
		date = now
	}
	group := t.NewID()

	debit := model.Transaction{
		ID:              t.NewID(),
		WalletID:        from.ID,
		Kind:            model.KindTransfer,
		Leg:             model.LegDebit,
		Amount:          req.Amount,
		Fee:             req.Fee,
		Date:            date,
		Note:            req.Note,
		TransferGroupID: group,
		CreatedAt:       now,
		UpdatedAt:       now,
		IsDirty:         true,
	}
	credit := debit
	credit.ID = t.NewID()
	credit.WalletID = to.ID
	credit.Leg = model.LegCredit
	credit.Fee = decimal.Zero

	if err := t.insertTransaction(ctx, &debit); err != nil {
		return nil, err
	}
	if err := t.s.fault(FaultDebitLegInserted); err != nil {
		return nil, err
	}
	if err := t.insertTransaction(ctx, &credit); err != nil {
		return nil, err
	}
	if err := t.s.fault(FaultCreditLegInserted); err != nil {
		return nil, err
	}

	fromBalance := from.Balance.Add(debit.SignedEffect())
	if err := t.setBalance(ctx, from.ID, fromBalance); err != nil {
		return nil, err
	}
	if err := t.s.fault(FaultFromBalanceApplied); err != nil {
		return nil, err
	}

	toBalance := to.Balance.Add(credit.SignedEffect())
	if err := t.setBalance(ctx, to.ID, toBalance); err != nil {
		return nil, err
	}
	if err := t.s.fault(FaultToBalanceApplied); err != nil {
		return nil, err
	}

	slog.Debug("transferred between wallets",
		"group", group, "from", from.ID, "to", to.ID, "amount", req.Amount, "fee", req.Fee)

	return &model.TransferResult{
		DebitLeg:    debit,
		CreditLeg:   credit,
		FromBalance: fromBalance,
		ToBalance:   toBalance,
	}, nil
}

// Transfer runs Tx.Transfer in its own transaction.
func (s *SQLiteStorage) Transfer(ctx context.Context, req model.TransferRequest) (*model.TransferResult, error) {
	var out *model.TransferResult
	err := s.InTx(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.Transfer(ctx, req)
		return err
	})
	return out, err
}

// DeleteTransaction tombstones a transaction and reverses its balance effect.
// Deleting either leg of a transfer reverses the whole transfer. It returns
// every transaction that was removed.
func (t *Tx) DeleteTransaction(ctx context.Context, id string) ([]model.Transaction, error) {
	txn, err := t.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	removed := []model.Transaction{*txn}
	if txn.TransferGroupID != "" {
		removed, err = t.TransferLegs(ctx, txn.TransferGroupID)
		if err != nil {
			return nil, err
		}
	}

	now := t.Now()
	for i := range removed {
		leg := &removed[i]
		wallet, err := t.GetWallet(ctx, leg.WalletID)
		if err != nil {
			return nil, err
		}

		reversal := leg.SignedEffect().Neg()
		if reversal.IsNegative() && !wallet.CanSpend(reversal.Abs()) {
			return nil, fmt.Errorf("%w: reversing %s would overdraw wallet %s",
				common.ErrInsufficientBalance, leg.ID, wallet.ID)
		}

		if _, err := t.q.ExecContext(ctx,
			`UPDATE transactions SET deleted_at = ?, updated_at = ?, is_dirty = 1 WHERE id = ?`,
			now, now, leg.ID,
		); err != nil {
			return nil, classifyError(fmt.Errorf("failed to delete transaction %s: %w", leg.ID, err))
		}
		if err := t.s.fault(FaultTransactionDeleted); err != nil {
			return nil, err
		}

		if err := t.setBalance(ctx, wallet.ID, wallet.Balance.Add(reversal)); err != nil {
			return nil, err
		}

		leg.DeletedAt = &now
		leg.UpdatedAt = now
		leg.IsDirty = true
	}

	slog.Debug("deleted transaction", "id", id, "legs", len(removed))
	return removed, nil
}

// DeleteTransaction runs Tx.DeleteTransaction in its own transaction.
func (s *SQLiteStorage) DeleteTransaction(ctx context.Context, id string) ([]model.Transaction, error) {
	var out []model.Transaction
	err := s.InTx(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.DeleteTransaction(ctx, id)
		return err
	})
	return out, err
}

// RestoreTransaction upserts a remote-origin transaction without marking it
// dirty. The wallet balance is left as is: the remote balance already counts
// this transaction and arrives through RestoreWallet. The opening balance
// absorbs the change in effect instead, so the balance invariant holds in
// whichever order wallets and transactions are restored.
func (t *Tx) RestoreTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateRestoredTransaction(txn); err != nil {
		return nil, err
	}

	if _, err := t.GetWallet(ctx, txn.WalletID); err != nil {
		return nil, err
	}
	if txn.CategoryID != nil && *txn.CategoryID != "" {
		if _, err := t.GetCategory(ctx, *txn.CategoryID); err != nil {
			return nil, err
		}
	}

	existing, err := t.getTransactionAny(ctx, txn.ID)
	if err != nil {
		return nil, err
	}

	now := t.Now()
	restored := *txn
	restored.Date = txn.Date.UTC()
	restored.IsDirty = false
	restored.LastSynced = &now
	if restored.CreatedAt.IsZero() {
		restored.CreatedAt = now
	}
	if restored.UpdatedAt.IsZero() {
		restored.UpdatedAt = now
	}
	if restored.Kind != model.KindTransfer {
		restored.Leg = model.LegNone
		restored.Fee = decimal.Zero
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO transactions (
			id, wallet_id, category_id, kind, amount, fee, date, note,
			transfer_group_id, leg, external_id, created_at, updated_at, deleted_at, last_synced, is_dirty
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			wallet_id = excluded.wallet_id,
			category_id = excluded.category_id,
			kind = excluded.kind,
			amount = excluded.amount,
			fee = excluded.fee,
			date = excluded.date,
			note = excluded.note,
			transfer_group_id = excluded.transfer_group_id,
			leg = excluded.leg,
			external_id = excluded.external_id,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at,
			last_synced = excluded.last_synced,
			is_dirty = 0`,
		restored.ID, restored.WalletID, nullString(restored.CategoryID), restored.Kind, restored.Amount, restored.Fee,
		restored.Date, restored.Note, nullString(&restored.TransferGroupID), restored.Leg, nullString(&restored.ExternalID),
		restored.CreatedAt.UTC(), restored.UpdatedAt.UTC(), nullTime(restored.DeletedAt), now,
	)
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to restore transaction: %w", err))
	}

	if existing != nil && !existing.IsDeleted() {
		if err := t.shiftOpeningBalance(ctx, existing.WalletID, existing.SignedEffect()); err != nil {
			return nil, err
		}
	}
	if !restored.IsDeleted() {
		if err := t.shiftOpeningBalance(ctx, restored.WalletID, restored.SignedEffect().Neg()); err != nil {
			return nil, err
		}
	}

	slog.Info("restored transaction from remote", "id", restored.ID, "wallet", restored.WalletID)
	return t.getTransactionAny(ctx, restored.ID)
}

// RestoreTransaction runs Tx.RestoreTransaction in its own transaction.
func (s *SQLiteStorage) RestoreTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	var out *model.Transaction
	err := s.InTx(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.RestoreTransaction(ctx, txn)
		return err
	})
	return out, err
}

// shiftOpeningBalance moves a wallet's opening balance by delta without
// touching its balance or dirty flag.
func (t *Tx) shiftOpeningBalance(ctx context.Context, walletID string, delta decimal.Decimal) error {
	if delta.IsZero() {
		return nil
	}
	w, err := t.GetWallet(ctx, walletID)
	if err != nil {
		return err
	}
	if _, err := t.q.ExecContext(ctx,
		`UPDATE wallets SET initial_balance = ? WHERE id = ?`, w.InitialBalance.Add(delta), walletID,
	); err != nil {
		return classifyError(fmt.Errorf("failed to update opening balance: %w", err))
	}
	return nil
}

// BalanceHistory returns end-of-day balances for the last days days ending
// today, replayed forward from the wallet's opening balance.
func (q *queries) BalanceHistory(ctx context.Context, walletID string, days int) ([]model.BalancePoint, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if days <= 0 {
		return nil, fmt.Errorf("%w: days must be positive", ErrInvalidTransaction)
	}

	wallet, err := q.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	txns, err := q.walletHistory(ctx, walletID)
	if err != nil {
		return nil, err
	}

	today := startOfDay(q.Now())
	first := today.AddDate(0, 0, -(days - 1))

	running := wallet.InitialBalance
	next := 0
	points := make([]model.BalancePoint, 0, days)
	for day := first; !day.After(today); day = day.AddDate(0, 0, 1) {
		end := day.AddDate(0, 0, 1)
		for next < len(txns) && txns[next].Date.Before(end) {
			running = running.Add(txns[next].SignedEffect())
			next++
		}
		points = append(points, model.BalancePoint{Date: day, Balance: running})
	}
	return points, nil
}

// GetBalanceHistory runs BalanceHistory inside one read transaction so the
// wallet row and its transactions come from the same snapshot.
func (s *SQLiteStorage) GetBalanceHistory(ctx context.Context, walletID string, days int) ([]model.BalancePoint, error) {
	var out []model.BalancePoint
	err := s.InTx(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.BalanceHistory(ctx, walletID, days)
		return err
	})
	return out, err
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
