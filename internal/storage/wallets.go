package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/pocket-ledger/internal/common"
	"github.com/Veraticus/pocket-ledger/internal/model"
)

const walletColumns = `id, name, kind, balance, initial_balance, color, icon, status,
	created_at, updated_at, last_synced, is_dirty`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWallet(row rowScanner) (*model.Wallet, error) {
	var w model.Wallet
	var lastSynced sql.NullTime
	if err := row.Scan(
		&w.ID, &w.Name, &w.Kind, &w.Balance, &w.InitialBalance, &w.Color, &w.Icon, &w.Status,
		&w.CreatedAt, &w.UpdatedAt, &lastSynced, &w.IsDirty,
	); err != nil {
		return nil, err
	}
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	w.LastSynced = timePtr(lastSynced)
	return &w, nil
}

// CreateWallet inserts a new, active, dirty wallet.
func (q *queries) CreateWallet(ctx context.Context, spec model.NewWallet) (*model.Wallet, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateNewWallet(spec); err != nil {
		return nil, err
	}

	now := q.Now()
	w := &model.Wallet{
		ID:             q.NewID(),
		Name:           strings.TrimSpace(spec.Name),
		Kind:           spec.Kind,
		Balance:        spec.InitialBalance,
		InitialBalance: spec.InitialBalance,
		Color:          spec.Color,
		Icon:           spec.Icon,
		Status:         model.WalletActive,
		CreatedAt:      now,
		UpdatedAt:      now,
		IsDirty:        true,
	}

	_, err := q.q.ExecContext(ctx, `
		INSERT INTO wallets (`+walletColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, 1)`,
		w.ID, w.Name, w.Kind, w.Balance, w.InitialBalance, w.Color, w.Icon, w.Status,
		w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to create wallet: %w", err))
	}

	slog.Debug("created wallet", "id", w.ID, "kind", w.Kind)
	return w, nil
}

// GetWallet returns a wallet by id, active or not.
func (q *queries) GetWallet(ctx context.Context, id string) (*model.Wallet, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	w, err := scanWallet(q.q.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", common.ErrWalletNotFound, id)
	}
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to query wallet: %w", err))
	}
	return w, nil
}

// ListWallets returns wallets ordered by name. Inactive wallets are included
// only when includeInactive is set.
func (q *queries) ListWallets(ctx context.Context, includeInactive bool) ([]model.Wallet, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	query := `SELECT ` + walletColumns + ` FROM wallets`
	args := []any{}
	if !includeInactive {
		query += ` WHERE status = ?`
		args = append(args, model.WalletActive)
	}
	query += ` ORDER BY name COLLATE NOCASE, created_at`

	return q.queryWallets(ctx, query, args...)
}

func (q *queries) queryWallets(ctx context.Context, query string, args ...any) ([]model.Wallet, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to query wallets: %w", err))
	}
	defer func() { _ = rows.Close() }()

	var wallets []model.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, *w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating wallets: %w", err)
	}
	return wallets, nil
}

// UpdateWallet applies a partial update. It always marks the wallet dirty and
// refreshes updated_at, even when no field changes. A wallet below zero can
// only change to a kind that allows overdraft.
func (t *Tx) UpdateWallet(ctx context.Context, id string, update model.WalletUpdate) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	if err := validateWalletUpdate(update); err != nil {
		return err
	}

	if update.Kind != nil && !update.Kind.AllowsOverdraft() {
		w, err := t.GetWallet(ctx, id)
		if err != nil {
			return err
		}
		if w.Balance.IsNegative() {
			return fmt.Errorf("%w: %s wallet %s is at %s", common.ErrInsufficientBalance, *update.Kind, w.Name, w.Balance)
		}
	}

	sets := []string{"is_dirty = 1", "updated_at = ?"}
	args := []any{t.Now()}
	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, strings.TrimSpace(*update.Name))
	}
	if update.Kind != nil {
		sets = append(sets, "kind = ?")
		args = append(args, *update.Kind)
	}
	if update.Color != nil {
		sets = append(sets, "color = ?")
		args = append(args, *update.Color)
	}
	if update.Icon != nil {
		sets = append(sets, "icon = ?")
		args = append(args, *update.Icon)
	}
	args = append(args, id)

	result, err := t.q.ExecContext(ctx,
		`UPDATE wallets SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return classifyError(fmt.Errorf("failed to update wallet: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", common.ErrWalletNotFound, id)
	}
	return nil
}

// UpdateWallet runs Tx.UpdateWallet in its own transaction.
func (s *SQLiteStorage) UpdateWallet(ctx context.Context, id string, update model.WalletUpdate) error {
	return s.InTx(ctx, func(tx *Tx) error {
		return tx.UpdateWallet(ctx, id, update)
	})
}

// setBalance writes a new balance and stamps the wallet dirty.
func (q *queries) setBalance(ctx context.Context, walletID string, balance decimal.Decimal) error {
	result, err := q.q.ExecContext(ctx,
		`UPDATE wallets SET balance = ?, updated_at = ?, is_dirty = 1 WHERE id = ?`,
		balance, q.Now(), walletID)
	if err != nil {
		return classifyError(fmt.Errorf("failed to update wallet balance: %w", err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check balance update: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", common.ErrWalletNotFound, walletID)
	}
	return nil
}

// SetWalletStatus moves a wallet between active and inactive following the
// wallet status transition table.
func (t *Tx) SetWalletStatus(ctx context.Context, id string, next model.WalletStatus) (*model.Wallet, error) {
	w, err := t.GetWallet(ctx, id)
	if err != nil {
		return nil, err
	}
	if !w.Status.CanTransition(next) {
		return nil, fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, w.Status, next)
	}

	now := t.Now()
	if _, err := t.q.ExecContext(ctx,
		`UPDATE wallets SET status = ?, updated_at = ?, is_dirty = 1 WHERE id = ?`,
		next, now, id,
	); err != nil {
		return nil, classifyError(fmt.Errorf("failed to update wallet status: %w", err))
	}

	w.Status = next
	w.UpdatedAt = now
	w.IsDirty = true
	slog.Info("wallet status changed", "id", id, "status", next)
	return w, nil
}

// SetWalletStatus runs Tx.SetWalletStatus in its own transaction.
func (s *SQLiteStorage) SetWalletStatus(ctx context.Context, id string, next model.WalletStatus) (*model.Wallet, error) {
	var out *model.Wallet
	err := s.InTx(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.SetWalletStatus(ctx, id, next)
		return err
	})
	return out, err
}

// RestoreWallet upserts a remote-origin wallet without marking it dirty.
// The opening balance is re-anchored so that the restored balance still
// equals the opening balance plus every local transaction effect.
func (t *Tx) RestoreWallet(ctx context.Context, w *model.Wallet) (*model.Wallet, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateRestoredWallet(w); err != nil {
		return nil, err
	}

	effects, err := t.sumEffects(ctx, w.ID)
	if err != nil {
		return nil, err
	}

	now := t.Now()
	restored := *w
	restored.InitialBalance = w.Balance.Sub(effects)
	restored.IsDirty = false
	restored.LastSynced = &now
	if restored.CreatedAt.IsZero() {
		restored.CreatedAt = now
	}
	if restored.UpdatedAt.IsZero() {
		restored.UpdatedAt = now
	}

	_, err = t.q.ExecContext(ctx, `
		INSERT INTO wallets (`+walletColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			kind = excluded.kind,
			balance = excluded.balance,
			initial_balance = excluded.initial_balance,
			color = excluded.color,
			icon = excluded.icon,
			status = excluded.status,
			updated_at = excluded.updated_at,
			last_synced = excluded.last_synced,
			is_dirty = 0`,
		restored.ID, restored.Name, restored.Kind, restored.Balance, restored.InitialBalance,
		restored.Color, restored.Icon, restored.Status,
		restored.CreatedAt.UTC(), restored.UpdatedAt.UTC(), now,
	)
	if err != nil {
		return nil, classifyError(fmt.Errorf("failed to restore wallet: %w", err))
	}

	slog.Info("restored wallet from remote", "id", restored.ID)
	return t.GetWallet(ctx, restored.ID)
}

// RestoreWallet runs Tx.RestoreWallet in its own transaction.
func (s *SQLiteStorage) RestoreWallet(ctx context.Context, w *model.Wallet) (*model.Wallet, error) {
	var out *model.Wallet
	err := s.InTx(ctx, func(tx *Tx) error {
		var err error
		out, err = tx.RestoreWallet(ctx, w)
		return err
	})
	return out, err
}
