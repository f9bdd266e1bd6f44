package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/pocket-ledger/internal/model"
	"github.com/Veraticus/pocket-ledger/internal/storage"
)

// ListUnsynchronized returns every record waiting to be pushed.
func (l *Ledger) ListUnsynchronized(ctx context.Context) (*model.UnsyncedSnapshot, error) {
	return l.store.ListUnsynchronized(ctx)
}

// MarkSynchronized clears the dirty flag on ids in table. Records modified
// after syncedAt stay dirty. Marking twice is harmless.
func (l *Ledger) MarkSynchronized(ctx context.Context, table model.SyncTable, ids []string, syncedAt time.Time) (int, error) {
	n, err := l.store.MarkSynchronized(ctx, table, ids, syncedAt)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}

	switch table {
	case model.TableWallets:
		l.invalidateWallets(ids...)
	case model.TableTransactions:
		l.cache.InvalidatePrefix(keyTransactions)
	case model.TableCategories:
		l.cache.InvalidatePrefix(keyCategories)
	}
	l.publish(EntitySync, OpSynced, ids...)
	return n, nil
}

// AppendSyncLog records the outcome of a sync attempt.
func (l *Ledger) AppendSyncLog(ctx context.Context, entry model.SyncLogEntry) (*model.SyncLogEntry, error) {
	saved, err := l.store.AppendSyncLog(ctx, entry)
	if err != nil {
		return nil, err
	}
	l.publish(EntitySync, OpCreated, saved.ID)
	return saved, nil
}

// ListSyncLog returns recent sync attempts, newest first. A limit of zero
// returns them all.
func (l *Ledger) ListSyncLog(ctx context.Context, limit int) ([]model.SyncLogEntry, error) {
	return l.store.ListSyncLog(ctx, limit)
}

// LastSuccessfulSync returns when the last successful sync happened, or nil.
func (l *Ledger) LastSuccessfulSync(ctx context.Context) (*time.Time, error) {
	return l.store.LastSuccessfulSync(ctx)
}

// SyncStatus reports pending record counts and the last successful sync.
func (l *Ledger) SyncStatus(ctx context.Context) (*model.SyncStatus, error) {
	return l.store.SyncStatus(ctx)
}

// RestoreWallet applies a wallet received from the remote side without
// marking it dirty.
func (l *Ledger) RestoreWallet(ctx context.Context, w *model.Wallet) (*model.Wallet, error) {
	restored, err := l.store.RestoreWallet(ctx, w)
	if err != nil {
		return nil, err
	}
	l.invalidateWallets(restored.ID)
	l.publish(EntityWallet, OpRestored, restored.ID)
	return restored, nil
}

// RestoreCategory applies a category received from the remote side without
// marking it dirty.
func (l *Ledger) RestoreCategory(ctx context.Context, cat *model.Category) (*model.Category, error) {
	restored, err := l.store.RestoreCategory(ctx, cat)
	if err != nil {
		return nil, err
	}
	l.invalidateCategories()
	l.publish(EntityCategory, OpRestored, restored.ID)
	return restored, nil
}

// RestoreTransaction applies a transaction received from the remote side
// without marking it dirty. Its wallet balance and budget fold follow the
// restored version.
func (l *Ledger) RestoreTransaction(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	var restored *model.Transaction
	var previousWallet string
	err := l.inTx(ctx, func(tx *storage.Tx) error {
		if txn != nil && txn.ID != "" {
			if prev, err := tx.GetTransaction(ctx, txn.ID); err == nil {
				previousWallet = prev.WalletID
			}
		}

		var err error
		restored, err = tx.RestoreTransaction(ctx, txn)
		if err != nil {
			return err
		}

		if _, err := l.engine.OnTransactionRemoved(ctx, tx, restored.ID); err != nil {
			return fmt.Errorf("failed to unfold restored transaction: %w", err)
		}
		if _, err := l.engine.OnExpenseRecorded(ctx, tx, restored); err != nil {
			return fmt.Errorf("failed to fold restored transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.invalidateWallets(restored.WalletID, previousWallet)
	l.invalidateCategories()
	l.publish(EntityTransaction, OpRestored, restored.ID)
	return restored, nil
}
