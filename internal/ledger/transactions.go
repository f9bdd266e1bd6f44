package ledger

import (
	"context"
	"fmt"

	"github.com/Veraticus/pocket-ledger/internal/cache"
	"github.com/Veraticus/pocket-ledger/internal/model"
	"github.com/Veraticus/pocket-ledger/internal/storage"
)

func cloneTransactions(ts []model.Transaction) []model.Transaction {
	if ts == nil {
		return nil
	}
	out := make([]model.Transaction, len(ts))
	for i := range ts {
		out[i] = ts[i].Clone()
	}
	return out
}

// RecordTransaction records income or an expense against a wallet. The row,
// the balance change and the budget fold commit together or not at all.
func (l *Ledger) RecordTransaction(ctx context.Context, spec model.NewTransaction) (*model.Transaction, error) {
	var txn *model.Transaction
	err := l.inTx(ctx, func(tx *storage.Tx) error {
		var err error
		txn, err = l.record(ctx, tx, spec)
		return err
	})
	if err != nil {
		return nil, err
	}

	l.invalidateWallets(txn.WalletID)
	if txn.IsExpense() {
		// Folding may have provisioned the fallback category.
		l.invalidateCategories()
	}
	l.invalidateBudgets()
	l.publish(EntityTransaction, OpCreated, txn.ID)
	return txn, nil
}

func (l *Ledger) record(ctx context.Context, tx *storage.Tx, spec model.NewTransaction) (*model.Transaction, error) {
	txn, err := tx.RecordTransaction(ctx, spec)
	if err != nil {
		return nil, err
	}
	if _, err := l.engine.OnExpenseRecorded(ctx, tx, txn); err != nil {
		return nil, fmt.Errorf("failed to fold expense into budget: %w", err)
	}
	return txn, nil
}

// Transfer moves money between two wallets.
func (l *Ledger) Transfer(ctx context.Context, req model.TransferRequest) (*model.TransferResult, error) {
	result, err := l.store.Transfer(ctx, req)
	if err != nil {
		return nil, err
	}

	l.invalidateWallets(req.FromWalletID, req.ToWalletID)
	l.publish(EntityTransaction, OpCreated, result.DebitLeg.ID, result.CreditLeg.ID)
	return result, nil
}

// DeleteTransaction removes a transaction, reverses its balance effect and
// takes it out of its budget. Deleting either leg of a transfer removes both.
// It returns the removed transactions.
func (l *Ledger) DeleteTransaction(ctx context.Context, id string) ([]model.Transaction, error) {
	var removed []model.Transaction
	err := l.inTx(ctx, func(tx *storage.Tx) error {
		var err error
		removed, err = tx.DeleteTransaction(ctx, id)
		if err != nil {
			return err
		}
		for i := range removed {
			if _, err := l.engine.OnTransactionRemoved(ctx, tx, removed[i].ID); err != nil {
				return fmt.Errorf("failed to unfold transaction from budget: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	walletIDs := make([]string, 0, len(removed))
	ids := make([]string, 0, len(removed))
	for i := range removed {
		walletIDs = append(walletIDs, removed[i].WalletID)
		ids = append(ids, removed[i].ID)
	}
	l.invalidateWallets(walletIDs...)
	l.invalidateBudgets()
	l.publish(EntityTransaction, OpDeleted, ids...)
	return removed, nil
}

// ReverseTransfer undoes a transfer given either of its legs.
func (l *Ledger) ReverseTransfer(ctx context.Context, legID string) ([]model.Transaction, error) {
	txn, err := l.store.GetTransaction(ctx, legID)
	if err != nil {
		return nil, err
	}
	if txn.Kind != model.KindTransfer {
		return nil, fmt.Errorf("%w: %s is not a transfer", storage.ErrInvalidTransfer, legID)
	}
	return l.DeleteTransaction(ctx, legID)
}

// GetTransaction returns a live transaction by id.
func (l *Ledger) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	return l.store.GetTransaction(ctx, id)
}

// ListTransactions returns a page of transactions, newest first.
func (l *Ledger) ListTransactions(ctx context.Context, filter model.TransactionFilter) ([]model.Transaction, error) {
	key := fmt.Sprintf("%s%s:%d:%d", keyTransactions, filter.WalletID, filter.Limit, filter.Offset)
	return cache.Load(l.cache, cache.TierVolatile, key, cloneTransactions, func() ([]model.Transaction, error) {
		return l.store.ListTransactions(ctx, filter)
	})
}
