package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/pocket-ledger/internal/model"
	"github.com/Veraticus/pocket-ledger/internal/storage"
)

// ImportResult reports what an import did.
type ImportResult struct {
	Imported []model.Transaction
	Skipped  int
}

// ImportTransactions records a batch of statement entries in one database
// transaction. Entries whose external id is already on the wallet are
// skipped, so importing the same statement twice is harmless. progress, if
// set, is called after each entry.
func (l *Ledger) ImportTransactions(ctx context.Context, entries []model.NewTransaction, progress func(done, total int)) (*ImportResult, error) {
	result := &ImportResult{}
	walletIDs := make(map[string]struct{})

	err := l.inTx(ctx, func(tx *storage.Tx) error {
		// A retried transaction starts over.
		result.Imported = result.Imported[:0]
		result.Skipped = 0

		for i, spec := range entries {
			if spec.ExternalID != "" {
				seen, err := tx.HasExternalID(ctx, spec.WalletID, spec.ExternalID)
				if err != nil {
					return err
				}
				if seen {
					result.Skipped++
					if progress != nil {
						progress(i+1, len(entries))
					}
					continue
				}
			}

			txn, err := l.record(ctx, tx, spec)
			if err != nil {
				return fmt.Errorf("entry %d (%s): %w", i+1, spec.ExternalID, err)
			}
			result.Imported = append(result.Imported, *txn)
			walletIDs[txn.WalletID] = struct{}{}
			if progress != nil {
				progress(i+1, len(entries))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(result.Imported) > 0 {
		ids := make([]string, 0, len(walletIDs))
		for id := range walletIDs {
			ids = append(ids, id)
		}
		l.invalidateWallets(ids...)
		l.invalidateCategories()
		l.invalidateBudgets()

		txnIDs := make([]string, len(result.Imported))
		for i := range result.Imported {
			txnIDs[i] = result.Imported[i].ID
		}
		l.publish(EntityTransaction, OpCreated, txnIDs...)
	}

	slog.Info("imported transactions", "imported", len(result.Imported), "skipped", result.Skipped)
	return result, nil
}
