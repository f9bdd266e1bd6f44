package ledger

import (
	"context"
	"fmt"

	"github.com/Veraticus/pocket-ledger/internal/cache"
	"github.com/Veraticus/pocket-ledger/internal/model"
)

func cloneWallet(w *model.Wallet) *model.Wallet {
	if w == nil {
		return nil
	}
	c := w.Clone()
	return &c
}

func cloneWallets(ws []model.Wallet) []model.Wallet {
	if ws == nil {
		return nil
	}
	out := make([]model.Wallet, len(ws))
	for i := range ws {
		out[i] = ws[i].Clone()
	}
	return out
}

// CreateWallet adds a wallet with its opening balance.
func (l *Ledger) CreateWallet(ctx context.Context, spec model.NewWallet) (*model.Wallet, error) {
	w, err := l.store.CreateWallet(ctx, spec)
	if err != nil {
		return nil, err
	}
	l.invalidateWallets(w.ID)
	l.publish(EntityWallet, OpCreated, w.ID)
	return w, nil
}

// GetWallet returns a wallet by id.
func (l *Ledger) GetWallet(ctx context.Context, id string) (*model.Wallet, error) {
	return cache.Load(l.cache, cache.TierVolatile, keyWallet+id, cloneWallet, func() (*model.Wallet, error) {
		return l.store.GetWallet(ctx, id)
	})
}

// ListWallets returns active wallets, plus inactive ones when asked.
func (l *Ledger) ListWallets(ctx context.Context, includeInactive bool) ([]model.Wallet, error) {
	key := fmt.Sprintf("%sinactive=%t", keyWallets, includeInactive)
	return cache.Load(l.cache, cache.TierVolatile, key, cloneWallets, func() ([]model.Wallet, error) {
		return l.store.ListWallets(ctx, includeInactive)
	})
}

// UpdateWallet applies a partial update to a wallet's descriptive fields.
func (l *Ledger) UpdateWallet(ctx context.Context, id string, update model.WalletUpdate) error {
	if err := l.store.UpdateWallet(ctx, id, update); err != nil {
		return err
	}
	l.invalidateWallets(id)
	l.publish(EntityWallet, OpUpdated, id)
	return nil
}

// DeactivateWallet hides a wallet from new activity. Its transactions and
// balance are kept.
func (l *Ledger) DeactivateWallet(ctx context.Context, id string) error {
	return l.setWalletStatus(ctx, id, model.WalletInactive)
}

// ReactivateWallet returns an inactive wallet to service.
func (l *Ledger) ReactivateWallet(ctx context.Context, id string) error {
	return l.setWalletStatus(ctx, id, model.WalletActive)
}

func (l *Ledger) setWalletStatus(ctx context.Context, id string, next model.WalletStatus) error {
	if _, err := l.store.SetWalletStatus(ctx, id, next); err != nil {
		return err
	}
	l.invalidateWallets(id)
	l.publish(EntityWallet, OpUpdated, id)
	return nil
}

// GetBalanceHistory returns end-of-day balances for the last days days.
func (l *Ledger) GetBalanceHistory(ctx context.Context, walletID string, days int) ([]model.BalancePoint, error) {
	key := fmt.Sprintf("%s%s:%d", keyHistory, walletID, days)
	clone := func(p []model.BalancePoint) []model.BalancePoint {
		return append([]model.BalancePoint(nil), p...)
	}
	return cache.Load(l.cache, cache.TierVolatile, key, clone, func() ([]model.BalancePoint, error) {
		return l.store.GetBalanceHistory(ctx, walletID, days)
	})
}
