// Package ledger is the entry point to the local ledger. It runs every
// mutation as one database transaction, keeps budgets folded in the same
// transaction, invalidates the read cache before returning and then
// notifies subscribers.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Veraticus/pocket-ledger/internal/budget"
	"github.com/Veraticus/pocket-ledger/internal/cache"
	"github.com/Veraticus/pocket-ledger/internal/storage"
)

// Cache key prefixes. Keys are built as prefix + identifying parts.
const (
	keyWallet       = "wallet:"
	keyWallets      = "wallets:"
	keyTransactions = "transactions:"
	keyHistory      = "history:"
	keyCategories   = "categories:"
	keyBudgets      = "budgets:"
	keySummary      = "summary:"
	keyPreference   = "pref:"
)

// Ledger coordinates storage, budgets and the read cache.
type Ledger struct {
	store  *storage.SQLiteStorage
	engine *budget.Engine
	cache  *cache.Cache
	subs   map[int]func(Event)
	nextID int
	subsMu sync.RWMutex
}

// New returns a ledger over a migrated store. A nil cache disables caching.
func New(store *storage.SQLiteStorage, engine *budget.Engine, c *cache.Cache) *Ledger {
	if engine == nil {
		engine = budget.NewEngine(budget.Config{})
	}
	return &Ledger{
		store:  store,
		engine: engine,
		cache:  c,
		subs:   make(map[int]func(Event)),
	}
}

// Storage exposes the underlying store for maintenance tasks such as snapshots.
func (l *Ledger) Storage() *storage.SQLiteStorage {
	return l.store
}

// Engine returns the budget engine.
func (l *Ledger) Engine() *budget.Engine {
	return l.engine
}

// Clear drops every cached read. Call it on logout or account deletion.
func (l *Ledger) Clear() {
	l.cache.Clear()
	slog.Debug("cleared ledger cache")
}

// Close stops the cache and closes the database.
func (l *Ledger) Close() error {
	l.cache.Close()
	if err := l.store.Close(); err != nil {
		return fmt.Errorf("failed to close storage: %w", err)
	}
	return nil
}

// inTx runs fn in one database transaction.
func (l *Ledger) inTx(ctx context.Context, fn func(tx *storage.Tx) error) error {
	return l.store.InTx(ctx, fn)
}

func (l *Ledger) invalidateWallets(ids ...string) {
	prefixes := []string{keyWallets, keyTransactions, keyHistory}
	for _, id := range ids {
		prefixes = append(prefixes, keyWallet+id)
	}
	l.cache.InvalidatePrefix(prefixes...)
}

func (l *Ledger) invalidateBudgets() {
	l.cache.InvalidatePrefix(keyBudgets, keySummary)
}

func (l *Ledger) invalidateCategories() {
	// Budgets and transactions carry the category name.
	l.cache.InvalidatePrefix(keyCategories, keyBudgets, keySummary, keyTransactions)
}
