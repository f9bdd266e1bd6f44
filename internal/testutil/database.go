// Package testutil provides test helpers for building seeded ledger databases.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/pocket-ledger/internal/model"
	"github.com/Veraticus/pocket-ledger/internal/storage"
)

// Common category names used across tests.
const (
	CategoryGroceries      = "Groceries"
	CategoryFoodDining     = "Food & Dining"
	CategoryTransportation = "Transportation"
	CategoryUtilities      = "Utilities"
	CategoryEntertainment  = "Entertainment"
)

// BasicCategories is the minimal set of categories commonly used in tests.
var BasicCategories = []string{
	CategoryGroceries,
	CategoryFoodDining,
	CategoryTransportation,
	CategoryUtilities,
	CategoryEntertainment,
}

// FixedTime is the clock used by SetupTestDB: mid-month, so month boundaries
// are never crossed by accident.
var FixedTime = time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)

// TestDB is a migrated in-memory ledger database with seeded categories.
type TestDB struct {
	Storage    *storage.SQLiteStorage
	t          *testing.T
	Categories map[string]model.Category
}

// SetupTestDB creates a migrated in-memory database with the given
// categories and a clock frozen at FixedTime. It is closed on cleanup.
func SetupTestDB(t *testing.T, categoryNames ...string) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	store.SetClock(func() time.Time { return FixedTime })

	db := &TestDB{
		Storage:    store,
		Categories: make(map[string]model.Category, len(categoryNames)),
		t:          t,
	}
	for _, name := range categoryNames {
		db.Category(name)
	}
	return db
}

// Category creates a user-defined category or fails the test.
func (db *TestDB) Category(name string) model.Category {
	db.t.Helper()
	cat, err := db.Storage.CreateCategory(context.Background(), model.NewCategory{Name: name, IsUserDefined: true})
	if err != nil {
		db.t.Fatalf("failed to seed category %q: %v", name, err)
	}
	db.Categories[name] = *cat
	return *cat
}

// MustCategoryID returns the id of a seeded category or fails the test.
func (db *TestDB) MustCategoryID(name string) string {
	db.t.Helper()
	cat, ok := db.Categories[name]
	if !ok {
		db.t.Fatalf("category %q not found in test data", name)
	}
	return cat.ID
}

// Wallet creates a wallet with an opening balance or fails the test.
func (db *TestDB) Wallet(name string, kind model.WalletKind, opening string) model.Wallet {
	db.t.Helper()
	w, err := db.Storage.CreateWallet(context.Background(), model.NewWallet{
		Name:           name,
		Kind:           kind,
		InitialBalance: decimal.RequireFromString(opening),
	})
	if err != nil {
		db.t.Fatalf("failed to seed wallet %q: %v", name, err)
	}
	return *w
}

// MustBalance returns a wallet's current balance or fails the test.
func (db *TestDB) MustBalance(walletID string) decimal.Decimal {
	db.t.Helper()
	w, err := db.Storage.GetWallet(context.Background(), walletID)
	if err != nil {
		db.t.Fatalf("failed to load wallet %s: %v", walletID, err)
	}
	return w.Balance
}

// Dec parses a decimal literal, panicking on malformed test input.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// StrPtr returns a pointer to s.
func StrPtr(s string) *string {
	return &s
}
