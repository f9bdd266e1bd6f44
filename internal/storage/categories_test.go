package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/pocket-ledger/internal/common"
	"github.com/Veraticus/pocket-ledger/internal/model"
)

func TestSQLiteStorage_CreateCategory(t *testing.T) {
	store, _ := createTestStorage(t)
	ctx := context.Background()

	cat, err := store.CreateCategory(ctx, model.NewCategory{Name: " Groceries ", Icon: "cart", IsUserDefined: true})
	require.NoError(t, err)
	assert.Equal(t, "Groceries", cat.Name)
	assert.True(t, cat.IsDirty)

	_, err = store.CreateCategory(ctx, model.NewCategory{Name: "groceries"})
	assert.ErrorIs(t, err, common.ErrDuplicateCategoryName)

	_, err = store.CreateCategory(ctx, model.NewCategory{Name: "   "})
	assert.ErrorIs(t, err, ErrInvalidCategory)

	byName, err := store.GetCategoryByName(ctx, "GROCERIES")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, cat.ID, byName.ID)

	none, err := store.GetCategoryByName(ctx, "Travel")
	require.NoError(t, err)
	assert.Nil(t, none)

	_, err = store.GetCategory(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrCategoryNotFound)
}

func TestSQLiteStorage_ListCategories(t *testing.T) {
	store, _ := createTestStorage(t)
	ctx := context.Background()

	for _, name := range []string{"utilities", "Entertainment", "bills"} {
		mustCategory(t, store, name)
	}

	cats, err := store.ListCategories(ctx)
	require.NoError(t, err)
	require.Len(t, cats, 3)
	assert.Equal(t, "bills", cats[0].Name)
	assert.Equal(t, "Entertainment", cats[1].Name)
	assert.Equal(t, "utilities", cats[2].Name)
}

func TestSQLiteStorage_EnsureCategory(t *testing.T) {
	store, _ := createTestStorage(t)
	ctx := context.Background()

	cat, created, err := store.EnsureCategory(ctx, model.NewCategory{Name: "Miscellaneous"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, cat.IsUserDefined)

	again, created, err := store.EnsureCategory(ctx, model.NewCategory{Name: "miscellaneous"})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, cat.ID, again.ID)
}

func TestSQLiteStorage_UpdateCategoryRenamesBudgets(t *testing.T) {
	store, _ := createTestStorage(t)
	ctx := context.Background()
	cat := mustCategory(t, store, "Food")
	mustCategory(t, store, "Travel")

	budget := &model.Budget{
		CategoryID:       cat.ID,
		CategoryName:     cat.Name,
		Month:            "2025-03",
		Ceiling:          dec("200"),
		Remaining:        dec("200"),
		Status:           model.BudgetOnTrack,
		WarningThreshold: 80,
	}
	require.NoError(t, store.InsertBudget(ctx, budget))

	name := "Food & Dining"
	updated, err := store.UpdateCategory(ctx, cat.ID, model.CategoryUpdate{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)

	got, err := store.GetBudget(ctx, budget.ID)
	require.NoError(t, err)
	assert.Equal(t, name, got.CategoryName)

	taken := "travel"
	_, err = store.UpdateCategory(ctx, cat.ID, model.CategoryUpdate{Name: &taken})
	assert.ErrorIs(t, err, common.ErrDuplicateCategoryName)

	_, err = store.UpdateCategory(ctx, "missing", model.CategoryUpdate{Name: &name})
	assert.ErrorIs(t, err, common.ErrCategoryNotFound)
}

func TestSQLiteStorage_RestoreCategory(t *testing.T) {
	store, _ := createTestStorage(t)
	ctx := context.Background()

	restored, err := store.RestoreCategory(ctx, &model.Category{ID: "remote-cat", Name: "Pets", IsUserDefined: true})
	require.NoError(t, err)
	assert.False(t, restored.IsDirty)
	assert.NotNil(t, restored.LastSynced)

	restored, err = store.RestoreCategory(ctx, &model.Category{ID: "remote-cat", Name: "Pet care", IsUserDefined: true})
	require.NoError(t, err)
	assert.Equal(t, "Pet care", restored.Name)

	pending, err := store.ListUnsynchronized(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending.Categories)

	_, err = store.RestoreCategory(ctx, &model.Category{ID: "", Name: "x"})
	assert.ErrorIs(t, err, ErrInvalidCategory)
}

func TestSQLiteStorage_RestoreCategoryMergesByName(t *testing.T) {
	store, clock := createTestStorage(t)
	ctx := context.Background()
	local := mustCategory(t, store, "Groceries")
	w := mustWallet(t, store, "Checking", model.WalletKindBank, "100")
	txn, err := store.RecordTransaction(ctx, model.NewTransaction{
		WalletID: w.ID, Kind: model.KindExpense, Amount: dec("10"), CategoryID: &local.ID,
	})
	require.NoError(t, err)
	b := newTestBudget(local, "2025-03", "200")
	require.NoError(t, store.InsertBudget(ctx, b))
	_, err = store.MarkSynchronized(ctx, model.TableTransactions, []string{txn.ID}, clock.Now())
	require.NoError(t, err)

	restored, err := store.RestoreCategory(ctx, &model.Category{ID: "remote-groceries", Name: "groceries", IsUserDefined: true})
	require.NoError(t, err)
	assert.Equal(t, "remote-groceries", restored.ID)
	assert.False(t, restored.IsDirty)

	_, err = store.GetCategory(ctx, local.ID)
	assert.ErrorIs(t, err, common.ErrCategoryNotFound)

	got, err := store.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CategoryID)
	assert.Equal(t, "remote-groceries", *got.CategoryID)
	assert.True(t, got.IsDirty, "moved transactions are pushed again")

	budget, err := store.GetBudget(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "remote-groceries", budget.CategoryID)
	assert.Equal(t, "groceries", budget.CategoryName)

	cats, err := store.ListCategories(ctx)
	require.NoError(t, err)
	assert.Len(t, cats, 1)
}
