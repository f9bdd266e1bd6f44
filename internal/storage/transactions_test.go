package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/pocket-ledger/internal/common"
	"github.com/Veraticus/pocket-ledger/internal/model"
)

func day(d int) time.Time {
	return time.Date(2025, time.March, d, 9, 0, 0, 0, time.UTC)
}

func TestSQLiteStorage_RecordTransaction(t *testing.T) {
	tests := []struct {
		wantErr     error
		name        string
		kind        model.WalletKind
		opening     string
		amount      string
		wantBalance string
		txnKind     model.TransactionKind
	}{
		{
			name:        "income raises balance",
			kind:        model.WalletKindBank,
			opening:     "100",
			txnKind:     model.KindIncome,
			amount:      "25.50",
			wantBalance: "125.50",
		},
		{
			name:        "expense lowers balance",
			kind:        model.WalletKindBank,
			opening:     "100",
			txnKind:     model.KindExpense,
			amount:      "100",
			wantBalance: "0",
		},
		{
			name:        "expense beyond balance is refused",
			kind:        model.WalletKindCash,
			opening:     "10",
			txnKind:     model.KindExpense,
			amount:      "10.01",
			wantBalance: "10",
			wantErr:     common.ErrInsufficientBalance,
		},
		{
			name:        "credit card may go negative",
			kind:        model.WalletKindCreditCard,
			opening:     "0",
			txnKind:     model.KindExpense,
			amount:      "80",
			wantBalance: "-80",
		},
		{
			name:        "transfer kind is rejected",
			kind:        model.WalletKindBank,
			opening:     "100",
			txnKind:     model.KindTransfer,
			amount:      "5",
			wantBalance: "100",
			wantErr:     ErrInvalidTransaction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := createTestStorage(t)
			ctx := context.Background()
			w := mustWallet(t, store, "Wallet", tt.kind, tt.opening)

			txn, err := store.RecordTransaction(ctx, model.NewTransaction{
				WalletID: w.ID,
				Kind:     tt.txnKind,
				Amount:   dec(tt.amount),
				Date:     day(10),
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.True(t, txn.IsDirty)
				assert.Equal(t, model.LegNone, txn.Leg)
			}

			assertDecimal(t, tt.wantBalance, mustBalance(t, store, w.ID))
			assertBalanceInvariant(t, store, w.ID)
		})
	}
}

func TestSQLiteStorage_RecordTransactionDetails(t *testing.T) {
	store, _ := createTestStorage(t)
	ctx := context.Background()
	w := mustWallet(t, store, "Checking", model.WalletKindBank, "100")
	groceries := mustCategory(t, store, "Groceries")

	txn, err := store.RecordTransaction(ctx, model.NewTransaction{
		WalletID:   w.ID,
		Kind:       model.KindExpense,
		Amount:     dec("12.34"),
		CategoryID: &groceries.ID,
		Note:       "weekly shop",
	})
	require.NoError(t, err)
	assert.True(t, testEpoch.Equal(txn.Date), "zero date defaults to now")

	got, err := store.GetTransaction(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, "Groceries", got.CategoryName)
	require.NotNil(t, got.CategoryID)
	assert.Equal(t, groceries.ID, *got.CategoryID)
	assert.Equal(t, "weekly shop", got.Note)
	assertDecimal(t, "12.34", got.Amount)
	assertDecimal(t, "0", got.Fee)

	missing := "no-such-category"
	_, err = store.RecordTransaction(ctx, model.NewTransaction{
		WalletID: w.ID, Kind: model.KindExpense, Amount: dec("1"), CategoryID: &missing,
	})
	assert.ErrorIs(t, err, common.ErrCategoryNotFound)

	_, err = store.RecordTransaction(ctx, model.NewTransaction{
		WalletID: "no-such-wallet", Kind: model.KindIncome, Amount: dec("1"),
	})
	assert.ErrorIs(t, err, common.ErrWalletNotFound)

	assertDecimal(t, "87.66", mustBalance(t, store, w.ID))
}

func TestSQLiteStorage_ExternalID(t *testing.T) {
	store, _ := createTestStorage(t)
	ctx := context.Background()
	a := mustWallet(t, store, "A", model.WalletKindBank, "0")
	b := mustWallet(t, store, "B", model.WalletKindBank, "0")

	spec := model.NewTransaction{WalletID: a.ID, Kind: model.KindIncome, Amount: dec("10"), ExternalID: "FIT-1"}
	_, err := store.RecordTransaction(ctx, spec)
	require.NoError(t, err)

	seen, err := store.HasExternalID(ctx, a.ID, "FIT-1")
	require.NoError(t, err)
	assert.True(t, seen)

	seen, err = store.HasExternalID(ctx, b.ID, "FIT-1")
	require.NoError(t, err)
	assert.False(t, seen)

	_, err = store.RecordTransaction(ctx, spec)
	assert.ErrorIs(t, err, ErrDuplicateImport)
	assertDecimal(t, "10", mustBalance(t, store, a.ID))

	// The same id on another wallet is a different statement line.
	spec.WalletID = b.ID
	_, err = store.RecordTransaction(ctx, spec)
	require.NoError(t, err)
}

func TestSQLiteStorage_Transfer(t *testing.T) {
	tests := []struct {
		wantErr  error
		name     string
		amount   string
		fee      string
		wantFrom string
		wantTo   string
	}{
		{name: "simple transfer", amount: "40", fee: "0", wantFrom: "60", wantTo: "40"},
		{name: "transfer with fee", amount: "40", fee: "2.50", wantFrom: "57.50", wantTo: "40"},
		{name: "whole balance", amount: "100", fee: "0", wantFrom: "0", wantTo: "100"},
		{name: "fee pushes past balance", amount: "100", fee: "1", wantFrom: "100", wantTo: "0", wantErr: common.ErrInsufficientBalance},
		{name: "more than balance", amount: "150", fee: "0", wantFrom: "100", wantTo: "0", wantErr: common.ErrInsufficientBalance},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := createTestStorage(t)
			ctx := context.Background()
			a := mustWallet(t, store, "A", model.WalletKindBank, "100")
			b := mustWallet(t, store, "B", model.WalletKindSavings, "0")

			result, err := store.Transfer(ctx, model.TransferRequest{
				FromWalletID: a.ID,
				ToWalletID:   b.ID,
				Amount:       dec(tt.amount),
				Fee:          dec(tt.fee),
				Note:         "move",
			})
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assertDecimal(t, tt.wantFrom, result.FromBalance)
				assertDecimal(t, tt.wantTo, result.ToBalance)
				assert.Equal(t, result.DebitLeg.TransferGroupID, result.CreditLeg.TransferGroupID)
				assert.Equal(t, model.LegDebit, result.DebitLeg.Leg)
				assert.Equal(t, model.LegCredit, result.CreditLeg.Leg)
				assertDecimal(t, tt.fee, result.DebitLeg.Fee)
				assertDecimal(t, "0", result.CreditLeg.Fee)

				legs, err := store.TransferLegs(ctx, result.DebitLeg.TransferGroupID)
				require.NoError(t, err)
				assert.Len(t, legs, 2)
			}

			fromBalance := mustBalance(t, store, a.ID)
			toBalance := mustBalance(t, store, b.ID)
			assertDecimal(t, tt.wantFrom, fromBalance)
			assertDecimal(t, tt.wantTo, toBalance)

			// Money is conserved apart from the fee.
			total := fromBalance.Add(toBalance)
			if tt.wantErr == nil {
				total = total.Add(dec(tt.fee))
			}
			assertDecimal(t, "100", total)
			assertBalanceInvariant(t, store, a.ID)
			assertBalanceInvariant(t, store, b.ID)
		})
	}
}

func TestSQLiteStorage_TransferValidation(t *testing.T) {
	store, _ := createTestStorage(t)
	ctx := context.Background()
	a := mustWallet(t, store, "A", model.WalletKindBank, "100")
	b := mustWallet(t, store, "B", model.WalletKindBank, "0")

	_, err := store.Transfer(ctx, model.TransferRequest{FromWalletID: a.ID, ToWalletID: a.ID, Amount: dec("1")})
	assert.ErrorIs(t, err, ErrInvalidTransfer)

	_, err = store.SetWalletStatus(ctx, b.ID, model.WalletInactive)
	require.NoError(t, err)
	_, err = store.Transfer(ctx, model.TransferRequest{FromWalletID: a.ID, ToWalletID: b.ID, Amount: dec("1")})
	assert.ErrorIs(t, err, common.ErrWalletInactive)

	_, err = store.Transfer(ctx, model.TransferRequest{FromWalletID: a.ID, ToWalletID: "missing", Amount: dec("1")})
	assert.ErrorIs(t, err, common.ErrWalletNotFound)

	assertDecimal(t, "100", mustBalance(t, store, a.ID))
}

func TestSQLiteStorage_DeleteTransaction(t *testing.T) {
	store, _ := createTestStorage(t)
	ctx := context.Background()
	w := mustWallet(t, store, "Checking", model.WalletKindBank, "100")

	txn, err := store.RecordTransaction(ctx, model.NewTransaction{WalletID: w.ID, Kind: model.KindExpense, Amount: dec("30")})
	require.NoError(t, err)
	assertDecimal(t, "70", mustBalance(t, store, w.ID))

	removed, err := store.DeleteTransaction(ctx, txn.ID)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.True(t, removed[0].IsDeleted())
	assertDecimal(t, "100", mustBalance(t, store, w.ID))
	assertBalanceInvariant(t, store, w.ID)

	_, err = store.GetTransaction(ctx, txn.ID)
	assert.ErrorIs(t, err, common.ErrTransactionNotFound)

	_, err = store.DeleteTransaction(ctx, txn.ID)
	assert.ErrorIs(t, err, common.ErrTransactionNotFound)

	// The tombstone is still waiting to be pushed.
	pending, err := store.ListUnsynchronized(ctx)
	require.NoError(t, err)
	require.Len(t, pending.Transactions, 1)
	assert.True(t, pending.Transactions[0].IsDeleted())
}

func TestSQLiteStorage_DeleteTransferEitherLeg(t *testing.T) {
	for _, useCredit := range []bool{false, true} {
		name := "debit leg"
		if useCredit {
			name = "credit leg"
		}
		t.Run(name, func(t *testing.T) {
			store, _ := createTestStorage(t)
			ctx := context.Background()
			a := mustWallet(t, store, "A", model.WalletKindBank, "100")
			b := mustWallet(t, store, "B", model.WalletKindBank, "0")

			result, err := store.Transfer(ctx, model.TransferRequest{
				FromWalletID: a.ID, ToWalletID: b.ID, Amount: dec("40"), Fee: dec("1"),
			})
			require.NoError(t, err)

			id := result.DebitLeg.ID
			if useCredit {
				id = result.CreditLeg.ID
			}
			removed, err := store.DeleteTransaction(ctx, id)
			require.NoError(t, err)
			assert.Len(t, removed, 2)

			assertDecimal(t, "100", mustBalance(t, store, a.ID))
			assertDecimal(t, "0", mustBalance(t, store, b.ID))

			legs, err := store.TransferLegs(ctx, result.DebitLeg.TransferGroupID)
			require.NoError(t, err)
			assert.Empty(t, legs)
		})
	}
}

func TestSQLiteStorage_DeleteTransactionWouldOverdraw(t *testing.T) {
	store, _ := createTestStorage(t)
	ctx := context.Background()
	w := mustWallet(t, store, "Cash", model.WalletKindCash, "0")

	income, err := store.RecordTransaction(ctx, model.NewTransaction{WalletID: w.ID, Kind: model.KindIncome, Amount: dec("50")})
	require.NoError(t, err)
	_, err = store.RecordTransaction(ctx, model.NewTransaction{WalletID: w.ID, Kind: model.KindExpense, Amount: dec("40")})
	require.NoError(t, err)

	_, err = store.DeleteTransaction(ctx, income.ID)
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)
	assertDecimal(t, "10", mustBalance(t, store, w.ID))

	_, err = store.GetTransaction(ctx, income.ID)
	assert.NoError(t, err)
}

func TestSQLiteStorage_ListTransactions(t *testing.T) {
	store, _ := createTestStorage(t)
	ctx := context.Background()
	a := mustWallet(t, store, "A", model.WalletKindBank, "1000")
	b := mustWallet(t, store, "B", model.WalletKindBank, "1000")

	record := func(walletID string, d int, note string) *model.Transaction {
		t.Helper()
		txn, err := store.RecordTransaction(ctx, model.NewTransaction{
			WalletID: walletID, Kind: model.KindExpense, Amount: dec("1"), Date: day(d), Note: note,
		})
		require.NoError(t, err)
		return txn
	}

	record(a.ID, 3, "a-3")
	record(a.ID, 5, "a-5-first")
	record(b.ID, 4, "b-4")
	record(a.ID, 5, "a-5-second")
	deleted := record(a.ID, 6, "a-6-deleted")
	_, err := store.DeleteTransaction(ctx, deleted.ID)
	require.NoError(t, err)

	notes := func(txns []model.Transaction) []string {
		out := make([]string, len(txns))
		for i := range txns {
			out[i] = txns[i].Note
		}
		return out
	}

	tests := []struct {
		name   string
		filter model.TransactionFilter
		want   []string
	}{
		{
			name:   "all wallets newest first",
			filter: model.TransactionFilter{},
			want:   []string{"a-5-second", "a-5-first", "b-4", "a-3"},
		},
		{
			name:   "one wallet",
			filter: model.TransactionFilter{WalletID: a.ID},
			want:   []string{"a-5-second", "a-5-first", "a-3"},
		},
		{
			name:   "first page",
			filter: model.TransactionFilter{Limit: 2},
			want:   []string{"a-5-second", "a-5-first"},
		},
		{
			name:   "second page",
			filter: model.TransactionFilter{Limit: 2, Offset: 2},
			want:   []string{"b-4", "a-3"},
		},
		{
			name:   "offset without limit",
			filter: model.TransactionFilter{Offset: 3},
			want:   []string{"a-3"},
		},
		{
			name:   "offset past the end",
			filter: model.TransactionFilter{Limit: 10, Offset: 10},
			want:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.ListTransactions(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.want, notes(got))
		})
	}

	_, err = store.ListTransactions(ctx, model.TransactionFilter{Limit: -1})
	assert.ErrorIs(t, err, ErrInvalidTransaction)
}

func TestSQLiteStorage_BalanceHistory(t *testing.T) {
	store, _ := createTestStorage(t)
	ctx := context.Background()
	w := mustWallet(t, store, "Checking", model.WalletKindBank, "100")

	for _, spec := range []model.NewTransaction{
		{WalletID: w.ID, Kind: model.KindExpense, Amount: dec("20"), Date: day(1)},
		{WalletID: w.ID, Kind: model.KindIncome, Amount: dec("50"), Date: day(13)},
		{WalletID: w.ID, Kind: model.KindExpense, Amount: dec("30"), Date: day(15)},
	} {
		_, err := store.RecordTransaction(ctx, spec)
		require.NoError(t, err)
	}

	points, err := store.GetBalanceHistory(ctx, w.ID, 4)
	require.NoError(t, err)
	require.Len(t, points, 4)

	want := []struct {
		balance string
		day     int
	}{
		{day: 12, balance: "80"},
		{day: 13, balance: "130"},
		{day: 14, balance: "130"},
		{day: 15, balance: "100"},
	}
	for i, p := range points {
		assert.Equal(t, want[i].day, p.Date.Day())
		assertDecimal(t, want[i].balance, p.Balance)
	}
	assert.True(t, points[len(points)-1].Balance.Equal(mustBalance(t, store, w.ID)))

	_, err = store.GetBalanceHistory(ctx, w.ID, 0)
	assert.ErrorIs(t, err, ErrInvalidTransaction)

	_, err = store.GetBalanceHistory(ctx, "missing", 7)
	assert.ErrorIs(t, err, common.ErrWalletNotFound)
}

func TestSQLiteStorage_RestoreTransaction(t *testing.T) {
	store, clock := createTestStorage(t)
	ctx := context.Background()
	w := mustWallet(t, store, "Checking", model.WalletKindBank, "100")
	_, err := store.MarkSynchronized(ctx, model.TableWallets, []string{w.ID}, clock.Now())
	require.NoError(t, err)

	remote := model.Transaction{
		ID:       "remote-txn",
		WalletID: w.ID,
		Kind:     model.KindIncome,
		Amount:   dec("25"),
		Date:     day(2),
		Leg:      model.LegCredit,
		Note:     "from phone",
	}

	restored, err := store.RestoreTransaction(ctx, &remote)
	require.NoError(t, err)
	assert.False(t, restored.IsDirty)
	assert.NotNil(t, restored.LastSynced)
	assert.Equal(t, model.LegNone, restored.Leg)

	// The balance is owned by the restored wallet; the opening balance moves.
	wallet, err := store.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.False(t, wallet.IsDirty, "remote changes do not dirty the wallet")
	assertDecimal(t, "100", wallet.Balance)
	assertDecimal(t, "75", wallet.InitialBalance)
	assertBalanceInvariant(t, store, w.ID)

	// A newer remote version replaces the old effect.
	remote.Amount = dec("40")
	_, err = store.RestoreTransaction(ctx, &remote)
	require.NoError(t, err)
	wallet, err = store.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assertDecimal(t, "100", wallet.Balance)
	assertDecimal(t, "60", wallet.InitialBalance)
	assertBalanceInvariant(t, store, w.ID)

	// A remote deletion removes it.
	deletedAt := testEpoch
	remote.DeletedAt = &deletedAt
	_, err = store.RestoreTransaction(ctx, &remote)
	require.NoError(t, err)
	wallet, err = store.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assertDecimal(t, "100", wallet.InitialBalance)
	assertBalanceInvariant(t, store, w.ID)
	_, err = store.GetTransaction(ctx, remote.ID)
	assert.ErrorIs(t, err, common.ErrTransactionNotFound)

	pending, err := store.ListUnsynchronized(ctx)
	require.NoError(t, err)
	assert.True(t, pending.IsEmpty())

	missing := "missing"
	_, err = store.RestoreTransaction(ctx, &model.Transaction{
		ID: "x", WalletID: w.ID, Kind: model.KindExpense, Amount: dec("1"), Date: day(1), CategoryID: &missing,
	})
	assert.ErrorIs(t, err, common.ErrCategoryNotFound)
}
