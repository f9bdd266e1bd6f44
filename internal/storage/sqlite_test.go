package storage

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/pocket-ledger/internal/common"
	"github.com/Veraticus/pocket-ledger/internal/model"
)

var testEpoch = time.Date(2025, time.March, 15, 12, 0, 0, 0, time.UTC)

type testClock struct {
	now time.Time
	mu  sync.Mutex
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Helper function to create test storage.
func createTestStorage(t *testing.T) (*SQLiteStorage, *testClock) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStorage(dbPath)
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("Failed to migrate: %v", err)
	}

	clock := &testClock{now: testEpoch}
	store.SetClock(clock.Now)
	return store, clock
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), append([]any{fmt.Sprintf("want %s, got %s", want, got)}, msgAndArgs...)...)
}

func mustWallet(t *testing.T, s *SQLiteStorage, name string, kind model.WalletKind, opening string) *model.Wallet {
	t.Helper()
	w, err := s.CreateWallet(context.Background(), model.NewWallet{
		Name:           name,
		Kind:           kind,
		InitialBalance: dec(opening),
	})
	require.NoError(t, err)
	return w
}

func mustCategory(t *testing.T, s *SQLiteStorage, name string) *model.Category {
	t.Helper()
	cat, err := s.CreateCategory(context.Background(), model.NewCategory{Name: name, IsUserDefined: true})
	require.NoError(t, err)
	return cat
}

func mustBalance(t *testing.T, s *SQLiteStorage, walletID string) decimal.Decimal {
	t.Helper()
	w, err := s.GetWallet(context.Background(), walletID)
	require.NoError(t, err)
	return w.Balance
}

// assertBalanceInvariant checks that a wallet's balance equals its opening
// balance plus the effect of every live transaction.
func assertBalanceInvariant(t *testing.T, s *SQLiteStorage, walletID string) {
	t.Helper()
	ctx := context.Background()
	w, err := s.GetWallet(ctx, walletID)
	require.NoError(t, err)
	effects, err := s.sumEffects(ctx, walletID)
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(w.InitialBalance.Add(effects)),
		"wallet %s: balance %s != initial %s + effects %s", w.Name, w.Balance, w.InitialBalance, effects)
}

func TestNewSQLiteStorage(t *testing.T) {
	_, err := NewSQLiteStorage("")
	assert.ErrorIs(t, err, ErrEmptyString)

	store, err := NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	assert.Equal(t, ":memory:", store.Path())
	require.NoError(t, store.Migrate(context.Background()))
}

func TestSQLiteStorage_CreateWallet(t *testing.T) {
	tests := []struct {
		wantErr  error
		name     string
		wantName string
		spec     model.NewWallet
	}{
		{
			name:     "bank wallet",
			wantName: "Checking",
			spec:     model.NewWallet{Name: " Checking ", Kind: model.WalletKindBank, InitialBalance: dec("1500.25")},
		},
		{
			name:     "credit card with debt",
			wantName: "Visa",
			spec:     model.NewWallet{Name: "Visa", Kind: model.WalletKindCreditCard, InitialBalance: dec("-300")},
		},
		{
			name:    "cash cannot open negative",
			spec:    model.NewWallet{Name: "Wallet", Kind: model.WalletKindCash, InitialBalance: dec("-1")},
			wantErr: ErrInvalidWallet,
		},
		{
			name:    "unknown kind",
			spec:    model.NewWallet{Name: "Bitcoin", Kind: "crypto"},
			wantErr: ErrInvalidWallet,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := createTestStorage(t)
			ctx := context.Background()

			w, err := store.CreateWallet(ctx, tt.spec)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			got, err := store.GetWallet(ctx, w.ID)
			require.NoError(t, err)
			assert.Equal(t, w.ID, got.ID)
			assert.Equal(t, tt.wantName, got.Name)
			assert.Equal(t, model.WalletActive, got.Status)
			assert.True(t, got.IsDirty)
			assert.Nil(t, got.LastSynced)
			assert.True(t, got.Balance.Equal(tt.spec.InitialBalance))
			assert.True(t, got.InitialBalance.Equal(tt.spec.InitialBalance))
			assert.True(t, testEpoch.Equal(got.CreatedAt))
		})
	}
}

func TestSQLiteStorage_GetWalletNotFound(t *testing.T) {
	store, _ := createTestStorage(t)

	_, err := store.GetWallet(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrWalletNotFound)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.False(t, common.IsFatal(err))
}

func TestSQLiteStorage_ListWallets(t *testing.T) {
	store, _ := createTestStorage(t)
	ctx := context.Background()

	savings := mustWallet(t, store, "savings", model.WalletKindSavings, "10")
	mustWallet(t, store, "Cash", model.WalletKindCash, "5")
	mustWallet(t, store, "bank", model.WalletKindBank, "0")

	_, err := store.SetWalletStatus(ctx, savings.ID, model.WalletInactive)
	require.NoError(t, err)

	active, err := store.ListWallets(ctx, false)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "bank", active[0].Name)
	assert.Equal(t, "Cash", active[1].Name)

	all, err := store.ListWallets(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLiteStorage_UpdateWallet(t *testing.T) {
	store, clock := createTestStorage(t)
	ctx := context.Background()
	w := mustWallet(t, store, "Checking", model.WalletKindBank, "100")

	_, err := store.MarkSynchronized(ctx, model.TableWallets, []string{w.ID}, clock.Now())
	require.NoError(t, err)
	clock.Advance(time.Minute)

	name := "Main checking"
	color := "#00ff00"
	require.NoError(t, store.UpdateWallet(ctx, w.ID, model.WalletUpdate{Name: &name, Color: &color}))

	got, err := store.GetWallet(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, "Main checking", got.Name)
	assert.Equal(t, "#00ff00", got.Color)
	assert.True(t, got.IsDirty)
	assert.True(t, testEpoch.Add(time.Minute).Equal(got.UpdatedAt))
	assertDecimal(t, "100", got.Balance)

	blank := "  "
	err = store.UpdateWallet(ctx, w.ID, model.WalletUpdate{Name: &blank})
	assert.ErrorIs(t, err, ErrInvalidWallet)

	err = store.UpdateWallet(ctx, "missing", model.WalletUpdate{Name: &name})
	assert.ErrorIs(t, err, common.ErrWalletNotFound)
}

func TestSQLiteStorage_UpdateWalletKindKeepsOverdraftRule(t *testing.T) {
	store, _ := createTestStorage(t)
	ctx := context.Background()
	card := mustWallet(t, store, "Visa", model.WalletKindCreditCard, "0")

	_, err := store.RecordTransaction(ctx, model.NewTransaction{
		WalletID: card.ID, Kind: model.KindExpense, Amount: dec("50"),
	})
	require.NoError(t, err)

	cash := model.WalletKindCash
	err = store.UpdateWallet(ctx, card.ID, model.WalletUpdate{Kind: &cash})
	assert.ErrorIs(t, err, common.ErrInsufficientBalance)

	got, err := store.GetWallet(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WalletKindCreditCard, got.Kind)

	// Settling the debt allows the change.
	_, err = store.RecordTransaction(ctx, model.NewTransaction{
		WalletID: card.ID, Kind: model.KindIncome, Amount: dec("50"),
	})
	require.NoError(t, err)
	require.NoError(t, store.UpdateWallet(ctx, card.ID, model.WalletUpdate{Kind: &cash}))

	got, err = store.GetWallet(ctx, card.ID)
	require.NoError(t, err)
	assert.Equal(t, model.WalletKindCash, got.Kind)
}

func TestSQLiteStorage_SetWalletStatus(t *testing.T) {
	store, _ := createTestStorage(t)
	ctx := context.Background()
	w := mustWallet(t, store, "Checking", model.WalletKindBank, "100")

	_, err := store.SetWalletStatus(ctx, w.ID, model.WalletActive)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)

	got, err := store.SetWalletStatus(ctx, w.ID, model.WalletInactive)
	require.NoError(t, err)
	assert.Equal(t, model.WalletInactive, got.Status)

	_, err = store.RecordTransaction(ctx, model.NewTransaction{
		WalletID: w.ID, Kind: model.KindIncome, Amount: dec("5"),
	})
	assert.ErrorIs(t, err, common.ErrWalletInactive)

	got, err = store.SetWalletStatus(ctx, w.ID, model.WalletActive)
	require.NoError(t, err)
	assert.Equal(t, model.WalletActive, got.Status)
	assertDecimal(t, "100", mustBalance(t, store, w.ID))
}

func TestSQLiteStorage_RestoreWallet(t *testing.T) {
	store, _ := createTestStorage(t)
	ctx := context.Background()
	w := mustWallet(t, store, "Checking", model.WalletKindBank, "100")

	_, err := store.RecordTransaction(ctx, model.NewTransaction{
		WalletID: w.ID, Kind: model.KindIncome, Amount: dec("50"),
	})
	require.NoError(t, err)

	remote := *w
	remote.Name = "Renamed remotely"
	remote.Balance = dec("400")
	restored, err := store.RestoreWallet(ctx, &remote)
	require.NoError(t, err)

	assert.False(t, restored.IsDirty)
	require.NotNil(t, restored.LastSynced)
	assert.Equal(t, "Renamed remotely", restored.Name)
	assertDecimal(t, "400", restored.Balance)
	assertDecimal(t, "350", restored.InitialBalance)
	assertBalanceInvariant(t, store, w.ID)

	fresh := model.Wallet{ID: "remote-1", Name: "Remote", Kind: model.WalletKindCash, Status: model.WalletActive, Balance: dec("20")}
	restored, err = store.RestoreWallet(ctx, &fresh)
	require.NoError(t, err)
	assert.False(t, restored.IsDirty)
	assertDecimal(t, "20", restored.InitialBalance)

	_, err = store.RestoreWallet(ctx, nil)
	assert.ErrorIs(t, err, ErrNilParameter)
}

func TestSQLiteStorage_InTxRollsBack(t *testing.T) {
	store, _ := createTestStorage(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.InTx(ctx, func(tx *Tx) error {
		if _, err := tx.CreateWallet(ctx, model.NewWallet{Name: "Temp", Kind: model.WalletKindCash}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	wallets, err := store.ListWallets(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, wallets)
}

func TestClassifyError(t *testing.T) {
	busy := sqlite3.Error{Code: sqlite3.ErrBusy}
	ioErr := sqlite3.Error{Code: sqlite3.ErrIoErr}
	constraint := sqlite3.Error{Code: sqlite3.ErrConstraint}

	tests := []struct {
		err           error
		name          string
		wantRetryable bool
		wantFatal     bool
	}{
		{name: "busy is retryable", err: fmt.Errorf("exec: %w", busy), wantRetryable: true},
		{name: "locked is retryable", err: sqlite3.Error{Code: sqlite3.ErrLocked}, wantRetryable: true},
		{name: "io error is fatal", err: ioErr, wantFatal: true},
		{name: "corruption is fatal", err: sqlite3.Error{Code: sqlite3.ErrCorrupt}, wantFatal: true},
		{name: "constraint passes through", err: constraint},
		{name: "plain error passes through", err: errors.New("plain")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyError(tt.err)
			assert.Equal(t, tt.wantRetryable, common.IsRetryable(got))
			assert.Equal(t, tt.wantFatal, common.IsFatal(got))
			assert.ErrorIs(t, got, tt.err)

			// Classifying twice changes nothing.
			assert.Equal(t, got, classifyError(got))
		})
	}

	assert.NoError(t, classifyError(nil))
}

func TestSQLiteStorage_RecordTransactionAtomicity(t *testing.T) {
	points := []string{FaultTransactionInserted, FaultBalanceApplied}

	for _, point := range points {
		t.Run(point, func(t *testing.T) {
			store, _ := createTestStorage(t)
			ctx := context.Background()
			w := mustWallet(t, store, "Checking", model.WalletKindBank, "100")

			injected := errors.New("injected")
			store.SetFaultHook(func(p string) error {
				if p == point {
					return injected
				}
				return nil
			})

			_, err := store.RecordTransaction(ctx, model.NewTransaction{
				WalletID: w.ID, Kind: model.KindExpense, Amount: dec("30"),
			})
			assert.ErrorIs(t, err, injected)
			store.SetFaultHook(nil)

			assertDecimal(t, "100", mustBalance(t, store, w.ID))
			txns, err := store.ListTransactions(ctx, model.TransactionFilter{})
			require.NoError(t, err)
			assert.Empty(t, txns)
		})
	}
}

func TestSQLiteStorage_TransferAtomicity(t *testing.T) {
	points := []string{
		FaultDebitLegInserted,
		FaultCreditLegInserted,
		FaultFromBalanceApplied,
		FaultToBalanceApplied,
	}

	for _, point := range points {
		t.Run(point, func(t *testing.T) {
			store, _ := createTestStorage(t)
			ctx := context.Background()
			a := mustWallet(t, store, "A", model.WalletKindBank, "100")
			b := mustWallet(t, store, "B", model.WalletKindBank, "0")

			injected := errors.New("injected")
			store.SetFaultHook(func(p string) error {
				if p == point {
					return injected
				}
				return nil
			})

			_, err := store.Transfer(ctx, model.TransferRequest{
				FromWalletID: a.ID, ToWalletID: b.ID, Amount: dec("40"),
			})
			assert.ErrorIs(t, err, injected)
			store.SetFaultHook(nil)

			assertDecimal(t, "100", mustBalance(t, store, a.ID))
			assertDecimal(t, "0", mustBalance(t, store, b.ID))
			txns, err := store.ListTransactions(ctx, model.TransactionFilter{})
			require.NoError(t, err)
			assert.Empty(t, txns)
		})
	}
}

func TestSQLiteStorage_DeleteTransactionAtomicity(t *testing.T) {
	store, _ := createTestStorage(t)
	ctx := context.Background()
	a := mustWallet(t, store, "A", model.WalletKindBank, "100")
	b := mustWallet(t, store, "B", model.WalletKindBank, "0")

	result, err := store.Transfer(ctx, model.TransferRequest{
		FromWalletID: a.ID, ToWalletID: b.ID, Amount: dec("40"),
	})
	require.NoError(t, err)

	// Fail on the second leg so the first leg's reversal must roll back too.
	calls := 0
	injected := errors.New("injected")
	store.SetFaultHook(func(p string) error {
		if p == FaultTransactionDeleted {
			calls++
			if calls == 2 {
				return injected
			}
		}
		return nil
	})

	_, err = store.DeleteTransaction(ctx, result.DebitLeg.ID)
	assert.ErrorIs(t, err, injected)
	store.SetFaultHook(nil)

	assertDecimal(t, "60", mustBalance(t, store, a.ID))
	assertDecimal(t, "40", mustBalance(t, store, b.ID))
	legs, err := store.TransferLegs(ctx, result.DebitLeg.TransferGroupID)
	require.NoError(t, err)
	assert.Len(t, legs, 2)
}

// TestSQLiteStorage_RandomFaults runs a random workload with random fault
// injection and checks the balance invariant after every step.
func TestSQLiteStorage_RandomFaults(t *testing.T) {
	store, _ := createTestStorage(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	wallets := []*model.Wallet{
		mustWallet(t, store, "A", model.WalletKindBank, "500"),
		mustWallet(t, store, "B", model.WalletKindCash, "200"),
		mustWallet(t, store, "C", model.WalletKindCreditCard, "0"),
	}

	injected := errors.New("injected")
	store.SetFaultHook(func(string) error {
		if rng.Intn(4) == 0 {
			return injected
		}
		return nil
	})

	var recorded []string
	for i := 0; i < 200; i++ {
		w := wallets[rng.Intn(len(wallets))]
		amount := decimal.NewFromInt(int64(rng.Intn(50) + 1))

		var err error
		switch op := rng.Intn(4); {
		case op == 0:
			var txn *model.Transaction
			txn, err = store.RecordTransaction(ctx, model.NewTransaction{WalletID: w.ID, Kind: model.KindIncome, Amount: amount})
			if err == nil {
				recorded = append(recorded, txn.ID)
			}
		case op == 1:
			var txn *model.Transaction
			txn, err = store.RecordTransaction(ctx, model.NewTransaction{WalletID: w.ID, Kind: model.KindExpense, Amount: amount})
			if err == nil {
				recorded = append(recorded, txn.ID)
			}
		case op == 2:
			to := wallets[(rng.Intn(len(wallets)-1)+1+indexOf(wallets, w))%len(wallets)]
			var res *model.TransferResult
			res, err = store.Transfer(ctx, model.TransferRequest{FromWalletID: w.ID, ToWalletID: to.ID, Amount: amount, Fee: dec("0.50")})
			if err == nil {
				recorded = append(recorded, res.DebitLeg.ID)
			}
		case op == 3 && len(recorded) > 0:
			idx := rng.Intn(len(recorded))
			_, err = store.DeleteTransaction(ctx, recorded[idx])
			if err == nil || errors.Is(err, common.ErrTransactionNotFound) {
				recorded = append(recorded[:idx], recorded[idx+1:]...)
			}
		}
		if err != nil && !errors.Is(err, injected) && !errors.Is(err, common.ErrInsufficientBalance) &&
			!errors.Is(err, common.ErrTransactionNotFound) {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}

		for _, w := range wallets {
			assertBalanceInvariant(t, store, w.ID)
		}
	}

	for _, w := range wallets[:2] {
		assert.False(t, mustBalance(t, store, w.ID).IsNegative(), "wallet %s went negative", w.Name)
	}
}

func indexOf(wallets []*model.Wallet, w *model.Wallet) int {
	for i := range wallets {
		if wallets[i].ID == w.ID {
			return i
		}
	}
	return -1
}

func TestSQLiteStorage_ConcurrentAccess(t *testing.T) {
	store, _ := createTestStorage(t)
	ctx := context.Background()
	w := mustWallet(t, store, "Checking", model.WalletKindBank, "0")

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			_, err := store.RecordTransaction(gctx, model.NewTransaction{
				WalletID: w.ID, Kind: model.KindIncome, Amount: dec("1.10"),
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	assertDecimal(t, "22", mustBalance(t, store, w.ID))
	assertBalanceInvariant(t, store, w.ID)
}
