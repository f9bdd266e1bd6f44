package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Veraticus/pocket-ledger/internal/budget"
	"github.com/Veraticus/pocket-ledger/internal/cache"
	"github.com/Veraticus/pocket-ledger/internal/common"
	"github.com/Veraticus/pocket-ledger/internal/ledger"
	"github.com/Veraticus/pocket-ledger/internal/model"
	"github.com/Veraticus/pocket-ledger/internal/storage"
)

// openStorage opens and migrates the configured database.
func openStorage(ctx context.Context) (*storage.SQLiteStorage, error) {
	store, err := storage.NewSQLiteStorage(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// openLedger wires storage, the budget engine and the cache from config.
func openLedger(ctx context.Context) (*ledger.Ledger, error) {
	store, err := openStorage(ctx)
	if err != nil {
		return nil, err
	}

	engine := budget.NewEngine(budget.Config{
		FallbackCategory: cfg.Budget.FallbackCategory,
		FallbackCeiling:  cfg.Budget.FallbackCeiling,
		WarningThreshold: cfg.Budget.WarningThreshold,
	})
	c := cache.New(cache.Config{
		VolatileTTL:  cfg.Cache.VolatileTTL,
		ReferenceTTL: cfg.Cache.ReferenceTTL,
		Disabled:     !cfg.Cache.Enabled,
	})
	return ledger.New(store, engine, c), nil
}

// resolveWallet finds a wallet by id or, failing that, by case-insensitive name.
func resolveWallet(ctx context.Context, l *ledger.Ledger, ref string) (*model.Wallet, error) {
	if w, err := l.GetWallet(ctx, ref); err == nil {
		return w, nil
	}
	wallets, err := l.ListWallets(ctx, true)
	if err != nil {
		return nil, err
	}
	for i := range wallets {
		if strings.EqualFold(wallets[i].Name, ref) {
			return &wallets[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", common.ErrWalletNotFound, ref)
}

// resolveCategory finds a category by name. An empty name means uncategorized.
func resolveCategory(ctx context.Context, l *ledger.Ledger, name string) (*string, error) {
	if strings.TrimSpace(name) == "" {
		return nil, nil
	}
	cat, err := l.GetCategoryByName(ctx, name)
	if err != nil {
		return nil, err
	}
	return &cat.ID, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero, common.NewUserError(fmt.Sprintf("%q is not an amount", s), err)
	}
	return amount, nil
}

// parseDate accepts YYYY-MM-DD. An empty string means now.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, common.NewUserError(fmt.Sprintf("%q is not a YYYY-MM-DD date", s), err)
	}
	return t, nil
}

// parseMonth accepts YYYY-MM. An empty string means the current month.
func parseMonth(s string) (model.Month, error) {
	if s == "" {
		return model.MonthOf(time.Now()), nil
	}
	return model.ParseMonth(s)
}

func formatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

func formatRelativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%d minutes ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%d days ago", int(d.Hours()/24))
	default:
		return t.Format("2006-01-02")
	}
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return formatRelativeTime(*t)
}
