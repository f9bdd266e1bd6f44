// Package storage provides the data persistence layer for the ledger.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/pocket-ledger/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrInvalidWallet      = errors.New("invalid wallet")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidTransfer    = errors.New("invalid transfer")
	ErrInvalidCategory    = errors.New("invalid category")
	ErrInvalidBudget      = errors.New("invalid budget")
	ErrInvalidTable       = errors.New("invalid sync table")
	ErrInvalidSyncLog     = errors.New("invalid sync log entry")
	ErrDuplicateImport    = errors.New("transaction already imported")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateNewWallet(w model.NewWallet) error {
	if strings.TrimSpace(w.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidWallet)
	}
	if !w.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidWallet, w.Kind)
	}
	if w.InitialBalance.IsNegative() && !w.Kind.AllowsOverdraft() {
		return fmt.Errorf("%w: negative opening balance on %s wallet", ErrInvalidWallet, w.Kind)
	}
	return nil
}

func validateWalletUpdate(u model.WalletUpdate) error {
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return fmt.Errorf("%w: name cannot be blank", ErrInvalidWallet)
	}
	if u.Kind != nil && !u.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidWallet, *u.Kind)
	}
	return nil
}

func validateNewTransaction(t model.NewTransaction) error {
	if strings.TrimSpace(t.WalletID) == "" {
		return fmt.Errorf("%w: missing wallet ID", ErrInvalidTransaction)
	}
	if t.Kind != model.KindIncome && t.Kind != model.KindExpense {
		return fmt.Errorf("%w: kind must be income or expense, got %q", ErrInvalidTransaction, t.Kind)
	}
	if !t.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTransaction)
	}
	return nil
}

func validateTransfer(r model.TransferRequest) error {
	if strings.TrimSpace(r.FromWalletID) == "" || strings.TrimSpace(r.ToWalletID) == "" {
		return fmt.Errorf("%w: both wallets are required", ErrInvalidTransfer)
	}
	if r.FromWalletID == r.ToWalletID {
		return fmt.Errorf("%w: cannot transfer to the same wallet", ErrInvalidTransfer)
	}
	if !r.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTransfer)
	}
	if r.Fee.IsNegative() {
		return fmt.Errorf("%w: fee cannot be negative", ErrInvalidTransfer)
	}
	return nil
}

// validateRestoredTransaction checks a remote-origin record.
func validateRestoredTransaction(t *model.Transaction) error {
	if t == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if t.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTransaction)
	}
	if t.WalletID == "" {
		return fmt.Errorf("%w: missing wallet ID", ErrInvalidTransaction)
	}
	if !t.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidTransaction, t.Kind)
	}
	if t.Amount.IsNegative() || t.Fee.IsNegative() {
		return fmt.Errorf("%w: amounts must not be negative", ErrInvalidTransaction)
	}
	if t.Kind == model.KindTransfer && t.Leg != model.LegDebit && t.Leg != model.LegCredit {
		return fmt.Errorf("%w: transfer leg must be debit or credit", ErrInvalidTransaction)
	}
	if t.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidTransaction)
	}
	return nil
}

func validateRestoredWallet(w *model.Wallet) error {
	if w == nil {
		return fmt.Errorf("%w: wallet", ErrNilParameter)
	}
	if w.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidWallet)
	}
	if strings.TrimSpace(w.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidWallet)
	}
	if !w.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidWallet, w.Kind)
	}
	if w.Status != model.WalletActive && w.Status != model.WalletInactive {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidWallet, w.Status)
	}
	return nil
}

func validateNewCategory(c model.NewCategory) error {
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidCategory)
	}
	return nil
}

func validateBudget(b *model.Budget) error {
	if b == nil {
		return fmt.Errorf("%w: budget", ErrNilParameter)
	}
	if b.CategoryID == "" {
		return fmt.Errorf("%w: missing category", ErrInvalidBudget)
	}
	if _, err := model.ParseMonth(string(b.Month)); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBudget, err)
	}
	if b.Ceiling.IsNegative() {
		return fmt.Errorf("%w: ceiling cannot be negative", ErrInvalidBudget)
	}
	if b.WarningThreshold < 0 || b.WarningThreshold > 100 {
		return fmt.Errorf("%w: warning threshold must be between 0 and 100", ErrInvalidBudget)
	}
	return nil
}
