// Package model defines the core domain models used throughout the application.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// WalletKind classifies what a wallet holds.
type WalletKind string

// Wallet kinds.
const (
	WalletKindBank       WalletKind = "bank"
	WalletKindCash       WalletKind = "cash"
	WalletKindSavings    WalletKind = "savings"
	WalletKindCreditCard WalletKind = "credit_card"
	WalletKindInvestment WalletKind = "investment"
	WalletKindOther      WalletKind = "other"
)

// IsValid reports whether k is one of the known wallet kinds.
func (k WalletKind) IsValid() bool {
	switch k {
	case WalletKindBank, WalletKindCash, WalletKindSavings,
		WalletKindCreditCard, WalletKindInvestment, WalletKindOther:
		return true
	default:
		return false
	}
}

// AllowsOverdraft reports whether a wallet of this kind may carry a negative balance.
func (k WalletKind) AllowsOverdraft() bool {
	return k == WalletKindCreditCard
}

// WalletStatus is the lifecycle state of a wallet.
type WalletStatus string

// Wallet statuses.
const (
	WalletActive   WalletStatus = "active"
	WalletInactive WalletStatus = "inactive"
)

// walletTransitions lists the allowed status changes.
var walletTransitions = map[WalletStatus][]WalletStatus{
	WalletActive:   {WalletInactive},
	WalletInactive: {WalletActive},
}

// CanTransition reports whether a wallet may move from s to next.
func (s WalletStatus) CanTransition(next WalletStatus) bool {
	for _, allowed := range walletTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Wallet is a place money lives: a bank account, a card, a jar of cash.
type Wallet struct {
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastSynced     *time.Time
	Balance        decimal.Decimal
	InitialBalance decimal.Decimal
	ID             string
	Name           string
	Kind           WalletKind
	Status         WalletStatus
	Color          string
	Icon           string
	IsDirty        bool
}

// Clone returns a copy that shares no pointers with w.
func (w *Wallet) Clone() Wallet {
	out := *w
	out.LastSynced = clonePtr(w.LastSynced)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// IsActive reports whether the wallet accepts new transactions.
func (w *Wallet) IsActive() bool {
	return w.Status == WalletActive
}

// CanSpend reports whether the wallet can absorb a debit of amount.
func (w *Wallet) CanSpend(amount decimal.Decimal) bool {
	if w.Kind.AllowsOverdraft() {
		return true
	}
	return w.Balance.GreaterThanOrEqual(amount)
}

// NewWallet holds the caller-supplied fields for wallet creation.
type NewWallet struct {
	InitialBalance decimal.Decimal
	Name           string
	Kind           WalletKind
	Color          string
	Icon           string
}

// WalletUpdate is a partial update; nil fields are left untouched.
type WalletUpdate struct {
	Name  *string
	Kind  *WalletKind
	Color *string
	Icon  *string
}

// IsEmpty reports whether the update changes nothing.
func (u WalletUpdate) IsEmpty() bool {
	return u.Name == nil && u.Kind == nil && u.Color == nil && u.Icon == nil
}

// BalancePoint is a wallet's balance at the end of a calendar day.
type BalancePoint struct {
	Date    time.Time
	Balance decimal.Decimal
}

func (p BalancePoint) String() string {
	return fmt.Sprintf("%s %s", p.Date.Format("2006-01-02"), p.Balance.StringFixed(2))
}
