package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind determines how a transaction moves a wallet balance.
type TransactionKind string

// Transaction kinds.
const (
	KindIncome   TransactionKind = "income"
	KindExpense  TransactionKind = "expense"
	KindTransfer TransactionKind = "transfer"
)

// IsValid reports whether k is a known transaction kind.
func (k TransactionKind) IsValid() bool {
	return k == KindIncome || k == KindExpense || k == KindTransfer
}

// TransferLeg identifies which side of a transfer a transaction represents.
type TransferLeg string

// Transfer legs.
const (
	LegNone   TransferLeg = ""
	LegDebit  TransferLeg = "debit"
	LegCredit TransferLeg = "credit"
)

// Transaction is a single movement of money against one wallet.
// Amount is always a non-negative magnitude; Kind and Leg give it a sign.
type Transaction struct {
	Date            time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastSynced      *time.Time
	CategoryID      *string
	Amount          decimal.Decimal
	Fee             decimal.Decimal
	ID              string
	WalletID        string
	Kind            TransactionKind
	Note            string
	TransferGroupID string
	Leg             TransferLeg
	ExternalID      string
	CategoryName    string // Resolved on read, not persisted
	DeletedAt       *time.Time
	IsDirty         bool
}

// Clone returns a copy that shares no pointers with t.
func (t *Transaction) Clone() Transaction {
	out := *t
	out.LastSynced = clonePtr(t.LastSynced)
	out.CategoryID = clonePtr(t.CategoryID)
	out.DeletedAt = clonePtr(t.DeletedAt)
	return out
}

// IsDeleted reports whether the transaction is a tombstone awaiting sync.
func (t *Transaction) IsDeleted() bool {
	return t.DeletedAt != nil
}

// SignedEffect returns the change this transaction applies to its wallet balance.
func (t *Transaction) SignedEffect() decimal.Decimal {
	switch t.Kind {
	case KindIncome:
		return t.Amount
	case KindExpense:
		return t.Amount.Neg()
	case KindTransfer:
		if t.Leg == LegCredit {
			return t.Amount
		}
		return t.Amount.Add(t.Fee).Neg()
	default:
		return decimal.Zero
	}
}

// IsExpense reports whether the transaction counts toward budgets.
func (t *Transaction) IsExpense() bool {
	return t.Kind == KindExpense
}

// Month returns the calendar month the transaction falls in.
func (t *Transaction) Month() Month {
	return MonthOf(t.Date)
}

// NewTransaction holds the caller-supplied fields for recording income or an expense.
type NewTransaction struct {
	Date       time.Time
	CategoryID *string
	Amount     decimal.Decimal
	WalletID   string
	Kind       TransactionKind
	Note       string
	ExternalID string // Import identifier, unique per wallet
}

// TransferRequest describes a movement of money between two wallets.
type TransferRequest struct {
	Date         time.Time
	Amount       decimal.Decimal
	Fee          decimal.Decimal
	FromWalletID string
	ToWalletID   string
	Note         string
}

// TransferResult is the state after a successful transfer.
type TransferResult struct {
	DebitLeg    Transaction
	CreditLeg   Transaction
	FromBalance decimal.Decimal
	ToBalance   decimal.Decimal
}

// TransactionFilter narrows a transaction listing. Zero values mean "no limit".
type TransactionFilter struct {
	WalletID string
	Limit    int
	Offset   int
}
