package model

import "time"

// SyncTable names a table that carries dirty-tracking columns.
type SyncTable string

// Sync-tracked tables.
const (
	TableWallets      SyncTable = "wallets"
	TableTransactions SyncTable = "transactions"
	TableCategories   SyncTable = "categories"
)

// IsValid reports whether t is a sync-tracked table.
func (t SyncTable) IsValid() bool {
	return t == TableWallets || t == TableTransactions || t == TableCategories
}

// SyncOutcome is the result of one synchronization attempt.
type SyncOutcome string

// Sync outcomes.
const (
	SyncSuccess SyncOutcome = "success"
	SyncPartial SyncOutcome = "partial"
	SyncFailure SyncOutcome = "failure"
)

// SyncLogEntry is an immutable record of a synchronization attempt.
type SyncLogEntry struct {
	CreatedAt  time.Time
	ID         string
	Outcome    SyncOutcome
	Errors     []string
	Uploaded   int
	Downloaded int
}

// UnsyncedSnapshot is every record changed since it was last confirmed synchronized.
type UnsyncedSnapshot struct {
	Wallets      []Wallet
	Transactions []Transaction
	Categories   []Category
}

// IsEmpty reports whether nothing is waiting to be pushed.
func (s *UnsyncedSnapshot) IsEmpty() bool {
	return len(s.Wallets) == 0 && len(s.Transactions) == 0 && len(s.Categories) == 0
}

// SyncStatus counts pending records and reports the last successful sync.
type SyncStatus struct {
	LastSuccess         *time.Time
	PendingWallets      int
	PendingTransactions int
	PendingCategories   int
}
