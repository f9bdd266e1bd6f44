// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Ledger errors. Everything except ErrStorageUnavailable is an expected,
// recoverable condition that callers surface to the user.
var (
	ErrNotFound            = errors.New("not found")
	ErrWalletNotFound      = fmt.Errorf("wallet %w", ErrNotFound)
	ErrCategoryNotFound    = fmt.Errorf("category %w", ErrNotFound)
	ErrBudgetNotFound      = fmt.Errorf("budget %w", ErrNotFound)
	ErrTransactionNotFound = fmt.Errorf("transaction %w", ErrNotFound)

	ErrWalletInactive        = errors.New("wallet is inactive")
	ErrInvalidTransition     = errors.New("invalid wallet status transition")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrDuplicateCategoryName = errors.New("duplicate category name")
	ErrDuplicateBudget       = errors.New("budget already exists for category and month")
	ErrStorageUnavailable    = errors.New("storage unavailable")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// IsFatal reports whether err should abort the calling operation rather than
// be shown to the user as a recoverable condition.
func IsFatal(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	return false
}
