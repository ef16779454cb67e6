package service

import (
	"errors"

	"github.com/abkawan/bank-transfers/internal/models"
)

var (
	// ErrInvalidAmount is returned for non-positive amounts or amounts finer than a cent.
	ErrInvalidAmount = errors.New("amount must be positive with at most 2 decimal places")

	// ErrSameAccount is returned when a transfer names one account as both sides.
	ErrSameAccount = errors.New("cannot transfer to the same account")

	// ErrInsufficientFunds is returned when the sender balance is below the amount.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrAccountNotFound is returned when a sender, recipient or accrual target is missing.
	ErrAccountNotFound = errors.New("account not found")

	// ErrPersistence wraps store failures. The ledger never retries them.
	ErrPersistence = errors.New("persistence failure")

	ErrUserNotFound  = errors.New("user not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidUser   = errors.New("invalid user data")
	ErrLastContact   = errors.New("user must keep at least one of phone or email")
	ErrUnauthorized  = errors.New("invalid credentials")

	// ErrInvalidSearch is returned for bad paging or sort input.
	ErrInvalidSearch = models.ErrBadSearch
)
