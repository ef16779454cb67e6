package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BalanceScale is the number of decimal places kept for balances and amounts.
const BalanceScale = 2

var (
	// AccrualRate is the multiplier applied to a balance on every accrual.
	AccrualRate = decimal.RequireFromString("1.05")

	// AccrualCap bounds an accrued balance relative to the initial balance.
	AccrualCap = decimal.RequireFromString("2.07")
)

// Account holds the balance owned by exactly one user.
type Account struct {
	ID             int64           `json:"id" db:"id"`
	Balance        decimal.Decimal `json:"balance" db:"balance"`
	InitialBalance decimal.Decimal `json:"initial_balance" db:"initial_balance"`
	LastAccrualAt  *time.Time      `json:"last_accrual_at,omitempty" db:"last_accrual_at"`
	Version        int64           `json:"-" db:"version"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
}

// Clone returns a copy that shares no pointers with a.
func (a *Account) Clone() *Account {
	c := *a
	if a.LastAccrualAt != nil {
		t := *a.LastAccrualAt
		c.LastAccrualAt = &t
	}
	return &c
}

// AccruedBalance grows balance by AccrualRate, capped at initial*AccrualCap.
// The result never falls below balance, so an account already above the cap keeps its balance.
func AccruedBalance(balance, initial decimal.Decimal) decimal.Decimal {
	increased := balance.Mul(AccrualRate)

	limit := initial.Mul(AccrualCap)
	if increased.GreaterThan(limit) {
		increased = limit
	}

	// truncation keeps the result at or below the cap
	increased = increased.Truncate(BalanceScale)
	if increased.LessThan(balance) {
		return balance
	}
	return increased
}

// HasValidScale reports whether d carries no more than BalanceScale decimal places.
func HasValidScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(BalanceScale))
}

type AccountResponse struct {
	ID             int64           `json:"id"`
	Balance        decimal.Decimal `json:"balance"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	LastAccrualAt  *time.Time      `json:"last_accrual_at,omitempty"`
}
