package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventTransfer EventType = "transfer"
	EventAccrual  EventType = "accrual"
)

// LedgerEvent describes a committed balance change. It is what travels over the queue.
type LedgerEvent struct {
	ID               string          `json:"id"`
	Type             EventType       `json:"type"`
	FromAccountID    int64           `json:"from_account_id,omitempty"`
	ToAccountID      int64           `json:"to_account_id"`
	Amount           decimal.Decimal `json:"amount"`
	FromBalanceAfter decimal.Decimal `json:"from_balance_after,omitempty"`
	ToBalanceAfter   decimal.Decimal `json:"to_balance_after"`
	CreatedAt        time.Time       `json:"created_at"`
}

// JournalEntry is the stored form of a LedgerEvent. Money is kept as strings
// so the document store never rounds it.
type JournalEntry struct {
	ID               string    `json:"id" bson:"_id"`
	Type             EventType `json:"type" bson:"type"`
	AccountIDs       []int64   `json:"-" bson:"account_ids"`
	FromAccountID    int64     `json:"from_account_id,omitempty" bson:"from_account_id,omitempty"`
	ToAccountID      int64     `json:"to_account_id" bson:"to_account_id"`
	Amount           string    `json:"amount" bson:"amount"`
	FromBalanceAfter string    `json:"from_balance_after,omitempty" bson:"from_balance_after,omitempty"`
	ToBalanceAfter   string    `json:"to_balance_after" bson:"to_balance_after"`
	CreatedAt        time.Time `json:"created_at" bson:"created_at"`
	RecordedAt       time.Time `json:"recorded_at" bson:"recorded_at"`
}

func NewJournalEntry(e *LedgerEvent, recordedAt time.Time) *JournalEntry {
	entry := &JournalEntry{
		ID:             e.ID,
		Type:           e.Type,
		ToAccountID:    e.ToAccountID,
		Amount:         e.Amount.String(),
		ToBalanceAfter: e.ToBalanceAfter.String(),
		CreatedAt:      e.CreatedAt,
		RecordedAt:     recordedAt,
	}

	if e.FromAccountID != 0 {
		entry.FromAccountID = e.FromAccountID
		entry.FromBalanceAfter = e.FromBalanceAfter.String()
		entry.AccountIDs = []int64{e.FromAccountID, e.ToAccountID}
	} else {
		entry.AccountIDs = []int64{e.ToAccountID}
	}
	return entry
}
