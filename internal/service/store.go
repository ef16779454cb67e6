package service

import (
	"context"

	"github.com/abkawan/bank-transfers/internal/models"
	"github.com/shopspring/decimal"
)

// AccountStore is the persistence the ledger and the accrual scheduler need.
// SaveAccounts must persist all given accounts atomically.
type AccountStore interface {
	GetAccount(ctx context.Context, id int64) (*models.Account, error)
	SaveAccounts(ctx context.Context, accounts ...*models.Account) error
	ListAccountIDs(ctx context.Context) ([]int64, error)
}

type UserStore interface {
	CreateUser(ctx context.Context, u *models.User, initialBalance decimal.Decimal) (*models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByLogin(ctx context.Context, login string) (*models.User, error)
	ExistsByLogin(ctx context.Context, login string) (bool, error)
	ExistsByPhone(ctx context.Context, phone string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	UpdateContacts(ctx context.Context, userID int64, phone, email string) error
	SearchUsers(ctx context.Context, filter models.UserFilter, page models.PageRequest) ([]*models.User, error)
}

// EventPublisher ships committed ledger events.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event *models.LedgerEvent) error
}

// SearchCache keeps search results for a short time.
type SearchCache interface {
	Get(ctx context.Context, filter models.UserFilter, page models.PageRequest) ([]*models.User, bool, error)
	Set(ctx context.Context, filter models.UserFilter, page models.PageRequest, users []*models.User) error
	Invalidate(ctx context.Context) error
}

type JournalStore interface {
	CreateEntry(ctx context.Context, entry *models.JournalEntry) error
	GetEntriesByAccountID(ctx context.Context, accountID int64, limit, offset int) ([]*models.JournalEntry, error)
}

type EventConsumer interface {
	ConsumeEvents(ctx context.Context) (<-chan models.LedgerEvent, error)
}
