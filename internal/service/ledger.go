package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/abkawan/bank-transfers/internal/db"
	"github.com/abkawan/bank-transfers/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger moves money between accounts and applies accrual. It is the only writer of balances.
type Ledger struct {
	store     AccountStore
	publisher EventPublisher
	locks     *accountLocks
	logger    *zap.SugaredLogger
	now       func() time.Time
}

// NewLedger creates a Ledger. publisher may be nil, and a nil clock means time.Now.
func NewLedger(store AccountStore, publisher EventPublisher, logger *zap.SugaredLogger, clock func() time.Time) *Ledger {
	if clock == nil {
		clock = time.Now
	}
	return &Ledger{
		store:     store,
		publisher: publisher,
		locks:     newAccountLocks(),
		logger:    logger,
		now:       clock,
	}
}

// ValidateAmount checks that amount is a positive value in whole cents.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || !models.HasValidScale(amount) {
		return ErrInvalidAmount
	}
	return nil
}

// Transfer debits fromAccountID and credits toAccountID by amount.
// Both balances are saved together or not at all.
func (l *Ledger) Transfer(ctx context.Context, fromAccountID, toAccountID int64, amount decimal.Decimal) error {
	l.logger.Infow("transfer requested",
		"from_account", fromAccountID,
		"to_account", toAccountID,
		"amount", amount.String(),
	)

	if err := ValidateAmount(amount); err != nil {
		l.logger.Warnw("transfer rejected", "from_account", fromAccountID, "amount", amount.String(), "error", err)
		return err
	}
	if fromAccountID == toAccountID {
		return ErrSameAccount
	}

	unlock := l.locks.Lock(fromAccountID, toAccountID)
	defer unlock()

	from, err := l.store.GetAccount(ctx, fromAccountID)
	if err != nil {
		return l.lookupError("sender", fromAccountID, err)
	}
	to, err := l.store.GetAccount(ctx, toAccountID)
	if err != nil {
		return l.lookupError("recipient", toAccountID, err)
	}

	if from.Balance.LessThan(amount) {
		l.logger.Warnw("transfer rejected",
			"from_account", fromAccountID,
			"balance", from.Balance.String(),
			"amount", amount.String(),
			"error", ErrInsufficientFunds,
		)
		return ErrInsufficientFunds
	}

	// from and to are private copies, nothing is visible until the save commits
	from.Balance = from.Balance.Sub(amount)
	to.Balance = to.Balance.Add(amount)

	if err := l.store.SaveAccounts(ctx, from, to); err != nil {
		l.logger.Errorw("failed to save transfer", "from_account", fromAccountID, "to_account", toAccountID, "error", err)
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	l.logger.Infow("transfer completed",
		"from_account", fromAccountID,
		"to_account", toAccountID,
		"amount", amount.String(),
	)

	l.publish(ctx, &models.LedgerEvent{
		ID:               uuid.New().String(),
		Type:             models.EventTransfer,
		FromAccountID:    fromAccountID,
		ToAccountID:      toAccountID,
		Amount:           amount,
		FromBalanceAfter: from.Balance,
		ToBalanceAfter:   to.Balance,
		CreatedAt:        l.now(),
	})
	return nil
}

// Accrue grows one account balance by the accrual rate up to its cap and stamps the accrual time.
func (l *Ledger) Accrue(ctx context.Context, accountID int64) (*models.Account, error) {
	unlock := l.locks.Lock(accountID)
	defer unlock()

	account, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, l.lookupError("account", accountID, err)
	}

	before := account.Balance
	now := l.now()
	account.Balance = models.AccruedBalance(account.Balance, account.InitialBalance)
	account.LastAccrualAt = &now

	if err := l.store.SaveAccounts(ctx, account); err != nil {
		l.logger.Errorw("failed to save accrual", "account", accountID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if delta := account.Balance.Sub(before); delta.IsPositive() {
		l.publish(ctx, &models.LedgerEvent{
			ID:             uuid.New().String(),
			Type:           models.EventAccrual,
			ToAccountID:    accountID,
			Amount:         delta,
			ToBalanceAfter: account.Balance,
			CreatedAt:      now,
		})
	}
	return account, nil
}

func (l *Ledger) lookupError(role string, id int64, err error) error {
	if errors.Is(err, db.ErrNotFound) {
		l.logger.Warnw("account lookup failed", "role", role, "account", id)
		return fmt.Errorf("%s account %d: %w", role, id, ErrAccountNotFound)
	}
	l.logger.Errorw("failed to load account", "role", role, "account", id, "error", err)
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

// publish ships an event after commit. A failure is logged and the committed change stands.
func (l *Ledger) publish(ctx context.Context, event *models.LedgerEvent) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.PublishEvent(ctx, event); err != nil {
		l.logger.Errorw("failed to publish ledger event", "event_id", event.ID, "type", event.Type, "error", err)
	}
}
