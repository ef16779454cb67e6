package service

import (
	"context"
	"fmt"
	"time"

	"github.com/abkawan/bank-transfers/internal/models"
	"go.uber.org/zap"
)

const (
	DefaultHistoryLimit = 10
	MaxHistoryLimit     = 100
)

// JournalService records ledger events and serves account history.
type JournalService struct {
	store  JournalStore
	logger *zap.SugaredLogger
	now    func() time.Time
}

// creates a new JournalService
func NewJournalService(store JournalStore, logger *zap.SugaredLogger) *JournalService {
	return &JournalService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
}

// Record stores one event. Recording the same event twice keeps a single entry.
func (s *JournalService) Record(ctx context.Context, event *models.LedgerEvent) error {
	if event.ID == "" {
		return fmt.Errorf("event without id")
	}
	if err := s.store.CreateEntry(ctx, models.NewJournalEntry(event, s.now())); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// History lists the entries touching accountID, newest first.
func (s *JournalService) History(ctx context.Context, accountID int64, limit, offset int) ([]*models.JournalEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	entries, err := s.store.GetEntriesByAccountID(ctx, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return entries, nil
}

// StartProcessor consumes ledger events and records them until ctx is done.
// It returns a channel that is closed once the consumer loop has exited.
func (s *JournalService) StartProcessor(ctx context.Context, consumer EventConsumer) (<-chan struct{}, error) {
	events, err := consumer.ConsumeEvents(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to consume events: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-events:
				if !ok {
					return
				}

				if err := s.Record(ctx, &event); err != nil {
					s.logger.Errorw("failed to record ledger event", "event_id", event.ID, "error", err)
				} else {
					s.logger.Debugw("recorded ledger event", "event_id", event.ID, "type", event.Type)
				}
			}
		}
	}()

	return done, nil
}
