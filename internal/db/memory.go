package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/abkawan/bank-transfers/internal/models"
	"github.com/shopspring/decimal"
)

// Memory is an in-process store with the same semantics as Postgres.
// Values are copied on the way in and out so callers never share state with it.
type Memory struct {
	mu            sync.RWMutex
	accounts      map[int64]*models.Account
	users         map[int64]*models.User
	nextAccountID int64
	nextUserID    int64
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[int64]*models.Account),
		users:    make(map[int64]*models.User),
	}
}

func (m *Memory) GetAccount(_ context.Context, id int64) (*models.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
	}
	return a.Clone(), nil
}

func (m *Memory) SaveAccounts(_ context.Context, accounts ...*models.Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// validate everything first so a failed save changes nothing
	for _, a := range accounts {
		stored, ok := m.accounts[a.ID]
		if !ok {
			return fmt.Errorf("account %d: %w", a.ID, ErrNotFound)
		}
		if stored.Version != a.Version {
			return fmt.Errorf("account %d: %w", a.ID, ErrVersionConflict)
		}
	}

	now := time.Now()
	for _, a := range accounts {
		a.Version++
		a.UpdatedAt = now
		m.accounts[a.ID] = a.Clone()
	}
	return nil
}

func (m *Memory) ListAccountIDs(_ context.Context) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]int64, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Memory) CreateUser(_ context.Context, u *models.User, initialBalance decimal.Decimal) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if existing.Login == u.Login ||
			(u.Phone != "" && existing.Phone == u.Phone) ||
			(u.Email != "" && existing.Email == u.Email) {
			return nil, fmt.Errorf("failed to create user: %w", ErrConflict)
		}
	}

	now := time.Now()
	m.nextAccountID++
	account := &models.Account{
		ID:             m.nextAccountID,
		Balance:        initialBalance,
		InitialBalance: initialBalance,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	m.accounts[account.ID] = account

	m.nextUserID++
	stored := u.Clone()
	stored.ID = m.nextUserID
	stored.AccountID = account.ID
	stored.CreatedAt = now
	stored.Account = nil
	m.users[stored.ID] = stored

	return m.withAccount(stored), nil
}

// withAccount returns a copy of u with its current account attached. Callers hold mu.
func (m *Memory) withAccount(u *models.User) *models.User {
	c := u.Clone()
	if a, ok := m.accounts[u.AccountID]; ok {
		c.Account = a.Clone()
	}
	return c
}

func (m *Memory) GetUser(_ context.Context, id int64) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return m.withAccount(u), nil
}

func (m *Memory) GetUserByLogin(_ context.Context, login string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if u.Login == login {
			return m.withAccount(u), nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", login, ErrNotFound)
}

func (m *Memory) ExistsByLogin(_ context.Context, login string) (bool, error) {
	return m.any(func(u *models.User) bool { return u.Login == login }), nil
}

func (m *Memory) ExistsByPhone(_ context.Context, phone string) (bool, error) {
	return m.any(func(u *models.User) bool { return u.Phone != "" && u.Phone == phone }), nil
}

func (m *Memory) ExistsByEmail(_ context.Context, email string) (bool, error) {
	return m.any(func(u *models.User) bool { return u.Email != "" && u.Email == email }), nil
}

func (m *Memory) any(match func(*models.User) bool) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, u := range m.users {
		if match(u) {
			return true
		}
	}
	return false
}

func (m *Memory) UpdateContacts(_ context.Context, userID int64, phone, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	for id, other := range m.users {
		if id == userID {
			continue
		}
		if (phone != "" && other.Phone == phone) || (email != "" && other.Email == email) {
			return fmt.Errorf("failed to update contacts: %w", ErrConflict)
		}
	}

	u.Phone = phone
	u.Email = email
	return nil
}

func (m *Memory) SearchUsers(_ context.Context, filter models.UserFilter, page models.PageRequest) ([]*models.User, error) {
	m.mu.RLock()
	var matched []*models.User
	for _, u := range m.users {
		if matchesFilter(u, filter) {
			c := u.Clone()
			c.PasswordHash = ""
			matched = append(matched, c)
		}
	}
	m.mu.RUnlock()

	sortFields := page.Sort
	if len(sortFields) == 0 {
		sortFields = []models.SortField{{Column: "id"}}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		for _, s := range sortFields {
			c := compareColumn(matched[i], matched[j], s.Column)
			if c == 0 {
				continue
			}
			if s.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})

	start := page.Offset()
	if start >= len(matched) {
		return []*models.User{}, nil
	}
	end := start + page.Size
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

func matchesFilter(u *models.User, f models.UserFilter) bool {
	if f.BirthDateAfter != nil && !u.BirthDate.After(*f.BirthDateAfter) {
		return false
	}
	if f.Phone != "" && u.Phone != f.Phone {
		return false
	}
	if f.FullNamePrefix != "" && !strings.HasPrefix(u.FullName, f.FullNamePrefix) {
		return false
	}
	if f.Email != "" && u.Email != f.Email {
		return false
	}
	return true
}

func compareColumn(a, b *models.User, column string) int {
	switch column {
	case "login":
		return strings.Compare(a.Login, b.Login)
	case "full_name":
		return strings.Compare(a.FullName, b.FullName)
	case "birth_date":
		return a.BirthDate.Compare(b.BirthDate)
	case "email":
		return strings.Compare(a.Email, b.Email)
	case "phone":
		return strings.Compare(a.Phone, b.Phone)
	default:
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	}
}
