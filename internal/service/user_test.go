package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/abkawan/bank-transfers/internal/auth"
	"github.com/abkawan/bank-transfers/internal/db"
	"github.com/abkawan/bank-transfers/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testTokens = TokenSettings{Secret: []byte("secret"), TTL: time.Hour}

type fakeCache struct {
	mu          sync.Mutex
	entries     map[string][]*models.User
	gets        int
	invalidated int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]*models.User)}
}

func cacheKey(f models.UserFilter, p models.PageRequest) string {
	return f.FullNamePrefix + "|" + f.Phone + "|" + f.Email
}

func (c *fakeCache) Get(_ context.Context, f models.UserFilter, p models.PageRequest) ([]*models.User, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	users, ok := c.entries[cacheKey(f, p)]
	return users, ok, nil
}

func (c *fakeCache) Set(_ context.Context, f models.UserFilter, p models.PageRequest, users []*models.User) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(f, p)] = users
	return nil
}

func (c *fakeCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated++
	c.entries = make(map[string][]*models.User)
	return nil
}

func newTestUserService(t *testing.T) (*UserService, *db.Memory, *fakeCache) {
	t.Helper()
	store := db.NewMemory()
	logger := zap.NewNop().Sugar()
	ledger := NewLedger(store, nil, logger, nil)
	cache := newFakeCache()
	return NewUserService(store, ledger, cache, testTokens, logger), store, cache
}

func validRequest(login string) *models.CreateUserRequest {
	return &models.CreateUserRequest{
		Login:          login,
		Password:       "password",
		InitialBalance: decimal.RequireFromString("1000"),
		Email:          login + "@example.com",
		FullName:       "Test " + login,
		BirthDate:      "1990-04-15",
	}
}

func TestCreateUser(t *testing.T) {
	s, store, cache := newTestUserService(t)
	ctx := context.Background()

	req := validRequest("alice")
	req.Phone = "1234567890"
	u, err := s.CreateUser(ctx, req)
	require.NoError(t, err)

	assert.NotZero(t, u.ID)
	assert.NotEqual(t, "password", u.PasswordHash)
	assert.True(t, auth.CheckPassword(u.PasswordHash, "password"))
	assert.Equal(t, time.Date(1990, 4, 15, 0, 0, 0, 0, time.UTC), u.BirthDate)
	require.NotNil(t, u.Account)
	assert.True(t, dec("1000").Equal(u.Account.Balance))
	assert.True(t, dec("1000").Equal(u.Account.InitialBalance))
	assert.Equal(t, 1, cache.invalidated)

	stored, err := store.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "1234567890", stored.Phone)
}

func TestCreateUser_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(r *models.CreateUserRequest)
	}{
		{"missing login", func(r *models.CreateUserRequest) { r.Login = " " }},
		{"missing password", func(r *models.CreateUserRequest) { r.Password = "" }},
		{"missing full name", func(r *models.CreateUserRequest) { r.FullName = "" }},
		{"no contact", func(r *models.CreateUserRequest) { r.Email = "" }},
		{"bad phone", func(r *models.CreateUserRequest) { r.Phone = "12345" }},
		{"bad email", func(r *models.CreateUserRequest) { r.Email = "not-an-email" }},
		{"negative balance", func(r *models.CreateUserRequest) { r.InitialBalance = dec("-1") }},
		{"sub-cent balance", func(r *models.CreateUserRequest) { r.InitialBalance = dec("1.001") }},
		{"bad birth date", func(r *models.CreateUserRequest) { r.BirthDate = "15.04.1990" }},
		{"future birth date", func(r *models.CreateUserRequest) { r.BirthDate = time.Now().AddDate(1, 0, 0).Format(models.DateLayout) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _ := newTestUserService(t)
			req := validRequest("alice")
			tt.modify(req)

			_, err := s.CreateUser(context.Background(), req)
			assert.ErrorIs(t, err, ErrInvalidUser)
		})
	}
}

func TestCreateUser_Duplicates(t *testing.T) {
	s, _, _ := newTestUserService(t)
	ctx := context.Background()

	first := validRequest("alice")
	first.Phone = "1234567890"
	_, err := s.CreateUser(ctx, first)
	require.NoError(t, err)

	sameLogin := validRequest("alice")
	sameLogin.Email = "other@example.com"
	_, err = s.CreateUser(ctx, sameLogin)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.ErrorContains(t, err, "login")

	samePhone := validRequest("bob")
	samePhone.Phone = "1234567890"
	_, err = s.CreateUser(ctx, samePhone)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.ErrorContains(t, err, "phone")

	sameEmail := validRequest("carol")
	sameEmail.Email = "alice@example.com"
	_, err = s.CreateUser(ctx, sameEmail)
	assert.ErrorIs(t, err, ErrAlreadyExists)
	assert.ErrorContains(t, err, "email")
}

func TestUpdateContact(t *testing.T) {
	s, _, cache := newTestUserService(t)
	ctx := context.Background()

	alice, err := s.CreateUser(ctx, validRequest("alice"))
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, validRequest("bob"))
	require.NoError(t, err)
	cache.invalidated = 0

	_, err = s.UpdateContact(ctx, alice.ID, "", "bob@example.com")
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = s.UpdateContact(ctx, alice.ID, "", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, cache.invalidated, "own value is a no-op")

	u, err := s.UpdateContact(ctx, alice.ID, "5555555555", "")
	require.NoError(t, err)
	assert.Equal(t, "5555555555", u.Phone)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Equal(t, 1, cache.invalidated)

	_, err = s.UpdateContact(ctx, alice.ID, "555", "")
	assert.ErrorIs(t, err, ErrInvalidUser)

	_, err = s.UpdateContact(ctx, 404, "1111111111", "")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestDeleteContact(t *testing.T) {
	s, _, _ := newTestUserService(t)
	ctx := context.Background()

	req := validRequest("alice")
	req.Phone = "1234567890"
	alice, err := s.CreateUser(ctx, req)
	require.NoError(t, err)

	_, err = s.DeleteContact(ctx, alice.ID, true, true)
	assert.ErrorIs(t, err, ErrLastContact)

	u, err := s.DeleteContact(ctx, alice.ID, true, false)
	require.NoError(t, err)
	assert.Empty(t, u.Phone)
	assert.Equal(t, "alice@example.com", u.Email)

	_, err = s.DeleteContact(ctx, alice.ID, false, true)
	assert.ErrorIs(t, err, ErrLastContact)

	got, err := s.GetUser(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.Email)

	_, err = s.DeleteContact(ctx, 404, true, false)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSearch_UsesCache(t *testing.T) {
	s, _, cache := newTestUserService(t)
	ctx := context.Background()

	for _, login := range []string{"ann", "anna", "boris"} {
		req := validRequest(login)
		req.FullName = map[string]string{"ann": "Ivanova Ann", "anna": "Ivanova Anna", "boris": "Petrov Boris"}[login]
		_, err := s.CreateUser(ctx, req)
		require.NoError(t, err)
	}

	filter := models.UserFilter{FullNamePrefix: "Ivanova"}
	users, err := s.Search(ctx, filter, 0, 0, []string{"login,desc"})
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "anna", users[0].Login)

	// a cached page is served even though the store now has another match
	_, err = s.store.CreateUser(ctx, &models.User{Login: "zed", Email: "z@example.com", FullName: "Ivanova Zed"}, decimal.Zero)
	require.NoError(t, err)

	users, err = s.Search(ctx, filter, 0, 0, []string{"login,desc"})
	require.NoError(t, err)
	assert.Len(t, users, 2)
	assert.Equal(t, 2, cache.gets)
}

func TestSearch_InvalidInput(t *testing.T) {
	s, _, _ := newTestUserService(t)

	_, err := s.Search(context.Background(), models.UserFilter{}, 0, 10, []string{"balance"})
	assert.ErrorIs(t, err, ErrInvalidSearch)

	_, err = s.Search(context.Background(), models.UserFilter{}, -1, 10, nil)
	assert.ErrorIs(t, err, ErrInvalidSearch)
}

func TestSearch_WithoutCache(t *testing.T) {
	store := db.NewMemory()
	logger := zap.NewNop().Sugar()
	s := NewUserService(store, NewLedger(store, nil, logger, nil), nil, testTokens, logger)

	_, err := s.CreateUser(context.Background(), validRequest("alice"))
	require.NoError(t, err)

	users, err := s.Search(context.Background(), models.UserFilter{Email: "alice@example.com"}, 0, 10, nil)
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestTransferFunds(t *testing.T) {
	s, store, _ := newTestUserService(t)
	ctx := context.Background()

	alice, err := s.CreateUser(ctx, validRequest("alice"))
	require.NoError(t, err)
	bobReq := validRequest("bob")
	bobReq.InitialBalance = dec("500")
	bob, err := s.CreateUser(ctx, bobReq)
	require.NoError(t, err)

	require.NoError(t, s.TransferFunds(ctx, alice.ID, bob.ID, dec("100")))
	assert.True(t, dec("900").Equal(balanceOf(t, store, alice.AccountID)))
	assert.True(t, dec("600").Equal(balanceOf(t, store, bob.AccountID)))

	err = s.TransferFunds(ctx, alice.ID, 404, dec("100"))
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.ErrorContains(t, err, "recipient")

	err = s.TransferFunds(ctx, 404, bob.ID, dec("100"))
	assert.ErrorIs(t, err, ErrAccountNotFound)
	assert.ErrorContains(t, err, "sender")

	assert.ErrorIs(t, s.TransferFunds(ctx, 404, 405, dec("0")), ErrInvalidAmount)
	assert.ErrorIs(t, s.TransferFunds(ctx, alice.ID, bob.ID, dec("10000")), ErrInsufficientFunds)
}

func TestAuthenticate(t *testing.T) {
	s, _, _ := newTestUserService(t)
	ctx := context.Background()

	alice, err := s.CreateUser(ctx, validRequest("alice"))
	require.NoError(t, err)

	token, err := s.Authenticate(ctx, "alice", "password")
	require.NoError(t, err)
	id, err := auth.GetUserIDFromToken(token, testTokens.Secret)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, id)

	_, err = s.Authenticate(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = s.Authenticate(ctx, "nobody", "password")
	assert.ErrorIs(t, err, ErrUnauthorized)
}
