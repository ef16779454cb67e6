package db

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/abkawan/bank-transfers/internal/models"
	"github.com/google/go-cmp/cmp"
	"github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostgresWithMock(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return newPostgres(sqlDB), mock
}

var accountCols = []string{"id", "balance", "initial_balance", "last_accrual_at", "version", "created_at", "updated_at"}

func TestGetAccount_Found(t *testing.T) {
	p, mock := newPostgresWithMock(t)
	now := time.Now()

	mock.ExpectQuery(`(?s)SELECT id, balance, .* FROM accounts WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow(int64(7), "150.25", "100.00", nil, int64(3), now, now))

	a, err := p.GetAccount(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), a.ID)
	assert.True(t, decimal.RequireFromString("150.25").Equal(a.Balance))
	assert.True(t, decimal.RequireFromString("100").Equal(a.InitialBalance))
	assert.Nil(t, a.LastAccrualAt)
	assert.Equal(t, int64(3), a.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAccount_NotFound(t *testing.T) {
	p, mock := newPostgresWithMock(t)

	mock.ExpectQuery(`FROM accounts WHERE id = \$1`).
		WithArgs(int64(9)).
		WillReturnError(sql.ErrNoRows)

	_, err := p.GetAccount(context.Background(), 9)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetAccount_DBError(t *testing.T) {
	p, mock := newPostgresWithMock(t)

	mock.ExpectQuery(`FROM accounts WHERE id = \$1`).
		WillReturnError(errors.New("db down"))

	_, err := p.GetAccount(context.Background(), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Regexp(t, regexp.MustCompile(`failed to get account: .*db down`), err.Error())
}

func TestSaveAccounts_Success(t *testing.T) {
	p, mock := newPostgresWithMock(t)

	from := &models.Account{ID: 1, Balance: decimal.RequireFromString("900"), Version: 4}
	to := &models.Account{ID: 2, Balance: decimal.RequireFromString("600"), Version: 1}

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)UPDATE accounts\s+SET balance = \$1, .*WHERE id = \$3 AND version = \$4`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), int64(1), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE accounts`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), int64(2), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, p.SaveAccounts(context.Background(), from, to))
	assert.Equal(t, int64(5), from.Version)
	assert.Equal(t, int64(2), to.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAccounts_VersionConflictRollsBack(t *testing.T) {
	p, mock := newPostgresWithMock(t)

	from := &models.Account{ID: 1, Version: 4}
	to := &models.Account{ID: 2, Version: 1}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE accounts`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE accounts`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := p.SaveAccounts(context.Background(), from, to)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.Equal(t, int64(4), from.Version)
	assert.Equal(t, int64(1), to.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListAccountIDs(t *testing.T) {
	p, mock := newPostgresWithMock(t)

	mock.ExpectQuery(`SELECT id FROM accounts ORDER BY id`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)).AddRow(int64(2)).AddRow(int64(5)))

	ids, err := p.ListAccountIDs(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 5}, ids)
}

func TestCreateUser_Success(t *testing.T) {
	p, mock := newPostgresWithMock(t)
	now := time.Now()
	birth := time.Date(1990, 5, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)INSERT INTO accounts \(balance, initial_balance\).*RETURNING id, version`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at", "updated_at"}).AddRow(int64(10), int64(1), now, now))
	mock.ExpectQuery(`(?s)INSERT INTO users .*NULLIF\(\$3, ''\)`).
		WithArgs("alice", "hash", "1234567890", "", "Alice Smith", birth, int64(10)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(3), now))
	mock.ExpectCommit()

	u := &models.User{Login: "alice", PasswordHash: "hash", Phone: "1234567890", FullName: "Alice Smith", BirthDate: birth}
	got, err := p.CreateUser(context.Background(), u, decimal.RequireFromString("1000"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.ID)
	assert.Equal(t, int64(10), got.AccountID)
	require.NotNil(t, got.Account)
	assert.True(t, decimal.RequireFromString("1000").Equal(got.Account.InitialBalance))
	assert.Zero(t, u.ID, "input must not be modified")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateUser_UniqueViolation(t *testing.T) {
	p, mock := newPostgresWithMock(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO accounts`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at", "updated_at"}).AddRow(int64(10), int64(1), now, now))
	mock.ExpectQuery(`INSERT INTO users`).
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectRollback()

	_, err := p.CreateUser(context.Background(), &models.User{Login: "alice"}, decimal.Zero)
	assert.ErrorIs(t, err, ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetUserByLogin(t *testing.T) {
	p, mock := newPostgresWithMock(t)
	now := time.Now()

	cols := []string{
		"id", "login", "password_hash", "phone", "email", "full_name", "birth_date", "account_id", "created_at",
		"balance", "initial_balance", "last_accrual_at", "version", "account_created_at", "account_updated_at",
	}
	mock.ExpectQuery(`(?s)FROM users u\s+JOIN accounts a ON a.id = u.account_id WHERE u.login = \$1`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			int64(3), "alice", "hash", "", "alice@example.com", "Alice Smith", now, int64(10), now,
			"1050.00", "1000.00", now, int64(2), now, now,
		))

	u, err := p.GetUserByLogin(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Empty(t, u.Phone)
	require.NotNil(t, u.Account)
	assert.Equal(t, int64(10), u.Account.ID)
	assert.True(t, decimal.RequireFromString("1050").Equal(u.Account.Balance))
	require.NotNil(t, u.Account.LastAccrualAt)
}

func TestExistsByEmail(t *testing.T) {
	p, mock := newPostgresWithMock(t)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM users WHERE email = \$1\)`).
		WithArgs("a@b.c").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	found, err := p.ExistsByEmail(context.Background(), "a@b.c")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestUpdateContacts_NotFound(t *testing.T) {
	p, mock := newPostgresWithMock(t)

	mock.ExpectExec(`(?s)UPDATE users\s+SET phone = NULLIF\(\$1, ''\), email = NULLIF\(\$2, ''\)`).
		WithArgs("1234567890", "", int64(42)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := p.UpdateContacts(context.Background(), 42, "1234567890", "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateContacts_Conflict(t *testing.T) {
	p, mock := newPostgresWithMock(t)

	mock.ExpectExec(`UPDATE users`).WillReturnError(&pq.Error{Code: "23505"})

	err := p.UpdateContacts(context.Background(), 1, "1234567890", "")
	assert.ErrorIs(t, err, ErrConflict)
}

func TestBuildSearchQuery(t *testing.T) {
	after := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	filter := models.UserFilter{BirthDateAfter: &after, FullNamePrefix: "Iv_n", Email: "x@y.z"}
	page := models.PageRequest{
		Page: 2,
		Size: 5,
		Sort: []models.SortField{{Column: "full_name", Desc: true}, {Column: "id"}},
	}

	query, args := buildSearchQuery(filter, page)

	assert.True(t, strings.HasSuffix(query,
		`WHERE birth_date > $1 AND full_name LIKE $2 ESCAPE '\' AND email = $3 ORDER BY full_name DESC, id ASC LIMIT $4 OFFSET $5`),
		query)
	if diff := cmp.Diff([]any{after, `Iv\_n%`, "x@y.z", 5, 10}, args); diff != "" {
		t.Errorf("args mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildSearchQuery_NoFilters(t *testing.T) {
	query, args := buildSearchQuery(models.UserFilter{}, models.PageRequest{Size: 10})

	assert.NotContains(t, query, "WHERE")
	assert.Contains(t, query, "ORDER BY id ASC LIMIT $1 OFFSET $2")
	assert.Equal(t, []any{10, 0}, args)
}

func TestSearchUsers(t *testing.T) {
	p, mock := newPostgresWithMock(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT id, login, .* FROM users WHERE phone = \$1 ORDER BY id ASC LIMIT \$2 OFFSET \$3`).
		WithArgs("1234567890", 10, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "login", "phone", "email", "full_name", "birth_date", "account_id", "created_at"}).
			AddRow(int64(1), "bob", "1234567890", "", "Bob", now, int64(1), now))

	users, err := p.SearchUsers(context.Background(),
		models.UserFilter{Phone: "1234567890"},
		models.PageRequest{Size: 10, Sort: []models.SortField{{Column: "id"}}})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "bob", users[0].Login)
	assert.Nil(t, users[0].Account)
}

func TestInitSchema(t *testing.T) {
	p, _ := newPostgresWithMock(t)

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	var gotDir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}
	require.NoError(t, p.InitSchema(context.Background()))
	assert.Equal(t, ".", gotDir)

	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	err := p.InitSchema(context.Background())
	assert.ErrorContains(t, err, "boom")
}
