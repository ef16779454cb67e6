package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abkawan/bank-transfers/internal/db/migrations"
	"github.com/abkawan/bank-transfers/internal/models"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
)

// Postgres handles PostgreSQL database operations
type Postgres struct {
	db *sqlx.DB
}

// creates a new Postgres instance
func NewPostgres(connStr string) (*Postgres, error) {
	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return newPostgres(sqlDB), nil
}

func newPostgres(sqlDB *sql.DB) *Postgres {
	return &Postgres{db: sqlx.NewDb(sqlDB, "postgres")}
}

// closes the database connection
func (p *Postgres) Close() error {
	return p.db.Close()
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// InitSchema applies the embedded migrations.
func (p *Postgres) InitSchema(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := gooseUpContext(ctx, p.db.DB, "."); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// withTx runs fn in a transaction, committing on success and rolling back on error or panic.
func (p *Postgres) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) (err error) {
	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback()
			panic(r)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if err = tx.Commit(); err != nil {
			err = fmt.Errorf("failed to commit transaction: %w", err)
		}
	}()

	return fn(tx)
}

const accountColumns = `id, balance, initial_balance, last_accrual_at, version, created_at, updated_at`

// retrieves an account by ID
func (p *Postgres) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	var account models.Account
	if err := p.db.GetContext(ctx, &account, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return &account, nil
}

// SaveAccounts writes the balances and accrual stamps of all accounts in one transaction.
// Each row is only updated if its version still matches the one that was read.
func (p *Postgres) SaveAccounts(ctx context.Context, accounts ...*models.Account) error {
	query := `
	UPDATE accounts
	SET balance = $1, last_accrual_at = $2, version = version + 1, updated_at = NOW()
	WHERE id = $3 AND version = $4`

	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		for _, a := range accounts {
			res, err := tx.ExecContext(ctx, query, a.Balance, a.LastAccrualAt, a.ID, a.Version)
			if err != nil {
				return fmt.Errorf("failed to update account %d: %w", a.ID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to update account %d: %w", a.ID, err)
			}
			if n == 0 {
				return fmt.Errorf("account %d: %w", a.ID, ErrVersionConflict)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, a := range accounts {
		a.Version++
	}
	return nil
}

// lists every account id, ascending
func (p *Postgres) ListAccountIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	if err := p.db.SelectContext(ctx, &ids, `SELECT id FROM accounts ORDER BY id`); err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return ids, nil
}

// CreateUser inserts the user together with its account.
func (p *Postgres) CreateUser(ctx context.Context, u *models.User, initialBalance decimal.Decimal) (*models.User, error) {
	created := u.Clone()
	account := &models.Account{Balance: initialBalance, InitialBalance: initialBalance}

	err := p.withTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowxContext(ctx, `
		INSERT INTO accounts (balance, initial_balance)
		VALUES ($1, $2)
		RETURNING id, version, created_at, updated_at`,
			account.Balance, account.InitialBalance,
		).Scan(&account.ID, &account.Version, &account.CreatedAt, &account.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to create account: %w", err)
		}

		err = tx.QueryRowxContext(ctx, `
		INSERT INTO users (login, password_hash, phone, email, full_name, birth_date, account_id)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), $5, $6, $7)
		RETURNING id, created_at`,
			created.Login, created.PasswordHash, created.Phone, created.Email,
			created.FullName, created.BirthDate, account.ID,
		).Scan(&created.ID, &created.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("failed to create user: %w", ErrConflict)
			}
			return fmt.Errorf("failed to create user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	created.AccountID = account.ID
	created.Account = account
	return created, nil
}

// userRow is a users row joined with its account.
type userRow struct {
	ID               int64           `db:"id"`
	Login            string          `db:"login"`
	PasswordHash     string          `db:"password_hash"`
	Phone            string          `db:"phone"`
	Email            string          `db:"email"`
	FullName         string          `db:"full_name"`
	BirthDate        time.Time       `db:"birth_date"`
	AccountID        int64           `db:"account_id"`
	CreatedAt        time.Time       `db:"created_at"`
	Balance          decimal.Decimal `db:"balance"`
	InitialBalance   decimal.Decimal `db:"initial_balance"`
	LastAccrualAt    *time.Time      `db:"last_accrual_at"`
	Version          int64           `db:"version"`
	AccountCreatedAt time.Time       `db:"account_created_at"`
	AccountUpdatedAt time.Time       `db:"account_updated_at"`
}

func (r *userRow) toModel() *models.User {
	return &models.User{
		ID:           r.ID,
		Login:        r.Login,
		PasswordHash: r.PasswordHash,
		Phone:        r.Phone,
		Email:        r.Email,
		FullName:     r.FullName,
		BirthDate:    r.BirthDate,
		AccountID:    r.AccountID,
		CreatedAt:    r.CreatedAt,
		Account: &models.Account{
			ID:             r.AccountID,
			Balance:        r.Balance,
			InitialBalance: r.InitialBalance,
			LastAccrualAt:  r.LastAccrualAt,
			Version:        r.Version,
			CreatedAt:      r.AccountCreatedAt,
			UpdatedAt:      r.AccountUpdatedAt,
		},
	}
}

const userSelect = `
	SELECT u.id, u.login, u.password_hash, COALESCE(u.phone, '') AS phone, COALESCE(u.email, '') AS email,
		u.full_name, u.birth_date, u.account_id, u.created_at,
		a.balance, a.initial_balance, a.last_accrual_at, a.version,
		a.created_at AS account_created_at, a.updated_at AS account_updated_at
	FROM users u
	JOIN accounts a ON a.id = u.account_id`

// retrieves a user and its account by user ID
func (p *Postgres) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return p.getUser(ctx, userSelect+` WHERE u.id = $1`, id)
}

// retrieves a user and its account by login
func (p *Postgres) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	return p.getUser(ctx, userSelect+` WHERE u.login = $1`, login)
}

func (p *Postgres) getUser(ctx context.Context, query string, arg any) (*models.User, error) {
	var row userRow
	if err := p.db.GetContext(ctx, &row, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %v: %w", arg, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return row.toModel(), nil
}

func (p *Postgres) ExistsByLogin(ctx context.Context, login string) (bool, error) {
	return p.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE login = $1)`, login)
}

func (p *Postgres) ExistsByPhone(ctx context.Context, phone string) (bool, error) {
	return p.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE phone = $1)`, phone)
}

func (p *Postgres) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return p.exists(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE email = $1)`, email)
}

func (p *Postgres) exists(ctx context.Context, query, value string) (bool, error) {
	var found bool
	if err := p.db.GetContext(ctx, &found, query, value); err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return found, nil
}

// UpdateContacts overwrites phone and email. Empty values are stored as NULL.
func (p *Postgres) UpdateContacts(ctx context.Context, userID int64, phone, email string) error {
	res, err := p.db.ExecContext(ctx, `
	UPDATE users
	SET phone = NULLIF($1, ''), email = NULLIF($2, ''), updated_at = NOW()
	WHERE id = $3`,
		phone, email, userID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("failed to update contacts: %w", ErrConflict)
		}
		return fmt.Errorf("failed to update contacts: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update contacts: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	return nil
}

// SearchUsers returns one page of users matching filter. Accounts are not loaded.
func (p *Postgres) SearchUsers(ctx context.Context, filter models.UserFilter, page models.PageRequest) ([]*models.User, error) {
	query, args := buildSearchQuery(filter, page)

	var users []*models.User
	if err := p.db.SelectContext(ctx, &users, query, args...); err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	return users, nil
}

func buildSearchQuery(filter models.UserFilter, page models.PageRequest) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if filter.BirthDateAfter != nil {
		add("birth_date > $%d", *filter.BirthDateAfter)
	}
	if filter.Phone != "" {
		add("phone = $%d", filter.Phone)
	}
	if filter.FullNamePrefix != "" {
		add(`full_name LIKE $%d ESCAPE '\'`, escapeLike(filter.FullNamePrefix)+"%")
	}
	if filter.Email != "" {
		add("email = $%d", filter.Email)
	}

	var b strings.Builder
	b.WriteString(`SELECT id, login, COALESCE(phone, '') AS phone, COALESCE(email, '') AS email, full_name, birth_date, account_id, created_at FROM users`)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}

	// sort columns come from a whitelist in models.ParseSort
	order := make([]string, 0, len(page.Sort))
	for _, s := range page.Sort {
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		order = append(order, s.Column+" "+dir)
	}
	if len(order) == 0 {
		order = append(order, "id ASC")
	}
	b.WriteString(" ORDER BY ")
	b.WriteString(strings.Join(order, ", "))

	args = append(args, page.Size, page.Offset())
	b.WriteString(" LIMIT $" + strconv.Itoa(len(args)-1) + " OFFSET $" + strconv.Itoa(len(args)))

	return b.String(), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
