package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format of birth dates.
const DateLayout = "2006-01-02"

// User owns one Account. Phone and Email are empty when absent.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Login        string    `json:"login" db:"login"`
	PasswordHash string    `json:"-" db:"password_hash"`
	Phone        string    `json:"phone,omitempty" db:"phone"`
	Email        string    `json:"email,omitempty" db:"email"`
	FullName     string    `json:"full_name" db:"full_name"`
	BirthDate    time.Time `json:"birth_date" db:"birth_date"`
	AccountID    int64     `json:"account_id" db:"account_id"`
	Account      *Account  `json:"account,omitempty" db:"-"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// HasContact reports whether at least one of phone and email is set.
func (u *User) HasContact() bool {
	return u.Phone != "" || u.Email != ""
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	c := *u
	if u.Account != nil {
		c.Account = u.Account.Clone()
	}
	return &c
}

type CreateUserRequest struct {
	Login          string          `json:"login"`
	Password       string          `json:"password"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	Phone          string          `json:"phone,omitempty"`
	Email          string          `json:"email,omitempty"`
	FullName       string          `json:"full_name"`
	BirthDate      string          `json:"birth_date"`
}

type UpdateContactRequest struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

type TransferRequest struct {
	ToUserID int64           `json:"to_user_id"`
	Amount   decimal.Decimal `json:"amount"`
}

type AuthRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthResponse struct {
	JWT string `json:"jwt"`
}

type TransferResponse struct {
	Status   string          `json:"status"`
	Balance  decimal.Decimal `json:"balance"`
	ToUserID int64           `json:"to_user_id"`
	Amount   decimal.Decimal `json:"amount"`
}

// UserResponse is the owner's view of a user, balance included.
type UserResponse struct {
	ID        int64            `json:"id"`
	Login     string           `json:"login"`
	Phone     string           `json:"phone,omitempty"`
	Email     string           `json:"email,omitempty"`
	FullName  string           `json:"full_name"`
	BirthDate string           `json:"birth_date"`
	Account   *AccountResponse `json:"account,omitempty"`
}

// ProfileResponse is what other users see in search results.
type ProfileResponse struct {
	ID        int64  `json:"id"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
	FullName  string `json:"full_name"`
	BirthDate string `json:"birth_date"`
}

func NewUserResponse(u *User) UserResponse {
	resp := UserResponse{
		ID:        u.ID,
		Login:     u.Login,
		Phone:     u.Phone,
		Email:     u.Email,
		FullName:  u.FullName,
		BirthDate: u.BirthDate.Format(DateLayout),
	}
	if u.Account != nil {
		resp.Account = &AccountResponse{
			ID:             u.Account.ID,
			Balance:        u.Account.Balance,
			InitialBalance: u.Account.InitialBalance,
			LastAccrualAt:  u.Account.LastAccrualAt,
		}
	}
	return resp
}

func NewProfileResponse(u *User) ProfileResponse {
	return ProfileResponse{
		ID:        u.ID,
		Phone:     u.Phone,
		Email:     u.Email,
		FullName:  u.FullName,
		BirthDate: u.BirthDate.Format(DateLayout),
	}
}
