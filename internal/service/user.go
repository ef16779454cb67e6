package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"

	"github.com/abkawan/bank-transfers/internal/auth"
	"github.com/abkawan/bank-transfers/internal/db"
	"github.com/abkawan/bank-transfers/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var phonePattern = regexp.MustCompile(`^\d{10}$`)

// TokenSettings configures the access tokens issued by Authenticate.
type TokenSettings struct {
	Secret []byte
	TTL    time.Duration
}

// UserService handles users, their contacts, search and user-to-user transfers.
type UserService struct {
	store  UserStore
	ledger *Ledger
	cache  SearchCache
	tokens TokenSettings
	logger *zap.SugaredLogger
}

// NewUserService creates a UserService. cache may be nil.
func NewUserService(store UserStore, ledger *Ledger, cache SearchCache, tokens TokenSettings, logger *zap.SugaredLogger) *UserService {
	return &UserService{
		store:  store,
		ledger: ledger,
		cache:  cache,
		tokens: tokens,
		logger: logger,
	}
}

// CreateUser registers a user together with an account holding the initial balance.
func (s *UserService) CreateUser(ctx context.Context, req *models.CreateUserRequest) (*models.User, error) {
	u, err := newUserFromRequest(req)
	if err != nil {
		s.logger.Warnw("user creation rejected", "login", req.Login, "error", err)
		return nil, err
	}

	if err := s.ensureUnused(ctx, u.Login, u.Phone, u.Email); err != nil {
		return nil, err
	}

	u.PasswordHash, err = auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	created, err := s.store.CreateUser(ctx, u, req.InitialBalance)
	if err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, fmt.Errorf("user %q: %w", u.Login, ErrAlreadyExists)
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.logger.Infow("user created", "user_id", created.ID, "account", created.AccountID)
	s.invalidateSearch(ctx)
	return created, nil
}

func newUserFromRequest(req *models.CreateUserRequest) (*models.User, error) {
	u := &models.User{
		Login:    strings.TrimSpace(req.Login),
		Phone:    strings.TrimSpace(req.Phone),
		Email:    strings.TrimSpace(req.Email),
		FullName: strings.TrimSpace(req.FullName),
	}

	switch {
	case u.Login == "":
		return nil, fmt.Errorf("%w: login is required", ErrInvalidUser)
	case req.Password == "":
		return nil, fmt.Errorf("%w: password is required", ErrInvalidUser)
	case u.FullName == "":
		return nil, fmt.Errorf("%w: full name is required", ErrInvalidUser)
	case !u.HasContact():
		return nil, fmt.Errorf("%w: phone or email is required", ErrInvalidUser)
	case req.InitialBalance.IsNegative() || !models.HasValidScale(req.InitialBalance):
		return nil, fmt.Errorf("%w: initial balance must be non-negative with at most 2 decimal places", ErrInvalidUser)
	}

	if err := validateContacts(u.Phone, u.Email); err != nil {
		return nil, err
	}

	birth, err := time.Parse(models.DateLayout, strings.TrimSpace(req.BirthDate))
	if err != nil {
		return nil, fmt.Errorf("%w: birth date must look like %s", ErrInvalidUser, models.DateLayout)
	}
	if birth.After(time.Now()) {
		return nil, fmt.Errorf("%w: birth date is in the future", ErrInvalidUser)
	}
	u.BirthDate = birth
	return u, nil
}

// validateContacts checks the format of the non-empty values.
func validateContacts(phone, email string) error {
	if phone != "" && !phonePattern.MatchString(phone) {
		return fmt.Errorf("%w: phone must be 10 digits", ErrInvalidUser)
	}
	if email != "" {
		addr, err := mail.ParseAddress(email)
		if err != nil || addr.Address != email {
			return fmt.Errorf("%w: malformed email", ErrInvalidUser)
		}
	}
	return nil
}

func (s *UserService) ensureUnused(ctx context.Context, login, phone, email string) error {
	checks := []struct {
		field string
		value string
		check func(context.Context, string) (bool, error)
	}{
		{"login", login, s.store.ExistsByLogin},
		{"phone", phone, s.store.ExistsByPhone},
		{"email", email, s.store.ExistsByEmail},
	}

	for _, c := range checks {
		if c.value == "" {
			continue
		}
		taken, err := c.check(ctx, c.value)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		if taken {
			s.logger.Warnw("value already in use", "field", c.field)
			return fmt.Errorf("%s %w", c.field, ErrAlreadyExists)
		}
	}
	return nil
}

// GetUser returns the user with its account.
func (s *UserService) GetUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return nil, s.userLookupError(id, err)
	}
	return u, nil
}

// UpdateContact replaces the phone and/or email of a user. Empty values leave the field as is.
func (s *UserService) UpdateContact(ctx context.Context, userID int64, phone, email string) (*models.User, error) {
	phone, email = strings.TrimSpace(phone), strings.TrimSpace(email)
	if err := validateContacts(phone, email); err != nil {
		return nil, err
	}

	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	newPhone, newEmail := u.Phone, u.Email
	if phone != "" && phone != u.Phone {
		if err := s.ensureUnused(ctx, "", phone, ""); err != nil {
			return nil, err
		}
		newPhone = phone
	}
	if email != "" && email != u.Email {
		if err := s.ensureUnused(ctx, "", "", email); err != nil {
			return nil, err
		}
		newEmail = email
	}

	return s.saveContacts(ctx, u, newPhone, newEmail)
}

// DeleteContact clears the phone and/or email. At least one of them must remain.
func (s *UserService) DeleteContact(ctx context.Context, userID int64, deletePhone, deleteEmail bool) (*models.User, error) {
	u, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	newPhone, newEmail := u.Phone, u.Email
	if deletePhone {
		newPhone = ""
	}
	if deleteEmail {
		newEmail = ""
	}
	if newPhone == "" && newEmail == "" {
		s.logger.Warnw("contact deletion rejected", "user_id", userID)
		return nil, ErrLastContact
	}

	return s.saveContacts(ctx, u, newPhone, newEmail)
}

func (s *UserService) saveContacts(ctx context.Context, u *models.User, phone, email string) (*models.User, error) {
	if phone == u.Phone && email == u.Email {
		return u, nil
	}

	if err := s.store.UpdateContacts(ctx, u.ID, phone, email); err != nil {
		switch {
		case errors.Is(err, db.ErrConflict):
			return nil, fmt.Errorf("contact %w", ErrAlreadyExists)
		case errors.Is(err, db.ErrNotFound):
			return nil, fmt.Errorf("user %d: %w", u.ID, ErrUserNotFound)
		}
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	s.logger.Infow("contacts updated", "user_id", u.ID)
	s.invalidateSearch(ctx)

	u.Phone, u.Email = phone, email
	return u, nil
}

// Search returns one page of users matching filter. Results are public profiles without accounts.
func (s *UserService) Search(ctx context.Context, filter models.UserFilter, page, size int, sort []string) ([]*models.User, error) {
	pageReq, err := models.NewPageRequest(page, size, sort)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		users, ok, err := s.cache.Get(ctx, filter, pageReq)
		if err != nil {
			s.logger.Warnw("search cache read failed", "error", err)
		} else if ok {
			return users, nil
		}
	}

	users, err := s.store.SearchUsers(ctx, filter, pageReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, filter, pageReq, users); err != nil {
			s.logger.Warnw("search cache write failed", "error", err)
		}
	}
	return users, nil
}

// TransferFunds moves amount from the account of fromUserID to the account of toUserID.
func (s *UserService) TransferFunds(ctx context.Context, fromUserID, toUserID int64, amount decimal.Decimal) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}

	from, err := s.store.GetUser(ctx, fromUserID)
	if err != nil {
		return s.partyLookupError("sender", fromUserID, err)
	}
	to, err := s.store.GetUser(ctx, toUserID)
	if err != nil {
		return s.partyLookupError("recipient", toUserID, err)
	}

	return s.ledger.Transfer(ctx, from.AccountID, to.AccountID, amount)
}

// Authenticate checks the credentials and returns a signed access token.
func (s *UserService) Authenticate(ctx context.Context, login, password string) (string, error) {
	u, err := s.store.GetUserByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			s.logger.Warnw("authentication failed", "login", login)
			return "", ErrUnauthorized
		}
		return "", fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	if !auth.CheckPassword(u.PasswordHash, password) {
		s.logger.Warnw("authentication failed", "login", login)
		return "", ErrUnauthorized
	}

	token, err := auth.GenerateToken(u.ID, s.tokens.Secret, s.tokens.TTL)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return token, nil
}

func (s *UserService) userLookupError(id int64, err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("user %d: %w", id, ErrUserNotFound)
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

func (s *UserService) partyLookupError(role string, id int64, err error) error {
	if errors.Is(err, db.ErrNotFound) {
		return fmt.Errorf("%s user %d: %w", role, id, ErrAccountNotFound)
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

func (s *UserService) invalidateSearch(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warnw("search cache invalidation failed", "error", err)
	}
}
