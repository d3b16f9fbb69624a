package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const minPasswordLength = 8

var (
	// ErrInvalidEmail indicates the supplied email address is empty or malformed.
	ErrInvalidEmail = errors.New("accounts: invalid email address")
	// ErrWeakPassword indicates the supplied password is below the minimum length.
	ErrWeakPassword = errors.New("accounts: password too short")
	// ErrEmailTaken indicates an account already exists for the email address.
	ErrEmailTaken = errors.New("accounts: email already registered")
	// ErrInvalidCredentials indicates the email/password pair did not match.
	ErrInvalidCredentials = errors.New("accounts: invalid credentials")
	// ErrUnknownAccount indicates no account exists for the identifier.
	ErrUnknownAccount = errors.New("accounts: unknown account")

	errMissingDatabase   = errors.New("accounts: database handle is required")
	errMissingIDProvider = errors.New("accounts: id provider is required")
)

// IDProvider issues unique account identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// SessionPublisher receives auth-state transitions for session-resolver consumers.
type SessionPublisher interface {
	PublishSignIn(identity Identity)
	PublishSignOut()
}

// ServiceConfig describes the dependencies for the account service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Sessions   SessionPublisher
	Logger     *zap.Logger
	BcryptCost int
}

// Service manages email/password accounts and emits auth-state events.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	sessions   SessionPublisher
	logger     *zap.Logger
	bcryptCost int
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cost := cfg.BcryptCost
	if cost < bcrypt.MinCost {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		sessions:   cfg.Sessions,
		logger:     logger,
		bcryptCost: cost,
	}, nil
}

// SignUp registers a new account and signs it in immediately.
func (s *Service) SignUp(ctx context.Context, email, password string) (Identity, error) {
	normalized := normalizeEmail(email)
	if err := validateEmail(normalized); err != nil {
		return Identity{}, err
	}
	if len(password) < minPasswordLength {
		return Identity{}, fmt.Errorf("%w: minimum %d characters", ErrWeakPassword, minPasswordLength)
	}

	var existing Account
	err := s.db.WithContext(ctx).Where("email = ?", normalized).Take(&existing).Error
	if err == nil {
		return Identity{}, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, fmt.Errorf("accounts: lookup failed: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return Identity{}, fmt.Errorf("accounts: password hashing failed: %w", err)
	}

	accountID, err := s.idProvider.NewID()
	if err != nil {
		return Identity{}, fmt.Errorf("accounts: id generation failed: %w", err)
	}

	account := Account{
		ID:           accountID,
		Email:        normalized,
		PasswordHash: string(hash),
		CreatedAt:    s.clock().UTC(),
		UpdatedAt:    s.clock().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		s.logger.Error("account insert failed", zap.Error(err), zap.String("email", normalized))
		return Identity{}, fmt.Errorf("accounts: insert failed: %w", err)
	}

	identity := Identity{ID: account.ID, Email: account.Email}
	s.publishSignIn(identity)
	return identity, nil
}

// SignIn authenticates an email/password pair.
func (s *Service) SignIn(ctx context.Context, email, password string) (Identity, error) {
	normalized := normalizeEmail(email)
	if err := validateEmail(normalized); err != nil {
		return Identity{}, err
	}

	var account Account
	err := s.db.WithContext(ctx).Where("email = ?", normalized).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, ErrInvalidCredentials
	}
	if err != nil {
		return Identity{}, fmt.Errorf("accounts: lookup failed: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return Identity{}, ErrInvalidCredentials
		}
		return Identity{}, fmt.Errorf("accounts: password comparison failed: %w", err)
	}

	identity := Identity{ID: account.ID, Email: account.Email}
	s.publishSignIn(identity)
	return identity, nil
}

// SignOut records the end of a session and notifies session-resolver consumers.
func (s *Service) SignOut(_ context.Context, userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrUnknownAccount
	}
	if s.sessions != nil {
		s.sessions.PublishSignOut()
	}
	return nil
}

// GetByID resolves the identity for an account identifier.
func (s *Service) GetByID(ctx context.Context, userID string) (Identity, error) {
	if strings.TrimSpace(userID) == "" {
		return Identity{}, ErrUnknownAccount
	}
	var account Account
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, ErrUnknownAccount
	}
	if err != nil {
		return Identity{}, fmt.Errorf("accounts: lookup failed: %w", err)
	}
	return Identity{ID: account.ID, Email: account.Email}, nil
}

func (s *Service) publishSignIn(identity Identity) {
	if s.sessions != nil {
		s.sessions.PublishSignIn(identity)
	}
}

func validateEmail(normalized string) error {
	if normalized == "" {
		return fmt.Errorf("%w: empty", ErrInvalidEmail)
	}
	at := strings.Index(normalized, "@")
	if at <= 0 || at == len(normalized)-1 {
		return fmt.Errorf("%w: %q", ErrInvalidEmail, normalized)
	}
	return nil
}
