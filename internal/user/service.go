package user

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
)

// Store is the persistence contract the service depends on.
type Store interface {
	Create(ctx context.Context, nu entity.NewUser) (*entity.User, error)
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	FindByID(ctx context.Context, id int64) (*entity.User, error)
	UpdateProfile(ctx context.Context, id int64, upd entity.ProfileUpdate) (*entity.User, error)
	UpdatePassword(ctx context.Context, id int64, hash string) error
	Ping(ctx context.Context) error
}

var (
	_ Store = (*userrepo.UserRepo)(nil)
	_ Store = (*userrepo.MemoryRepo)(nil)
)

// OutcomeRecorder receives one observation per register/login attempt.
type OutcomeRecorder interface {
	ObserveAuth(operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAuth(string, string) {}

// AuthResult is returned by register and login.
type AuthResult struct {
	User  *entity.PublicUser `json:"user"`
	Token string             `json:"token"`
}

// AuthService orchestrates registration, login and profile flows.
type AuthService struct {
	store    Store
	hasher   PasswordHasher
	codec    *session.Codec
	validate *Validator
	logger   *zap.SugaredLogger
	outcomes OutcomeRecorder

	dummyHash func() string
}

type Option func(*AuthService)

func WithOutcomeRecorder(r OutcomeRecorder) Option {
	return func(s *AuthService) { s.outcomes = r }
}

func NewAuthService(store Store, hasher PasswordHasher, codec *session.Codec, logger *zap.SugaredLogger, opts ...Option) *AuthService {
	if hasher == nil {
		hasher = BcryptHasher{Cost: DefaultBcryptCost}
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	s := &AuthService{
		store:    store,
		hasher:   hasher,
		codec:    codec,
		validate: NewValidator(),
		logger:   logger,
		outcomes: nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	// verified against on login for unknown emails
	s.dummyHash = sync.OnceValue(func() string {
		h, err := s.hasher.Hash("pitchfork-auth-dummy-password")
		if err != nil {
			s.logger.Warnw("dummy hash failed", "err", err)
		}
		return h
	})
	return s
}

// Ping reports store reachability.
func (s *AuthService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Register validates input, creates the account and issues its first token.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	if err := s.validate.Register(&in); err != nil {
		s.outcomes.ObserveAuth("register", "invalid")
		return nil, err
	}

	if _, err := s.store.FindByEmail(ctx, in.Email); err == nil {
		s.outcomes.ObserveAuth("register", "duplicate")
		return nil, ErrDuplicateEmail
	} else if !errors.Is(err, userrepo.ErrNotFound) {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	u, err := s.store.Create(ctx, entity.NewUser{Email: in.Email, PasswordHash: hash, Name: in.Name})
	if err != nil {
		if errors.Is(err, userrepo.ErrDuplicateEmail) {
			s.outcomes.ObserveAuth("register", "duplicate")
			return nil, ErrDuplicateEmail
		}
		return nil, err
	}

	token, err := s.codec.Issue(u.ID, u.Email)
	if err != nil {
		return nil, err
	}
	s.outcomes.ObserveAuth("register", "success")
	s.logger.Infow("user registered", "user_id", u.ID)
	return &AuthResult{User: u.Public(), Token: token}, nil
}

// Login authenticates by email and password. Unknown email and wrong password
// produce the same error; an inactive account is only reported once the
// password has verified.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	if err := s.validate.Login(&in); err != nil {
		s.outcomes.ObserveAuth("login", "invalid")
		return nil, err
	}

	u, err := s.store.FindByEmail(ctx, in.Email)
	if err != nil {
		if errors.Is(err, userrepo.ErrNotFound) {
			s.hasher.Verify(s.dummyHash(), in.Password)
			s.outcomes.ObserveAuth("login", "bad_credentials")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !s.hasher.Verify(u.PasswordHash, in.Password) {
		s.outcomes.ObserveAuth("login", "bad_credentials")
		return nil, ErrInvalidCredentials
	}
	if !u.IsActive {
		s.outcomes.ObserveAuth("login", "inactive")
		return nil, ErrAccountInactive
	}

	token, err := s.codec.Issue(u.ID, u.Email)
	if err != nil {
		return nil, err
	}
	s.outcomes.ObserveAuth("login", "success")
	return &AuthResult{User: u.Public(), Token: token}, nil
}

// Me returns the current profile of the token holder.
func (s *AuthService) Me(ctx context.Context, userID int64) (*entity.PublicUser, error) {
	u, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return nil, notFound(err)
	}
	return u.Public(), nil
}

// UpdateProfile applies a partial name/avatar update.
func (s *AuthService) UpdateProfile(ctx context.Context, userID int64, in ProfileInput) (*entity.PublicUser, error) {
	if err := s.validate.Profile(&in); err != nil {
		return nil, err
	}
	u, err := s.store.UpdateProfile(ctx, userID, entity.ProfileUpdate{Name: in.Name, Avatar: in.Avatar})
	if err != nil {
		return nil, notFound(err)
	}
	return u.Public(), nil
}

// ChangePassword replaces the stored hash once the current password verifies.
// Existing tokens stay valid.
func (s *AuthService) ChangePassword(ctx context.Context, userID int64, in ChangePasswordInput) error {
	if err := s.validate.ChangePassword(&in); err != nil {
		return err
	}
	u, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return notFound(err)
	}
	if !s.hasher.Verify(u.PasswordHash, in.CurrentPassword) {
		return ErrIncorrectPassword
	}
	hash, err := s.hasher.Hash(in.NewPassword)
	if err != nil {
		return err
	}
	if err := s.store.UpdatePassword(ctx, userID, hash); err != nil {
		return notFound(err)
	}
	s.logger.Infow("password changed", "user_id", userID)
	return nil
}

// Refresh issues a new token for the identity in claims without a store lookup.
func (s *AuthService) Refresh(claims *session.Claims) (string, error) {
	return s.codec.Issue(claims.UserID, claims.Email)
}

// Logout is advisory: tokens stay valid until they expire.
func (s *AuthService) Logout(claims *session.Claims) {
	s.logger.Infow("user logged out", "user_id", claims.UserID)
}

func notFound(err error) error {
	if errors.Is(err, userrepo.ErrNotFound) {
		return ErrUserNotFound
	}
	return err
}
