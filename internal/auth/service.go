// Package auth registers accounts and logs them in, returning a signed
// token with the public profile. The realtime chat path does not depend on it.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/Tyrowin/roomchat/internal/store"
)

var (
	// ErrValidation classifies request errors caused by bad input.
	ErrValidation = errors.New("validation failed")

	// ErrMissingRegisterFields is returned when name, email or password is empty.
	ErrMissingRegisterFields = fmt.Errorf("%w: please fill all fields", ErrValidation)
	// ErrMissingLoginFields is returned when email or password is empty.
	ErrMissingLoginFields = fmt.Errorf("%w: please provide email and password", ErrValidation)
	// ErrInvalidEmail is returned when the email does not parse.
	ErrInvalidEmail = fmt.Errorf("%w: invalid email format", ErrValidation)
	// ErrPasswordTooLong is returned when the password exceeds bcrypt's 72-byte limit.
	ErrPasswordTooLong = fmt.Errorf("%w: password must be at most 72 bytes", ErrValidation)

	// ErrEmailTaken is returned when registering an email that already exists.
	ErrEmailTaken = errors.New("this email is already registered")
	// ErrUserNotFound is returned when logging in with an unknown email.
	ErrUserNotFound = errors.New("user does not exist")
	// ErrInvalidCredentials is returned when the password does not match.
	ErrInvalidCredentials = errors.New("password does not match")
)

// UserStore is the persistence the service needs.
type UserStore interface {
	CreateUser(ctx context.Context, u store.User) (store.User, error)
	FindUserByEmail(ctx context.Context, email string) (store.User, error)
}

// Profile is the account data safe to return to clients.
type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// Credentials pairs a profile with a freshly issued token.
type Credentials struct {
	User  Profile `json:"user"`
	Token string  `json:"token"`
}

// Service handles registration and login.
type Service struct {
	users  UserStore
	hasher *PasswordHasher
	tokens *TokenIssuer
	log    *slog.Logger
}

// NewService creates a Service.
func NewService(users UserStore, hasher *PasswordHasher, tokens *TokenIssuer, log *slog.Logger) *Service {
	return &Service{users: users, hasher: hasher, tokens: tokens, log: log}
}

// Register creates an account and returns its credentials.
func (s *Service) Register(ctx context.Context, name, email, password string) (*Credentials, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if name == "" || email == "" || password == "" {
		return nil, ErrMissingRegisterFields
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}
	if len(password) > 72 {
		return nil, ErrPasswordTooLong
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.users.CreateUser(ctx, store.User{Name: name, Email: email, PasswordHash: hash})
	if err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.log.Info("user registered", "id", u.ID, "email", u.Email)

	return s.credentials(u)
}

// Login verifies email and password and returns fresh credentials.
func (s *Service) Login(ctx context.Context, email, password string) (*Credentials, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, ErrMissingLoginFields
	}

	u, err := s.users.FindUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}

	if !s.hasher.Verify(password, u.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	s.log.Info("user logged in", "id", u.ID)

	return s.credentials(u)
}

// Verify checks a bearer token issued by Register or Login.
func (s *Service) Verify(token string) (*Claims, error) {
	return s.tokens.Parse(token)
}

func (s *Service) credentials(u store.User) (*Credentials, error) {
	token, err := s.tokens.Issue(u.ID, u.Email)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Credentials{
		User: Profile{
			ID:        u.ID,
			Name:      u.Name,
			Email:     u.Email,
			CreatedAt: u.CreatedAt,
		},
		Token: token,
	}, nil
}
