package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/inkwell/inkwell/internal/auth"
	"github.com/inkwell/inkwell/internal/model"
	"github.com/inkwell/inkwell/internal/repository"
)

// Auth service errors.
var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrEmailTaken         = errors.New("email already registered")
	ErrWeakPassword       = errors.New("password too short")
)

const minPasswordLength = 12

// minLoginDuration is the floor for login attempts so response timing
// does not reveal whether the email exists.
const minLoginDuration = 200 * time.Millisecond

// AuthService handles backoffice user login and session tokens.
type AuthService struct {
	repo   *repository.Repository
	tokens *auth.TokenIssuer
	logger *slog.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(repo *repository.Repository, tokens *auth.TokenIssuer, logger *slog.Logger) *AuthService {
	return &AuthService{
		repo:   repo,
		tokens: tokens,
		logger: logger.With("component", "service.auth"),
	}
}

// Login verifies credentials and issues a session token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*model.User, string, error) {
	start := time.Now()
	defer func() {
		if elapsed := time.Since(start); elapsed < minLoginDuration {
			time.Sleep(minLoginDuration - elapsed)
		}
	}()

	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, "", ErrInvalidCredentials
	}

	user, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, "", ErrInvalidCredentials
		}
		return nil, "", err
	}

	ok, err := auth.VerifySecret(password, user.PasswordHash)
	if err != nil || !ok {
		s.logger.Warn("login failed", "user_id", user.ID)
		return nil, "", ErrInvalidCredentials
	}

	token, err := s.tokens.Issue(user.ID, user.Scopes)
	if err != nil {
		return nil, "", err
	}

	s.logger.Info("user logged in", "user_id", user.ID)
	return user, token, nil
}

// CreateUser registers a backoffice user with a hashed password.
func (s *AuthService) CreateUser(ctx context.Context, email, name, password string, scopes []string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidCredentials
	}
	if len(password) < minPasswordLength {
		return nil, ErrWeakPassword
	}
	if len(scopes) == 0 {
		scopes = []string{model.ScopeRead}
	}

	hash, err := auth.HashSecret(password)
	if err != nil {
		return nil, err
	}

	user := &model.User{
		ID:           ulid.Make().String(),
		Email:        email,
		Name:         name,
		PasswordHash: hash,
		Scopes:       scopes,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.repo.CreateUser(ctx, user); err != nil {
		if errors.Is(err, repository.ErrEmailExists) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}

	s.logger.Info("user created", "user_id", user.ID, "scopes", scopes)
	return user, nil
}
