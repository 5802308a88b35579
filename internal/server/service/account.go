package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"kkerang/internal/server/database"

	"golang.org/x/crypto/bcrypt"
)

const maxUsernameLength = 50

// AccountService registers and authenticates users.
type AccountService struct {
	repo AccountRepository
	cost int
}

// NewAccountService creates a new account service.
func NewAccountService(repo AccountRepository) *AccountService {
	return &AccountService{repo: repo, cost: bcrypt.DefaultCost}
}

// ChannelName is the name of the channel created for a new user.
func ChannelName(username string) string {
	return username + " 채널"
}

// Register creates a user and the channel it owns.
func (s *AccountService) Register(ctx context.Context, username, password string) (*database.User, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return nil, ErrMissingCredentials
	}
	if utf8.RuneCountInString(username) > maxUsernameLength {
		return nil, ErrUsernameTooLong
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return nil, ErrPasswordTooLong
		}
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user, channel, err := s.repo.CreateUserWithChannel(ctx, username, string(hash), ChannelName(username))
	if err != nil {
		if errors.Is(err, database.ErrUsernameTaken) {
			return nil, ErrUsernameTaken
		}
		return nil, err
	}

	slog.Info("user registered", "user_id", user.ID, "username", user.Username, "channel_id", channel.ID)
	return user, nil
}

// Authenticate checks a username and password pair.
func (s *AccountService) Authenticate(ctx context.Context, username, password string) (*database.User, error) {
	user, err := s.repo.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, database.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
