package service

import (
	"context"
	"errors"
	"fmt"

	"kkerang/internal/server/database"
)

// Sentinel errors for the service layer.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrMissingFile        = errors.New("video file is required")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
)

// Registration input errors. Each one also matches ErrInvalidInput.
var (
	ErrMissingCredentials = fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	ErrUsernameTooLong    = fmt.Errorf("%w: username longer than %d characters", ErrInvalidInput, maxUsernameLength)
	ErrPasswordTooLong    = fmt.Errorf("%w: password too long", ErrInvalidInput)
)

// AccountRepository is the storage the account service needs.
type AccountRepository interface {
	CreateUserWithChannel(ctx context.Context, username, passwordHash, channelName string) (*database.User, *database.Channel, error)
	GetUserByUsername(ctx context.Context, username string) (*database.User, error)
}

// VideoRepository is the storage the video service needs.
type VideoRepository interface {
	GetChannelByOwner(ctx context.Context, ownerID int64) (*database.Channel, error)
	CreateVideo(ctx context.Context, video *database.Video) error
	GetVideo(ctx context.Context, id int64) (*database.Video, error)
	GetVideoByFilename(ctx context.Context, filename string) (*database.Video, error)
	ListVideos(ctx context.Context) ([]*database.Video, error)
	Recommend(ctx context.Context, excludeID int64, limit int) ([]*database.Video, error)
	RecordView(ctx context.Context, sessionID string, videoID int64) (bool, error)
	RecordLike(ctx context.Context, userID, videoID int64) (bool, error)
	GetStats(ctx context.Context) (*database.Stats, error)
}

var (
	_ AccountRepository = (*database.Repository)(nil)
	_ VideoRepository   = (*database.Repository)(nil)
)
