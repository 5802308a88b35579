package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrUsernameTaken   = errors.New("username already exists")
	ErrChannelNotFound = errors.New("channel not found")
	ErrVideoNotFound   = errors.New("video not found")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const videoColumns = `id, title, filename, views, likes, created_at, channel_id`

// Repository provides data access for users, channels, videos and likes.
type Repository struct {
	db *DB
}

// NewRepository creates a new Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// CreateUserWithChannel inserts a user and the channel it owns in one transaction.
func (r *Repository) CreateUserWithChannel(ctx context.Context, username, passwordHash, channelName string) (*User, *Channel, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	user := &User{Username: username, PasswordHash: passwordHash}
	err = tx.QueryRow(ctx, `
		INSERT INTO users (username, password_hash) VALUES ($1, $2)
		RETURNING id, created_at
	`, username, passwordHash).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return nil, nil, ErrUsernameTaken
		}
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}

	channel := &Channel{Name: channelName, OwnerID: user.ID}
	err = tx.QueryRow(ctx,
		"INSERT INTO channels (name, owner_id) VALUES ($1, $2) RETURNING id",
		channelName, user.ID,
	).Scan(&channel.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create channel: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to commit registration: %w", err)
	}
	return user, channel, nil
}

// GetUserByUsername retrieves a user by username.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	return r.getUser(ctx, "SELECT id, username, password_hash, created_at FROM users WHERE username = $1", username)
}

// GetUserByID retrieves a user by ID.
func (r *Repository) GetUserByID(ctx context.Context, id int64) (*User, error) {
	return r.getUser(ctx, "SELECT id, username, password_hash, created_at FROM users WHERE id = $1", id)
}

func (r *Repository) getUser(ctx context.Context, query string, arg any) (*User, error) {
	user := &User{}
	err := r.db.Pool.QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetChannelByOwner returns the channel owned by the given user.
func (r *Repository) GetChannelByOwner(ctx context.Context, ownerID int64) (*Channel, error) {
	channel := &Channel{}
	err := r.db.Pool.QueryRow(ctx,
		"SELECT id, name, owner_id FROM channels WHERE owner_id = $1", ownerID,
	).Scan(&channel.ID, &channel.Name, &channel.OwnerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChannelNotFound
		}
		return nil, fmt.Errorf("failed to get channel: %w", err)
	}
	return channel, nil
}

// CreateVideo inserts a video record and fills in its ID and creation time.
func (r *Repository) CreateVideo(ctx context.Context, video *Video) error {
	err := r.db.Pool.QueryRow(ctx, `
		INSERT INTO videos (title, filename, channel_id)
		VALUES ($1, $2, $3)
		RETURNING id, views, likes, created_at
	`, video.Title, video.Filename, video.ChannelID).Scan(
		&video.ID,
		&video.Views,
		&video.Likes,
		&video.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create video: %w", err)
	}
	return nil
}

// GetVideo retrieves a video by its ID.
func (r *Repository) GetVideo(ctx context.Context, id int64) (*Video, error) {
	return r.getVideo(ctx, "SELECT "+videoColumns+" FROM videos WHERE id = $1", id)
}

// GetVideoByFilename retrieves the video stored under the given key.
func (r *Repository) GetVideoByFilename(ctx context.Context, filename string) (*Video, error) {
	return r.getVideo(ctx, "SELECT "+videoColumns+" FROM videos WHERE filename = $1", filename)
}

func (r *Repository) getVideo(ctx context.Context, query string, arg any) (*Video, error) {
	video, err := scanVideo(r.db.Pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrVideoNotFound
		}
		return nil, fmt.Errorf("failed to get video: %w", err)
	}
	return video, nil
}

// ListVideos returns every video, most recent first.
func (r *Repository) ListVideos(ctx context.Context) ([]*Video, error) {
	return r.queryVideos(ctx, "SELECT "+videoColumns+" FROM videos ORDER BY created_at DESC, id DESC")
}

// Recommend returns up to limit videos other than excludeID, newest first
// with view count breaking ties.
func (r *Repository) Recommend(ctx context.Context, excludeID int64, limit int) ([]*Video, error) {
	return r.queryVideos(ctx, `
		SELECT `+videoColumns+` FROM videos
		WHERE id <> $1
		ORDER BY created_at DESC, views DESC, id DESC
		LIMIT $2
	`, excludeID, limit)
}

func (r *Repository) queryVideos(ctx context.Context, query string, args ...any) ([]*Video, error) {
	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query videos: %w", err)
	}
	defer rows.Close()

	var videos []*Video
	for rows.Next() {
		video, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan video: %w", err)
		}
		videos = append(videos, video)
	}
	return videos, rows.Err()
}

func scanVideo(row pgx.Row) (*Video, error) {
	video := &Video{}
	err := row.Scan(
		&video.ID,
		&video.Title,
		&video.Filename,
		&video.Views,
		&video.Likes,
		&video.CreatedAt,
		&video.ChannelID,
	)
	if err != nil {
		return nil, err
	}
	return video, nil
}

// RecordView increments the view counter once per (session, video) pair.
// It reports whether the counter was incremented.
func (r *Repository) RecordView(ctx context.Context, sessionID string, videoID int64) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		WITH inserted AS (
			INSERT INTO video_views (session_id, video_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
			RETURNING video_id
		)
		UPDATE videos SET views = views + 1 WHERE id IN (SELECT video_id FROM inserted)
	`, sessionID, videoID)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return false, ErrVideoNotFound
		}
		return false, fmt.Errorf("failed to record view: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// RecordLike inserts a like for (user, video) and increments the video's
// like counter, both only if the pair has not liked before.
func (r *Repository) RecordLike(ctx context.Context, userID, videoID int64) (bool, error) {
	tag, err := r.db.Pool.Exec(ctx, `
		WITH inserted AS (
			INSERT INTO likes (user_id, video_id) VALUES ($1, $2)
			ON CONFLICT (user_id, video_id) DO NOTHING
			RETURNING video_id
		)
		UPDATE videos SET likes = likes + 1 WHERE id IN (SELECT video_id FROM inserted)
	`, userID, videoID)
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return false, ErrVideoNotFound
		}
		return false, fmt.Errorf("failed to record like: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListFilenames returns the storage key of every video.
func (r *Repository) ListFilenames(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool.Query(ctx, "SELECT filename FROM videos")
	if err != nil {
		return nil, fmt.Errorf("failed to query filenames: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan filename: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// GetStats returns aggregate site statistics.
func (r *Repository) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	err := r.db.Pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM users),
			(SELECT COUNT(*) FROM channels),
			COUNT(*),
			COALESCE(SUM(views), 0),
			COALESCE(SUM(likes), 0)
		FROM videos
	`).Scan(
		&stats.TotalUsers,
		&stats.TotalChannels,
		&stats.TotalVideos,
		&stats.TotalViews,
		&stats.TotalLikes,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return stats, nil
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
