package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"kkerang/internal/server/database"
	"kkerang/internal/server/storage"

	"github.com/google/uuid"
)

// DefaultTitle is used when an upload has a blank title.
const DefaultTitle = "제목 없는 동영상"

const (
	maxTitleLength    = 200
	maxFilenameLength = 200
)

// UploadInput is a single video upload.
type UploadInput struct {
	UserID   int64
	Title    string
	Filename string
	Data     io.Reader
	Size     int64
}

// WatchResult is what the watch page shows.
type WatchResult struct {
	Video           *database.Video
	Recommendations []*database.Video
}

// VideoService contains the business logic for videos.
type VideoService struct {
	repo           VideoRepository
	store          storage.Store
	maxFileSize    int64
	recommendLimit int
	now            func() time.Time
}

// NewVideoService creates a new video service.
func NewVideoService(repo VideoRepository, store storage.Store, maxFileSize int64, recommendLimit int) *VideoService {
	return &VideoService{
		repo:           repo,
		store:          store,
		maxFileSize:    maxFileSize,
		recommendLimit: max(recommendLimit, 0),
		now:            time.Now,
	}
}

// Upload stores the video bytes and records the video under the uploader's channel.
func (s *VideoService) Upload(ctx context.Context, in UploadInput) (*database.Video, error) {
	if in.Data == nil {
		return nil, ErrMissingFile
	}
	if s.maxFileSize > 0 && in.Size > s.maxFileSize {
		return nil, ErrFileTooLarge
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = DefaultTitle
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, fmt.Errorf("%w: title longer than %d characters", ErrInvalidInput, maxTitleLength)
	}

	var channelID *int64
	channel, err := s.repo.GetChannelByOwner(ctx, in.UserID)
	switch {
	case err == nil:
		channelID = &channel.ID
	case errors.Is(err, database.ErrChannelNotFound):
		slog.Warn("uploader has no channel", "user_id", in.UserID)
	default:
		return nil, err
	}

	key := storageKey(s.now(), in.Filename)
	data := in.Data
	if s.maxFileSize > 0 {
		data = io.LimitReader(data, s.maxFileSize+1)
	}
	size, err := s.store.Save(ctx, key, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store video: %w", err)
	}
	if s.maxFileSize > 0 && size > s.maxFileSize {
		if derr := s.store.Delete(ctx, key); derr != nil {
			slog.Error("failed to remove oversized video", "key", key, "error", derr)
		}
		return nil, ErrFileTooLarge
	}

	video := &database.Video{
		Title:     title,
		Filename:  key,
		ChannelID: channelID,
	}
	if err := s.repo.CreateVideo(ctx, video); err != nil {
		// Clean up stored file on DB failure
		if derr := s.store.Delete(ctx, key); derr != nil {
			slog.Error("failed to remove stored video", "key", key, "error", derr)
		}
		return nil, fmt.Errorf("failed to create video record: %w", err)
	}

	slog.Info("video uploaded",
		"id", video.ID,
		"title", video.Title,
		"key", key,
		"size", size,
		"user_id", in.UserID,
	)
	return video, nil
}

// List returns every video, most recent first.
func (s *VideoService) List(ctx context.Context) ([]*database.Video, error) {
	return s.repo.ListVideos(ctx)
}

// Watch loads a video, counts the view once per session and picks
// recommendations.
func (s *VideoService) Watch(ctx context.Context, sessionID string, videoID int64) (*WatchResult, error) {
	video, err := s.getVideo(ctx, videoID)
	if err != nil {
		return nil, err
	}

	counted, err := s.repo.RecordView(ctx, sessionID, videoID)
	if err != nil {
		if errors.Is(err, database.ErrVideoNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if counted {
		video.Views++
	}

	recommendations, err := s.repo.Recommend(ctx, videoID, s.recommendLimit)
	if err != nil {
		return nil, err
	}

	return &WatchResult{Video: video, Recommendations: recommendations}, nil
}

// Like records the user's like. It reports whether this was the user's
// first like of the video; repeats are a no-op.
func (s *VideoService) Like(ctx context.Context, userID, videoID int64) (bool, error) {
	if _, err := s.getVideo(ctx, videoID); err != nil {
		return false, err
	}

	liked, err := s.repo.RecordLike(ctx, userID, videoID)
	if err != nil {
		if errors.Is(err, database.ErrVideoNotFound) {
			return false, ErrNotFound
		}
		return false, err
	}
	if liked {
		slog.Info("video liked", "video_id", videoID, "user_id", userID)
	}
	return liked, nil
}

// OpenMedia opens the stored bytes of the video recorded under filename.
// Filenames that no video references are not served.
func (s *VideoService) OpenMedia(ctx context.Context, filename string) (*storage.Object, *database.Video, error) {
	if !storage.ValidKey(filename) {
		return nil, nil, ErrNotFound
	}

	video, err := s.repo.GetVideoByFilename(ctx, filename)
	if err != nil {
		if errors.Is(err, database.ErrVideoNotFound) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}

	obj, err := s.store.Open(ctx, video.Filename)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			slog.Warn("video record without stored media", "video_id", video.ID, "key", video.Filename)
			return nil, nil, ErrNotFound
		}
		return nil, nil, err
	}
	return obj, video, nil
}

// GetStats returns aggregate site statistics.
func (s *VideoService) GetStats(ctx context.Context) (*database.Stats, error) {
	return s.repo.GetStats(ctx)
}

func (s *VideoService) getVideo(ctx context.Context, id int64) (*database.Video, error) {
	video, err := s.repo.GetVideo(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrVideoNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return video, nil
}

// --- Helpers ---

// storageKey builds a collision-free key: upload time, a random tag and the
// sanitized client filename.
func storageKey(now time.Time, filename string) string {
	tag := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s", now.UTC().Format("20060102150405"), tag, sanitizeFilename(filename))
}

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes to forward slashes before
	// calling filepath.Base, which is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")
	name = strings.ReplaceAll(name, "\x00", "")

	name = filepath.Base(name)

	if len(name) > maxFilenameLength {
		ext := filepath.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		name = strings.ToValidUTF8(name[:maxFilenameLength-len(ext)], "") + ext
	}

	if name == "" || name == "." || name == "/" || name == ".." {
		name = "video.mp4"
	}

	return name
}
