// Package servicetest provides an in-memory repository for tests of the
// service and API layers.
package servicetest

import (
	"context"
	"sort"
	"sync"
	"time"

	"kkerang/internal/server/database"
)

type likeKey struct{ userID, videoID int64 }

type viewKey struct {
	sessionID string
	videoID   int64
}

// MemoryRepository mirrors database.Repository's semantics in memory.
// Creation times advance by one second per row so ordering is stable.
type MemoryRepository struct {
	mu       sync.Mutex
	clock    time.Time
	users    []*database.User
	channels []*database.Channel
	videos   []*database.Video
	likes    map[likeKey]bool
	views    map[viewKey]bool

	// FailCreateVideo makes CreateVideo return this error when set.
	FailCreateVideo error
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		clock: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		likes: make(map[likeKey]bool),
		views: make(map[viewKey]bool),
	}
}

func (m *MemoryRepository) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *MemoryRepository) CreateUserWithChannel(_ context.Context, username, passwordHash, channelName string) (*database.User, *database.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == username {
			return nil, nil, database.ErrUsernameTaken
		}
	}
	user := &database.User{
		ID:           int64(len(m.users) + 1),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    m.tick(),
	}
	channel := &database.Channel{ID: int64(len(m.channels) + 1), Name: channelName, OwnerID: user.ID}
	m.users = append(m.users, user)
	m.channels = append(m.channels, channel)

	u, c := *user, *channel
	return &u, &c, nil
}

func (m *MemoryRepository) GetUserByUsername(_ context.Context, username string) (*database.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if u.Username == username {
			copied := *u
			return &copied, nil
		}
	}
	return nil, database.ErrUserNotFound
}

func (m *MemoryRepository) GetChannelByOwner(_ context.Context, ownerID int64) (*database.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, c := range m.channels {
		if c.OwnerID == ownerID {
			copied := *c
			return &copied, nil
		}
	}
	return nil, database.ErrChannelNotFound
}

func (m *MemoryRepository) CreateVideo(_ context.Context, video *database.Video) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailCreateVideo != nil {
		return m.FailCreateVideo
	}
	video.ID = int64(len(m.videos) + 1)
	video.Views, video.Likes = 0, 0
	video.CreatedAt = m.tick()
	copied := *video
	m.videos = append(m.videos, &copied)
	return nil
}

func (m *MemoryRepository) GetVideo(_ context.Context, id int64) (*database.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if v := m.find(id); v != nil {
		copied := *v
		return &copied, nil
	}
	return nil, database.ErrVideoNotFound
}

func (m *MemoryRepository) GetVideoByFilename(_ context.Context, filename string) (*database.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range m.videos {
		if v.Filename == filename {
			copied := *v
			return &copied, nil
		}
	}
	return nil, database.ErrVideoNotFound
}

func (m *MemoryRepository) ListVideos(context.Context) ([]*database.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	videos := m.copyVideos()
	sort.SliceStable(videos, func(i, j int) bool {
		return newer(videos[i], videos[j])
	})
	return videos, nil
}

func (m *MemoryRepository) Recommend(_ context.Context, excludeID int64, limit int) ([]*database.Video, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var videos []*database.Video
	for _, v := range m.copyVideos() {
		if v.ID != excludeID {
			videos = append(videos, v)
		}
	}
	sort.SliceStable(videos, func(i, j int) bool {
		a, b := videos[i], videos[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.Views != b.Views {
			return a.Views > b.Views
		}
		return a.ID > b.ID
	})
	if len(videos) > limit {
		videos = videos[:limit]
	}
	return videos, nil
}

func (m *MemoryRepository) RecordView(_ context.Context, sessionID string, videoID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := m.find(videoID)
	if v == nil {
		return false, database.ErrVideoNotFound
	}
	key := viewKey{sessionID, videoID}
	if m.views[key] {
		return false, nil
	}
	m.views[key] = true
	v.Views++
	return true, nil
}

func (m *MemoryRepository) RecordLike(_ context.Context, userID, videoID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v := m.find(videoID)
	if v == nil {
		return false, database.ErrVideoNotFound
	}
	key := likeKey{userID, videoID}
	if m.likes[key] {
		return false, nil
	}
	m.likes[key] = true
	v.Likes++
	return true, nil
}

func (m *MemoryRepository) ListFilenames(context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var names []string
	for _, v := range m.videos {
		names = append(names, v.Filename)
	}
	return names, nil
}

func (m *MemoryRepository) GetStats(context.Context) (*database.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := &database.Stats{
		TotalUsers:    int64(len(m.users)),
		TotalChannels: int64(len(m.channels)),
		TotalVideos:   int64(len(m.videos)),
	}
	for _, v := range m.videos {
		stats.TotalViews += int64(v.Views)
		stats.TotalLikes += int64(v.Likes)
	}
	return stats, nil
}

// UserCount returns the number of registered users.
func (m *MemoryRepository) UserCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

// Channels returns a copy of every channel.
func (m *MemoryRepository) Channels() []database.Channel {
	m.mu.Lock()
	defer m.mu.Unlock()

	channels := make([]database.Channel, 0, len(m.channels))
	for _, c := range m.channels {
		channels = append(channels, *c)
	}
	return channels
}

// LikeCount returns the number of like rows.
func (m *MemoryRepository) LikeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.likes)
}

func (m *MemoryRepository) find(id int64) *database.Video {
	for _, v := range m.videos {
		if v.ID == id {
			return v
		}
	}
	return nil
}

func (m *MemoryRepository) copyVideos() []*database.Video {
	videos := make([]*database.Video, 0, len(m.videos))
	for _, v := range m.videos {
		copied := *v
		videos = append(videos, &copied)
	}
	return videos
}

func newer(a, b *database.Video) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}
