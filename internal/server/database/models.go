package database

import "time"

// User is a registered account. Password holds the bcrypt hash.
type User struct {
	ID           int64
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// Channel groups the videos uploaded by its owner.
type Channel struct {
	ID      int64
	Name    string
	OwnerID int64
}

// Video is an uploaded video's metadata. Filename is the storage key.
type Video struct {
	ID        int64
	Title     string
	Filename  string
	Views     int
	Likes     int
	CreatedAt time.Time
	ChannelID *int64 // nil when uploaded without a channel
}

// Like records that a user liked a video. At most one exists per pair.
type Like struct {
	ID        int64
	UserID    int64
	VideoID   int64
	CreatedAt time.Time
}

// Stats holds aggregate site statistics.
type Stats struct {
	TotalUsers    int64
	TotalChannels int64
	TotalVideos   int64
	TotalViews    int64
	TotalLikes    int64
}
