package store

import (
	"fmt"
	"time"
)

type User struct {
	ID        int
	Name      string
	Country   string
	IsBAT     bool
	CreatedAt time.Time
}

type Beatmapset struct {
	ID           int
	Title        string
	Artist       string
	Creator      string
	CreatorID    int
	Status       int
	TopicID      *int
	StarPriority int
	ApprovedAt   *time.Time
	ApprovedBy   *int
	CreatedAt    time.Time
	LastUpdate   time.Time
	Beatmaps     []Beatmap
}

// FullName is the "Artist - Title" display name used in notifications,
// audit events and logs.
func (s Beatmapset) FullName() string {
	return fmt.Sprintf("%s - %s", s.Artist, s.Title)
}

type Beatmap struct {
	ID         int
	SetID      int
	Mode       int
	Status     int
	Version    string
	Filename   string
	CreatedAt  time.Time
	LastUpdate time.Time
}

type Nomination struct {
	SetID  int
	UserID int
	Time   time.Time
}

type KudosuEntry struct {
	ID       int64
	TargetID int
	SenderID int
	SetID    int
	PostID   int
	Amount   int
	Time     time.Time
}

type ForumTopic struct {
	ID         int
	ForumID    int
	CreatorID  int
	Title      string
	IconID     *int
	StatusText *string
	Hidden     bool
	CreatedAt  time.Time
}

type ForumPost struct {
	ID        int
	TopicID   int
	ForumID   int
	UserID    int
	Hidden    bool
	CreatedAt time.Time
}

type Notification struct {
	ID      int64
	UserID  int
	Type    int
	Header  string
	Content string
	Link    string
	Read    bool
	Time    time.Time
}

// NotificationBeatmaps is the inbox category for beatmap-related messages.
const NotificationBeatmaps = 4
