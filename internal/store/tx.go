package store

import (
	"context"
	"time"
)

// Tx is the set of operations available inside a single lifecycle unit
// of work. Every mutation performed through a Tx commits or rolls back
// as one atomic unit; callers obtain one through InSetTx or InPostTx,
// which also serialize concurrent units for the same entity.
type Tx interface {
	FetchBeatmapsetForUpdate(ctx context.Context, setID int) (Beatmapset, error)
	UpdateBeatmapsetStatus(ctx context.Context, setID, status int, approvedAt *time.Time, approvedBy *int) error
	UpdateBeatmapStatusesBySet(ctx context.Context, setID, status int) error
	UpdateBeatmapStatus(ctx context.Context, beatmapID, status int) error

	CountNominations(ctx context.Context, setID int) (int, error)
	ListNominations(ctx context.Context, setID int) ([]Nomination, error)
	InsertNomination(ctx context.Context, setID, userID int) (Nomination, error)
	DeleteNominations(ctx context.Context, setID int) error

	DeleteScoresByBeatmap(ctx context.Context, beatmapID int) error

	FetchTopic(ctx context.Context, topicID int) (ForumTopic, error)
	MoveTopic(ctx context.Context, topicID, forumID int) error
	SetTopicIcon(ctx context.Context, topicID int, iconID *int) error
	SetTopicStatusText(ctx context.Context, topicID int, text *string) error
	HideTopic(ctx context.Context, topicID, forumID int) error

	FetchPost(ctx context.Context, postID int) (ForumPost, error)
	FetchPreviousPost(ctx context.Context, topicID, beforePostID int) (*ForumPost, error)
	FetchLastBATPost(ctx context.Context, topicID int) (*ForumPost, error)
	FetchLastPostByUser(ctx context.Context, topicID, userID int) (*ForumPost, error)

	ListKudosuByPost(ctx context.Context, postID int) ([]KudosuEntry, error)
	HasKudosuFromSender(ctx context.Context, postID, senderID int) (bool, error)
	SumKudosuByPost(ctx context.Context, postID int) (int, error)
	InsertKudosu(ctx context.Context, entry KudosuEntry) (KudosuEntry, error)
	DeleteKudosuEntry(ctx context.Context, entryID int64) error
	DeleteKudosuByPost(ctx context.Context, postID int) error
	DeleteKudosuBySet(ctx context.Context, setID int) error

	AdjustStarPriority(ctx context.Context, setID, delta int) error
}
