package app

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/osuTitanic/keel/internal/broadcast"
	"github.com/osuTitanic/keel/internal/config"
	"github.com/osuTitanic/keel/internal/store"
)

// memStore keeps the whole data model in maps so service scenarios can
// run sequences of operations and inspect the resulting state. It
// backs both the read surface and the transactional one; transactions
// are not rolled back on error, which is fine for tests asserting on
// either full success or a rejection before any mutation.
type memStore struct {
	sets          map[int]*store.Beatmapset
	users         map[int]store.User
	topics        map[int]*store.ForumTopic
	posts         map[int]*store.ForumPost
	nominations   []store.Nomination
	kudosu        []store.KudosuEntry
	scores        map[int]int
	notifications []store.Notification
	nextKudosuID  int64
}

func newMemStore() *memStore {
	return &memStore{
		sets:   make(map[int]*store.Beatmapset),
		users:  make(map[int]store.User),
		topics: make(map[int]*store.ForumTopic),
		posts:  make(map[int]*store.ForumPost),
		scores: make(map[int]int),
	}
}

func (m *memStore) Ping(context.Context) error { return nil }

func (m *memStore) FetchBeatmapset(_ context.Context, setID int) (store.Beatmapset, error) {
	set, ok := m.sets[setID]
	if !ok {
		return store.Beatmapset{}, sql.ErrNoRows
	}
	return m.snapshot(set), nil
}

func (m *memStore) FetchUser(_ context.Context, userID int) (store.User, error) {
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memStore) ListNominations(_ context.Context, setID int) ([]store.Nomination, error) {
	var items []store.Nomination
	for _, nomination := range m.nominations {
		if nomination.SetID == setID {
			items = append(items, nomination)
		}
	}
	return items, nil
}

func (m *memStore) ListKudosuBySet(_ context.Context, setID int) ([]store.KudosuEntry, error) {
	var items []store.KudosuEntry
	for _, entry := range m.kudosu {
		if entry.SetID == setID {
			items = append(items, entry)
		}
	}
	return items, nil
}

func (m *memStore) InsertNotification(_ context.Context, item store.Notification) error {
	m.notifications = append(m.notifications, item)
	return nil
}

func (m *memStore) InSetTx(_ context.Context, _ int, fn func(store.Tx) error) error {
	return fn(&memTx{m})
}

func (m *memStore) InPostTx(_ context.Context, _ int, fn func(store.Tx) error) error {
	return fn(&memTx{m})
}

func (m *memStore) snapshot(set *store.Beatmapset) store.Beatmapset {
	copied := *set
	copied.Beatmaps = append([]store.Beatmap(nil), set.Beatmaps...)
	return copied
}

type memTx struct {
	m *memStore
}

func (t *memTx) FetchBeatmapsetForUpdate(_ context.Context, setID int) (store.Beatmapset, error) {
	set, ok := t.m.sets[setID]
	if !ok {
		return store.Beatmapset{}, sql.ErrNoRows
	}
	return t.m.snapshot(set), nil
}

func (t *memTx) UpdateBeatmapsetStatus(_ context.Context, setID, status int, approvedAt *time.Time, approvedBy *int) error {
	set, ok := t.m.sets[setID]
	if !ok {
		return sql.ErrNoRows
	}
	set.Status = status
	set.ApprovedAt = approvedAt
	set.ApprovedBy = approvedBy
	return nil
}

func (t *memTx) UpdateBeatmapStatusesBySet(_ context.Context, setID, status int) error {
	set, ok := t.m.sets[setID]
	if !ok {
		return sql.ErrNoRows
	}
	for i := range set.Beatmaps {
		set.Beatmaps[i].Status = status
	}
	return nil
}

func (t *memTx) UpdateBeatmapStatus(_ context.Context, beatmapID, status int) error {
	for _, set := range t.m.sets {
		for i := range set.Beatmaps {
			if set.Beatmaps[i].ID == beatmapID {
				set.Beatmaps[i].Status = status
				return nil
			}
		}
	}
	return sql.ErrNoRows
}

func (t *memTx) CountNominations(_ context.Context, setID int) (int, error) {
	count := 0
	for _, nomination := range t.m.nominations {
		if nomination.SetID == setID {
			count++
		}
	}
	return count, nil
}

func (t *memTx) ListNominations(ctx context.Context, setID int) ([]store.Nomination, error) {
	return t.m.ListNominations(ctx, setID)
}

func (t *memTx) InsertNomination(_ context.Context, setID, userID int) (store.Nomination, error) {
	for _, nomination := range t.m.nominations {
		if nomination.SetID == setID && nomination.UserID == userID {
			return store.Nomination{}, store.ErrDuplicateNomination
		}
	}
	nomination := store.Nomination{SetID: setID, UserID: userID, Time: time.Now()}
	t.m.nominations = append(t.m.nominations, nomination)
	return nomination, nil
}

func (t *memTx) DeleteNominations(_ context.Context, setID int) error {
	kept := t.m.nominations[:0]
	for _, nomination := range t.m.nominations {
		if nomination.SetID != setID {
			kept = append(kept, nomination)
		}
	}
	t.m.nominations = kept
	return nil
}

func (t *memTx) DeleteScoresByBeatmap(_ context.Context, beatmapID int) error {
	t.m.scores[beatmapID] = 0
	return nil
}

func (t *memTx) FetchTopic(_ context.Context, topicID int) (store.ForumTopic, error) {
	topic, ok := t.m.topics[topicID]
	if !ok {
		return store.ForumTopic{}, sql.ErrNoRows
	}
	return *topic, nil
}

func (t *memTx) MoveTopic(_ context.Context, topicID, forumID int) error {
	topic, ok := t.m.topics[topicID]
	if !ok {
		return sql.ErrNoRows
	}
	topic.ForumID = forumID
	return nil
}

func (t *memTx) SetTopicIcon(_ context.Context, topicID int, iconID *int) error {
	topic, ok := t.m.topics[topicID]
	if !ok {
		return sql.ErrNoRows
	}
	topic.IconID = iconID
	return nil
}

func (t *memTx) SetTopicStatusText(_ context.Context, topicID int, text *string) error {
	topic, ok := t.m.topics[topicID]
	if !ok {
		return sql.ErrNoRows
	}
	topic.StatusText = text
	return nil
}

func (t *memTx) HideTopic(_ context.Context, topicID, forumID int) error {
	topic, ok := t.m.topics[topicID]
	if !ok {
		return sql.ErrNoRows
	}
	topic.Hidden = true
	topic.ForumID = forumID
	return nil
}

func (t *memTx) FetchPost(_ context.Context, postID int) (store.ForumPost, error) {
	post, ok := t.m.posts[postID]
	if !ok {
		return store.ForumPost{}, sql.ErrNoRows
	}
	return *post, nil
}

func (t *memTx) topicPosts(topicID int) []*store.ForumPost {
	var posts []*store.ForumPost
	for _, post := range t.m.posts {
		if post.TopicID == topicID && !post.Hidden {
			posts = append(posts, post)
		}
	}
	sort.Slice(posts, func(i, j int) bool { return posts[i].ID < posts[j].ID })
	return posts
}

func (t *memTx) FetchPreviousPost(_ context.Context, topicID, beforePostID int) (*store.ForumPost, error) {
	var previous *store.ForumPost
	for _, post := range t.topicPosts(topicID) {
		if post.ID < beforePostID {
			copied := *post
			previous = &copied
		}
	}
	return previous, nil
}

func (t *memTx) FetchLastBATPost(_ context.Context, topicID int) (*store.ForumPost, error) {
	var last *store.ForumPost
	for _, post := range t.topicPosts(topicID) {
		if t.m.users[post.UserID].IsBAT {
			copied := *post
			last = &copied
		}
	}
	return last, nil
}

func (t *memTx) FetchLastPostByUser(_ context.Context, topicID, userID int) (*store.ForumPost, error) {
	var last *store.ForumPost
	for _, post := range t.topicPosts(topicID) {
		if post.UserID == userID {
			copied := *post
			last = &copied
		}
	}
	return last, nil
}

func (t *memTx) ListKudosuByPost(_ context.Context, postID int) ([]store.KudosuEntry, error) {
	var items []store.KudosuEntry
	for _, entry := range t.m.kudosu {
		if entry.PostID == postID {
			items = append(items, entry)
		}
	}
	return items, nil
}

func (t *memTx) HasKudosuFromSender(_ context.Context, postID, senderID int) (bool, error) {
	for _, entry := range t.m.kudosu {
		if entry.PostID == postID && entry.SenderID == senderID {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) SumKudosuByPost(_ context.Context, postID int) (int, error) {
	sum := 0
	for _, entry := range t.m.kudosu {
		if entry.PostID == postID {
			sum += entry.Amount
		}
	}
	return sum, nil
}

func (t *memTx) InsertKudosu(_ context.Context, entry store.KudosuEntry) (store.KudosuEntry, error) {
	t.m.nextKudosuID++
	entry.ID = t.m.nextKudosuID
	entry.Time = time.Now()
	t.m.kudosu = append(t.m.kudosu, entry)
	return entry, nil
}

func (t *memTx) DeleteKudosuEntry(_ context.Context, entryID int64) error {
	kept := t.m.kudosu[:0]
	for _, entry := range t.m.kudosu {
		if entry.ID != entryID {
			kept = append(kept, entry)
		}
	}
	t.m.kudosu = kept
	return nil
}

func (t *memTx) DeleteKudosuByPost(_ context.Context, postID int) error {
	kept := t.m.kudosu[:0]
	for _, entry := range t.m.kudosu {
		if entry.PostID != postID {
			kept = append(kept, entry)
		}
	}
	t.m.kudosu = kept
	return nil
}

func (t *memTx) DeleteKudosuBySet(_ context.Context, setID int) error {
	kept := t.m.kudosu[:0]
	for _, entry := range t.m.kudosu {
		if entry.SetID != setID {
			kept = append(kept, entry)
		}
	}
	t.m.kudosu = kept
	return nil
}

func (t *memTx) AdjustStarPriority(_ context.Context, setID, delta int) error {
	set, ok := t.m.sets[setID]
	if !ok {
		return sql.ErrNoRows
	}
	set.StarPriority += delta
	if set.StarPriority < 0 {
		set.StarPriority = 0
	}
	return nil
}

type recordingSink struct {
	events []broadcast.Event
	embeds []broadcast.Embed
}

func (r *recordingSink) Publish(_ context.Context, event broadcast.Event) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) SendWebhook(_ context.Context, embed broadcast.Embed) error {
	r.embeds = append(r.embeds, embed)
	return nil
}

type recordingAssets struct {
	removedSets     []int
	removedBeatmaps []int
}

func (r *recordingAssets) RemoveSet(_ context.Context, setID int) error {
	r.removedSets = append(r.removedSets, setID)
	return nil
}

func (r *recordingAssets) RemoveBeatmap(_ context.Context, beatmapID int) error {
	r.removedBeatmaps = append(r.removedBeatmaps, beatmapID)
	return nil
}

func newTestService(m *memStore) (*Service, *recordingSink, *recordingAssets) {
	sink := &recordingSink{}
	assets := &recordingAssets{}
	service := &Service{
		cfg:    config.Config{DomainName: "example.com"},
		store:  m,
		events: sink,
		assets: assets,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return service, sink, assets
}
