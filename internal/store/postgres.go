package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Advisory lock namespaces. Lifecycle transitions lock on the set id,
// kudosu exchanges on the post id, so check-then-act sequences for the
// same entity are serialized across the whole cluster.
const (
	lockClassBeatmapset = 1
	lockClassPost       = 2
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InSetTx runs fn inside a transaction holding the advisory lock for
// the given beatmapset. The transaction commits only when fn returns
// nil; any error rolls every mutation back.
func (s *PostgresStore) InSetTx(ctx context.Context, setID int, fn func(Tx) error) error {
	return s.inLockedTx(ctx, lockClassBeatmapset, setID, fn)
}

// InPostTx is InSetTx keyed by a forum post, used by the kudosu ledger.
func (s *PostgresStore) InPostTx(ctx context.Context, postID int, fn func(Tx) error) error {
	return s.inLockedTx(ctx, lockClassPost, postID, fn)
}

func (s *PostgresStore) inLockedTx(ctx context.Context, lockClass, lockID int, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, lockClass, lockID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const beatmapsetColumns = `
	id, title, artist, creator, creator_id, status, topic_id,
	star_priority, approved_at, approved_by, created_at, last_update
`

func scanBeatmapset(row *sql.Row) (Beatmapset, error) {
	var set Beatmapset
	err := row.Scan(
		&set.ID,
		&set.Title,
		&set.Artist,
		&set.Creator,
		&set.CreatorID,
		&set.Status,
		&set.TopicID,
		&set.StarPriority,
		&set.ApprovedAt,
		&set.ApprovedBy,
		&set.CreatedAt,
		&set.LastUpdate,
	)
	return set, err
}

func fetchBeatmaps(ctx context.Context, q interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}, setID int) ([]Beatmap, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, set_id, mode, status, version, filename, created_at, last_update
		FROM beatmaps
		WHERE set_id=$1
		ORDER BY mode, id
	`, setID)
	if err != nil {
		return nil, fmt.Errorf("list beatmaps: %w", err)
	}
	defer rows.Close()

	items := make([]Beatmap, 0)
	for rows.Next() {
		var item Beatmap
		if err := rows.Scan(&item.ID, &item.SetID, &item.Mode, &item.Status, &item.Version, &item.Filename, &item.CreatedAt, &item.LastUpdate); err != nil {
			return nil, fmt.Errorf("scan beatmap: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate beatmaps: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) FetchBeatmapset(ctx context.Context, setID int) (Beatmapset, error) {
	set, err := scanBeatmapset(s.db.QueryRowContext(ctx,
		`SELECT `+beatmapsetColumns+` FROM beatmapsets WHERE id=$1`, setID))
	if err != nil {
		return Beatmapset{}, err
	}
	set.Beatmaps, err = fetchBeatmaps(ctx, s.db, setID)
	if err != nil {
		return Beatmapset{}, err
	}
	return set, nil
}

func (s *PostgresStore) FetchUser(ctx context.Context, userID int) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, country, is_bat, created_at
		FROM users
		WHERE id=$1
	`, userID).Scan(&user.ID, &user.Name, &user.Country, &user.IsBAT, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListNominations(ctx context.Context, setID int) ([]Nomination, error) {
	return listNominations(ctx, s.db, setID)
}

func (s *PostgresStore) ListKudosuBySet(ctx context.Context, setID int) ([]KudosuEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target_id, sender_id, set_id, post_id, amount, time
		FROM kudosu
		WHERE set_id=$1
		ORDER BY time DESC
	`, setID)
	if err != nil {
		return nil, fmt.Errorf("list kudosu by set: %w", err)
	}
	defer rows.Close()
	return scanKudosuRows(rows)
}

func (s *PostgresStore) InsertNotification(ctx context.Context, item Notification) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, type, header, content, link)
		VALUES ($1, $2, $3, $4, $5)
	`, item.UserID, item.Type, item.Header, item.Content, item.Link)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

type queryer interface {
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
}

func listNominations(ctx context.Context, q queryer, setID int) ([]Nomination, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT set_id, user_id, time
		FROM nominations
		WHERE set_id=$1
		ORDER BY time
	`, setID)
	if err != nil {
		return nil, fmt.Errorf("list nominations: %w", err)
	}
	defer rows.Close()

	items := make([]Nomination, 0)
	for rows.Next() {
		var item Nomination
		if err := rows.Scan(&item.SetID, &item.UserID, &item.Time); err != nil {
			return nil, fmt.Errorf("scan nomination: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nominations: %w", err)
	}
	return items, nil
}

func scanKudosuRows(rows *sql.Rows) ([]KudosuEntry, error) {
	items := make([]KudosuEntry, 0)
	for rows.Next() {
		var item KudosuEntry
		if err := rows.Scan(&item.ID, &item.TargetID, &item.SenderID, &item.SetID, &item.PostID, &item.Amount, &item.Time); err != nil {
			return nil, fmt.Errorf("scan kudosu entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate kudosu entries: %w", err)
	}
	return items, nil
}

// pgTx implements Tx over an open *sql.Tx.
type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) FetchBeatmapsetForUpdate(ctx context.Context, setID int) (Beatmapset, error) {
	set, err := scanBeatmapset(t.tx.QueryRowContext(ctx,
		`SELECT `+beatmapsetColumns+` FROM beatmapsets WHERE id=$1 FOR UPDATE`, setID))
	if err != nil {
		return Beatmapset{}, err
	}
	set.Beatmaps, err = fetchBeatmaps(ctx, t.tx, setID)
	if err != nil {
		return Beatmapset{}, err
	}
	return set, nil
}

func (t *pgTx) UpdateBeatmapsetStatus(ctx context.Context, setID, status int, approvedAt *time.Time, approvedBy *int) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE beatmapsets
		SET status=$2, approved_at=$3, approved_by=$4, last_update=NOW()
		WHERE id=$1
	`, setID, status, approvedAt, approvedBy)
	if err != nil {
		return fmt.Errorf("update beatmapset status: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateBeatmapStatusesBySet(ctx context.Context, setID, status int) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE beatmaps SET status=$2, last_update=NOW() WHERE set_id=$1
	`, setID, status)
	if err != nil {
		return fmt.Errorf("update beatmap statuses: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateBeatmapStatus(ctx context.Context, beatmapID, status int) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE beatmaps SET status=$2, last_update=NOW() WHERE id=$1
	`, beatmapID, status)
	if err != nil {
		return fmt.Errorf("update beatmap status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update beatmap status: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (t *pgTx) CountNominations(ctx context.Context, setID int) (int, error) {
	var count int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM nominations WHERE set_id=$1`, setID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count nominations: %w", err)
	}
	return count, nil
}

func (t *pgTx) ListNominations(ctx context.Context, setID int) ([]Nomination, error) {
	return listNominations(ctx, t.tx, setID)
}

func (t *pgTx) InsertNomination(ctx context.Context, setID, userID int) (Nomination, error) {
	var item Nomination
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO nominations (set_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT (set_id, user_id) DO NOTHING
		RETURNING set_id, user_id, time
	`, setID, userID).Scan(&item.SetID, &item.UserID, &item.Time)
	if errors.Is(err, sql.ErrNoRows) {
		// Conflict path: the pair already exists.
		return Nomination{}, ErrDuplicateNomination
	}
	if err != nil {
		return Nomination{}, fmt.Errorf("insert nomination: %w", err)
	}
	return item, nil
}

func (t *pgTx) DeleteNominations(ctx context.Context, setID int) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM nominations WHERE set_id=$1`, setID)
	if err != nil {
		return fmt.Errorf("delete nominations: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteScoresByBeatmap(ctx context.Context, beatmapID int) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE scores SET hidden=TRUE WHERE beatmap_id=$1
	`, beatmapID)
	if err != nil {
		return fmt.Errorf("delete scores: %w", err)
	}
	return nil
}

func (t *pgTx) FetchTopic(ctx context.Context, topicID int) (ForumTopic, error) {
	var topic ForumTopic
	err := t.tx.QueryRowContext(ctx, `
		SELECT id, forum_id, creator_id, title, icon_id, status_text, hidden, created_at
		FROM forum_topics
		WHERE id=$1
	`, topicID).Scan(&topic.ID, &topic.ForumID, &topic.CreatorID, &topic.Title, &topic.IconID, &topic.StatusText, &topic.Hidden, &topic.CreatedAt)
	if err != nil {
		return ForumTopic{}, err
	}
	return topic, nil
}

func (t *pgTx) MoveTopic(ctx context.Context, topicID, forumID int) error {
	if _, err := t.tx.ExecContext(ctx, `
		UPDATE forum_topics SET forum_id=$2 WHERE id=$1
	`, topicID, forumID); err != nil {
		return fmt.Errorf("move topic: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `
		UPDATE forum_posts SET forum_id=$2 WHERE topic_id=$1
	`, topicID, forumID); err != nil {
		return fmt.Errorf("move topic posts: %w", err)
	}
	return nil
}

func (t *pgTx) SetTopicIcon(ctx context.Context, topicID int, iconID *int) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE forum_topics SET icon_id=$2 WHERE id=$1`, topicID, iconID)
	if err != nil {
		return fmt.Errorf("set topic icon: %w", err)
	}
	return nil
}

func (t *pgTx) SetTopicStatusText(ctx context.Context, topicID int, text *string) error {
	_, err := t.tx.ExecContext(ctx, `UPDATE forum_topics SET status_text=$2 WHERE id=$1`, topicID, text)
	if err != nil {
		return fmt.Errorf("set topic status text: %w", err)
	}
	return nil
}

func (t *pgTx) HideTopic(ctx context.Context, topicID, forumID int) error {
	if _, err := t.tx.ExecContext(ctx, `
		UPDATE forum_topics SET hidden=TRUE, forum_id=$2 WHERE id=$1
	`, topicID, forumID); err != nil {
		return fmt.Errorf("hide topic: %w", err)
	}
	if _, err := t.tx.ExecContext(ctx, `
		UPDATE forum_posts SET hidden=TRUE, forum_id=$2 WHERE topic_id=$1
	`, topicID, forumID); err != nil {
		return fmt.Errorf("hide topic posts: %w", err)
	}
	return nil
}

const forumPostColumns = `id, topic_id, forum_id, user_id, hidden, created_at`

func scanForumPost(row *sql.Row) (ForumPost, error) {
	var post ForumPost
	err := row.Scan(&post.ID, &post.TopicID, &post.ForumID, &post.UserID, &post.Hidden, &post.CreatedAt)
	return post, err
}

func (t *pgTx) FetchPost(ctx context.Context, postID int) (ForumPost, error) {
	return scanForumPost(t.tx.QueryRowContext(ctx,
		`SELECT `+forumPostColumns+` FROM forum_posts WHERE id=$1`, postID))
}

func (t *pgTx) FetchPreviousPost(ctx context.Context, topicID, beforePostID int) (*ForumPost, error) {
	post, err := scanForumPost(t.tx.QueryRowContext(ctx, `
		SELECT `+forumPostColumns+`
		FROM forum_posts
		WHERE topic_id=$1 AND id < $2 AND NOT hidden
		ORDER BY id DESC
		LIMIT 1
	`, topicID, beforePostID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch previous post: %w", err)
	}
	return &post, nil
}

func (t *pgTx) FetchLastBATPost(ctx context.Context, topicID int) (*ForumPost, error) {
	post, err := scanForumPost(t.tx.QueryRowContext(ctx, `
		SELECT p.id, p.topic_id, p.forum_id, p.user_id, p.hidden, p.created_at
		FROM forum_posts p
		JOIN users u ON u.id = p.user_id
		WHERE p.topic_id=$1 AND NOT p.hidden AND u.is_bat
		ORDER BY p.id DESC
		LIMIT 1
	`, topicID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch last bat post: %w", err)
	}
	return &post, nil
}

func (t *pgTx) FetchLastPostByUser(ctx context.Context, topicID, userID int) (*ForumPost, error) {
	post, err := scanForumPost(t.tx.QueryRowContext(ctx, `
		SELECT `+forumPostColumns+`
		FROM forum_posts
		WHERE topic_id=$1 AND user_id=$2 AND NOT hidden
		ORDER BY id DESC
		LIMIT 1
	`, topicID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch last post by user: %w", err)
	}
	return &post, nil
}

func (t *pgTx) ListKudosuByPost(ctx context.Context, postID int) ([]KudosuEntry, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT id, target_id, sender_id, set_id, post_id, amount, time
		FROM kudosu
		WHERE post_id=$1
		ORDER BY time
	`, postID)
	if err != nil {
		return nil, fmt.Errorf("list kudosu by post: %w", err)
	}
	defer rows.Close()
	return scanKudosuRows(rows)
}

func (t *pgTx) HasKudosuFromSender(ctx context.Context, postID, senderID int) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM kudosu WHERE post_id=$1 AND sender_id=$2)
	`, postID, senderID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check kudosu sender: %w", err)
	}
	return exists, nil
}

func (t *pgTx) SumKudosuByPost(ctx context.Context, postID int) (int, error) {
	var sum int
	err := t.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM kudosu WHERE post_id=$1
	`, postID).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum kudosu: %w", err)
	}
	return sum, nil
}

func (t *pgTx) InsertKudosu(ctx context.Context, entry KudosuEntry) (KudosuEntry, error) {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO kudosu (target_id, sender_id, set_id, post_id, amount)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, time
	`, entry.TargetID, entry.SenderID, entry.SetID, entry.PostID, entry.Amount).Scan(&entry.ID, &entry.Time)
	if err != nil {
		return KudosuEntry{}, fmt.Errorf("insert kudosu entry: %w", err)
	}
	return entry, nil
}

func (t *pgTx) DeleteKudosuEntry(ctx context.Context, entryID int64) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM kudosu WHERE id=$1`, entryID)
	if err != nil {
		return fmt.Errorf("delete kudosu entry: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteKudosuByPost(ctx context.Context, postID int) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM kudosu WHERE post_id=$1`, postID)
	if err != nil {
		return fmt.Errorf("delete kudosu by post: %w", err)
	}
	return nil
}

func (t *pgTx) DeleteKudosuBySet(ctx context.Context, setID int) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM kudosu WHERE set_id=$1`, setID)
	if err != nil {
		return fmt.Errorf("delete kudosu by set: %w", err)
	}
	return nil
}

func (t *pgTx) AdjustStarPriority(ctx context.Context, setID, delta int) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE beatmapsets
		SET star_priority=GREATEST(0, star_priority + $2)
		WHERE id=$1
	`, setID, delta)
	if err != nil {
		return fmt.Errorf("adjust star priority: %w", err)
	}
	return nil
}
