package app

import (
	"context"

	"github.com/osuTitanic/keel/internal/status"
	"github.com/osuTitanic/keel/internal/store"
)

// Forum thread captions shown under a beatmap topic title.
const (
	captionWaitingForApproval = "Waiting for approval..."
	captionNeedsModding       = "Needs modding"
	captionWaitingForCreator  = "Waiting for creator's response..."
	captionWaitingForModding  = "Waiting for further modding..."
)

// moveTopic relocates the set's forum thread to the section that
// matches its new status. Sets without a thread are left alone.
func (s *Service) moveTopic(ctx context.Context, tx store.Tx, set store.Beatmapset, target status.Status) error {
	if set.TopicID == nil {
		return nil
	}
	if err := tx.MoveTopic(ctx, *set.TopicID, target.ForumID()); err != nil {
		return storeError(err, "topic")
	}
	return nil
}

// updateTopicIcon picks the thread icon for a transition. Promotions
// show a heart (flame for Approved), demotion from a promoted status
// shows a broken heart, anything else clears the icon.
func (s *Service) updateTopicIcon(ctx context.Context, tx store.Tx, set store.Beatmapset, target, previous status.Status) error {
	if set.TopicID == nil {
		return nil
	}
	var iconID *int
	if icon, ok := status.TopicIcon(target, previous); ok {
		iconID = &icon
	}
	if err := tx.SetTopicIcon(ctx, *set.TopicID, iconID); err != nil {
		return storeError(err, "topic")
	}
	return nil
}

// updateTopicStatusText recomputes the caption under the thread title
// from the set's moderation state.
func (s *Service) updateTopicStatusText(ctx context.Context, tx store.Tx, set store.Beatmapset, current status.Status) error {
	if set.TopicID == nil {
		return nil
	}
	topicID := *set.TopicID

	if current.Promoted() || current == status.Graveyard {
		if err := tx.SetTopicStatusText(ctx, topicID, nil); err != nil {
			return storeError(err, "topic")
		}
		return nil
	}

	caption, err := s.resolveCaption(ctx, tx, set, topicID)
	if err != nil {
		return err
	}
	if err := tx.SetTopicStatusText(ctx, topicID, &caption); err != nil {
		return storeError(err, "topic")
	}
	return nil
}

func (s *Service) resolveCaption(ctx context.Context, tx store.Tx, set store.Beatmapset, topicID int) (string, error) {
	count, err := tx.CountNominations(ctx, set.ID)
	if err != nil {
		return "", storeError(err, "nominations")
	}
	if count > 0 {
		return captionWaitingForApproval, nil
	}

	lastBATPost, err := tx.FetchLastBATPost(ctx, topicID)
	if err != nil {
		return "", storeError(err, "posts")
	}
	if lastBATPost == nil {
		return captionNeedsModding, nil
	}

	lastCreatorPost, err := tx.FetchLastPostByUser(ctx, topicID, set.CreatorID)
	if err != nil {
		return "", storeError(err, "posts")
	}
	if lastCreatorPost == nil || lastBATPost.CreatedAt.After(lastCreatorPost.CreatedAt) {
		return captionWaitingForCreator, nil
	}
	return captionWaitingForModding, nil
}
