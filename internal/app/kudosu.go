package app

import (
	"context"
	"time"

	"github.com/osuTitanic/keel/internal/metrics"
	"github.com/osuTitanic/keel/internal/rbac"
	"github.com/osuTitanic/keel/internal/store"
)

// kudosuRewardWindow is the modding cadence cutoff: a post made within
// this gap of the previous thread post earns 1 kudosu, a slower one
// earns 2.
const kudosuRewardWindow = 7 * 24 * time.Hour

// fetchSetPost loads the set and the post, verifying the post actually
// belongs to the set's discussion thread.
func (s *Service) fetchSetPost(ctx context.Context, tx store.Tx, setID, postID int) (store.Beatmapset, store.ForumPost, error) {
	set, err := tx.FetchBeatmapsetForUpdate(ctx, setID)
	if err != nil {
		return store.Beatmapset{}, store.ForumPost{}, storeError(err, "The requested beatmapset could not be found")
	}
	post, err := tx.FetchPost(ctx, postID)
	if err != nil {
		return store.Beatmapset{}, store.ForumPost{}, storeError(err, "The requested post could not be found")
	}
	if set.TopicID == nil || post.TopicID != *set.TopicID {
		return store.Beatmapset{}, store.ForumPost{}, errNotFound("The requested post could not be found")
	}
	return set, post, nil
}

// RewardKudosu grants the author of a discussion post 1 or 2 kudosu,
// depending on how quickly the post followed the previous one in the
// thread, and raises the set's star priority by the same amount.
func (s *Service) RewardKudosu(ctx context.Context, setID, postID int, actor Actor) (store.KudosuEntry, error) {
	if !rbac.Can(actor.Role, rbac.ActionModerateKudosu) {
		return store.KudosuEntry{}, errForbidden("You do not have permission to reward kudosu.")
	}

	var entry store.KudosuEntry
	err := s.store.InPostTx(ctx, postID, func(tx store.Tx) error {
		set, post, err := s.fetchSetPost(ctx, tx, setID, postID)
		if err != nil {
			return err
		}

		if actor.ID == post.UserID || actor.ID == set.CreatorID || post.UserID == set.CreatorID {
			return errSelfReward()
		}

		rewarded, err := tx.HasKudosuFromSender(ctx, postID, actor.ID)
		if err != nil {
			return storeError(err, "kudosu")
		}
		if rewarded {
			return errAlreadyRewarded()
		}

		previous, err := tx.FetchPreviousPost(ctx, post.TopicID, post.ID)
		if err != nil {
			return storeError(err, "posts")
		}
		if previous == nil {
			return errNoPriorPost()
		}

		amount := 2
		if post.CreatedAt.Sub(previous.CreatedAt) < kudosuRewardWindow {
			amount = 1
		}

		entry, err = tx.InsertKudosu(ctx, store.KudosuEntry{
			TargetID: post.UserID,
			SenderID: actor.ID,
			SetID:    set.ID,
			PostID:   post.ID,
			Amount:   amount,
		})
		if err != nil {
			return storeError(err, "kudosu")
		}
		return adjustPriority(ctx, tx, set.ID, amount)
	})
	if err != nil {
		return store.KudosuEntry{}, err
	}

	metrics.KudosuExchanges.WithLabelValues("reward").Inc()
	s.logger.InfoContext(ctx, "kudosu rewarded",
		"post_id", postID, "set_id", setID, "target_id", entry.TargetID,
		"sender_id", actor.ID, "amount", entry.Amount)
	return entry, nil
}

// RevokeKudosu denies kudosu for a post, driving its signed sum to -1
// or below. A reward previously sent by the set's creator is deleted
// outright rather than offset.
func (s *Service) RevokeKudosu(ctx context.Context, setID, postID int, actor Actor) (store.KudosuEntry, error) {
	if !rbac.Can(actor.Role, rbac.ActionModerateKudosu) {
		return store.KudosuEntry{}, errForbidden("You do not have permission to revoke kudosu.")
	}

	var entry store.KudosuEntry
	err := s.store.InPostTx(ctx, postID, func(tx store.Tx) error {
		set, post, err := s.fetchSetPost(ctx, tx, setID, postID)
		if err != nil {
			return err
		}

		sum, err := tx.SumKudosuByPost(ctx, post.ID)
		if err != nil {
			return storeError(err, "kudosu")
		}
		if sum < 0 {
			return errAlreadyRevoked()
		}

		entries, err := tx.ListKudosuByPost(ctx, post.ID)
		if err != nil {
			return storeError(err, "kudosu")
		}
		for _, existing := range entries {
			if existing.SenderID != set.CreatorID || existing.Amount <= 0 {
				continue
			}
			if err := tx.DeleteKudosuEntry(ctx, existing.ID); err != nil {
				return storeError(err, "kudosu")
			}
			if err := adjustPriority(ctx, tx, set.ID, -existing.Amount); err != nil {
				return err
			}
			sum -= existing.Amount
		}

		amount := -1
		if -sum < amount {
			amount = -sum
		}

		entry, err = tx.InsertKudosu(ctx, store.KudosuEntry{
			TargetID: post.UserID,
			SenderID: actor.ID,
			SetID:    set.ID,
			PostID:   post.ID,
			Amount:   amount,
		})
		if err != nil {
			return storeError(err, "kudosu")
		}
		return adjustPriority(ctx, tx, set.ID, amount)
	})
	if err != nil {
		return store.KudosuEntry{}, err
	}

	metrics.KudosuExchanges.WithLabelValues("revoke").Inc()
	s.logger.InfoContext(ctx, "kudosu revoked",
		"post_id", postID, "set_id", setID, "sender_id", actor.ID, "amount", entry.Amount)
	return entry, nil
}

// ResetKudosu wipes every ledger entry for a post and reverses their
// combined effect on the set's star priority.
func (s *Service) ResetKudosu(ctx context.Context, setID, postID int, actor Actor) error {
	if !rbac.Can(actor.Role, rbac.ActionModerateKudosu) {
		return errForbidden("You do not have permission to reset kudosu.")
	}

	err := s.store.InPostTx(ctx, postID, func(tx store.Tx) error {
		set, post, err := s.fetchSetPost(ctx, tx, setID, postID)
		if err != nil {
			return err
		}

		sum, err := tx.SumKudosuByPost(ctx, post.ID)
		if err != nil {
			return storeError(err, "kudosu")
		}
		entries, err := tx.ListKudosuByPost(ctx, post.ID)
		if err != nil {
			return storeError(err, "kudosu")
		}
		if len(entries) == 0 {
			return errNoEntries()
		}

		if err := tx.DeleteKudosuByPost(ctx, post.ID); err != nil {
			return storeError(err, "kudosu")
		}
		return adjustPriority(ctx, tx, set.ID, -sum)
	})
	if err != nil {
		return err
	}

	metrics.KudosuExchanges.WithLabelValues("reset").Inc()
	s.logger.InfoContext(ctx, "kudosu reset", "post_id", postID, "set_id", setID, "actor", actor.Name)
	return nil
}

func adjustPriority(ctx context.Context, tx store.Tx, setID, delta int) error {
	if err := tx.AdjustStarPriority(ctx, setID, delta); err != nil {
		return storeError(err, "beatmapset")
	}
	return nil
}
