package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/osuTitanic/keel/internal/broadcast"
	"github.com/osuTitanic/keel/internal/config"
	"github.com/osuTitanic/keel/internal/metrics"
	"github.com/osuTitanic/keel/internal/rbac"
	"github.com/osuTitanic/keel/internal/status"
	"github.com/osuTitanic/keel/internal/storage"
	"github.com/osuTitanic/keel/internal/store"
)

// Actor identifies the authenticated moderator performing an
// operation. Authentication happens upstream; the service only uses
// the id for stamping, the name for messages and the role for tier
// checks.
type Actor struct {
	ID   int
	Name string
	Role rbac.Role
}

type dataStore interface {
	Ping(ctx context.Context) error
	FetchBeatmapset(ctx context.Context, setID int) (store.Beatmapset, error)
	FetchUser(ctx context.Context, userID int) (store.User, error)
	ListNominations(ctx context.Context, setID int) ([]store.Nomination, error)
	ListKudosuBySet(ctx context.Context, setID int) ([]store.KudosuEntry, error)
	InsertNotification(ctx context.Context, item store.Notification) error
	InSetTx(ctx context.Context, setID int, fn func(store.Tx) error) error
	InPostTx(ctx context.Context, postID int, fn func(store.Tx) error) error
}

type eventSink interface {
	Publish(ctx context.Context, event broadcast.Event) error
	SendWebhook(ctx context.Context, embed broadcast.Embed) error
}

type assetStore interface {
	RemoveSet(ctx context.Context, setID int) error
	RemoveBeatmap(ctx context.Context, beatmapID int) error
}

type Service struct {
	cfg    config.Config
	store  dataStore
	events eventSink
	assets assetStore
	logger *slog.Logger
}

func New(cfg config.Config, dataStore *store.PostgresStore, events *broadcast.Broadcaster, assets *storage.AssetStore, logger *slog.Logger) *Service {
	service := &Service{
		cfg:    cfg,
		store:  dataStore,
		logger: logger,
	}
	if service.logger == nil {
		service.logger = slog.Default()
	}
	if events != nil {
		service.events = events
	}
	if assets != nil {
		service.assets = assets
	}
	return service
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// RequiredNominations is the promotion quorum for a set: two base
// approvals plus one more for every additional game mode it covers.
func RequiredNominations(set store.Beatmapset) int {
	modes := make(map[int]struct{})
	for _, beatmap := range set.Beatmaps {
		modes[beatmap.Mode] = struct{}{}
	}
	additional := len(modes) - 1
	if additional < 0 {
		additional = 0
	}
	return 2 + additional
}

func (s *Service) checkNominations(ctx context.Context, tx store.Tx, set store.Beatmapset) error {
	count, err := tx.CountNominations(ctx, set.ID)
	if err != nil {
		return storeError(err, "nominations")
	}
	required := RequiredNominations(set)
	if count < required {
		return errInsufficientNominations(required, count)
	}
	return nil
}

// SetStatus moves a whole set to the requested status. Only Pending,
// Approved, Qualified and Loved are settable through this entry point;
// Ranked is reached per-beatmap through SetBeatmapStatuses.
func (s *Service) SetStatus(ctx context.Context, setID int, target status.Status, actor Actor) (store.Beatmapset, error) {
	if !status.Valid(target) {
		return store.Beatmapset{}, errInvalidStatus()
	}
	if !rbac.Can(actor.Role, rbac.ActionUpdateStatus) {
		return store.Beatmapset{}, errForbidden("You do not have permission to update beatmap statuses.")
	}
	switch target {
	case status.Pending, status.Approved, status.Qualified, status.Loved:
	default:
		return store.Beatmapset{}, errInvalidStatus()
	}
	if target == status.Approved && !rbac.Can(actor.Role, rbac.ActionForceApprove) {
		return store.Beatmapset{}, errForbidden("You do not have permission to force approve beatmaps.")
	}
	if target == status.Loved && !rbac.Can(actor.Role, rbac.ActionLove) {
		return store.Beatmapset{}, errForbidden("You do not have permission to love beatmaps.")
	}

	var (
		result     store.Beatmapset
		previous   status.Status
		noop       bool
		nominators []int
	)
	err := s.store.InSetTx(ctx, setID, func(tx store.Tx) error {
		set, err := tx.FetchBeatmapsetForUpdate(ctx, setID)
		if err != nil {
			return storeError(err, "The requested beatmapset could not be found")
		}
		previous = status.Status(set.Status)
		if previous == target {
			// A concurrent transition may already have applied this
			// status; the loser of that race lands here.
			result = set
			noop = true
			return nil
		}

		switch target {
		case status.Pending:
			nominators, err = s.handlePending(ctx, tx, set)
		case status.Approved, status.Qualified:
			err = s.handlePromotion(ctx, tx, set, target, actor, false)
		case status.Loved:
			err = s.handlePromotion(ctx, tx, set, status.Loved, actor, true)
		}
		if err != nil {
			return err
		}

		result, err = tx.FetchBeatmapsetForUpdate(ctx, setID)
		if err != nil {
			return storeError(err, "beatmapset")
		}
		return nil
	})
	if err != nil {
		return store.Beatmapset{}, err
	}
	if noop {
		return result, nil
	}

	s.afterTransition(ctx, result, previous, actor, nominators)
	return result, nil
}

// handlePending demotes a set back to Pending. When the set was
// promoted this is a disqualification: the nomination ledger starts
// over from zero and every dependent leaderboard entry goes away.
// Returns the nominators to notify once the transaction commits.
func (s *Service) handlePending(ctx context.Context, tx store.Tx, set store.Beatmapset) ([]int, error) {
	previous := status.Status(set.Status)

	var nominators []int
	if previous.Promoted() {
		entries, err := tx.ListNominations(ctx, set.ID)
		if err != nil {
			return nil, storeError(err, "nominations")
		}
		for _, nomination := range entries {
			nominators = append(nominators, nomination.UserID)
		}

		if err := tx.DeleteNominations(ctx, set.ID); err != nil {
			return nil, storeError(err, "nominations")
		}
		for _, beatmap := range set.Beatmaps {
			if err := tx.DeleteScoresByBeatmap(ctx, beatmap.ID); err != nil {
				return nil, storeError(err, "scores")
			}
		}
	}

	if err := s.updateTopicIcon(ctx, tx, set, status.Pending, previous); err != nil {
		return nil, err
	}
	if err := tx.UpdateBeatmapsetStatus(ctx, set.ID, int(status.Pending), nil, nil); err != nil {
		return nil, storeError(err, "beatmapset")
	}
	if err := tx.UpdateBeatmapStatusesBySet(ctx, set.ID, int(status.Pending)); err != nil {
		return nil, storeError(err, "beatmaps")
	}
	if err := s.moveTopic(ctx, tx, set, status.Pending); err != nil {
		return nil, err
	}
	if err := s.updateTopicStatusText(ctx, tx, set, status.Pending); err != nil {
		return nil, err
	}
	return nominators, nil
}

func (s *Service) handlePromotion(ctx context.Context, tx store.Tx, set store.Beatmapset, target status.Status, actor Actor, skipQuorum bool) error {
	if !skipQuorum {
		if err := s.checkNominations(ctx, tx, set); err != nil {
			return err
		}
	}

	previous := status.Status(set.Status)
	if err := s.updateTopicIcon(ctx, tx, set, target, previous); err != nil {
		return err
	}

	now := time.Now()
	approvedBy := actor.ID
	if err := tx.UpdateBeatmapsetStatus(ctx, set.ID, int(target), &now, &approvedBy); err != nil {
		return storeError(err, "beatmapset")
	}
	if err := tx.UpdateBeatmapStatusesBySet(ctx, set.ID, int(target)); err != nil {
		return storeError(err, "beatmaps")
	}
	if err := s.moveTopic(ctx, tx, set, target); err != nil {
		return err
	}
	return s.updateTopicStatusText(ctx, tx, set, target)
}

// SetBeatmapStatuses finalizes individual difficulties. The aggregate
// set status becomes the highest requested status, pinned by the
// Ranked > Approved > Qualified precedence gates.
func (s *Service) SetBeatmapStatuses(ctx context.Context, setID int, updates map[int]status.Status, actor Actor) (store.Beatmapset, error) {
	if !rbac.Can(actor.Role, rbac.ActionUpdateStatus) {
		return store.Beatmapset{}, errForbidden("You do not have permission to update beatmap statuses.")
	}

	var (
		result   store.Beatmapset
		previous status.Status
		noop     bool
	)
	err := s.store.InSetTx(ctx, setID, func(tx store.Tx) error {
		set, err := tx.FetchBeatmapsetForUpdate(ctx, setID)
		if err != nil {
			return storeError(err, "The requested beatmapset could not be found")
		}
		previous = status.Status(set.Status)

		current := make(map[int]int, len(set.Beatmaps))
		for _, beatmap := range set.Beatmaps {
			current[beatmap.ID] = beatmap.Status
		}

		filtered := make(map[int]status.Status)
		for beatmapID, requested := range updates {
			if requested == status.Deleted {
				continue
			}
			if !status.Valid(requested) {
				return errInvalidStatus()
			}
			currentStatus, ok := current[beatmapID]
			if !ok {
				return errNotFound("The requested beatmap could not be found")
			}
			if currentStatus == int(requested) {
				continue
			}
			filtered[beatmapID] = requested
		}
		if len(filtered) == 0 {
			result = set
			noop = true
			return nil
		}

		candidate := status.Inactive
		containsRanked := false
		containsApproved := false
		containsQualified := false
		for _, requested := range filtered {
			if requested > candidate {
				candidate = requested
			}
			switch requested {
			case status.Ranked:
				containsRanked = true
			case status.Approved:
				containsApproved = true
			case status.Qualified:
				containsQualified = true
			}
		}

		if containsRanked {
			if previous != status.Ranked && previous != status.Approved {
				return errNotYetQualified()
			}
			candidate = status.Ranked
		}
		if containsApproved {
			if err := s.checkNominations(ctx, tx, set); err != nil {
				return err
			}
			candidate = status.Approved
		} else if containsQualified {
			if err := s.checkNominations(ctx, tx, set); err != nil {
				return err
			}
			candidate = status.Qualified
		}

		for beatmapID := range filtered {
			if err := tx.UpdateBeatmapStatus(ctx, beatmapID, int(candidate)); err != nil {
				return storeError(err, "The requested beatmap could not be found")
			}
		}

		var approvedAt *time.Time
		var approvedBy *int
		if candidate.Promoted() {
			now := time.Now()
			approvedAt = &now
			approvedBy = &actor.ID
		}
		if err := tx.UpdateBeatmapsetStatus(ctx, set.ID, int(candidate), approvedAt, approvedBy); err != nil {
			return storeError(err, "beatmapset")
		}

		if err := s.moveTopic(ctx, tx, set, candidate); err != nil {
			return err
		}
		if err := s.updateTopicIcon(ctx, tx, set, candidate, previous); err != nil {
			return err
		}
		if err := s.updateTopicStatusText(ctx, tx, set, candidate); err != nil {
			return err
		}

		result, err = tx.FetchBeatmapsetForUpdate(ctx, setID)
		if err != nil {
			return storeError(err, "beatmapset")
		}
		return nil
	})
	if err != nil {
		return store.Beatmapset{}, err
	}
	if noop {
		return result, nil
	}

	s.afterTransition(ctx, result, previous, actor, nil)
	return result, nil
}

// afterTransition runs the best-effort side effects of a committed
// transition: audit broadcast, nominator notifications, metrics.
// Failures here are logged and never undo the transition.
func (s *Service) afterTransition(ctx context.Context, set store.Beatmapset, previous status.Status, actor Actor, nominators []int) {
	resulting := status.Status(set.Status)
	metrics.StatusTransitions.WithLabelValues(resulting.String()).Inc()

	s.logger.InfoContext(ctx, "beatmapset status updated",
		"set_id", set.ID,
		"set_name", set.FullName(),
		"previous", previous.String(),
		"status", resulting.String(),
		"actor", actor.Name,
	)

	s.publish(ctx, broadcast.Event{
		Type:           broadcast.EventStatusUpdate,
		UserID:         actor.ID,
		Username:       actor.Name,
		BeatmapsetID:   set.ID,
		BeatmapsetName: set.FullName(),
		Status:         set.Status,
		Beatmaps:       beatmapStatusMap(set),
	})

	if previous.Promoted() && resulting == status.Pending {
		s.notifyNominators(ctx, set, actor, nominators,
			"Beatmap was disqualified",
			fmt.Sprintf("The beatmap \"%s\" was disqualified by %s.", set.FullName(), actor.Name))
	}
}

func (s *Service) notifyNominators(ctx context.Context, set store.Beatmapset, actor Actor, nominators []int, header, content string) {
	for _, userID := range nominators {
		if userID == actor.ID {
			continue
		}
		err := s.store.InsertNotification(ctx, store.Notification{
			UserID:  userID,
			Type:    store.NotificationBeatmaps,
			Header:  header,
			Content: content,
			Link:    fmt.Sprintf("http://%s/s/%d", s.cfg.DomainName, set.ID),
		})
		if err != nil {
			s.logger.WarnContext(ctx, "failed to notify nominator",
				"user_id", userID, "set_id", set.ID, "error", err)
		}
	}
}

func (s *Service) publish(ctx context.Context, event broadcast.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "failed to publish audit event",
			"type", event.Type, "set_id", event.BeatmapsetID, "error", err)
	}
}

func (s *Service) sendWebhook(ctx context.Context, embed broadcast.Embed) {
	if s.events == nil {
		return
	}
	if err := s.events.SendWebhook(ctx, embed); err != nil {
		s.logger.WarnContext(ctx, "failed to deliver webhook", "error", err)
	}
}

func beatmapStatusMap(set store.Beatmapset) map[string]int {
	statuses := make(map[string]int, len(set.Beatmaps))
	for _, beatmap := range set.Beatmaps {
		statuses[beatmap.Version] = beatmap.Status
	}
	return statuses
}

// Nominate records one reviewer sign-off toward the promotion quorum.
func (s *Service) Nominate(ctx context.Context, setID int, actor Actor) (store.Nomination, error) {
	if !rbac.Can(actor.Role, rbac.ActionNominate) {
		return store.Nomination{}, errForbidden("You do not have permission to nominate beatmaps.")
	}

	var nomination store.Nomination
	err := s.store.InSetTx(ctx, setID, func(tx store.Tx) error {
		set, err := tx.FetchBeatmapsetForUpdate(ctx, setID)
		if err != nil {
			return storeError(err, "The requested beatmapset could not be found")
		}
		if status.Status(set.Status).Promoted() {
			return domainError(400, "INVALID_STATUS", "This beatmap has already been approved.", nil)
		}

		nomination, err = tx.InsertNomination(ctx, set.ID, actor.ID)
		if err == store.ErrDuplicateNomination {
			return domainError(400, "ALREADY_NOMINATED", "You have already nominated this beatmap.", nil)
		}
		if err != nil {
			return storeError(err, "nomination")
		}
		return s.updateTopicStatusText(ctx, tx, set, status.Status(set.Status))
	})
	if err != nil {
		return store.Nomination{}, err
	}

	metrics.Nominations.WithLabelValues("add").Inc()
	s.announceNomination(ctx, setID, actor, broadcast.EventNomination,
		fmt.Sprintf("%s nominated a Beatmap", actor.Name), broadcast.ColorNomination)
	return nomination, nil
}

// ResetNominations clears the whole ledger for a set without touching
// its status, used when a set needs to start quorum again from zero.
func (s *Service) ResetNominations(ctx context.Context, setID int, actor Actor) error {
	if !rbac.Can(actor.Role, rbac.ActionNominate) {
		return errForbidden("You do not have permission to reset nominations.")
	}

	err := s.store.InSetTx(ctx, setID, func(tx store.Tx) error {
		set, err := tx.FetchBeatmapsetForUpdate(ctx, setID)
		if err != nil {
			return storeError(err, "The requested beatmapset could not be found")
		}
		if err := tx.DeleteNominations(ctx, set.ID); err != nil {
			return storeError(err, "nominations")
		}
		return s.updateTopicStatusText(ctx, tx, set, status.Status(set.Status))
	})
	if err != nil {
		return err
	}

	metrics.Nominations.WithLabelValues("reset").Inc()
	s.announceNomination(ctx, setID, actor, broadcast.EventNominationReset,
		fmt.Sprintf("%s reset all nominations", actor.Name), broadcast.ColorReset)
	return nil
}

func (s *Service) announceNomination(ctx context.Context, setID int, actor Actor, eventType, authorText string, color int) {
	set, err := s.store.FetchBeatmapset(ctx, setID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to load set for announcement", "set_id", setID, "error", err)
		return
	}
	s.publish(ctx, broadcast.Event{
		Type:           eventType,
		UserID:         actor.ID,
		Username:       actor.Name,
		BeatmapsetID:   set.ID,
		BeatmapsetName: set.FullName(),
		Status:         set.Status,
	})
	embed := broadcast.BeatmapsetEmbed(s.cfg.DomainName, set.FullName(), set.ID, authorText, actor.ID, color)
	s.sendWebhook(ctx, embed)
}

// GetBeatmapset loads a set with its difficulties.
func (s *Service) GetBeatmapset(ctx context.Context, setID int) (store.Beatmapset, error) {
	set, err := s.store.FetchBeatmapset(ctx, setID)
	if err != nil {
		return store.Beatmapset{}, storeError(err, "The requested beatmapset could not be found")
	}
	return set, nil
}

// ListNominations returns the ledger for a set.
func (s *Service) ListNominations(ctx context.Context, setID int) ([]store.Nomination, error) {
	if _, err := s.store.FetchBeatmapset(ctx, setID); err != nil {
		return nil, storeError(err, "The requested beatmapset could not be found")
	}
	items, err := s.store.ListNominations(ctx, setID)
	if err != nil {
		return nil, storeError(err, "nominations")
	}
	return items, nil
}

// ListKudosu returns every kudosu exchange recorded for a set.
func (s *Service) ListKudosu(ctx context.Context, setID int) ([]store.KudosuEntry, error) {
	if _, err := s.store.FetchBeatmapset(ctx, setID); err != nil {
		return nil, storeError(err, "The requested beatmapset could not be found")
	}
	items, err := s.store.ListKudosuBySet(ctx, setID)
	if err != nil {
		return nil, storeError(err, "kudosu")
	}
	return items, nil
}

// Nuke is the terminal destructive transition: the set and its
// difficulties become Inactive, the topic is buried, kudosu history is
// erased and every stored binary asset is deleted. Only sets that were
// never promoted can be nuked.
func (s *Service) Nuke(ctx context.Context, setID int, actor Actor) (store.Beatmapset, error) {
	if !rbac.Can(actor.Role, rbac.ActionNuke) {
		return store.Beatmapset{}, errForbidden("You do not have permission to nuke beatmaps.")
	}

	var result store.Beatmapset
	err := s.store.InSetTx(ctx, setID, func(tx store.Tx) error {
		set, err := tx.FetchBeatmapsetForUpdate(ctx, setID)
		if err != nil {
			return storeError(err, "The requested beatmapset could not be found")
		}
		if set.TopicID == nil {
			return errNotFound("This beatmap does not have a forum topic")
		}
		if status.Status(set.Status).Promoted() {
			return domainError(400, "INVALID_STATUS", "This beatmap has been approved and cannot be nuked.", nil)
		}

		topic, err := tx.FetchTopic(ctx, *set.TopicID)
		if err != nil {
			return storeError(err, "The forum topic for this beatmap could not be found")
		}

		icon := status.IconNuked
		if err := tx.SetTopicIcon(ctx, topic.ID, &icon); err != nil {
			return storeError(err, "topic")
		}
		if err := tx.SetTopicStatusText(ctx, topic.ID, nil); err != nil {
			return storeError(err, "topic")
		}
		if err := tx.HideTopic(ctx, topic.ID, status.ForumGraveyard); err != nil {
			return storeError(err, "topic")
		}

		if err := tx.UpdateBeatmapsetStatus(ctx, set.ID, int(status.Inactive), nil, nil); err != nil {
			return storeError(err, "beatmapset")
		}
		if err := tx.UpdateBeatmapStatusesBySet(ctx, set.ID, int(status.Inactive)); err != nil {
			return storeError(err, "beatmaps")
		}
		if err := tx.DeleteKudosuBySet(ctx, set.ID); err != nil {
			return storeError(err, "kudosu")
		}

		result, err = tx.FetchBeatmapsetForUpdate(ctx, setID)
		if err != nil {
			return storeError(err, "beatmapset")
		}
		return nil
	})
	if err != nil {
		return store.Beatmapset{}, err
	}

	s.removeAssets(ctx, result)
	metrics.StatusTransitions.WithLabelValues(status.Inactive.String()).Inc()

	s.logger.InfoContext(ctx, "beatmapset nuked",
		"set_id", result.ID, "set_name", result.FullName(), "actor", actor.Name)

	s.publish(ctx, broadcast.Event{
		Type:           broadcast.EventNuked,
		UserID:         actor.ID,
		Username:       actor.Name,
		BeatmapsetID:   result.ID,
		BeatmapsetName: result.FullName(),
		Status:         result.Status,
		Beatmaps:       beatmapStatusMap(result),
	})
	embed := broadcast.BeatmapsetEmbed(s.cfg.DomainName, result.FullName(), result.ID,
		fmt.Sprintf("%s nuked a Beatmap", actor.Name), actor.ID, broadcast.ColorNuke)
	s.sendWebhook(ctx, embed)

	return result, nil
}

func (s *Service) removeAssets(ctx context.Context, set store.Beatmapset) {
	if s.assets == nil {
		return
	}
	if err := s.assets.RemoveSet(ctx, set.ID); err != nil {
		s.logger.WarnContext(ctx, "failed to remove set assets", "set_id", set.ID, "error", err)
	}
	for _, beatmap := range set.Beatmaps {
		if err := s.assets.RemoveBeatmap(ctx, beatmap.ID); err != nil {
			s.logger.WarnContext(ctx, "failed to remove beatmap file", "beatmap_id", beatmap.ID, "error", err)
		}
	}
}
