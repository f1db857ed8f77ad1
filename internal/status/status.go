// Package status defines the beatmapset status enum and the pure
// derivations that depend only on it (forum sections, topic icons).
package status

// Status is the lifecycle state of a beatmapset or a single beatmap.
//
// The ordinals are part of the wire and database format and every
// promotion comparison depends on them. Ranked deliberately precedes
// Approved and Qualified in this scheme.
type Status int

const (
	Inactive  Status = -3
	Graveyard Status = -2
	WIP       Status = -1
	Pending   Status = 0
	Ranked    Status = 1
	Approved  Status = 2
	Qualified Status = 3
	Loved     Status = 4
)

// Deleted is the per-beatmap sentinel used in bulk status updates.
// Entries carrying it are dropped before any aggregation happens.
const Deleted Status = -3

// Forum topic icons, matching the forum's icon table.
const (
	IconHeart       = 1
	IconBrokenHeart = 2
	IconFlame       = 5
	IconNuked       = 7
)

// Forum sections for beatmap topics.
const (
	ForumRanked    = 8
	ForumPending   = 9
	ForumWIP       = 10
	ForumGraveyard = 12
)

func Valid(s Status) bool {
	return s >= Inactive && s <= Loved
}

// Promoted reports whether s is past the pending gate.
func (s Status) Promoted() bool {
	return s > Pending
}

func (s Status) String() string {
	switch s {
	case Inactive:
		return "Inactive"
	case Graveyard:
		return "Graveyard"
	case WIP:
		return "WIP"
	case Pending:
		return "Pending"
	case Ranked:
		return "Ranked"
	case Approved:
		return "Approved"
	case Qualified:
		return "Qualified"
	case Loved:
		return "Loved"
	default:
		return "Unknown"
	}
}

// ForumID returns the forum section a beatmap topic belongs to while
// the set carries this status.
func (s Status) ForumID() int {
	switch s {
	case Approved, Qualified, Ranked, Loved:
		return ForumRanked
	case WIP:
		return ForumWIP
	case Graveyard:
		return ForumGraveyard
	default:
		return ForumPending
	}
}

// TopicIcon derives the topic icon for a transition into current,
// coming from previous. The second return is false when the topic
// should carry no icon at all.
func TopicIcon(current, previous Status) (int, bool) {
	switch current {
	case Ranked, Qualified, Loved:
		return IconHeart, true
	case Approved:
		return IconFlame, true
	}

	switch previous {
	case Qualified, Approved, Ranked, Loved:
		// Fell out of a ranked-equivalent state.
		return IconBrokenHeart, true
	}

	return 0, false
}
