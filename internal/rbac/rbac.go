// Package rbac maps caller privilege tiers to the moderation actions
// they may perform. Authentication itself happens upstream; this
// package only answers "may this tier do that".
package rbac

type Role string
type Action string

const (
	RoleUser      Role = "user"
	RoleBAT       Role = "bat"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

const (
	ActionUpdateStatus   Action = "beatmaps.update_status"
	ActionForceApprove   Action = "beatmaps.force_approved"
	ActionLove           Action = "beatmaps.love"
	ActionNominate       Action = "beatmaps.nominate"
	ActionNuke           Action = "beatmaps.nuke"
	ActionModerateKudosu Action = "beatmaps.kudosu.moderate"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleModerator:
		return true
	case RoleBAT:
		return action == ActionUpdateStatus ||
			action == ActionNominate ||
			action == ActionNuke ||
			action == ActionModerateKudosu
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleUser, RoleBAT, RoleModerator, RoleAdmin:
		return Role(role)
	default:
		return RoleUser
	}
}
