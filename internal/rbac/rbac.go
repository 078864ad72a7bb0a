package rbac

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleCommenter Role = "commenter"
	RoleEditor    Role = "editor"
	RoleOwner     Role = "owner"
)

const (
	ActionEdit              Action = "edit"
	ActionComment           Action = "comment"
	ActionResolveComment    Action = "resolveComment"
	ActionPublish           Action = "publish"
	ActionInviteParticipant Action = "inviteParticipant"
	ActionChangeRole        Action = "changeRole"
	ActionDeleteSession     Action = "deleteSession"
	ActionLeave             Action = "leave"
)

// Can reports whether a role may perform an action. Non-participants hold no
// role and are denied everything; callers resolve the role before asking.
func Can(role Role, action Action) bool {
	switch role {
	case RoleOwner:
		return true
	case RoleEditor:
		return action == ActionEdit || action == ActionComment || action == ActionResolveComment || action == ActionLeave
	case RoleCommenter:
		return action == ActionComment || action == ActionLeave
	case RoleViewer:
		return action == ActionLeave
	default:
		return false
	}
}

// Normalize maps arbitrary input to a known role, defaulting to viewer.
// Owner is never assignable through normalization; it belongs to the session
// creator only.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleCommenter, RoleEditor:
		return Role(role)
	default:
		return RoleViewer
	}
}
