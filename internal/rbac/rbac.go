// Package rbac defines the roles a share grant can resolve to and what
// each role may do with a shared roadmap.
package rbac

type Role string
type Action string

const (
	RoleViewer    Role = "viewer"
	RoleCommenter Role = "commenter"
	RoleEditor    Role = "editor"
)

const (
	ActionRead    Action = "read"
	ActionComment Action = "comment"
	ActionWrite   Action = "write"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleEditor:
		return action == ActionRead || action == ActionComment || action == ActionWrite
	case RoleCommenter:
		return action == ActionRead || action == ActionComment
	case RoleViewer:
		return action == ActionRead
	default:
		return false
	}
}

// Normalize maps arbitrary input to a known role, defaulting to viewer.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleCommenter, RoleEditor:
		return Role(role)
	default:
		return RoleViewer
	}
}

// Valid reports whether role names one of the share roles exactly.
func Valid(role string) bool {
	switch Role(role) {
	case RoleViewer, RoleCommenter, RoleEditor:
		return true
	default:
		return false
	}
}
