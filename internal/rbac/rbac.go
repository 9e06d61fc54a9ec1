// Package rbac maps account roles to the coarse platform actions. The
// fine-grained rule that only a statement's creator may mutate it lives in
// the service layer; this package gates what a role may do at all.
package rbac

type Role string
type Action string

const (
	RoleReader    Role = "reader"
	RoleAnnotator Role = "annotator"
	RoleAuthor    Role = "author"
	RoleAdmin     Role = "admin"
)

const (
	ActionRead     Action = "read"
	ActionAnnotate Action = "annotate"
	ActionComment  Action = "comment"
	ActionWrite    Action = "write"
	ActionPublish  Action = "publish"
	ActionAdmin    Action = "admin"
)

func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return true
	case RoleAuthor:
		return action == ActionRead || action == ActionAnnotate || action == ActionComment ||
			action == ActionWrite || action == ActionPublish
	case RoleAnnotator:
		return action == ActionRead || action == ActionAnnotate || action == ActionComment
	case RoleReader:
		return action == ActionRead
	default:
		return false
	}
}

func Normalize(role string) Role {
	switch Role(role) {
	case RoleReader, RoleAnnotator, RoleAuthor, RoleAdmin:
		return Role(role)
	default:
		return RoleReader
	}
}
