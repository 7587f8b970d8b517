package userfile

import "strings"

// Actions a permission can grant.
const (
	ActionPull   = "pull"
	ActionPush   = "push"
	ActionDelete = "delete"
)

// Glob reports whether value matches pattern. A lone "*" matches
// everything, a pattern without wildcards must match exactly, and a
// pattern containing a single "*" matches any value carrying its prefix
// and suffix. Patterns with more than one "*" match nothing.
func Glob(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	if pattern == value {
		return true
	}
	if strings.Count(pattern, "*") == 1 {
		prefix, suffix, _ := strings.Cut(pattern, "*")
		return strings.HasPrefix(value, prefix) && strings.HasSuffix(value, suffix)
	}
	return false
}

// Allowed reports whether u may perform action on the given repository
// and tag. An empty tag means the request is not tag-scoped and only the
// repository pattern applies. Grants are checked in insertion order; a
// user without permissions is denied everything.
func Allowed(u User, repository, tag, action string) bool {
	for _, p := range u.Permissions {
		if !Glob(p.Repository, repository) {
			continue
		}
		if tag != "" && !Glob(p.Tag, tag) {
			continue
		}
		for _, a := range p.Actions {
			if a == action {
				return true
			}
		}
	}
	return false
}
