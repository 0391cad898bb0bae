package core

import (
	"path/filepath"
	"strings"
)

// RepoIdentity names a GitHub repository. FullName is the lowercased
// owner/repo key used for lookups.
type RepoIdentity struct {
	Owner    string
	Repo     string
	FullName string
}

func NewRepoIdentity(owner, repo string) RepoIdentity {
	owner = strings.TrimSpace(owner)
	repo = strings.TrimSpace(repo)
	return RepoIdentity{
		Owner:    owner,
		Repo:     repo,
		FullName: strings.ToLower(owner + "/" + repo),
	}
}

func (r RepoIdentity) String() string {
	return r.FullName
}

// RelPath is the sanitized owner/repo path fragment shared by checkouts
// and worktrees.
func (r RepoIdentity) RelPath() string {
	return filepath.Join(SanitizeSegment(r.Owner), SanitizeSegment(r.Repo))
}

// SanitizeSegment lowercases s and replaces every character outside
// [a-z0-9._-] with an underscore.
func SanitizeSegment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
