package repo

import (
	"errors"
	"net/url"
	"regexp"
	"strings"

	"github.com/DigitumDei/Actuarius/internal/core"
)

var ErrInvalidReference = errors.New("repository must be owner/name or a https://github.com URL")

var shortRef = regexp.MustCompile(`^([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+)$`)

// ParseReference accepts owner/name or a github.com URL, with or
// without a .git suffix and trailing slashes. Owner and Repo keep their
// case; FullName is lowercased.
func ParseReference(input string) (core.RepoIdentity, error) {
	token := cleanToken(input)
	if token == "" {
		return core.RepoIdentity{}, ErrInvalidReference
	}

	if strings.HasPrefix(token, "https://") || strings.HasPrefix(token, "http://") {
		u, err := url.Parse(token)
		if err != nil || u.Hostname() != "github.com" {
			return core.RepoIdentity{}, ErrInvalidReference
		}
		var parts []string
		for _, p := range strings.Split(u.Path, "/") {
			if p != "" {
				parts = append(parts, p)
			}
		}
		if len(parts) < 2 {
			return core.RepoIdentity{}, ErrInvalidReference
		}
		token = parts[0] + "/" + cleanToken(parts[1])
	}

	m := shortRef.FindStringSubmatch(token)
	if m == nil {
		return core.RepoIdentity{}, ErrInvalidReference
	}
	return core.NewRepoIdentity(m[1], m[2]), nil
}

func cleanToken(s string) string {
	s = strings.TrimRight(strings.TrimSpace(s), "/")
	s = strings.TrimSuffix(s, ".git")
	return strings.TrimRight(s, "/")
}
