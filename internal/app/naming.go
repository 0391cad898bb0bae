package app

import (
	"crypto/sha1"
	"encoding/hex"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxNameLength = 100

var (
	nameInvalid = regexp.MustCompile(`[^a-z0-9-]`)
	nameDashes  = regexp.MustCompile(`-+`)
)

func sanitizeToken(raw string) string {
	s := nameInvalid.ReplaceAllString(strings.ToLower(raw), "-")
	s = strings.Trim(nameDashes.ReplaceAllString(s, "-"), "-")
	if s == "" {
		return "x"
	}
	return s
}

// RepoChannelName names the channel of a connected repository. A short
// hash of owner/repo is appended when the plain name is taken.
func RepoChannelName(owner, repo string, existing map[string]bool) string {
	base := truncate(sanitizeToken("repo-"+owner+"-"+repo), 95)
	if !existing[base] {
		return base
	}
	sum := sha1.Sum([]byte(owner + "/" + repo))
	hash := hex.EncodeToString(sum[:])[:6]
	return truncate(base, maxNameLength-len(hash)-1) + "-" + hash
}

// ThreadName names the thread of a new request. A random suffix keeps
// names distinct when the same prompt arrives within a millisecond.
func ThreadName(prompt string, now time.Time) string {
	token := truncate(sanitizeToken(prompt), 64)
	ts := strings.NewReplacer(":", "-", ".", "-").Replace(now.UTC().Format("2006-01-02T15:04:05.000Z"))
	suffix := uuid.NewString()[:8]
	return truncate("ask-"+token+"-"+ts, maxNameLength-len(suffix)-1) + "-" + suffix
}

// sanitized names are ASCII, so byte truncation is safe
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
