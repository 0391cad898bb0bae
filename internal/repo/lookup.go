package repo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"

	"github.com/DigitumDei/Actuarius/internal/core"
)

type LookupCode string

const (
	LookupNotFound    LookupCode = "NOT_FOUND"
	LookupUnavailable LookupCode = "UNAVAILABLE"
	LookupFailed      LookupCode = "FAILED"
)

type LookupError struct {
	Code    LookupCode
	Message string
	Err     error
}

func (e *LookupError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Info describes a repository as GitHub reports it.
type Info struct {
	Owner         string
	Name          string
	FullName      string
	Visibility    string
	DefaultBranch string
}

func (i Info) Public() bool {
	return i.Visibility == "PUBLIC"
}

func (i Info) Identity() core.RepoIdentity {
	return core.NewRepoIdentity(i.Owner, i.Name)
}

type GitHub struct {
	client *github.Client
}

// NewGitHub returns a lookup client. An empty token queries anonymously.
func NewGitHub(token string) *GitHub {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &GitHub{client: client}
}

func (g *GitHub) Lookup(ctx context.Context, ref core.RepoIdentity) (Info, error) {
	log := clog.FromContext(ctx).With("repo", ref.FullName)

	r, _, err := g.client.Repositories.Get(ctx, ref.Owner, ref.Repo)
	if err != nil {
		log.Warnf("repository lookup failed: %v", err)
		return Info{}, classify(err)
	}

	visibility := strings.ToUpper(r.GetVisibility())
	if visibility == "" {
		visibility = "PUBLIC"
		if r.GetPrivate() {
			visibility = "PRIVATE"
		}
	}
	info := Info{
		Owner:         r.GetOwner().GetLogin(),
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		Visibility:    visibility,
		DefaultBranch: r.GetDefaultBranch(),
	}
	if info.Owner == "" || info.Name == "" {
		return Info{}, &LookupError{Code: LookupFailed, Message: "GitHub response did not contain required repo fields."}
	}
	if info.FullName == "" {
		info.FullName = info.Owner + "/" + info.Name
	}
	return info, nil
}

func classify(err error) error {
	var gerr *github.ErrorResponse
	if errors.As(err, &gerr) && gerr.Response != nil && gerr.Response.StatusCode == http.StatusNotFound {
		return &LookupError{Code: LookupNotFound, Message: "Repository not found.", Err: err}
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return &LookupError{Code: LookupUnavailable, Message: "GitHub is not reachable.", Err: err}
	}
	return &LookupError{Code: LookupFailed, Message: "GitHub lookup failed.", Err: err}
}
