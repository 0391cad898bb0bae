package repo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DigitumDei/Actuarius/internal/core"
)

func TestParseReference(t *testing.T) {
	tests := []struct {
		input string
		want  core.RepoIdentity
		err   bool
	}{
		{input: "octocat/Hello-World", want: core.RepoIdentity{Owner: "octocat", Repo: "Hello-World", FullName: "octocat/hello-world"}},
		{input: "  octocat/hello.go.git/ ", want: core.RepoIdentity{Owner: "octocat", Repo: "hello.go", FullName: "octocat/hello.go"}},
		{input: "https://github.com/octocat/Hello-World.git", want: core.RepoIdentity{Owner: "octocat", Repo: "Hello-World", FullName: "octocat/hello-world"}},
		{input: "https://github.com/octocat/Hello-World/tree/main", want: core.RepoIdentity{Owner: "octocat", Repo: "Hello-World", FullName: "octocat/hello-world"}},
		{input: "https://gitlab.com/org/repo", err: true},
		{input: "https://github.com/octocat", err: true},
		{input: "not-a-repo", err: true},
		{input: "a/b/c", err: true},
		{input: "", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseReference(tt.input)
			if tt.err {
				assert.ErrorIs(t, err, ErrInvalidReference)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func newTestGitHub(t *testing.T, handler http.HandlerFunc) *GitHub {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	g := NewGitHub("token")
	u, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	g.client.BaseURL = u
	return g
}

func TestLookup(t *testing.T) {
	g := newTestGitHub(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octocat/hello-world", r.URL.Path)
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"name":"Hello-World","full_name":"octocat/Hello-World","private":false,"visibility":"public","default_branch":"main","owner":{"login":"octocat"}}`)
	})

	info, err := g.Lookup(context.Background(), core.NewRepoIdentity("octocat", "hello-world"))
	require.NoError(t, err)
	assert.Equal(t, Info{Owner: "octocat", Name: "Hello-World", FullName: "octocat/Hello-World", Visibility: "PUBLIC", DefaultBranch: "main"}, info)
	assert.True(t, info.Public())
	assert.Equal(t, "octocat/hello-world", info.Identity().FullName)
}

func TestLookupPrivateWithoutVisibility(t *testing.T) {
	g := newTestGitHub(t, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"name":"secret","full_name":"acme/secret","private":true,"owner":{"login":"acme"}}`)
	})

	info, err := g.Lookup(context.Background(), core.NewRepoIdentity("acme", "secret"))
	require.NoError(t, err)
	assert.Equal(t, "PRIVATE", info.Visibility)
	assert.False(t, info.Public())
}

func TestLookupErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   LookupCode
	}{
		{"not found", http.StatusNotFound, LookupNotFound},
		{"server error", http.StatusBadGateway, LookupFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGitHub(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"message":"nope"}`)
			})
			_, err := g.Lookup(context.Background(), core.NewRepoIdentity("acme", "gone"))
			var lerr *LookupError
			require.True(t, errors.As(err, &lerr))
			assert.Equal(t, tt.want, lerr.Code)
		})
	}
}

func TestLookupUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	g := NewGitHub("")
	u, err := url.Parse(srv.URL + "/")
	require.NoError(t, err)
	g.client.BaseURL = u
	srv.Close()

	_, err = g.Lookup(context.Background(), core.NewRepoIdentity("acme", "widgets"))
	var lerr *LookupError
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, LookupUnavailable, lerr.Code)
}
