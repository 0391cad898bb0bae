// Package httpapi exposes the request service over HTTP.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/chainguard-dev/clog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/DigitumDei/Actuarius/internal/app"
	"github.com/DigitumDei/Actuarius/internal/core"
	"github.com/DigitumDei/Actuarius/internal/engine"
	"github.com/DigitumDei/Actuarius/internal/git"
	"github.com/DigitumDei/Actuarius/internal/repo"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

type Server struct {
	Service  *app.Service
	Registry *prometheus.Registry
}

func New(service *app.Service, registry *prometheus.Registry) *Server {
	return &Server{Service: service, Registry: registry}
}

// Handler returns the routed, traced handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if s.Registry != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("POST /v1/guilds/{guild}/repos", s.handleConnectRepo)
	mux.HandleFunc("GET /v1/guilds/{guild}/repos", s.handleListRepos)
	mux.HandleFunc("POST /v1/guilds/{guild}/repos/{owner}/{repo}/sync", s.handleSyncRepo)
	mux.HandleFunc("POST /v1/guilds/{guild}/requests", s.handleAsk)
	mux.HandleFunc("PUT /v1/guilds/{guild}/model", s.handleSetModel)
	mux.HandleFunc("DELETE /v1/guilds/{guild}", s.handleRemoveGuild)

	mux.HandleFunc("POST /v1/threads/{thread}/messages", s.handleFollowUp)
	mux.HandleFunc("GET /v1/threads/{thread}/messages", s.handleThreadMessages)
	mux.HandleFunc("DELETE /v1/threads/{thread}/worktree", s.handleCloseSession)

	return otelhttp.NewHandler(mux, "actuarius-http")
}

type repoResponse struct {
	ID             int64     `json:"id"`
	GuildID        string    `json:"guild_id"`
	Owner          string    `json:"owner"`
	Repo           string    `json:"repo"`
	FullName       string    `json:"full_name"`
	Visibility     string    `json:"visibility"`
	ChannelID      string    `json:"channel_id"`
	LinkedByUserID string    `json:"linked_by_user_id"`
	CreatedAt      time.Time `json:"created_at"`
}

func toRepo(r core.RepoRecord) repoResponse {
	return repoResponse{
		ID:             r.ID,
		GuildID:        r.GuildID,
		Owner:          r.Owner,
		Repo:           r.Repo,
		FullName:       r.FullName,
		Visibility:     r.Visibility,
		ChannelID:      r.ChannelID,
		LinkedByUserID: r.LinkedByUserID,
		CreatedAt:      r.CreatedAt,
	}
}

type requestResponse struct {
	ID        int64  `json:"id"`
	GuildID   string `json:"guild_id"`
	RepoID    int64  `json:"repo_id"`
	ChannelID string `json:"channel_id"`
	ThreadID  string `json:"thread_id"`
	Prompt    string `json:"prompt"`
	Provider  string `json:"provider"`
	Model     string `json:"model,omitempty"`
	Status    string `json:"status"`
}

func toRequest(r core.RequestRecord) requestResponse {
	return requestResponse{
		ID:        r.ID,
		GuildID:   r.GuildID,
		RepoID:    r.RepoID,
		ChannelID: r.ChannelID,
		ThreadID:  r.ThreadID,
		Prompt:    r.Prompt,
		Provider:  r.Provider,
		Model:     r.Model,
		Status:    string(r.Status),
	}
}

type messageResponse struct {
	ID        int64     `json:"id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConnectRepo(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Repo      string `json:"repo"`
		GuildName string `json:"guild_name"`
		UserID    string `json:"user_id"`
	}
	if err := s.parseJSON(w, r, &body); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rec, err := s.Service.ConnectRepo(r.Context(), app.ConnectInput{
		GuildID:   r.PathValue("guild"),
		GuildName: body.GuildName,
		Reference: body.Repo,
		UserID:    body.UserID,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusCreated, toRepo(rec))
}

func (s *Server) handleListRepos(w http.ResponseWriter, r *http.Request) {
	repos, err := s.Service.ListRepos(r.Context(), r.PathValue("guild"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]repoResponse, 0, len(repos))
	for _, rec := range repos {
		out = append(out, toRepo(rec))
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleSyncRepo(w http.ResponseWriter, r *http.Request) {
	ref := r.PathValue("owner") + "/" + r.PathValue("repo")
	checkout, err := s.Service.SyncRepo(r.Context(), r.PathValue("guild"), ref)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"path":       checkout.Path,
		"source_ref": checkout.SourceRef,
		"head":       checkout.Head,
	})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Repo     string `json:"repo"`
		Prompt   string `json:"prompt"`
		UserID   string `json:"user_id"`
		Provider string `json:"provider"`
		Model    string `json:"model"`
	}
	if err := s.parseJSON(w, r, &body); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req, err := s.Service.Ask(r.Context(), app.AskInput{
		GuildID:   r.PathValue("guild"),
		Reference: body.Repo,
		UserID:    body.UserID,
		Prompt:    body.Prompt,
		Provider:  body.Provider,
		Model:     body.Model,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, toRequest(req))
}

func (s *Server) handleSetModel(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Provider string `json:"provider"`
		Model    string `json:"model"`
		UserID   string `json:"user_id"`
	}
	if err := s.parseJSON(w, r, &body); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	cfg, err := s.Service.SetModel(r.Context(), r.PathValue("guild"), body.Provider, body.Model, body.UserID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{
		"guild_id": cfg.GuildID,
		"provider": cfg.Provider,
		"model":    cfg.Model,
	})
}

func (s *Server) handleRemoveGuild(w http.ResponseWriter, r *http.Request) {
	if err := s.Service.RemoveGuild(r.Context(), r.PathValue("guild")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleFollowUp(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt string `json:"prompt"`
		UserID string `json:"user_id"`
	}
	if err := s.parseJSON(w, r, &body); err != nil {
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	req, err := s.Service.FollowUp(r.Context(), app.FollowUpInput{
		ThreadID: r.PathValue("thread"),
		UserID:   body.UserID,
		Prompt:   body.Prompt,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusAccepted, toRequest(req))
}

func (s *Server) handleThreadMessages(w http.ResponseWriter, r *http.Request) {
	var after int64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = n
	}

	msgs, err := s.Service.ThreadMessages(r.Context(), r.PathValue("thread"), after)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	out := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, messageResponse{ID: m.ID, Body: m.Body, CreatedAt: m.CreatedAt})
	}
	s.respondJSON(w, http.StatusOK, out)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Service.CloseSession(r.Context(), r.PathValue("thread")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// fail maps service errors onto status codes. Unexpected errors are
// logged and reported without detail.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		clog.FromContext(r.Context()).With("path", r.URL.Path).Errorf("request failed: %v", err)
		s.respondError(w, status, "Internal server error")
		return
	}
	var lookupErr *repo.LookupError
	if errors.As(err, &lookupErr) {
		s.respondError(w, status, lookupErr.Message)
		return
	}
	var wsErr *git.WorkspaceError
	if errors.As(err, &wsErr) {
		s.respondError(w, status, wsErr.Message)
		return
	}
	s.respondError(w, status, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, app.ErrEmptyPrompt),
		errors.Is(err, app.ErrUnknownProvider),
		errors.Is(err, repo.ErrInvalidReference):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrNotPublic):
		return http.StatusForbidden
	case errors.Is(err, app.ErrRepoNotConnected),
		errors.Is(err, app.ErrUnknownThread),
		errors.Is(err, engine.ErrNoWorktree):
		return http.StatusNotFound
	case errors.Is(err, app.ErrAlreadyConnected):
		return http.StatusConflict
	case errors.Is(err, engine.ErrQueueClosed):
		return http.StatusServiceUnavailable
	}

	var lookupErr *repo.LookupError
	if errors.As(err, &lookupErr) {
		switch lookupErr.Code {
		case repo.LookupNotFound:
			return http.StatusNotFound
		case repo.LookupUnavailable:
			return http.StatusBadGateway
		}
	}
	var wsErr *git.WorkspaceError
	if errors.As(err, &wsErr) {
		if wsErr.Code == git.CodeMasterBranchMissing {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

func (s *Server) parseJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}
