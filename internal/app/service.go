package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chainguard-dev/clog"

	"github.com/DigitumDei/Actuarius/internal/agent"
	"github.com/DigitumDei/Actuarius/internal/core"
	"github.com/DigitumDei/Actuarius/internal/engine"
	"github.com/DigitumDei/Actuarius/internal/git"
	"github.com/DigitumDei/Actuarius/internal/repo"
	"github.com/DigitumDei/Actuarius/internal/store"
)

type RepoLookup interface {
	Lookup(ctx context.Context, ref core.RepoIdentity) (repo.Info, error)
}

// Service holds the operations shared by the CLI and the HTTP API.
type Service struct {
	Store        *store.SQLiteStore
	Lookup       RepoLookup
	Sync         engine.Synchronizer
	Orchestrator *engine.Orchestrator

	now func() time.Time
}

type ConnectInput struct {
	GuildID   string
	GuildName string
	Reference string
	UserID    string
}

func (s *Service) ConnectRepo(ctx context.Context, in ConnectInput) (core.RepoRecord, error) {
	ref, err := repo.ParseReference(in.Reference)
	if err != nil {
		return core.RepoRecord{}, err
	}
	info, err := s.Lookup.Lookup(ctx, ref)
	if err != nil {
		return core.RepoRecord{}, err
	}
	if !info.Public() {
		return core.RepoRecord{}, ErrNotPublic
	}

	if err := s.Store.UpsertGuild(ctx, in.GuildID, in.GuildName); err != nil {
		return core.RepoRecord{}, fmt.Errorf("record guild: %w", err)
	}
	existing, err := s.Store.GetRepoByFullName(ctx, in.GuildID, info.FullName)
	switch {
	case err == nil:
		return existing, ErrAlreadyConnected
	case !errors.Is(err, store.ErrNotFound):
		return core.RepoRecord{}, err
	}

	// a repository without master or main cannot host any request
	if _, err := s.Sync.EnsureCheckout(ctx, info.Identity()); err != nil {
		return core.RepoRecord{}, err
	}

	repos, err := s.Store.ListRepos(ctx, in.GuildID)
	if err != nil {
		return core.RepoRecord{}, err
	}
	taken := make(map[string]bool, len(repos))
	for _, r := range repos {
		taken[r.ChannelID] = true
	}

	rec, err := s.Store.CreateRepo(ctx, core.RepoRecord{
		GuildID:        in.GuildID,
		Owner:          info.Owner,
		Repo:           info.Name,
		FullName:       info.FullName,
		Visibility:     info.Visibility,
		ChannelID:      RepoChannelName(info.Owner, info.Name, taken),
		LinkedByUserID: in.UserID,
	})
	if err != nil {
		return core.RepoRecord{}, fmt.Errorf("record repository: %w", err)
	}
	clog.FromContext(ctx).With("guild", in.GuildID, "repo", rec.FullName, "channel", rec.ChannelID).Info("repository connected")
	return rec, nil
}

func (s *Service) ListRepos(ctx context.Context, guildID string) ([]core.RepoRecord, error) {
	return s.Store.ListRepos(ctx, guildID)
}

func (s *Service) SyncRepo(ctx context.Context, guildID, reference string) (git.Checkout, error) {
	rec, err := s.connectedRepo(ctx, guildID, reference)
	if err != nil {
		return git.Checkout{}, err
	}
	return s.Sync.EnsureCheckout(ctx, rec.Identity())
}

type AskInput struct {
	GuildID   string
	Reference string
	UserID    string
	Prompt    string
	Provider  string
	Model     string
}

// Ask records a request in a new thread and queues it. The returned
// record is still queued.
func (s *Service) Ask(ctx context.Context, in AskInput) (core.RequestRecord, error) {
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return core.RequestRecord{}, ErrEmptyPrompt
	}
	rec, err := s.connectedRepo(ctx, in.GuildID, in.Reference)
	if err != nil {
		return core.RequestRecord{}, err
	}
	provider, model, err := s.resolveModel(ctx, in.GuildID, in.Provider, in.Model)
	if err != nil {
		return core.RequestRecord{}, err
	}

	req, err := s.Store.CreateRequest(ctx, core.RequestRecord{
		GuildID:   in.GuildID,
		RepoID:    rec.ID,
		ChannelID: rec.ChannelID,
		ThreadID:  ThreadName(prompt, s.clock()),
		UserID:    in.UserID,
		Prompt:    prompt,
		Provider:  provider,
		Model:     model,
	})
	if err != nil {
		return core.RequestRecord{}, fmt.Errorf("record request: %w", err)
	}

	if err := s.submit(ctx, req, rec, false, ""); err != nil {
		return core.RequestRecord{}, err
	}
	return req, nil
}

type FollowUpInput struct {
	ThreadID string
	UserID   string
	Prompt   string
}

// FollowUp queues a new request in an existing thread. It reuses the
// thread's worktree and provider.
func (s *Service) FollowUp(ctx context.Context, in FollowUpInput) (core.RequestRecord, error) {
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return core.RequestRecord{}, ErrEmptyPrompt
	}
	prev, err := s.Store.LatestRequestForThread(ctx, in.ThreadID)
	if errors.Is(err, store.ErrNotFound) {
		return core.RequestRecord{}, ErrUnknownThread
	}
	if err != nil {
		return core.RequestRecord{}, err
	}
	rec, err := s.Store.GetRepoByID(ctx, prev.RepoID)
	if err != nil {
		return core.RequestRecord{}, fmt.Errorf("look up repository: %w", err)
	}
	worktree, err := s.Store.GetWorktreeForThread(ctx, in.ThreadID)
	if err != nil {
		return core.RequestRecord{}, fmt.Errorf("look up worktree: %w", err)
	}

	req, err := s.Store.CreateRequest(ctx, core.RequestRecord{
		GuildID:   prev.GuildID,
		RepoID:    prev.RepoID,
		ChannelID: prev.ChannelID,
		ThreadID:  in.ThreadID,
		UserID:    in.UserID,
		Prompt:    prompt,
		Provider:  prev.Provider,
		Model:     prev.Model,
	})
	if err != nil {
		return core.RequestRecord{}, fmt.Errorf("record request: %w", err)
	}

	if err := s.submit(ctx, req, rec, true, worktree); err != nil {
		return core.RequestRecord{}, err
	}
	return req, nil
}

func (s *Service) CloseSession(ctx context.Context, threadID string) error {
	prev, err := s.Store.LatestRequestForThread(ctx, threadID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUnknownThread
	}
	if err != nil {
		return err
	}
	rec, err := s.Store.GetRepoByID(ctx, prev.RepoID)
	if err != nil {
		return fmt.Errorf("look up repository: %w", err)
	}
	return s.Orchestrator.CloseSession(ctx, rec.Identity(), threadID)
}

// RemoveGuild deletes a guild and every record kept for it. Checkouts
// on disk are left in place.
func (s *Service) RemoveGuild(ctx context.Context, guildID string) error {
	if err := s.Store.RemoveGuild(ctx, guildID); err != nil {
		return fmt.Errorf("remove guild %s: %w", guildID, err)
	}
	clog.FromContext(ctx).With("guild", guildID).Info("guild removed")
	return nil
}

func (s *Service) SetModel(ctx context.Context, guildID, provider, model, userID string) (core.GuildModelConfig, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !agent.Known(provider) {
		return core.GuildModelConfig{}, fmt.Errorf("%w %q", ErrUnknownProvider, provider)
	}
	if err := s.Store.UpsertGuild(ctx, guildID, ""); err != nil {
		return core.GuildModelConfig{}, fmt.Errorf("record guild: %w", err)
	}
	return s.Store.SetGuildModelConfig(ctx, core.GuildModelConfig{
		GuildID:         guildID,
		Provider:        provider,
		Model:           strings.TrimSpace(model),
		UpdatedByUserID: userID,
	})
}

func (s *Service) ThreadMessages(ctx context.Context, threadID string, afterID int64) ([]core.ThreadMessage, error) {
	return s.Store.ThreadMessages(ctx, threadID, afterID)
}

// connectedRepo resolves reference as owner/repo, a GitHub URL or a
// "#channel" name.
func (s *Service) connectedRepo(ctx context.Context, guildID, reference string) (core.RepoRecord, error) {
	if channel, ok := strings.CutPrefix(strings.TrimSpace(reference), "#"); ok {
		rec, err := s.Store.GetRepoByChannelID(ctx, guildID, channel)
		if errors.Is(err, store.ErrNotFound) {
			return core.RepoRecord{}, fmt.Errorf("%w: #%s", ErrRepoNotConnected, channel)
		}
		return rec, err
	}
	ref, err := repo.ParseReference(reference)
	if err != nil {
		return core.RepoRecord{}, err
	}
	rec, err := s.Store.GetRepoByFullName(ctx, guildID, ref.FullName)
	if errors.Is(err, store.ErrNotFound) {
		return core.RepoRecord{}, fmt.Errorf("%w: %s", ErrRepoNotConnected, ref.FullName)
	}
	return rec, err
}

// resolveModel prefers the request's choice, then the guild's, then
// Claude with its configured model.
func (s *Service) resolveModel(ctx context.Context, guildID, provider, model string) (string, string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider != "" {
		if !agent.Known(provider) {
			return "", "", fmt.Errorf("%w %q", ErrUnknownProvider, provider)
		}
		return provider, model, nil
	}
	cfg, err := s.Store.GetGuildModelConfig(ctx, guildID)
	switch {
	case err == nil:
		if model == "" {
			model = cfg.Model
		}
		return cfg.Provider, model, nil
	case errors.Is(err, store.ErrNotFound):
		return agent.Claude, model, nil
	default:
		return "", "", fmt.Errorf("look up guild model: %w", err)
	}
}

// submit detaches from the caller's cancellation; the request outlives
// the call that queued it. Shutdown cancels it through the orchestrator.
func (s *Service) submit(ctx context.Context, req core.RequestRecord, rec core.RepoRecord, followUp bool, worktree string) error {
	err := s.Orchestrator.Submit(context.WithoutCancel(ctx), engine.Job{
		RequestID:        req.ID,
		GuildID:          req.GuildID,
		ThreadID:         req.ThreadID,
		Repo:             rec.Identity(),
		Prompt:           req.Prompt,
		Provider:         req.Provider,
		Model:            req.Model,
		FollowUp:         followUp,
		ExistingWorktree: worktree,
	})
	if err != nil {
		return fmt.Errorf("queue request %d: %w", req.ID, err)
	}
	return nil
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}
