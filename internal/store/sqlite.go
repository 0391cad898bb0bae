package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/DigitumDei/Actuarius/internal/core"
)

var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLite(path string) (*SQLiteStore, error) {
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	ddl := []string{
		`PRAGMA journal_mode=WAL;`,
		`CREATE TABLE IF NOT EXISTS guilds (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS repos (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			owner TEXT NOT NULL,
			repo TEXT NOT NULL,
			full_name TEXT NOT NULL,
			visibility TEXT NOT NULL,
			channel_id TEXT NOT NULL,
			linked_by_user_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			UNIQUE(guild_id, full_name),
			FOREIGN KEY(guild_id) REFERENCES guilds(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			guild_id TEXT NOT NULL,
			repo_id INTEGER NOT NULL,
			channel_id TEXT NOT NULL,
			thread_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			prompt TEXT NOT NULL,
			provider TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			worktree_path TEXT,
			result_text TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY(guild_id) REFERENCES guilds(id) ON DELETE CASCADE,
			FOREIGN KEY(repo_id) REFERENCES repos(id) ON DELETE CASCADE
		);`,
		`CREATE INDEX IF NOT EXISTS idx_requests_thread ON requests(thread_id, id);`,
		`CREATE TABLE IF NOT EXISTS guild_model_config (
			guild_id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			updated_by_user_id TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			FOREIGN KEY(guild_id) REFERENCES guilds(id) ON DELETE CASCADE
		);`,
		`CREATE TABLE IF NOT EXISTS thread_messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_thread_messages_thread ON thread_messages(thread_id, id);`,
	}

	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// IsBusy reports whether err is SQLite lock contention.
func IsBusy(err error) bool {
	var serr *sqlite.Error
	if !errors.As(err, &serr) {
		return false
	}
	switch serr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func (s *SQLiteStore) timestamp() string {
	return s.now().UTC().Format(time.RFC3339)
}

// UpsertGuild records a guild. An empty name keeps the stored one.
func (s *SQLiteStore) UpsertGuild(ctx context.Context, id, name string) error {
	ts := s.timestamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guilds (id, name, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE
		SET name = CASE WHEN excluded.name = '' THEN guilds.name ELSE excluded.name END,
			updated_at = excluded.updated_at`,
		id,
		name,
		ts,
		ts,
	)
	return err
}

func (s *SQLiteStore) RemoveGuild(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM guilds WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) CreateRepo(ctx context.Context, repo core.RepoRecord) (core.RepoRecord, error) {
	repo.FullName = strings.ToLower(strings.TrimSpace(repo.FullName))
	repo.CreatedAt = s.now().UTC().Truncate(time.Second)
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO repos (guild_id, owner, repo, full_name, visibility, channel_id, linked_by_user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		repo.GuildID,
		repo.Owner,
		repo.Repo,
		repo.FullName,
		repo.Visibility,
		repo.ChannelID,
		repo.LinkedByUserID,
		repo.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return core.RepoRecord{}, err
	}
	if repo.ID, err = result.LastInsertId(); err != nil {
		return core.RepoRecord{}, err
	}
	return repo, nil
}

const repoColumns = `id, guild_id, owner, repo, full_name, visibility, channel_id, linked_by_user_id, created_at`

func scanRepo(row interface{ Scan(...any) error }) (core.RepoRecord, error) {
	var (
		repo      core.RepoRecord
		createdAt string
	)
	err := row.Scan(
		&repo.ID,
		&repo.GuildID,
		&repo.Owner,
		&repo.Repo,
		&repo.FullName,
		&repo.Visibility,
		&repo.ChannelID,
		&repo.LinkedByUserID,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RepoRecord{}, ErrNotFound
	}
	if err != nil {
		return core.RepoRecord{}, err
	}
	repo.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return repo, nil
}

func (s *SQLiteStore) GetRepoByFullName(ctx context.Context, guildID, fullName string) (core.RepoRecord, error) {
	return scanRepo(s.db.QueryRowContext(ctx, `
		SELECT `+repoColumns+`
		FROM repos
		WHERE guild_id = ? AND full_name = ?`,
		guildID,
		strings.ToLower(strings.TrimSpace(fullName)),
	))
}

func (s *SQLiteStore) GetRepoByChannelID(ctx context.Context, guildID, channelID string) (core.RepoRecord, error) {
	return scanRepo(s.db.QueryRowContext(ctx, `
		SELECT `+repoColumns+`
		FROM repos
		WHERE guild_id = ? AND channel_id = ?`,
		guildID,
		channelID,
	))
}

func (s *SQLiteStore) GetRepoByID(ctx context.Context, id int64) (core.RepoRecord, error) {
	return scanRepo(s.db.QueryRowContext(ctx, `SELECT `+repoColumns+` FROM repos WHERE id = ?`, id))
}

func (s *SQLiteStore) ListRepos(ctx context.Context, guildID string) ([]core.RepoRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+repoColumns+`
		FROM repos
		WHERE guild_id = ?
		ORDER BY created_at ASC, id ASC`,
		guildID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []core.RepoRecord
	for rows.Next() {
		repo, err := scanRepo(rows)
		if err != nil {
			return nil, err
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// CreateRequest inserts req as queued and returns it with its id.
func (s *SQLiteStore) CreateRequest(ctx context.Context, req core.RequestRecord) (core.RequestRecord, error) {
	req.Status = core.RequestQueued
	req.CreatedAt = s.now().UTC().Truncate(time.Second)
	req.UpdatedAt = req.CreatedAt
	ts := req.CreatedAt.Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO requests (guild_id, repo_id, channel_id, thread_id, user_id, prompt, provider, model, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.GuildID,
		req.RepoID,
		req.ChannelID,
		req.ThreadID,
		req.UserID,
		req.Prompt,
		req.Provider,
		req.Model,
		req.Status,
		ts,
		ts,
	)
	if err != nil {
		return core.RequestRecord{}, err
	}
	if req.ID, err = result.LastInsertId(); err != nil {
		return core.RequestRecord{}, err
	}
	return req, nil
}

const requestColumns = `id, guild_id, repo_id, channel_id, thread_id, user_id, prompt, provider, model, status, worktree_path, result_text, created_at, updated_at`

func scanRequest(row interface{ Scan(...any) error }) (core.RequestRecord, error) {
	var (
		req       core.RequestRecord
		worktree  sql.NullString
		result    sql.NullString
		createdAt string
		updatedAt string
	)
	err := row.Scan(
		&req.ID,
		&req.GuildID,
		&req.RepoID,
		&req.ChannelID,
		&req.ThreadID,
		&req.UserID,
		&req.Prompt,
		&req.Provider,
		&req.Model,
		&req.Status,
		&worktree,
		&result,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return core.RequestRecord{}, ErrNotFound
	}
	if err != nil {
		return core.RequestRecord{}, err
	}
	req.WorktreePath = worktree.String
	req.ResultText = result.String
	req.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	req.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return req, nil
}

func (s *SQLiteStore) GetRequest(ctx context.Context, id int64) (core.RequestRecord, error) {
	return scanRequest(s.db.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id))
}

// LatestRequestForThread returns the newest request posted in threadID.
func (s *SQLiteStore) LatestRequestForThread(ctx context.Context, threadID string) (core.RequestRecord, error) {
	return scanRequest(s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM requests
		WHERE thread_id = ?
		ORDER BY id DESC
		LIMIT 1`,
		threadID,
	))
}

func (s *SQLiteStore) UpdateRequestStatus(ctx context.Context, id int64, status core.RequestStatus) error {
	return s.updateRequest(ctx, id, "status", string(status))
}

func (s *SQLiteStore) UpdateRequestWorktreePath(ctx context.Context, id int64, path string) error {
	return s.updateRequest(ctx, id, "worktree_path", path)
}

func (s *SQLiteStore) SetRequestResult(ctx context.Context, id int64, text string) error {
	return s.updateRequest(ctx, id, "result_text", text)
}

func (s *SQLiteStore) updateRequest(ctx context.Context, id int64, column, value string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE requests
		SET `+column+` = ?, updated_at = ?
		WHERE id = ?`,
		value,
		s.timestamp(),
		id,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("request %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetWorktreeForThread returns the newest worktree path recorded in
// threadID, or "" if none is alive.
func (s *SQLiteStore) GetWorktreeForThread(ctx context.Context, threadID string) (string, error) {
	var path string
	err := s.db.QueryRowContext(ctx, `
		SELECT worktree_path
		FROM requests
		WHERE thread_id = ? AND worktree_path IS NOT NULL
		ORDER BY id DESC
		LIMIT 1`,
		threadID,
	).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return path, err
}

func (s *SQLiteStore) ClearThreadWorktree(ctx context.Context, threadID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE requests
		SET worktree_path = NULL, updated_at = ?
		WHERE thread_id = ? AND worktree_path IS NOT NULL`,
		s.timestamp(),
		threadID,
	)
	return err
}

// ThreadHistory returns up to limit turns of threadID that precede
// beforeRequestID, oldest first.
func (s *SQLiteStore) ThreadHistory(ctx context.Context, threadID string, beforeRequestID int64, limit int) ([]core.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT prompt, COALESCE(result_text, '')
		FROM requests
		WHERE thread_id = ? AND id < ?
		ORDER BY id DESC
		LIMIT ?`,
		threadID,
		beforeRequestID,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []core.Turn
	for rows.Next() {
		var turn core.Turn
		if err := rows.Scan(&turn.Prompt, &turn.Response); err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(turns)
	return turns, nil
}

func (s *SQLiteStore) GetGuildModelConfig(ctx context.Context, guildID string) (core.GuildModelConfig, error) {
	var (
		cfg       core.GuildModelConfig
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT guild_id, provider, model, updated_by_user_id, updated_at
		FROM guild_model_config
		WHERE guild_id = ?`,
		guildID,
	).Scan(&cfg.GuildID, &cfg.Provider, &cfg.Model, &cfg.UpdatedByUserID, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.GuildModelConfig{}, ErrNotFound
	}
	if err != nil {
		return core.GuildModelConfig{}, err
	}
	cfg.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return cfg, nil
}

func (s *SQLiteStore) SetGuildModelConfig(ctx context.Context, cfg core.GuildModelConfig) (core.GuildModelConfig, error) {
	cfg.UpdatedAt = s.now().UTC().Truncate(time.Second)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guild_model_config (guild_id, provider, model, updated_by_user_id, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE
		SET provider = excluded.provider,
			model = excluded.model,
			updated_by_user_id = excluded.updated_by_user_id,
			updated_at = excluded.updated_at`,
		cfg.GuildID,
		cfg.Provider,
		cfg.Model,
		cfg.UpdatedByUserID,
		cfg.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return core.GuildModelConfig{}, err
	}
	return cfg, nil
}

func (s *SQLiteStore) AppendThreadMessage(ctx context.Context, threadID, body string) (core.ThreadMessage, error) {
	msg := core.ThreadMessage{
		ThreadID:  threadID,
		Body:      body,
		CreatedAt: s.now().UTC().Truncate(time.Second),
	}
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO thread_messages (thread_id, body, created_at)
		VALUES (?, ?, ?)`,
		msg.ThreadID,
		msg.Body,
		msg.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return core.ThreadMessage{}, err
	}
	if msg.ID, err = result.LastInsertId(); err != nil {
		return core.ThreadMessage{}, err
	}
	return msg, nil
}

// ThreadMessages returns messages of threadID with id greater than
// afterID, oldest first.
func (s *SQLiteStore) ThreadMessages(ctx context.Context, threadID string, afterID int64) ([]core.ThreadMessage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, body, created_at
		FROM thread_messages
		WHERE thread_id = ? AND id > ?
		ORDER BY id ASC`,
		threadID,
		afterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []core.ThreadMessage
	for rows.Next() {
		var (
			msg       core.ThreadMessage
			createdAt string
		)
		if err := rows.Scan(&msg.ID, &msg.ThreadID, &msg.Body, &createdAt); err != nil {
			return nil, err
		}
		msg.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
