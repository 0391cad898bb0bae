package core

import (
	"time"

	"github.com/google/uuid"
)

type RequestStatus string

const (
	RequestQueued    RequestStatus = "queued"
	RequestRunning   RequestStatus = "running"
	RequestSucceeded RequestStatus = "succeeded"
	RequestFailed    RequestStatus = "failed"
)

func (s RequestStatus) Terminal() bool {
	return s == RequestSucceeded || s == RequestFailed
}

type GuildRecord struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type RepoRecord struct {
	ID             int64
	GuildID        string
	Owner          string
	Repo           string
	FullName       string
	Visibility     string
	ChannelID      string
	LinkedByUserID string
	CreatedAt      time.Time
}

func (r RepoRecord) Identity() RepoIdentity {
	return NewRepoIdentity(r.Owner, r.Repo)
}

type RequestRecord struct {
	ID           int64
	GuildID      string
	RepoID       int64
	ChannelID    string
	ThreadID     string
	UserID       string
	Prompt       string
	Provider     string
	Model        string
	Status       RequestStatus
	WorktreePath string
	ResultText   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type GuildModelConfig struct {
	GuildID         string
	Provider        string
	Model           string
	UpdatedByUserID string
	UpdatedAt       time.Time
}

// Turn is one exchange in a thread, oldest first when returned by storage.
type Turn struct {
	Prompt   string
	Response string
}

type ThreadMessage struct {
	ID        int64
	ThreadID  string
	Body      string
	CreatedAt time.Time
}

func NewRunID() string {
	return "run-" + uuid.NewString()
}
