package core

type Event struct {
	RunID     string `json:"run_id"`
	Level     string `json:"level"`
	EventType string `json:"event_type"`
	GuildID   string `json:"guild_id,omitempty"`
	RequestID int64  `json:"request_id,omitempty"`
	Repo      string `json:"repo,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

type EventLogger interface {
	Emit(event Event) error
}

type NopEventLogger struct{}

func (NopEventLogger) Emit(Event) error { return nil }
