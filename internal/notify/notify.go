package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/chainguard-dev/clog"

	"github.com/DigitumDei/Actuarius/internal/core"
)

const (
	// MessageLimit is the longest message a thread accepts.
	MessageLimit = 2000
	// ResultLimit bounds agent output quoted inside a message.
	ResultLimit = 1500

	truncatedMarker = "\n...(truncated)"
)

type Notifier interface {
	Post(ctx context.Context, threadID, text string) error
}

// Clip trims text and shortens it to at most limit runes, marking the
// cut.
func Clip(text string, limit int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	keep := max(limit-len(truncatedMarker), 0)
	return strings.TrimRight(string(runes[:keep]), " \t\r\n") + truncatedMarker
}

// Completed formats the success message for a finished request. The
// agent output is fenced as text and clipped to ResultLimit.
func Completed(title, text string) string {
	return fmt.Sprintf("**%s execution completed**\n\n```text\n%s\n```", title, Clip(text, ResultLimit))
}

// Writer prints thread messages for the CLI.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (n *Writer) Post(_ context.Context, threadID, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, err := fmt.Fprintf(n.w, "[%s] %s\n\n", threadID, Clip(text, MessageLimit))
	return err
}

type MessageStore interface {
	AppendThreadMessage(ctx context.Context, threadID, body string) (core.ThreadMessage, error)
}

// Store keeps thread messages so HTTP clients can poll them.
type Store struct {
	messages MessageStore
}

func NewStore(messages MessageStore) *Store {
	return &Store{messages: messages}
}

func (n *Store) Post(ctx context.Context, threadID, text string) error {
	msg, err := n.messages.AppendThreadMessage(ctx, threadID, Clip(text, MessageLimit))
	if err != nil {
		return fmt.Errorf("append message to thread %s: %w", threadID, err)
	}
	clog.FromContext(ctx).With("thread", threadID, "message_id", msg.ID).Debug("message stored")
	return nil
}

// Multi fans a post out to every notifier.
type Multi []Notifier

func (m Multi) Post(ctx context.Context, threadID, text string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Post(ctx, threadID, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
