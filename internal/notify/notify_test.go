package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DigitumDei/Actuarius/internal/core"
)

func TestClip(t *testing.T) {
	assert.Equal(t, "short", Clip("  short \n", 100))

	long := strings.Repeat("a", 30) + "   " + strings.Repeat("b", 30)
	got := Clip(long, 48)
	assert.Equal(t, strings.Repeat("a", 30)+"\n...(truncated)", got)
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 48)

	multi := strings.Repeat("é", 3000)
	got = Clip(multi, MessageLimit)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, MessageLimit, utf8.RuneCountInString(got))
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.Post(context.Background(), "t1", "Claude execution started."))
	assert.Equal(t, "[t1] Claude execution started.\n\n", buf.String())
}

type memMessages struct {
	bodies []string
	err    error
}

func (m *memMessages) AppendThreadMessage(_ context.Context, threadID, body string) (core.ThreadMessage, error) {
	if m.err != nil {
		return core.ThreadMessage{}, m.err
	}
	m.bodies = append(m.bodies, body)
	return core.ThreadMessage{ID: int64(len(m.bodies)), ThreadID: threadID, Body: body}, nil
}

func TestStoreClipsMessages(t *testing.T) {
	mem := &memMessages{}
	require.NoError(t, NewStore(mem).Post(context.Background(), "t1", strings.Repeat("x", 5000)))
	require.Len(t, mem.bodies, 1)
	assert.Len(t, mem.bodies[0], MessageLimit)
	assert.True(t, strings.HasSuffix(mem.bodies[0], "...(truncated)"))
}

func TestMulti(t *testing.T) {
	boom := errors.New("boom")
	ok := &memMessages{}
	var buf bytes.Buffer
	m := Multi{NewStore(&memMessages{err: boom}), nil, NewStore(ok), NewWriter(&buf)}

	err := m.Post(context.Background(), "t1", "hello")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"hello"}, ok.bodies)
	assert.Contains(t, buf.String(), "hello")
}

func TestCompleted(t *testing.T) {
	assert.Equal(t, "**Claude execution completed**\n\n```text\nall done\n```", Completed("Claude", "all done\n"))

	msg := Completed("Codex", strings.Repeat("x", 5000))
	assert.LessOrEqual(t, utf8.RuneCountInString(msg), MessageLimit)
	assert.Contains(t, msg, "...(truncated)\n```")
	body := strings.TrimSuffix(strings.TrimPrefix(msg, "**Codex execution completed**\n\n```text\n"), "\n```")
	assert.Equal(t, ResultLimit, utf8.RuneCountInString(body))
}
