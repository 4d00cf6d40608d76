package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Sourcebook/internal/core"
	db "github.com/markdave123-py/Sourcebook/internal/core/database"
	"github.com/markdave123-py/Sourcebook/internal/models"
)

type stubTransport struct {
	body string
	err  error
	got  []Request
}

func (s *stubTransport) Stream(_ context.Context, req Request) (io.ReadCloser, error) {
	s.got = append(s.got, req)
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.body)), nil
}

type failingStore struct {
	*db.MemoryClient
	failRole models.Role
}

func (f *failingStore) AppendMessage(ctx context.Context, msg *models.Message) error {
	if msg.Role == f.failRole {
		return errors.New("write refused")
	}
	return f.MemoryClient.AppendMessage(ctx, msg)
}

func TestStateTransitions(t *testing.T) {
	assert.True(t, CanTransition(StateIdle, StateSending))
	assert.True(t, CanTransition(StateSending, StateFailed))
	assert.True(t, CanTransition(StateStreaming, StateCompleted))
	assert.False(t, CanTransition(StateIdle, StateStreaming))
	assert.False(t, CanTransition(StateCompleted, StateSending))
	assert.False(t, CanTransition(StateFailed, StateStreaming))
	assert.Equal(t, "streaming", StateStreaming.String())
}

func TestThreadSendCompletes(t *testing.T) {
	store := db.NewMemoryClient()
	transport := &stubTransport{body: frame("Plants use [Bio, page 4]") + frame(" light [Bio, page 4].") + "data: [DONE]\n"}
	thread := NewThread(transport, store, "w1", models.ModeExam)

	var (
		convIDs []string
		states  []State
		seen    []string
	)
	thread.OnConversation = func(id string) { convIDs = append(convIDs, id) }
	thread.OnState = func(s State) { states = append(states, s) }
	thread.OnDelta = func(_, content string) { seen = append(seen, content) }

	question := strings.Repeat("How does photosynthesis work ", 3)
	msg, err := thread.Send(context.Background(), question)
	require.NoError(t, err)

	assert.Equal(t, "Plants use [Bio, page 4] light [Bio, page 4].", msg.Content)
	require.Len(t, msg.Citations, 1)
	assert.Equal(t, "Bio", msg.Citations[0].Title)
	assert.Equal(t, []string{"Plants use [Bio, page 4]", "Plants use [Bio, page 4] light [Bio, page 4]."}, seen)
	assert.Equal(t, []State{StateSending, StateStreaming, StateCompleted}, states)

	require.Len(t, convIDs, 1)
	conv, err := store.GetConversation(context.Background(), convIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "w1", conv.WorkspaceID)
	assert.True(t, strings.HasSuffix(conv.Title, "…"))
	assert.Len(t, []rune(strings.TrimSuffix(conv.Title, "…")), 50)

	require.Len(t, transport.got, 1)
	req := transport.got[0]
	assert.Equal(t, models.ModeExam, req.Mode)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, models.RoleUser, req.Messages[0].Role)

	persisted, err := store.ListMessages(context.Background(), convIDs[0])
	require.NoError(t, err)
	require.Len(t, persisted, 2)
	assert.False(t, Unanswered(persisted))
	assert.Len(t, thread.Messages, 2)

	_, err = thread.Send(context.Background(), "And respiration?")
	require.NoError(t, err)
	assert.Len(t, convIDs, 1)
	assert.Len(t, transport.got[1].Messages, 3)
}

func TestThreadSendRateLimited(t *testing.T) {
	store := db.NewMemoryClient()
	transport := &stubTransport{err: core.NewStatusError("chat", 429, nil)}
	thread := NewThread(transport, store, "w1", models.ModeStudy)

	var states []State
	thread.OnState = func(s State) { states = append(states, s) }

	_, err := thread.Send(context.Background(), "hi")
	var te *core.TransientServiceError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, core.CategoryRateLimited, te.Category)
	assert.Equal(t, []State{StateSending, StateFailed}, states)

	require.Len(t, thread.Messages, 1)
	assert.Equal(t, models.RoleUser, thread.Messages[0].Role)

	persisted, err := store.ListMessages(context.Background(), thread.ConversationID)
	require.NoError(t, err)
	assert.True(t, Unanswered(persisted))
}

func TestThreadSendCancelledMidStream(t *testing.T) {
	store := db.NewMemoryClient()
	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()
	transport := &pipeTransport{r: pr}
	thread := NewThread(transport, store, "w1", models.ModeStudy)
	thread.OnDelta = func(string, string) { cancel() }

	go func() {
		_, _ = pw.Write([]byte(frame("partial")))
		_, _ = pw.Write([]byte(frame("never")))
		_ = pw.Close()
	}()

	_, err := thread.Send(ctx, "question")
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, thread.Messages, 1)
	assert.Equal(t, models.RoleUser, thread.Messages[0].Role)
}

type pipeTransport struct{ r io.ReadCloser }

func (p *pipeTransport) Stream(context.Context, Request) (io.ReadCloser, error) { return p.r, nil }

func TestThreadAssistantPersistFailure(t *testing.T) {
	store := &failingStore{MemoryClient: db.NewMemoryClient(), failRole: models.RoleAssistant}
	transport := &stubTransport{body: frame("answer") + "data: [DONE]\n"}
	thread := NewThread(transport, store, "w1", models.ModeStudy)

	_, err := thread.Send(context.Background(), "q")
	var pe *core.PersistenceError
	require.ErrorAs(t, err, &pe)
	require.Len(t, thread.Messages, 1)
	assert.Equal(t, models.RoleUser, thread.Messages[0].Role)
}

func TestThreadUserPersistFailure(t *testing.T) {
	store := &failingStore{MemoryClient: db.NewMemoryClient(), failRole: models.RoleUser}
	transport := &stubTransport{body: "data: [DONE]\n"}
	thread := NewThread(transport, store, "w1", models.ModeStudy)

	_, err := thread.Send(context.Background(), "q")
	var pe *core.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Empty(t, thread.Messages)
	assert.Empty(t, transport.got)
	assert.NotEmpty(t, thread.ConversationID)
}

func TestThreadRejectsEmptyInput(t *testing.T) {
	transport := &stubTransport{}
	thread := NewThread(transport, db.NewMemoryClient(), "w1", models.ModeStudy)
	_, err := thread.Send(context.Background(), "   ")
	var ve *core.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Empty(t, thread.ConversationID)
}

func TestUnanswered(t *testing.T) {
	assert.False(t, Unanswered(nil))
	assert.True(t, Unanswered([]models.Message{{Role: models.RoleAssistant}, {Role: models.RoleUser}}))
	assert.False(t, Unanswered([]models.Message{{Role: models.RoleUser}, {Role: models.RoleAssistant}}))
}

func TestConversationTitle(t *testing.T) {
	assert.Equal(t, "short", conversationTitle("short"))
	long := strings.Repeat("é", 60)
	assert.Equal(t, strings.Repeat("é", 50)+"…", conversationTitle(long))
}
