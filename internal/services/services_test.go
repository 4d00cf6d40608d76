package services

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/core/chat"
	db "github.com/markdave123-py/Sourcebook/internal/core/database"
	"github.com/markdave123-py/Sourcebook/internal/core/retrieval"
	"github.com/markdave123-py/Sourcebook/internal/models"
)

type recordingCompleter struct {
	prompt  string
	history []core.ChatMessage
}

func (r *recordingCompleter) StreamChat(_ context.Context, systemPrompt string, history []core.ChatMessage) (core.CompletionStream, error) {
	r.prompt = systemPrompt
	r.history = history
	return emptyStream{}, nil
}

type emptyStream struct{}

func (emptyStream) Recv() (string, error) { return "", io.EOF }
func (emptyStream) Close() error          { return nil }

func seedWorkspace(t *testing.T, mem *db.MemoryClient, withSource bool) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, mem.CreateWorkspace(ctx, &models.Workspace{ID: "w1", OwnerID: "u1", Name: "Bio", Mode: models.ModeStudy}))
	if !withSource {
		return
	}
	require.NoError(t, mem.CreateSource(ctx, &models.KnowledgeSource{ID: "s1", OwnerID: "u1", Name: "Cell Biology", Status: models.StatusPending}))
	require.NoError(t, mem.MarkSourceProcessing(ctx, "s1"))
	_, err := mem.CommitChunks(ctx, "s1", []models.DocumentChunk{{ID: "c1", Content: "Mitochondria produce ATP for the cell."}}, time.Now())
	require.NoError(t, err)
	require.NoError(t, mem.SetWorkspaceSource(ctx, models.WorkspaceSource{WorkspaceID: "w1", SourceID: "s1", Enabled: true}))
}

func TestChatStreamWithoutSourcesUsesPersonaOnly(t *testing.T) {
	mem := db.NewMemoryClient()
	seedWorkspace(t, mem, false)
	completer := &recordingCompleter{}
	svc := NewChatService(mem, retrieval.NewEngine(mem, 0), completer)

	_, err := svc.Stream(context.Background(), "u1", chat.Request{
		WorkspaceID: "w1",
		Mode:        models.ModeExam,
		Messages:    []core.ChatMessage{{Role: models.RoleUser, Content: "What is ATP?"}},
	})
	require.NoError(t, err)
	assert.Equal(t, chat.Persona(models.ModeExam), completer.prompt)
	assert.Len(t, completer.history, 1)
}

func TestChatStreamGroundsLastUserMessage(t *testing.T) {
	mem := db.NewMemoryClient()
	seedWorkspace(t, mem, true)
	completer := &recordingCompleter{}
	svc := NewChatService(mem, retrieval.NewEngine(mem, 0), completer)

	_, err := svc.Stream(context.Background(), "u1", chat.Request{
		WorkspaceID: "w1",
		Messages: []core.ChatMessage{
			{Role: models.RoleUser, Content: "Tell me about plants"},
			{Role: models.RoleAssistant, Content: "Plants photosynthesize."},
			{Role: models.RoleUser, Content: "And mitochondria?"},
		},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(completer.prompt, chat.Persona(models.ModeStudy)))
	assert.Contains(t, completer.prompt, "### Source: Cell Biology")
	assert.Contains(t, completer.prompt, "[Excerpt 1]\nMitochondria produce ATP")
}

func TestChatStreamValidation(t *testing.T) {
	mem := db.NewMemoryClient()
	svc := NewChatService(mem, retrieval.NewEngine(mem, 0), &recordingCompleter{})
	var ve *core.ValidationError

	_, err := svc.Stream(context.Background(), "u1", chat.Request{Messages: []core.ChatMessage{{Role: models.RoleUser, Content: "x"}}})
	assert.ErrorAs(t, err, &ve)

	_, err = svc.Stream(context.Background(), "u1", chat.Request{WorkspaceID: "w1"})
	assert.ErrorAs(t, err, &ve)

	_, err = svc.Stream(context.Background(), "u1", chat.Request{
		WorkspaceID: "w1", Mode: "poet",
		Messages: []core.ChatMessage{{Role: models.RoleUser, Content: "x"}},
	})
	assert.ErrorAs(t, err, &ve)
}

func TestChatStreamRejectsForeignWorkspace(t *testing.T) {
	mem := db.NewMemoryClient()
	seedWorkspace(t, mem, true)
	completer := &recordingCompleter{}
	svc := NewChatService(mem, retrieval.NewEngine(mem, 0), completer)

	_, err := svc.Stream(context.Background(), "intruder", chat.Request{
		WorkspaceID: "w1",
		Messages:    []core.ChatMessage{{Role: models.RoleUser, Content: "What do mitochondria produce?"}},
	})
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Empty(t, completer.prompt, "no excerpt may reach the model")
}

func TestWorkspaceServiceHidesForeignResources(t *testing.T) {
	mem := db.NewMemoryClient()
	seedWorkspace(t, mem, true)
	svc := NewWorkspaceService(mem, retrieval.NewEngine(mem, 0))
	ctx := context.Background()

	_, err := svc.Get(ctx, "intruder", "w1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	err = svc.SetSource(ctx, "intruder", "w1", "s1", false)
	assert.ErrorIs(t, err, core.ErrNotFound)

	hits, err := svc.Search(ctx, "u1", "w1", "mitochondria", 3)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	require.NoError(t, svc.SetSource(ctx, "u1", "w1", "s1", false))
	hits, err = svc.Search(ctx, "u1", "w1", "mitochondria", 3)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestWorkspaceCreateDefaults(t *testing.T) {
	svc := NewWorkspaceService(db.NewMemoryClient(), nil)
	ws, err := svc.Create(context.Background(), "u1", CreateWorkspaceInput{Name: "  Physics "})
	require.NoError(t, err)
	assert.Equal(t, "Physics", ws.Name)
	assert.Equal(t, models.ModeStudy, ws.Mode)
	assert.Equal(t, defaultWorkspaceColor, ws.Color)

	_, err = svc.Create(context.Background(), "u1", CreateWorkspaceInput{})
	var ve *core.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestConversationAppendAndList(t *testing.T) {
	mem := db.NewMemoryClient()
	seedWorkspace(t, mem, false)
	svc := NewConversationService(mem)
	ctx := context.Background()

	conv, err := svc.Create(ctx, "u1", models.Conversation{ID: "client-id", WorkspaceID: "w1", Title: " Q1 "})
	require.NoError(t, err)
	assert.Equal(t, "client-id", conv.ID)
	assert.Equal(t, "Q1", conv.Title)

	_, err = svc.Append(ctx, "u1", models.Message{ConversationID: conv.ID, Role: "system", Content: "x"})
	var ve *core.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = svc.Append(ctx, "u1", models.Message{ConversationID: "missing", Role: models.RoleUser})
	assert.ErrorIs(t, err, core.ErrNotFound)

	msg, err := svc.Append(ctx, "u1", models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)

	msgs, err := svc.Messages(ctx, "u1", conv.ID)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	convs, err := svc.List(ctx, "u1", "w1")
	require.NoError(t, err)
	assert.Len(t, convs, 1)

	_, err = svc.Create(ctx, "u1", models.Conversation{WorkspaceID: "nope"})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestConversationServiceHidesForeignConversations(t *testing.T) {
	mem := db.NewMemoryClient()
	seedWorkspace(t, mem, false)
	svc := NewConversationService(mem)
	ctx := context.Background()

	conv, err := svc.Create(ctx, "u1", models.Conversation{ID: "c1", WorkspaceID: "w1"})
	require.NoError(t, err)
	_, err = svc.Append(ctx, "u1", models.Message{ConversationID: conv.ID, Role: models.RoleUser, Content: "private"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, "intruder", models.Conversation{WorkspaceID: "w1"})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = svc.List(ctx, "intruder", "w1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = svc.Messages(ctx, "intruder", "c1")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = svc.Append(ctx, "intruder", models.Message{ConversationID: "c1", Role: models.RoleUser, Content: "hijack"})
	assert.ErrorIs(t, err, core.ErrNotFound)

	msgs, err := svc.Messages(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "private", msgs[0].Content)
}

func TestConversationCreateKeepsExistingID(t *testing.T) {
	mem := db.NewMemoryClient()
	seedWorkspace(t, mem, false)
	require.NoError(t, mem.CreateWorkspace(context.Background(), &models.Workspace{ID: "w2", OwnerID: "other", Name: "Mine", Mode: models.ModeStudy}))
	svc := NewConversationService(mem)
	ctx := context.Background()

	first, err := svc.Create(ctx, "u1", models.Conversation{ID: "c1", WorkspaceID: "w1", Title: "Cells"})
	require.NoError(t, err)

	again, err := svc.Create(ctx, "u1", models.Conversation{ID: "c1", WorkspaceID: "w1", Title: "Renamed"})
	require.NoError(t, err)
	assert.Equal(t, first.Title, again.Title)

	_, err = svc.Create(ctx, "other", models.Conversation{ID: "c1", WorkspaceID: "w2"})
	var ve *core.ValidationError
	assert.ErrorAs(t, err, &ve)

	stored, err := mem.GetConversation(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "w1", stored.WorkspaceID)
}
