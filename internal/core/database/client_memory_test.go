package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/models"
)

func seedSource(t *testing.T, c *MemoryClient, id, name string) {
	t.Helper()
	require.NoError(t, c.CreateSource(context.Background(), &models.KnowledgeSource{
		ID: id, OwnerID: "owner-1", Name: name, Type: models.SourceTypeTXT, Status: models.StatusPending,
	}))
}

func commit(t *testing.T, c *MemoryClient, id string, contents ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, c.MarkSourceProcessing(ctx, id))
	var chunks []models.DocumentChunk
	for i, content := range contents {
		chunks = append(chunks, models.DocumentChunk{ID: id + "-" + content, ChunkIndex: i, Content: content})
	}
	_, err := c.CommitChunks(ctx, id, chunks, time.Now())
	require.NoError(t, err)
}

func TestMemoryStatusLifecycle(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient()
	seedSource(t, c, "s1", "Notes")

	assert.ErrorIs(t, c.MarkSourceFailed(ctx, "s1", "early"), core.ErrInvalidTransition)
	assert.ErrorIs(t, c.ResetSourceForReingest(ctx, "s1"), core.ErrInvalidTransition)

	require.NoError(t, c.MarkSourceProcessing(ctx, "s1"))
	assert.ErrorIs(t, c.MarkSourceProcessing(ctx, "s1"), core.ErrInvalidTransition)
	require.NoError(t, c.MarkSourceFailed(ctx, "s1", "corrupt file"))

	src, err := c.GetSourceByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusError, src.Status)
	require.NotNil(t, src.ErrorMessage)
	assert.Equal(t, "corrupt file", *src.ErrorMessage)

	assert.ErrorIs(t, c.MarkSourceProcessing(ctx, "s1"), core.ErrInvalidTransition)
	require.NoError(t, c.ResetSourceForReingest(ctx, "s1"))
	src, err = c.GetSourceByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, src.Status)
	assert.Nil(t, src.ErrorMessage)

	_, err = c.GetSourceByID(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemoryCommitReplacesGeneration(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient()
	seedSource(t, c, "s1", "Notes")

	commit(t, c, "s1", "old one", "old two", "old three")
	require.NoError(t, c.ResetSourceForReingest(ctx, "s1"))
	commit(t, c, "s1", "new one", "new two")

	chunks, err := c.GetChunksBySource(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex)
		assert.EqualValues(t, 2, ch.Generation)
	}

	src, err := c.GetSourceByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusReady, src.Status)
	assert.Equal(t, 2, src.ChunkCount)
	assert.NotNil(t, src.LastProcessedAt)
}

func TestMemorySearchRespectsScope(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient()
	seedSource(t, c, "bio", "Biology")
	seedSource(t, c, "chem", "Chemistry")
	commit(t, c, "bio", "mitochondria produce energy", "ribosomes build proteins")
	commit(t, c, "chem", "energy is conserved in reactions")

	got, err := c.SearchChunks(ctx, "energy", []string{"bio"}, 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Biology", got[0].SourceName)
	assert.Equal(t, 0, got[0].ChunkIndex)

	got, err = c.SearchChunks(ctx, "energy", []string{"bio", "chem"}, 5)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = c.SearchChunks(ctx, "energy", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryWorkspaceLinks(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient()
	seedSource(t, c, "s1", "One")
	seedSource(t, c, "s2", "Two")
	require.NoError(t, c.CreateWorkspace(ctx, &models.Workspace{ID: "w1", Name: "Exam prep", Mode: models.ModeExam}))

	require.NoError(t, c.SetWorkspaceSource(ctx, models.WorkspaceSource{WorkspaceID: "w1", SourceID: "s2", Enabled: true}))
	require.NoError(t, c.SetWorkspaceSource(ctx, models.WorkspaceSource{WorkspaceID: "w1", SourceID: "s1", Enabled: true}))
	require.NoError(t, c.SetWorkspaceSource(ctx, models.WorkspaceSource{WorkspaceID: "w1", SourceID: "s2", Enabled: false}))

	ids, err := c.EnabledSourceIDs(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)

	err = c.SetWorkspaceSource(ctx, models.WorkspaceSource{WorkspaceID: "w1", SourceID: "nope", Enabled: true})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemoryMessagesAreAppendOnly(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryClient()
	require.NoError(t, c.CreateConversation(ctx, &models.Conversation{ID: "conv", WorkspaceID: "w1", Title: "Q"}))

	page := 3
	require.NoError(t, c.AppendMessage(ctx, &models.Message{ID: "m1", ConversationID: "conv", Role: models.RoleUser, Content: "hi"}))
	require.NoError(t, c.AppendMessage(ctx, &models.Message{
		ID: "m2", ConversationID: "conv", Role: models.RoleAssistant, Content: "hello [Doc, page 3]",
		Citations: []models.Citation{{Title: "Doc", Page: &page}},
	}))

	msgs, err := c.ListMessages(ctx, "conv")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "m1", msgs[0].ID)
	require.Len(t, msgs[1].Citations, 1)
	assert.Equal(t, 3, *msgs[1].Citations[0].Page)

	err = c.AppendMessage(ctx, &models.Message{ID: "m3", ConversationID: "other", Role: models.RoleUser})
	assert.ErrorIs(t, err, core.ErrNotFound)
}
