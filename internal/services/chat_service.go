package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/core/chat"
	"github.com/markdave123-py/Sourcebook/internal/core/retrieval"
	"github.com/markdave123-py/Sourcebook/internal/logger"
	"github.com/markdave123-py/Sourcebook/internal/models"
)

type ChatService struct {
	db        core.DbClient
	retriever *retrieval.Engine
	completer core.ChatCompleter
}

func NewChatService(db core.DbClient, retriever *retrieval.Engine, completer core.ChatCompleter) *ChatService {
	return &ChatService{db: db, retriever: retriever, completer: completer}
}

// Stream grounds the last user message in the sources of a workspace owned by
// ownerID and opens a completion stream with the assembled system prompt.
func (s *ChatService) Stream(ctx context.Context, ownerID string, req chat.Request) (core.CompletionStream, error) {
	if req.WorkspaceID == "" {
		return nil, core.NewValidationError("workspaceId", "is required")
	}
	if len(req.Messages) == 0 {
		return nil, core.NewValidationError("messages", "must not be empty")
	}
	mode, err := models.ParseAssistantMode(string(req.Mode))
	if err != nil {
		return nil, core.NewValidationError("mode", err.Error())
	}

	query := lastUserMessage(req.Messages)
	if query == "" {
		return nil, core.NewValidationError("messages", "no user message to answer")
	}
	if _, err := ownedWorkspace(ctx, s.db, ownerID, req.WorkspaceID); err != nil {
		return nil, err
	}

	hits, err := s.retriever.Retrieve(ctx, query, req.WorkspaceID, 0)
	if err != nil {
		return nil, err
	}
	prompt := retrieval.BuildSystemPrompt(mode, retrieval.AssembleContext(hits))

	logger.Debug("chat grounded",
		zap.String("workspace_id", req.WorkspaceID),
		zap.String("mode", string(mode)),
		zap.Int("chunks", len(hits)),
	)
	return s.completer.StreamChat(ctx, prompt, req.Messages)
}

func lastUserMessage(msgs []core.ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == models.RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
