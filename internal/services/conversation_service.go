package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/models"
)

type ConversationService struct {
	db core.DbClient
}

func NewConversationService(db core.DbClient) *ConversationService {
	return &ConversationService{db: db}
}

// Create stores a conversation in a workspace owned by ownerID. A caller-supplied id
// is kept so that clients can address the conversation before the response arrives;
// repeating it returns the stored conversation.
func (s *ConversationService) Create(ctx context.Context, ownerID string, conv models.Conversation) (*models.Conversation, error) {
	if conv.WorkspaceID == "" {
		return nil, core.NewValidationError("workspaceId", "is required")
	}
	if _, err := ownedWorkspace(ctx, s.db, ownerID, conv.WorkspaceID); err != nil {
		return nil, err
	}
	if conv.ID == "" {
		conv.ID = uuid.NewString()
	} else {
		existing, err := s.db.GetConversation(ctx, conv.ID)
		switch {
		case err == nil:
			if _, werr := ownedWorkspace(ctx, s.db, ownerID, existing.WorkspaceID); werr != nil || existing.WorkspaceID != conv.WorkspaceID {
				return nil, core.NewValidationError("id", "is already taken")
			}
			return existing, nil
		case !errors.Is(err, core.ErrNotFound):
			return nil, err
		}
	}
	conv.Title = strings.TrimSpace(conv.Title)
	if conv.Title == "" {
		conv.Title = "New conversation"
	}
	now := time.Now().UTC()
	conv.CreatedAt, conv.UpdatedAt = now, now

	if err := s.db.CreateConversation(ctx, &conv); err != nil {
		return nil, core.NewPersistenceError("create conversation", err)
	}
	return &conv, nil
}

func (s *ConversationService) List(ctx context.Context, ownerID, workspaceID string) ([]models.Conversation, error) {
	if workspaceID == "" {
		return nil, core.NewValidationError("workspaceId", "is required")
	}
	if _, err := ownedWorkspace(ctx, s.db, ownerID, workspaceID); err != nil {
		return nil, err
	}
	out, err := s.db.ListConversations(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Conversation{}
	}
	return out, nil
}

// owned resolves a conversation through its workspace to ownerID.
func (s *ConversationService) owned(ctx context.Context, ownerID, conversationID string) (*models.Conversation, error) {
	conv, err := s.db.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if _, err := ownedWorkspace(ctx, s.db, ownerID, conv.WorkspaceID); err != nil {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, core.ErrNotFound)
	}
	return conv, nil
}

func (s *ConversationService) Messages(ctx context.Context, ownerID, conversationID string) ([]models.Message, error) {
	if _, err := s.owned(ctx, ownerID, conversationID); err != nil {
		return nil, err
	}
	out, err := s.db.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Message{}
	}
	return out, nil
}

// Append persists one message. Messages are never updated afterwards.
func (s *ConversationService) Append(ctx context.Context, ownerID string, msg models.Message) (*models.Message, error) {
	if !msg.Role.Valid() {
		return nil, core.NewValidationError("role", "must be user or assistant")
	}
	if _, err := s.owned(ctx, ownerID, msg.ConversationID); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	if err := s.db.AppendMessage(ctx, &msg); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, err
		}
		return nil, core.NewPersistenceError("append message", err)
	}
	return &msg, nil
}
