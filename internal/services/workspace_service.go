package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/core/retrieval"
	"github.com/markdave123-py/Sourcebook/internal/models"
)

const defaultWorkspaceColor = "#4f46e5"

type WorkspaceService struct {
	db        core.DbClient
	retriever *retrieval.Engine
}

func NewWorkspaceService(db core.DbClient, retriever *retrieval.Engine) *WorkspaceService {
	return &WorkspaceService{db: db, retriever: retriever}
}

type CreateWorkspaceInput struct {
	Name     string                   `json:"name"`
	Mode     string                   `json:"mode"`
	Color    string                   `json:"color"`
	Settings models.WorkspaceSettings `json:"settings"`
}

func (s *WorkspaceService) Create(ctx context.Context, ownerID string, in CreateWorkspaceInput) (*models.Workspace, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, core.NewValidationError("name", "is required")
	}
	mode, err := models.ParseAssistantMode(in.Mode)
	if err != nil {
		return nil, core.NewValidationError("mode", err.Error())
	}
	color := in.Color
	if color == "" {
		color = defaultWorkspaceColor
	}

	now := time.Now().UTC()
	ws := &models.Workspace{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		Mode:      mode,
		Color:     color,
		Settings:  in.Settings,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.db.CreateWorkspace(ctx, ws); err != nil {
		return nil, core.NewPersistenceError("create workspace", err)
	}
	return ws, nil
}

func (s *WorkspaceService) Get(ctx context.Context, ownerID, id string) (*models.Workspace, error) {
	return ownedWorkspace(ctx, s.db, ownerID, id)
}

// ownedWorkspace loads a workspace for ownerID. Someone else's workspace is reported
// as missing.
func ownedWorkspace(ctx context.Context, db core.DbClient, ownerID, id string) (*models.Workspace, error) {
	ws, err := db.GetWorkspace(ctx, id)
	if err != nil {
		return nil, err
	}
	if ws.OwnerID != ownerID {
		return nil, fmt.Errorf("workspace %s: %w", id, core.ErrNotFound)
	}
	return ws, nil
}

// SetSource links an owned source to an owned workspace, or toggles an existing link.
func (s *WorkspaceService) SetSource(ctx context.Context, ownerID, workspaceID, sourceID string, enabled bool) error {
	if _, err := s.Get(ctx, ownerID, workspaceID); err != nil {
		return err
	}
	src, err := s.db.GetSourceByID(ctx, sourceID)
	if err != nil {
		return err
	}
	if src.OwnerID != ownerID {
		return fmt.Errorf("source %s: %w", sourceID, core.ErrNotFound)
	}
	return s.db.SetWorkspaceSource(ctx, models.WorkspaceSource{
		WorkspaceID: workspaceID,
		SourceID:    sourceID,
		Enabled:     enabled,
	})
}

func (s *WorkspaceService) Search(ctx context.Context, ownerID, workspaceID, query string, limit int) ([]models.RetrievedChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, core.NewValidationError("q", "is required")
	}
	if _, err := s.Get(ctx, ownerID, workspaceID); err != nil {
		return nil, err
	}
	return s.retriever.Retrieve(ctx, query, workspaceID, limit)
}
