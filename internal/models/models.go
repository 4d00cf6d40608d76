package models

import (
	"time"
)

type KnowledgeSource struct {
	ID                string       `db:"id" json:"id"`
	OwnerID           string       `db:"owner_id" json:"owner_id"`
	Name              string       `db:"name" json:"name"`
	Type              SourceType   `db:"type" json:"type"`
	Status            SourceStatus `db:"status" json:"status"`
	StoragePath       string       `db:"storage_path" json:"storage_path,omitempty"`
	OriginURL         string       `db:"origin_url" json:"origin_url,omitempty"`
	MediaType         string       `db:"media_type" json:"media_type,omitempty"`
	ByteSize          int64        `db:"byte_size" json:"byte_size"`
	ChunkCount        int          `db:"chunk_count" json:"chunk_count"`
	CurrentGeneration int64        `db:"current_generation" json:"-"`
	LastProcessedAt   *time.Time   `db:"last_processed_at" json:"last_processed_at,omitempty"`
	ErrorMessage      *string      `db:"error_message" json:"error_message,omitempty"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time    `db:"updated_at" json:"updated_at"`
}

// ChunkMetadata is stored alongside every chunk as jsonb.
type ChunkMetadata struct {
	CharCount   int `json:"char_count"`
	Position    int `json:"position"`
	TotalChunks int `json:"total_chunks"`
}

type DocumentChunk struct {
	ID         string        `db:"id" json:"id"`
	SourceID   string        `db:"source_id" json:"source_id"`
	Generation int64         `db:"generation" json:"-"`
	ChunkIndex int           `db:"chunk_index" json:"chunk_index"`
	Content    string        `db:"content" json:"content"`
	TokenCount int           `db:"token_count" json:"token_count"`
	TermCount  int           `db:"term_count" json:"-"`
	Metadata   ChunkMetadata `db:"metadata" json:"metadata"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}

// WorkspaceSettings mirrors what the product lets users configure.
// HybridSearch, SimilarityThreshold and Reranker are persisted but not consulted by retrieval.
type WorkspaceSettings struct {
	HybridSearch        bool    `json:"hybrid_search"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
	Reranker            string  `json:"reranker,omitempty"`
}

type Workspace struct {
	ID        string            `db:"id" json:"id"`
	OwnerID   string            `db:"owner_id" json:"owner_id"`
	Name      string            `db:"name" json:"name"`
	Mode      AssistantMode     `db:"mode" json:"mode"`
	Color     string            `db:"color" json:"color"`
	Settings  WorkspaceSettings `db:"settings" json:"settings"`
	CreatedAt time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt time.Time         `db:"updated_at" json:"updated_at"`
}

type WorkspaceSource struct {
	WorkspaceID string `db:"workspace_id" json:"workspace_id"`
	SourceID    string `db:"source_id" json:"source_id"`
	Enabled     bool   `db:"enabled" json:"enabled"`
}

type Conversation struct {
	ID          string    `db:"id" json:"id"`
	WorkspaceID string    `db:"workspace_id" json:"workspace_id"`
	Title       string    `db:"title" json:"title"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

type Citation struct {
	Title   string `json:"title"`
	Excerpt string `json:"excerpt,omitempty"`
	Page    *int   `json:"page,omitempty"`
}

type Message struct {
	ID             string     `db:"id" json:"id"`
	ConversationID string     `db:"conversation_id" json:"conversation_id"`
	Role           Role       `db:"role" json:"role"`
	Content        string     `db:"content" json:"content"`
	Citations      []Citation `db:"citations" json:"citations,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
}

// RetrievedChunk is one ranked search hit.
type RetrievedChunk struct {
	ChunkID    string  `json:"id"`
	SourceID   string  `json:"source_id"`
	SourceName string  `json:"source_name"`
	ChunkIndex int     `json:"chunk_index"`
	Content    string  `json:"content"`
	Rank       float64 `json:"rank"`
}
