package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/models"
)

type State int

const (
	StateIdle State = iota
	StateSending
	StateStreaming
	StateCompleted
	StateFailed
)

var stateNames = [...]string{"idle", "sending", "streaming", "completed", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var stateTransitions = map[State][]State{
	StateIdle:      {StateSending},
	StateSending:   {StateStreaming, StateFailed},
	StateStreaming: {StateCompleted, StateFailed},
}

func CanTransition(from, to State) bool {
	for _, next := range stateTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

const titleLimit = 50

// Request is the body of POST /chat.
type Request struct {
	Messages    []core.ChatMessage   `json:"messages"`
	WorkspaceID string               `json:"workspaceId"`
	Mode        models.AssistantMode `json:"mode"`
}

// Transport opens the completion event stream. A non-success response must be
// returned as a *core.TransientServiceError.
type Transport interface {
	Stream(ctx context.Context, req Request) (io.ReadCloser, error)
}

// ConversationStore persists the transcript. core.DbClient satisfies it.
type ConversationStore interface {
	CreateConversation(ctx context.Context, conv *models.Conversation) error
	AppendMessage(ctx context.Context, msg *models.Message) error
}

// Thread is a client-side conversation with a workspace.
type Thread struct {
	WorkspaceID    string
	Mode           models.AssistantMode
	ConversationID string
	Messages       []models.Message

	// OnConversation fires once, when the first message creates the conversation.
	OnConversation func(id string)
	// OnDelta receives every delta together with the content accumulated so far.
	OnDelta func(delta, content string)
	// OnState observes every session state change.
	OnState func(State)

	transport Transport
	store     ConversationStore
	now       func() time.Time
}

func NewThread(transport Transport, store ConversationStore, workspaceID string, mode models.AssistantMode) *Thread {
	return &Thread{
		WorkspaceID: workspaceID,
		Mode:        mode,
		transport:   transport,
		store:       store,
		now:         time.Now,
	}
}

// Session tracks one request/response cycle.
type Session struct {
	state   State
	onState func(State)
}

func (s *Session) State() State { return s.state }

func (s *Session) to(next State) error {
	if !CanTransition(s.state, next) {
		return fmt.Errorf("chat session %s -> %s: %w", s.state, next, core.ErrInvalidTransition)
	}
	s.state = next
	if s.onState != nil {
		s.onState(next)
	}
	return nil
}

// Send submits input and streams the assistant reply into t.Messages.
// On failure the local assistant placeholder is dropped; the user message and
// the conversation stay, both locally and in the store.
func (t *Thread) Send(ctx context.Context, input string) (*models.Message, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, core.NewValidationError("message", "is empty")
	}

	s := &Session{state: StateIdle, onState: t.OnState}
	if err := s.to(StateSending); err != nil {
		return nil, err
	}

	if t.ConversationID == "" {
		conv := &models.Conversation{
			ID:          uuid.NewString(),
			WorkspaceID: t.WorkspaceID,
			Title:       conversationTitle(input),
			CreatedAt:   t.now(),
		}
		if err := t.store.CreateConversation(ctx, conv); err != nil {
			return nil, t.abort(s, core.NewPersistenceError("create conversation", err), false)
		}
		t.ConversationID = conv.ID
		if t.OnConversation != nil {
			t.OnConversation(conv.ID)
		}
	}

	user := models.Message{
		ID:             uuid.NewString(),
		ConversationID: t.ConversationID,
		Role:           models.RoleUser,
		Content:        input,
		CreatedAt:      t.now(),
	}
	if err := t.store.AppendMessage(ctx, &user); err != nil {
		return nil, t.abort(s, core.NewPersistenceError("append user message", err), false)
	}
	t.Messages = append(t.Messages, user)

	req := Request{Messages: history(t.Messages), WorkspaceID: t.WorkspaceID, Mode: t.Mode}
	t.Messages = append(t.Messages, models.Message{
		ID:             uuid.NewString(),
		ConversationID: t.ConversationID,
		Role:           models.RoleAssistant,
	})

	body, err := t.transport.Stream(ctx, req)
	if err != nil {
		return nil, t.abort(s, err, true)
	}
	defer body.Close()

	if err := s.to(StateStreaming); err != nil {
		return nil, t.abort(s, err, true)
	}

	var content strings.Builder
	dec := NewDecoder(body)
	for {
		delta, err := dec.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, t.abort(s, err, true)
		}
		content.WriteString(delta)
		t.placeholder().Content = content.String()
		if t.OnDelta != nil {
			t.OnDelta(delta, content.String())
		}
	}

	final := *t.placeholder()
	final.Content = content.String()
	final.Citations = ExtractCitations(final.Content)
	final.CreatedAt = t.now()
	if err := t.store.AppendMessage(ctx, &final); err != nil {
		return nil, t.abort(s, core.NewPersistenceError("append assistant message", err), true)
	}
	*t.placeholder() = final

	if err := s.to(StateCompleted); err != nil {
		return nil, err
	}
	return &final, nil
}

func (t *Thread) placeholder() *models.Message {
	return &t.Messages[len(t.Messages)-1]
}

func (t *Thread) abort(s *Session, cause error, dropPlaceholder bool) error {
	if dropPlaceholder && len(t.Messages) > 0 && t.placeholder().Role == models.RoleAssistant {
		t.Messages = t.Messages[:len(t.Messages)-1]
	}
	if err := s.to(StateFailed); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func history(msgs []models.Message) []core.ChatMessage {
	out := make([]core.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, core.ChatMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

func conversationTitle(input string) string {
	r := []rune(input)
	if len(r) <= titleLimit {
		return input
	}
	return strings.TrimSpace(string(r[:titleLimit])) + "…"
}

// Unanswered reports whether the transcript ends with a user message that never got
// a reply, e.g. after a crash between the two persistence writes.
func Unanswered(msgs []models.Message) bool {
	return len(msgs) > 0 && msgs[len(msgs)-1].Role == models.RoleUser
}
