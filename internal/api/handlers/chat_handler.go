package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	appMiddleware "github.com/markdave123-py/Sourcebook/internal/api/middlewares"
	"github.com/markdave123-py/Sourcebook/internal/core/chat"
	"github.com/markdave123-py/Sourcebook/internal/logger"
	"github.com/markdave123-py/Sourcebook/internal/metrics"
	"github.com/markdave123-py/Sourcebook/internal/models"
	"github.com/markdave123-py/Sourcebook/internal/services"
)

type ChatHandler struct {
	chat *services.ChatService
}

func NewChatHandler(chat *services.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type deltaChoice struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
}

type deltaFrame struct {
	Choices []deltaChoice `json:"choices"`
}

// Chat relays the grounded completion as text/event-stream frames ending in data: [DONE].
// Errors before the first byte are answered as {error} with 429, 402 or 500.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := appMiddleware.UserIDFromContext(ctx)

	var req chat.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	mode := string(req.Mode)
	if mode == "" {
		mode = string(models.ModeStudy)
	}

	stream, err := h.chat.Stream(ctx, userID, req)
	if err != nil {
		metrics.ChatStreams.WithLabelValues(mode, "error").Inc()
		writeError(w, err)
		return
	}
	defer stream.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, errors.New("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		delta, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			metrics.ChatStreams.WithLabelValues(mode, "aborted").Inc()
			logger.Warn("chat stream aborted", zap.String("user_id", userID), zap.Error(err))
			// Dropping the connection lets the client tell a failure from a finished answer.
			panic(http.ErrAbortHandler)
		}

		frame := deltaFrame{Choices: []deltaChoice{{}}}
		frame.Choices[0].Delta.Content = delta
		payload, err := json.Marshal(frame)
		if err != nil {
			panic(http.ErrAbortHandler)
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			return
		}
		flusher.Flush()
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
	metrics.ChatStreams.WithLabelValues(mode, "completed").Inc()
}

