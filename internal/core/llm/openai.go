package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/markdave123-py/Sourcebook/internal/core"
	"github.com/markdave123-py/Sourcebook/internal/logger"
	"github.com/markdave123-py/Sourcebook/internal/models"
)

const extractInstruction = `Extract all text content from this document. Return only the extracted text, verbatim,
preserving headings, paragraphs, lists and table rows. Do not summarize, translate or comment.`

// OpenAIClient talks to any OpenAI-compatible gateway. It streams chat completions
// and reads PDFs through a multi-part message.
type OpenAIClient struct {
	client       *openai.Client
	chatModel    string
	extractModel string
}

var (
	_ core.ChatCompleter  = (*OpenAIClient)(nil)
	_ core.DocumentReader = (*OpenAIClient)(nil)
)

func NewOpenAIClient(baseURL, apiKey, chatModel, extractModel string) *OpenAIClient {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if extractModel == "" {
		extractModel = chatModel
	}
	logger.Info("LLM client initialized",
		zap.String("base_url", config.BaseURL),
		zap.String("chat_model", chatModel),
		zap.String("extract_model", extractModel),
	)
	return &OpenAIClient{
		client:       openai.NewClientWithConfig(config),
		chatModel:    chatModel,
		extractModel: extractModel,
	}
}

// StreamChat opens a streaming completion with systemPrompt ahead of history.
func (c *OpenAIClient) StreamChat(ctx context.Context, systemPrompt string, history []core.ChatMessage) (core.CompletionStream, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, m := range history {
		role := openai.ChatMessageRoleUser
		if m.Role == models.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    c.chatModel,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, classify("chat", err)
	}
	return &openaiStream{stream: stream}, nil
}

type openaiStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openaiStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", classify("chat", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
			continue
		}
		return resp.Choices[0].Delta.Content, nil
	}
}

func (s *openaiStream) Close() error {
	s.stream.Close()
	return nil
}

// ReadDocument submits the payload as a base64 data URL next to the extraction instruction.
func (c *OpenAIClient) ReadDocument(ctx context.Context, mimeType string, data []byte) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.extractModel,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: extractInstruction},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
			},
		}},
	})
	if err != nil {
		return "", classify("pdf-reader", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no extraction result returned")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// classify maps go-openai errors onto the transient error categories.
func classify(service string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return core.NewStatusError(service, apiErr.HTTPStatusCode, err)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return core.NewStatusError(service, reqErr.HTTPStatusCode, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return core.NewNetworkError(service, err)
}
