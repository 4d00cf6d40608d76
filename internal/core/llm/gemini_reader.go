package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/markdave123-py/Sourcebook/internal/core"
)

// GeminiReader extracts document text with a Gemini multimodal model.
type GeminiReader struct {
	client    *genai.Client
	modelName string
}

var _ core.DocumentReader = (*GeminiReader)(nil)

func NewGeminiReader(ctx context.Context, apiKey, modelName string) (*GeminiReader, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key not set")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	if modelName == "" {
		modelName = "gemini-1.5-flash"
	}
	return &GeminiReader{client: cl, modelName: modelName}, nil
}

func (g *GeminiReader) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

// ReadDocument sends the whole payload inline and returns the transcribed text.
func (g *GeminiReader) ReadDocument(ctx context.Context, mimeType string, data []byte) (string, error) {
	m := g.client.GenerativeModel(g.modelName)
	m.SetTemperature(0)

	resp, err := m.GenerateContent(ctx,
		genai.Blob{MIMEType: mimeType, Data: data},
		genai.Text(extractInstruction),
	)
	if err != nil {
		return "", geminiError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", nil
	}

	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return b.String(), nil
}

func geminiError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return core.NewStatusError("pdf-reader", gerr.Code, err)
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return core.NewNetworkError("pdf-reader", err)
	}
	return fmt.Errorf("gemini generate: %w", err)
}
