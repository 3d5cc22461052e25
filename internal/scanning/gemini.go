package scanning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// Gemini implements the Extractor interface using Google Gemini
type Gemini struct {
	client    *genai.Client
	modelName string
	timeout   time.Duration
}

// NewGemini creates a new Gemini Extractor instance
func NewGemini(apiKey string, modelName string, timeout time.Duration) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &Gemini{
		client:    client,
		modelName: modelName,
		timeout:   timeout,
	}, nil
}

// Extract sends the image and prompt to Gemini once and returns the reply text
func (g *Gemini) Extract(ctx context.Context, req ExtractionRequest) (ExtractionResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	modelName := req.Model
	if modelName == "" {
		modelName = g.modelName
	}
	model := g.client.GenerativeModel(modelName)
	model.SetTemperature(0)

	// genai.ImageData expects just the format suffix (e.g., "png"), not the full MIME type
	format := strings.TrimPrefix(req.Image.MIMEType, "image/")
	if format == "" {
		format = "png"
	}
	parts := []genai.Part{
		genai.ImageData(format, req.Image.Data),
		genai.Text(req.Prompt),
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return ExtractionResponse{}, classifyGeminiError(err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ExtractionResponse{}, newEndpointError(http.StatusOK, []byte("no candidates in gemini response"))
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}

	return ExtractionResponse{Text: text.String()}, nil
}

func classifyGeminiError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return newEndpointError(apiErr.Code, []byte(apiErr.Message))
	}
	var blocked *genai.BlockedError
	if errors.As(err, &blocked) {
		return newEndpointError(http.StatusUnprocessableEntity, []byte(blocked.Error()))
	}
	return unreachable(err)
}

// Close closes the Gemini client
func (g *Gemini) Close() error {
	return g.client.Close()
}
