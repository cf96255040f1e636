package nl2sql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type GeminiConfig struct {
	APIKey      string
	Project     string
	Location    string
	Model       string
	Temperature float64
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiCompleter calls Gemini through the Vertex AI backend when a project
// is configured and through the Gemini API with a key otherwise.
type GeminiCompleter struct {
	models      contentGenerator
	model       string
	temperature float32
}

func NewGeminiCompleter(ctx context.Context, cfg GeminiConfig) (*GeminiCompleter, error) {
	clientConfig := &genai.ClientConfig{}
	switch {
	case strings.TrimSpace(cfg.Project) != "":
		clientConfig.Backend = genai.BackendVertexAI
		clientConfig.Project = strings.TrimSpace(cfg.Project)
		clientConfig.Location = strings.TrimSpace(cfg.Location)
		if clientConfig.Location == "" {
			clientConfig.Location = "us-central1"
		}
	case strings.TrimSpace(cfg.APIKey) != "":
		clientConfig.Backend = genai.BackendGeminiAPI
		clientConfig.APIKey = strings.TrimSpace(cfg.APIKey)
	default:
		return nil, fmt.Errorf("gemini requires an api key or a project")
	}

	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return newGeminiCompleter(client.Models, cfg), nil
}

func newGeminiCompleter(models contentGenerator, cfg GeminiConfig) *GeminiCompleter {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiCompleter{
		models:      models,
		model:       model,
		temperature: float32(cfg.Temperature),
	}
}

func (c *GeminiCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.models.GenerateContent(ctx, c.model, genai.Text(prompt), &genai.GenerateContentConfig{
		Temperature: genai.Ptr(c.temperature),
	})
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			if isRetryableStatus(apiErr.Code) {
				return "", &TransportError{StatusCode: apiErr.Code, Err: err}
			}
			return "", fmt.Errorf("generate content: %w", err)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &TransportError{Err: fmt.Errorf("generate content: %w", err)}
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("empty gemini response")
	}
	return resp.Text(), nil
}
