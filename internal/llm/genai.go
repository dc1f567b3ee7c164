package llm

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// GenAIPlanner is the production Planner backed by Google's Gemini API.
type GenAIPlanner struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

// NewGenAIPlanner creates the Gemini-backed planner.
func NewGenAIPlanner(ctx context.Context, apiKey, model string, timeout time.Duration) (*GenAIPlanner, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &GenAIPlanner{client: client, model: model, timeout: timeout}, nil
}

// GeneratePlan asks the model for a new plan body. A timeout or API error
// is returned as-is; the caller treats it as retryable and commits nothing.
func (p *GenAIPlanner) GeneratePlan(ctx context.Context, req PlanRequest) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	contents := []*genai.Content{
		genai.NewContentFromText(buildPrompt(req), genai.RoleUser),
	}
	result, err := p.client.Models.GenerateContent(ctx, p.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("failed to generate plan: %w", err)
	}
	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("plan generation returned an empty response")
	}
	return text, nil
}
