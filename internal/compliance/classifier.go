package compliance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	apperr "rental-docflow/internal/common/errors"
	"rental-docflow/internal/models"
)

const systemInstruction = `You are a legal compliance analyst for residential rental documents in the United States.
Review the document against the jurisdiction rules provided and general landlord-tenant law.
Respond with a single JSON object and nothing else, using exactly this shape:
{
  "isValid": boolean,
  "issues": [string],
  "jurisdictionCompliance": {"isCompliant": boolean, "requiredRules": [string]},
  "riskLevel": "low" | "medium" | "high"
}
List every missing disclosure or unlawful clause in "issues". Use an empty list when there are none.`

// ClassificationInput is what the classifier sees.
type ClassificationInput struct {
	DocumentText      string
	Jurisdiction      string
	DocumentType      models.DocumentType
	JurisdictionRules []string
}

// Classifier returns the raw structured response of the legal-analysis model.
// Parsing and validation of the response belong to the validator.
type Classifier interface {
	Classify(ctx context.Context, in ClassificationInput) (string, error)
	Model() string
}

type OpenAIClassifier struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIClassifier targets an OpenAI compatible endpoint. An empty baseURL
// uses the public API.
func NewOpenAIClassifier(apiKey, baseURL, model string, temperature float32) *OpenAIClassifier {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	return &OpenAIClassifier{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		temperature: temperature,
	}
}

func (c *OpenAIClassifier) Model() string {
	return c.model
}

func (c *OpenAIClassifier) Classify(ctx context.Context, in ClassificationInput) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemInstruction,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt(in),
			},
		},
		Temperature:    c.temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", apperr.NewExternalServiceUnavailableError("classifier", fmt.Errorf("timed out: %w", err))
		}
		return "", apperr.NewExternalServiceUnavailableError("classifier", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.NewClassifierResponseInvalidError("no choices in classifier response")
	}
	return resp.Choices[0].Message.Content, nil
}

func userPrompt(in ClassificationInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Jurisdiction: %s\n", strings.ToUpper(in.Jurisdiction))
	fmt.Fprintf(&sb, "Document type: %s\n", in.DocumentType)
	sb.WriteString("Jurisdiction rules:\n")
	if len(in.JurisdictionRules) == 0 {
		sb.WriteString("- none on file; apply general landlord-tenant law\n")
	}
	for _, r := range in.JurisdictionRules {
		sb.WriteString("- ")
		sb.WriteString(r)
		sb.WriteString("\n")
	}
	sb.WriteString("\nDocument text:\n")
	sb.WriteString(in.DocumentText)
	return sb.String()
}

// timedClassify bounds a single classifier call.
func timedClassify(ctx context.Context, c Classifier, in ClassificationInput, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		return c.Classify(ctx, in)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := c.Classify(ctx, in)
	if err != nil && ctx.Err() == context.DeadlineExceeded && !errors.Is(err, apperr.ErrExternalServiceUnavailable) {
		return "", apperr.NewExternalServiceUnavailableError("classifier", fmt.Errorf("timed out after %s: %w", timeout, err))
	}
	return out, err
}
