package extraction

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenRouterURL = "https://openrouter.ai/api/v1"

// OpenRouter implements the Extractor interface using the OpenRouter
// chat-completions API
type OpenRouter struct {
	client *openai.Client
	model  string
}

// NewOpenRouter creates a new OpenRouter Extractor instance
func NewOpenRouter(apiKey string, modelName string, baseURL string) (*OpenRouter, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openrouter api key is required")
	}
	if modelName == "" {
		modelName = "google/gemini-2.0-flash-001"
	}
	if baseURL == "" {
		baseURL = defaultOpenRouterURL
	}

	cfg := openai.DefaultConfig(apiKey)
	cfg.BaseURL = baseURL

	return &OpenRouter{
		client: openai.NewClientWithConfig(cfg),
		model:  modelName,
	}, nil
}

// Extract analyzes a receipt image and returns the raw structured fields
func (o *OpenRouter) Extract(ctx context.Context, imageData []byte, contentType string) (*ReceiptData, error) {
	ctx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()

	mime := strings.ToLower(strings.TrimSpace(contentType))
	if mime == "" {
		mime = "image/jpeg"
	}
	dataURI := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(imageData))

	req := openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: receiptScanPrompt + "\nReturn a valid JSON object strictly.",
					},
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURI},
					},
				},
			},
		},
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		// Surface the provider-reported message when one exists
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			return nil, fmt.Errorf("openrouter: %s", apiErr.Message)
		}
		return nil, fmt.Errorf("calling openrouter: %w", err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("no content in openrouter response")
	}

	data, err := parseReceiptJSON(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	return data, nil
}

// Close closes the OpenRouter client (no-op for HTTP client)
func (o *OpenRouter) Close() error {
	return nil
}
