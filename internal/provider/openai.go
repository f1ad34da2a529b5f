package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// OpenAIAdapter talks to any OpenAI-compatible hosted API (OpenAI,
// OpenRouter, Tinfoil). The provider type only changes the default base
// URL and the credential shape; the wire protocol is identical.
type OpenAIAdapter struct {
	kind    Type
	baseURL string
	apiKey  string
	client  *http.Client
}

var hostedDefaults = map[Type]string{
	TypeOpenAI:     "https://api.openai.com/v1",
	TypeOpenRouter: "https://openrouter.ai/api/v1",
	TypeTinfoil:    "https://inference.tinfoil.sh/v1",
}

// NewOpenAIAdapter creates an adapter for a hosted backend.
func NewOpenAIAdapter(kind Type, baseURL, apiKey string) *OpenAIAdapter {
	if baseURL == "" {
		baseURL = hostedDefaults[kind]
	}
	return &OpenAIAdapter{
		kind:    kind,
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{},
	}
}

func (a *OpenAIAdapter) Type() Type { return a.kind }

// Validate probes the model listing endpoint with the configured key.
func (a *OpenAIAdapter) Validate(ctx context.Context) ValidationResult {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, a.baseURL+"/models", nil)
	if err != nil {
		return ValidationResult{Valid: false, Error: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return ValidationResult{Valid: false, Error: fmt.Sprintf("backend unreachable at %s: %v", a.baseURL, err)}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return ValidationResult{Valid: true, Message: "backend reachable, credentials accepted"}
	case http.StatusUnauthorized, http.StatusForbidden:
		return ValidationResult{Valid: false, Error: "backend rejected credentials"}
	default:
		return ValidationResult{Valid: false, Error: fmt.Sprintf("backend returned status %d", resp.StatusCode)}
	}
}

// ListModels enumerates available models. A reachable backend with no
// models yields an empty list.
func (a *OpenAIAdapter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/models", nil)
	if err != nil {
		return nil, WrapError(CodeUnknown, "create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, classifyStatus(resp.StatusCode, string(body))
	}

	var result struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, WrapError(CodeUnknown, "decode model listing", err)
	}

	models := make([]ModelInfo, 0, len(result.Data))
	for _, m := range result.Data {
		models = append(models, ModelInfo{Name: m.ID, Provider: a.kind})
	}
	return models, nil
}

// Generate performs a non-streaming chat completion.
func (a *OpenAIAdapter) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*GenerateResult, error) {
	if opts.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	payload := map[string]interface{}{
		"model": opts.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"stream": false,
	}
	if opts.Temperature != nil {
		payload["temperature"] = *opts.Temperature
	}
	if opts.MaxTokens != nil {
		payload["max_tokens"] = *opts.MaxTokens
	}
	if opts.TopP != nil {
		payload["top_p"] = *opts.TopP
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(CodeUnknown, "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(CodeUnknown, "create request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransportError(ctx, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp.StatusCode, string(respBody))
	}

	var result struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, WrapError(CodeUnknown, "decode response", err)
	}

	if len(result.Choices) == 0 {
		return nil, NewError(CodeUnknown, "no choices in response")
	}

	return &GenerateResult{
		Content: result.Choices[0].Message.Content,
		Usage: TokenUsage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
		Model:        result.Model,
		FinishReason: result.Choices[0].FinishReason,
	}, nil
}
