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

const (
	defaultOllamaBaseURL = "http://localhost:11434"
	probeTimeout         = 5 * time.Second
)

// OllamaAdapter talks to a local Ollama daemon. No credential is
// required; the daemon is assumed to listen on localhost.
type OllamaAdapter struct {
	baseURL string
	client  *http.Client
}

// NewOllamaAdapter creates an adapter for the daemon at baseURL, or the
// default localhost address when baseURL is empty.
func NewOllamaAdapter(baseURL string) *OllamaAdapter {
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}
	return &OllamaAdapter{
		baseURL: baseURL,
		client:  &http.Client{},
	}
}

func (a *OllamaAdapter) Type() Type { return TypeOllama }

// Validate probes the daemon's tag listing endpoint.
func (a *OllamaAdapter) Validate(ctx context.Context) ValidationResult {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return ValidationResult{Valid: false, Error: err.Error()}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return ValidationResult{Valid: false, Error: fmt.Sprintf("ollama daemon unreachable at %s: %v", a.baseURL, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ValidationResult{Valid: false, Error: fmt.Sprintf("ollama daemon returned status %d", resp.StatusCode)}
	}
	return ValidationResult{Valid: true, Message: "ollama daemon reachable"}
}

// ListModels enumerates installed models. An empty installation yields
// an empty list, not an error.
func (a *OllamaAdapter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, WrapError(CodeUnknown, "create request", err)
	}

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
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, WrapError(CodeUnknown, "decode tag listing", err)
	}

	models := make([]ModelInfo, 0, len(result.Models))
	for _, m := range result.Models {
		models = append(models, ModelInfo{Name: m.Name, Provider: TypeOllama})
	}
	return models, nil
}

// Generate performs a non-streaming chat completion against the daemon.
func (a *OllamaAdapter) Generate(ctx context.Context, prompt string, opts GenerateOptions) (*GenerateResult, error) {
	if opts.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(opts.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	options := map[string]interface{}{}
	if opts.Temperature != nil {
		options["temperature"] = *opts.Temperature
	}
	if opts.MaxTokens != nil {
		options["num_predict"] = *opts.MaxTokens
	}
	if opts.TopP != nil {
		options["top_p"] = *opts.TopP
	}

	payload := map[string]interface{}{
		"model": opts.Model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"stream": false,
	}
	if len(options) > 0 {
		payload["options"] = options
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, WrapError(CodeUnknown, "marshal request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, WrapError(CodeUnknown, "create request", err)
	}
	req.Header.Set("Content-Type", "application/json")

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
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		DoneReason      string `json:"done_reason"`
		PromptEvalCount int    `json:"prompt_eval_count"`
		EvalCount       int    `json:"eval_count"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, WrapError(CodeUnknown, "decode response", err)
	}

	return &GenerateResult{
		Content: result.Message.Content,
		Usage: TokenUsage{
			PromptTokens:     result.PromptEvalCount,
			CompletionTokens: result.EvalCount,
			TotalTokens:      result.PromptEvalCount + result.EvalCount,
		},
		Model:        result.Model,
		FinishReason: result.DoneReason,
	}, nil
}
