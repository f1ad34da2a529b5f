package queue

import "time"

// Request is one queued LLM call. PromptText carries the content after
// parameter substitution; Parameters records what was substituted so
// the stored response is reproducible.
type Request struct {
	ID         string            `json:"id"`
	PromptID   string            `json:"promptId"`
	PromptName string            `json:"promptName"`
	PromptText string            `json:"-"`
	Parameters map[string]string `json:"parameters,omitempty"`
	Model      string            `json:"model,omitempty"`

	// TimeoutSeconds overrides the provider's timeout when positive.
	TimeoutSeconds int      `json:"timeoutSeconds,omitempty"`
	Temperature    *float64 `json:"temperature,omitempty"`
	MaxTokens      *int     `json:"maxTokens,omitempty"`
	TopP           *float64 `json:"topP,omitempty"`

	EnqueuedAt time.Time `json:"enqueuedAt"`
}
