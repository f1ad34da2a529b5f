// Package provider abstracts the interchangeable text-generation
// backends: a local Ollama daemon and OpenAI-compatible hosted APIs.
package provider

import "context"

// Type identifies a backend kind. The set is closed; matching on input
// is case-insensitive (see Normalize).
type Type string

const (
	TypeOllama     Type = "ollama"
	TypeOpenAI     Type = "openai"
	TypeOpenRouter Type = "openrouter"
	TypeTinfoil    Type = "tinfoil"
)

// KnownTypes lists every supported provider type.
var KnownTypes = []Type{TypeOllama, TypeOpenAI, TypeOpenRouter, TypeTinfoil}

// TokenUsage is the prompt/completion/total token triple reported by a
// backend.
type TokenUsage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// GenerateOptions configures a single generate call.
type GenerateOptions struct {
	Model          string
	Temperature    *float64
	MaxTokens      *int
	TopP           *float64
	TimeoutSeconds int
}

// GenerateResult is the outcome of a successful generate call.
type GenerateResult struct {
	Content      string
	Usage        TokenUsage
	Model        string
	FinishReason string
}

// ValidationResult reports the outcome of a connectivity probe.
type ValidationResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ModelInfo describes a model available on a backend.
type ModelInfo struct {
	Name     string `json:"name"`
	Provider Type   `json:"provider"`
}

// Adapter is the capability interface every backend implements.
//
// Generate must abort the underlying network operation when its timeout
// elapses (returning a timeout-coded error) or when ctx is cancelled
// (returning a cancelled-coded error); the two are distinguishable via
// the error code.
type Adapter interface {
	Type() Type
	Validate(ctx context.Context) ValidationResult
	ListModels(ctx context.Context) ([]ModelInfo, error)
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (*GenerateResult, error)
}
