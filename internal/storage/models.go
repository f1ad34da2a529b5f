package storage

import "time"

// ResponseStatus tracks the lifecycle of a queued LLM request.
type ResponseStatus string

const (
	StatusPending    ResponseStatus = "pending"
	StatusProcessing ResponseStatus = "processing"
	StatusCompleted  ResponseStatus = "completed"
	StatusFailed     ResponseStatus = "failed"
	StatusCancelled  ResponseStatus = "cancelled"
)

// TitleStatus tracks the best-effort title generation pass for a response.
type TitleStatus string

const (
	TitlePending   TitleStatus = "pending"
	TitleCompleted TitleStatus = "completed"
	TitleFailed    TitleStatus = "failed"
)

// ProviderConfig is a persisted LLM provider configuration. The credential
// is stored encrypted; plaintext never touches the database.
type ProviderConfig struct {
	ID                  string     `json:"id"`
	ProviderType        string     `json:"providerType"`
	DisplayName         string     `json:"displayName"`
	BaseURL             string     `json:"baseUrl,omitempty"`
	ModelName           string     `json:"modelName,omitempty"`
	EncryptedCredential []byte     `json:"-"`
	TimeoutSeconds      int        `json:"timeoutSeconds"`
	IsActive            bool       `json:"isActive"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
	LastValidatedAt     *time.Time `json:"lastValidatedAt,omitempty"`
}

// HasCredential reports whether an encrypted credential is stored.
func (p *ProviderConfig) HasCredential() bool {
	return len(p.EncryptedCredential) > 0
}

// ResponseMetadata is the relational record for one LLM response. The
// response content itself lives in a markdown file referenced by FilePath;
// a cancelled request has no file and an empty FilePath.
type ResponseMetadata struct {
	ID           string            `json:"id"`
	PromptID     string            `json:"promptId"`
	ProviderType string            `json:"providerType"`
	Model        string            `json:"model"`
	Parameters   map[string]string `json:"parameters,omitempty"`
	Status       ResponseStatus    `json:"status"`
	FilePath     string            `json:"filePath,omitempty"`

	ResponseTimeMs   *int64   `json:"responseTimeMs,omitempty"`
	PromptTokens     *int     `json:"promptTokens,omitempty"`
	CompletionTokens *int     `json:"completionTokens,omitempty"`
	TotalTokens      *int     `json:"totalTokens,omitempty"`
	CostEstimate     *float64 `json:"costEstimate,omitempty"`

	ErrorCode    *string `json:"errorCode,omitempty"`
	ErrorMessage *string `json:"errorMessage,omitempty"`

	GeneratedTitle        *string      `json:"generatedTitle,omitempty"`
	TitleGenerationStatus *TitleStatus `json:"titleGenerationStatus,omitempty"`
	TitleGeneratedAt      *time.Time   `json:"titleGeneratedAt,omitempty"`
	TitleModel            *string      `json:"titleModel,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Orphaned is set on reads when the metadata row exists but the
	// content file is missing. It is never persisted.
	Orphaned bool `json:"orphaned,omitempty"`
}
