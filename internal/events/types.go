package events

import "time"

// Type names an event published over the bus and fanned out to
// connected UI clients.
type Type string

const (
	TypeResponseComplete Type = "response.complete"
	TypeQueueUpdated     Type = "queue.updated"
	TypeRequestProgress  Type = "request.progress"
	TypeTitleStatus      Type = "title.status"
)

// Event is the envelope every subscriber receives.
type Event struct {
	Type    Type  `json:"type"`
	Payload any   `json:"payload"`
	At      int64 `json:"at"`
}

// ResponseComplete announces that a queued request reached a terminal
// state. Error is set only for failed requests.
type ResponseComplete struct {
	RequestID  string `json:"requestId"`
	ResponseID string `json:"responseId"`
	PromptID   string `json:"promptId"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}

// QueueUpdated announces a change in queue composition.
type QueueUpdated struct {
	QueueSize        int    `json:"queueSize"`
	AddedRequestID   string `json:"addedRequestId,omitempty"`
	RemovedRequestID string `json:"removedRequestId,omitempty"`
}

// RequestProgress announces a request moving through the pipeline.
// ElapsedMs and TokenUsage are set once generation has returned.
type RequestProgress struct {
	RequestID  string      `json:"requestId"`
	Status     string      `json:"status"`
	ElapsedMs  int64       `json:"elapsedMs,omitempty"`
	TokenUsage *TokenUsage `json:"tokenUsage,omitempty"`
}

// TokenUsage mirrors the provider's token accounting on progress
// events.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// TitleStatus announces the outcome of a title generation pass.
type TitleStatus struct {
	ResponseID  string     `json:"responseId"`
	Status      string     `json:"status"`
	Title       string     `json:"title,omitempty"`
	Model       string     `json:"model,omitempty"`
	GeneratedAt *time.Time `json:"generatedAt,omitempty"`
}
