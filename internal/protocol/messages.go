package protocol

import "time"

// ChatMessage is a viewer message published by an external chat reader.
type ChatMessage struct {
	Author    string    `json:"author"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// WorkflowEvent reports pipeline progress to dashboards.
type WorkflowEvent struct {
	Phase     string    `json:"phase"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent reports a recoverable failure.
type ErrorEvent struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Subtitle carries the reply currently being spoken.
type Subtitle struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectChatMessage = "vtuber.chat.message"
	SubjectWorkflow    = "vtuber.workflow"
	SubjectError       = "vtuber.error"
	SubjectSubtitle    = "vtuber.subtitle"
)
