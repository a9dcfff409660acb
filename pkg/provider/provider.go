// Package provider defines the uniform LLM-provider contract the
// orchestration core drives: chat/stream, tool-calling support, token
// accounting, error classification, and retry policy,
// normalizing every concrete backend into one Response shape.
package provider

import (
	"context"

	"github.com/revkit/rev/pkg/retry"
)

// Message is the universal multi-turn conversation unit every provider
// backend normalizes into.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolDefinition is a tool schema offered to the provider.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a tool invocation the assistant requested.
type ToolCall struct {
	ID       string       `json:"id"`
	Function FunctionCall `json:"function"`
}

// FunctionCall nests name/arguments the way the normalized Response shape
// requires.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
}

// Usage reports token accounting for one chat call.
type Usage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Response is the normalized shape every provider implementation must map
// its backend-specific response into before it leaves the provider
//.
type Response struct {
	Message ResponseMessage `json:"message"`
	Done    bool            `json:"done"`
	Usage   Usage           `json:"usage"`
}

// ResponseMessage is the assistant turn inside a Response.
type ResponseMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ChunkHandler receives incremental streamed text or tool-call chunks.
type ChunkHandler func(chunk StreamChunk)

// StreamChunk is one increment of a streaming response.
type StreamChunk struct {
	Type     string // "text", "tool_call", "done", "error"
	Text     string
	ToolCall *ToolCall
	Err      error
}

// InterruptChecker is polled between streaming frames and retry attempts so
// blocking calls terminate promptly without an async runtime.
type InterruptChecker func() bool

// UserMessageChecker lets a streaming call notice newly queued user
// messages mid-stream (used by interactive sub-agent loops).
type UserMessageChecker func() []Message

// ChatOptions carries the optional parameters to chat/chat_stream.
type ChatOptions struct {
	Tools             []ToolDefinition
	Model             string
	SupportsTools     bool
	ToolChoice        string
	OnChunk           ChunkHandler
	CheckInterrupt    InterruptChecker
	CheckUserMessages UserMessageChecker
}

// Provider is the uniform LLM-backend contract.
type Provider interface {
	Chat(ctx context.Context, messages []Message, opts ChatOptions) (Response, error)
	ChatStream(ctx context.Context, messages []Message, opts ChatOptions) (Response, error)
	SupportsToolCalling(model string) bool
	ValidateConfig() bool
	GetModelList() []string
	CountTokens(messages []Message) int
	ClassifyError(err error) retry.Classification
	RetryConfig() retry.Config
}
