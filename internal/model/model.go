// Package model defines the provider-agnostic request/response/streaming
// types consumed by the Provider Gateway. Provider adapters
// translate these into SDK-specific calls and adapt SDK responses back.
package model

import (
	"context"
	"encoding/json"
	"errors"
)

type (
	// Role identifies the speaker for a message.
	Role string

	// ToolDefinition describes a tool exposed to the model.
	ToolDefinition struct {
		Name        string
		Description string
		InputSchema any
	}

	// ToolCall is a tool invocation requested by the model.
	ToolCall struct {
		ID    string
		Name  string
		Input json.RawMessage
	}

	// ToolResult is the outcome of executing a ToolCall, supplied back to the
	// model on the next turn.
	ToolResult struct {
		ToolCallID string
		Output     json.RawMessage
		IsError    bool
	}

	// Message is one entry in the conversation transcript sent to the model.
	Message struct {
		Role        Role
		Text        string
		ToolCalls   []ToolCall
		ToolResults []ToolResult
	}

	// Usage tracks token counts for one model call, summed across all
	// tool-loop steps by the Gateway.
	Usage struct {
		InputTokens              int
		OutputTokens             int
		CacheCreationInputTokens int
		CacheReadInputTokens     int
	}

	// Request captures inputs for one model invocation.
	Request struct {
		Model          string
		SystemPrompt   string
		Messages       []Message
		Tools          []ToolDefinition
		MaxOutputTokens int
		Temperature    float32
	}

	// PartKind discriminates the tagged Part union streamed by Invoke.
	PartKind string

	// Part is one element of the stream produced by a model invocation.
	// Exactly one of the typed fields is populated, selected by Kind.
	Part struct {
		Kind PartKind

		// TextDelta carries an incremental fragment of assistant text.
		TextDelta string

		// ToolCall carries one requested tool invocation.
		ToolCall *ToolCall

		// ToolResult carries a structured tool result synthesized by the
		// Gateway's tool loop (not by the provider).
		ToolResult *ToolResult

		// FinishReason and Usage are populated on a StepFinish part, once per
		// tool-loop round.
		FinishReason string
		Usage        Usage

		// Err is populated on an Error part.
		Err error
	}

	// Client is the provider-agnostic model client. Provider adapters
	// implement this by translating Request into SDK-specific calls.
	Client interface {
		// Stream performs a streaming model invocation, returning an iterator
		// of Parts terminated by a StepFinish part (or an error).
		Stream(ctx context.Context, req *Request) (Streamer, error)
	}

	// Streamer delivers incremental model output. Callers must drain Recv
	// until it returns (Part{}, io.EOF) or another terminal error, then call
	// Close.
	Streamer interface {
		Recv() (Part, error)
		Close() error
	}
)

const (
	PartKindTextDelta  PartKind = "text-delta"
	PartKindToolCall   PartKind = "tool-call"
	PartKindToolResult PartKind = "tool-result"
	PartKindStepFinish PartKind = "step-finish"
	PartKindError      PartKind = "error"
)

// Finish reasons. FinishStop, FinishLength, and FinishToolCalls are
// successful; FinishError and FinishOther are not.
const (
	FinishStop      = "stop"
	FinishLength    = "length"
	FinishToolCalls = "tool-calls"
	FinishError     = "error"
	FinishOther     = "other"
)

// ErrRateLimited indicates the provider rejected the request due to rate
// limiting. Callers classify this as retriable.
var ErrRateLimited = errors.New("model: rate limited")

// IsSuccessfulFinish reports whether reason represents a non-fatal stream
// termination.
func IsSuccessfulFinish(reason string) bool {
	switch reason {
	case FinishStop, FinishLength, FinishToolCalls:
		return true
	default:
		return false
	}
}
