// Package gateway implements the Provider Gateway: one operation, Invoke,
// that turns a provider-agnostic request into a streamed sequence of
// model.Parts, running the tool-call loop itself so callers only ever see
// text, tool-call, tool-result, step-finish, and error events.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/anthonybaldwin/crewforge/internal/model"
	"github.com/anthonybaldwin/crewforge/internal/providers"
	"github.com/anthonybaldwin/crewforge/internal/telemetry"
)

// Sentinel errors surfaced by Invoke. Callers classify retriability by
// checking these with errors.Is (see internal/scheduler).
var (
	// ErrProviderUnavailable means no credentials/SDK binding exists for the
	// requested provider.
	ErrProviderUnavailable = errors.New("gateway: provider unavailable")
	// ErrCancelled means the caller's cancel token tripped mid-invocation; no
	// partial completion is returned.
	ErrCancelled = errors.New("gateway: cancelled")
	// ErrToolLoopExceeded means the model requested more tool rounds than
	// maxToolSteps allows.
	ErrToolLoopExceeded = errors.New("gateway: tool loop exceeded")
	// ErrAgentAborted wraps a non-successful finish reason (error, other).
	ErrAgentAborted = errors.New("gateway: agent aborted")
)

type (
	// ToolExecutor runs one tool call against whatever sandbox is bound to
	// the current invocation (internal/sandbox implements this). The
	// Gateway never inspects tool payloads beyond routing them.
	ToolExecutor interface {
		Execute(ctx context.Context, call model.ToolCall) (output json.RawMessage, isError bool)
	}

	// Request describes one Gateway invocation.
	Request struct {
		Provider        string
		Model           string
		Credentials     providers.Credentials
		SystemPrompt    string
		Messages        []model.Message
		Tools           []model.ToolDefinition
		MaxOutputTokens int
		MaxToolSteps    int
		Executor        ToolExecutor
	}

	// Result aggregates usage across every tool-loop step of one Invoke
	// call.
	Result struct {
		Usage        model.Usage
		FinishReason string
	}

	// Gateway resolves a provider binding and drives the tool-call loop.
	Gateway struct {
		registry *providers.Registry
		logger   telemetry.Logger
	}
)

// New builds a Gateway bound to a provider Registry.
func New(registry *providers.Registry, logger telemetry.Logger) *Gateway {
	return &Gateway{registry: registry, logger: logger}
}

// Invoke streams one agent turn to completion, executing any tool calls the
// model requests via req.Executor and feeding results back until the model
// reaches a terminal finish reason. onPart is called synchronously for every
// Part produced, in order, including tool-call and tool-result Parts
// synthesized by the loop itself.
func (g *Gateway) Invoke(ctx context.Context, req Request, onPart func(model.Part)) (Result, error) {
	if req.MaxToolSteps <= 0 {
		req.MaxToolSteps = 10
	}
	client, err := g.registry.Binding(req.Provider, req.Credentials)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %w", ErrProviderUnavailable, req.Provider, err)
	}

	messages := append([]model.Message(nil), req.Messages...)
	var aggregate model.Usage
	toolRounds := 0

	for {
		if err := ctx.Err(); err != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrCancelled, err)
		}

		streamReq := &model.Request{
			Model:           req.Model,
			SystemPrompt:    req.SystemPrompt,
			Messages:        messages,
			Tools:           req.Tools,
			MaxOutputTokens: req.MaxOutputTokens,
		}
		streamer, err := client.Stream(ctx, streamReq)
		if err != nil {
			g.logError("gateway: stream start failed", err)
			return Result{}, err
		}

		assistant := model.Message{Role: model.Role("assistant")}
		var textBuf strings.Builder
		var calls []model.ToolCall
		finishReason := ""

		for {
			part, err := streamer.Recv()
			if err != nil {
				_ = streamer.Close()
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return Result{}, fmt.Errorf("%w: %w", ErrCancelled, err)
				}
				if errors.Is(err, io.EOF) {
					break
				}
				g.logError("gateway: stream recv failed", err)
				return Result{}, err
			}
			switch part.Kind {
			case model.PartKindTextDelta:
				textBuf.WriteString(part.TextDelta)
				onPart(part)
			case model.PartKindToolCall:
				if part.ToolCall != nil {
					calls = append(calls, *part.ToolCall)
				}
				onPart(part)
			case model.PartKindStepFinish:
				finishReason = part.FinishReason
				aggregate = sumUsage(aggregate, part.Usage)
				onPart(part)
			case model.PartKindError:
				_ = streamer.Close()
				if part.Err != nil {
					g.logError("gateway: provider error part", part.Err)
				}
				onPart(part)
				return Result{}, fmt.Errorf("%w: provider error", ErrAgentAborted)
			}
		}
		_ = streamer.Close()

		assistant.Text = textBuf.String()
		assistant.ToolCalls = calls
		messages = append(messages, assistant)

		if !model.IsSuccessfulFinish(finishReason) {
			return Result{Usage: aggregate, FinishReason: finishReason},
				fmt.Errorf("%w: finish reason %q", ErrAgentAborted, finishReason)
		}

		if finishReason != model.FinishToolCalls || len(calls) == 0 {
			return Result{Usage: aggregate, FinishReason: finishReason}, nil
		}

		toolRounds++
		if toolRounds > req.MaxToolSteps {
			return Result{Usage: aggregate, FinishReason: finishReason},
				fmt.Errorf("%w: %d rounds (max %d)", ErrToolLoopExceeded, toolRounds, req.MaxToolSteps)
		}
		if req.Executor == nil {
			return Result{Usage: aggregate, FinishReason: finishReason},
				errors.New("gateway: model requested tools but no executor is configured")
		}

		results := make([]model.ToolResult, 0, len(calls))
		for _, call := range calls {
			output, isErr := req.Executor.Execute(ctx, call)
			tr := model.ToolResult{ToolCallID: call.ID, Output: output, IsError: isErr}
			results = append(results, tr)
			onPart(model.Part{Kind: model.PartKindToolResult, ToolResult: &tr})
		}
		messages = append(messages, model.Message{Role: model.Role("tool"), ToolResults: results})
	}
}

func sumUsage(a, b model.Usage) model.Usage {
	return model.Usage{
		InputTokens:              a.InputTokens + b.InputTokens,
		OutputTokens:             a.OutputTokens + b.OutputTokens,
		CacheCreationInputTokens: a.CacheCreationInputTokens + b.CacheCreationInputTokens,
		CacheReadInputTokens:     a.CacheReadInputTokens + b.CacheReadInputTokens,
	}
}

// logError logs err with any embedded request URLs stripped of their query
// strings, so a leaked API key never reaches log storage.
func (g *Gateway) logError(msg string, err error) {
	if g.logger == nil {
		return
	}
	g.logger.Error(context.Background(), msg, "error", redactURLs(err.Error()))
}

func redactURLs(s string) string {
	fields := strings.Fields(s)
	for i, f := range fields {
		if u, err := url.Parse(f); err == nil && u.Scheme != "" && u.Host != "" {
			u.RawQuery = ""
			u.User = nil
			fields[i] = u.String()
		}
	}
	return strings.Join(fields, " ")
}
