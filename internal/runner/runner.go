// Package runner implements the Agent Runner: a uniform
// invocation of one agent that resolves its Config, builds its prompt,
// drives the Provider Gateway's Part stream onto the broadcast bus with a
// throttled thinking/stream feed, tracks the Cost/Budget Ledger through the
// provisional-finalize-void lifecycle, and falls back to the File Extractor
// when the model never fired a native write_file tool call.
package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/anthonybaldwin/crewforge/internal/agent"
	"github.com/anthonybaldwin/crewforge/internal/budget"
	"github.com/anthonybaldwin/crewforge/internal/bus"
	"github.com/anthonybaldwin/crewforge/internal/extractor"
	"github.com/anthonybaldwin/crewforge/internal/gateway"
	"github.com/anthonybaldwin/crewforge/internal/model"
	"github.com/anthonybaldwin/crewforge/internal/providers"
	"github.com/anthonybaldwin/crewforge/internal/sandbox"
	"github.com/anthonybaldwin/crewforge/internal/telemetry"
)

// historyCapMessages and historyCapChars bound the "## Chat History" prompt
// section.
const (
	historyCapMessages = 6
	historyCapChars    = 3000
)

// summaryCapChars bounds the one-line UI summary extracted from an agent's
// final text.
const summaryCapChars = 120

type (
	// Invoker is the subset of gateway.Gateway the Runner depends on.
	Invoker interface {
		Invoke(ctx context.Context, req gateway.Request, onPart func(model.Part)) (gateway.Result, error)
	}

	// LedgerTracker is the subset of budget.Ledger the Runner depends on.
	LedgerTracker interface {
		TrackProvisionalUsage(ctx context.Context, in budget.ProvisionalInput) (budget.TokenRecord, error)
		FinalizeTokenUsage(ctx context.Context, rec budget.TokenRecord, real model.Usage) error
		VoidProvisionalUsage(ctx context.Context, stepID string) error
	}

	// FileWriter is satisfied by *sandbox.Sandbox; the Runner uses it only to
	// land files recovered by the File Extractor fallback, since those never
	// passed through the Gateway's own tool loop.
	FileWriter interface {
		WriteFile(path, content string) (string, error)
	}

	// HistoryMessage is one prior turn in the chat transcript.
	HistoryMessage struct {
		Role    string
		Content string
	}

	// Input describes one Agent Runner invocation.
	Input struct {
		StepID   string
		ChatID   string
		ProjectID string

		AgentKey   agent.Ident
		InstanceID string
		Override   *agent.Override

		UserMessage     string
		ChatHistory     []HistoryMessage
		Context         map[string]any
		UpstreamOutputs map[string]string

		Provider    string
		Credentials providers.Credentials

		// Executor runs tool calls the model makes; typically a *sandbox.Sandbox.
		Executor gateway.ToolExecutor
		// Files lands File Extractor fallback writes; nil disables the fallback.
		Files FileWriter
	}

	// Output aggregates one invocation's result.
	Output struct {
		Content      string
		FilesWritten []string
		Usage        model.Usage
	}

	// PromptLoader loads an agent's on-disk default system prompt named by
	// Config.PromptPath. An Override's prompt is applied by the Runner before
	// the loader is consulted.
	PromptLoader interface {
		LoadPrompt(cfg agent.Config) (string, error)
	}

	// Runner implements Invoke.
	Runner struct {
		Agents  *agent.Registry
		Gateway Invoker
		Ledger  LedgerTracker
		Bus     bus.Publisher
		Prompts PromptLoader
		Logger  telemetry.Logger
	}
)

// New builds a Runner.
func New(agents *agent.Registry, gw Invoker, ledger LedgerTracker, publisher bus.Publisher, prompts PromptLoader, logger telemetry.Logger) *Runner {
	return &Runner{Agents: agents, Gateway: gw, Ledger: ledger, Bus: publisher, Prompts: prompts, Logger: logger}
}

// ErrNoProvider is returned when a resolved Config names no provider.
var ErrNoProvider = fmt.Errorf("runner: agent config has no provider bound")

// busKey is the agent_status/agent_thinking identity: the instance id when
// one was assigned (a parallel frontend-dev batch), otherwise the agent key
// itself.
func busKey(in Input) string {
	if in.InstanceID != "" {
		return in.InstanceID
	}
	return string(in.AgentKey)
}

// Invoke runs one agent turn to completion.
func (r *Runner) Invoke(ctx context.Context, in Input) (Output, error) {
	cfg, err := r.Agents.Resolve(in.AgentKey, in.Override)
	if err != nil {
		return Output{}, fmt.Errorf("runner: resolve %s: %w", in.AgentKey, err)
	}
	if cfg.Provider == "" {
		return Output{}, fmt.Errorf("%w: %s", ErrNoProvider, in.AgentKey)
	}

	prompt, err := r.loadSystemPrompt(cfg, in.Override)
	if err != nil {
		return Output{}, fmt.Errorf("runner: load system prompt for %s: %w", in.AgentKey, err)
	}

	key := busKey(in)
	r.publish(bus.Event{Kind: bus.EventAgentStatus, AgentStatus: &bus.AgentStatus{
		ChatID: in.ChatID, AgentName: key, Status: bus.StatusRunning,
	}})
	r.publish(bus.Event{Kind: bus.EventAgentThinking, AgentThinking: &bus.AgentThinking{
		ChatID: in.ChatID, AgentName: key, DisplayName: cfg.DisplayName, Status: bus.ThinkingStarted,
	}})

	userPrompt := buildPrompt(in)

	var rec budget.TokenRecord
	if r.Ledger != nil {
		rec, err = r.Ledger.TrackProvisionalUsage(ctx, budget.ProvisionalInput{
			StepID:       in.StepID,
			ChatID:       in.ChatID,
			ProjectID:    in.ProjectID,
			AgentKey:     string(in.AgentKey),
			Provider:     cfg.Provider,
			Model:        cfg.Model,
			APIKey:       in.Credentials.APIKey,
			PromptText:   prompt + userPrompt,
			MaxOutTokens: cfg.MaxOutputTokens,
		})
		if err != nil {
			return Output{}, fmt.Errorf("runner: track provisional usage: %w", err)
		}
	}

	s := &streamState{runner: r, in: in, displayName: cfg.DisplayName, key: key}
	result, err := r.Gateway.Invoke(ctx, gateway.Request{
		Provider:        cfg.Provider,
		Model:           cfg.Model,
		Credentials:     in.Credentials,
		SystemPrompt:    prompt,
		Messages:        []model.Message{{Role: model.Role("user"), Text: userPrompt}},
		Tools:           sandbox.Definitions(),
		MaxOutputTokens: cfg.MaxOutputTokens,
		MaxToolSteps:    cfg.MaxToolSteps,
		Executor:        in.Executor,
	}, s.onPart)
	s.flush()

	if err != nil {
		if r.Ledger != nil {
			if verr := r.Ledger.VoidProvisionalUsage(ctx, in.StepID); verr != nil && r.Logger != nil {
				r.Logger.Warn(ctx, "runner: void provisional usage failed", "step", in.StepID, "error", verr)
			}
		}
		r.publish(bus.Event{Kind: bus.EventAgentError, AgentError: &bus.AgentError{
			ChatID: in.ChatID, AgentName: key, Error: err.Error(),
		}})
		r.publish(bus.Event{Kind: bus.EventAgentStatus, AgentStatus: &bus.AgentStatus{
			ChatID: in.ChatID, AgentName: key, Status: bus.StatusFailed,
		}})
		r.publish(bus.Event{Kind: bus.EventAgentThinking, AgentThinking: &bus.AgentThinking{
			ChatID: in.ChatID, AgentName: key, DisplayName: cfg.DisplayName, Status: bus.ThinkingFailed,
		}})
		return Output{}, err
	}

	fullText := s.fullText.String()
	filesWritten := s.filesWritten
	if len(filesWritten) == 0 && in.Files != nil {
		filesWritten = r.extractorFallback(fullText, in.Files)
	}

	if r.Ledger != nil {
		if ferr := r.Ledger.FinalizeTokenUsage(ctx, rec, result.Usage); ferr != nil && r.Logger != nil {
			r.Logger.Warn(ctx, "runner: finalize token usage failed", "step", in.StepID, "error", ferr)
		}
	}
	r.publish(bus.Event{Kind: bus.EventTokenUsage, TokenUsage: &bus.TokenUsage{
		ChatID:                   in.ChatID,
		AgentName:                key,
		Provider:                 cfg.Provider,
		Model:                    cfg.Model,
		InputTokens:              result.Usage.InputTokens,
		OutputTokens:             result.Usage.OutputTokens,
		CacheCreationInputTokens: result.Usage.CacheCreationInputTokens,
		CacheReadInputTokens:     result.Usage.CacheReadInputTokens,
		TotalTokens:              result.Usage.InputTokens + result.Usage.OutputTokens,
		CostEstimate:             rec.CostUSD,
	}})

	cleaned, summary := summarize(in.AgentKey, fullText)
	r.publish(bus.Event{Kind: bus.EventChatMessage, ChatMessage: &bus.ChatMessage{
		ChatID: in.ChatID, AgentName: key, Content: cleaned,
	}})
	r.publish(bus.Event{Kind: bus.EventAgentStatus, AgentStatus: &bus.AgentStatus{
		ChatID: in.ChatID, AgentName: key, Status: bus.StatusCompleted,
	}})
	r.publish(bus.Event{Kind: bus.EventAgentThinking, AgentThinking: &bus.AgentThinking{
		ChatID: in.ChatID, AgentName: key, DisplayName: cfg.DisplayName, Status: bus.ThinkingCompleted, Summary: summary,
	}})

	return Output{Content: cleaned, FilesWritten: filesWritten, Usage: result.Usage}, nil
}

func (r *Runner) publish(e bus.Event) {
	if r.Bus != nil {
		r.Bus.Publish(e)
	}
}

func (r *Runner) loadSystemPrompt(cfg agent.Config, ov *agent.Override) (string, error) {
	if ov != nil && ov.Prompt != "" {
		return ov.Prompt, nil
	}
	if r.Prompts == nil {
		return "", fmt.Errorf("runner: no prompt source configured for %s", cfg.PromptPath)
	}
	return r.Prompts.LoadPrompt(cfg)
}

// extractorFallback runs the File Extractor over text and lands every
// recovered file via files, returning the paths written.
func (r *Runner) extractorFallback(text string, files FileWriter) []string {
	recovered := extractor.Extract(text)
	if len(recovered) == 0 {
		return nil
	}
	written := make([]string, 0, len(recovered))
	for _, f := range recovered {
		path, err := files.WriteFile(f.Path, f.Content)
		if err != nil {
			if r.Logger != nil {
				r.Logger.Warn(context.Background(), "runner: extractor fallback write failed", "path", f.Path, "error", err)
			}
			continue
		}
		written = append(written, path)
	}
	return written
}

// streamState accumulates one invocation's Part stream into bus events and a
// filesWritten list, throttling thinking/stream publishes to bus.StreamThrottle.
type streamState struct {
	runner      *Runner
	in          Input
	displayName string
	key         string

	fullText  strings.Builder
	pending   strings.Builder
	lastFlush time.Time

	callNames    map[string]string
	filesWritten []string
}

func (s *streamState) onPart(part model.Part) {
	switch part.Kind {
	case model.PartKindTextDelta:
		s.fullText.WriteString(part.TextDelta)
		s.pending.WriteString(part.TextDelta)
		if s.lastFlush.IsZero() || time.Since(s.lastFlush) >= bus.StreamThrottle {
			s.flush()
		}
	case model.PartKindToolCall:
		if part.ToolCall == nil {
			return
		}
		if s.callNames == nil {
			s.callNames = make(map[string]string)
		}
		s.callNames[part.ToolCall.ID] = part.ToolCall.Name
		if part.ToolCall.Name != sandbox.ToolWriteFile && part.ToolCall.Name != sandbox.ToolWriteFiles {
			return
		}
		paths := writePathsFromCall(part.ToolCall.Name, part.ToolCall.Input)
		s.runner.publish(bus.Event{Kind: bus.EventAgentThinking, AgentThinking: &bus.AgentThinking{
			ChatID: s.in.ChatID, AgentName: s.key, DisplayName: s.displayName,
			Status: bus.ThinkingStreaming, ToolCall: part.ToolCall.Name + ": " + strings.Join(paths, ", "),
		}})
	case model.PartKindToolResult:
		if part.ToolResult == nil || part.ToolResult.IsError {
			return
		}
		name := s.callNames[part.ToolResult.ToolCallID]
		if name != sandbox.ToolWriteFile && name != sandbox.ToolWriteFiles {
			return
		}
		s.filesWritten = append(s.filesWritten, writePathsFromResult(part.ToolResult.Output)...)
	case model.PartKindError:
		if part.Err != nil && s.runner.Logger != nil {
			s.runner.Logger.Warn(context.Background(), "runner: provider error part", "agent", s.key, "error", part.Err)
		}
	}
}

func (s *streamState) flush() {
	if s.pending.Len() == 0 {
		return
	}
	chunk := s.pending.String()
	s.pending.Reset()
	s.lastFlush = time.Now()
	s.runner.publish(bus.Event{Kind: bus.EventAgentThinking, AgentThinking: &bus.AgentThinking{
		ChatID: s.in.ChatID, AgentName: s.key, DisplayName: s.displayName, Status: bus.ThinkingStreaming, Chunk: chunk,
	}})
	s.runner.publish(bus.Event{Kind: bus.EventAgentStream, AgentStream: &bus.AgentStream{
		ChatID: s.in.ChatID, AgentName: s.key, Chunk: chunk,
	}})
}

func writePathsFromCall(name string, input json.RawMessage) []string {
	switch name {
	case sandbox.ToolWriteFile:
		var in struct {
			Path string `json:"path"`
		}
		_ = json.Unmarshal(input, &in)
		if in.Path == "" {
			return nil
		}
		return []string{in.Path}
	case sandbox.ToolWriteFiles:
		var in struct {
			Files []struct {
				Path string `json:"path"`
			} `json:"files"`
		}
		_ = json.Unmarshal(input, &in)
		paths := make([]string, 0, len(in.Files))
		for _, f := range in.Files {
			paths = append(paths, f.Path)
		}
		return paths
	default:
		return nil
	}
}

func writePathsFromResult(output json.RawMessage) []string {
	var single struct {
		Path    string `json:"path"`
		Success bool   `json:"success"`
	}
	if err := json.Unmarshal(output, &single); err == nil && single.Path != "" {
		return []string{single.Path}
	}
	var batch struct {
		Paths   []string `json:"paths"`
		Success bool     `json:"success"`
	}
	if err := json.Unmarshal(output, &batch); err == nil && len(batch.Paths) > 0 {
		return batch.Paths
	}
	return nil
}
