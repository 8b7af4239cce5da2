// Package bus implements the broadcast bus: a single "agents"
// topic carrying the event shapes every collaborator (UI, Execution Record
// Store observers) subscribes to. internal/bus/redis backs multi-process
// deployments; the in-memory Bus here backs single-process and tests.
package bus

import (
	"encoding/json"
	"sync"
	"time"
)

// Topic is the one broadcast channel name used throughout the orchestrator.
const Topic = "agents"

// EventKind discriminates the tagged event union published on Topic.
type EventKind string

const (
	EventAgentStatus   EventKind = "agent_status"
	EventAgentThinking EventKind = "agent_thinking"
	EventAgentStream   EventKind = "agent_stream"
	EventAgentError    EventKind = "agent_error"
	EventFilesChanged  EventKind = "files_changed"
	EventTokenUsage    EventKind = "token_usage"
	EventChatMessage   EventKind = "chat_message"
	EventPipelineHalt  EventKind = "pipeline_halted"
)

// Agent status values.
const (
	StatusRunning   = "running"
	StatusRetrying  = "retrying"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusPaused    = "paused"
	StatusStopped   = "stopped"
	StatusWarning   = "warning"
)

// Thinking status values.
const (
	ThinkingStarted   = "started"
	ThinkingStreaming = "streaming"
	ThinkingCompleted = "completed"
	ThinkingFailed    = "failed"
)

type (
	// Event is the envelope published on Topic. Exactly one payload field is
	// populated, selected by Kind.
	Event struct {
		Kind EventKind `json:"kind"`

		AgentStatus   *AgentStatus   `json:"agentStatus,omitempty"`
		AgentThinking *AgentThinking `json:"agentThinking,omitempty"`
		AgentStream   *AgentStream   `json:"agentStream,omitempty"`
		AgentError    *AgentError    `json:"agentError,omitempty"`
		FilesChanged  *FilesChanged  `json:"filesChanged,omitempty"`
		TokenUsage    *TokenUsage    `json:"tokenUsage,omitempty"`
		ChatMessage   *ChatMessage   `json:"chatMessage,omitempty"`
		PipelineHalt  *PipelineHalt  `json:"pipelineHalted,omitempty"`
	}

	AgentStatus struct {
		ChatID    string         `json:"chatId"`
		AgentName string         `json:"agentName"`
		Status    string         `json:"status"`
		Details   map[string]any `json:"details,omitempty"`
	}

	AgentThinking struct {
		ChatID      string `json:"chatId"`
		AgentName   string `json:"agentName"`
		DisplayName string `json:"displayName"`
		Status      string `json:"status"`
		Chunk       string `json:"chunk,omitempty"`
		Summary     string `json:"summary,omitempty"`
		ToolCall    string `json:"toolCall,omitempty"`
	}

	AgentStream struct {
		ChatID    string `json:"chatId"`
		AgentName string `json:"agentName"`
		Chunk     string `json:"chunk"`
	}

	AgentError struct {
		ChatID    string `json:"chatId"`
		AgentName string `json:"agentName"`
		Error     string `json:"error"`
	}

	FilesChanged struct {
		ProjectID string   `json:"projectId"`
		Files     []string `json:"files"`
	}

	TokenUsage struct {
		ChatID                   string  `json:"chatId"`
		AgentName                string  `json:"agentName"`
		Provider                 string  `json:"provider"`
		Model                    string  `json:"model"`
		InputTokens              int     `json:"inputTokens"`
		OutputTokens             int     `json:"outputTokens"`
		CacheCreationInputTokens int     `json:"cacheCreationInputTokens,omitempty"`
		CacheReadInputTokens     int     `json:"cacheReadInputTokens,omitempty"`
		TotalTokens              int     `json:"totalTokens"`
		CostEstimate             float64 `json:"costEstimate"`
	}

	ChatMessage struct {
		ChatID    string `json:"chatId"`
		AgentName string `json:"agentName"`
		Content   string `json:"content"`
	}

	PipelineHalt struct {
		ChatID      string `json:"chatId"`
		FailedAgent string `json:"failedAgent"`
		Reason      string `json:"reason"`
	}
)

// StreamThrottle bounds how often agent_stream/agent_thinking chunks are
// published for one agent invocation.
const StreamThrottle = 150 * time.Millisecond

// Publisher is the minimal contract the Scheduler, Agent Runner, and Tool
// Sandbox depend on; Bus satisfies it, as does any future remote adapter.
type Publisher interface {
	Publish(e Event)
}

// Subscription delivers every Event published after it was created, until
// Close is called.
type Subscription struct {
	ch     chan Event
	bus    *Bus
	closed bool
	mu     sync.Mutex
}

// Recv returns the subscription's delivery channel.
func (s *Subscription) Recv() <-chan Event { return s.ch }

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.bus.unsubscribe(s)
	close(s.ch)
}

// Bus is an in-memory, single-process Publisher with fan-out to every live
// Subscription. A slow subscriber never blocks publishers: its channel is
// buffered and full sends are dropped rather than awaited.
type Bus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// New builds an empty in-memory Bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Publish fans e out to every live subscription.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Subscribe registers a new Subscription with a bounded backlog.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{ch: make(chan Event, 256), bus: b}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *Bus) unsubscribe(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// FilesChanged implements sandbox.Notifier.
func (b *Bus) FilesChanged(projectID string, paths []string) {
	b.Publish(Event{Kind: EventFilesChanged, FilesChanged: &FilesChanged{ProjectID: projectID, Files: paths}})
}

// Marshal encodes e as the JSON string published on Topic.
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(e)
}
