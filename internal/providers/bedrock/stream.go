package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/anthonybaldwin/crewforge/internal/model"
	"github.com/anthonybaldwin/crewforge/internal/telemetry"
)

// streamer adapts a Bedrock ConverseStream event stream to model.Streamer.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	events *bedrockruntime.ConverseStreamEventStream
	logger telemetry.Logger

	parts chan model.Part

	toolBlocks map[int32]*toolBuffer
	stopReason string
	usage      model.Usage
}

type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

func newStreamer(events *bedrockruntime.ConverseStreamEventStream, logger telemetry.Logger) model.Streamer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &streamer{
		ctx:        ctx,
		cancel:     cancel,
		events:     events,
		logger:     logger,
		parts:      make(chan model.Part, 32),
		toolBlocks: make(map[int32]*toolBuffer),
	}
	go s.run()
	return s
}

func (s *streamer) Recv() (model.Part, error) {
	select {
	case p, ok := <-s.parts:
		if !ok {
			return model.Part{}, io.EOF
		}
		return p, nil
	case <-s.ctx.Done():
		return model.Part{}, s.ctx.Err()
	}
}

func (s *streamer) Close() error {
	s.cancel()
	if s.events == nil {
		return nil
	}
	return s.events.Close()
}

func (s *streamer) emit(p model.Part) {
	select {
	case s.parts <- p:
	case <-s.ctx.Done():
	}
}

func (s *streamer) run() {
	defer close(s.parts)
	defer func() {
		if s.events != nil {
			_ = s.events.Close()
		}
	}()
	for event := range s.events.Events() {
		if err := s.handle(event); err != nil {
			s.emit(model.Part{Kind: model.PartKindError, Err: err})
			return
		}
	}
	if err := s.events.Err(); err != nil && !errors.Is(err, io.EOF) {
		s.emit(model.Part{Kind: model.PartKindError, Err: err})
	}
}

func (s *streamer) handle(event bedrockruntime.ConverseStreamOutput) error {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberMessageStart:
		s.toolBlocks = make(map[int32]*toolBuffer)
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx := ev.Value.ContentBlockIndex
		if idx == nil {
			return nil
		}
		if start, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse); ok {
			if start.Value.ToolUseId == nil || start.Value.Name == nil {
				return fmt.Errorf("bedrock stream: tool use block missing id or name")
			}
			s.toolBlocks[*idx] = &toolBuffer{id: *start.Value.ToolUseId, name: *start.Value.Name}
		}
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx := ev.Value.ContentBlockIndex
		if idx == nil {
			return nil
		}
		switch delta := ev.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if delta.Value != "" {
				s.emit(model.Part{Kind: model.PartKindTextDelta, TextDelta: delta.Value})
			}
		case *brtypes.ContentBlockDeltaMemberToolUse:
			if tb := s.toolBlocks[*idx]; tb != nil && delta.Value.Input != nil {
				tb.fragments = append(tb.fragments, *delta.Value.Input)
			}
		}
		return nil
	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx := ev.Value.ContentBlockIndex
		if idx == nil {
			return nil
		}
		if tb := s.toolBlocks[*idx]; tb != nil {
			delete(s.toolBlocks, *idx)
			input, fellBack := repairToolInput(tb.fragments)
			if fellBack {
				s.warnRepairFallback(tb.name, tb.id)
			}
			s.emit(model.Part{
				Kind: model.PartKindToolCall,
				ToolCall: &model.ToolCall{
					ID:    tb.id,
					Name:  tb.name,
					Input: input,
				},
			})
		}
		return nil
	case *brtypes.ConverseStreamOutputMemberMessageStop:
		s.stopReason = mapStopReason(string(ev.Value.StopReason))
		return nil
	case *brtypes.ConverseStreamOutputMemberMetadata:
		if ev.Value.Usage != nil {
			s.usage = extractUsage(ev.Value.Usage)
		}
		s.emit(model.Part{Kind: model.PartKindStepFinish, FinishReason: s.stopReason, Usage: s.usage})
		return nil
	}
	return nil
}

func extractUsage(u *brtypes.TokenUsage) model.Usage {
	var usage model.Usage
	if u.InputTokens != nil {
		usage.InputTokens = int(*u.InputTokens)
	}
	if u.OutputTokens != nil {
		usage.OutputTokens = int(*u.OutputTokens)
	}
	if u.CacheReadInputTokens != nil {
		usage.CacheReadInputTokens = int(*u.CacheReadInputTokens)
	}
	if u.CacheWriteInputTokens != nil {
		usage.CacheCreationInputTokens = int(*u.CacheWriteInputTokens)
	}
	return usage
}

// repairToolInput mirrors the Anthropic/OpenAI adapters: Bedrock occasionally
// forwards a model's stringified-JSON tool input unchanged. One reparse is
// attempted before falling back to an empty object; the bool return reports
// whether that fallback was taken.
func repairToolInput(fragments []string) (json.RawMessage, bool) {
	joined := strings.TrimSpace(strings.Join(fragments, ""))
	if joined == "" {
		return json.RawMessage("{}"), false
	}
	if json.Valid([]byte(joined)) {
		return json.RawMessage(joined), false
	}
	var unwrapped string
	if err := json.Unmarshal([]byte(joined), &unwrapped); err == nil && json.Valid([]byte(unwrapped)) {
		return json.RawMessage(unwrapped), false
	}
	return json.RawMessage("{}"), true
}

// warnRepairFallback logs when repairToolInput could not recover a tool
// call's streamed fragments and fell back to an empty object.
func (s *streamer) warnRepairFallback(toolName, toolID string) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(context.Background(), "bedrock: tool input repair fell back to empty object",
		"tool", toolName, "toolCallId", toolID)
}

func mapStopReason(reason string) string {
	switch reason {
	case "end_turn", "stop_sequence":
		return model.FinishStop
	case "max_tokens":
		return model.FinishLength
	case "tool_use":
		return model.FinishToolCalls
	default:
		return model.FinishOther
	}
}
