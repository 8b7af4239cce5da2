package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/anthonybaldwin/crewforge/internal/model"
	"github.com/anthonybaldwin/crewforge/internal/telemetry"
)

// streamer adapts an Anthropic Messages streaming response to model.Streamer,
// flattening content-block deltas into model.Parts and repairing the known
// upstream defect where a tool_use block's accumulated JSON fragments fail to
// parse: a retry cannot help because the model itself
// truncated mid-JSON, so the repaired call falls back to an empty object and
// logs a warning through the streamer's logger.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
	logger telemetry.Logger

	parts chan model.Part

	toolBlocks map[int]*toolBuffer
	stopReason string
	usage      model.Usage
}

type toolBuffer struct {
	id        string
	name      string
	fragments []string
}

func newStreamer(stream *ssestream.Stream[sdk.MessageStreamEventUnion], logger telemetry.Logger) model.Streamer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &streamer{
		ctx:        ctx,
		cancel:     cancel,
		stream:     stream,
		logger:     logger,
		parts:      make(chan model.Part, 32),
		toolBlocks: make(map[int]*toolBuffer),
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
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
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
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()
	for s.stream.Next() {
		event := s.stream.Current()
		s.handle(event)
	}
	if err := s.stream.Err(); err != nil && !errors.Is(err, io.EOF) {
		s.emit(model.Part{Kind: model.PartKindError, Err: err})
	}
}

func (s *streamer) handle(event sdk.MessageStreamEventUnion) {
	switch ev := event.AsAny().(type) {
	case sdk.MessageStartEvent:
		s.toolBlocks = make(map[int]*toolBuffer)
		s.stopReason = ""
	case sdk.ContentBlockStartEvent:
		idx := int(ev.Index)
		if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			s.toolBlocks[idx] = &toolBuffer{id: tu.ID, name: tu.Name}
		}
	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text != "" {
				s.emit(model.Part{Kind: model.PartKindTextDelta, TextDelta: delta.Text})
			}
		case sdk.InputJSONDelta:
			if tb := s.toolBlocks[idx]; tb != nil && delta.PartialJSON != "" {
				tb.fragments = append(tb.fragments, delta.PartialJSON)
			}
		}
	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		if tb := s.toolBlocks[idx]; tb != nil {
			delete(s.toolBlocks, idx)
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
	case sdk.MessageDeltaEvent:
		s.stopReason = mapStopReason(string(ev.Delta.StopReason))
		s.usage = model.Usage{
			InputTokens:              int(ev.Usage.InputTokens),
			OutputTokens:             int(ev.Usage.OutputTokens),
			CacheCreationInputTokens: int(ev.Usage.CacheCreationInputTokens),
			CacheReadInputTokens:     int(ev.Usage.CacheReadInputTokens),
		}
	case sdk.MessageStopEvent:
		s.emit(model.Part{Kind: model.PartKindStepFinish, FinishReason: s.stopReason, Usage: s.usage})
		s.toolBlocks = make(map[int]*toolBuffer)
	}
}

// repairToolInput joins the streamed JSON fragments for a tool_use block and
// parses them as a JSON object. When the joined text is not valid JSON — the
// model streamed a stringified blob instead of an object, or truncated
// mid-token — it attempts one reparse pass and otherwise falls back to an
// empty object rather than failing the whole turn; the bool return reports
// whether that fallback was taken, so the caller can warn.
func repairToolInput(fragments []string) (json.RawMessage, bool) {
	joined := strings.TrimSpace(strings.Join(fragments, ""))
	if joined == "" {
		return json.RawMessage("{}"), false
	}
	if json.Valid([]byte(joined)) {
		return json.RawMessage(joined), false
	}
	// The model sometimes emits its JSON input as a quoted string containing
	// escaped JSON rather than an object. Unwrap one layer of string
	// quoting and retry.
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
	s.logger.Warn(context.Background(), "anthropic: tool input repair fell back to empty object",
		"tool", toolName, "toolCallId", toolID)
}

func mapStopReason(provider string) string {
	switch provider {
	case "end_turn", "stop_sequence":
		return model.FinishStop
	case "max_tokens":
		return model.FinishLength
	case "tool_use":
		return model.FinishToolCalls
	case "":
		return model.FinishOther
	default:
		return model.FinishOther
	}
}
