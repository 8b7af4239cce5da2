package openai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/anthonybaldwin/crewforge/internal/model"
	"github.com/anthonybaldwin/crewforge/internal/telemetry"
)

// streamer adapts an OpenAI Chat Completions chunk stream to model.Streamer.
// Tool-call argument fragments arrive keyed by index across chunks and are
// only materialized into Parts once the chunk stream ends without error,
// just before the step-finish Part.
type streamer struct {
	ctx    context.Context
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.ChatCompletionChunk]
	logger telemetry.Logger

	parts chan model.Part

	toolCalls map[int64]*toolCallBuffer
	finishRsn string
	usage     model.Usage
}

type toolCallBuffer struct {
	id   string
	name string
	args strings.Builder
}

func newStreamer(stream *ssestream.Stream[sdk.ChatCompletionChunk], logger telemetry.Logger) model.Streamer {
	ctx, cancel := context.WithCancel(context.Background())
	s := &streamer{
		ctx:       ctx,
		cancel:    cancel,
		stream:    stream,
		logger:    logger,
		parts:     make(chan model.Part, 32),
		toolCalls: make(map[int64]*toolCallBuffer),
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
		s.handle(s.stream.Current())
	}
	if err := s.stream.Err(); err != nil && !errors.Is(err, io.EOF) {
		s.emit(model.Part{Kind: model.PartKindError, Err: err})
		return
	}
	s.flushToolCalls()
	s.emit(model.Part{Kind: model.PartKindStepFinish, FinishReason: s.finishRsn, Usage: s.usage})
}

func (s *streamer) handle(chunk sdk.ChatCompletionChunk) {
	if len(chunk.Choices) > 0 {
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			s.emit(model.Part{Kind: model.PartKindTextDelta, TextDelta: choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			buf := s.toolCalls[tc.Index]
			if buf == nil {
				buf = &toolCallBuffer{}
				s.toolCalls[tc.Index] = buf
			}
			if tc.ID != "" {
				buf.id = tc.ID
			}
			if tc.Function.Name != "" {
				buf.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				buf.args.WriteString(tc.Function.Arguments)
			}
		}
		if choice.FinishReason != "" {
			s.finishRsn = mapFinishReason(string(choice.FinishReason))
		}
	}
	if chunk.Usage.TotalTokens > 0 {
		s.usage = model.Usage{
			InputTokens:          int(chunk.Usage.PromptTokens),
			OutputTokens:         int(chunk.Usage.CompletionTokens),
			CacheReadInputTokens: int(chunk.Usage.PromptTokensDetails.CachedTokens),
		}
	}
}

func (s *streamer) flushToolCalls() {
	if len(s.toolCalls) == 0 {
		return
	}
	for i := int64(0); i < int64(len(s.toolCalls)); i++ {
		buf, ok := s.toolCalls[i]
		if !ok || buf.id == "" {
			continue
		}
		input, fellBack := repairToolInput(buf.args.String())
		if fellBack {
			s.warnRepairFallback(buf.name, buf.id)
		}
		s.emit(model.Part{
			Kind: model.PartKindToolCall,
			ToolCall: &model.ToolCall{
				ID:    buf.id,
				Name:  buf.name,
				Input: input,
			},
		})
	}
	s.toolCalls = make(map[int64]*toolCallBuffer)
}

// repairToolInput applies the same stringified-JSON repair as the Anthropic
// adapter: OpenAI occasionally streams arguments that, once joined, parse as
// a JSON string rather than an object. One reparse is attempted before
// falling back to an empty object; the bool return reports whether that
// fallback was taken.
func repairToolInput(joined string) (json.RawMessage, bool) {
	joined = strings.TrimSpace(joined)
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
// call's streamed arguments and fell back to an empty object.
func (s *streamer) warnRepairFallback(toolName, toolID string) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(context.Background(), "openai: tool input repair fell back to empty object",
		"tool", toolName, "toolCallId", toolID)
}

func mapFinishReason(reason string) string {
	switch reason {
	case "stop":
		return model.FinishStop
	case "length":
		return model.FinishLength
	case "tool_calls":
		return model.FinishToolCalls
	case "content_filter":
		return model.FinishError
	default:
		return model.FinishOther
	}
}
