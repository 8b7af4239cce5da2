// Package openai adapts github.com/openai/openai-go to the provider-agnostic
// model.Client interface used by the Provider Gateway.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/anthonybaldwin/crewforge/internal/model"
	"github.com/anthonybaldwin/crewforge/internal/telemetry"
)

type (
	// ChatClient captures the subset of the OpenAI SDK used here, so tests
	// can substitute a mock in place of the real Chat Completions service.
	ChatClient interface {
		NewStreaming(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.ChatCompletionChunk]
	}

	// Client implements model.Client on top of OpenAI Chat Completions.
	Client struct {
		chat   ChatClient
		logger telemetry.Logger
	}
)

// New builds an OpenAI-backed model client. logger may be nil.
func New(chat ChatClient, logger telemetry.Logger) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat completions client is required")
	}
	return &Client{chat: chat, logger: logger}, nil
}

// NewFromAPIKey constructs a client from a raw API key and an optional proxy
// base URL, mirroring the per-provider header contract the Gateway resolves
// credentials through.
func NewFromAPIKey(apiKey string, proxyURL string, logger telemetry.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if proxyURL != "" {
		opts = append(opts, option.WithBaseURL(proxyURL))
	}
	oc := sdk.NewClient(opts...)
	return New(&oc.Chat.Completions, logger)
}

// Stream invokes Chat Completions with streaming enabled and adapts the
// resulting chunk stream into model.Parts.
func (c *Client) Stream(ctx context.Context, req *model.Request) (model.Streamer, error) {
	params, err := prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.chat.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("openai: chat completions stream: %w", err)
	}
	return newStreamer(stream, c.logger), nil
}

func prepareRequest(req *model.Request) (*sdk.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	if req.Model == "" {
		return nil, errors.New("openai: model identifier is required")
	}
	if req.MaxOutputTokens <= 0 {
		return nil, errors.New("openai: max output tokens must be positive")
	}

	msgs, err := encodeMessages(req)
	if err != nil {
		return nil, err
	}
	params := sdk.ChatCompletionNewParams{
		Model:               sdk.ChatModel(req.Model),
		Messages:            msgs,
		MaxCompletionTokens: sdk.Int(int64(req.MaxOutputTokens)),
		StreamOptions: sdk.ChatCompletionStreamOptionsParam{
			IncludeUsage: sdk.Bool(true),
		},
	}
	if len(req.Tools) > 0 {
		tools, err := encodeTools(req.Tools)
		if err != nil {
			return nil, err
		}
		params.Tools = tools
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(float64(req.Temperature))
	}
	return &params, nil
}

func encodeMessages(req *model.Request) ([]sdk.ChatCompletionMessageParamUnion, error) {
	out := make([]sdk.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		out = append(out, sdk.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case model.Role("user"):
			out = append(out, sdk.UserMessage(m.Text))
		case model.Role("assistant"):
			out = append(out, encodeAssistantMessage(m))
		default:
			for _, tr := range m.ToolResults {
				out = append(out, sdk.ToolMessage(string(tr.Output), tr.ToolCallID))
			}
			if len(m.ToolResults) == 0 {
				return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
			}
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}
	return out, nil
}

func encodeAssistantMessage(m model.Message) sdk.ChatCompletionMessageParamUnion {
	msg := sdk.ChatCompletionAssistantMessageParam{}
	if m.Text != "" {
		msg.Content.OfString = sdk.String(m.Text)
	}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, sdk.ChatCompletionMessageToolCallParam{
			ID:   tc.ID,
			Type: "function",
			Function: sdk.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: string(tc.Input),
			},
		})
	}
	return sdk.ChatCompletionMessageParamUnion{OfAssistant: &msg}
}

func encodeTools(defs []model.ToolDefinition) ([]sdk.ChatCompletionToolParam, error) {
	tools := make([]sdk.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		raw, err := json.Marshal(def.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("openai: tool %q schema: %w", def.Name, err)
		}
		var params map[string]any
		if err := json.Unmarshal(raw, &params); err != nil {
			return nil, fmt.Errorf("openai: tool %q schema: %w", def.Name, err)
		}
		tools = append(tools, sdk.ChatCompletionToolParam{
			Function: sdk.FunctionDefinitionParam{
				Name:        def.Name,
				Description: sdk.String(def.Description),
				Parameters:  params,
			},
		})
	}
	return tools, nil
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}
