package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider talks to an Anthropic-compatible messages endpoint,
// using native tool-calling via content blocks, grounded on
// internal/agent/providers/anthropic.go's streaming accumulator.
type AnthropicProvider struct {
	client anthropic.Client
	model  string
}

// NewAnthropicProvider builds a provider against baseURL (empty means the
// SDK's default api.anthropic.com).
func NewAnthropicProvider(apiKey, baseURL, model string) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicProvider{client: anthropic.NewClient(opts...), model: model}
}

func (p *AnthropicProvider) Name() string        { return "anthropic" }
func (p *AnthropicProvider) SupportsTools() bool  { return true }

func (p *AnthropicProvider) buildParams(req ChatRequest) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2000
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	for _, m := range req.Messages {
		if m.Content == "" {
			continue
		}
		if m.Role == "assistant" {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	for _, t := range req.Tools {
		var schema anthropic.ToolInputSchemaParam
		if len(t.Schema) > 0 {
			if err := json.Unmarshal(t.Schema, &schema); err != nil {
				return params, fmt.Errorf("tool schema for %s: %w", t.Name, err)
			}
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if toolParam.OfTool != nil {
			toolParam.OfTool.Description = anthropic.String(t.Description)
		}
		params.Tools = append(params.Tools, toolParam)
	}
	return params, nil
}

func (p *AnthropicProvider) Complete(ctx context.Context, req ChatRequest) (ChatResult, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return ChatResult{}, err
	}
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return ChatResult{}, fmt.Errorf("anthropic: %w", err)
	}

	var result ChatResult
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			result.Content += variant.Text
		case anthropic.ThinkingBlock:
			result.Thinking += variant.Thinking
		case anthropic.ToolUseBlock:
			result.ToolCalls = append(result.ToolCalls, NativeToolCall{
				ID: variant.ID, Name: variant.Name, Arguments: json.RawMessage(variant.Input),
			})
		}
	}
	return result, nil
}

// Stream consumes Anthropic's SSE event stream and re-emits it as
// StreamChunks, mirroring the teacher's content_block_start /
// content_block_delta / content_block_stop accumulation.
func (p *AnthropicProvider) Stream(ctx context.Context, req ChatRequest) (<-chan StreamChunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	stream := p.client.Messages.NewStreaming(ctx, params)

	out := make(chan StreamChunk)
	go func() {
		defer close(out)

		var toolID, toolName string
		var toolInput strings.Builder
		inTool := false

		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_start":
				block := event.AsContentBlockStart().ContentBlock
				if block.Type == "tool_use" {
					toolUse := block.AsToolUse()
					toolID, toolName = toolUse.ID, toolUse.Name
					toolInput.Reset()
					inTool = true
				}
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				switch delta.Type {
				case "text_delta":
					if delta.Text != "" {
						out <- StreamChunk{Content: delta.Text}
					}
				case "thinking_delta":
					if delta.Thinking != "" {
						out <- StreamChunk{Thinking: delta.Thinking}
					}
				case "input_json_delta":
					toolInput.WriteString(delta.PartialJSON)
				}
			case "content_block_stop":
				if inTool {
					out <- StreamChunk{ToolCall: &NativeToolCall{
						ID: toolID, Name: toolName, Arguments: json.RawMessage(toolInput.String()),
					}}
					inTool = false
				}
			case "message_stop":
				out <- StreamChunk{Done: true}
				return
			case "error":
				out <- StreamChunk{Err: fmt.Errorf("anthropic stream error"), Done: true}
				return
			}
		}
		if err := stream.Err(); err != nil {
			out <- StreamChunk{Err: fmt.Errorf("anthropic: %w", err), Done: true}
		}
	}()
	return out, nil
}
