package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/harunnryd/chatloop/internal/model/contract"

	"github.com/sashabaranov/go-openai"
)

type Provider struct {
	client *openai.Client
	model  string
}

func New(apiKey, baseURL, model string) *Provider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}

	client := openai.NewClientWithConfig(cfg)
	return &Provider{client: client, model: model}
}

func (p *Provider) Name() string {
	return "openai"
}

// Stream runs a streaming chat completion, forwarding text and positional
// tool-call fragments to onDelta as they arrive.
func (p *Provider) Stream(ctx context.Context, req contract.CompletionRequest, onDelta func(contract.Delta)) (*contract.CompletionResponse, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: toChatMessages(req.Messages),
		Tools:    toTools(req.Tools),
		Stream:   true,
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, fmt.Errorf("openai request failed: %w", err)
	}
	defer stream.Close()

	var content strings.Builder
	acc := newCallAccumulator()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("openai stream failed: %w", err)
		}
		if len(chunk.Choices) == 0 {
			continue
		}

		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			content.WriteString(delta.Content)
			if onDelta != nil {
				onDelta(contract.Delta{Text: delta.Content})
			}
		}

		for i, tc := range delta.ToolCalls {
			index := i
			if tc.Index != nil {
				index = *tc.Index
			}
			frag := contract.ToolCallDelta{
				Index:     index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}
			acc.add(frag)
			if onDelta != nil {
				onDelta(contract.Delta{ToolCall: &frag})
			}
		}
	}

	return &contract.CompletionResponse{Message: contract.Message{
		Role:      contract.RoleAssistant,
		Content:   content.String(),
		ToolCalls: acc.calls(),
	}}, nil
}

func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	model := p.model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}

	req := openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(model),
	}

	resp, err := p.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai embedding failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no embedding data returned")
	}

	return resp.Data[0].Embedding, nil
}

func toChatMessages(in []contract.Message) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(in))
	for _, m := range in {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			ToolCallID: m.ToolCallID,
		}
		if m.Role == contract.RoleTool {
			msg.Name = m.Name
		}

		if m.Role == contract.RoleUser && hasImage(m.Parts) {
			msg.MultiContent = toMultiContent(m)
		} else {
			msg.Content = m.FlattenText()
		}

		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.ArgumentsJSON(),
				},
			})
		}

		messages = append(messages, msg)
	}
	return messages
}

func hasImage(parts []contract.ContentPart) bool {
	for _, p := range parts {
		if p.IsImage() {
			return true
		}
	}
	return false
}

func toMultiContent(m contract.Message) []openai.ChatMessagePart {
	var parts []openai.ChatMessagePart
	if m.Content != "" {
		parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: m.Content})
	}
	for _, p := range m.Parts {
		if p.IsImage() {
			parts = append(parts, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: p.DataURL(), Detail: openai.ImageURLDetailAuto},
			})
			continue
		}
		if txt := p.InlineText(); txt != "" {
			parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: txt})
		}
	}
	return parts
}

func toTools(defs []contract.ToolDef) []openai.Tool {
	var tools []openai.Tool
	for _, t := range defs {
		params := t.Parameters
		if params == nil {
			params = map[string]interface{}{
				"type":       "object",
				"properties": map[string]interface{}{},
			}
		}
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return tools
}

// callAccumulator assembles positional fragments into complete tool calls.
type callAccumulator struct {
	byIndex map[int]*pendingCall
}

type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

func newCallAccumulator() *callAccumulator {
	return &callAccumulator{byIndex: make(map[int]*pendingCall)}
}

func (a *callAccumulator) add(frag contract.ToolCallDelta) {
	pc, ok := a.byIndex[frag.Index]
	if !ok {
		pc = &pendingCall{}
		a.byIndex[frag.Index] = pc
	}
	if pc.id == "" && frag.ID != "" {
		pc.id = frag.ID
	}
	if pc.name == "" && frag.Name != "" {
		pc.name = frag.Name
	}
	pc.args.WriteString(frag.Arguments)
}

func (a *callAccumulator) calls() []contract.ToolCall {
	if len(a.byIndex) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.byIndex))
	for idx := range a.byIndex {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	out := make([]contract.ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		pc := a.byIndex[idx]
		id := pc.id
		if id == "" {
			id = fmt.Sprintf("call_%d", idx+1)
		}
		out = append(out, contract.ToolCall{
			ID:        id,
			Name:      pc.name,
			Arguments: contract.ParseArguments(pc.args.String()),
		})
	}
	return out
}
