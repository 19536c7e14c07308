package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	toolcore "github.com/harunnryd/chatloop/internal/tool"

	"github.com/sashabaranov/go-openai"
)

type generateImageInput struct {
	Prompt string `json:"prompt"`
}

type imageCreator interface {
	CreateImage(ctx context.Context, request openai.ImageRequest) (openai.ImageResponse, error)
}

// GenerateImageTool renders an image from a text prompt and returns its URL.
type GenerateImageTool struct {
	Client imageCreator
	Model  string
	Size   string
}

func init() {
	toolcore.RegisterBuiltin("generate_image", func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		apiKey := strings.TrimSpace(options.ImageAPIKey)
		if apiKey == "" {
			return nil, fmt.Errorf("no image api key configured: %w", toolcore.ErrBuiltinUnavailable)
		}

		cfg := openai.DefaultConfig(apiKey)
		if base := strings.TrimSpace(options.ImageBaseURL); base != "" {
			cfg.BaseURL = base
		}

		return &GenerateImageTool{
			Client: openai.NewClientWithConfig(cfg),
			Model:  options.ImageModel,
			Size:   options.ImageSize,
		}, nil
	})
}

func (t *GenerateImageTool) Name() string {
	return "generate_image"
}

func (t *GenerateImageTool) Description() string {
	return "Generate an image from a detailed text description. Returns the URL of the generated image."
}

func (t *GenerateImageTool) ToolMetadata() toolcore.ToolMetadata {
	return toolcore.ToolMetadata{
		Source:       "builtin",
		Capabilities: []string{"image.generate"},
		Risk:         toolcore.RiskMedium,
	}
}

func (t *GenerateImageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"prompt": map[string]interface{}{
				"type":        "string",
				"description": "Detailed description of the image to generate.",
			},
		},
		"required": []string{"prompt"},
	}
}

func (t *GenerateImageTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var args generateImageInput
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	prompt := strings.TrimSpace(args.Prompt)
	if prompt == "" {
		return nil, fmt.Errorf("prompt is required")
	}

	req := openai.ImageRequest{
		Prompt:         prompt,
		Model:          t.Model,
		Size:           t.Size,
		N:              1,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	}
	if req.Size == "" {
		req.Size = openai.CreateImageSize1024x1024
	}

	resp, err := t.Client.CreateImage(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("image generation failed: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return nil, fmt.Errorf("image generation returned no image")
	}
	return json.Marshal(resp.Data[0].URL)
}
