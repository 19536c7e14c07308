package tooling

import (
	"fmt"
	"strings"

	"github.com/harunnryd/chatloop/internal/config"
	"github.com/harunnryd/chatloop/internal/tool"
)

func resolveBuiltinOptions(cfg *config.Config, deps Deps) (tool.BuiltinOptions, error) {
	if cfg == nil {
		return tool.BuiltinOptions{}, fmt.Errorf("config cannot be nil")
	}

	webTimeout, err := config.DurationOrDefault(cfg.Tools.Web.Timeout, config.DefaultWebToolTimeout)
	if err != nil {
		return tool.BuiltinOptions{}, fmt.Errorf("parse tools.web.timeout: %w", err)
	}
	webMaxResults := cfg.Tools.Web.MaxResults
	if webMaxResults <= 0 {
		webMaxResults = config.DefaultWebToolMaxResults
	}

	pythonTimeout, err := config.DurationOrDefault(cfg.Tools.Python.Timeout, config.DefaultPythonTimeout)
	if err != nil {
		return tool.BuiltinOptions{}, fmt.Errorf("parse tools.python.timeout: %w", err)
	}
	pythonCommand := strings.TrimSpace(cfg.Tools.Python.Command)
	if pythonCommand == "" {
		pythonCommand = config.DefaultPythonCommand
	}

	topK := cfg.Tools.Documents.TopK
	if topK <= 0 {
		topK = config.DefaultDocumentsTopK
	}

	imageModel := strings.TrimSpace(cfg.Tools.Image.Model)
	if imageModel == "" {
		imageModel = config.DefaultImageModel
	}
	imageSize := strings.TrimSpace(cfg.Tools.Image.Size)
	if imageSize == "" {
		imageSize = config.DefaultImageSize
	}

	return tool.BuiltinOptions{
		WebBaseURL:    strings.TrimSpace(cfg.Tools.Web.BaseURL),
		WebTimeout:    webTimeout,
		WebMaxResults: webMaxResults,
		Documents:     deps.Documents,
		DocumentsTopK: topK,
		ImageAPIKey:   strings.TrimSpace(cfg.Tools.Image.APIKey),
		ImageBaseURL:  strings.TrimSpace(cfg.Tools.Image.BaseURL),
		ImageModel:    imageModel,
		ImageSize:     imageSize,
		PythonCommand: pythonCommand,
		PythonTimeout: pythonTimeout,
		Sandbox:       deps.Sandbox,
	}, nil
}
