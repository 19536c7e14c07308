package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	toolcore "github.com/harunnryd/chatloop/internal/tool"
)

const (
	defaultDocumentSearchTop = 5
	maxDocumentSearchTop     = 50
)

type documentSearchInput struct {
	Query string `json:"query"`
	Top   int    `json:"top,omitempty"`
}

// DocumentSearchTool answers questions from the locally indexed documents.
type DocumentSearchTool struct {
	Index      toolcore.DocumentIndex
	DefaultTop int
}

func init() {
	toolcore.RegisterBuiltin("document_search", func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		if options.Documents == nil {
			return nil, fmt.Errorf("no document index configured: %w", toolcore.ErrBuiltinUnavailable)
		}
		return &DocumentSearchTool{Index: options.Documents, DefaultTop: options.DocumentsTopK}, nil
	})
}

func (t *DocumentSearchTool) Name() string {
	return "document_search"
}

func (t *DocumentSearchTool) Description() string {
	return "Search the indexed document collection for passages relevant to a query. " +
		"Use it for questions about the user's own files."
}

func (t *DocumentSearchTool) ToolMetadata() toolcore.ToolMetadata {
	return toolcore.ToolMetadata{
		Source:       "builtin",
		Capabilities: []string{"documents.search"},
		Risk:         toolcore.RiskLow,
	}
}

func (t *DocumentSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to look for in the documents.",
			},
			"top": map[string]interface{}{
				"type":        "integer",
				"description": "Number of passages to return (1-50).",
			},
		},
		"required": []string{"query"},
	}
}

func (t *DocumentSearchTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var args documentSearchInput
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	top := clampTop(args.Top, t.DefaultTop)
	hits, err := t.Index.Search(ctx, query, top)
	if err != nil {
		return nil, fmt.Errorf("error searching documents: %w", err)
	}
	if len(hits) == 0 {
		return json.Marshal(fmt.Sprintf("No documents matched query: '%s'", query))
	}

	var sb strings.Builder
	for i, hit := range hits {
		fmt.Fprintf(&sb, "## Result %d (Score: %.3f)\n", i+1, hit.Score)
		fmt.Fprintf(&sb, "**File**: %s | **Chunk**: %d | **ID**: `%s`\n\n", hit.File, hit.Chunk, hit.ID)
		sb.WriteString(hit.Content)
		sb.WriteString("\n\n---\n\n")
	}
	return json.Marshal(sb.String())
}

func clampTop(requested, fallback int) int {
	top := requested
	if top <= 0 {
		top = fallback
	}
	if top <= 0 {
		top = defaultDocumentSearchTop
	}
	if top > maxDocumentSearchTop {
		top = maxDocumentSearchTop
	}
	return top
}
