package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	toolcore "github.com/harunnryd/chatloop/internal/tool"
)

const (
	defaultWebSearchMaxResults = 5
	maxWebSearchResultsHardCap = 10
	maxWebSearchBodyBytes      = 2 << 20
)

type webSearchInput struct {
	Query string `json:"query"`
}

type searxResponse struct {
	Results []searxResult `json:"results"`
}

type searxResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// WebSearchTool queries a SearxNG instance through its JSON API.
type WebSearchTool struct {
	Client     *http.Client
	BaseURL    string
	MaxResults int
}

func init() {
	toolcore.RegisterBuiltin("web_search", func(options toolcore.BuiltinOptions) (toolcore.Tool, error) {
		baseURL := strings.TrimSpace(options.WebBaseURL)
		if baseURL == "" {
			return nil, fmt.Errorf("no search endpoint configured: %w", toolcore.ErrBuiltinUnavailable)
		}
		timeout := options.WebTimeout
		if timeout <= 0 {
			timeout = toolcore.DefaultBuiltinWebTimeout
		}

		return &WebSearchTool{
			Client:     &http.Client{Timeout: timeout},
			BaseURL:    baseURL,
			MaxResults: options.WebMaxResults,
		}, nil
	})
}

func (t *WebSearchTool) Name() string {
	return "web_search"
}

func (t *WebSearchTool) Description() string {
	return "Perform a web search to find current information, news or articles on the internet. " +
		"Returns titles, URLs and snippets."
}

func (t *WebSearchTool) ToolMetadata() toolcore.ToolMetadata {
	return toolcore.ToolMetadata{
		Source:       "builtin",
		Capabilities: []string{"web.search", "http.get"},
		Risk:         toolcore.RiskMedium,
	}
}

func (t *WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "The search query string. Be specific and descriptive.",
			},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
	var args webSearchInput
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("invalid input: %w", err)
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	results, err := t.search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error performing web search: %w", err)
	}

	if len(results) == 0 {
		return json.Marshal(fmt.Sprintf("No web search results found for query: '%s'", query))
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d web search results for '%s':\n\n", len(results), query)
	for i, r := range results {
		fmt.Fprintf(&sb, "## Result %d: %s\n", i+1, orDefault(r.Title, "No title"))
		fmt.Fprintf(&sb, "**URL**: %s\n", orDefault(r.URL, "No link"))
		fmt.Fprintf(&sb, "%s\n\n", orDefault(r.Content, "No snippet"))
		sb.WriteString("---\n\n")
	}
	return json.Marshal(sb.String())
}

func (t *WebSearchTool) search(ctx context.Context, query string) ([]searxResult, error) {
	parsed, err := url.Parse(strings.TrimSpace(t.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid search base url: %w", err)
	}
	values := parsed.Query()
	values.Set("q", query)
	values.Set("format", "json")
	parsed.RawQuery = values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	client := t.Client
	if client == nil {
		client = &http.Client{Timeout: toolcore.DefaultBuiltinWebTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search endpoint returned status %d", resp.StatusCode)
	}

	var payload searxResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxWebSearchBodyBytes)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	limit := t.MaxResults
	if limit <= 0 {
		limit = defaultWebSearchMaxResults
	}
	if limit > maxWebSearchResultsHardCap {
		limit = maxWebSearchResultsHardCap
	}
	if len(payload.Results) > limit {
		payload.Results = payload.Results[:limit]
	}
	return payload.Results, nil
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}
