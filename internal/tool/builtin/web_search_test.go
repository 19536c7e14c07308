package builtin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	toolcore "github.com/harunnryd/chatloop/internal/tool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeText(t *testing.T, raw json.RawMessage) string {
	t.Helper()
	var out string
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func TestWebSearchTool_FormatsMarkdown(t *testing.T) {
	var observed string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		observed = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"results":[
			{"title":"Alpha","url":"https://example.com/a","content":"first snippet"},
			{"title":"","url":"https://example.com/b","content":""},
			{"title":"Gamma","url":"https://example.com/c","content":"third"}
		]}`)
	}))
	defer server.Close()

	tool := &WebSearchTool{Client: server.Client(), BaseURL: server.URL + "/search", MaxResults: 2}

	raw, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"golang tools"}`))
	require.NoError(t, err)
	assert.Equal(t, "format=json&q=golang+tools", observed)

	out := decodeText(t, raw)
	assert.Contains(t, out, "Found 2 web search results for 'golang tools':")
	assert.Contains(t, out, "## Result 1: Alpha\n**URL**: https://example.com/a\nfirst snippet\n\n---")
	assert.Contains(t, out, "## Result 2: No title")
	assert.Contains(t, out, "No snippet")
	assert.NotContains(t, out, "Gamma")
}

func TestWebSearchTool_EmptyResultIsMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"results":[]}`)
	}))
	defer server.Close()

	tool := &WebSearchTool{Client: server.Client(), BaseURL: server.URL}
	raw, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"nothing"}`))
	require.NoError(t, err)
	assert.Equal(t, "No web search results found for query: 'nothing'", decodeText(t, raw))
}

func TestWebSearchTool_Errors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	tool := &WebSearchTool{Client: server.Client(), BaseURL: server.URL}
	_, err := tool.Execute(context.Background(), json.RawMessage(`{"query":"x"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")

	_, err = tool.Execute(context.Background(), json.RawMessage(`{"query":"  "}`))
	assert.Error(t, err)
}

func TestWebSearchFactory_RequiresEndpoint(t *testing.T) {
	tools, err := toolcore.InstantiateBuiltins(toolcore.BuiltinOptions{})
	require.NoError(t, err)
	for _, tl := range tools {
		assert.NotEqual(t, "web_search", tl.Name())
	}
}
