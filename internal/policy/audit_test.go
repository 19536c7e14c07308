package policy

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/harunnryd/chatloop/internal/config"
	"github.com/harunnryd/chatloop/internal/logger"
)

func TestAuditLoggerAppendsAndFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")
	al, err := NewAuditLogger(config.AuditConfig{Enabled: true, Path: path})
	if err != nil {
		t.Fatalf("NewAuditLogger failed: %v", err)
	}

	ctx := logger.WithConversationID(context.Background(), "conv-1")
	if err := al.Log(ctx, &AuditEntry{ToolCallID: "A", ToolName: "generate_image", Decision: "approved"}); err != nil {
		t.Fatalf("first Log failed: %v", err)
	}
	if err := al.Log(ctx, &AuditEntry{ToolCallID: "B", ToolName: "python", Decision: "rejected"}); err != nil {
		t.Fatalf("second Log failed: %v", err)
	}

	entries, err := al.Query(ctx, nil)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ConversationID != "conv-1" {
		t.Fatalf("expected conversation id from context, got %q", entries[0].ConversationID)
	}

	rejected, err := al.Query(ctx, &AuditFilter{Decision: "rejected"})
	if err != nil {
		t.Fatalf("filtered Query failed: %v", err)
	}
	if len(rejected) != 1 || rejected[0].ToolName != "python" {
		t.Fatalf("unexpected filtered result: %+v", rejected)
	}
}

func TestAuditLoggerRedactsArguments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")
	al, err := NewAuditLogger(config.AuditConfig{Enabled: true, Path: path, RedactPatterns: []string{`sk-[a-z0-9]+`}})
	if err != nil {
		t.Fatalf("NewAuditLogger failed: %v", err)
	}

	if err := al.Log(context.Background(), &AuditEntry{
		ToolName:  "python",
		Decision:  "approved",
		Arguments: json.RawMessage(`{"code":"key='sk-abc123'"}`),
	}); err != nil {
		t.Fatalf("Log failed: %v", err)
	}

	entries, err := al.Query(context.Background(), nil)
	if err != nil || len(entries) != 1 {
		t.Fatalf("Query: %v (%d entries)", err, len(entries))
	}
	if got := string(entries[0].Arguments); got != `{"code":"key='[REDACTED]'"}` {
		t.Fatalf("expected redacted arguments, got %s", got)
	}
}

func TestAuditLoggerDisabledIsNoop(t *testing.T) {
	al, err := NewAuditLogger(config.AuditConfig{})
	if err != nil {
		t.Fatalf("NewAuditLogger failed: %v", err)
	}
	if err := al.Log(context.Background(), &AuditEntry{}); err != nil {
		t.Fatalf("disabled Log should not fail: %v", err)
	}
	entries, _ := al.Query(context.Background(), nil)
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}
