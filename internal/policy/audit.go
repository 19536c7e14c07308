package policy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/chatloop/internal/config"
	"github.com/harunnryd/chatloop/internal/logger"
)

// AuditEntry records one human decision on a gated tool call.
type AuditEntry struct {
	Timestamp      time.Time       `json:"timestamp"`
	TraceID        string          `json:"trace_id,omitempty"`
	ConversationID string          `json:"conversation_id"`
	CheckpointID   string          `json:"checkpoint_id,omitempty"`
	ToolCallID     string          `json:"tool_call_id"`
	ToolName       string          `json:"tool_name"`
	Decision       string          `json:"decision"`
	Arguments      json.RawMessage `json:"arguments,omitempty"`
}

type AuditFilter struct {
	ConversationID string
	ToolName       string
	Decision       string
	StartTime      time.Time
	EndTime        time.Time
}

type AuditLogger interface {
	Log(ctx context.Context, entry *AuditEntry) error
	Query(ctx context.Context, filter *AuditFilter) ([]*AuditEntry, error)
}

type DefaultAuditLogger struct {
	mu             sync.RWMutex
	logPath        string
	enabled        bool
	redactPatterns []*regexp.Regexp
	literals       []string
}

func NewAuditLogger(cfg config.AuditConfig) (*DefaultAuditLogger, error) {
	if !cfg.Enabled || strings.TrimSpace(cfg.Path) == "" {
		return &DefaultAuditLogger{enabled: false}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	al := &DefaultAuditLogger{
		logPath: cfg.Path,
		enabled: true,
	}
	for _, pattern := range cfg.RedactPatterns {
		if pattern == "" {
			continue
		}
		if re, err := regexp.Compile(pattern); err == nil {
			al.redactPatterns = append(al.redactPatterns, re)
		} else {
			al.literals = append(al.literals, pattern)
		}
	}
	return al, nil
}

func (al *DefaultAuditLogger) Log(ctx context.Context, entry *AuditEntry) error {
	if al == nil || !al.enabled {
		return nil
	}
	if entry == nil {
		return fmt.Errorf("audit entry cannot be nil")
	}

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.TraceID == "" {
		entry.TraceID = logger.GetTraceID(ctx)
	}
	if entry.ConversationID == "" {
		entry.ConversationID = logger.GetConversationID(ctx)
	}

	al.mu.Lock()
	defer al.mu.Unlock()

	entryJSON, err := json.Marshal(al.redact(entry))
	if err != nil {
		slog.Error("Failed to marshal audit entry", "error", err)
		return err
	}

	f, err := os.OpenFile(al.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		slog.Error("Failed to open audit log", "error", err)
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(entryJSON, '\n')); err != nil {
		slog.Error("Failed to write audit entry", "error", err)
		return err
	}

	slog.Debug("Audit entry logged", "trace_id", entry.TraceID, "tool", entry.ToolName, "decision", entry.Decision)
	return nil
}

func (al *DefaultAuditLogger) Query(ctx context.Context, filter *AuditFilter) ([]*AuditEntry, error) {
	if al == nil || !al.enabled {
		return []*AuditEntry{}, nil
	}

	al.mu.RLock()
	defer al.mu.RUnlock()

	file, err := os.Open(al.logPath)
	if os.IsNotExist(err) {
		return []*AuditEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []*AuditEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			slog.Warn("Failed to parse audit entry", "error", err)
			continue
		}
		if filter == nil || matchesFilter(&entry, filter) {
			entries = append(entries, &entry)
		}
	}

	return entries, scanner.Err()
}

func (al *DefaultAuditLogger) redact(entry *AuditEntry) *AuditEntry {
	redacted := *entry
	if len(redacted.Arguments) == 0 {
		return &redacted
	}

	data := string(redacted.Arguments)
	for _, re := range al.redactPatterns {
		data = re.ReplaceAllString(data, "[REDACTED]")
	}
	for _, lit := range al.literals {
		data = strings.ReplaceAll(data, lit, "[REDACTED]")
	}
	if !json.Valid([]byte(data)) {
		quoted, _ := json.Marshal(data)
		data = string(quoted)
	}
	redacted.Arguments = json.RawMessage(data)
	return &redacted
}

func matchesFilter(entry *AuditEntry, filter *AuditFilter) bool {
	if filter.ConversationID != "" && entry.ConversationID != filter.ConversationID {
		return false
	}
	if filter.ToolName != "" && entry.ToolName != filter.ToolName {
		return false
	}
	if filter.Decision != "" && entry.Decision != filter.Decision {
		return false
	}
	if !filter.StartTime.IsZero() && entry.Timestamp.Before(filter.StartTime) {
		return false
	}
	if !filter.EndTime.IsZero() && entry.Timestamp.After(filter.EndTime) {
		return false
	}
	return true
}
