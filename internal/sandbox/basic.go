package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/chatloop/internal/logger"
	"github.com/harunnryd/chatloop/internal/pathutil"

	"github.com/google/shlex"
	"github.com/oklog/ulid/v2"
)

const maxOutputBytes = 256 * 1024

var unsafeSegment = regexp.MustCompile(`[^A-Za-z0-9._-]`)

type BasicSandboxManager struct {
	mu        sync.Mutex
	sandboxes map[string]*Sandbox
	baseDir   string
}

func NewBasicSandboxManager(baseDir string) (*BasicSandboxManager, error) {
	if strings.TrimSpace(baseDir) == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".chatloop", "sandboxes")
	}

	resolved, err := pathutil.EnsureDir(baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox base directory: %w", err)
	}

	return &BasicSandboxManager{
		sandboxes: make(map[string]*Sandbox),
		baseDir:   resolved,
	}, nil
}

// Setup returns the conversation's sandbox, creating its directory on first use.
func (bsm *BasicSandboxManager) Setup(conversationID string) (*Sandbox, error) {
	bsm.mu.Lock()
	defer bsm.mu.Unlock()

	if sb, ok := bsm.sandboxes[conversationID]; ok {
		return sb, nil
	}

	segment := safeSegment(conversationID)
	sandboxPath := filepath.Join(bsm.baseDir, segment)
	if err := os.MkdirAll(sandboxPath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sandbox directory: %w", err)
	}

	sb := &Sandbox{
		ID:             ulid.Make().String(),
		ConversationID: conversationID,
		RootPath:       sandboxPath,
		State:          SandboxStateReady,
		CreatedAt:      time.Now(),
	}
	bsm.sandboxes[conversationID] = sb
	slog.Debug("Sandbox ready", "sandbox_id", sb.ID, "conversation_id", conversationID, "path", sandboxPath)

	return sb, nil
}

func (bsm *BasicSandboxManager) Teardown(conversationID string) error {
	bsm.mu.Lock()
	defer bsm.mu.Unlock()

	sb, ok := bsm.sandboxes[conversationID]
	if !ok {
		return nil
	}
	sb.State = SandboxStateTeardown
	if err := os.RemoveAll(sb.RootPath); err != nil {
		slog.Error("Failed to remove sandbox directory", "error", err, "path", sb.RootPath)
		return err
	}
	delete(bsm.sandboxes, conversationID)
	slog.Info("Sandbox removed", "sandbox_id", sb.ID, "conversation_id", conversationID)
	return nil
}

// RunScript writes script into the conversation sandbox and runs command with
// the script path appended. Non-zero exits are reported through Result, not err.
func (bsm *BasicSandboxManager) RunScript(ctx context.Context, conversationID string, command string, script string, ext string, timeout time.Duration) (*Result, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parse interpreter command %q: %w", command, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("interpreter command is empty")
	}
	bin, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, fmt.Errorf("interpreter %s not found: %w", argv[0], err)
	}

	sb, err := bsm.Setup(conversationID)
	if err != nil {
		return nil, err
	}

	scriptPath := filepath.Join(sb.RootPath, "run-"+strings.ToLower(ulid.Make().String())+ext)
	if err := os.WriteFile(scriptPath, []byte(script), 0600); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	defer os.Remove(scriptPath)

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := append(argv[1:], scriptPath)
	cmd := exec.CommandContext(runCtx, bin, args...)
	cmd.Dir = sb.RootPath
	cmd.WaitDelay = time.Second
	cmd.Env = []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + sb.RootPath,
		"PYTHONIOENCODING=utf-8",
	}

	var out bytes.Buffer
	w := &limitedWriter{buf: &out, limit: maxOutputBytes}
	cmd.Stdout = w
	cmd.Stderr = w

	start := time.Now()
	runErr := cmd.Run()
	result := &Result{
		Output:   strings.TrimRight(out.String(), "\n"),
		Duration: time.Since(start),
	}
	if w.truncated {
		result.Output += "\n... (output truncated)"
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.ExitCode = -1
		logger.From(ctx).Warn("Sandbox script timed out", "timeout", timeout)
		return result, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if runErr != nil {
		return nil, fmt.Errorf("execute script in sandbox: %w", runErr)
	}

	return result, nil
}

func safeSegment(id string) string {
	cleaned := unsafeSegment.ReplaceAllString(strings.TrimSpace(id), "_")
	cleaned = strings.Trim(cleaned, ".")
	if cleaned == "" {
		return "default"
	}
	return cleaned
}

type limitedWriter struct {
	buf       *bytes.Buffer
	limit     int
	truncated bool
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		w.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		w.buf.Write(p[:remaining])
		w.truncated = true
		return len(p), nil
	}
	return w.buf.Write(p)
}
