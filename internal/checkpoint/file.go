package checkpoint

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	stdatomic "sync/atomic"
	"time"

	"github.com/harunnryd/chatloop/internal/config"
	"github.com/harunnryd/chatloop/internal/conversation"
	"github.com/harunnryd/chatloop/internal/pathutil"

	"github.com/natefinch/atomic"
	"github.com/oklog/ulid/v2"
)

const historyFileName = "history.jsonl"

var errStoreClosed = errors.New("checkpoint store closed")

type operation int

const (
	opSave operation = iota
	opLoad
	opList
	opPrune
)

type request struct {
	op       operation
	payload  interface{}
	result   chan error
	response chan interface{}
}

type savePayload struct {
	conversationID string
	parentID       string
	state          conversation.State
}

type loadPayload struct {
	conversationID string
	checkpointID   string
}

type prunePayload struct {
	conversationID string
	keep           int
}

// FileStore writes one JSON file per snapshot plus a history.jsonl index per
// conversation. All file access goes through a single worker goroutine.
type FileStore struct {
	basePath  string
	inbox     chan request
	fileLock  *FileLock
	quit      chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup
	running   stdatomic.Bool
	closeOnce sync.Once
	now       func() time.Time
}

func NewFileStore(cfg config.StoreConfig) (*FileStore, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		path = filepath.Join(home, ".chatloop", "checkpoints")
	}
	basePath, err := pathutil.EnsureDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkpoint dir %s: %w", path, err)
	}

	lockCfg := FileLockConfig{
		LockTimeout:  config.LenientDuration("store.lock_timeout", cfg.LockTimeout, config.DefaultStoreLockTimeout),
		LockRetry:    config.LenientDuration("store.lock_retry", cfg.LockRetry, config.DefaultStoreLockRetry),
		LockMaxRetry: cfg.LockMaxRetry,
	}
	if lockCfg.LockMaxRetry <= 0 {
		lockCfg.LockMaxRetry = config.DefaultStoreLockMaxRetry
	}
	inboxSize := cfg.InboxSize
	if inboxSize <= 0 {
		inboxSize = config.DefaultStoreInboxSize
	}

	fileLock, err := NewFileLock(basePath, lockCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	s := &FileStore{
		basePath: basePath,
		inbox:    make(chan request, inboxSize),
		fileLock: fileLock,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}
	s.running.Store(true)
	s.wg.Add(1)
	go s.loop()
	return s, nil
}

func (s *FileStore) loop() {
	slog.Info("Checkpoint store started", "path", s.basePath)
	defer func() {
		close(s.done)
		s.wg.Done()
	}()

	for {
		select {
		case req := <-s.inbox:
			s.serve(req)
		case <-s.quit:
			for {
				select {
				case req := <-s.inbox:
					req.response <- nil
					req.result <- errStoreClosed
				default:
					slog.Info("Checkpoint store stopping")
					return
				}
			}
		}
	}
}

func (s *FileStore) serve(req request) {
	resp, err := s.handle(req)
	req.response <- resp
	req.result <- err
}

func (s *FileStore) handle(req request) (interface{}, error) {
	switch req.op {
	case opSave:
		p, ok := req.payload.(savePayload)
		if !ok {
			return nil, fmt.Errorf("invalid payload for Save")
		}
		return s.save(p)
	case opLoad:
		p, ok := req.payload.(loadPayload)
		if !ok {
			return nil, fmt.Errorf("invalid payload for Load")
		}
		return s.load(p.conversationID, p.checkpointID)
	case opList:
		conversationID, ok := req.payload.(string)
		if !ok {
			return nil, fmt.Errorf("invalid payload for List")
		}
		return s.readHistory(conversationID)
	case opPrune:
		p, ok := req.payload.(prunePayload)
		if !ok {
			return nil, fmt.Errorf("invalid payload for Prune")
		}
		return s.prune(p.conversationID, p.keep)
	default:
		return nil, fmt.Errorf("unknown operation: %d", req.op)
	}
}

func (s *FileStore) submit(ctx context.Context, op operation, payload interface{}) (interface{}, error) {
	if !s.running.Load() {
		return nil, errStoreClosed
	}
	req := request{
		op:       op,
		payload:  payload,
		result:   make(chan error, 1),
		response: make(chan interface{}, 1),
	}
	select {
	case s.inbox <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.quit:
		return nil, errStoreClosed
	}
	select {
	case resp := <-req.response:
		return resp, <-req.result
	case <-s.done:
		return nil, errStoreClosed
	}
}

func (s *FileStore) conversationDir(conversationID string) string {
	return filepath.Join(s.basePath, dirName(conversationID))
}

func (s *FileStore) save(p savePayload) (string, error) {
	dir := s.conversationDir(p.conversationID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}

	history, err := s.readHistory(p.conversationID)
	if err != nil {
		return "", err
	}
	var last *Meta
	if len(history) > 0 {
		last = &history[len(history)-1]
	}

	created := s.now().UTC()
	snap := Snapshot{
		Meta: Meta{
			ID:             NewID(created),
			ParentID:       p.parentID,
			ConversationID: p.conversationID,
			Step:           stepAfter(last),
			Next:           p.state.Next,
			Phase:          p.state.Phase,
			CreatedAt:      created,
		},
		State: p.state,
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}
	if err := atomic.WriteFile(filepath.Join(dir, snap.ID+".json"), bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	line, err := json.Marshal(snap.Meta)
	if err != nil {
		return "", err
	}
	if err := appendLine(filepath.Join(dir, historyFileName), line); err != nil {
		return "", fmt.Errorf("append history: %w", err)
	}
	return snap.ID, nil
}

func (s *FileStore) load(conversationID, checkpointID string) (*Snapshot, error) {
	if checkpointID == "" {
		history, err := s.readHistory(conversationID)
		if err != nil {
			return nil, err
		}
		if len(history) == 0 {
			return nil, notFound(conversationID, "")
		}
		checkpointID = history[len(history)-1].ID
	}
	if _, err := ulid.ParseStrict(checkpointID); err != nil {
		return nil, notFound(conversationID, checkpointID)
	}

	data, err := os.ReadFile(filepath.Join(s.conversationDir(conversationID), checkpointID+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, notFound(conversationID, checkpointID)
		}
		return nil, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", checkpointID, err)
	}
	return &snap, nil
}

func (s *FileStore) readHistory(conversationID string) ([]Meta, error) {
	f, err := os.Open(filepath.Join(s.conversationDir(conversationID), historyFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return []Meta{}, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []Meta
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var meta Meta
		if err := json.Unmarshal(line, &meta); err != nil {
			slog.Warn("Skipping corrupt history line", "conversation_id", conversationID, "error", err)
			continue
		}
		out = append(out, meta)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if out == nil {
		out = []Meta{}
	}
	return out, nil
}

func (s *FileStore) prune(conversationID string, keep int) (int, error) {
	keep = normalizeKeep(keep)
	history, err := s.readHistory(conversationID)
	if err != nil {
		return 0, err
	}
	if len(history) <= keep {
		return 0, nil
	}

	dir := s.conversationDir(conversationID)
	removed := history[:len(history)-keep]
	kept := history[len(history)-keep:]

	var buf bytes.Buffer
	for _, meta := range kept {
		line, err := json.Marshal(meta)
		if err != nil {
			return 0, err
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	if err := atomic.WriteFile(filepath.Join(dir, historyFileName), &buf); err != nil {
		return 0, fmt.Errorf("rewrite history: %w", err)
	}

	for _, meta := range removed {
		if err := os.Remove(filepath.Join(dir, meta.ID+".json")); err != nil && !os.IsNotExist(err) {
			slog.Warn("Failed to remove pruned snapshot", "conversation_id", conversationID, "checkpoint_id", meta.ID, "error", err)
		}
	}
	return len(removed), nil
}

func appendLine(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

func (s *FileStore) Save(ctx context.Context, conversationID, parentID string, state conversation.State) (string, error) {
	if err := validateConversationID(conversationID); err != nil {
		return "", err
	}
	resp, err := s.submit(ctx, opSave, savePayload{conversationID: conversationID, parentID: parentID, state: state})
	if err != nil {
		return "", err
	}
	return resp.(string), nil
}

func (s *FileStore) Load(ctx context.Context, conversationID, checkpointID string) (*Snapshot, error) {
	if err := validateConversationID(conversationID); err != nil {
		return nil, err
	}
	resp, err := s.submit(ctx, opLoad, loadPayload{conversationID: conversationID, checkpointID: checkpointID})
	if err != nil {
		return nil, err
	}
	return resp.(*Snapshot), nil
}

func (s *FileStore) List(ctx context.Context, conversationID string) ([]Meta, error) {
	if err := validateConversationID(conversationID); err != nil {
		return nil, err
	}
	resp, err := s.submit(ctx, opList, conversationID)
	if err != nil {
		return nil, err
	}
	return resp.([]Meta), nil
}

func (s *FileStore) Prune(ctx context.Context, conversationID string, keep int) (int, error) {
	if err := validateConversationID(conversationID); err != nil {
		return 0, err
	}
	resp, err := s.submit(ctx, opPrune, prunePayload{conversationID: conversationID, keep: keep})
	if err != nil {
		return 0, err
	}
	return resp.(int), nil
}

// Conversations lists conversation ids with a history on disk. It reads the
// directory directly; a conversation created concurrently may be missed.
func (s *FileStore) Conversations(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, err
	}

	var out []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, ok := conversationFromDir(entry.Name())
		if !ok {
			continue
		}
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (s *FileStore) Close() error {
	s.closeOnce.Do(func() {
		s.running.Store(false)
		close(s.quit)
		s.wg.Wait()
		s.fileLock.Unlock()
	})
	return nil
}

func (s *FileStore) IsRunning() bool {
	return s.fileLock.IsLocked() && s.running.Load()
}
