package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/harunnryd/chatloop/internal/agent"
	"github.com/harunnryd/chatloop/internal/checkpoint"
	"github.com/harunnryd/chatloop/internal/conversation"
	chatErrors "github.com/harunnryd/chatloop/internal/errors"
	"github.com/harunnryd/chatloop/internal/logger"
	"github.com/harunnryd/chatloop/internal/model/contract"
	"github.com/harunnryd/chatloop/internal/stream"

	"github.com/oklog/ulid/v2"
)

const maxBodyBytes = 32 << 20

// Turns is the turn service the HTTP surface drives.
type Turns interface {
	Start(ctx context.Context, conversationID, checkpointID string, msg contract.Message) (<-chan agent.Event, error)
	Resume(ctx context.Context, conversationID, checkpointID string, decisions []conversation.ApprovalDecision) (<-chan agent.Event, error)
	Continue(ctx context.Context, conversationID, checkpointID string) (<-chan agent.Event, error)
}

// Checkpoints is the read side of the checkpoint store.
type Checkpoints interface {
	Load(ctx context.Context, conversationID, checkpointID string) (*checkpoint.Snapshot, error)
	List(ctx context.Context, conversationID string) ([]checkpoint.Meta, error)
}

// HealthFunc reports per-component health; a nil error is healthy.
type HealthFunc func() map[string]error

type Server struct {
	turns       Turns
	checkpoints Checkpoints
	translator  *stream.Translator
	health      HealthFunc
	mux         *http.ServeMux
}

func New(turns Turns, checkpoints Checkpoints, translator *stream.Translator, health HealthFunc) *Server {
	s := &Server{
		turns:       turns,
		checkpoints: checkpoints,
		translator:  translator,
		health:      health,
		mux:         http.NewServeMux(),
	}

	s.mux.HandleFunc("/api/v1/chat/stream", s.handleStream)
	s.mux.HandleFunc("/api/v1/chat/resume", s.handleResume)
	s.mux.HandleFunc("/api/v1/chat/continue", s.handleContinue)
	s.mux.HandleFunc("/api/v1/chat/interrupt", s.handleInterrupt)
	s.mux.HandleFunc("/api/v1/chat/checkpoints", s.handleCheckpoints)
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

type partRequest struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

type messageRequest struct {
	Content string        `json:"content"`
	Parts   []partRequest `json:"parts,omitempty"`
}

type chatRequest struct {
	ConversationID string         `json:"conversation_id"`
	CheckpointID   string         `json:"checkpoint_id,omitempty"`
	Message        messageRequest `json:"message"`
}

type resumeRequest struct {
	ConversationID string              `json:"conversation_id"`
	CheckpointID   string              `json:"checkpoint_id,omitempty"`
	Decisions      []agent.RawDecision `json:"decisions"`
}

type continueRequest struct {
	ConversationID string `json:"conversation_id"`
	CheckpointID   string `json:"checkpoint_id,omitempty"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}
	msg, err := decodeMessage(req.Message)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := s.turnContext(r, req.ConversationID)
	defer cancel()

	events, err := s.turns.Start(ctx, req.ConversationID, req.CheckpointID, msg)
	if err != nil {
		writeError(w, err)
		return
	}
	s.serveEvents(ctx, cancel, w, events)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req resumeRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := s.turnContext(r, req.ConversationID)
	defer cancel()

	events, err := s.turns.Resume(ctx, req.ConversationID, req.CheckpointID, agent.ParseDecisions(req.Decisions))
	if err != nil {
		writeError(w, err)
		return
	}
	s.serveEvents(ctx, cancel, w, events)
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req continueRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := s.turnContext(r, req.ConversationID)
	defer cancel()

	events, err := s.turns.Continue(ctx, req.ConversationID, req.CheckpointID)
	if err != nil {
		writeError(w, err)
		return
	}
	s.serveEvents(ctx, cancel, w, events)
}

type interruptResponse struct {
	ConversationID string                        `json:"conversation_id"`
	CheckpointID   string                        `json:"checkpoint_id"`
	Interrupted    bool                          `json:"interrupted"`
	Payload        *conversation.PendingApproval `json:"payload,omitempty"`
}

func (s *Server) handleInterrupt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conv := strings.TrimSpace(r.URL.Query().Get("conversation_id"))
	if conv == "" {
		writeError(w, chatErrors.InvalidInput("conversation_id is required"))
		return
	}
	snap, err := s.checkpoints.Load(r.Context(), conv, r.URL.Query().Get("checkpoint_id"))
	if err != nil {
		writeError(w, err)
		return
	}

	resp := interruptResponse{
		ConversationID: conv,
		CheckpointID:   snap.ID,
		Interrupted:    snap.State.Interrupted(),
	}
	if resp.Interrupted {
		resp.Payload = snap.State.Pending
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCheckpoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conv := strings.TrimSpace(r.URL.Query().Get("conversation_id"))
	if conv == "" {
		writeError(w, chatErrors.InvalidInput("conversation_id is required"))
		return
	}
	history, err := s.checkpoints.List(r.Context(), conv)
	if err != nil {
		writeError(w, err)
		return
	}
	if history == nil {
		history = []checkpoint.Meta{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conversation_id": conv,
		"checkpoints":     history,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := "ok"
	components := map[string]interface{}{}
	if s.health != nil {
		for name, err := range s.health() {
			entry := map[string]interface{}{"healthy": err == nil}
			if err != nil {
				entry["error"] = err.Error()
				status = "degraded"
			}
			components[name] = entry
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}

// turnContext tags the request with a trace id and the conversation id. The
// returned cancel is how a dropped client reaches the running turn.
func (s *Server) turnContext(r *http.Request, conversationID string) (context.Context, context.CancelFunc) {
	ctx := logger.WithTraceID(r.Context(), ulid.Make().String())
	ctx = logger.WithConversationID(ctx, conversationID)
	return context.WithCancel(ctx)
}

// serveEvents streams the turn and returns only after the turn has stopped,
// so no work outlives the request.
func (s *Server) serveEvents(ctx context.Context, cancel context.CancelFunc, w http.ResponseWriter, events <-chan agent.Event) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	res := s.translator.Run(ctx, events, stream.NewNDJSONWriter(w))
	logger.From(ctx).Info("Stream closed", "outcome", res.Outcome, "checkpoint_id", res.CheckpointID)

	cancel()
	for range events {
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, chatErrors.InvalidInput(fmt.Sprintf("invalid request body: %v", err)))
		return false
	}
	return true
}

// decodeMessage converts the client message into a user message. File parts
// arrive as data URLs and are decoded into typed parts.
func decodeMessage(req messageRequest) (contract.Message, error) {
	msg := contract.Message{Role: contract.RoleUser, Content: req.Content}
	for i, p := range req.Parts {
		switch strings.ToLower(p.Type) {
		case contract.PartText:
			if p.Text == "" {
				continue
			}
			msg.Parts = append(msg.Parts, contract.ContentPart{Type: contract.PartText, Text: p.Text})
		case contract.PartFile:
			part, err := contract.ParseFileDataURL(p.Data)
			if err != nil {
				return contract.Message{}, chatErrors.InvalidInput(fmt.Sprintf("part %d: %v", i, err))
			}
			msg.Parts = append(msg.Parts, part)
		case contract.PartImage:
			if p.URL == "" {
				return contract.Message{}, chatErrors.InvalidInput(fmt.Sprintf("part %d: image url is required", i))
			}
			msg.Parts = append(msg.Parts, contract.ContentPart{Type: contract.PartImage, URL: p.URL, MimeType: p.MimeType})
		default:
			slog.Debug("Ignoring unknown message part", "index", i, "type", p.Type)
		}
	}

	if strings.TrimSpace(msg.Content) == "" && len(msg.Parts) == 0 {
		return contract.Message{}, chatErrors.InvalidInput("message is empty")
	}
	return msg, nil
}

func writeError(w http.ResponseWriter, err error) {
	status := chatErrors.HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
		message = stream.GenericErrorMessage
	}
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}
