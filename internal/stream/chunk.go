package stream

import (
	"encoding/json"

	"github.com/harunnryd/chatloop/internal/conversation"
)

type ChunkType string

const (
	ChunkTextDelta         ChunkType = "text-delta"
	ChunkToolCallStart     ChunkType = "tool-call-start"
	ChunkToolCallArgsDelta ChunkType = "tool-call-args-delta"
	ChunkToolResult        ChunkType = "tool-result"
	ChunkInterrupt         ChunkType = "interrupt"
	ChunkComplete          ChunkType = "complete"
	ChunkError             ChunkType = "error"
	ChunkEnd               ChunkType = "end"
)

// GenericErrorMessage is the only failure text a client ever sees.
const GenericErrorMessage = "An error occurred, please try again."

// Chunk is one line of the wire protocol. Only the fields that belong to Type
// are serialized.
type Chunk struct {
	Type         ChunkType
	Content      string
	ID           string
	Name         string
	ArgsFragment string
	Payload      *conversation.PendingApproval
	CheckpointID string
	Message      string
}

func (c Chunk) MarshalJSON() ([]byte, error) {
	switch c.Type {
	case ChunkTextDelta:
		return json.Marshal(struct {
			Type    ChunkType `json:"type"`
			Content string    `json:"content"`
		}{c.Type, c.Content})
	case ChunkToolCallStart:
		return json.Marshal(struct {
			Type ChunkType `json:"type"`
			ID   string    `json:"id"`
			Name string    `json:"name"`
		}{c.Type, c.ID, c.Name})
	case ChunkToolCallArgsDelta:
		return json.Marshal(struct {
			Type         ChunkType `json:"type"`
			ID           string    `json:"id"`
			ArgsFragment string    `json:"argsFragment"`
		}{c.Type, c.ID, c.ArgsFragment})
	case ChunkToolResult:
		return json.Marshal(struct {
			Type    ChunkType `json:"type"`
			ID      string    `json:"id"`
			Name    string    `json:"name"`
			Content string    `json:"content"`
		}{c.Type, c.ID, c.Name, c.Content})
	case ChunkInterrupt:
		return json.Marshal(struct {
			Type         ChunkType                     `json:"type"`
			Payload      *conversation.PendingApproval `json:"payload"`
			CheckpointID string                        `json:"checkpointId"`
		}{c.Type, c.Payload, c.CheckpointID})
	case ChunkComplete:
		return json.Marshal(struct {
			Type         ChunkType `json:"type"`
			CheckpointID string    `json:"checkpointId"`
		}{c.Type, c.CheckpointID})
	case ChunkError:
		return json.Marshal(struct {
			Type    ChunkType `json:"type"`
			Message string    `json:"message"`
		}{c.Type, c.Message})
	default:
		return json.Marshal(struct {
			Type ChunkType `json:"type"`
		}{c.Type})
	}
}

func (c *Chunk) UnmarshalJSON(data []byte) error {
	var wire struct {
		Type         ChunkType                     `json:"type"`
		Content      string                        `json:"content"`
		ID           string                        `json:"id"`
		Name         string                        `json:"name"`
		ArgsFragment string                        `json:"argsFragment"`
		Payload      *conversation.PendingApproval `json:"payload"`
		CheckpointID string                        `json:"checkpointId"`
		Message      string                        `json:"message"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	*c = Chunk(wire)
	return nil
}
