package stream

import (
	"bufio"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/harunnryd/chatloop/internal/conversation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNDJSONWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewNDJSONWriter(rec)

	require.NoError(t, w.Write(Chunk{Type: ChunkTextDelta, Content: "<b>hi</b>"}))
	require.NoError(t, w.Write(Chunk{Type: ChunkToolResult, ID: "c1", Name: "python"}))
	require.NoError(t, w.Write(Chunk{Type: ChunkInterrupt, CheckpointID: "cp", Payload: &conversation.PendingApproval{
		Calls: []conversation.PendingCall{{ID: "c2", Name: "python", Arguments: map[string]interface{}{"code": "1"}}},
	}}))
	require.NoError(t, w.Write(Chunk{Type: ChunkEnd}))
	assert.True(t, rec.Flushed)

	var lines []string
	sc := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.Len(t, lines, 4)
	assert.Equal(t, `{"type":"text-delta","content":"<b>hi</b>"}`, lines[0])
	assert.Equal(t, `{"type":"tool-result","id":"c1","name":"python","content":""}`, lines[1])
	assert.Equal(t, `{"type":"interrupt","payload":{"calls":[{"id":"c2","name":"python","arguments":{"code":"1"}}]},"checkpointId":"cp"}`, lines[2])
	assert.Equal(t, `{"type":"end"}`, lines[3])

	var back Chunk
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &back))
	assert.Equal(t, "cp", back.CheckpointID)
	require.NotNil(t, back.Payload)
	assert.Equal(t, "c2", back.Payload.Calls[0].ID)
}
