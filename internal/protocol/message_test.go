package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage_GeneratesUniqueRequestIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		msg, err := NewMessage(KindGetPageInfo, nil)
		require.NoError(t, err)
		assert.NotEmpty(t, msg.RequestID)
		assert.False(t, seen[msg.RequestID], "duplicate request id %s", msg.RequestID)
		seen[msg.RequestID] = true
	}
}

func TestSucceed_EchoesRequestID(t *testing.T) {
	req := Message{Type: KindGetPageInfo, RequestID: "r1"}
	resp := Succeed(req, PageInfo{Site: "claude", Ready: true})

	assert.True(t, resp.Success)
	assert.Equal(t, "r1", resp.RequestID)
	assert.Nil(t, resp.Error)

	var info PageInfo
	require.NoError(t, resp.Decode(&info))
	assert.Equal(t, "claude", info.Site)
	assert.True(t, info.Ready)
}

func TestFail_DecodeReturnsRemoteError(t *testing.T) {
	req := Message{Type: "BOGUS", RequestID: "r2"}
	resp := Fail(req, CodeUnknownMessageType, "unknown message type: BOGUS")

	assert.False(t, resp.Success)
	assert.Equal(t, "r2", resp.RequestID)

	err := resp.Decode(&struct{}{})
	require.Error(t, err)
	assert.True(t, IsCode(err, CodeUnknownMessageType))
	assert.False(t, IsCode(err, CodeNotImplemented))
	assert.Contains(t, err.Error(), "UNKNOWN_MESSAGE_TYPE")
}

func TestResponse_WireFormat(t *testing.T) {
	resp := Succeed(Message{RequestID: "abc"}, InsertTextResult{Inserted: false})
	raw, err := json.Marshal(resp)
	require.NoError(t, err)

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))
	assert.Equal(t, true, generic["success"])
	assert.Equal(t, "abc", generic["requestId"])
	assert.Equal(t, map[string]any{"inserted": false}, generic["data"])
	assert.NotContains(t, generic, "error")
}

func TestMessageKind_IsEvent(t *testing.T) {
	assert.True(t, KindSyncData.IsEvent())
	assert.True(t, KindContentScriptReady.IsEvent())
	assert.False(t, KindGetPageInfo.IsEvent())
	assert.False(t, KindInsertText.IsEvent())
}

func TestFingerprint_IgnoresExtractionTime(t *testing.T) {
	msgs := []ConversationMessage{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}
	a := ConversationSnapshot{Messages: msgs, ExtractedAt: time.Unix(1, 0)}
	b := ConversationSnapshot{Messages: msgs, ExtractedAt: time.Unix(2, 0)}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	c := ConversationSnapshot{Messages: []ConversationMessage{
		{Role: RoleAssistant, Content: "hi"},
		{Role: RoleAssistant, Content: "hello"},
	}}
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
}

func TestCompatible(t *testing.T) {
	tests := []struct {
		version  string
		expected bool
	}{
		{"", true},
		{Version, true},
		{"1.0.0", true},
		{"1.9.3", true},
		{"2.0.0", false},
		{"0.9.0", false},
		{"not-a-version", false},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			assert.Equal(t, tt.expected, Compatible(tt.version))
		})
	}
}
