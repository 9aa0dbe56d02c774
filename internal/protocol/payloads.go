package protocol

import (
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PageInfo answers GET_PAGE_INFO and is carried by CONTENT_SCRIPT_READY events.
type PageInfo struct {
	Site    string `json:"site"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	Ready   bool   `json:"ready"`
	Version string `json:"version,omitempty"`
}

// InsertTextRequest is the INSERT_TEXT request body.
type InsertTextRequest struct {
	Text string `json:"text"`
}

// InsertTextResult is the INSERT_TEXT response body. Inserted is false when the page
// has no input to write to; that is not an error.
type InsertTextResult struct {
	Inserted bool `json:"inserted"`
}

// SyncData is the SYNC_DATA event body raised when the conversation changed.
type SyncData struct {
	Site         string `json:"site"`
	URL          string `json:"url"`
	Reason       string `json:"reason"`
	AddedNodes   int    `json:"addedNodes"`
	ObservedAtMs int64  `json:"observedAt"`
}

// ConversationMessage is one role-tagged turn.
type ConversationMessage struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp,omitempty"`
}

// ConversationSnapshot is an extracted copy of a conversation. It is produced fresh on
// every extraction and never cached.
type ConversationSnapshot struct {
	Title       string                `json:"title"`
	URL         string                `json:"url"`
	Site        string                `json:"site"`
	Messages    []ConversationMessage `json:"messages"`
	ExtractedAt time.Time             `json:"extractedAt"`
}

// Fingerprint hashes the ordered message list. Extractions of an unchanged page share a
// fingerprint even though ExtractedAt differs.
func (s ConversationSnapshot) Fingerprint() uint64 {
	d := xxhash.New()
	for _, m := range s.Messages {
		_, _ = d.WriteString(string(m.Role))
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(strconv.Itoa(len(m.Content)))
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(m.Content)
		_, _ = d.WriteString("\x00")
		_, _ = d.WriteString(m.Timestamp)
		_, _ = d.WriteString("\x1e")
	}
	return d.Sum64()
}
