package background

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kernel/chatbridge/internal/protocol"
	"github.com/kernel/chatbridge/internal/router"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// FakePage answers requests the way an adapter would.
type FakePage struct {
	GetPageInfoFunc func() (protocol.PageInfo, *protocol.ErrorInfo)
	ExportFunc      func() (protocol.ConversationSnapshot, *protocol.ErrorInfo)
	InsertTextFunc  func(text string) bool
}

func (f *FakePage) Handle(ctx context.Context, msg protocol.Message) protocol.Response {
	switch msg.Type {
	case protocol.KindGetPageInfo:
		info := protocol.PageInfo{Site: "claude", Ready: true}
		if f.GetPageInfoFunc != nil {
			var e *protocol.ErrorInfo
			if info, e = f.GetPageInfoFunc(); e != nil {
				return protocol.Fail(msg, e.Code, e.Message)
			}
		}
		return protocol.Succeed(msg, info)
	case protocol.KindExportConversation:
		if f.ExportFunc == nil {
			return protocol.Fail(msg, protocol.CodeNotImplemented, "no export")
		}
		snap, e := f.ExportFunc()
		if e != nil {
			return protocol.Fail(msg, e.Code, e.Message)
		}
		return protocol.Succeed(msg, snap)
	case protocol.KindInsertText:
		var req protocol.InsertTextRequest
		if err := msg.Decode(&req); err != nil {
			return protocol.Fail(msg, protocol.CodeInvalidPayload, err.Error())
		}
		inserted := f.InsertTextFunc != nil && f.InsertTextFunc(req.Text)
		return protocol.Succeed(msg, protocol.InsertTextResult{Inserted: inserted})
	}
	return protocol.Fail(msg, protocol.CodeUnknownMessageType, string(msg.Type))
}

type harness struct {
	svc    *Service
	server *router.Server
	ctx    context.Context
}

func newHarness(t *testing.T, page *FakePage) *harness {
	t.Helper()
	bg, pageConn := router.Pipe()
	client := router.NewClient(bg, nil)
	server := router.NewServer(pageConn, nil)
	svc := New(nil)

	ctx, cancel := context.WithCancel(context.Background())
	svc.Attach(ctx, "tab-1", client)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = client.Run(ctx) }()
	go func() { defer wg.Done(); _ = server.Serve(ctx, page) }()

	t.Cleanup(func() {
		svc.Wait()
		cancel()
		_ = bg.Close()
		wg.Wait()
	})
	return &harness{svc: svc, server: server, ctx: ctx}
}

func snapshot(contents ...string) protocol.ConversationSnapshot {
	snap := protocol.ConversationSnapshot{Site: "claude", URL: "https://claude.ai/chat/1", Title: "t"}
	for i, c := range contents {
		role := protocol.RoleUser
		if i%2 == 1 {
			role = protocol.RoleAssistant
		}
		snap.Messages = append(snap.Messages, protocol.ConversationMessage{Role: role, Content: c})
	}
	return snap
}

func TestTypedRequests(t *testing.T) {
	var inserted []string
	h := newHarness(t, &FakePage{
		ExportFunc: func() (protocol.ConversationSnapshot, *protocol.ErrorInfo) {
			return snapshot("q", "a"), nil
		},
		InsertTextFunc: func(text string) bool {
			inserted = append(inserted, text)
			return true
		},
	})

	info, err := h.svc.PageInfo(h.ctx, "tab-1")
	require.NoError(t, err)
	assert.Equal(t, "claude", info.Site)
	assert.True(t, info.Ready)

	snap, err := h.svc.Export(h.ctx, "tab-1")
	require.NoError(t, err)
	assert.Len(t, snap.Messages, 2)

	ok, err := h.svc.InsertText(h.ctx, "tab-1", "draft")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"draft"}, inserted)
}

func TestFailedResponseCarriesCode(t *testing.T) {
	h := newHarness(t, &FakePage{})

	_, err := h.svc.Export(h.ctx, "tab-1")
	require.Error(t, err)
	assert.True(t, protocol.IsCode(err, protocol.CodeNotImplemented))

	var remote *protocol.RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, "no export", remote.Message)
}

func TestUnknownTab(t *testing.T) {
	svc := New(nil)
	_, err := svc.PageInfo(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownTab)
	_, err = svc.Sync(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownTab)
}

func TestSyncData_ExportsAndDeduplicates(t *testing.T) {
	var mu sync.Mutex
	contents := []string{"q"}
	h := newHarness(t, &FakePage{
		ExportFunc: func() (protocol.ConversationSnapshot, *protocol.ErrorInfo) {
			mu.Lock()
			defer mu.Unlock()
			return snapshot(contents...), nil
		},
	})

	snaps := make(chan protocol.ConversationSnapshot, 4)
	h.svc.OnSnapshot(func(tabID string, snap protocol.ConversationSnapshot) {
		assert.Equal(t, "tab-1", tabID)
		snaps <- snap
	})

	changed, err := h.svc.Sync(h.ctx, "tab-1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Len(t, (<-snaps).Messages, 1)

	// Same conversation, no callback.
	changed, err = h.svc.Sync(h.ctx, "tab-1")
	require.NoError(t, err)
	assert.False(t, changed)

	// SYNC_DATA from the page triggers an export of the new content.
	mu.Lock()
	contents = append(contents, "a")
	mu.Unlock()
	require.NoError(t, h.server.Emit(h.ctx, protocol.KindSyncData, protocol.SyncData{Site: "claude", AddedNodes: 1}))

	got := <-snaps
	assert.Len(t, got.Messages, 2)
	latest, ok := h.svc.Latest("tab-1")
	require.True(t, ok)
	assert.Equal(t, got.Fingerprint(), latest.Fingerprint())

	tabs := h.svc.Tabs()
	require.Len(t, tabs, 1)
	assert.Equal(t, 2, tabs[0].Messages)
}

func TestReady_VersionChecked(t *testing.T) {
	h := newHarness(t, &FakePage{
		ExportFunc: func() (protocol.ConversationSnapshot, *protocol.ErrorInfo) {
			return snapshot("q"), nil
		},
	})

	ready := make(chan protocol.PageInfo, 2)
	h.svc.OnReady(func(tabID string, info protocol.PageInfo) { ready <- info })
	snaps := make(chan protocol.ConversationSnapshot, 2)
	h.svc.OnSnapshot(func(_ string, snap protocol.ConversationSnapshot) { snaps <- snap })

	require.NoError(t, h.server.Emit(h.ctx, protocol.KindContentScriptReady,
		protocol.PageInfo{Site: "claude", URL: "u", Ready: true, Version: "2.0.0"}))
	require.NoError(t, h.server.Emit(h.ctx, protocol.KindContentScriptReady,
		protocol.PageInfo{Site: "claude", URL: "u", Ready: true, Version: protocol.Version}))

	info := <-ready
	assert.Equal(t, protocol.Version, info.Version)
	<-snaps

	h.svc.Wait()
	assert.Empty(t, ready, "incompatible announcement is ignored")
	tabs := h.svc.Tabs()
	require.Len(t, tabs, 1)
	assert.True(t, tabs[0].Announced)
	assert.Equal(t, protocol.Version, tabs[0].Page.Version)
}

func TestTabInfo_JSON(t *testing.T) {
	data, err := json.Marshal(TabInfo{ID: "t", Page: protocol.PageInfo{Site: "chatgpt"}, Messages: 3})
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"id":"t","page":{"site":"chatgpt","url":"","title":"","ready":false},"announced":false,"messages":3}`,
		string(data))
}
