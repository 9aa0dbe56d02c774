package cmd

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernel/chatbridge/internal/background"
	"github.com/kernel/chatbridge/internal/protocol"
)

type FakeTabService struct {
	TabsFunc       func() []background.TabInfo
	PageInfoFunc   func(ctx context.Context, tabID string) (protocol.PageInfo, error)
	ExportFunc     func(ctx context.Context, tabID string) (protocol.ConversationSnapshot, error)
	InsertTextFunc func(ctx context.Context, tabID, text string) (bool, error)
	SyncFunc       func(ctx context.Context, tabID string) (bool, error)
}

func (f *FakeTabService) Tabs() []background.TabInfo {
	if f.TabsFunc != nil {
		return f.TabsFunc()
	}
	return nil
}

func (f *FakeTabService) PageInfo(ctx context.Context, tabID string) (protocol.PageInfo, error) {
	if f.PageInfoFunc != nil {
		return f.PageInfoFunc(ctx, tabID)
	}
	return protocol.PageInfo{}, nil
}

func (f *FakeTabService) Export(ctx context.Context, tabID string) (protocol.ConversationSnapshot, error) {
	if f.ExportFunc != nil {
		return f.ExportFunc(ctx, tabID)
	}
	return protocol.ConversationSnapshot{}, nil
}

func (f *FakeTabService) InsertText(ctx context.Context, tabID, text string) (bool, error) {
	if f.InsertTextFunc != nil {
		return f.InsertTextFunc(ctx, tabID, text)
	}
	return true, nil
}

func (f *FakeTabService) Sync(ctx context.Context, tabID string) (bool, error) {
	if f.SyncFunc != nil {
		return f.SyncFunc(ctx, tabID)
	}
	return false, nil
}

func twoTabs() []background.TabInfo {
	return []background.TabInfo{
		{ID: "AAA1", Page: protocol.PageInfo{Site: "chatgpt", Title: "Trip"}, Announced: true, Messages: 2},
		{ID: "BBB2", Page: protocol.PageInfo{Site: "claude", Title: "Go"}, Announced: false},
	}
}

func runLoop(t *testing.T, svc tabService, input string) *AttachCmd {
	t.Helper()
	a := &AttachCmd{tabs: svc, in: strings.NewReader(input)}
	require.NoError(t, a.Loop(context.Background()))
	return a
}

func TestAttachLoop_PlainLineInsertsIntoFirstTab(t *testing.T) {
	setupStdoutCapture(t)

	var gotTab, gotText string
	fake := &FakeTabService{
		TabsFunc: twoTabs,
		InsertTextFunc: func(_ context.Context, tabID, text string) (bool, error) {
			gotTab, gotText = tabID, text
			return true, nil
		},
	}
	runLoop(t, fake, "Summarize this\n/quit\n")

	assert.Equal(t, "AAA1", gotTab)
	assert.Equal(t, "Summarize this", gotText)
	assert.Contains(t, outBuf.String(), "Inserted")
	assert.Contains(t, outBuf.String(), "Goodbye!")
}

func TestAttachLoop_UseSwitchesTab(t *testing.T) {
	setupStdoutCapture(t)

	var infoTab string
	fake := &FakeTabService{
		TabsFunc: twoTabs,
		PageInfoFunc: func(_ context.Context, tabID string) (protocol.PageInfo, error) {
			infoTab = tabID
			return protocol.PageInfo{Site: "claude", URL: "https://claude.ai/chat/1", Title: "Go", Ready: true, Version: protocol.Version}, nil
		},
	}
	a := runLoop(t, fake, "/use BBB\n/info\n")

	assert.Equal(t, "BBB2", a.current)
	assert.Equal(t, "BBB2", infoTab)
	out := outBuf.String()
	assert.Contains(t, out, "Using tab BBB2")
	assert.Contains(t, out, "https://claude.ai/chat/1")
}

func TestAttachLoop_Commands(t *testing.T) {
	tests := []struct {
		name  string
		input string
		fake  *FakeTabService
		want  []string
	}{
		{
			name:  "tabs table",
			input: "/tabs\n",
			fake:  &FakeTabService{TabsFunc: twoTabs},
			want:  []string{"AAA1", "BBB2", "Trip", "yes", "no"},
		},
		{
			name:  "export prints turns",
			input: "/export\n",
			fake: &FakeTabService{TabsFunc: twoTabs, ExportFunc: func(context.Context, string) (protocol.ConversationSnapshot, error) {
				return protocol.ConversationSnapshot{Title: "Trip", Messages: []protocol.ConversationMessage{
					{Role: protocol.RoleUser, Content: "Where?"},
					{Role: protocol.RoleAssistant, Content: "Lisbon."},
				}}, nil
			}},
			want: []string{"Trip: 2 messages", "You: Where?", "Assistant: Lisbon."},
		},
		{
			name:  "export not implemented",
			input: "/export\n",
			fake: &FakeTabService{TabsFunc: twoTabs, ExportFunc: func(context.Context, string) (protocol.ConversationSnapshot, error) {
				return protocol.ConversationSnapshot{}, &protocol.RemoteError{Code: protocol.CodeNotImplemented, Message: "conversation export is not available for gemini"}
			}},
			want: []string{"NOT_IMPLEMENTED: conversation export is not available for gemini"},
		},
		{
			name:  "insert without input element",
			input: "/insert hi\n",
			fake: &FakeTabService{TabsFunc: twoTabs, InsertTextFunc: func(context.Context, string, string) (bool, error) {
				return false, nil
			}},
			want: []string{"No input element found"},
		},
		{
			name:  "sync reports change",
			input: "/sync\n",
			fake: &FakeTabService{TabsFunc: twoTabs, SyncFunc: func(context.Context, string) (bool, error) {
				return true, nil
			}},
			want: []string{"Conversation updated"},
		},
		{
			name:  "no tabs",
			input: "/info\nhello\n",
			fake:  &FakeTabService{},
			want:  []string{"No tab attached"},
		},
		{
			name:  "unknown command",
			input: "/bogus\n",
			fake:  &FakeTabService{TabsFunc: twoTabs},
			want:  []string{"Unknown command: /bogus"},
		},
		{
			name:  "use needs a matching tab",
			input: "/use \n/use Z\n",
			fake:  &FakeTabService{TabsFunc: twoTabs},
			want:  []string{"Usage: /use <tab>", `No tab matches "Z"`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupStdoutCapture(t)
			runLoop(t, tt.fake, tt.input)
			out := outBuf.String()
			for _, w := range tt.want {
				assert.Contains(t, out, w)
			}
		})
	}
}

func TestAttachLoop_RescanPicksFirstNewTab(t *testing.T) {
	setupStdoutCapture(t)

	a := &AttachCmd{
		tabs: &FakeTabService{},
		rescan: func(context.Context) ([]string, error) {
			return []string{"CCC3"}, nil
		},
		in: strings.NewReader("/rescan\n"),
	}
	require.NoError(t, a.Loop(context.Background()))
	assert.Equal(t, "CCC3", a.current)
	assert.Contains(t, outBuf.String(), "Attached CCC3")
}
