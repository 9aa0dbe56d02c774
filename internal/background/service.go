// Package background is the long-lived side of the protocol: it tracks attached tabs,
// asks them for conversation snapshots when they report changes, and exposes typed
// request helpers.
package background

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/kernel/chatbridge/internal/protocol"
	"github.com/kernel/chatbridge/internal/router"
)

// ErrUnknownTab is returned for tab ids that were never attached or were detached.
var ErrUnknownTab = errors.New("unknown tab")

// Requester sends requests to one tab. *router.Client implements it.
type Requester interface {
	Request(ctx context.Context, kind protocol.MessageKind, payload any) (protocol.Response, error)
	OnEvent(fn func(protocol.Message))
}

// TabInfo is what the service knows about one tab.
type TabInfo struct {
	ID        string            `json:"id"`
	Page      protocol.PageInfo `json:"page"`
	Announced bool              `json:"announced"`
	Messages  int               `json:"messages"`
}

type tab struct {
	id          string
	client      Requester
	info        protocol.PageInfo
	announced   bool
	snapshot    *protocol.ConversationSnapshot
	fingerprint uint64

	syncing bool
	dirty   bool
}

// Service holds per-tab state in memory only. A restarted service learns everything
// again from the next READY announcement.
type Service struct {
	logger *zap.Logger

	mu         sync.Mutex
	tabs       map[string]*tab
	onSnapshot func(tabID string, snap protocol.ConversationSnapshot)
	onReady    func(tabID string, info protocol.PageInfo)

	wg sync.WaitGroup
}

// New returns an empty Service.
func New(logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{logger: logger, tabs: make(map[string]*tab)}
}

// OnSnapshot registers fn for every snapshot whose messages differ from the previous
// one of the same tab.
func (s *Service) OnSnapshot(fn func(tabID string, snap protocol.ConversationSnapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSnapshot = fn
}

// OnReady registers fn for every accepted READY announcement.
func (s *Service) OnReady(fn func(tabID string, info protocol.PageInfo)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onReady = fn
}

// Attach starts tracking a tab. Events from the tab are handled on their own
// goroutines bound to ctx.
func (s *Service) Attach(ctx context.Context, tabID string, client Requester) {
	s.mu.Lock()
	s.tabs[tabID] = &tab{id: tabID, client: client}
	s.mu.Unlock()

	client.OnEvent(func(msg protocol.Message) {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleEvent(ctx, tabID, msg)
		}()
	})
	s.logger.Debug("tab attached", zap.String("tab", tabID))
}

// Detach forgets a tab.
func (s *Service) Detach(tabID string) {
	s.mu.Lock()
	delete(s.tabs, tabID)
	s.mu.Unlock()
}

// Wait blocks until every in-flight event handler returned.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Tabs lists the attached tabs ordered by id.
func (s *Service) Tabs() []TabInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := lo.MapToSlice(s.tabs, func(id string, t *tab) TabInfo {
		info := TabInfo{ID: id, Page: t.info, Announced: t.announced}
		if t.snapshot != nil {
			info.Messages = len(t.snapshot.Messages)
		}
		return info
	})
	slices.SortFunc(out, func(a, b TabInfo) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Latest returns the last snapshot received from a tab.
func (s *Service) Latest(tabID string) (protocol.ConversationSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[tabID]
	if !ok || t.snapshot == nil {
		return protocol.ConversationSnapshot{}, false
	}
	return *t.snapshot, true
}

func (s *Service) handleEvent(ctx context.Context, tabID string, msg protocol.Message) {
	log := s.logger.With(zap.String("tab", tabID), zap.String("type", string(msg.Type)))

	switch msg.Type {
	case protocol.KindContentScriptReady:
		var info protocol.PageInfo
		if err := msg.Decode(&info); err != nil {
			log.Warn("invalid READY announcement", zap.Error(err))
			return
		}
		if !protocol.Compatible(info.Version) {
			log.Warn("ignoring adapter with incompatible protocol version", zap.String("version", info.Version))
			return
		}
		s.mu.Lock()
		t, ok := s.tabs[tabID]
		if ok {
			t.info = info
			t.announced = true
		}
		fn := s.onReady
		s.mu.Unlock()
		if !ok {
			return
		}
		if fn != nil {
			fn(tabID, info)
		}
		// A new route usually means a different conversation.
		if _, err := s.Sync(ctx, tabID); err != nil {
			log.Debug("sync after READY failed", zap.Error(err))
		}

	case protocol.KindSyncData:
		var data protocol.SyncData
		if err := msg.Decode(&data); err != nil {
			log.Warn("invalid SYNC_DATA event", zap.Error(err))
			return
		}
		log.Debug("conversation changed", zap.String("url", data.URL), zap.Int("added", data.AddedNodes))
		if _, err := s.Sync(ctx, tabID); err != nil {
			log.Debug("sync failed", zap.Error(err))
		}

	default:
		log.Debug("ignoring event")
	}
}

// Sync exports the tab's conversation and records it when the messages changed. Calls
// arriving while a sync is running are folded into one follow-up export.
func (s *Service) Sync(ctx context.Context, tabID string) (bool, error) {
	s.mu.Lock()
	t, ok := s.tabs[tabID]
	if !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("%w: %s", ErrUnknownTab, tabID)
	}
	if t.syncing {
		t.dirty = true
		s.mu.Unlock()
		return false, nil
	}
	t.syncing = true
	s.mu.Unlock()

	changed := false
	for {
		c, err := s.syncOnce(ctx, t)
		changed = changed || c

		s.mu.Lock()
		if err != nil || !t.dirty {
			t.syncing = false
			t.dirty = false
			s.mu.Unlock()
			return changed, err
		}
		t.dirty = false
		s.mu.Unlock()
	}
}

func (s *Service) syncOnce(ctx context.Context, t *tab) (bool, error) {
	snap, err := s.export(ctx, t.client)
	if err != nil {
		return false, err
	}
	fp := snap.Fingerprint()

	s.mu.Lock()
	if t.snapshot != nil && t.fingerprint == fp {
		s.mu.Unlock()
		return false, nil
	}
	t.snapshot = &snap
	t.fingerprint = fp
	fn := s.onSnapshot
	s.mu.Unlock()

	if fn != nil {
		fn(t.id, snap)
	}
	return true, nil
}

func (s *Service) client(tabID string) (Requester, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tabs[tabID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTab, tabID)
	}
	return t.client, nil
}

// PageInfo asks a tab for its current page info.
func (s *Service) PageInfo(ctx context.Context, tabID string) (protocol.PageInfo, error) {
	var info protocol.PageInfo
	c, err := s.client(tabID)
	if err != nil {
		return info, err
	}
	err = call(ctx, c, protocol.KindGetPageInfo, nil, &info)
	return info, err
}

// Export asks a tab for a fresh conversation snapshot.
func (s *Service) Export(ctx context.Context, tabID string) (protocol.ConversationSnapshot, error) {
	c, err := s.client(tabID)
	if err != nil {
		return protocol.ConversationSnapshot{}, err
	}
	return s.export(ctx, c)
}

func (s *Service) export(ctx context.Context, c Requester) (protocol.ConversationSnapshot, error) {
	var snap protocol.ConversationSnapshot
	err := call(ctx, c, protocol.KindExportConversation, nil, &snap)
	return snap, err
}

// InsertText writes text into the tab's chat input. It reports false when the page has
// no input.
func (s *Service) InsertText(ctx context.Context, tabID, text string) (bool, error) {
	c, err := s.client(tabID)
	if err != nil {
		return false, err
	}
	var result protocol.InsertTextResult
	err = call(ctx, c, protocol.KindInsertText, protocol.InsertTextRequest{Text: text}, &result)
	return result.Inserted, err
}

// call sends one request and decodes the response. Failed responses come back as
// *protocol.RemoteError.
func call(ctx context.Context, c Requester, kind protocol.MessageKind, payload, out any) error {
	resp, err := c.Request(ctx, kind, payload)
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", kind, err)
	}
	return resp.Decode(out)
}

var _ Requester = (*router.Client)(nil)
