// Package monitor tracks which chats the archive ingests in real time and
// caches the newest indexed document per monitored chat.
package monitor

import (
	"sort"
	"sync"

	"github.com/arclbx/tgindex/types"
)

// State is the in-memory monitoring state. Monitoring membership is not
// persisted on its own: it is rebuilt at startup from the chat-id lexicon
// of the index, so the index stays the single durable source of truth.
type State struct {
	mu         sync.RWMutex
	monitored  map[int64]struct{}
	excluded   map[int64]struct{}
	newest     map[int64]types.Document
	monitorAll bool
}

// New builds the state with the configured exclusion list. Excluded chats
// can never become monitored, regardless of monitorAll.
func New(monitorAll bool, excluded []int64) *State {
	s := &State{
		monitored:  make(map[int64]struct{}),
		excluded:   make(map[int64]struct{}),
		newest:     make(map[int64]types.Document),
		monitorAll: monitorAll,
	}
	for _, chatID := range excluded {
		s.excluded[types.ShareID(chatID)] = struct{}{}
	}
	return s
}

// Monitor adds a chat to the monitored set. Excluded chats are refused
// with ErrPolicyRejected.
func (s *State) Monitor(chatID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, banned := s.excluded[chatID]; banned {
		return types.ErrPolicyRejected
	}
	s.monitored[chatID] = struct{}{}
	return nil
}

// Forget removes a chat from the monitored set and drops its cache entry.
func (s *State) Forget(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.monitored, chatID)
	delete(s.newest, chatID)
}

// Reset drops the monitored set and the whole newest-document cache. The
// exclusion list survives; it is configuration, not state derived from the
// index.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.monitored = make(map[int64]struct{})
	s.newest = make(map[int64]types.Document)
}

// Exclude bans a chat. An already-monitored chat is eagerly unmonitored;
// exclusion always wins over monitoring.
func (s *State) Exclude(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.excluded[chatID] = struct{}{}
	delete(s.monitored, chatID)
	delete(s.newest, chatID)
}

func (s *State) Excluded(chatID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.excluded[chatID]
	return ok
}

func (s *State) Monitored(chatID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.monitored[chatID]
	return ok
}

// ShouldIngest reports whether real-time updates from a chat belong in the
// index. With monitorAll enabled every non-excluded chat qualifies.
func (s *State) ShouldIngest(chatID int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, banned := s.excluded[chatID]; banned {
		return false
	}
	if s.monitorAll {
		return true
	}
	_, ok := s.monitored[chatID]
	return ok
}

// MonitoredChats returns the monitored set sorted ascending.
func (s *State) MonitoredChats() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0, len(s.monitored))
	for chatID := range s.monitored {
		out = append(out, chatID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ExcludedChats returns the exclusion list sorted ascending.
func (s *State) ExcludedChats() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, 0, len(s.excluded))
	for chatID := range s.excluded {
		out = append(out, chatID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Newest returns the cached newest document of a chat. A miss means the
// cache entry was invalidated or never populated; callers fall back to the
// index.
func (s *State) Newest(chatID int64) (types.Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.newest[chatID]
	return doc, ok
}

// ObserveNewest advances the cache entry when doc is at least as new as the
// current one. The entry never regresses to an older document. Excluded
// chats are refused: an Exclude racing with an in-flight write must not have
// its cache cleanup undone.
func (s *State) ObserveNewest(chatID int64, doc types.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, banned := s.excluded[chatID]; banned {
		return
	}
	cur, ok := s.newest[chatID]
	if ok && doc.Timestamp.Before(cur.Timestamp) {
		return
	}
	s.newest[chatID] = doc
}

// ReplaceNewest overwrites the cache entry unconditionally. Used when the
// cached document itself was edited in place.
func (s *State) ReplaceNewest(chatID int64, doc types.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.newest[chatID] = doc
}

// InvalidateNewest drops the cache entry without recomputing it. The next
// status query repopulates it from the index.
func (s *State) InvalidateNewest(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.newest, chatID)
}
