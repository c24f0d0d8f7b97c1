package analytics

import (
	"sync"
	"time"

	"voltguard/internal/model"
)

// LogStore is a bounded in-memory buffer of executed automation
// actions, append-only from the dispatcher's point of view.
type LogStore struct {
	mu    sync.RWMutex
	buf   []model.AutomationLogEntry
	limit int
}

func NewLogStore(limit int) *LogStore {
	if limit <= 0 {
		limit = 5000
	}
	return &LogStore{limit: limit}
}

func (s *LogStore) Add(entry model.AutomationLogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, entry)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = entry
}

func (s *LogStore) List(limit int) []model.AutomationLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]model.AutomationLogEntry, 0, limit)
	start := len(s.buf) - limit
	for i := start; i < len(s.buf); i++ {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *LogStore) Since(ts time.Time) []model.AutomationLogEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.AutomationLogEntry, 0)
	for _, e := range s.buf {
		if !e.Timestamp.Before(ts) {
			out = append(out, e)
		}
	}
	return out
}

// LastShutdown returns the most recent shutdown entry, if any.
func (s *LogStore) LastShutdown() (model.AutomationLogEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.buf) - 1; i >= 0; i-- {
		if s.buf[i].ActionType == model.ActionShutdown {
			return s.buf[i], true
		}
	}
	return model.AutomationLogEntry{}, false
}

func (s *LogStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
