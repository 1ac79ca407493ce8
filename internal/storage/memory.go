package storage

import (
	"context"
	"sync"
	"time"

	"github.com/xaenox/sparkgen/internal/models"
)

// MemoryStore keeps everything in maps. Used for tests and ephemeral sessions.
type MemoryStore struct {
	mu        sync.RWMutex
	messages  map[string]*models.GeneratedMessage
	favorites map[string]struct{}
	records   []*models.GenerationRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages:  make(map[string]*models.GeneratedMessage),
		favorites: make(map[string]struct{}),
	}
}

func (s *MemoryStore) Save(ctx context.Context, msg *models.GeneratedMessage) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *msg
	s.messages[msg.ID] = &cp
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.GeneratedMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if msg, exists := s.messages[id]; exists {
		cp := *msg
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.messages, id)
	delete(s.favorites, id)
	return nil
}

func (s *MemoryStore) ToggleFavorite(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.messages[id]; !exists {
		return false, ErrNotFound
	}
	if _, fav := s.favorites[id]; fav {
		delete(s.favorites, id)
		return false, nil
	}
	s.favorites[id] = struct{}{}
	return true, nil
}

func (s *MemoryStore) IsFavorite(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, fav := s.favorites[id]
	return fav, nil
}

func (s *MemoryStore) LoadFavorites(ctx context.Context, limit int) ([]*models.GeneratedMessage, error) {
	return s.collect(limit, func(m *models.GeneratedMessage) bool {
		_, fav := s.favorites[m.ID]
		return fav
	}), nil
}

func (s *MemoryStore) LoadRecent(ctx context.Context, limit int) ([]*models.GeneratedMessage, error) {
	return s.collect(limit, func(*models.GeneratedMessage) bool { return true }), nil
}

func (s *MemoryStore) LoadByCategory(ctx context.Context, category models.Category, limit int) ([]*models.GeneratedMessage, error) {
	return s.collect(limit, func(m *models.GeneratedMessage) bool { return m.Category == category }), nil
}

func (s *MemoryStore) Search(ctx context.Context, query string, limit int) ([]*models.GeneratedMessage, error) {
	needle := normalizeQuery(query)
	return s.collect(limit, func(m *models.GeneratedMessage) bool { return matches(m, needle) }), nil
}

// collect runs keep under the read lock and returns copies, newest first.
func (s *MemoryStore) collect(limit int, keep func(*models.GeneratedMessage) bool) []*models.GeneratedMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.GeneratedMessage, 0)
	for _, m := range s.messages {
		if keep(m) {
			cp := *m
			out = append(out, &cp)
		}
	}
	newestFirst(out)
	return truncate(out, limit)
}

func (s *MemoryStore) SaveGenerationRecord(ctx context.Context, rec *models.GenerationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.records = append(s.records, &cp)
	return nil
}

func (s *MemoryStore) Statistics(ctx context.Context) (*models.StorageStatistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &models.StorageStatistics{CategoryCounts: make(map[models.Category]int)}
	for _, m := range s.messages {
		stats.Observe(m)
	}
	for id := range s.favorites {
		if _, exists := s.messages[id]; exists {
			stats.FavoriteCount++
		}
	}
	produced := 0
	for _, r := range s.records {
		produced += r.MessageCount
	}
	stats.ObserveRecords(len(s.records), produced)
	return stats, nil
}

func (s *MemoryStore) Optimize(ctx context.Context, retention Retention) (*OptimizeReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &OptimizeReport{}
	for id := range s.favorites {
		if _, exists := s.messages[id]; !exists {
			delete(s.favorites, id)
			report.OrphanedFavorites++
		}
	}

	if retention.MaxAge > 0 {
		cutoff := time.Now().Add(-retention.MaxAge)
		for id, m := range s.messages {
			if _, fav := s.favorites[id]; !fav && m.CreatedAt.Before(cutoff) {
				delete(s.messages, id)
				report.ExpiredMessages++
			}
		}
	}

	if retention.MaxMessages > 0 && len(s.messages) > retention.MaxMessages {
		var candidates []*models.GeneratedMessage
		for id, m := range s.messages {
			if _, fav := s.favorites[id]; !fav {
				candidates = append(candidates, m)
			}
		}
		newestFirst(candidates)
		excess := len(s.messages) - retention.MaxMessages
		for i := len(candidates) - 1; i >= 0 && excess > 0; i-- {
			delete(s.messages, candidates[i].ID)
			report.TrimmedMessages++
			excess--
		}
	}
	return report, nil
}

func (s *MemoryStore) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, m := range s.messages {
		if m.CreatedAt.Before(cutoff) {
			delete(s.messages, id)
			delete(s.favorites, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = make(map[string]*models.GeneratedMessage)
	s.favorites = make(map[string]struct{})
	s.records = nil
	return nil
}

func (s *MemoryStore) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
