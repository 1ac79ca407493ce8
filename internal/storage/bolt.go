package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xaenox/sparkgen/internal/models"
	bolt "go.etcd.io/bbolt"
)

var (
	// Bucket names
	bucketMessages   = []byte("messages")
	bucketByTime     = []byte("messages_by_time")
	bucketByCategory = []byte("messages_by_category")
	bucketFavorites  = []byte("favorites")
	bucketRecords    = []byte("generation_records")
)

// BoltStore implements Store on a bbolt file. Messages are keyed by id; two
// index buckets keep time and category order so lookups never scan the
// whole message bucket.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	db, err := bolt.Open(filepath.Join(dataDir, "messages.db"), 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketMessages, bucketByTime, bucketByCategory, bucketFavorites, bucketRecords} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func timeKey(t time.Time, id string) []byte {
	k := make([]byte, 8, 8+len(id))
	binary.BigEndian.PutUint64(k, uint64(t.UnixNano()))
	return append(k, id...)
}

func categoryPrefix(c models.Category) []byte {
	return append([]byte(c), 0)
}

func categoryKey(c models.Category, t time.Time, id string) []byte {
	return append(categoryPrefix(c), timeKey(t, id)...)
}

func putIndexes(tx *bolt.Tx, msg *models.GeneratedMessage) error {
	id := []byte(msg.ID)
	if err := tx.Bucket(bucketByTime).Put(timeKey(msg.CreatedAt, msg.ID), id); err != nil {
		return err
	}
	return tx.Bucket(bucketByCategory).Put(categoryKey(msg.Category, msg.CreatedAt, msg.ID), id)
}

func deleteIndexes(tx *bolt.Tx, msg *models.GeneratedMessage) error {
	if err := tx.Bucket(bucketByTime).Delete(timeKey(msg.CreatedAt, msg.ID)); err != nil {
		return err
	}
	return tx.Bucket(bucketByCategory).Delete(categoryKey(msg.Category, msg.CreatedAt, msg.ID))
}

func loadMessage(tx *bolt.Tx, id []byte) (*models.GeneratedMessage, error) {
	data := tx.Bucket(bucketMessages).Get(id)
	if data == nil {
		return nil, nil
	}
	var msg models.GeneratedMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("corrupt message %s: %w", id, err)
	}
	return &msg, nil
}

// removeMessage deletes a message with its indexes and favorite marker.
func removeMessage(tx *bolt.Tx, msg *models.GeneratedMessage) error {
	if err := deleteIndexes(tx, msg); err != nil {
		return err
	}
	if err := tx.Bucket(bucketFavorites).Delete([]byte(msg.ID)); err != nil {
		return err
	}
	return tx.Bucket(bucketMessages).Delete([]byte(msg.ID))
}

func (s *BoltStore) Save(ctx context.Context, msg *models.GeneratedMessage) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		prev, err := loadMessage(tx, []byte(msg.ID))
		if err != nil {
			return err
		}
		if prev != nil {
			if err := deleteIndexes(tx, prev); err != nil {
				return err
			}
		}
		if err := tx.Bucket(bucketMessages).Put([]byte(msg.ID), data); err != nil {
			return err
		}
		return putIndexes(tx, msg)
	})
}

func (s *BoltStore) Get(ctx context.Context, id string) (*models.GeneratedMessage, error) {
	var msg *models.GeneratedMessage
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		msg, err = loadMessage(tx, []byte(id))
		return err
	})
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrNotFound
	}
	return msg, nil
}

func (s *BoltStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		msg, err := loadMessage(tx, []byte(id))
		if err != nil {
			return err
		}
		if msg == nil {
			return tx.Bucket(bucketFavorites).Delete([]byte(id))
		}
		return removeMessage(tx, msg)
	})
}

func (s *BoltStore) ToggleFavorite(ctx context.Context, id string) (bool, error) {
	var now bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		if tx.Bucket(bucketMessages).Get([]byte(id)) == nil {
			return ErrNotFound
		}
		favs := tx.Bucket(bucketFavorites)
		if favs.Get([]byte(id)) != nil {
			return favs.Delete([]byte(id))
		}
		now = true
		return favs.Put([]byte(id), []byte{1})
	})
	return now, err
}

func (s *BoltStore) IsFavorite(ctx context.Context, id string) (bool, error) {
	var fav bool
	err := s.db.View(func(tx *bolt.Tx) error {
		fav = tx.Bucket(bucketFavorites).Get([]byte(id)) != nil
		return nil
	})
	return fav, err
}

// scanNewest walks the time index from newest to oldest, passing each message
// to keep until limit matches were collected.
func (s *BoltStore) scanNewest(ctx context.Context, limit int, keep func(tx *bolt.Tx, m *models.GeneratedMessage) bool) ([]*models.GeneratedMessage, error) {
	out := make([]*models.GeneratedMessage, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketByTime).Cursor()
		for k, id := c.Last(); k != nil; k, id = c.Prev() {
			if err := ctx.Err(); err != nil {
				return err
			}
			msg, err := loadMessage(tx, id)
			if err != nil {
				return err
			}
			if msg == nil || !keep(tx, msg) {
				continue
			}
			out = append(out, msg)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) LoadRecent(ctx context.Context, limit int) ([]*models.GeneratedMessage, error) {
	return s.scanNewest(ctx, limit, func(*bolt.Tx, *models.GeneratedMessage) bool { return true })
}

func (s *BoltStore) LoadFavorites(ctx context.Context, limit int) ([]*models.GeneratedMessage, error) {
	return s.scanNewest(ctx, limit, func(tx *bolt.Tx, m *models.GeneratedMessage) bool {
		return tx.Bucket(bucketFavorites).Get([]byte(m.ID)) != nil
	})
}

func (s *BoltStore) Search(ctx context.Context, query string, limit int) ([]*models.GeneratedMessage, error) {
	needle := normalizeQuery(query)
	return s.scanNewest(ctx, limit, func(_ *bolt.Tx, m *models.GeneratedMessage) bool {
		return matches(m, needle)
	})
}

func (s *BoltStore) LoadByCategory(ctx context.Context, category models.Category, limit int) ([]*models.GeneratedMessage, error) {
	prefix := categoryPrefix(category)
	out := make([]*models.GeneratedMessage, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketByCategory).Cursor()
		// the key just past every "<category>\x00..." key
		end := append([]byte(category), 1)
		k, id := c.Seek(end)
		if k == nil {
			k, id = c.Last()
		} else {
			k, id = c.Prev()
		}
		for ; k != nil && bytes.HasPrefix(k, prefix); k, id = c.Prev() {
			msg, err := loadMessage(tx, id)
			if err != nil {
				return err
			}
			if msg == nil {
				continue
			}
			out = append(out, msg)
			if limit > 0 && len(out) >= limit {
				return nil
			}
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) SaveGenerationRecord(ctx context.Context, rec *models.GenerationRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRecords).Put(timeKey(rec.CreatedAt, rec.ID), data)
	})
}

func (s *BoltStore) Statistics(ctx context.Context) (*models.StorageStatistics, error) {
	stats := &models.StorageStatistics{CategoryCounts: make(map[models.Category]int)}
	err := s.db.View(func(tx *bolt.Tx) error {
		err := tx.Bucket(bucketMessages).ForEach(func(k, v []byte) error {
			var msg models.GeneratedMessage
			if err := json.Unmarshal(v, &msg); err != nil {
				return fmt.Errorf("corrupt message %s: %w", k, err)
			}
			stats.Observe(&msg)
			return nil
		})
		if err != nil {
			return err
		}

		msgs := tx.Bucket(bucketMessages)
		err = tx.Bucket(bucketFavorites).ForEach(func(k, _ []byte) error {
			if msgs.Get(k) != nil {
				stats.FavoriteCount++
			}
			return nil
		})
		if err != nil {
			return err
		}

		records, produced := 0, 0
		err = tx.Bucket(bucketRecords).ForEach(func(_, v []byte) error {
			var rec models.GenerationRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records++
			produced += rec.MessageCount
			return nil
		})
		stats.ObserveRecords(records, produced)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (s *BoltStore) Optimize(ctx context.Context, retention Retention) (*OptimizeReport, error) {
	report := &OptimizeReport{}
	err := s.db.Update(func(tx *bolt.Tx) error {
		msgs := tx.Bucket(bucketMessages)
		favs := tx.Bucket(bucketFavorites)

		var orphans [][]byte
		if err := favs.ForEach(func(k, _ []byte) error {
			if msgs.Get(k) == nil {
				orphans = append(orphans, append([]byte(nil), k...))
			}
			return nil
		}); err != nil {
			return err
		}
		for _, k := range orphans {
			if err := favs.Delete(k); err != nil {
				return err
			}
		}
		report.OrphanedFavorites = len(orphans)

		// Walk oldest first with favorites protected. Expired entries all
		// precede live ones, so the trim budget is settled once they end.
		var expired, trim []*models.GeneratedMessage
		total := 0
		if err := msgs.ForEach(func(_, _ []byte) error { total++; return nil }); err != nil {
			return err
		}
		var cutoff time.Time
		if retention.MaxAge > 0 {
			cutoff = time.Now().Add(-retention.MaxAge)
		}

		c := tx.Bucket(bucketByTime).Cursor()
		for k, id := c.First(); k != nil; k, id = c.Next() {
			if favs.Get(id) != nil {
				continue
			}
			msg, err := loadMessage(tx, id)
			if err != nil {
				return err
			}
			if msg == nil {
				continue
			}
			remaining := total - len(expired) - len(trim)
			switch {
			case !cutoff.IsZero() && msg.CreatedAt.Before(cutoff):
				expired = append(expired, msg)
			case retention.MaxMessages > 0 && remaining > retention.MaxMessages:
				trim = append(trim, msg)
			}
			if cutoff.IsZero() || !msg.CreatedAt.Before(cutoff) {
				if retention.MaxMessages <= 0 || total-len(expired)-len(trim) <= retention.MaxMessages {
					break
				}
			}
		}
		for _, msg := range append(expired, trim...) {
			if err := removeMessage(tx, msg); err != nil {
				return err
			}
		}
		report.ExpiredMessages = len(expired)
		report.TrimmedMessages = len(trim)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *BoltStore) CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		var old []*models.GeneratedMessage
		c := tx.Bucket(bucketByTime).Cursor()
		end := timeKey(cutoff, "")
		for k, id := c.First(); k != nil && bytes.Compare(k, end) < 0; k, id = c.Next() {
			msg, err := loadMessage(tx, id)
			if err != nil {
				return err
			}
			if msg != nil {
				old = append(old, msg)
			}
		}
		for _, msg := range old {
			if err := removeMessage(tx, msg); err != nil {
				return err
			}
		}
		removed = len(old)
		return nil
	})
	return removed, err
}

func (s *BoltStore) ClearAll(ctx context.Context) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketMessages, bucketByTime, bucketByCategory, bucketFavorites, bucketRecords} {
			if err := tx.DeleteBucket(bucket); err != nil {
				return err
			}
			if _, err := tx.CreateBucket(bucket); err != nil {
				return err
			}
		}
		return nil
	})
}
