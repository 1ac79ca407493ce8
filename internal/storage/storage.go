package storage

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/xaenox/sparkgen/internal/models"
)

var ErrNotFound = errors.New("message not found")

// Store is the local content store. Implementations serialize writes and are
// safe for concurrent use.
type Store interface {
	// Save is idempotent by message id; the last write wins.
	Save(ctx context.Context, msg *models.GeneratedMessage) error
	Get(ctx context.Context, id string) (*models.GeneratedMessage, error)
	// Delete removes the message and its favorite marker.
	Delete(ctx context.Context, id string) error

	ToggleFavorite(ctx context.Context, id string) (bool, error)
	IsFavorite(ctx context.Context, id string) (bool, error)
	LoadFavorites(ctx context.Context, limit int) ([]*models.GeneratedMessage, error)

	LoadRecent(ctx context.Context, limit int) ([]*models.GeneratedMessage, error)
	LoadByCategory(ctx context.Context, category models.Category, limit int) ([]*models.GeneratedMessage, error)
	Search(ctx context.Context, query string, limit int) ([]*models.GeneratedMessage, error)

	SaveGenerationRecord(ctx context.Context, rec *models.GenerationRecord) error
	Statistics(ctx context.Context) (*models.StorageStatistics, error)

	Optimize(ctx context.Context, retention Retention) (*OptimizeReport, error)
	CleanupOlderThan(ctx context.Context, cutoff time.Time) (int, error)
	ClearAll(ctx context.Context) error

	Close() error
}

// Retention caps applied by Optimize. Zero values disable a cap.
type Retention struct {
	MaxAge      time.Duration
	MaxMessages int
}

type OptimizeReport struct {
	OrphanedFavorites int
	ExpiredMessages   int
	TrimmedMessages   int
}

// matches is the shared search predicate: case-insensitive substring over
// content, category label and tone label.
func matches(m *models.GeneratedMessage, needle string) bool {
	if needle == "" {
		return true
	}
	return strings.Contains(strings.ToLower(m.Content), needle) ||
		strings.Contains(strings.ToLower(m.Category.Label()), needle) ||
		strings.Contains(strings.ToLower(m.Tone.Label()), needle)
}

func normalizeQuery(q string) string {
	return strings.ToLower(strings.TrimSpace(q))
}

// newestFirst orders by creation time descending, ties broken by id.
func newestFirst(msgs []*models.GeneratedMessage) {
	sort.Slice(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.After(msgs[j].CreatedAt)
		}
		return msgs[i].ID > msgs[j].ID
	})
}

func truncate(msgs []*models.GeneratedMessage, limit int) []*models.GeneratedMessage {
	if limit > 0 && len(msgs) > limit {
		return msgs[:limit]
	}
	return msgs
}

func validateMessage(msg *models.GeneratedMessage) error {
	if msg == nil || msg.ID == "" {
		return errors.New("message id is required")
	}
	return nil
}
