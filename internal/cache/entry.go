package cache

import (
	"fmt"
	"time"
)

// Strategy decides where an entry lives.
type Strategy int

const (
	// MemoryOnly entries are lost on restart.
	MemoryOnly Strategy = iota
	// DiskOnly entries survive restart and are never held in memory.
	DiskOnly
	// Hybrid writes through to both tiers; disk hits are promoted to memory.
	Hybrid
)

func (s Strategy) String() string {
	switch s {
	case MemoryOnly:
		return "memory"
	case DiskOnly:
		return "disk"
	case Hybrid:
		return "hybrid"
	}
	return fmt.Sprintf("strategy(%d)", int(s))
}

func (s Strategy) usesMemory() bool { return s == MemoryOnly || s == Hybrid }
func (s Strategy) usesDisk() bool { return s == DiskOnly || s == Hybrid }

// Entry is one cached value. A zero ExpiresAt means no expiration.
type Entry struct {
	Key       string    `json:"key"`
	Value     []byte    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Strategy  Strategy  `json:"strategy"`
}

func newEntry(key string, value []byte, strategy Strategy, ttl time.Duration, now time.Time) *Entry {
	e := &Entry{
		Key:       key,
		Value:     append([]byte(nil), value...),
		CreatedAt: now,
		Strategy:  strategy,
	}
	if ttl > 0 {
		e.ExpiresAt = now.Add(ttl)
	}
	return e
}

func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}
