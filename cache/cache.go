// Package cache keeps finished discovery outputs so an identical request
// within the expiry window is answered without searching.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// DefaultTTL is how long an entry is served after it was written.
const DefaultTTL = 24 * time.Hour

var ErrNotFound = errors.New("cache entry not found")

// Entry is one cached result. Timestamp is serialized as fractional Unix
// seconds.
type Entry struct {
	Timestamp time.Time
	Content   json.RawMessage
}

type wireEntry struct {
	Timestamp float64         `json:"timestamp"`
	Content   json.RawMessage `json:"content"`
}

func (e Entry) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEntry{
		Timestamp: float64(e.Timestamp.UnixMicro()) / 1e6,
		Content:   e.Content,
	})
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if math.IsNaN(w.Timestamp) || math.IsInf(w.Timestamp, 0) {
		return fmt.Errorf("invalid cache timestamp %v", w.Timestamp)
	}
	sec, frac := math.Modf(w.Timestamp)
	e.Timestamp = time.Unix(int64(sec), int64(frac*1e9))
	e.Content = w.Content
	return nil
}

// Store persists entries by key. Load returns ErrNotFound for unknown keys.
type Store interface {
	Load(key string) (Entry, error)
	Save(key string, entry Entry) error
	Close() error
}

// Key derives the cache key of a discovery request.
func Key(topic, initialQuery string, numResults, maxIterations int) string {
	seed := fmt.Sprintf("%s:%s:%d:%d", topic, initialQuery, numResults, maxIterations)
	sum := sha256.Sum256([]byte(seed))
	return fmt.Sprintf("%s_n%d", hex.EncodeToString(sum[:]), numResults)
}

// Cache applies expiry on top of a Store. Expired entries read as absent
// and stay on disk until overwritten.
type Cache struct {
	store  Store
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func New(store Store, logger *zap.Logger, opts ...Option) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{store: store, ttl: DefaultTTL, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get decodes a fresh entry into dst. Read failures are logged and
// reported as a miss.
func (c *Cache) Get(key string, dst any) bool {
	entry, err := c.store.Load(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}

	age := c.now().Sub(entry.Timestamp)
	if age >= c.ttl {
		c.logger.Debug("cache entry expired", zap.String("key", key), zap.Duration("age", age))
		return false
	}

	if err := json.Unmarshal(entry.Content, dst); err != nil {
		c.logger.Warn("cache entry undecodable", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}

// Put stores content stamped with the current time.
func (c *Cache) Put(key string, content any) error {
	data, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("encode cache content: %w", err)
	}
	if err := c.store.Save(key, Entry{Timestamp: c.now(), Content: data}); err != nil {
		return fmt.Errorf("save cache entry %s: %w", key, err)
	}
	return nil
}

func (c *Cache) Close() error {
	return c.store.Close()
}
