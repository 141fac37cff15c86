package cache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gocolly/colly/v2/storage"
	bolt "go.etcd.io/bbolt"
)

// BoltFileName is the database file created inside the cache directory.
const BoltFileName = "forager.db"

// openTimeout bounds the wait for bbolt's own file lock, held by a sibling
// process for as long as it keeps the database open.
const openTimeout = 10 * time.Second

var (
	resultsBucket = []byte("discovery")
	collyBucket   = []byte("colly")
)

// BoltStore keeps cache entries in a single bbolt file. It also implements
// colly's storage.Storage so the scraper can persist cookies next to the
// results.
type BoltStore struct {
	DBPath string
	db     *bolt.DB
	mu     sync.RWMutex
}

// OpenBoltStore creates the database file and its buckets when missing.
func OpenBoltStore(path string) (*BoltStore, error) {
	s := &BoltStore{DBPath: path}
	if err := s.Init(); err != nil {
		return nil, err
	}
	return s, nil
}

// Init opens the database. colly calls it again through storage.Storage,
// so it is a no-op once open.
func (s *BoltStore) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.DBPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for BoltDB: %w", err)
	}

	db, err := bolt.Open(s.DBPath, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return fmt.Errorf("failed to open BoltDB: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{resultsBucket, collyBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to create bucket: %w", err)
	}

	s.db = db
	return nil
}

func (s *BoltStore) Load(key string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(resultsBucket).Get([]byte(key)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	if data == nil {
		return Entry{}, ErrNotFound
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return entry, nil
}

func (s *BoltStore) Save(key string, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(resultsBucket).Put([]byte(key), data)
	})
}

// Visited implements storage.Storage.
func (s *BoltStore) Visited(requestID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		key := []byte(fmt.Sprintf("v:%d", requestID))
		return tx.Bucket(collyBucket).Put(key, []byte("1"))
	})
}

// IsVisited implements storage.Storage.
func (s *BoltStore) IsVisited(requestID uint64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var visited bool
	err := s.db.View(func(tx *bolt.Tx) error {
		key := []byte(fmt.Sprintf("v:%d", requestID))
		visited = tx.Bucket(collyBucket).Get(key) != nil
		return nil
	})
	return visited, err
}

// Cookies implements storage.Storage.
func (s *BoltStore) Cookies(u *url.URL) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cookies string
	_ = s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(collyBucket).Get([]byte("c:" + u.Host)); v != nil {
			cookies = string(v)
		}
		return nil
	})
	return cookies
}

// SetCookies implements storage.Storage.
func (s *BoltStore) SetCookies(u *url.URL, cookies string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_ = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(collyBucket).Put([]byte("c:"+u.Host), []byte(cookies))
	})
}

// ClearVisits forgets every visited request so articles can be fetched
// again on the next run. Cookies are kept.
func (s *BoltStore) ClearVisits() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(collyBucket)
		var stale [][]byte
		c := b.Cursor()
		prefix := []byte("v:")
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		return err
	}
	return nil
}

var (
	_ Store           = (*BoltStore)(nil)
	_ Store           = (*FileStore)(nil)
	_ storage.Storage = (*BoltStore)(nil)
)
