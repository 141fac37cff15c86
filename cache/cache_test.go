package cache

import (
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type payload struct {
	Success bool     `json:"success"`
	Items   []string `json:"items"`
}

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func stores(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()

	fileStore, err := NewFileStore(filepath.Join(dir, "files"))
	require.NoError(t, err)
	boltStore, err := OpenBoltStore(filepath.Join(dir, "bolt", "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = boltStore.Close() })

	return map[string]Store{"file": fileStore, "bolt": boltStore}
}

func TestKey(t *testing.T) {
	a := Key("AI chips", "AI chips news", 5, 2)
	assert.Equal(t, a, Key("AI chips", "AI chips news", 5, 2))
	assert.True(t, strings.HasSuffix(a, "_n5"))
	assert.Len(t, strings.TrimSuffix(a, "_n5"), 64)

	assert.NotEqual(t, a, Key("AI chips", "AI chips news", 5, 3))
	assert.NotEqual(t, a, Key("AI chips", "AI chips", 5, 2))
	assert.NotEqual(t, a, Key("ai chips", "AI chips news", 5, 2))
}

func TestCache_RoundTripAndExpiry(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			clk := &clock{t: time.Unix(1_700_000_000, 250_000_000)}
			c := New(store, zap.NewNop(), WithClock(clk.Now))
			key := Key("topic", "query", 3, 1)

			var got payload
			assert.False(t, c.Get(key, &got), "empty cache must miss")

			want := payload{Success: true, Items: []string{"https://example.com/a"}}
			require.NoError(t, c.Put(key, want))

			clk.t = clk.t.Add(23 * time.Hour)
			require.True(t, c.Get(key, &got))
			assert.Equal(t, want, got)

			clk.t = clk.t.Add(time.Hour)
			assert.False(t, c.Get(key, &got), "entry must expire after 24h")

			// Expired entries are not deleted.
			entry, err := store.Load(key)
			require.NoError(t, err)
			assert.Equal(t, int64(1_700_000_000_250_000), entry.Timestamp.UnixMicro())
		})
	}
}

func TestCache_CustomTTL(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	clk := &clock{t: time.Unix(1_700_000_000, 0)}
	c := New(store, nil, WithClock(clk.Now), WithTTL(time.Minute))
	require.NoError(t, c.Put("k", payload{Success: true}))

	clk.t = clk.t.Add(59 * time.Second)
	var got payload
	assert.True(t, c.Get("k", &got))
	clk.t = clk.t.Add(time.Second)
	assert.False(t, c.Get("k", &got))
}

func TestFileStore_Format(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	entry := Entry{Timestamp: time.Unix(1_700_000_001, 500_000_000), Content: json.RawMessage(`{"success":true}`)}
	require.NoError(t, store.Save("abc_n3", entry))

	data, err := os.ReadFile(filepath.Join(dir, "abc_n3.json"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"timestamp": 1700000001.5, "content": {"success": true}}`, string(data))

	matches, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temp files must not be left behind")
}

func TestFileStore_CorruptEntryIsMiss(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json"), []byte("{not json"), 0o600))

	_, err = store.Load("bad")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))

	var got payload
	assert.False(t, New(store, zap.NewNop()).Get("bad", &got))
}

func TestStore_NotFound(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Load("missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestBoltStore_CollyStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	store, err := OpenBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Init(), "Init on an open store is a no-op")

	visited, err := store.IsVisited(42)
	require.NoError(t, err)
	assert.False(t, visited)

	require.NoError(t, store.Visited(42))
	visited, err = store.IsVisited(42)
	require.NoError(t, err)
	assert.True(t, visited)

	u, _ := url.Parse("https://news.example.com/feed")
	store.SetCookies(u, "consent=yes")
	assert.Equal(t, "consent=yes", store.Cookies(u))

	require.NoError(t, store.ClearVisits())
	visited, err = store.IsVisited(42)
	require.NoError(t, err)
	assert.False(t, visited)
	assert.Equal(t, "consent=yes", store.Cookies(u), "cookies survive ClearVisits")

	// Data survives a reopen.
	require.NoError(t, store.Close())
	reopened, err := OpenBoltStore(path)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, "consent=yes", reopened.Cookies(u))
}

func TestEntry_RejectsNonFiniteTimestamp(t *testing.T) {
	var e Entry
	assert.Error(t, json.Unmarshal([]byte(`{"timestamp": "soon", "content": {}}`), &e))
}
