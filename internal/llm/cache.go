package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "llm:"

// Cache serves repeated identical requests from a local badger store so a
// resubmitted run does not pay for the same completion twice. Truncated
// responses are never cached.
type Cache struct {
	inner Client
	db    *badger.DB
	ttl   time.Duration
	owned bool
}

// NewCache opens (or creates) a badger database in dir and wraps inner.
func NewCache(inner Client, dir string, ttl time.Duration) (*Cache, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, eris.Wrap(err, "llm: open cache")
	}
	c := newCache(inner, db, ttl)
	c.owned = true
	return c, nil
}

func newCache(inner Client, db *badger.DB, ttl time.Duration) *Cache {
	return &Cache{inner: inner, db: db, ttl: ttl}
}

func (c *Cache) Name() string { return c.inner.Name() }

// Close closes the underlying database when the cache opened it.
func (c *Cache) Close() error {
	if !c.owned {
		return nil
	}
	return c.db.Close()
}

func (c *Cache) Complete(ctx context.Context, req Request) (*Response, error) {
	key := c.key(req)

	if resp, ok := c.get(key); ok {
		zap.L().Debug("llm: cache hit", zap.String("provider", c.inner.Name()), zap.String("model", req.Model))
		return resp, nil
	}

	resp, err := c.inner.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if !resp.Truncated && resp.Text != "" {
		c.put(key, resp)
	}
	return resp, nil
}

func (c *Cache) key(req Request) []byte {
	data, _ := json.Marshal(req)
	sum := sha256.Sum256(append([]byte(c.inner.Name()+"\x00"), data...))
	return []byte(cacheKeyPrefix + hex.EncodeToString(sum[:]))
}

func (c *Cache) get(key []byte) (*Response, bool) {
	var resp Response
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &resp)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			zap.L().Warn("llm: cache read failed", zap.Error(err))
		}
		return nil, false
	}
	resp.Cached = true
	return &resp, true
}

func (c *Cache) put(key []byte, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	err = c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry(key, data)
		if c.ttl > 0 {
			entry = entry.WithTTL(c.ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		zap.L().Warn("llm: cache write failed", zap.Error(err))
	}
}
