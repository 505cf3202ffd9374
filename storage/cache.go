package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// Cache wraps a Backend with a Redis copy of each collection's records.
// Writes go to the backend first and then evict the collection. Every
// eviction bumps a generation counter, and a scan only fills the cache when
// the generation it started at is still current.
type Cache struct {
	base  Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Backend using the provided Redis client and TTL.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base backend is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

type cachedRecord struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

func (c *Cache) Scan(ctx context.Context, collection string) ([]Record, error) {
	if recs, ok := c.load(ctx, collection); ok {
		return recs, nil
	}
	gen, genOK := c.generation(ctx, collection)
	recs, err := c.base.Scan(ctx, collection)
	if err != nil {
		return nil, err
	}
	if genOK {
		c.store(ctx, collection, recs, gen)
	}
	return recs, nil
}

func (c *Cache) Insert(ctx context.Context, collection, id string, fields Fields) error {
	if err := c.base.Insert(ctx, collection, id, fields); err != nil {
		return err
	}
	c.evict(ctx, collection)
	return nil
}

func (c *Cache) Merge(ctx context.Context, collection, id string, fields Fields) error {
	if err := c.base.Merge(ctx, collection, id, fields); err != nil {
		return err
	}
	c.evict(ctx, collection)
	return nil
}

func (c *Cache) Delete(ctx context.Context, collection, id string) error {
	if err := c.base.Delete(ctx, collection, id); err != nil {
		return err
	}
	c.evict(ctx, collection)
	return nil
}

func (c *Cache) Close() error { return c.base.Close() }

func (c *Cache) load(ctx context.Context, collection string) ([]Record, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, recordsCacheKey(collection)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// on redis errors fall back to the backend without failing
			_ = c.redis.Del(ctx, recordsCacheKey(collection)).Err()
		}
		return nil, false
	}
	var cached []cachedRecord
	if err := sonic.Unmarshal(data, &cached); err != nil {
		_ = c.redis.Del(ctx, recordsCacheKey(collection)).Err()
		return nil, false
	}
	recs := make([]Record, 0, len(cached))
	for _, cr := range cached {
		recs = append(recs, Record{ID: cr.ID, Fields: decodeFields(cr.Fields)})
	}
	return recs, true
}

func (c *Cache) generation(ctx context.Context, collection string) (int64, bool) {
	if c.redis == nil {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, generationKey(collection)).Int64()
	if err == redis.Nil {
		return 0, true
	}
	return gen, err == nil
}

// store fills the cache unless a write evicted the collection after gen was
// read. A concurrent eviction aborts the transaction.
func (c *Cache) store(ctx context.Context, collection string, recs []Record, gen int64) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	cached := make([]cachedRecord, 0, len(recs))
	for _, r := range recs {
		cached = append(cached, cachedRecord{ID: r.ID, Fields: encodeFields(r.Fields)})
	}
	data, err := sonic.Marshal(cached)
	if err != nil {
		return
	}
	genKey := generationKey(collection)
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		if cur != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, recordsCacheKey(collection), data, c.ttl)
			return nil
		})
		return err
	}, genKey)
}

func (c *Cache) evict(ctx context.Context, collection string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, generationKey(collection))
		p.Del(ctx, recordsCacheKey(collection))
		return nil
	})
}

var errStaleFill = errors.New("cache fill raced a write")

func recordsCacheKey(collection string) string {
	return "records:" + collection
}

func generationKey(collection string) string {
	return "records:" + collection + ":gen"
}
