package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ashureev/copilot-relay/internal/domain"
)

// DefaultDescriptorTTL bounds how stale a cached descriptor may be.
const DefaultDescriptorTTL = 30 * time.Second

// CachedCatalog is a read-through Redis cache in front of a Catalog's
// descriptor lookups. Redis failures fall through to the underlying catalog.
// Misses are not cached.
type CachedCatalog struct {
	Catalog
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCachedCatalog wraps inner with a cache on client.
func NewCachedCatalog(inner Catalog, client *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedCatalog {
	if ttl <= 0 {
		ttl = DefaultDescriptorTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedCatalog{Catalog: inner, client: client, ttl: ttl, logger: logger}
}

// NewRedisClient connects to addr and verifies the connection.
func NewRedisClient(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return client, nil
}

func modelKey(name string) string { return "descriptor:model:" + name }
func ragKey(name string) string   { return "descriptor:rag:" + name }

// FindModel returns a cached descriptor or loads and caches it.
func (c *CachedCatalog) FindModel(ctx context.Context, name string) (*domain.ModelDescriptor, error) {
	var m domain.ModelDescriptor
	if c.get(ctx, modelKey(name), &m) {
		return &m, nil
	}
	found, err := c.Catalog.FindModel(ctx, name)
	if err != nil || found == nil {
		return found, err
	}
	c.set(ctx, modelKey(name), found)
	return found, nil
}

// FindRagSource returns a cached descriptor or loads and caches it.
func (c *CachedCatalog) FindRagSource(ctx context.Context, name string) (*domain.RagSource, error) {
	var r domain.RagSource
	if c.get(ctx, ragKey(name), &r) {
		return &r, nil
	}
	found, err := c.Catalog.FindRagSource(ctx, name)
	if err != nil || found == nil {
		return found, err
	}
	c.set(ctx, ragKey(name), found)
	return found, nil
}

// UpsertModel writes through and invalidates the cached entry.
func (c *CachedCatalog) UpsertModel(ctx context.Context, m *domain.ModelDescriptor) error {
	if err := c.Catalog.UpsertModel(ctx, m); err != nil {
		return err
	}
	c.invalidate(ctx, modelKey(m.Name))
	return nil
}

// UpsertRagSource writes through and invalidates the cached entry.
func (c *CachedCatalog) UpsertRagSource(ctx context.Context, r *domain.RagSource) error {
	if err := c.Catalog.UpsertRagSource(ctx, r); err != nil {
		return err
	}
	c.invalidate(ctx, ragKey(r.Name))
	return nil
}

func (c *CachedCatalog) get(ctx context.Context, key string, out any) bool {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		c.logger.Warn("Descriptor cache read failed", "key", key, "error", err)
		return false
	}
	if err := decodeDescriptor(data, out); err != nil {
		c.logger.Warn("Descriptor cache entry unreadable", "key", key, "error", err)
		return false
	}
	return true
}

func (c *CachedCatalog) set(ctx context.Context, key string, v any) {
	data, err := encodeDescriptor(v)
	if err != nil {
		c.logger.Warn("Descriptor cache encode failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn("Descriptor cache write failed", "key", key, "error", err)
	}
}

func (c *CachedCatalog) invalidate(ctx context.Context, key string) {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		c.logger.Warn("Descriptor cache invalidation failed", "key", key, "error", err)
	}
}

// Descriptors are gob encoded because their JSON form omits credentials.
func encodeDescriptor(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeDescriptor(data []byte, out any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(out)
}
