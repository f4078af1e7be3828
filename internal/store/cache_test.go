package store

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashureev/copilot-relay/internal/domain"
)

type countingCatalog struct {
	Catalog
	modelLookups int
	models       map[string]*domain.ModelDescriptor
}

func (c *countingCatalog) FindModel(_ context.Context, name string) (*domain.ModelDescriptor, error) {
	c.modelLookups++
	return c.models[name], nil
}

func (c *countingCatalog) UpsertModel(_ context.Context, m *domain.ModelDescriptor) error {
	c.models[m.Name] = m
	return nil
}

func unreachableRedis(t *testing.T) *redis.Client {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestCachedCatalogFailsOpen(t *testing.T) {
	inner := &countingCatalog{models: map[string]*domain.ModelDescriptor{
		"demo": {Name: "demo", Kind: domain.ProviderKindClient, APIKey: "k"},
	}}
	c := NewCachedCatalog(inner, unreachableRedis(t), time.Minute, nil)

	m, err := c.FindModel(context.Background(), "demo")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "k", m.APIKey)

	missing, err := c.FindModel(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Equal(t, 2, inner.modelLookups)

	require.NoError(t, c.UpsertModel(context.Background(), &domain.ModelDescriptor{Name: "new"}))
	assert.Contains(t, inner.models, "new")
}

func TestDescriptorEncodingKeepsCredentials(t *testing.T) {
	in := &domain.RagSource{Name: "papers", APIKey: "secret", Backend: domain.RetrievalBackendChromem}
	data, err := encodeDescriptor(in)
	require.NoError(t, err)

	var out domain.RagSource
	require.NoError(t, decodeDescriptor(data, &out))
	assert.Equal(t, "secret", out.APIKey)
	assert.Equal(t, domain.RetrievalBackendChromem, out.Backend)
}
