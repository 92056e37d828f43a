package cache_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GoCodeAlone/ratevent/cache"
)

func TestApplyTo_ExpireAfterWriteAcceptsDurationString(t *testing.T) {
	cfg := cache.Config{ExpireAfterWrite: "250ms"}
	b := cache.NewCacheBuilder[string, int]()

	b, err := cache.ApplyTo(b, cfg)
	require.NoError(t, err)

	c, err := b.Build()
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestApplyTo_ExpireAfterAccessAcceptsBareSecondsNumber(t *testing.T) {
	cfg := cache.Config{ExpireAfterAccess: 5}
	b := cache.NewCacheBuilder[string, int]()

	b, err := cache.ApplyTo(b, cfg)
	require.NoError(t, err)

	c, err := b.Build()
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestApplyTo_InvalidDurationIsAConfigError(t *testing.T) {
	cfg := cache.Config{ExpireAfterWrite: "not-a-duration"}
	b := cache.NewCacheBuilder[string, int]()

	_, err := cache.ApplyTo(b, cfg)
	assert.Error(t, err)
}

func TestApplyTo_ScalarOptionsAndDurationsTogether(t *testing.T) {
	cfg := cache.Config{
		MaximumSize:       100,
		ConcurrencyLevel:  2,
		ExpireAfterWrite:  "1s",
		ExpireAfterAccess: "500ms",
		RecordStats:       true,
	}
	b := cache.NewCacheBuilder[string, int]()

	b, err := cache.ApplyTo(b, cfg)
	require.NoError(t, err)

	c, err := b.Build()
	require.NoError(t, err)
	defer c.Close()

	c.Put("a", 1)
	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}
