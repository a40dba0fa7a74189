package cache

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/order-extractor/constants"
	"github.com/joseph-ayodele/order-extractor/internal/canonical"
)

type fakeKV struct {
	data   map[string]string
	ttl    time.Duration
	getErr error
}

func (f *fakeKV) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeKV) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.data[key] = string(value.([]byte))
	f.ttl = expiration
	return redis.NewStatusResult("OK", nil)
}

func sampleOutput() *canonical.Output {
	out := canonical.New()
	out.Lines = append(out.Lines, canonical.Line{LineNumber: 1, CustomerSKU: canonical.Str("A-1")})
	out.Confidence.Overall = 0.8
	return out
}

func TestKey(t *testing.T) {
	k1 := Key("acme", []byte("abc"))
	assert.True(t, strings.HasPrefix(k1, "orderex:result:acme:"+constants.PipelineVersion+":"))
	assert.Equal(t, k1, Key("acme", []byte("abc")))
	assert.NotEqual(t, k1, Key("globex", []byte("abc")))
	assert.NotEqual(t, k1, Key("acme", []byte("abd")))
}

func TestRedisCache(t *testing.T) {
	ctx := context.Background()
	kv := &fakeKV{data: map[string]string{}}
	c := &RedisCache{rdb: kv, ttl: DefaultTTL, logger: slog.Default()}

	_, ok := c.Get(ctx, "missing")
	assert.False(t, ok)

	require.NoError(t, c.Put(ctx, "k", Entry{Variant: constants.VariantDelimited, Output: sampleOutput()}))
	assert.Equal(t, 7*24*time.Hour, kv.ttl)

	e, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, constants.VariantDelimited, e.Variant)
	assert.Equal(t, "A-1", *e.Output.Lines[0].CustomerSKU)

	kv.getErr = errors.New("connection reset")
	_, ok = c.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryCacheCopies(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	out := sampleOutput()
	require.NoError(t, c.Put(ctx, "k", Entry{Variant: "v", Output: out}))
	out.Lines[0].CustomerSKU = canonical.Str("changed")

	e, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, "A-1", *e.Output.Lines[0].CustomerSKU)
}
