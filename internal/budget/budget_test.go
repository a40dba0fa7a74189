package budget

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/order-extractor/internal/tenant"
)

type fakeRedis struct {
	values  map[string]float64
	getErr  error
	expired map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]float64{}, expired: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(strconv.FormatFloat(v, 'f', -1, 64), nil)
}

func (f *fakeRedis) IncrByFloat(ctx context.Context, key string, value float64) *redis.FloatCmd {
	f.values[key] += value
	return redis.NewFloatResult(f.values[key], nil)
}

func (f *fakeRedis) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	f.expired[key] = expiration
	return redis.NewBoolResult(true, nil)
}

var fixedNow = time.Date(2026, 10, 19, 23, 30, 0, 0, time.UTC)

func newTestGate(ledger SpendLedger) *Gate {
	g := NewGate(nil, ledger)
	g.now = func() time.Time { return fixedNow }
	return g
}

func TestGateLimits(t *testing.T) {
	ctx := context.Background()
	ledger := NewMemoryLedger()
	g := newTestGate(ledger)
	policy := tenant.Policy{MaxPages: 5, MaxTokens: 20000, DailySpendCeilingUSD: 1}

	tests := []struct {
		name   string
		est    Estimate
		spent  float64
		reason string
	}{
		{"within limits", Estimate{Pages: 2, Tokens: 4000, CostUSD: 0.1}, 0, ""},
		{"too many pages", Estimate{Pages: 6, Tokens: 4000}, 0, ReasonMaxPages},
		{"too many tokens", Estimate{Pages: 1, Tokens: 20001}, 0, ReasonMaxTokens},
		{"ceiling reached", Estimate{Pages: 1, Tokens: 100, CostUSD: 0.2}, 0.9, ReasonDailyCeiling},
		{"exactly at ceiling", Estimate{Pages: 1, Tokens: 100, CostUSD: 0.1}, 0, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tenantID := "t-" + tt.name
			require.NoError(t, ledger.Add(ctx, tenantID, fixedNow, tt.spent))
			state, err := g.Check(ctx, policy, tenantID, tt.est)
			require.NoError(t, err)
			assert.Equal(t, tt.reason != "", state.Blocked)
			assert.Equal(t, tt.reason, state.Reason)
		})
	}
}

type brokenLedger struct{}

func (brokenLedger) SpentToday(context.Context, string, time.Time) (float64, error) {
	return 0, errors.New("connection refused")
}
func (brokenLedger) Add(context.Context, string, time.Time, float64) error { return nil }

func TestGateFailsClosed(t *testing.T) {
	g := newTestGate(brokenLedger{})
	state, err := g.Check(context.Background(), tenant.Policy{DailySpendCeilingUSD: 10}, "acme", Estimate{CostUSD: 0.01})
	require.Error(t, err)
	assert.True(t, state.Blocked)
	assert.Equal(t, ReasonLedgerUnavailable, state.Reason)

	// Without a ceiling the ledger is never consulted.
	state, err = g.Check(context.Background(), tenant.Policy{}, "acme", Estimate{CostUSD: 0.01})
	require.NoError(t, err)
	assert.False(t, state.Blocked)
}

func TestRedisLedger(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	l := &RedisLedger{rdb: fake}

	spent, err := l.SpentToday(ctx, "acme", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 0.0, spent)

	require.NoError(t, l.Add(ctx, "acme", fixedNow, 0.25))
	require.NoError(t, l.Add(ctx, "acme", fixedNow, 0.5))
	require.NoError(t, l.Add(ctx, "acme", fixedNow, 0))

	key := "orderex:spend:acme:2026-10-19"
	assert.InDelta(t, 0.75, fake.values[key], 1e-9)
	assert.Equal(t, 48*time.Hour, fake.expired[key])

	spent, err = l.SpentToday(ctx, "acme", fixedNow)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, spent, 1e-9)

	// A new UTC day starts from zero.
	spent, err = l.SpentToday(ctx, "acme", fixedNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0.0, spent)

	fake.getErr = errors.New("i/o timeout")
	_, err = l.SpentToday(ctx, "acme", fixedNow)
	assert.Error(t, err)
}

func TestEstimates(t *testing.T) {
	p := Pricing{InputPer1KUSD: 1, OutputPer1KUSD: 2}
	est := EstimateText(4000, 1, 1000, p)
	assert.Equal(t, 1000+promptOverheadTokens+1000, est.Tokens)
	assert.InDelta(t, 2.5+2, est.CostUSD, 1e-9)

	est = EstimateVision(3, 500, p)
	assert.Equal(t, 3, est.Pages)
	assert.Equal(t, 3*1500+promptOverheadTokens+500, est.Tokens)
}
