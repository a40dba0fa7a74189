// Package budget guards LLM escalation with per-tenant spend, page and token limits.
package budget

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ledgerKeyPrefix = "orderex:spend:"
	ledgerTTL       = 48 * time.Hour
)

// SpendLedger records LLM spend per tenant and UTC day.
type SpendLedger interface {
	SpentToday(ctx context.Context, tenantID string, now time.Time) (float64, error)
	Add(ctx context.Context, tenantID string, now time.Time, usd float64) error
}

func ledgerKey(tenantID string, now time.Time) string {
	return ledgerKeyPrefix + tenantID + ":" + now.UTC().Format("2006-01-02")
}

// redisCmds is the subset of the go-redis client the ledger uses.
type redisCmds interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	IncrByFloat(ctx context.Context, key string, value float64) *redis.FloatCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

// RedisLedger keeps daily totals with INCRBYFLOAT so concurrent runs never lose spend.
type RedisLedger struct {
	rdb redisCmds
}

func NewRedisLedger(rdb redis.Cmdable) *RedisLedger {
	return &RedisLedger{rdb: rdb}
}

func (l *RedisLedger) SpentToday(ctx context.Context, tenantID string, now time.Time) (float64, error) {
	val, err := l.rdb.Get(ctx, ledgerKey(tenantID, now)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read spend ledger: %w", err)
	}
	spent, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return 0, fmt.Errorf("parse spend ledger value %q: %w", val, err)
	}
	return spent, nil
}

func (l *RedisLedger) Add(ctx context.Context, tenantID string, now time.Time, usd float64) error {
	if usd <= 0 {
		return nil
	}
	key := ledgerKey(tenantID, now)
	if err := l.rdb.IncrByFloat(ctx, key, usd).Err(); err != nil {
		return fmt.Errorf("record spend: %w", err)
	}
	if err := l.rdb.Expire(ctx, key, ledgerTTL).Err(); err != nil {
		return fmt.Errorf("expire spend key: %w", err)
	}
	return nil
}

// MemoryLedger is the single-process ledger used when Redis is not configured.
type MemoryLedger struct {
	mu    sync.Mutex
	spent map[string]float64
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{spent: make(map[string]float64)}
}

func (l *MemoryLedger) SpentToday(_ context.Context, tenantID string, now time.Time) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.spent[ledgerKey(tenantID, now)], nil
}

func (l *MemoryLedger) Add(_ context.Context, tenantID string, now time.Time, usd float64) error {
	if usd <= 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spent[ledgerKey(tenantID, now)] += usd
	return nil
}
