package matcher

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-redis/redis/v8"
)

// Order は (先手, 後手) の名前の組です。
type Order struct {
	First  string
	Second string
}

// Ledger はコンテストごとの対戦回数 playedCount[先手][後手] を保持します。
type Ledger interface {
	Load(ctx context.Context, key Key) (map[Order]int, error)
	Incr(ctx context.Context, key Key, order Order) error
}

// MemoryLedger はプロセス内だけで対戦回数を保持します。
type MemoryLedger struct {
	mu     sync.Mutex
	counts map[Key]map[Order]int
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{counts: make(map[Key]map[Order]int)}
}

func (l *MemoryLedger) Load(_ context.Context, key Key) (map[Order]int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[Order]int, len(l.counts[key]))
	for order, n := range l.counts[key] {
		out[order] = n
	}
	return out, nil
}

func (l *MemoryLedger) Incr(_ context.Context, key Key, order Order) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts[key] == nil {
		l.counts[key] = make(map[Order]int)
	}
	l.counts[key][order]++
	return nil
}

// RedisLedger は対戦回数を Redis のハッシュに保存し、再起動後も上限を守れるようにします。
// キーは pairings:<gameType>:<contest>、フィールドは ["先手","後手"] のJSONです。
type RedisLedger struct {
	rdb *redis.Client
}

func NewRedisLedger(rdb *redis.Client) *RedisLedger {
	return &RedisLedger{rdb: rdb}
}

func redisKey(key Key) string {
	return "pairings:" + key.GameType + ":" + key.Contest
}

func orderField(order Order) string {
	data, _ := json.Marshal([2]string{order.First, order.Second})
	return string(data)
}

func (l *RedisLedger) Load(ctx context.Context, key Key) (map[Order]int, error) {
	fields, err := l.rdb.HGetAll(ctx, redisKey(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("load pairings %s: %w", redisKey(key), err)
	}
	out := make(map[Order]int, len(fields))
	for field, value := range fields {
		var pair [2]string
		if err := json.Unmarshal([]byte(field), &pair); err != nil {
			continue
		}
		n, err := strconv.Atoi(value)
		if err != nil {
			continue
		}
		out[Order{First: pair[0], Second: pair[1]}] = n
	}
	return out, nil
}

func (l *RedisLedger) Incr(ctx context.Context, key Key, order Order) error {
	if err := l.rdb.HIncrBy(ctx, redisKey(key), orderField(order), 1).Err(); err != nil {
		return fmt.Errorf("incr pairing %s: %w", redisKey(key), err)
	}
	return nil
}
