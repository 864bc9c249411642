package matcher_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"botarena/auth"
	"botarena/gateway"
	"botarena/matcher"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var connSeq int

func newBot(gameType, name, contest string) *auth.Bot {
	connSeq++
	return &auth.Bot{
		Conn:     gateway.NewLocalConn(fmt.Sprintf("conn-%d", connSeq)),
		GameType: gameType,
		Name:     name,
		Contest:  contest,
	}
}

type collector struct {
	mu       sync.Mutex
	pairings []matcher.Pairing
}

func (c *collector) onMatch(p matcher.Pairing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pairings = append(c.pairings, p)
}

func (c *collector) snapshot() []matcher.Pairing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]matcher.Pairing(nil), c.pairings...)
}

func newMatcher(t *testing.T, ledger matcher.Ledger, gamesEachWay int) (*matcher.Matcher, *collector) {
	t.Helper()
	c := &collector{}
	m := matcher.New(ledger, gamesEachWay, c.onMatch, zap.NewNop())
	t.Cleanup(m.Close)
	return m, c
}

func waitingCount(m *matcher.Matcher, key matcher.Key) int {
	return m.Stats()[key]
}

// 全イベントが処理されるまで待つ。成立数*2 + 待機数 = 追加数 になる
func settle(t *testing.T, m *matcher.Matcher, c *collector, key matcher.Key, adds int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return 2*len(c.snapshot())+waitingCount(m, key) == adds
	}, 2*time.Second, 5*time.Millisecond)
}

func TestMatcher_PairsTwoBots(t *testing.T) {
	m, c := newMatcher(t, matcher.NewMemoryLedger(), 2)
	alice := newBot("gridgame", "alice", "")
	bob := newBot("gridgame", "bob", "")
	m.Added(alice)
	m.Added(bob)

	key := matcher.Key{GameType: "gridgame"}
	settle(t, m, c, key, 2)
	pairings := c.snapshot()
	require.Len(t, pairings, 1)
	p := pairings[0]
	assert.NotEmpty(t, p.SessionID)
	assert.Equal(t, key, p.Key)
	assert.ElementsMatch(t, []*auth.Bot{alice, bob}, []*auth.Bot{p.First, p.Second})
	assert.Equal(t, 0, waitingCount(m, key))
}

func TestMatcher_SameNameIsNeverPaired(t *testing.T) {
	m, c := newMatcher(t, matcher.NewMemoryLedger(), 2)
	key := matcher.Key{GameType: "gridgame"}
	m.Added(newBot("gridgame", "alice", ""))
	m.Added(newBot("gridgame", "alice", ""))
	settle(t, m, c, key, 2)
	assert.Empty(t, c.snapshot())
	assert.Equal(t, 2, waitingCount(m, key))

	bob := newBot("gridgame", "bob", "")
	m.Added(bob)
	settle(t, m, c, key, 3)
	require.Len(t, c.snapshot(), 1)
	p := c.snapshot()[0]
	assert.NotEqual(t, p.First.Name, p.Second.Name)
}

func TestMatcher_KeysAreSeparate(t *testing.T) {
	m, c := newMatcher(t, matcher.NewMemoryLedger(), 2)
	m.Added(newBot("gridgame", "alice", ""))
	m.Added(newBot("hexgame", "bob", ""))
	m.Added(newBot("gridgame", "carol", "spring"))

	assert.Eventually(t, func() bool {
		stats := m.Stats()
		return stats[matcher.Key{GameType: "gridgame"}] == 1 &&
			stats[matcher.Key{GameType: "hexgame"}] == 1 &&
			stats[matcher.Key{GameType: "gridgame", Contest: "spring"}] == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, c.snapshot())
}

func TestMatcher_RemovedWhileWaiting(t *testing.T) {
	m, c := newMatcher(t, matcher.NewMemoryLedger(), 2)
	key := matcher.Key{GameType: "gridgame"}
	alice := newBot("gridgame", "alice", "")
	m.Added(alice)
	m.Removed(alice)
	m.Added(newBot("gridgame", "bob", ""))

	settle(t, m, c, key, 1)
	assert.Empty(t, c.snapshot())
	assert.Equal(t, 1, waitingCount(m, key))
}

func TestMatcher_SkipsPeerThatAlreadyHungUp(t *testing.T) {
	m, c := newMatcher(t, matcher.NewMemoryLedger(), 2)
	key := matcher.Key{GameType: "gridgame"}
	alice := newBot("gridgame", "alice", "")
	m.Added(alice)
	settle(t, m, c, key, 1)

	alice.Conn.(*gateway.LocalConn).Hangup(nil)
	m.Added(newBot("gridgame", "bob", ""))
	settle(t, m, c, key, 1)
	assert.Empty(t, c.snapshot())
}

func TestMatcher_ContestCapsRepeatedPairings(t *testing.T) {
	m, c := newMatcher(t, matcher.NewMemoryLedger(), 2)
	key := matcher.Key{GameType: "gridgame", Contest: "spring"}

	adds := 0
	for round := 0; round < 5; round++ {
		m.Added(newBot("gridgame", "alice", "spring"))
		m.Added(newBot("gridgame", "bob", "spring"))
		adds += 2
		settle(t, m, c, key, adds)
	}

	pairings := c.snapshot()
	require.Len(t, pairings, 4)
	counts := map[matcher.Order]int{}
	for _, p := range pairings {
		counts[matcher.Order{First: p.First.Name, Second: p.Second.Name}]++
	}
	assert.Equal(t, map[matcher.Order]int{
		{First: "alice", Second: "bob"}: 2,
		{First: "bob", Second: "alice"}: 2,
	}, counts)
	// 5回目は上限に達しているので2体とも待機のまま
	assert.Equal(t, 2, waitingCount(m, key))
}

func TestMatcher_ContestCapHoldsForRandomArrivals(t *testing.T) {
	const gamesEachWay = 3
	names := []string{"a", "b", "c", "d"}
	rng := rand.New(rand.NewSource(1))

	for trial := 0; trial < 20; trial++ {
		m, c := newMatcher(t, matcher.NewMemoryLedger(), gamesEachWay)
		key := matcher.Key{GameType: "hexgame", Contest: fmt.Sprintf("cup-%d", trial)}

		adds := 60
		for i := 0; i < adds; i++ {
			m.Added(newBot("hexgame", names[rng.Intn(len(names))], key.Contest))
		}
		settle(t, m, c, key, adds)

		counts := map[matcher.Order]int{}
		for _, p := range c.snapshot() {
			require.NotEqual(t, p.First.Name, p.Second.Name)
			counts[matcher.Order{First: p.First.Name, Second: p.Second.Name}]++
		}
		for order, n := range counts {
			assert.LessOrEqual(t, n, gamesEachWay, "trial %d: %v", trial, order)
		}
		m.Close()
	}
}

func TestMatcher_ExhaustedFirstMovesGoSecond(t *testing.T) {
	ledger := matcher.NewMemoryLedger()
	key := matcher.Key{GameType: "gridgame", Contest: "spring"}
	require.NoError(t, ledger.Incr(context.Background(), key, matcher.Order{First: "alice", Second: "bob"}))

	m, c := newMatcher(t, ledger, 1)
	m.Added(newBot("gridgame", "alice", "spring"))
	m.Added(newBot("gridgame", "bob", "spring"))
	settle(t, m, c, key, 2)

	require.Len(t, c.snapshot(), 1)
	p := c.snapshot()[0]
	assert.Equal(t, "bob", p.First.Name)
	assert.Equal(t, "alice", p.Second.Name)
}

func TestRedisLedger(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	ledger := matcher.NewRedisLedger(rdb)
	ctx := context.Background()
	key := matcher.Key{GameType: "gridgame", Contest: "spring"}
	ab := matcher.Order{First: "alice", Second: "bob"}
	ba := matcher.Order{First: "bob", Second: "alice"}

	require.NoError(t, ledger.Incr(ctx, key, ab))
	require.NoError(t, ledger.Incr(ctx, key, ab))
	require.NoError(t, ledger.Incr(ctx, key, ba))
	require.NoError(t, ledger.Incr(ctx, matcher.Key{GameType: "gridgame", Contest: "autumn"}, ab))

	counts, err := ledger.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, map[matcher.Order]int{ab: 2, ba: 1}, counts)

	empty, err := ledger.Load(ctx, matcher.Key{GameType: "hexgame", Contest: "spring"})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

// 再起動後の Matcher も Redis に残った対戦回数で上限を守る
func TestRedisLedger_ReloadedByNewQueue(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	key := matcher.Key{GameType: "gridgame", Contest: "spring"}

	first, c1 := newMatcher(t, matcher.NewRedisLedger(rdb), 1)
	first.Added(newBot("gridgame", "alice", "spring"))
	first.Added(newBot("gridgame", "bob", "spring"))
	settle(t, first, c1, key, 2)
	require.Len(t, c1.snapshot(), 1)
	first.Close()

	second, c2 := newMatcher(t, matcher.NewRedisLedger(rdb), 1)
	second.Added(newBot("gridgame", "alice", "spring"))
	second.Added(newBot("gridgame", "bob", "spring"))
	settle(t, second, c2, key, 2)
	require.Len(t, c2.snapshot(), 1)

	p1, p2 := c1.snapshot()[0], c2.snapshot()[0]
	assert.Equal(t, p1.First.Name, p2.Second.Name)
	assert.Equal(t, p1.Second.Name, p2.First.Name)

	second.Added(newBot("gridgame", "alice", "spring"))
	second.Added(newBot("gridgame", "bob", "spring"))
	settle(t, second, c2, key, 4)
	assert.Len(t, c2.snapshot(), 1)
}
