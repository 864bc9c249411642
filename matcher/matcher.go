// Package matcher は認証済みボットを (gameType, contest) ごとに対戦相手と組み合わせます。
//
// キーごとに1つのゴルーチンが待機列を所有し、added / removed を順番に畳み込むので
// 待機列そのものにロックは要りません。
package matcher

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"botarena/auth"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Key は待機列を区別するキーです。Contest が空なら通常対戦です。
type Key struct {
	GameType string `json:"gameType"`
	Contest  string `json:"contest"`
}

// Pairing は成立した対戦です。First が先手です。
type Pairing struct {
	SessionID string
	Key       Key
	First     *auth.Bot
	Second    *auth.Bot
}

type eventKind int

const (
	added eventKind = iota
	removed
)

type event struct {
	kind eventKind
	bot  *auth.Bot
}

const queueBuffer = 64

type Matcher struct {
	ledger       Ledger
	gamesEachWay int
	onMatch      func(Pairing)
	logger       *zap.Logger

	mu     sync.Mutex
	queues map[Key]*queue
	done   chan struct{}
	closed bool
	wg     sync.WaitGroup
}

// New は Matcher を作ります。onMatch は待機列のゴルーチンから呼ばれるため、
// ブロックせずにすぐ戻る必要があります。
func New(ledger Ledger, gamesEachWay int, onMatch func(Pairing), logger *zap.Logger) *Matcher {
	return &Matcher{
		ledger:       ledger,
		gamesEachWay: gamesEachWay,
		onMatch:      onMatch,
		logger:       logger,
		queues:       make(map[Key]*queue),
		done:         make(chan struct{}),
	}
}

func keyOf(bot *auth.Bot) Key {
	return Key{GameType: bot.GameType, Contest: bot.Contest}
}

// Added は auth.Roster の実装です。
func (m *Matcher) Added(bot *auth.Bot) {
	m.send(keyOf(bot), event{kind: added, bot: bot})
}

// Removed は auth.Roster の実装です。
func (m *Matcher) Removed(bot *auth.Bot) {
	m.send(keyOf(bot), event{kind: removed, bot: bot})
}

func (m *Matcher) send(key Key, ev event) {
	q := m.queue(key)
	if q == nil {
		return
	}
	select {
	case q.events <- ev:
	case <-m.done:
	}
}

func (m *Matcher) queue(key Key) *queue {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	q, ok := m.queues[key]
	if !ok {
		q = &queue{
			key:    key,
			m:      m,
			events: make(chan event, queueBuffer),
			rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
			logger: m.logger.With(zap.String("gameType", key.GameType), zap.String("contest", key.Contest)),
		}
		m.queues[key] = q
		m.wg.Add(1)
		go q.run()
	}
	return q
}

// Stats はキーごとの待機中ボット数を返します。
func (m *Matcher) Stats() map[Key]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Key]int, len(m.queues))
	for key, q := range m.queues {
		out[key] = int(q.size.Load())
	}
	return out
}

// Close は全ての待機列のゴルーチンを止めます。
func (m *Matcher) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.done)
	m.mu.Unlock()
	m.wg.Wait()
}

type queue struct {
	key     Key
	m       *Matcher
	events  chan event
	waiting []*auth.Bot
	played  map[Order]int
	size    atomic.Int64
	rng     *rand.Rand
	logger  *zap.Logger
}

func (q *queue) contest() bool {
	return q.key.Contest != ""
}

func (q *queue) run() {
	defer q.m.wg.Done()

	q.played = make(map[Order]int)
	if q.contest() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		played, err := q.m.ledger.Load(ctx, q.key)
		cancel()
		if err != nil {
			q.logger.Error("Failed to load pairing ledger", zap.Error(err))
		} else {
			q.played = played
		}
	}

	for {
		select {
		case ev := <-q.events:
			switch ev.kind {
			case added:
				q.add(ev.bot)
			case removed:
				q.remove(ev.bot)
			}
			q.size.Store(int64(len(q.waiting)))
		case <-q.m.done:
			return
		}
	}
}

// remainingFirst は a が b に対してあと何回先手を取れるかを返します。
func (q *queue) remainingFirst(a, b string) int {
	return q.m.gamesEachWay - q.played[Order{First: a, Second: b}]
}

func (q *queue) eligible(a, b *auth.Bot) bool {
	if a.Name == b.Name {
		return false
	}
	if !q.contest() {
		return true
	}
	return q.remainingFirst(a.Name, b.Name) > 0 || q.remainingFirst(b.Name, a.Name) > 0
}

func isClosed(bot *auth.Bot) bool {
	select {
	case <-bot.Conn.Closed():
		return true
	default:
		return false
	}
}

func (q *queue) add(bot *auth.Bot) {
	for i := 0; i < len(q.waiting); i++ {
		peer := q.waiting[i]
		// removed が届く前に切れていた相手は飛ばす
		if isClosed(peer) {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			i--
			continue
		}
		if !q.eligible(bot, peer) {
			continue
		}
		q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
		q.size.Store(int64(len(q.waiting)))
		q.start(q.order(peer, bot))
		return
	}
	q.waiting = append(q.waiting, bot)
	q.logger.Info("Bot waiting for opponent", zap.String("name", bot.Name), zap.Int("waiting", len(q.waiting)))
}

func (q *queue) remove(bot *auth.Bot) {
	for i, waiting := range q.waiting {
		if waiting == bot {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			q.logger.Info("Waiting bot left", zap.String("name", bot.Name))
			return
		}
	}
}

// order は先手と後手を決めます。
// 相手に対して先手を使い切った方は後手になり、それ以外は残りの先手回数が
// 少ない方が先手です。同数なら乱数で決めます。
func (q *queue) order(peer, newcomer *auth.Bot) (first, second *auth.Bot) {
	if q.contest() {
		peerLeft := q.remainingFirst(peer.Name, newcomer.Name)
		newcomerLeft := q.remainingFirst(newcomer.Name, peer.Name)
		switch {
		case peerLeft <= 0:
			return newcomer, peer
		case newcomerLeft <= 0:
			return peer, newcomer
		case peerLeft < newcomerLeft:
			return peer, newcomer
		case newcomerLeft < peerLeft:
			return newcomer, peer
		}
	}
	// 同数の場合は乱数で決める。到着順では決めない
	if q.rng.Intn(2) == 0 {
		return peer, newcomer
	}
	return newcomer, peer
}

func (q *queue) start(first, second *auth.Bot) {
	if q.contest() {
		order := Order{First: first.Name, Second: second.Name}
		q.played[order]++
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := q.m.ledger.Incr(ctx, q.key, order); err != nil {
			q.logger.Error("Failed to record pairing", zap.Error(err))
		}
		cancel()
	}

	pairing := Pairing{
		SessionID: uuid.New().String(),
		Key:       q.key,
		First:     first,
		Second:    second,
	}
	q.logger.Info("Pairing made",
		zap.String("sessionID", pairing.SessionID),
		zap.String("first", first.Name),
		zap.String("second", second.Name),
	)
	q.m.onMatch(pairing)
}
