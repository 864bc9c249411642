// Package session は組み合わされた2体のボットで1つの対戦を進行させます。
//
// 受信メッセージとタイマーを1つのゴルーチンでレデューサーに通し、結果の更新を
// feed に一度だけ積みます。送信、判定、記録はそれぞれ自分のカーソルで読みます。
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"botarena/gateway"
	"botarena/internal/feed"
	"botarena/internal/game"
	"botarena/matcher"
	"botarena/models"
	"botarena/victor"

	"go.uber.org/zap"
)

var (
	ErrReducerPanic  = errors.New("reducer panicked")
	ErrMalformedTurn = errors.New("message is not valid JSON")
)

// Sink は終了したセッションの保存先です。
type Sink interface {
	SaveSession(ctx context.Context, record *models.SessionRecord) error
}

type Config struct {
	DisconnectGrace time.Duration
	StrikeLimit     int
	SaveTimeout     time.Duration
}

// Participant は対戦の参加者です。index 0 が先手です。
type Participant struct {
	Name string
	Conn gateway.Conn
}

// Session は1つの対戦の入力です。
type Session struct {
	ID        string
	Contest   string
	Module    game.Module
	Players   [2]Participant
	StartedAt time.Time
}

// FromPairing は Matcher の組み合わせからセッションを作ります。
func FromPairing(p matcher.Pairing, module game.Module) Session {
	return Session{
		ID:      p.SessionID,
		Contest: p.Key.Contest,
		Module:  module,
		Players: [2]Participant{
			{Name: p.First.Name, Conn: p.First.Conn},
			{Name: p.Second.Name, Conn: p.Second.Conn},
		},
		StartedAt: time.Now(),
	}
}

type Engine struct {
	sink   Sink
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	active int
}

func NewEngine(sink Sink, cfg Config, logger *zap.Logger) *Engine {
	if cfg.SaveTimeout <= 0 {
		cfg.SaveTimeout = 5 * time.Second
	}
	return &Engine{sink: sink, cfg: cfg, logger: logger}
}

// Active は進行中のセッション数を返します。
func (e *Engine) Active() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *Engine) track(delta int) {
	e.mu.Lock()
	e.active += delta
	e.mu.Unlock()
}

// tally は記録用に手数と無効手を数えます。
type tally struct {
	turns   int
	strikes [2]int
}

func (t *tally) observe(u game.Update) {
	if u.Turn == nil {
		return
	}
	t.turns++
	if !u.Turn.Valid && u.Turn.Player >= 0 && u.Turn.Player <= 1 {
		t.strikes[u.Turn.Player]++
	}
}

// Run は判定が出るまでセッションを進め、記録を保存して両方の接続を閉じます。
// ctx が先に終わった場合は記録せずに接続を閉じ、エラーを返します。
func (e *Engine) Run(ctx context.Context, s Session) (game.Verdict, error) {
	e.track(1)
	defer e.track(-1)

	logger := e.logger.With(
		zap.String("sessionID", s.ID),
		zap.String("gameType", s.Module.Name()),
		zap.String("first", s.Players[0].Name),
		zap.String("second", s.Players[1].Name),
	)
	logger.Info("Session started")

	updates := feed.New[game.Update]()
	names := [2]string{s.Players[0].Name, s.Players[1].Name}

	raceCtx, cancelRace := context.WithCancel(ctx)
	defer cancelRace()
	verdicts := make(chan game.Verdict, 1)
	raceDone := make(chan struct{})
	go func() {
		defer close(raceDone)
		peers := [2]victor.Peer{
			{Name: names[0], Closed: s.Players[0].Conn.Closed()},
			{Name: names[1], Closed: s.Players[1].Conn.Closed()},
		}
		if v, ok := victor.Race(raceCtx, updates, peers, victor.Config{
			Grace:       e.cfg.DisconnectGrace,
			StrikeLimit: e.cfg.StrikeLimit,
			Stall:       s.Module.Timeouts().Stall,
		}); ok {
			verdicts <- v
		}
	}()

	var writers sync.WaitGroup
	for i, p := range s.Players {
		writers.Add(1)
		go func(i int, conn gateway.Conn) {
			defer writers.Done()
			forward(context.Background(), updates.Cursor(), i, conn, logger)
		}(i, p.Conn)
	}

	final, counts, verdict, decided := e.fold(ctx, s, names, updates, verdicts, logger)
	updates.Close()

	if !decided {
		// 終了状態まで畳み込んだので completion の判定を待つ
		select {
		case verdict = <-verdicts:
			decided = true
		case <-ctx.Done():
		}
	}
	cancelRace()
	<-raceDone
	writers.Wait()

	if !decided {
		logger.Warn("Session aborted", zap.Error(ctx.Err()))
		e.closeAll(s)
		return game.Verdict{}, fmt.Errorf("session %s aborted: %w", s.ID, ctx.Err())
	}

	logger.Info("Session finished",
		zap.String("winner", verdict.Winner),
		zap.String("reason", verdict.Reason),
		zap.Int("turns", counts.turns),
	)
	e.save(ctx, s, names, final, counts, verdict, logger)

	for i, p := range s.Players {
		if err := p.Conn.Send(verdictMessage{Verdict: verdict}); err != nil && !errors.Is(err, gateway.ErrClosed) {
			logger.Warn("Failed to send verdict", zap.Int("player", i), zap.Error(err))
		}
	}
	e.closeAll(s)
	return verdict, nil
}

// fold は終了状態の更新を積むか、判定が出るか、ctx が終わるまでイベントを畳み込みます。
// レデューサーはイベント1つにつき一度だけ呼ばれます。
func (e *Engine) fold(
	ctx context.Context,
	s Session,
	names [2]string,
	updates *feed.Feed[game.Update],
	verdicts <-chan game.Verdict,
	logger *zap.Logger,
) (final game.Update, counts tally, verdict game.Verdict, decided bool) {
	timers := newTimerSet()
	defer timers.stop()

	current := s.Module.InitialUpdate(names)
	updates.Append(current)
	if current.Terminal() {
		return current, counts, verdict, false
	}
	timers.schedule(s.Module.SideEffects(current))

	incoming := [2]<-chan gateway.Message{s.Players[0].Conn.Incoming(), s.Players[1].Conn.Incoming()}
	for {
		var (
			ev        game.Event
			malformed bool
		)
		select {
		case msg := <-incoming[0]:
			ev = game.Event{Kind: game.TurnEvent, Player: 0, Payload: msg.Payload, ReceivedAt: msg.ReceivedAt}
			malformed = msg.Malformed
		case msg := <-incoming[1]:
			ev = game.Event{Kind: game.TurnEvent, Player: 1, Payload: msg.Payload, ReceivedAt: msg.ReceivedAt}
			malformed = msg.Malformed
		case f := <-timers.fired:
			if !timers.accept(f) {
				continue
			}
			ev = game.Event{Kind: game.TimerEvent, Player: game.NoPlayer, Timer: f.key, ReceivedAt: time.Now()}
		case verdict = <-verdicts:
			return current, counts, verdict, true
		case <-ctx.Done():
			return current, counts, verdict, false
		}

		next, ok := e.step(s.Module, current, ev, malformed, logger)
		if !ok {
			continue
		}
		current = next
		counts.observe(current)
		updates.Append(current)
		if current.Terminal() {
			return current, counts, verdict, false
		}
		timers.schedule(s.Module.SideEffects(current))
	}
}

// step はイベントを1つ畳み込みます。参加者のイベントでレデューサーが失敗した
// 場合は直前の状態を保ったまま無効手の更新を返します。タイマーの失敗は捨てます。
// JSONとして読めないメッセージはレデューサーに渡さずに無効手にします。
func (e *Engine) step(m game.Module, prev game.Update, ev game.Event, malformed bool, logger *zap.Logger) (game.Update, bool) {
	var (
		next game.Update
		err  error
	)
	if malformed {
		err = ErrMalformedTurn
	} else {
		next, err = reduce(m, prev, ev)
	}
	if err == nil {
		if ev.Kind == game.TurnEvent && next.Turn == nil {
			next.Turn = &game.Turn{Player: ev.Player, Valid: true, ReceivedAt: ev.ReceivedAt}
		}
		return next, true
	}

	if ev.Kind == game.TimerEvent {
		logger.Error("Timer event rejected", zap.String("timer", ev.Timer), zap.Error(err))
		return prev, false
	}
	logger.Info("Invalid turn", zap.Int("player", ev.Player), zap.Error(err))
	return game.Update{
		State:    prev.State,
		Turn:     &game.Turn{Player: ev.Player, Valid: false, Reason: err.Error(), ReceivedAt: ev.ReceivedAt},
		Outgoing: map[int]any{ev.Player: invalidTurn{Valid: false, Reason: err.Error()}},
		Awaiting: prev.Awaiting,
	}, true
}

func reduce(m game.Module, prev game.Update, ev game.Event) (next game.Update, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrReducerPanic, r)
		}
	}()
	return m.Reducer(prev, ev)
}

func (e *Engine) save(ctx context.Context, s Session, names [2]string, final game.Update, counts tally, verdict game.Verdict, logger *zap.Logger) {
	record := s.Module.ToRecord(final, game.RecordMeta{
		SessionID: s.ID,
		Contest:   s.Contest,
		StartedAt: s.StartedAt,
		Players:   names,
	})
	if record == nil {
		record = &models.SessionRecord{}
	}
	record.SessionID = s.ID
	record.GameType = s.Module.Name()
	record.Contest = s.Contest
	record.FirstPlayer = names[0]
	record.SecondPlayer = names[1]
	record.Winner = verdict.Winner
	record.Reason = verdict.Reason
	record.StartedAt = s.StartedAt
	record.FinishedAt = time.Now()
	record.Turns = counts.turns
	record.FirstStrikes = counts.strikes[0]
	record.SecondStrikes = counts.strikes[1]

	// 参加者には再試行できないので保存の失敗は記録するだけ
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SaveTimeout)
	defer cancel()
	if err := e.sink.SaveSession(saveCtx, record); err != nil {
		logger.Error("Failed to save session", zap.Error(err))
	}
}

func (e *Engine) closeAll(s Session) {
	for _, p := range s.Players {
		p.Conn.Close()
	}
}
