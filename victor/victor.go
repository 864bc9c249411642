// Package victor はセッションの勝敗を決めます。
//
// 完了、切断、反則の累積、停滞の各条件をそれぞれ別のゴルーチンで監視し、
// 最初に成立したものだけを判定として採用します。残りはキャンセルされます。
package victor

import (
	"context"
	"errors"
	"sync"
	"time"

	"botarena/internal/feed"
	"botarena/internal/game"
)

// Peer は参加者の名前と接続終了の通知です。
type Peer struct {
	Name   string
	Closed <-chan struct{}
}

type Config struct {
	Grace       time.Duration // 切断から敗北確定までの猶予
	StrikeLimit int           // この回数の無効手で負け
	Stall       time.Duration // 0 なら停滞判定なし
}

// Race は判定が出るまで待ちます。ctx が先に終わった場合は false を返します。
// updates は読み取り専用で、自分のカーソルで先頭から読みます。
func Race(ctx context.Context, updates *feed.Feed[game.Update], peers [2]Peer, cfg Config) (game.Verdict, bool) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once    sync.Once
		verdict game.Verdict
		decided = make(chan struct{})
	)
	decide := func(v game.Verdict) {
		once.Do(func() {
			verdict = v
			close(decided)
			cancel()
		})
	}

	var wg sync.WaitGroup
	spawn := func(branch func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			branch()
		}()
	}
	spawn(func() { completion(ctx, updates.Cursor(), peers, decide) })
	spawn(func() { liveness(ctx, peers, cfg.Grace, decide) })
	spawn(func() { strikes(ctx, updates.Cursor(), peers, cfg.StrikeLimit, decide) })
	spawn(func() { stall(ctx, updates.Cursor(), peers, cfg.Stall, decide) })

	select {
	case <-decided:
	case <-ctx.Done():
	}
	cancel()
	wg.Wait()

	select {
	case <-decided:
		return verdict, true
	default:
		return game.Verdict{}, false
	}
}

func winnerName(peers [2]Peer, player int) string {
	if player < 0 || player > 1 {
		return ""
	}
	return peers[player].Name
}

// completion は結果付きの更新が流れてきたらその結果を判定にします。
func completion(ctx context.Context, cur *feed.Cursor[game.Update], peers [2]Peer, decide func(game.Verdict)) {
	for {
		u, err := cur.Next(ctx)
		if err != nil {
			return
		}
		if u.Result != nil {
			decide(game.Verdict{Winner: winnerName(peers, u.Result.Winner), Reason: u.Result.Reason})
			return
		}
	}
}

// liveness は片方の切断を検知し、猶予の間にもう片方も切れたら引き分け、
// そうでなければ相手の勝ちにします。猶予中に完了すれば completion が先に勝ちます。
func liveness(ctx context.Context, peers [2]Peer, grace time.Duration, decide func(game.Verdict)) {
	var gone int
	select {
	case <-peers[0].Closed:
		gone = 0
	case <-peers[1].Closed:
		gone = 1
	case <-ctx.Done():
		return
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-peers[game.Opponent(gone)].Closed:
		decide(game.Verdict{Reason: game.ReasonDisconnect})
	case <-timer.C:
		decide(game.Verdict{Winner: peers[game.Opponent(gone)].Name, Reason: game.ReasonDisconnect})
	case <-ctx.Done():
	}
}

// strikes は参加者ごとの無効手を数えます。
func strikes(ctx context.Context, cur *feed.Cursor[game.Update], peers [2]Peer, limit int, decide func(game.Verdict)) {
	if limit <= 0 {
		return
	}
	var count [2]int
	for {
		u, err := cur.Next(ctx)
		if err != nil {
			return
		}
		if u.Turn == nil || u.Turn.Valid || u.Turn.Player < 0 || u.Turn.Player > 1 {
			continue
		}
		count[u.Turn.Player]++
		if count[u.Turn.Player] >= limit {
			decide(game.Verdict{
				Winner: peers[game.Opponent(u.Turn.Player)].Name,
				Reason: game.ReasonRepeatedInvalidMoves,
			})
			return
		}
	}
}

// stall は手番の参加者が window の間に有効手を打たなければ負けにします。
// 期限は有効手(と最初の更新)を見るたびと、手番の無い状態から手番が始まったときに延長されます。
func stall(ctx context.Context, cur *feed.Cursor[game.Update], peers [2]Peer, window time.Duration, decide func(game.Verdict)) {
	if window <= 0 {
		return
	}
	awaiting := game.NoPlayer
	var deadline time.Time
	started := false

	for {
		next := ctx
		var cancel context.CancelFunc = func() {}
		if started && awaiting != game.NoPlayer {
			next, cancel = context.WithDeadline(ctx, deadline)
		}
		u, err := cur.Next(next)
		cancel()

		switch {
		case err == nil:
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			decide(game.Verdict{Winner: peers[game.Opponent(awaiting)].Name, Reason: game.ReasonTimeout})
			return
		default:
			return
		}

		if u.Terminal() {
			return
		}
		// 誰も待っていない状態から手番が始まった場合も期限を延ばす
		resumed := awaiting == game.NoPlayer && u.Awaiting != game.NoPlayer
		awaiting = u.Awaiting
		if !started || resumed || (u.Turn != nil && u.Turn.Valid) {
			started = true
			deadline = time.Now().Add(window)
		}
	}
}
