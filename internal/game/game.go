// Package game はゲームモジュールとセッションエンジンの間の契約を定義します。
package game

import (
	"encoding/json"
	"time"

	"botarena/models"
)

// 勝敗の理由
const (
	ReasonComplete             = "complete"
	ReasonTimeout              = "timeout"
	ReasonDisconnect           = "disconnect"
	ReasonRepeatedInvalidMoves = "repeated-invalid-moves"
)

// NoPlayer は手番の参加者がいない(同時手番や終了後)ことを表します。
const NoPlayer = -1

// EventKind はレデューサーに渡すイベントの種類です。
type EventKind int

const (
	TurnEvent  EventKind = iota // 参加者からのメッセージ
	TimerEvent                  // SideEffects が予約したタイマー
)

// Event はレデューサーへの1入力です。
type Event struct {
	Kind       EventKind
	Player     int // TurnEvent の送信者 (0 または 1)
	Payload    json.RawMessage
	ReceivedAt time.Time
	Timer      string // TimerEvent のキー
}

// Turn は参加者のイベントを畳み込んだ結果のメタデータです。
type Turn struct {
	Player     int
	Valid      bool
	Reason     string // 無効だった理由
	ReceivedAt time.Time
}

// Result はゲームの終了結果です。Winner が NoPlayer なら引き分けです。
type Result struct {
	Winner int
	Reason string
}

// Verdict はセッションの最終判定です。Winner が空なら勝者無しです。
type Verdict struct {
	Winner string
	Reason string
}

// MarshalJSON は勝者無しを null として書き出します。
func (v Verdict) MarshalJSON() ([]byte, error) {
	var winner *string
	if v.Winner != "" {
		winner = &v.Winner
	}
	return json.Marshal(struct {
		Winner *string `json:"winner"`
		Reason string  `json:"reason"`
	}{winner, v.Reason})
}

// Update はイベントを1つ畳み込んだ後のスナップショットです。
type Update struct {
	State    any
	Turn     *Turn       // タイマー由来なら nil
	Outgoing map[int]any // 参加者ごとの送信内容
	Result   *Result
	Awaiting int // 次に手を打つべき参加者。NoPlayer なら停滞判定なし
}

// Terminal は結果が確定していれば true を返します。
func (u Update) Terminal() bool {
	return u.Result != nil
}

// Timer は SideEffects が予約する遅延イベントです。
// 同じ Key のタイマーが既にあれば置き換えます。
type Timer struct {
	Key   string
	After time.Duration
}

// Timeouts はゲームごとの時間設定です。Stall が0なら停滞判定をしません。
type Timeouts struct {
	Stall time.Duration
}

// RecordMeta は ToRecord に渡すセッション情報です。
type RecordMeta struct {
	SessionID string
	Contest   string
	StartedAt time.Time
	Players   [2]string
}

// Module は1種類のゲームのルールです。
//
// Reducer は不純でもよく(乱数など)、セッションエンジンはイベント1つにつき
// 一度だけ呼び出します。エラーを返した場合、そのイベントは無効手として扱われ
// 直前の状態が維持されます。
type Module interface {
	Name() string
	Timeouts() Timeouts
	InitialUpdate(players [2]string) Update
	Reducer(prev Update, ev Event) (Update, error)
	SideEffects(u Update) []Timer
	ToRecord(final Update, meta RecordMeta) *models.SessionRecord
}

// Factory はセッションごとに新しいモジュールを作ります。
type Factory func() Module

// Opponent は相手の参加者番号を返します。
func Opponent(player int) int {
	return 1 - player
}
