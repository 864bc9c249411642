// Package gateway はボットとの双方向接続を扱います。
// websocket のフレームをJSONメッセージに変換し、接続ごとの順序を保ったまま
// 上流(認証・セッション)へ渡します。
package gateway

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

var ErrClosed = errors.New("connection closed")

// Message は受信した1つのメッセージです。
// JSONとして読めないフレームも捨てずに Malformed を立てて渡し、
// 上流がハンドシェイク失敗や無効手として扱います。
type Message struct {
	Payload    json.RawMessage
	ReceivedAt time.Time
	Malformed  bool
}

func newMessage(data []byte) Message {
	return Message{
		Payload:    json.RawMessage(data),
		ReceivedAt: time.Now(),
		Malformed:  !json.Valid(data),
	}
}

// Conn は1本のボット接続です。
//
// Incoming は閉じられないチャネルで、接続の終了は Closed で検知します。
// Closed は正常終了でもエラーでも一度だけ閉じられ、Err がエラー終了の原因を返します。
// Close は何度呼んでも安全です。
type Conn interface {
	ID() string
	Incoming() <-chan Message
	Closed() <-chan struct{}
	Err() error
	Send(v any) error
	Close() error
}

// inbox は受信側が読んでいない間もメッセージを溜め続けるキューです。
// 読み取りゴルーチンをブロックさせないため、切断の検知が遅れません。
type inbox struct {
	mu    sync.Mutex
	items []Message
	out   chan Message
	wake  chan struct{}
	done  <-chan struct{}
}

func newInbox(done <-chan struct{}) *inbox {
	q := &inbox{
		out:  make(chan Message),
		wake: make(chan struct{}, 1),
		done: done,
	}
	go q.run()
	return q
}

func (q *inbox) push(m Message) {
	q.mu.Lock()
	q.items = append(q.items, m)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *inbox) run() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			select {
			case <-q.wake:
				continue
			case <-q.done:
				return
			}
		}
		m := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		select {
		case q.out <- m:
		case <-q.done:
			return
		}
	}
}
