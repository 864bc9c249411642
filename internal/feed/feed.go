// Package feed は追記専用の履歴を複数の読み手に配る share-replay ストリームです。
//
// 書き手は1つで、値は一度だけ計算されて履歴に積まれます。読み手はそれぞれ
// Cursor を持ち、途中から購読しても最初の値から順に受け取ります。
package feed

import (
	"context"
	"errors"
	"sync"
)

// ErrDone は Close 後に全ての値を読み終えたことを表します。
var ErrDone = errors.New("feed: done")

type Feed[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	// 追記や Close のたびに閉じて作り直す通知チャネル
	notify chan struct{}
}

func New[T any]() *Feed[T] {
	return &Feed[T]{notify: make(chan struct{})}
}

// Append は値を履歴の末尾に追加します。Close 後の追加は無視されます。
func (f *Feed[T]) Append(v T) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.items = append(f.items, v)
	close(f.notify)
	f.notify = make(chan struct{})
}

// Close はこれ以上追加が無いことを知らせます。何度呼んでも安全です。
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.notify)
}

func (f *Feed[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

// Cursor は履歴の先頭から読む新しい読み手を返します。
func (f *Feed[T]) Cursor() *Cursor[T] {
	return &Cursor[T]{feed: f}
}

// Cursor は1つの読み手の読み取り位置です。複数のゴルーチンから共有しないでください。
type Cursor[T any] struct {
	feed *Feed[T]
	next int
}

// Next は次の値を返します。まだ無ければ追加されるか ctx が終わるまで待ちます。
// Close 済みで読み切った場合は ErrDone を返します。
func (c *Cursor[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		c.feed.mu.Lock()
		if c.next < len(c.feed.items) {
			v := c.feed.items[c.next]
			c.next++
			c.feed.mu.Unlock()
			return v, nil
		}
		if c.feed.closed {
			c.feed.mu.Unlock()
			return zero, ErrDone
		}
		notify := c.feed.notify
		c.feed.mu.Unlock()

		select {
		case <-notify:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}
