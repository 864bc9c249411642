package session

import (
	"time"

	"botarena/internal/game"
)

type firing struct {
	key string
	gen uint64
}

// timerSet は SideEffects が予約したタイマーをキーごとに1つだけ保持します。
// 同じキーで再予約すると古いタイマーは止まり、止めきれずに発火した分は
// 世代番号で捨てられます。
type timerSet struct {
	fired   chan firing
	done    chan struct{}
	pending map[string]*time.Timer
	gens    map[string]uint64
	seq     uint64
}

func newTimerSet() *timerSet {
	return &timerSet{
		fired:   make(chan firing, 16),
		done:    make(chan struct{}),
		pending: make(map[string]*time.Timer),
		gens:    make(map[string]uint64),
	}
}

func (s *timerSet) schedule(timers []game.Timer) {
	for _, t := range timers {
		if old, ok := s.pending[t.Key]; ok {
			old.Stop()
		}
		s.seq++
		f := firing{key: t.Key, gen: s.seq}
		s.gens[t.Key] = f.gen
		s.pending[t.Key] = time.AfterFunc(t.After, func() {
			select {
			case s.fired <- f:
			case <-s.done:
			}
		})
	}
}

// accept は発火が最新の予約によるものなら true を返し、その予約を消します。
func (s *timerSet) accept(f firing) bool {
	if s.gens[f.key] != f.gen {
		return false
	}
	delete(s.gens, f.key)
	delete(s.pending, f.key)
	return true
}

func (s *timerSet) stop() {
	for _, t := range s.pending {
		t.Stop()
	}
	close(s.done)
}
