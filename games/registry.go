// Package games は gameType からゲームモジュールを引く登録簿です。
package games

import (
	"sort"

	"botarena/games/gridgame"
	"botarena/games/hexgame"
	"botarena/internal/game"
)

// Registry は gameType ごとのモジュール生成関数です。
type Registry map[string]game.Factory

// Default は組み込みのゲームを全て登録した Registry を返します。
func Default() Registry {
	return Registry{
		gridgame.Name: gridgame.New,
		hexgame.Name:  hexgame.New,
	}
}

func (r Registry) Has(gameType string) bool {
	_, ok := r[gameType]
	return ok
}

// New はセッション用に新しいモジュールを作ります。未登録なら false を返します。
func (r Registry) New(gameType string) (game.Module, bool) {
	factory, ok := r[gameType]
	if !ok {
		return nil, false
	}
	return factory(), true
}

func (r Registry) Names() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
