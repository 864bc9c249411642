package hexgame

import (
	"encoding/json"
	"fmt"
)

// Hex は軸座標 (q, r) のマスです。
type Hex struct {
	Q, R int
}

func (h Hex) Add(o Hex) Hex {
	return Hex{h.Q + o.Q, h.R + o.R}
}

// Distance は2マス間の歩数です。
func (h Hex) Distance(o Hex) int {
	dq, dr := h.Q-o.Q, h.R-o.R
	return (abs(dq) + abs(dr) + abs(dq+dr)) / 2
}

func (h Hex) Neighbors() []Hex {
	out := make([]Hex, 0, len(directionOrder))
	for _, name := range directionOrder {
		out = append(out, h.Add(Directions[name]))
	}
	return out
}

func (h Hex) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{h.Q, h.R})
}

func (h *Hex) UnmarshalJSON(data []byte) error {
	var pair [2]int
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	h.Q, h.R = pair[0], pair[1]
	return nil
}

func (h Hex) String() string {
	return fmt.Sprintf("(%d,%d)", h.Q, h.R)
}

// Directions は6方向の移動量です。
var Directions = map[string]Hex{
	"e":  {1, 0},
	"w":  {-1, 0},
	"ne": {1, -1},
	"nw": {0, -1},
	"se": {0, 1},
	"sw": {-1, 1},
}

var directionOrder = []string{"e", "ne", "nw", "w", "sw", "se"}

// CellKind はマスの種類です。
type CellKind string

const (
	Empty     CellKind = "empty"
	Target    CellKind = "target"
	Territory CellKind = "territory"
)

// Cell は盤面の1マスです。Owner は Territory のときだけ意味を持ちます。
type Cell struct {
	Kind  CellKind
	Owner int
}

// Board は半径 Radius の六角形盤面です。
type Board struct {
	Radius int
	Cells  map[Hex]Cell
}

func NewBoard(radius int) Board {
	cells := make(map[Hex]Cell)
	for q := -radius; q <= radius; q++ {
		for r := max(-radius, -q-radius); r <= min(radius, -q+radius); r++ {
			cells[Hex{q, r}] = Cell{Kind: Empty, Owner: -1}
		}
	}
	return Board{Radius: radius, Cells: cells}
}

func (b Board) Contains(h Hex) bool {
	_, ok := b.Cells[h]
	return ok
}

// Clone はマップをコピーした盤面を返します。
func (b Board) Clone() Board {
	cells := make(map[Hex]Cell, len(b.Cells))
	for h, c := range b.Cells {
		cells[h] = c
	}
	return Board{Radius: b.Radius, Cells: cells}
}

// Passable は player のドローンが h に入れるかを返します。
// 空きマス、ターゲット、自分の陣地だけが通行可能です。
func (b Board) Passable(h Hex, player int) bool {
	cell, ok := b.Cells[h]
	if !ok {
		return false
	}
	switch cell.Kind {
	case Empty, Target:
		return true
	case Territory:
		return cell.Owner == player
	}
	return false
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
