// Package gridgame は3x3の三目並べ(gridgame)のルールです。
package gridgame

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"botarena/internal/game"
	"botarena/models"
)

const (
	Name = "gridgame"
	Size = 3

	stallTimeout = 3 * time.Second
)

var (
	ErrNotYourTurn  = errors.New("not your turn")
	ErrWrongMark    = errors.New("wrong mark")
	ErrOutOfRange   = errors.New("space out of range")
	ErrOccupied     = errors.New("space is already marked")
	ErrMalformed    = errors.New("malformed move")
	ErrUnknownTimer = errors.New("unexpected timer event")
)

// Board は [行][列] の盤面です。空のマスは "" です。
type Board [Size][Size]string

// State はゲームの状態です。値として扱い、手ごとにコピーします。
type State struct {
	Board   Board
	Players [2]string
	Marks   [2]string
	Current int // 手番の参加者
	Moves   int
}

// Move はボットから送られる1手です。
type Move struct {
	Mark  string `json:"mark"`
	Space []int  `json:"space"`
}

// View は参加者ごとに送る内容です。
type View struct {
	Board    Board   `json:"board"`
	Mark     string  `json:"mark"`
	Opponent string  `json:"opponent"`
	YourTurn bool    `json:"yourTurn"`
	Valid    bool    `json:"valid"`
	LastMove *[2]int `json:"lastMove,omitempty"`
	Winner   *string `json:"winner,omitempty"`
	Finished bool    `json:"finished"`
}

type Module struct{}

func New() game.Module {
	return Module{}
}

func (Module) Name() string { return Name }

func (Module) Timeouts() game.Timeouts {
	return game.Timeouts{Stall: stallTimeout}
}

// InitialUpdate は先手(players[0])に "X"、後手に "O" を割り当てます。
func (Module) InitialUpdate(players [2]string) game.Update {
	state := State{
		Players: players,
		Marks:   [2]string{"X", "O"},
		Current: 0,
	}
	return game.Update{
		State:    state,
		Outgoing: views(state, nil, nil),
		Awaiting: state.Current,
	}
}

func (Module) Reducer(prev game.Update, ev game.Event) (game.Update, error) {
	if ev.Kind != game.TurnEvent {
		return prev, ErrUnknownTimer
	}
	state, ok := prev.State.(State)
	if !ok {
		return prev, fmt.Errorf("unexpected state %T", prev.State)
	}

	var move Move
	if err := json.Unmarshal(ev.Payload, &move); err != nil {
		return prev, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(move.Space) != 2 {
		return prev, ErrMalformed
	}
	row, col := move.Space[0], move.Space[1]

	// クライアントが手番の参加者か確認
	if ev.Player != state.Current {
		return prev, ErrNotYourTurn
	}
	if move.Mark != state.Marks[ev.Player] {
		return prev, ErrWrongMark
	}
	if row < 0 || col < 0 || row >= Size || col >= Size {
		return prev, ErrOutOfRange
	}
	// 選択されたセルが空かどうかチェック
	if state.Board[row][col] != "" {
		return prev, ErrOccupied
	}

	next := state
	next.Board[row][col] = move.Mark
	next.Moves++

	update := game.Update{
		State:    next,
		Turn:     &game.Turn{Player: ev.Player, Valid: true, ReceivedAt: ev.ReceivedAt},
		Awaiting: game.NoPlayer,
	}
	switch {
	case checkWin(next.Board, move.Mark):
		update.Result = &game.Result{Winner: ev.Player, Reason: game.ReasonComplete}
	case isBoardFull(next.Board):
		// 引き分け
		update.Result = &game.Result{Winner: game.NoPlayer, Reason: game.ReasonComplete}
	default:
		next.Current = game.Opponent(ev.Player)
		update.State = next
		update.Awaiting = next.Current
	}
	update.Outgoing = views(next, &[2]int{row, col}, update.Result)
	return update, nil
}

// 三目並べは時間経過で進まない
func (Module) SideEffects(game.Update) []game.Timer {
	return nil
}

func (Module) ToRecord(final game.Update, meta game.RecordMeta) *models.SessionRecord {
	state, _ := final.State.(State)
	finalState, _ := json.Marshal(state.Board)
	return &models.SessionRecord{
		SessionID:    meta.SessionID,
		GameType:     Name,
		Contest:      meta.Contest,
		FirstPlayer:  meta.Players[0],
		SecondPlayer: meta.Players[1],
		StartedAt:    meta.StartedAt,
		FinalState:   string(finalState),
	}
}

func views(state State, lastMove *[2]int, result *game.Result) map[int]any {
	out := make(map[int]any, 2)
	for player := 0; player < 2; player++ {
		view := View{
			Board:    state.Board,
			Mark:     state.Marks[player],
			Opponent: state.Players[game.Opponent(player)],
			YourTurn: result == nil && state.Current == player,
			Valid:    true,
			LastMove: lastMove,
			Finished: result != nil,
		}
		if result != nil && result.Winner != game.NoPlayer {
			winner := state.Players[result.Winner]
			view.Winner = &winner
		}
		out[player] = view
	}
	return out
}

// 横・縦・斜めのいずれかが揃っているか
func checkWin(board Board, symbol string) bool {
	for i := 0; i < Size; i++ {
		row, col := true, true
		for j := 0; j < Size; j++ {
			row = row && board[i][j] == symbol
			col = col && board[j][i] == symbol
		}
		if row || col {
			return true
		}
	}
	diag, anti := true, true
	for i := 0; i < Size; i++ {
		diag = diag && board[i][i] == symbol
		anti = anti && board[i][Size-1-i] == symbol
	}
	return diag || anti
}

func isBoardFull(board Board) bool {
	for _, row := range board {
		for _, cell := range row {
			if cell == "" {
				return false
			}
		}
	}
	return true
}
