// Package hexgame は六角形盤面でドローンを動かして陣地を取り合うゲームです。
//
// ボットは {"orders": {"<droneId>": "<direction>"}} で命令を送り、盤面は
// タイマー "tick" ごとに全命令を同時に解決して進みます。
package hexgame

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"botarena/internal/game"
	"botarena/models"
)

const (
	Name    = "hexgame"
	TickKey = "tick"
)

var (
	ErrMalformed    = errors.New("malformed orders")
	ErrNoOrders     = errors.New("no orders")
	ErrUnknownDrone = errors.New("unknown drone")
	ErrNotYourDrone = errors.New("drone belongs to the opponent")
	ErrDroneFixed   = errors.New("drone is fixed")
	ErrBadDirection = errors.New("unknown direction")
	ErrBlocked      = errors.New("destination is not passable")
	ErrUnknownTimer = errors.New("unexpected timer event")
	ErrBadState     = errors.New("unexpected state type")
)

// Config はゲームのパラメータです。
type Config struct {
	Radius         int
	MaxTicks       int
	TickInterval   time.Duration
	SpawnCooldown  int     // ドローンが補充されるまでのティック数
	TargetChance   float64 // ティックごとにターゲットが出現する確率
	TargetDistance int     // ターゲットとドローンの最小距離
	MaxTargets     int
	Seed           int64 // 0ならランダム
}

func DefaultConfig() Config {
	return Config{
		Radius:         5,
		MaxTicks:       200,
		TickInterval:   500 * time.Millisecond,
		SpawnCooldown:  5,
		TargetChance:   0.25,
		TargetDistance: 2,
		MaxTargets:     4,
	}
}

// Drone は1機のドローンです。Fixed のドローンはそのティックの間は命令を受け付けません。
type Drone struct {
	ID    string `json:"id"`
	Owner int    `json:"owner"`
	Pos   Hex    `json:"pos"`
	Fixed bool   `json:"fixed"`
	Order string `json:"order,omitempty"`
}

// State はゲームの状態です。Reducer は必ずコピーしてから変更します。
type State struct {
	Board    Board
	Drones   []Drone
	Players  [2]string
	Spawns   [2]Hex
	Cooldown [2]int
	Scores   [2]int
	Tick     int
	NextID   int
}

func (s State) clone() State {
	next := s
	next.Board = s.Board.Clone()
	next.Drones = append([]Drone(nil), s.Drones...)
	return next
}

func (s State) droneIndex(id string) int {
	for i, d := range s.Drones {
		if d.ID == id {
			return i
		}
	}
	return -1
}

// Orders はボットから送られる命令です。
type Orders struct {
	Orders map[string]string `json:"orders"`
}

// CellView は送信用のマス情報です。空きマスは送りません。
type CellView struct {
	Hex   Hex      `json:"hex"`
	Kind  CellKind `json:"kind"`
	Owner int      `json:"owner"`
}

// View は参加者に送る盤面です。You が -1 のときは記録用です。
type View struct {
	You      int        `json:"you"`
	Players  [2]string  `json:"players"`
	Radius   int        `json:"radius"`
	Tick     int        `json:"tick"`
	MaxTicks int        `json:"maxTicks"`
	Cells    []CellView `json:"cells"`
	Drones   []Drone    `json:"drones"`
	Scores   [2]int     `json:"scores"`
	Finished bool       `json:"finished"`
}

// Ack は命令を受け付けたことを送信者だけに知らせます。
type Ack struct {
	Valid    bool `json:"valid"`
	Accepted int  `json:"accepted"`
	Tick     int  `json:"tick"`
}

type Module struct {
	cfg Config
	rng *rand.Rand
}

func New() game.Module {
	return NewWithConfig(DefaultConfig())
}

func NewWithConfig(cfg Config) *Module {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Module{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

func (m *Module) Name() string { return Name }

// 同時手番なので停滞判定はしない
func (m *Module) Timeouts() game.Timeouts {
	return game.Timeouts{}
}

func (m *Module) InitialUpdate(players [2]string) game.Update {
	state := State{
		Board:   NewBoard(m.cfg.Radius),
		Players: players,
		Spawns:  [2]Hex{{-(m.cfg.Radius - 1), 0}, {m.cfg.Radius - 1, 0}},
	}
	for player, spawn := range state.Spawns {
		state.Board.Cells[spawn] = Cell{Kind: Territory, Owner: player}
		state.spawnDrone(player)
		state.Cooldown[player] = m.cfg.SpawnCooldown
	}
	for i := 0; i < m.cfg.MaxTargets/2; i++ {
		m.spawnTarget(&state)
	}
	return game.Update{
		State:    state,
		Outgoing: m.views(state, false),
		Awaiting: game.NoPlayer,
	}
}

func (m *Module) Reducer(prev game.Update, ev game.Event) (game.Update, error) {
	state, ok := prev.State.(State)
	if !ok {
		return prev, fmt.Errorf("%w: %T", ErrBadState, prev.State)
	}
	switch ev.Kind {
	case game.TurnEvent:
		return m.order(state, ev)
	case game.TimerEvent:
		if ev.Timer != TickKey {
			return prev, ErrUnknownTimer
		}
		return m.tick(state), nil
	}
	return prev, ErrUnknownTimer
}

// order は命令を検証し、全て正しければ次のティックのために記録します。
func (m *Module) order(state State, ev game.Event) (game.Update, error) {
	var orders Orders
	if err := json.Unmarshal(ev.Payload, &orders); err != nil {
		return game.Update{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(orders.Orders) == 0 {
		return game.Update{}, ErrNoOrders
	}

	ids := make([]string, 0, len(orders.Orders))
	for id := range orders.Orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	next := state.clone()
	for _, id := range ids {
		direction := orders.Orders[id]
		i := next.droneIndex(id)
		if i < 0 {
			return game.Update{}, fmt.Errorf("%w: %s", ErrUnknownDrone, id)
		}
		if err := validateOrder(next, ev.Player, next.Drones[i], direction); err != nil {
			return game.Update{}, fmt.Errorf("%s: %w", id, err)
		}
		next.Drones[i].Order = direction
	}

	return game.Update{
		State: next,
		Turn:  &game.Turn{Player: ev.Player, Valid: true, ReceivedAt: ev.ReceivedAt},
		Outgoing: map[int]any{
			ev.Player: Ack{Valid: true, Accepted: len(ids), Tick: next.Tick},
		},
		Awaiting: game.NoPlayer,
	}, nil
}

// validateOrder は1つの命令を検証します。
func validateOrder(state State, player int, drone Drone, direction string) error {
	if drone.Owner != player {
		return ErrNotYourDrone
	}
	if drone.Fixed {
		return ErrDroneFixed
	}
	delta, ok := Directions[direction]
	if !ok {
		return fmt.Errorf("%w: %q", ErrBadDirection, direction)
	}
	if !state.Board.Passable(drone.Pos.Add(delta), player) {
		return ErrBlocked
	}
	return nil
}

// tick は全ドローンの移動を同時に解決して盤面を1つ進めます。
func (m *Module) tick(prev State) game.Update {
	state := prev.clone()

	positions := make([]Hex, len(state.Drones))
	intents := make(map[int]Hex)
	for i, d := range state.Drones {
		positions[i] = d.Pos
		if d.Order == "" {
			continue
		}
		dest := d.Pos.Add(Directions[d.Order])
		// 命令後に陣地が塗り替わっている場合もある
		if state.Board.Passable(dest, d.Owner) {
			intents[i] = dest
		}
	}
	for i, dest := range ResolveMoves(positions, intents) {
		state.Drones[i].Pos = dest
	}

	survivors := state.Drones[:0]
	for _, d := range state.Drones {
		d.Order = ""
		d.Fixed = false
		if cell := state.Board.Cells[d.Pos]; cell.Kind == Target {
			state.capture(d)
			continue
		}
		survivors = append(survivors, d)
	}
	state.Drones = survivors

	if m.rng.Float64() < m.cfg.TargetChance {
		m.spawnTarget(&state)
	}
	for player := range state.Spawns {
		state.Cooldown[player]--
		if state.Cooldown[player] <= 0 && state.spawnDrone(player) {
			state.Cooldown[player] = m.cfg.SpawnCooldown
		}
	}
	state.Tick++

	update := game.Update{State: state, Awaiting: game.NoPlayer}
	if state.Tick >= m.cfg.MaxTicks {
		winner := game.NoPlayer
		switch {
		case state.Scores[0] > state.Scores[1]:
			winner = 0
		case state.Scores[1] > state.Scores[0]:
			winner = 1
		}
		update.Result = &game.Result{Winner: winner, Reason: game.ReasonComplete}
	}
	update.Outgoing = m.views(state, update.Result != nil)
	return update
}

// capture はターゲットに到達したドローンを消費し、周囲を陣地にします。
func (s *State) capture(d Drone) {
	s.Board.Cells[d.Pos] = Cell{Kind: Territory, Owner: d.Owner}
	for _, n := range d.Pos.Neighbors() {
		if cell, ok := s.Board.Cells[n]; ok && cell.Kind == Empty {
			s.Board.Cells[n] = Cell{Kind: Territory, Owner: d.Owner}
		}
	}
	s.Scores[d.Owner]++
}

// spawnDrone は出撃地点が空いていればドローンを1機置きます。
func (s *State) spawnDrone(player int) bool {
	spawn := s.Spawns[player]
	for _, d := range s.Drones {
		if d.Pos == spawn {
			return false
		}
	}
	s.NextID++
	s.Drones = append(s.Drones, Drone{
		ID:    fmt.Sprintf("d%d", s.NextID),
		Owner: player,
		Pos:   spawn,
		Fixed: true,
	})
	return true
}

// spawnTarget はどのドローンからも離れた空きマスにターゲットを置きます。
func (m *Module) spawnTarget(s *State) {
	targets := 0
	var candidates []Hex
	for h, cell := range s.Board.Cells {
		switch cell.Kind {
		case Target:
			targets++
		case Empty:
			if s.farFromDrones(h, m.cfg.TargetDistance) {
				candidates = append(candidates, h)
			}
		}
	}
	if targets >= m.cfg.MaxTargets || len(candidates) == 0 {
		return
	}
	// マップの順序に依存しないよう並べてから選ぶ
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Q != candidates[j].Q {
			return candidates[i].Q < candidates[j].Q
		}
		return candidates[i].R < candidates[j].R
	})
	s.Board.Cells[candidates[m.rng.Intn(len(candidates))]] = Cell{Kind: Target, Owner: game.NoPlayer}
}

func (s *State) farFromDrones(h Hex, distance int) bool {
	for _, d := range s.Drones {
		if d.Pos.Distance(h) < distance {
			return false
		}
	}
	return true
}

// SideEffects はティックのたびに次のティックを予約します。
// 命令による更新では予約済みのティックをそのまま残します。
func (m *Module) SideEffects(u game.Update) []game.Timer {
	if u.Terminal() || u.Turn != nil {
		return nil
	}
	return []game.Timer{{Key: TickKey, After: m.cfg.TickInterval}}
}

func (m *Module) ToRecord(final game.Update, meta game.RecordMeta) *models.SessionRecord {
	state, _ := final.State.(State)
	finalState, _ := json.Marshal(m.view(state, -1, final.Terminal()))
	return &models.SessionRecord{
		SessionID:    meta.SessionID,
		GameType:     Name,
		Contest:      meta.Contest,
		FirstPlayer:  meta.Players[0],
		SecondPlayer: meta.Players[1],
		StartedAt:    meta.StartedAt,
		FirstScore:   state.Scores[0],
		SecondScore:  state.Scores[1],
		FinalState:   string(finalState),
	}
}

func (m *Module) views(state State, finished bool) map[int]any {
	return map[int]any{
		0: m.view(state, 0, finished),
		1: m.view(state, 1, finished),
	}
}

func (m *Module) view(state State, you int, finished bool) View {
	cells := make([]CellView, 0)
	for h, cell := range state.Board.Cells {
		if cell.Kind == Empty {
			continue
		}
		cells = append(cells, CellView{Hex: h, Kind: cell.Kind, Owner: cell.Owner})
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Hex.Q != cells[j].Hex.Q {
			return cells[i].Hex.Q < cells[j].Hex.Q
		}
		return cells[i].Hex.R < cells[j].Hex.R
	})
	return View{
		You:      you,
		Players:  state.Players,
		Radius:   state.Board.Radius,
		Tick:     state.Tick,
		MaxTicks: m.cfg.MaxTicks,
		Cells:    cells,
		Drones:   append([]Drone(nil), state.Drones...),
		Scores:   state.Scores,
		Finished: finished,
	}
}
