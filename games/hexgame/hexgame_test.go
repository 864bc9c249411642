package hexgame_test

import (
	"encoding/json"
	"testing"
	"time"

	"botarena/games/hexgame"
	"botarena/internal/game"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 乱数の影響を受けない設定
func quietConfig() hexgame.Config {
	cfg := hexgame.DefaultConfig()
	cfg.Seed = 7
	cfg.TargetChance = 0
	cfg.MaxTargets = 0
	cfg.SpawnCooldown = 1000
	return cfg
}

func orders(t *testing.T, player int, o map[string]string) game.Event {
	t.Helper()
	payload, err := json.Marshal(hexgame.Orders{Orders: o})
	require.NoError(t, err)
	return game.Event{Kind: game.TurnEvent, Player: player, Payload: payload, ReceivedAt: time.Now()}
}

func tick() game.Event {
	return game.Event{Kind: game.TimerEvent, Timer: hexgame.TickKey}
}

func stateWith(drones ...hexgame.Drone) game.Update {
	board := hexgame.NewBoard(3)
	return game.Update{
		State: hexgame.State{
			Board:    board,
			Drones:   drones,
			Players:  [2]string{"alice", "bob"},
			Spawns:   [2]hexgame.Hex{h(-2, 0), h(2, 0)},
			Cooldown: [2]int{1000, 1000},
		},
		Awaiting: game.NoPlayer,
	}
}

func TestInitialUpdate(t *testing.T) {
	cfg := hexgame.DefaultConfig()
	cfg.Seed = 1
	m := hexgame.NewWithConfig(cfg)
	u := m.InitialUpdate([2]string{"alice", "bob"})

	state := u.State.(hexgame.State)
	require.Len(t, state.Drones, 2)
	assert.Equal(t, 0, state.Drones[0].Owner)
	assert.Equal(t, 1, state.Drones[1].Owner)
	assert.Equal(t, hexgame.Territory, state.Board.Cells[state.Spawns[0]].Kind)
	assert.Equal(t, game.NoPlayer, u.Awaiting)
	assert.Len(t, u.Outgoing, 2)
	assert.Zero(t, m.Timeouts().Stall)

	timers := m.SideEffects(u)
	require.Len(t, timers, 1)
	assert.Equal(t, hexgame.TickKey, timers[0].Key)
	assert.Equal(t, cfg.TickInterval, timers[0].After)
}

func TestOrderValidation(t *testing.T) {
	m := hexgame.NewWithConfig(quietConfig())
	base := stateWith(
		hexgame.Drone{ID: "a", Owner: 0, Pos: h(0, 0)},
		hexgame.Drone{ID: "b", Owner: 1, Pos: h(1, -1)},
		hexgame.Drone{ID: "f", Owner: 0, Pos: h(-1, 0), Fixed: true},
		hexgame.Drone{ID: "edge", Owner: 0, Pos: h(3, 0)},
	)
	state := base.State.(hexgame.State)
	state.Board.Cells[h(0, 1)] = hexgame.Cell{Kind: hexgame.Territory, Owner: 1}
	state.Board.Cells[h(-1, 1)] = hexgame.Cell{Kind: hexgame.Territory, Owner: 0}
	state.Board.Cells[h(1, 0)] = hexgame.Cell{Kind: hexgame.Target, Owner: game.NoPlayer}
	base.State = state

	tests := []struct {
		name    string
		event   game.Event
		wantErr error
	}{
		{"opponent drone", orders(t, 0, map[string]string{"b": "e"}), hexgame.ErrNotYourDrone},
		{"unknown drone", orders(t, 0, map[string]string{"zz": "e"}), hexgame.ErrUnknownDrone},
		{"fixed drone", orders(t, 0, map[string]string{"f": "e"}), hexgame.ErrDroneFixed},
		{"bad direction", orders(t, 0, map[string]string{"a": "up"}), hexgame.ErrBadDirection},
		{"opponent territory", orders(t, 0, map[string]string{"a": "se"}), hexgame.ErrBlocked},
		{"off the board", orders(t, 0, map[string]string{"edge": "e"}), hexgame.ErrBlocked},
		{"one bad order spoils the message", orders(t, 0, map[string]string{"a": "e", "b": "w"}), hexgame.ErrNotYourDrone},
		{"empty", orders(t, 0, map[string]string{}), hexgame.ErrNoOrders},
		{"malformed", game.Event{Kind: game.TurnEvent, Payload: json.RawMessage(`[1,2]`)}, hexgame.ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Reducer(base, tt.event)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("target, own territory and empty hexes are accepted", func(t *testing.T) {
		for _, dir := range []string{"e", "sw", "w"} {
			u, err := m.Reducer(base, orders(t, 0, map[string]string{"a": dir}))
			require.NoError(t, err, dir)
			require.NotNil(t, u.Turn)
			assert.True(t, u.Turn.Valid)
			assert.Contains(t, u.Outgoing, 0)
			assert.NotContains(t, u.Outgoing, 1)
			assert.Nil(t, m.SideEffects(u))
		}
	})
}

func TestTick_MovesAndCaptures(t *testing.T) {
	m := hexgame.NewWithConfig(quietConfig())
	u := stateWith(
		hexgame.Drone{ID: "a", Owner: 0, Pos: h(0, 0)},
		hexgame.Drone{ID: "b", Owner: 1, Pos: h(0, -2)},
	)
	state := u.State.(hexgame.State)
	state.Board.Cells[h(1, 0)] = hexgame.Cell{Kind: hexgame.Target, Owner: game.NoPlayer}
	u.State = state

	u, err := m.Reducer(u, orders(t, 0, map[string]string{"a": "e"}))
	require.NoError(t, err)
	u, err = m.Reducer(u, orders(t, 1, map[string]string{"b": "se"}))
	require.NoError(t, err)
	u, err = m.Reducer(u, tick())
	require.NoError(t, err)

	next := u.State.(hexgame.State)
	assert.Equal(t, 1, next.Tick)
	assert.Equal(t, [2]int{1, 0}, next.Scores)
	// a はターゲットで消費され、b だけが残る
	require.Len(t, next.Drones, 1)
	assert.Equal(t, "b", next.Drones[0].ID)
	assert.Equal(t, h(0, -1), next.Drones[0].Pos)
	assert.Empty(t, next.Drones[0].Order)

	assert.Equal(t, hexgame.Cell{Kind: hexgame.Territory, Owner: 0}, next.Board.Cells[h(1, 0)])
	for _, n := range h(1, 0).Neighbors() {
		cell, ok := next.Board.Cells[n]
		if !ok || n == h(0, -1) {
			continue
		}
		assert.Equal(t, hexgame.Territory, cell.Kind, "neighbor %v", n)
	}
	assert.Len(t, u.Outgoing, 2)
	require.Len(t, m.SideEffects(u), 1)

	// 元の状態は変更されない
	assert.Equal(t, hexgame.Target, state.Board.Cells[h(1, 0)].Kind)
}

func TestTick_SwapIsBlocked(t *testing.T) {
	m := hexgame.NewWithConfig(quietConfig())
	u := stateWith(
		hexgame.Drone{ID: "a", Owner: 0, Pos: h(0, 0)},
		hexgame.Drone{ID: "b", Owner: 1, Pos: h(1, 0)},
	)
	u, err := m.Reducer(u, orders(t, 0, map[string]string{"a": "e"}))
	require.NoError(t, err)
	u, err = m.Reducer(u, orders(t, 1, map[string]string{"b": "w"}))
	require.NoError(t, err)
	u, err = m.Reducer(u, tick())
	require.NoError(t, err)

	next := u.State.(hexgame.State)
	assert.Equal(t, h(0, 0), next.Drones[0].Pos)
	assert.Equal(t, h(1, 0), next.Drones[1].Pos)
}

func TestTick_SpawnsAfterCooldown(t *testing.T) {
	cfg := quietConfig()
	cfg.SpawnCooldown = 2
	m := hexgame.NewWithConfig(cfg)
	u := stateWith()
	state := u.State.(hexgame.State)
	state.Cooldown = [2]int{2, 2}
	u.State = state

	u, err := m.Reducer(u, tick())
	require.NoError(t, err)
	assert.Empty(t, u.State.(hexgame.State).Drones)

	u, err = m.Reducer(u, tick())
	require.NoError(t, err)
	drones := u.State.(hexgame.State).Drones
	require.Len(t, drones, 2)
	for _, d := range drones {
		assert.True(t, d.Fixed)
	}

	_, err = m.Reducer(u, orders(t, 0, map[string]string{drones[0].ID: "e"}))
	assert.ErrorIs(t, err, hexgame.ErrDroneFixed)
}

func TestTick_EndsAfterMaxTicks(t *testing.T) {
	cfg := quietConfig()
	cfg.MaxTicks = 3
	m := hexgame.NewWithConfig(cfg)
	u := stateWith()
	state := u.State.(hexgame.State)
	state.Scores = [2]int{1, 2}
	u.State = state

	var err error
	for i := 0; i < 3; i++ {
		require.Nil(t, u.Result)
		u, err = m.Reducer(u, tick())
		require.NoError(t, err)
	}
	require.NotNil(t, u.Result)
	assert.Equal(t, 1, u.Result.Winner)
	assert.Equal(t, game.ReasonComplete, u.Result.Reason)
	assert.Nil(t, m.SideEffects(u))

	record := m.ToRecord(u, game.RecordMeta{SessionID: "s", Players: [2]string{"alice", "bob"}})
	assert.Equal(t, hexgame.Name, record.GameType)
	assert.Equal(t, 1, record.FirstScore)
	assert.Equal(t, 2, record.SecondScore)
	assert.Contains(t, record.FinalState, `"finished":true`)
}

func TestTargetsSpawnAwayFromDrones(t *testing.T) {
	cfg := quietConfig()
	cfg.TargetChance = 1
	cfg.MaxTargets = 50
	m := hexgame.NewWithConfig(cfg)
	u := stateWith(hexgame.Drone{ID: "a", Owner: 0, Pos: h(0, 0)})

	var err error
	for i := 0; i < 10; i++ {
		u, err = m.Reducer(u, tick())
		require.NoError(t, err)
	}
	state := u.State.(hexgame.State)
	targets := 0
	for hex, cell := range state.Board.Cells {
		if cell.Kind == hexgame.Target {
			targets++
			assert.GreaterOrEqual(t, hex.Distance(h(0, 0)), cfg.TargetDistance)
		}
	}
	assert.Equal(t, 10, targets)
}

func TestUnknownTimer(t *testing.T) {
	m := hexgame.NewWithConfig(quietConfig())
	_, err := m.Reducer(stateWith(), game.Event{Kind: game.TimerEvent, Timer: "other"})
	assert.ErrorIs(t, err, hexgame.ErrUnknownTimer)
}
