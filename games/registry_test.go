package games_test

import (
	"testing"

	"botarena/games"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	r := games.Default()
	assert.Equal(t, []string{"gridgame", "hexgame"}, r.Names())
	assert.True(t, r.Has("gridgame"))
	assert.False(t, r.Has("chess"))

	m, ok := r.New("hexgame")
	require.True(t, ok)
	assert.Equal(t, "hexgame", m.Name())

	_, ok = r.New("chess")
	assert.False(t, ok)
}
