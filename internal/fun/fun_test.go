package fun

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTablePick(t *testing.T) {
	assert := assert.New(t)
	table := NewTable(map[string][]string{
		"CoinFlip": {"Heads", "Tails"},
		"bonk":     {"{user} got bonked"},
		"empty":    {"", "  "},
	})
	table.WithRand(func(n int) int { return n - 1 })

	assert.Equal([]string{"bonk", "coinflip"}, table.Names())

	reply, ok := table.Pick("coinflip", "<@1>")
	assert.True(ok)
	assert.Equal("Tails", reply)

	reply, ok = table.Pick("BONK", "<@1>")
	assert.True(ok)
	assert.Equal("<@1> got bonked", reply)

	_, ok = table.Pick("empty", "<@1>")
	assert.False(ok)
	_, ok = table.Pick("missing", "<@1>")
	assert.False(ok)
}
