package adapter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "arkbot/internal/transport"
)

func TestSplitTelegramText(t *testing.T) {
	t.Parallel()

	t.Run("short text is one chunk", func(t *testing.T) {
		assert.Equal(t, []string{"hello"}, splitTelegramText("hello", 10, ""))
	})

	t.Run("prefers newline boundaries", func(t *testing.T) {
		in := "aaaaaa\nbbbbbb\ncccccc"
		got := splitTelegramText(in, 10, "")
		assert.Equal(t, []string{"aaaaaa", "bbbbbb", "cccccc"}, got)
	})

	t.Run("hard cut without newlines", func(t *testing.T) {
		got := splitTelegramText(strings.Repeat("x", 25), 10, "")
		require.Len(t, got, 3)
		assert.Equal(t, strings.Repeat("x", 5), got[2])
	})

	t.Run("html tags are not cut", func(t *testing.T) {
		got := splitTelegramText("abcdef<b>bold</b>", 8, "HTML")
		require.GreaterOrEqual(t, len(got), 2)
		assert.Equal(t, "abcdef", got[0])
		assert.True(t, strings.HasPrefix(got[1], "<b>"))
	})
}

func TestMarkup(t *testing.T) {
	t.Parallel()
	assert.Nil(t, markup(nil))

	rm := markup([][]kit.Button{{{Text: "Start", Data: "dash:start"}, {Text: "Stop", Data: "dash:stop"}}, {{Text: "Refresh", Data: "dash:refresh"}}})
	require.NotNil(t, rm)
	require.Len(t, rm.InlineKeyboard, 2)
	assert.Equal(t, "dash:stop", rm.InlineKeyboard[0][1].Data)
	assert.Equal(t, "Refresh", rm.InlineKeyboard[1][0].Text)
}
