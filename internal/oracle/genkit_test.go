package oracle

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tavern/pkg/game"
)

func TestOfflineNarrator(t *testing.T) {
	ctx := context.Background()
	_, model := RegisterOfflineNarrator(ctx)
	require.NotNil(t, model)

	o := NewGenkitOracle(model)
	session, err := o.CreateSession(ctx, game.DefaultCharacter(), "")
	require.NoError(t, err)

	t.Run("plain narration", func(t *testing.T) {
		resp, err := session.Send(ctx, Input{Text: "I order an ale"})
		require.NoError(t, err)
		assert.Contains(t, resp.Text, "I order an ale")
		assert.Empty(t, resp.ToolCalls)
	})

	t.Run("search requests a roll", func(t *testing.T) {
		resp, err := session.Send(ctx, Input{Text: "I search the room"})
		require.NoError(t, err)
		require.Len(t, resp.ToolCalls, 1)
		call := resp.ToolCalls[0]
		assert.Equal(t, ToolRequestRoll, call.Name)
		assert.Equal(t, "wisdom", call.Args["ability"])
		assert.NotEmpty(t, call.ID)

		resp, err = session.Send(ctx, Input{Results: []ToolResult{{ID: call.ID, Name: call.Name, Result: "Player rolled: 15"}}})
		require.NoError(t, err)
		assert.Contains(t, resp.Text, "Player rolled: 15")
	})
}

func TestGenkitOracleWithoutModel(t *testing.T) {
	_, err := NewGenkitOracle(nil).ResumeSession(context.Background(), game.DefaultCharacter(), nil, "")
	assert.ErrorIs(t, err, ErrNotConfigured)
}
