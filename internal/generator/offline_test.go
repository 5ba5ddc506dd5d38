package generator

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/plotweave/api/schemas"
)

func TestOffline(t *testing.T) {
	ctx := context.Background()
	o := NewOffline()

	t.Run("should tidy scenes", func(t *testing.T) {
		scene, err := o.GenerateScene(ctx, "  a   quiet harbour ", nil)
		require.NoError(t, err)
		assert.Equal(t, "A quiet harbour.", scene)

		opening, err := o.GenerateScene(ctx, "a lighthouse", schemas.Document{"idea": "a lighthouse"})
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(opening, "The story begins."))

		_, err = o.GenerateScene(ctx, "   ", nil)
		assert.ErrorIs(t, err, ErrEmptyScene)
	})

	t.Run("should be deterministic", func(t *testing.T) {
		node := &schemas.Node{Scene: "A quiet harbour."}
		action := &schemas.Action{Description: "Board the ship"}
		first, err := o.GenerateNextNode(ctx, node, action, schemas.WorldState{"tension": 2})
		require.NoError(t, err)
		second, err := o.GenerateNextNode(ctx, node, action, schemas.WorldState{"tension": 2})
		require.NoError(t, err)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("drafts differ (-first +second):\n%s", diff)
		}
		assert.Contains(t, first.Scene, "board the ship")
		assert.Contains(t, first.Scene, "Unease")
	})

	t.Run("should propose one continue and one stay", func(t *testing.T) {
		actions, err := o.GenerateActions(ctx, "A quiet harbour.", nil, nil)
		require.NoError(t, err)
		require.Len(t, actions, 2)
		assert.Equal(t, schemas.NavigationContinue, actions[0].Navigation)
		assert.Equal(t, schemas.NavigationStay, actions[1].Navigation)
		assert.NotEmpty(t, actions[1].Response)

		events, err := o.GenerateEvents(ctx, "A quiet harbour.", nil)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Less(t, events[0].Timestamp, events[1].Timestamp)
	})

	t.Run("should honour cancellation", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := o.GenerateResponse(cctx, &schemas.Node{}, &schemas.Action{Description: "Wait"}, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
