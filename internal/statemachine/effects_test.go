package statemachine

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/narrative"
)

func action(nav schemas.Navigation, effects schemas.Document) *schemas.Action {
	return narrative.ActionFromDraft(&schemas.ActionDraft{Description: "act", Navigation: nav, Effects: effects})
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name    string
		state   schemas.WorldState
		effects schemas.Document
		want    schemas.WorldState
	}{
		{
			name:    "should add numeric tension",
			state:   schemas.WorldState{"tension": 2},
			effects: schemas.Document{"tension": 1},
			want:    schemas.WorldState{"tension": 3},
		},
		{
			name:    "should start missing tension at zero",
			state:   schemas.WorldState{},
			effects: schemas.Document{"tension": 1.5},
			want:    schemas.WorldState{"tension": 1.5},
		},
		{
			name:    "should overwrite tension with a non-numeric value",
			state:   schemas.WorldState{"tension": 2},
			effects: schemas.Document{"tension": "unbearable"},
			want:    schemas.WorldState{"tension": "unbearable"},
		},
		{
			name:    "should prefer world_state_changes over the effects map",
			state:   schemas.WorldState{"gold": 1},
			effects: schemas.Document{"world_state_changes": schemas.Document{"gold": 5}, "ignored": true},
			want:    schemas.WorldState{"gold": 5},
		},
		{
			name:  "should apply operators",
			state: schemas.WorldState{"gold": 3, "curse": true, "items": []any{"rope"}, "name": "Ann"},
			effects: schemas.Document{
				"gold":  schemas.Document{"$inc": -2},
				"curse": schemas.Document{"$unset": true},
				"items": schemas.Document{"$append": "lamp"},
				"name":  schemas.Document{"$set": schemas.Document{"first": "Ann"}},
				"flags": schemas.Document{"$append": "met_guard"},
			},
			want: schemas.WorldState{
				"gold":  1,
				"items": []any{"rope", "lamp"},
				"name":  schemas.Document{"first": "Ann"},
				"flags": []any{"met_guard"},
			},
		},
		{
			name:  "should merge nested maps recursively",
			state: schemas.WorldState{"npc": schemas.Document{"guard": schemas.Document{"mood": "calm", "trust": 1}}},
			effects: schemas.Document{
				"npc": schemas.Document{"guard": schemas.Document{"trust": schemas.Document{"$inc": 2}}, "cook": schemas.Document{"mood": "busy"}},
			},
			want: schemas.WorldState{"npc": schemas.Document{
				"guard": schemas.Document{"mood": "calm", "trust": 3},
				"cook":  schemas.Document{"mood": "busy"},
			}},
		},
		{
			name:    "should overwrite a scalar with a map",
			state:   schemas.WorldState{"weather": "rain"},
			effects: schemas.Document{"weather": schemas.Document{"kind": "storm"}},
			want:    schemas.WorldState{"weather": schemas.Document{"kind": "storm"}},
		},
		{
			name:    "should only log a string delta",
			state:   schemas.WorldState{"tension": 1},
			effects: schemas.Document{"world_state_changes": "the candle flickers"},
			want:    schemas.WorldState{"tension": 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.state.Clone()
			got := Merge(tt.state, action(schemas.NavigationStay, tt.effects))
			assert.Equal(t, before, tt.state, "input state must not change")

			hist, ok := got[schemas.StateActionHistory].([]any)
			require.True(t, ok)
			require.Len(t, hist, 1)
			delete(got, schemas.StateActionHistory)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("should append a typed history entry", func(t *testing.T) {
		state := schemas.WorldState{"action_history": []any{schemas.Document{"type": "stay_action"}}}
		got := Merge(state, action(schemas.NavigationContinue, schemas.Document{"world_state_changes": "door opens"}))
		hist := got[schemas.StateActionHistory].([]any)
		require.Len(t, hist, 2)
		assert.Equal(t, schemas.Document{"type": "continue_action", "action": "act", "effects": "door opens"}, hist[1])
		assert.Len(t, state[schemas.StateActionHistory], 1)
	})

	t.Run("should add json numbers as integers", func(t *testing.T) {
		got := Merge(schemas.WorldState{"tension": json.Number("4")}, action(schemas.NavigationStay, schemas.Document{"tension": json.Number("1")}))
		assert.Equal(t, 5, got["tension"])
	})

	t.Run("should be deterministic", func(t *testing.T) {
		effects := schemas.Document{"a": schemas.Document{"$append": 1}, "b": 2, "tension": 1}
		first := Merge(schemas.WorldState{}, action(schemas.NavigationStay, effects))
		for i := 0; i < 20; i++ {
			assert.Equal(t, first, Merge(schemas.WorldState{}, action(schemas.NavigationStay, effects)))
		}
	})
}

func TestFallbackResponse(t *testing.T) {
	t.Run("should mention the action and its changes", func(t *testing.T) {
		a := action(schemas.NavigationStay, schemas.Document{"tension": 1})
		a.Description = "light a candle"
		assert.Equal(t, "You light a candle. (tension +1)", fallbackResponse(a))
	})

	t.Run("should omit empty changes", func(t *testing.T) {
		a := action(schemas.NavigationStay, nil)
		a.Description = "wait"
		assert.Equal(t, "You wait.", fallbackResponse(a))
	})
}
