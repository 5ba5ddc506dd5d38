package schemas_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xkilldash9x/plotweave/api/schemas"
)

// TestConstants pins values that are persisted or exposed over the API.
func TestConstants(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		constant interface{}
		expected string
	}{
		{"NodeScene", schemas.NodeScene, "scene"},
		{"NodeRoot", schemas.NodeRoot, "root"},
		{"NodeEnding", schemas.NodeEnding, "ending"},
		{"EventDialogue", schemas.EventDialogue, "dialogue"},
		{"EventNarration", schemas.EventNarration, "narration"},
		{"NavigationContinue", schemas.NavigationContinue, "continue"},
		{"NavigationStay", schemas.NavigationStay, "stay"},
		{"TierFast", schemas.TierFast, "fast"},
		{"TierPowerful", schemas.TierPowerful, "powerful"},
		{"OpEditScene", schemas.OpEditScene, "edit_scene"},
		{"OpApplyStay", schemas.OpApplyStay, "apply_action_stay"},
		{"EffectWorldStateDelta", schemas.EffectWorldStateDelta, "world_state_changes"},
		{"StateActionHistory", schemas.StateActionHistory, "action_history"},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, fmt.Sprintf("%v", tc.constant))
		})
	}
}
