package schemas_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/plotweave/api/schemas"
)

// fakeView is a minimal GraphView backed by literal sets.
type fakeView struct {
	nodes   map[string]bool
	events  map[string]bool
	actions map[string]*schemas.Action
}

func (v fakeView) HasNode(id string) bool  { return v.nodes[id] }
func (v fakeView) HasEvent(id string) bool { return v.events[id] }
func (v fakeView) LookupAction(id string) (*schemas.Action, bool) {
	a, ok := v.actions[id]
	return a, ok
}

func newView() fakeView {
	return fakeView{
		nodes:  map[string]bool{"n1": true, "n2": true},
		events: map[string]bool{"e1": true},
		actions: map[string]*schemas.Action{
			"go":   {ID: "go", Metadata: schemas.Document{schemas.MetaNavigation: "continue"}},
			"wait": {ID: "wait", Metadata: schemas.Document{schemas.MetaNavigation: "stay"}},
			"odd":  {ID: "odd", Metadata: schemas.Document{schemas.MetaNavigation: "teleport"}},
		},
	}
}

func TestNodeValidate(t *testing.T) {
	t.Parallel()

	t.Run("should accept unique children", func(t *testing.T) {
		n := &schemas.Node{ID: "n1", Events: []string{"e1", "e2"}, OutgoingActions: []string{"b1"}}
		assert.NoError(t, n.Validate())
	})

	t.Run("should reject duplicate events", func(t *testing.T) {
		n := &schemas.Node{ID: "n1", Events: []string{"e1", "e1"}}
		err := n.Validate()
		require.Error(t, err)
		assert.ErrorIs(t, err, schemas.ErrDuplicateChild)
		assert.ErrorIs(t, err, schemas.ErrValidation)
		assert.NotErrorIs(t, err, schemas.ErrDanglingReference)
	})

	t.Run("should reject duplicate bindings", func(t *testing.T) {
		n := &schemas.Node{ID: "n1", OutgoingActions: []string{"b1", "b2", "b1"}}
		assert.ErrorIs(t, n.Validate(), schemas.ErrDuplicateChild)
	})
}

func TestActionBindingValidate(t *testing.T) {
	t.Parallel()
	view := newView()

	testCases := []struct {
		name    string
		binding schemas.ActionBinding
		wantErr error
	}{
		{"valid continue to node", schemas.ActionBinding{ID: "b", ActionID: "go", SourceNodeID: "n1", TargetNodeID: "n2"}, nil},
		{"valid continue to event", schemas.ActionBinding{ID: "b", ActionID: "go", SourceNodeID: "n1", TargetEventID: "e1"}, nil},
		{"valid ungenerated continue", schemas.ActionBinding{ID: "b", ActionID: "go", SourceNodeID: "n1"}, nil},
		{"valid stay", schemas.ActionBinding{ID: "b", ActionID: "wait", SourceNodeID: "n1"}, nil},
		{"missing source", schemas.ActionBinding{ID: "b", ActionID: "go", SourceNodeID: "ghost"}, schemas.ErrDanglingReference},
		{"missing action", schemas.ActionBinding{ID: "b", ActionID: "ghost", SourceNodeID: "n1"}, schemas.ErrDanglingReference},
		{"missing target node", schemas.ActionBinding{ID: "b", ActionID: "go", SourceNodeID: "n1", TargetNodeID: "ghost"}, schemas.ErrDanglingReference},
		{"missing target event", schemas.ActionBinding{ID: "b", ActionID: "go", SourceNodeID: "n1", TargetEventID: "ghost"}, schemas.ErrDanglingReference},
		{"both targets", schemas.ActionBinding{ID: "b", ActionID: "go", SourceNodeID: "n1", TargetNodeID: "n2", TargetEventID: "e1"}, schemas.ErrInvalidNavigationTarget},
		{"stay with target", schemas.ActionBinding{ID: "b", ActionID: "wait", SourceNodeID: "n1", TargetNodeID: "n2"}, schemas.ErrInvalidNavigationTarget},
		{"unknown navigation", schemas.ActionBinding{ID: "b", ActionID: "odd", SourceNodeID: "n1"}, schemas.ErrInvalidNavigationTarget},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := tc.binding.Validate(view)
			if tc.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestActionAccessors(t *testing.T) {
	t.Parallel()

	t.Run("should default navigation to continue", func(t *testing.T) {
		a := &schemas.Action{ID: "a"}
		assert.Equal(t, schemas.NavigationContinue, a.Navigation())
		assert.Empty(t, a.Response())
		assert.Nil(t, a.Effects())
	})

	t.Run("should read effects decoded as plain maps", func(t *testing.T) {
		var a schemas.Action
		require.NoError(t, json.Unmarshal([]byte(`{"id":"a","metadata":{"navigation":"stay","response":"ok","effects":{"tension":1}}}`), &a))
		assert.Equal(t, schemas.NavigationStay, a.Navigation())
		assert.Equal(t, "ok", a.Response())
		assert.Equal(t, float64(1), a.Effects()["tension"])
	})
}

func TestDocumentClone(t *testing.T) {
	t.Parallel()
	orig := schemas.Document{
		"flags": map[string]any{"door": true},
		"list":  []any{"a", map[string]any{"b": 1}},
		"n":     3,
	}
	cp := orig.Clone()
	cp["flags"].(schemas.Document)["door"] = false
	cp["list"].([]any)[1].(schemas.Document)["b"] = 2

	assert.Equal(t, true, orig["flags"].(map[string]any)["door"], "nested map must be copied")
	assert.Equal(t, 1, orig["list"].([]any)[1].(map[string]any)["b"], "maps inside slices must be copied")
	assert.Nil(t, schemas.Document(nil).Clone())
}

func TestToFloat(t *testing.T) {
	t.Parallel()
	for _, v := range []any{1, int64(1), float32(1), 1.0, json.Number("1")} {
		f, ok := schemas.ToFloat(v)
		assert.True(t, ok, fmt.Sprintf("%T", v))
		assert.Equal(t, 1.0, f)
	}
	_, ok := schemas.ToFloat("1")
	assert.False(t, ok)
}

func TestEngineError(t *testing.T) {
	t.Parallel()

	t.Run("should match sentinels through wrapping", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", schemas.NewNotFoundError("Graph.Node", "n9", "node"))
		assert.ErrorIs(t, err, schemas.ErrNotFound)
		assert.NotErrorIs(t, err, schemas.ErrDuplicateID)

		var ee *schemas.EngineError
		require.True(t, errors.As(err, &ee))
		assert.Equal(t, "n9", ee.EntityID)
		assert.Equal(t, "Graph.Node", ee.Op)
	})

	t.Run("should keep generation cause", func(t *testing.T) {
		cause := errors.New("upstream timeout")
		err := schemas.NewGenerationError("Editor.AddAction", cause)
		assert.ErrorIs(t, err, schemas.ErrGeneration)
		assert.ErrorIs(t, err, cause)
		assert.Contains(t, err.Error(), "upstream timeout")
	})
}
