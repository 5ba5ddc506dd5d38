package statemachine

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/plotweave/api/schemas"
	"github.com/xkilldash9x/plotweave/internal/history"
	"github.com/xkilldash9x/plotweave/internal/mocks"
	"github.com/xkilldash9x/plotweave/internal/narrative"
	"github.com/xkilldash9x/plotweave/internal/project"
	"github.com/xkilldash9x/plotweave/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const pid = "p1"

type fixture struct {
	machine  *Machine
	history  *history.Manager
	registry *project.Registry
	project  *project.Project
}

func newFixture(t *testing.T, gen schemas.ContentGenerator) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)
	st := store.NewMemory()
	h := history.NewManager(st, history.Options{}, nil, logger)
	r := project.NewRegistry(logger, project.WithStore(st), project.WithRecorder(h))
	p, err := r.Create(context.Background(), pid, "Test")
	require.NoError(t, err)
	return &fixture{machine: New(r, gen, logger), history: h, registry: r, project: p}
}

// build runs fn as one unrecorded-by-name mutation and returns the IDs it
// reports.
func (f *fixture) build(t *testing.T, fn func(g *narrative.Graph) map[string]string) map[string]string {
	t.Helper()
	var ids map[string]string
	_, err := f.project.Mutate(context.Background(), project.Mutation{Op: schemas.OpCreateNode}, func(tx *project.Tx) error {
		ids = fn(tx.Graph)
		return nil
	})
	require.NoError(t, err)
	return ids
}

type shape struct {
	start    string
	nodes    int
	bindings int
	current  string
	world    schemas.WorldState
}

func (f *fixture) shape(t *testing.T) shape {
	t.Helper()
	var s shape
	require.NoError(t, f.project.Read(func(v project.View) error {
		s = shape{v.Graph.StartNodeID(), v.Graph.Len(), v.Graph.BindingCount(), v.CurrentNodeID, v.World.Clone()}
		return nil
	}))
	return s
}

func (f *fixture) snapshots(t *testing.T) int {
	t.Helper()
	snaps, err := f.history.List(context.Background(), pid)
	require.NoError(t, err)
	return len(snaps)
}

func must(id string, err error) string {
	if err != nil {
		panic(err)
	}
	return id
}

// twoRooms builds a hall with a guard's line carrying a stay action, a
// chapter continue action bound to a cellar, and an untargeted continue.
func twoRooms(g *narrative.Graph) map[string]string {
	hall := must(g.AddDraft(&schemas.NodeDraft{Scene: "A hall."}))
	cellar := must(g.AddDraft(&schemas.NodeDraft{Scene: "A cellar."}))
	ev := must(g.AddEventDraft(hall, &schemas.EventDraft{
		Speaker: "Guard", Content: "Who goes there?", EventType: schemas.EventDialogue,
		Actions: []schemas.ActionDraft{{Description: "whistle", Navigation: schemas.NavigationStay, IsKeyAction: true,
			Response: "The guard frowns.", Effects: schemas.Document{"tension": 1}}},
	}))
	evt, _ := g.Event(ev)
	down := must(g.AddChapterAction(hall, &schemas.ActionDraft{Description: "go down", Effects: schemas.Document{"depth": 1}}, cellar))
	up := must(g.AddChapterAction(hall, &schemas.ActionDraft{Description: "go up"}, ""))
	downB, _ := g.Binding(down)
	upB, _ := g.Binding(up)
	return map[string]string{
		"hall": hall, "cellar": cellar, "event": ev,
		"whistle": evt.Actions[0], "down": downB.ActionID, "up": upB.ActionID, "upBinding": up,
	}
}

func TestStay(t *testing.T) {
	ctx := context.Background()

	t.Run("should return the stored response and add tension", func(t *testing.T) {
		f := newFixture(t, nil)
		ids := f.build(t, twoRooms)
		before := f.shape(t)

		out, err := f.machine.ApplyAction(ctx, pid, ids["hall"], ids["whistle"], schemas.WorldState{"tension": 2})
		require.NoError(t, err)
		assert.Nil(t, out.Next)
		assert.Equal(t, 3, out.State["tension"])
		assert.Equal(t, "The guard frowns.", out.Response)

		after := f.shape(t)
		assert.Equal(t, before.start, after.start)
		assert.Equal(t, before.nodes, after.nodes)
		assert.Equal(t, before.bindings, after.bindings)
		assert.Equal(t, ids["hall"], after.current)
		assert.Equal(t, out.State, after.world)
	})

	t.Run("should ask the generator when no response is stored", func(t *testing.T) {
		gen := new(mocks.MockContentGenerator)
		gen.On("GenerateResponse", mock.Anything, mock.Anything, mock.MatchedBy(func(a *schemas.Action) bool {
			return a.Description == "sit"
		}), mock.Anything).Return("You rest your legs.", nil)
		f := newFixture(t, gen)
		ids := f.build(t, func(g *narrative.Graph) map[string]string {
			n := must(g.AddDraft(&schemas.NodeDraft{Scene: "A bench."}))
			b := must(g.AddChapterAction(n, &schemas.ActionDraft{Description: "sit", Navigation: schemas.NavigationStay}, ""))
			bnd, _ := g.Binding(b)
			return map[string]string{"node": n, "sit": bnd.ActionID}
		})

		out, err := f.machine.ApplyAction(ctx, pid, ids["node"], ids["sit"], nil)
		require.NoError(t, err)
		assert.Equal(t, "You rest your legs.", out.Response)
		gen.AssertExpectations(t)
	})

	t.Run("should fall back to a template without a generator", func(t *testing.T) {
		f := newFixture(t, nil)
		ids := f.build(t, func(g *narrative.Graph) map[string]string {
			n := must(g.AddDraft(&schemas.NodeDraft{Scene: "A bench."}))
			b := must(g.AddChapterAction(n, &schemas.ActionDraft{Description: "sit", Navigation: schemas.NavigationStay}, ""))
			bnd, _ := g.Binding(b)
			return map[string]string{"node": n, "sit": bnd.ActionID}
		})
		out, err := f.machine.ApplyAction(ctx, pid, ids["node"], ids["sit"], nil)
		require.NoError(t, err)
		assert.Equal(t, "You sit.", out.Response)
	})

	t.Run("should use the project world state when none is given", func(t *testing.T) {
		f := newFixture(t, nil)
		ids := f.build(t, twoRooms)
		_, err := f.machine.ApplyAction(ctx, pid, ids["hall"], ids["whistle"], nil)
		require.NoError(t, err)
		out, err := f.machine.ApplyAction(ctx, pid, ids["hall"], ids["whistle"], nil)
		require.NoError(t, err)
		assert.Equal(t, 2, out.State["tension"])
		assert.Len(t, out.State[schemas.StateActionHistory], 2)
	})
}

func TestContinue(t *testing.T) {
	ctx := context.Background()

	t.Run("should follow an existing target without creating nodes", func(t *testing.T) {
		gen := &mocks.ScriptedGenerator{}
		f := newFixture(t, gen)
		ids := f.build(t, twoRooms)
		before := f.shape(t)

		out, err := f.machine.ApplyAction(ctx, pid, ids["hall"], ids["down"], schemas.WorldState{})
		require.NoError(t, err)
		require.NotNil(t, out.Next)
		assert.Equal(t, ids["cellar"], out.Next.ID)
		assert.Equal(t, 1, out.State["depth"])
		assert.Zero(t, gen.Calls)

		after := f.shape(t)
		assert.Equal(t, before.nodes, after.nodes)
		assert.Equal(t, before.bindings, after.bindings)
		assert.Equal(t, ids["cellar"], after.current)
	})

	t.Run("should generate then commit an untargeted continue", func(t *testing.T) {
		gen := &mocks.ScriptedGenerator{Drafts: []*schemas.NodeDraft{{
			Scene:   "The attic.",
			Events:  []schemas.EventDraft{{Content: "Dust swirls.", EventType: schemas.EventNarration}},
			Actions: []schemas.ActionDraft{{Description: "go back down"}},
		}}}
		f := newFixture(t, gen)
		ids := f.build(t, twoRooms)
		before := f.shape(t)

		out, err := f.machine.ApplyAction(ctx, pid, ids["hall"], ids["up"], schemas.WorldState{"tension": 0})
		require.NoError(t, err)
		require.NotNil(t, out.Next)
		assert.Equal(t, "The attic.", out.Next.Scene)
		assert.Len(t, out.Next.Events, 1)
		assert.Len(t, out.Next.OutgoingActions, 1)
		assert.Equal(t, out.State, out.Next.WorldState())

		after := f.shape(t)
		assert.Equal(t, before.nodes+1, after.nodes)
		assert.Equal(t, before.bindings+1, after.bindings)
		require.NoError(t, f.project.Read(func(v project.View) error {
			b, err := v.Graph.Binding(ids["upBinding"])
			require.NoError(t, err)
			assert.Equal(t, out.Next.ID, b.TargetNodeID)
			assert.True(t, v.Graph.Validate().OK())
			return nil
		}))

		again, err := f.machine.ApplyAction(ctx, pid, ids["hall"], ids["up"], nil)
		require.NoError(t, err)
		assert.Equal(t, out.Next.ID, again.Next.ID)
		assert.Equal(t, 1, gen.Calls, "second traversal must not generate")
	})

	t.Run("should bind an event action on first continue", func(t *testing.T) {
		gen := &mocks.ScriptedGenerator{Drafts: []*schemas.NodeDraft{{Scene: "Outside."}}}
		f := newFixture(t, gen)
		ids := f.build(t, func(g *narrative.Graph) map[string]string {
			n := must(g.AddDraft(&schemas.NodeDraft{Scene: "Inside."}))
			ev := must(g.AddEventDraft(n, &schemas.EventDraft{Content: "A door creaks.", EventType: schemas.EventNarration,
				Actions: []schemas.ActionDraft{{Description: "step out"}}}))
			e, _ := g.Event(ev)
			return map[string]string{"node": n, "act": e.Actions[0]}
		})

		out, err := f.machine.ApplyAction(ctx, pid, ids["node"], ids["act"], nil)
		require.NoError(t, err)
		assert.Equal(t, "Outside.", out.Next.Scene)
		require.NoError(t, f.project.Read(func(v project.View) error {
			bs := v.Graph.BindingsForAction(ids["act"])
			require.Len(t, bs, 1)
			assert.Equal(t, ids["node"], bs[0].SourceNodeID)
			assert.Equal(t, out.Next.ID, bs[0].TargetNodeID)
			return nil
		}))
	})

	t.Run("should not mutate when generation fails", func(t *testing.T) {
		gen := new(mocks.MockContentGenerator)
		gen.On("GenerateNextNode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Return(nil, errors.New("model offline"))
		f := newFixture(t, gen)
		ids := f.build(t, twoRooms)
		before, snaps := f.shape(t), f.snapshots(t)

		_, err := f.machine.ApplyAction(ctx, pid, ids["hall"], ids["up"], nil)
		require.ErrorIs(t, err, schemas.ErrGeneration)
		assert.Equal(t, before, f.shape(t))
		assert.Equal(t, snaps, f.snapshots(t))
	})

	t.Run("should not mutate when cancelled during generation", func(t *testing.T) {
		gen := new(mocks.MockContentGenerator)
		cctx, cancel := context.WithCancel(ctx)
		gen.On("GenerateNextNode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { cancel() }).
			Return(&schemas.NodeDraft{Scene: "Too late."}, nil)
		f := newFixture(t, gen)
		ids := f.build(t, twoRooms)
		before := f.shape(t)

		_, err := f.machine.ApplyAction(cctx, pid, ids["hall"], ids["up"], nil)
		require.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, before, f.shape(t))
	})

	t.Run("should follow a target filled while generating", func(t *testing.T) {
		gen := new(mocks.MockContentGenerator)
		f := newFixture(t, gen)
		ids := f.build(t, twoRooms)
		gen.On("GenerateNextNode", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Run(func(mock.Arguments) {
				_, err := f.project.Mutate(ctx, project.Mutation{Op: schemas.OpConnectNodes}, func(tx *project.Tx) error {
					b, err := tx.Graph.Binding(ids["upBinding"])
					if err != nil {
						return err
					}
					b.TargetNodeID = ids["cellar"]
					return tx.Graph.UpdateBinding(b)
				})
				require.NoError(t, err)
			}).
			Return(&schemas.NodeDraft{Scene: "A duplicate attic."}, nil)
		before := f.shape(t)

		out, err := f.machine.ApplyAction(ctx, pid, ids["hall"], ids["up"], nil)
		require.NoError(t, err)
		assert.Equal(t, ids["cellar"], out.Next.ID)
		assert.Equal(t, before.nodes, f.shape(t).nodes)
	})

	t.Run("should fail without a generator", func(t *testing.T) {
		f := newFixture(t, nil)
		ids := f.build(t, twoRooms)
		_, err := f.machine.ApplyAction(ctx, pid, ids["hall"], ids["up"], nil)
		require.ErrorIs(t, err, schemas.ErrGeneration)
		assert.ErrorIs(t, err, ErrNoGenerator)
	})
}

func TestApplyActionErrors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	ids := f.build(t, twoRooms)

	t.Run("should report an unknown action", func(t *testing.T) {
		_, err := f.machine.ApplyAction(ctx, pid, ids["hall"], "ghost", nil)
		assert.ErrorIs(t, err, schemas.ErrActionNotFound)
	})

	t.Run("should not resolve another node's action", func(t *testing.T) {
		_, err := f.machine.ApplyAction(ctx, pid, ids["cellar"], ids["down"], nil)
		assert.ErrorIs(t, err, schemas.ErrActionNotFound)
	})

	t.Run("should report an unknown node", func(t *testing.T) {
		_, err := f.machine.ApplyAction(ctx, pid, "ghost", ids["down"], nil)
		assert.ErrorIs(t, err, schemas.ErrNotFound)
	})
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()

	t.Run("should create the root and place the reader on it", func(t *testing.T) {
		gen := new(mocks.MockContentGenerator)
		gen.On("GenerateScene", mock.Anything, "a haunted lighthouse", mock.Anything).Return("Waves crash below.", nil)
		gen.On("GenerateEvents", mock.Anything, "Waves crash below.", mock.Anything).
			Return([]schemas.EventDraft{{Content: "A gull cries.", EventType: schemas.EventNarration}}, nil)
		gen.On("GenerateActions", mock.Anything, "Waves crash below.", mock.Anything, mock.Anything).
			Return([]schemas.ActionDraft{{Description: "climb the stairs", IsKeyAction: true}}, nil)
		f := newFixture(t, gen)

		root, err := f.machine.Bootstrap(ctx, pid, "a haunted lighthouse")
		require.NoError(t, err)
		assert.Equal(t, schemas.NodeRoot, root.NodeType)

		s := f.shape(t)
		assert.Equal(t, root.ID, s.start)
		assert.Equal(t, root.ID, s.current)
		assert.Equal(t, "a haunted lighthouse", s.world["premise"])

		session, err := f.machine.Session(ctx, pid)
		require.NoError(t, err)
		assert.Equal(t, root.ID, session.CurrentNodeID)

		_, err = f.machine.Bootstrap(ctx, pid, "again")
		assert.ErrorIs(t, err, schemas.ErrInvalidInput)
	})

	t.Run("should reject an empty idea", func(t *testing.T) {
		f := newFixture(t, &mocks.ScriptedGenerator{})
		_, err := f.machine.Bootstrap(ctx, pid, "  ")
		assert.ErrorIs(t, err, schemas.ErrInvalidInput)
	})
}

func TestRollbackContinue(t *testing.T) {
	ctx := context.Background()
	gen := &mocks.ScriptedGenerator{Drafts: []*schemas.NodeDraft{{Scene: "The attic."}}}
	f := newFixture(t, gen)
	ids := f.build(t, twoRooms)
	before, err := f.project.Encode()
	require.NoError(t, err)

	_, err = f.machine.ApplyAction(ctx, pid, ids["hall"], ids["up"], nil)
	require.NoError(t, err)
	snaps, err := f.history.List(ctx, pid)
	require.NoError(t, err)
	last := snaps[len(snaps)-1]
	assert.Equal(t, schemas.OpApplyContinue, last.OperationType)

	t.Run("should restore the graph and session", func(t *testing.T) {
		require.NoError(t, f.history.Rollback(ctx, f.project, last.ID, f.registry.LoadOptions()))
		after, err := f.project.Encode()
		require.NoError(t, err)
		assert.JSONEq(t, string(before), string(after))
	})
}

func TestConcurrentStay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	ids := f.build(t, twoRooms)
	before := f.shape(t)

	const readers = 12
	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.machine.ApplyAction(ctx, pid, ids["hall"], ids["whistle"], schemas.WorldState{"tension": 0})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	t.Run("should leave the graph shape alone", func(t *testing.T) {
		after := f.shape(t)
		assert.Equal(t, before.nodes, after.nodes)
		assert.Equal(t, before.bindings, after.bindings)
		assert.Equal(t, 1, after.world["tension"])
	})
}

// rendezvousGenerator holds every GenerateResponse call until n callers have
// arrived, so their reads of the world state overlap.
type rendezvousGenerator struct {
	schemas.ContentGenerator
	arrived sync.WaitGroup
}

func newRendezvousGenerator(n int) *rendezvousGenerator {
	g := &rendezvousGenerator{}
	g.arrived.Add(n)
	return g
}

func (g *rendezvousGenerator) GenerateResponse(ctx context.Context, _ *schemas.Node, a *schemas.Action, _ schemas.WorldState) (string, error) {
	g.arrived.Done()
	g.arrived.Wait()
	return "You wait. (" + a.Description + ")", nil
}

func TestConcurrentSessionStay(t *testing.T) {
	ctx := context.Background()
	const players = 2
	f := newFixture(t, newRendezvousGenerator(players))
	ids := f.build(t, func(g *narrative.Graph) map[string]string {
		hall := must(g.AddDraft(&schemas.NodeDraft{Scene: "A hall."}))
		ev := must(g.AddEventDraft(hall, &schemas.EventDraft{
			Speaker: "Innkeeper", Content: "Rain tonight.", EventType: schemas.EventDialogue,
			Actions: []schemas.ActionDraft{{Description: "sit", Navigation: schemas.NavigationStay,
				Effects: schemas.Document{"tension": 1}}},
		}))
		evt, _ := g.Event(ev)
		return map[string]string{"hall": hall, "sit": evt.Actions[0]}
	})

	var wg sync.WaitGroup
	for i := 0; i < players; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.machine.ApplyAction(ctx, pid, ids["hall"], ids["sit"], nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	t.Run("should apply every action to the session state", func(t *testing.T) {
		world := f.shape(t).world
		assert.Equal(t, players, world["tension"])
		hist, _ := world[schemas.StateActionHistory].([]any)
		assert.Len(t, hist, players)
		assert.Equal(t, players+1, f.snapshots(t))
	})
}
