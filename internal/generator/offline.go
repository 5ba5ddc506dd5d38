package generator

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/xkilldash9x/plotweave/api/schemas"
)

// Offline is a deterministic ContentGenerator built from templates. The same
// inputs always give the same output, which makes it usable without an API
// key and in tests.
type Offline struct{}

// NewOffline returns an offline generator.
func NewOffline() *Offline { return &Offline{} }

var (
	ambience = []string{
		"A draught stirs the dust.",
		"Somewhere nearby a door closes.",
		"The light shifts as a cloud passes.",
		"Footsteps echo and fade.",
	}
	bystanders = []string{"A passer-by", "An old woman", "A guard", "A child"}
	remarks    = []string{
		"Strange times, these.",
		"Did you hear that?",
		"Best keep moving.",
		"I've seen this before.",
	}
	stayVerbs = []string{"Look around", "Wait and listen", "Take a moment to think"}
)

// seed picks stable indices from text.
func seed(parts ...string) uint32 {
	h := fnv.New32a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum32()
}

func choose(list []string, s uint32, offset int) string {
	return list[(int(s%uint32(len(list)))+offset)%len(list)]
}

func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}

// GenerateScene tidies the prompt into a scene.
func (o *Offline) GenerateScene(ctx context.Context, prompt string, gctx schemas.Document) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text := strings.Join(strings.Fields(prompt), " ")
	if text == "" {
		return "", ErrEmptyScene
	}
	if gctx["idea"] != nil || gctx["node_type"] == string(schemas.NodeRoot) {
		return fmt.Sprintf("The story begins. %s", sentence(text)), nil
	}
	return sentence(text), nil
}

func sentence(s string) string {
	r := []rune(s)
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	s = string(r)
	if !strings.ContainsAny(s[len(s)-1:], ".!?\"'") {
		s += "."
	}
	return s
}

// GenerateEvents proposes one line of narration and one of dialogue.
func (o *Offline) GenerateEvents(ctx context.Context, scene string, gctx schemas.Document) ([]schemas.EventDraft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := seed(scene)
	return []schemas.EventDraft{
		{Content: choose(ambience, s, 0), Timestamp: 1, EventType: schemas.EventNarration},
		{Speaker: choose(bystanders, s, 1), Content: choose(remarks, s, 2), Timestamp: 2, EventType: schemas.EventDialogue},
	}, nil
}

// GenerateActions proposes one continue and one stay action.
func (o *Offline) GenerateActions(ctx context.Context, scene string, gctx schemas.Document, state schemas.WorldState) ([]schemas.ActionDraft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := seed(scene)
	stay := choose(stayVerbs, s, 0)
	return []schemas.ActionDraft{
		{
			Description: "Press on",
			IsKeyAction: true,
			Navigation:  schemas.NavigationContinue,
			Effects:     schemas.Document{schemas.EffectWorldStateDelta: schemas.Document{schemas.StateTension: 1}},
		},
		{
			Description: stay,
			Navigation:  schemas.NavigationStay,
			Response:    fmt.Sprintf("You %s. Nothing here changes yet.", strings.ToLower(stay)),
			Effects:     schemas.Document{schemas.EffectWorldStateDelta: fmt.Sprintf("%s at %q", strings.ToLower(stay), excerpt(scene, 24))},
		},
	}, nil
}

// GenerateNextNode writes a short continuation of the chosen action.
func (o *Offline) GenerateNextNode(ctx context.Context, node *schemas.Node, action *schemas.Action, state schemas.WorldState) (*schemas.NodeDraft, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	scene := fmt.Sprintf("You chose to %s. %s", strings.ToLower(strings.TrimSuffix(action.Description, ".")), continuation(node, state))
	events, _ := o.GenerateEvents(ctx, scene, nil)
	actions, _ := o.GenerateActions(ctx, scene, nil, state)
	return &schemas.NodeDraft{Scene: scene, NodeType: schemas.NodeScene, Events: events, Actions: actions}, nil
}

func continuation(node *schemas.Node, state schemas.WorldState) string {
	tension, _ := schemas.ToFloat(state[schemas.StateTension])
	switch {
	case tension >= 3:
		return "The air is taut; something is about to break."
	case tension >= 1:
		return "Unease follows you from the last scene: " + excerpt(node.Scene, 40)
	default:
		return "The scene opens onto what lies beyond: " + excerpt(node.Scene, 40)
	}
}

// GenerateResponse echoes the action.
func (o *Offline) GenerateResponse(ctx context.Context, node *schemas.Node, action *schemas.Action, state schemas.WorldState) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return fmt.Sprintf("You %s. The moment passes.", strings.ToLower(strings.TrimSuffix(action.Description, "."))), nil
}

var _ schemas.ContentGenerator = (*Offline)(nil)
