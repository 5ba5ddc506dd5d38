package generator

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/plotweave/api/schemas"
)

const storytellerSystem = "You are an imaginative narrator and interactive fiction designer. " +
	"You write coherent story beats and interesting choices, and you keep established facts consistent."

const jsonSystem = storytellerSystem + " Reply with a single JSON document and nothing else."

// Shared rules for node, event and action replies.
const (
	eventRules = `- "events" are optional background beats that are NOT part of the main plot: passers-by talking, distant sounds, details of the surroundings.
  * "dialogue" events need a "speaker".
  * "narration" events have an empty "speaker".`

	actionRules = `- Offer 3 or 4 actions in total:
  * 1-2 with "navigation": "continue", which move the story to a new scene;
  * 1-2 with "navigation": "stay", which do something here without leaving. A stay action carries a short "response".
- "effects.world_state_changes" is either a short description or an object of world-state changes. Numeric "tension" values are added to the current tension.`

	nodeShape = `{
  "scene": "1-2 paragraphs of main plot",
  "world_state": {"time": "...", "location": "...", "characters": ["..."], "key_facts": ["..."]},
  "events": [
    {"speaker": "Innkeeper", "content": "Tea, traveller?", "timestamp": 1, "event_type": "dialogue"},
    {"speaker": "", "content": "Hooves clatter in the street.", "timestamp": 2, "event_type": "narration"}
  ],
  "chapter_actions": [
    {"description": "...", "navigation": "continue", "is_key_action": true, "effects": {"world_state_changes": "..."}},
    {"description": "...", "navigation": "stay", "is_key_action": false, "response": "...", "effects": {"world_state_changes": {"tension": 1}}}
  ]
}`
)

var promptJSON = jsoniter.Config{SortMapKeys: true, EscapeHTML: false}.Froze()

func renderJSON(v any) string {
	if v == nil {
		return "{}"
	}
	out, err := promptJSON.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(out)
}

// contextBlock renders a generation context without the keys that already
// appear elsewhere in the prompt.
func contextBlock(gctx schemas.Document, skip ...string) string {
	if len(gctx) == 0 {
		return ""
	}
	rest := gctx.Clone()
	for _, k := range skip {
		delete(rest, k)
	}
	if len(rest) == 0 {
		return ""
	}
	return "\nAdditional context:\n" + renderJSON(rest) + "\n"
}

func scenePrompt(prompt string, gctx schemas.Document) string {
	var b strings.Builder
	if gctx["node_type"] == string(schemas.NodeRoot) || gctx["idea"] != nil {
		b.WriteString("Write the opening scene of an interactive story based on this idea:\n")
	} else {
		b.WriteString("Write or polish the following scene description into 1-2 vivid paragraphs:\n")
	}
	b.WriteString(prompt)
	b.WriteString("\n")
	if ws, ok := gctx["world_state"]; ok {
		b.WriteString("\nCurrent world state:\n")
		b.WriteString(renderJSON(ws))
		b.WriteString("\n")
	}
	b.WriteString(contextBlock(gctx, "world_state", "idea", "raw_description", "scene"))
	b.WriteString("\nReply with the scene text only, with no heading or commentary.")
	return b.String()
}

func eventsPrompt(scene string, gctx schemas.Document) string {
	return fmt.Sprintf(`Propose background events for this scene.

Scene: %s
%s
Rules:
%s
- Propose 2 to 4 events with increasing "timestamp" values.

Reply as {"events": [{"speaker": "...", "content": "...", "timestamp": 1, "event_type": "dialogue|narration"}]}`,
		scene, contextBlock(gctx, "scene"), eventRules)
}

func actionsPrompt(scene string, gctx schemas.Document, state schemas.WorldState) string {
	return fmt.Sprintf(`Propose the reader's choices for this scene.

Scene: %s

Current world state:
%s
%s
Rules:
%s

Reply as {"actions": [{"description": "...", "navigation": "continue|stay", "is_key_action": true, "response": "...", "effects": {"world_state_changes": "..."}}]}`,
		scene, renderJSON(state), contextBlock(gctx, "scene", "world_state"), actionRules)
}

func nextNodePrompt(node *schemas.Node, action *schemas.Action, state schemas.WorldState) string {
	expected := "unknown"
	if d := action.Effects()[schemas.EffectWorldStateDelta]; d != nil {
		expected = renderJSON(d)
		if s, ok := d.(string); ok {
			expected = s
		}
	}
	return fmt.Sprintf(`Continue the interactive story.

Current scene: %s

Current world state:
%s

The reader chose: %s
Expected effect: %s

First recall how similar choices play out in stories you know, then write the next scene as the direct consequence of this choice. Keep established facts; change as little of the existing setting as possible.

Rules:
- "scene" must show the result of the reader's choice and follow on from the current scene.
%s
%s

Reply with JSON shaped like:
%s`, node.Scene, renderJSON(state), action.Description, expected, eventRules, actionRules, nodeShape)
}

func responsePrompt(node *schemas.Node, action *schemas.Action, state schemas.WorldState) string {
	return fmt.Sprintf(`The reader stays in the current scene and takes an action.

Scene: %s

Current world state:
%s

Action: %s

Describe the immediate outcome in one or two sentences, in the second person. The reader does not leave the scene. Reply with the text only.`,
		node.Scene, renderJSON(state), action.Description)
}
