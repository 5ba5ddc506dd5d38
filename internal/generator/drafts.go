// Package generator provides the ContentGenerator implementations: an
// LLM-backed generator and a deterministic offline one.
package generator

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xkilldash9x/plotweave/api/schemas"
)

// ErrEmptyScene is returned when a reply carries no scene text.
var ErrEmptyScene = errors.New("generated scene is empty")

// eventReply and actionReply mirror what models are asked to emit. Fields
// that models routinely omit are pointers so a missing value can take its
// default.
type eventReply struct {
	Speaker   string            `json:"speaker"`
	Content   string            `json:"content"`
	Timestamp *int              `json:"timestamp"`
	EventType schemas.EventType `json:"event_type"`
}

type actionReply struct {
	Description string           `json:"description"`
	IsKeyAction *bool            `json:"is_key_action"`
	Navigation  string           `json:"navigation"`
	Response    string           `json:"response"`
	Effects     schemas.Document `json:"effects"`
}

type nodeReply struct {
	Scene          string             `json:"scene"`
	WorldState     schemas.WorldState `json:"world_state"`
	Events         []eventReply       `json:"events"`
	ChapterActions []actionReply      `json:"chapter_actions"`
	Actions        []actionReply      `json:"actions"`
}

type eventsReply struct {
	Events []eventReply `json:"events"`
}

type actionsReply struct {
	Actions        []actionReply `json:"actions"`
	ChapterActions []actionReply `json:"chapter_actions"`
}

// shaper turns replies into drafts, dropping entries that fail validation.
type shaper struct {
	validate *validator.Validate
	log      *zap.Logger
}

func newShaper(logger *zap.Logger) *shaper {
	return &shaper{validate: validator.New(), log: logger}
}

func (s *shaper) events(in []eventReply) []schemas.EventDraft {
	out := make([]schemas.EventDraft, 0, len(in))
	for i, e := range in {
		d := schemas.EventDraft{
			Speaker:   strings.TrimSpace(e.Speaker),
			Content:   strings.TrimSpace(e.Content),
			Timestamp: i + 1,
			EventType: e.EventType,
		}
		if e.Timestamp != nil && *e.Timestamp >= 0 {
			d.Timestamp = *e.Timestamp
		}
		if d.EventType != schemas.EventDialogue && d.EventType != schemas.EventNarration {
			d.EventType = schemas.EventNarration
			if d.Speaker != "" {
				d.EventType = schemas.EventDialogue
			}
		}
		if err := s.validate.Struct(d); err != nil {
			s.log.Warn("Dropping malformed generated event.", zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, d)
	}
	return out
}

func (s *shaper) actions(in []actionReply) []schemas.ActionDraft {
	out := make([]schemas.ActionDraft, 0, len(in))
	for i, a := range in {
		d := schemas.ActionDraft{
			Description: strings.TrimSpace(a.Description),
			IsKeyAction: true,
			Navigation:  schemas.NavigationContinue,
			Effects:     a.Effects,
		}
		if a.IsKeyAction != nil {
			d.IsKeyAction = *a.IsKeyAction
		}
		if schemas.Navigation(strings.ToLower(strings.TrimSpace(a.Navigation))) == schemas.NavigationStay {
			d.Navigation = schemas.NavigationStay
			d.Response = strings.TrimSpace(a.Response)
		}
		if d.Effects == nil {
			d.Effects = schemas.Document{}
		}
		if err := s.validate.Struct(d); err != nil {
			s.log.Warn("Dropping malformed generated action.", zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, d)
	}
	return out
}

// node shapes a full node reply. fallbackWorld is used when the reply has no
// world state.
func (s *shaper) node(r *nodeReply, fallbackWorld schemas.WorldState) (*schemas.NodeDraft, error) {
	scene := strings.TrimSpace(r.Scene)
	if scene == "" {
		return nil, ErrEmptyScene
	}
	world := r.WorldState
	if len(world) == 0 {
		world = fallbackWorld.Clone()
	}
	actions := r.ChapterActions
	if len(actions) == 0 {
		actions = r.Actions
	}
	return &schemas.NodeDraft{
		Scene:      scene,
		NodeType:   schemas.NodeScene,
		Events:     s.events(r.Events),
		Actions:    s.actions(actions),
		WorldState: world,
	}, nil
}
