package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"tavern/pkg/game"
)

// OfflineNarratorName is the registry name of the local narrator model.
const OfflineNarratorName = "tavern/offline-narrator"

// GenkitOracle drives any genkit model as the narrator.
type GenkitOracle struct {
	model ai.Model
}

// NewGenkitOracle wraps a genkit model. A nil model yields ErrNotConfigured on use.
func NewGenkitOracle(model ai.Model) *GenkitOracle {
	return &GenkitOracle{model: model}
}

// CreateSession starts a new narrator conversation.
func (o *GenkitOracle) CreateSession(ctx context.Context, character game.Character, summary string) (Session, error) {
	return o.newSession(character, summary, nil)
}

// ResumeSession rebuilds a narrator conversation from a saved transcript.
func (o *GenkitOracle) ResumeSession(ctx context.Context, character game.Character, transcript []game.Message, summary string) (Session, error) {
	turns := ReplayTurns(transcript)
	history := make([]*ai.Message, 0, len(turns))
	for _, t := range turns {
		role := ai.RoleUser
		if t.Role == "model" {
			role = ai.RoleModel
		}
		history = append(history, textMessage(role, t.Text))
	}
	return o.newSession(character, summary, history)
}

func (o *GenkitOracle) newSession(character game.Character, summary string, history []*ai.Message) (Session, error) {
	if o.model == nil {
		return nil, ErrNotConfigured
	}
	return &genkitSession{
		model:   o.model,
		system:  textMessage(ai.RoleSystem, BuildSystemInstruction(character, summary)),
		history: history,
	}, nil
}

type genkitSession struct {
	model  ai.Model
	system *ai.Message

	mu      sync.Mutex
	history []*ai.Message
}

func (s *genkitSession) Send(ctx context.Context, in Input) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := textMessage(ai.RoleUser, in.Text)
	if len(in.Results) > 0 {
		parts := make([]*ai.Part, 0, len(in.Results))
		for _, r := range in.Results {
			parts = append(parts, ai.NewToolResponsePart(&ai.ToolResponse{
				Name:   r.Name,
				Ref:    r.ID,
				Output: map[string]any{"result": r.Result},
			}))
		}
		msg = &ai.Message{Role: ai.RoleTool, Content: parts}
	}

	messages := make([]*ai.Message, 0, len(s.history)+2)
	messages = append(messages, s.system)
	messages = append(messages, s.history...)
	messages = append(messages, msg)

	resp, err := s.model.Generate(ctx, &ai.ModelRequest{
		Messages: messages,
		Tools:    ToolDefinitions(),
		Config: &ai.GenerationCommonConfig{
			Temperature: Temperature,
			TopK:        TopK,
			TopP:        TopP,
		},
	}, nil)
	if err != nil {
		return nil, classify(err)
	}
	if resp == nil || resp.Message == nil {
		return nil, NewParseError("empty model response", nil)
	}

	s.history = append(s.history, msg, resp.Message)

	out := &Response{}
	var text strings.Builder
	for _, p := range resp.Message.Content {
		switch {
		case p.IsText():
			text.WriteString(p.Text)
		case p.IsToolRequest():
			args, err := toArgs(p.ToolRequest.Input)
			if err != nil {
				return nil, NewParseError(fmt.Sprintf("tool %s input", p.ToolRequest.Name), err)
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:   p.ToolRequest.Ref,
				Name: p.ToolRequest.Name,
				Args: args,
			})
		}
	}
	out.Text = text.String()
	return out, nil
}

func textMessage(role ai.Role, text string) *ai.Message {
	return &ai.Message{Role: role, Content: []*ai.Part{ai.NewTextPart(text)}}
}

func toArgs(input any) (map[string]any, error) {
	switch v := input.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return v, nil
	}
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var args map[string]any
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, err
	}
	return args, nil
}

// RegisterOfflineNarrator defines a local narrator model that needs no
// credentials. It answers deterministically and asks for a perception check
// whenever the player searches or looks around.
func RegisterOfflineNarrator(ctx context.Context) (*genkit.Genkit, ai.Model) {
	g := genkit.Init(ctx)

	model := genkit.DefineModel(
		g,
		OfflineNarratorName,
		&ai.ModelOptions{
			Label: "Offline narrator",
			Supports: &ai.ModelSupports{
				Multiturn:  true,
				SystemRole: true,
				Tools:      true,
			},
		},
		func(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
			return &ai.ModelResponse{
				Request:      req,
				FinishReason: ai.FinishReasonStop,
				Message:      offlineReply(req.Messages),
			}, nil
		},
	)

	return g, model
}

func offlineReply(messages []*ai.Message) *ai.Message {
	if len(messages) == 0 {
		return textMessage(ai.RoleModel, "The tale waits for its first words.")
	}
	last := messages[len(messages)-1]

	if last.Role == ai.RoleTool {
		var results []string
		for _, p := range last.Content {
			if p.IsToolResponse() {
				results = append(results, fmt.Sprintf("%v", p.ToolResponse.Output))
			}
		}
		return textMessage(ai.RoleModel, fmt.Sprintf("The dice settle (%s). The world shifts in answer. What do you do?", strings.Join(results, "; ")))
	}

	var said strings.Builder
	for _, p := range last.Content {
		if p.IsText() {
			said.WriteString(p.Text)
		}
	}
	text := strings.TrimSpace(said.String())
	lower := strings.ToLower(text)

	if strings.Contains(lower, "search") || strings.Contains(lower, "look") {
		return &ai.Message{
			Role: ai.RoleModel,
			Content: []*ai.Part{
				ai.NewTextPart("You study your surroundings carefully."),
				ai.NewToolRequestPart(&ai.ToolRequest{
					Name: ToolRequestRoll,
					Ref:  fmt.Sprintf("offline-%d", len(messages)),
					Input: map[string]any{
						"ability": "wisdom",
						"skill":   "perception",
						"dc":      12,
						"reason":  "To notice what is hidden",
					},
				}),
			},
		}
	}

	return textMessage(ai.RoleModel, fmt.Sprintf("Torchlight flickers as you act: %q. The tavern murmurs around you. What do you do?", text))
}
