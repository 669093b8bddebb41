package oracle

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/genai"

	"tavern/pkg/game"
)

// GeminiOracle is the Gemini-backed narrator. It also serves as the
// summarizer and image generator, each on its own model.
type GeminiOracle struct {
	config *Config
	client *genai.Client
}

// NewGeminiOracle creates the Gemini backend. A missing API key is not an
// error here: every call then returns ErrNotConfigured.
func NewGeminiOracle(ctx context.Context, config *Config) (*GeminiOracle, error) {
	config.SetDefaults()

	o := &GeminiOracle{config: config}
	if config.APIKey == "" {
		slog.Warn("GEMINI_API_KEY is not set; narrator disabled")
		return o, nil
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &OracleError{Type: ErrorTypeConfig, Message: "failed to create Gemini client", Err: err}
	}
	o.client = client
	return o, nil
}

// CreateSession starts a new narrator conversation.
func (o *GeminiOracle) CreateSession(ctx context.Context, character game.Character, summary string) (Session, error) {
	return o.newSession(character, summary, nil)
}

// ResumeSession rebuilds a narrator conversation from a saved transcript.
func (o *GeminiOracle) ResumeSession(ctx context.Context, character game.Character, transcript []game.Message, summary string) (Session, error) {
	turns := ReplayTurns(transcript)
	history := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		history = append(history, genai.NewContentFromText(t.Text, genai.Role(t.Role)))
	}
	return o.newSession(character, summary, history)
}

func (o *GeminiOracle) newSession(character game.Character, summary string, history []*genai.Content) (Session, error) {
	if o.client == nil {
		return nil, ErrNotConfigured
	}
	return &geminiSession{
		client: o.client,
		model:  o.config.NarratorModel,
		config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(BuildSystemInstruction(character, summary), genai.RoleUser),
			Temperature:       genai.Ptr[float32](Temperature),
			TopK:              genai.Ptr[float32](TopK),
			TopP:              genai.Ptr[float32](TopP),
			Tools:             []*genai.Tool{{FunctionDeclarations: FunctionDeclarations()}},
		},
		history: history,
	}, nil
}

// Summarize folds recent entries into the previous summary. On failure the
// previous summary is returned alongside the error.
func (o *GeminiOracle) Summarize(ctx context.Context, previous string, recent []game.Message) (string, error) {
	if o.client == nil {
		return previous, ErrNotConfigured
	}
	prompt := BuildSummaryPrompt(previous, recent)

	start := time.Now()
	resp, err := Do(ctx, o.config.Retry, func() (*genai.GenerateContentResponse, error) {
		r, err := o.client.Models.GenerateContent(ctx, o.config.SummaryModel,
			[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, nil)
		return r, classify(err)
	})
	if err != nil {
		return previous, err
	}

	slog.Info("Story summary generated",
		"model", o.config.SummaryModel,
		"duration", time.Since(start),
	)
	if text := resp.Text(); text != "" {
		return text, nil
	}
	return previous, nil
}

// GenerateImage renders prompt with the image model and returns a data URL.
func (o *GeminiOracle) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if o.client == nil {
		return "", ErrNotConfigured
	}

	resp, err := Do(ctx, o.config.Retry, func() (*genai.GenerateContentResponse, error) {
		r, err := o.client.Models.GenerateContent(ctx, o.config.ImageModel,
			[]*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
			&genai.GenerateContentConfig{ResponseModalities: []string{"IMAGE"}})
		return r, classify(err)
	})
	if err != nil {
		return "", err
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part.InlineData == nil || len(part.InlineData.Data) == 0 {
				continue
			}
			mime := part.InlineData.MIMEType
			if mime == "" {
				mime = "image/jpeg"
			}
			return fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(part.InlineData.Data)), nil
		}
	}
	return "", NewParseError("no image in response", nil)
}

// geminiSession keeps the conversation history locally and sends it whole on
// every call. History only grows on success so a retried Send is idempotent.
type geminiSession struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig

	mu      sync.Mutex
	history []*genai.Content
}

func (s *geminiSession) Send(ctx context.Context, in Input) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents := make([]*genai.Content, 0, len(s.history)+1)
	contents = append(contents, s.history...)
	contents = append(contents, inputContent(in))

	start := time.Now()
	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, s.config)
	duration := time.Since(start)
	if err != nil {
		slog.Error("Gemini request failed",
			"model", s.model,
			"error", err.Error(),
			"duration", duration,
		)
		return nil, classify(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, NewParseError("empty candidate list", nil)
	}

	slog.Debug("Gemini request completed",
		"model", s.model,
		"duration", duration,
		"history", len(contents),
	)

	s.history = append(contents, resp.Candidates[0].Content)

	out := &Response{Text: resp.Text()}
	for _, fc := range resp.FunctionCalls() {
		out.ToolCalls = append(out.ToolCalls, ToolCall{ID: fc.ID, Name: fc.Name, Args: fc.Args})
	}
	return out, nil
}

func inputContent(in Input) *genai.Content {
	if len(in.Results) == 0 {
		return genai.NewContentFromText(in.Text, genai.RoleUser)
	}
	parts := make([]*genai.Part, 0, len(in.Results))
	for _, r := range in.Results {
		p := genai.NewPartFromFunctionResponse(r.Name, map[string]any{"result": r.Result})
		p.FunctionResponse.ID = r.ID
		parts = append(parts, p)
	}
	return genai.NewContentFromParts(parts, genai.RoleUser)
}
