package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"
)

var ErrEmptyResponse = errors.New("empty response from model")

// GenerationOptions maps onto genai.GenerateContentConfig. Zero values are
// left unset so the model default applies.
type GenerationOptions struct {
	Temperature     float32
	TopP            float32
	TopK            float32
	MaxOutputTokens int32
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

type Request struct {
	System  string
	History []Message
	Prompt  string
	Options GenerationOptions
}

// Tool is a function the model may call during GenerateWithTools.
// Handle never fails; errors are reported back to the model in the payload.
type Tool struct {
	Declaration *genai.FunctionDeclaration
	Handle      func(ctx context.Context, args map[string]any) map[string]any
}

type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

type Client struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key not configured")
	}
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &Client{client: client, model: model, timeout: cfg.Timeout}, nil
}

func (c *Client) Model() string { return c.model }

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

func (c *Client) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents(req), config(req, nil))
	if err != nil {
		slog.ErrorContext(ctx, "generation failed", "model", c.model, "error", err)
		return "", err
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Stream yields text fragments as the model produces them. Iteration stops
// after the first error.
func (c *Client) Stream(ctx context.Context, req Request) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := c.withTimeout(ctx)
		defer cancel()

		for resp, err := range c.client.Models.GenerateContentStream(ctx, c.model, contents(req), config(req, nil)) {
			if err != nil {
				slog.ErrorContext(ctx, "stream generation failed", "model", c.model, "error", err)
				yield("", err)
				return
			}
			text := resp.Text()
			if text == "" {
				continue
			}
			if !yield(text, nil) {
				return
			}
		}
	}
}

// GenerateWithTools runs up to maxRounds of function calling. If the model is
// still calling tools after the last round, a final call is made without tools
// so that it has to answer in text.
func (c *Client) GenerateWithTools(ctx context.Context, req Request, tools []Tool, maxRounds int) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	byName := make(map[string]Tool, len(tools))
	decls := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		byName[t.Declaration.Name] = t
		decls = append(decls, t.Declaration)
	}
	genaiTools := []*genai.Tool{{FunctionDeclarations: decls}}

	history := contents(req)
	for round := 0; round < maxRounds; round++ {
		resp, err := c.client.Models.GenerateContent(ctx, c.model, history, config(req, genaiTools))
		if err != nil {
			slog.ErrorContext(ctx, "tool generation failed", "model", c.model, "round", round, "error", err)
			return "", err
		}

		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			return resp.Text(), nil
		}

		if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
			history = append(history, resp.Candidates[0].Content)
		}

		parts := make([]*genai.Part, 0, len(calls))
		for _, call := range calls {
			slog.InfoContext(ctx, "model requested tool", "tool", call.Name, "round", round)
			var result map[string]any
			if t, ok := byName[call.Name]; ok {
				result = t.Handle(ctx, call.Args)
			} else {
				result = map[string]any{"error": fmt.Sprintf("unknown function: %s", call.Name)}
			}
			parts = append(parts, genai.NewPartFromFunctionResponse(call.Name, result))
		}
		history = append(history, genai.NewContentFromParts(parts, genai.RoleUser))
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.model, history, config(req, nil))
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}

// Ping asks the model for a trivial answer.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Generate(ctx, Request{
		Prompt:  "Say 'OK' if you can read this.",
		Options: GenerationOptions{MaxOutputTokens: 10},
	})
	return err
}

func contents(req Request) []*genai.Content {
	out := make([]*genai.Content, 0, len(req.History)+1)
	for _, m := range req.History {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, role))
	}
	return append(out, genai.NewContentFromText(req.Prompt, genai.RoleUser))
}

func config(req Request, tools []*genai.Tool) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		MaxOutputTokens: req.Options.MaxOutputTokens,
		Tools:           tools,
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.Options.Temperature > 0 {
		cfg.Temperature = genai.Ptr(req.Options.Temperature)
	}
	if req.Options.TopP > 0 {
		cfg.TopP = genai.Ptr(req.Options.TopP)
	}
	if req.Options.TopK > 0 {
		cfg.TopK = genai.Ptr(req.Options.TopK)
	}
	return cfg
}
