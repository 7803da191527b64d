package agent

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/insight-cli/internal/config"
	"github.com/sells-group/insight-cli/internal/cost"
	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/pkg/anthropic"
	"github.com/sells-group/insight-cli/pkg/gemini"
)

// AnthropicProvider runs turns against the Anthropic Messages API.
type AnthropicProvider struct {
	client  anthropic.Client
	cfg     config.AnthropicConfig
	pricing *cost.Calculator
}

// NewAnthropicProvider creates an AnthropicProvider. pricing may be nil.
func NewAnthropicProvider(client anthropic.Client, cfg config.AnthropicConfig, pricing *cost.Calculator) *AnthropicProvider {
	return &AnthropicProvider{client: client, cfg: cfg, pricing: pricing}
}

func (p *AnthropicProvider) Name() string  { return "anthropic" }
func (p *AnthropicProvider) Model() string { return p.cfg.Model }

func (p *AnthropicProvider) Turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	temp := p.cfg.Temperature
	mr := anthropic.MessageRequest{
		Model:       p.cfg.Model,
		MaxTokens:   int64(p.cfg.MaxTokens),
		System:      anthropic.BuildCachedSystemBlocks(req.System),
		Temperature: &temp,
	}
	for _, m := range req.Messages {
		am := anthropic.Message{Role: string(m.Role), Content: m.Text}
		for _, c := range m.Calls {
			am.ToolUses = append(am.ToolUses, anthropic.ToolUse{ID: c.ID, Name: c.Name, Input: c.Input})
		}
		for _, r := range m.Results {
			am.ToolResults = append(am.ToolResults, anthropic.ToolResult{
				ToolUseID: r.CallID,
				Content:   r.Content,
				IsError:   r.IsError,
			})
		}
		mr.Messages = append(mr.Messages, am)
	}
	for _, s := range req.Tools {
		mr.Tools = append(mr.Tools, anthropic.Tool{
			Name:        s.Name,
			Description: s.Description,
			Properties:  s.Properties,
			Required:    s.Required,
		})
	}
	if req.WebSearch && p.cfg.WebSearch {
		mr.WebSearch = &anthropic.WebSearch{MaxUses: int64(p.cfg.WebSearchMaxUses)}
	}

	resp, err := p.client.CreateMessage(ctx, mr)
	if err != nil {
		return nil, err
	}
	resp.Usage.LogCost(p.cfg.Model, "turn")

	out := &TurnResult{
		Text: resp.Text(),
		Usage: model.TokenUsage{
			InputTokens:         int(resp.Usage.InputTokens),
			OutputTokens:        int(resp.Usage.OutputTokens),
			CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
			CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
		},
	}
	if p.pricing != nil {
		out.Usage.Cost = p.pricing.Usage(p.Name(), p.cfg.Model, out.Usage)
	} else {
		out.Usage.Cost = resp.Usage.EstimateCost(p.cfg.Model)
	}
	for _, tu := range resp.ToolUses() {
		out.Calls = append(out.Calls, ToolCall{ID: tu.ID, Name: tu.Name, Input: tu.Input})
	}
	return out, nil
}

// GeminiProvider runs turns against the Gemini API. Gemini has no web
// search server tool here, so TurnRequest.WebSearch is ignored.
type GeminiProvider struct {
	client  gemini.Client
	cfg     config.GeminiConfig
	pricing *cost.Calculator
}

// NewGeminiProvider creates a GeminiProvider. pricing may be nil.
func NewGeminiProvider(client gemini.Client, cfg config.GeminiConfig, pricing *cost.Calculator) *GeminiProvider {
	return &GeminiProvider{client: client, cfg: cfg, pricing: pricing}
}

func (p *GeminiProvider) Name() string  { return "gemini" }
func (p *GeminiProvider) Model() string { return p.cfg.Model }

func (p *GeminiProvider) Turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	temp := float32(p.cfg.Temperature)
	gr := gemini.Request{
		Model:           p.cfg.Model,
		System:          req.System,
		Temperature:     &temp,
		MaxOutputTokens: int32(p.cfg.MaxTokens),
	}
	for _, m := range req.Messages {
		gc := gemini.Content{Role: "user", Text: m.Text}
		if m.Role == model.RoleAssistant {
			gc.Role = "model"
		}
		for _, c := range m.Calls {
			args, err := decodeArgs(c.Input)
			if err != nil {
				return nil, err
			}
			gc.Calls = append(gc.Calls, gemini.FunctionCall{ID: c.ID, Name: c.Name, Args: args})
		}
		for _, r := range m.Results {
			key := "output"
			if r.IsError {
				key = "error"
			}
			gc.Responses = append(gc.Responses, gemini.FunctionResponse{
				ID:       r.CallID,
				Name:     r.Name,
				Response: map[string]any{key: r.Content},
			})
		}
		gr.Contents = append(gr.Contents, gc)
	}
	for _, s := range req.Tools {
		gr.Functions = append(gr.Functions, gemini.FunctionDeclaration{
			Name:        s.Name,
			Description: s.Description,
			Parameters:  s.Schema(),
		})
	}

	resp, err := p.client.GenerateContent(ctx, gr)
	if err != nil {
		return nil, err
	}

	out := &TurnResult{
		Text: resp.Text,
		Usage: model.TokenUsage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CandidateTokens),
		},
	}
	if p.pricing != nil {
		out.Usage.Cost = p.pricing.Usage(p.Name(), p.cfg.Model, out.Usage)
	}
	for _, c := range resp.Calls {
		input, err := json.Marshal(c.Args)
		if err != nil {
			return nil, eris.Wrapf(err, "agent: encode args for %s", c.Name)
		}
		out.Calls = append(out.Calls, ToolCall{ID: c.ID, Name: c.Name, Input: input})
	}
	return out, nil
}

func decodeArgs(raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	if len(raw) == 0 || string(raw) == "null" {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, eris.Wrap(err, "agent: decode tool input")
	}
	return args, nil
}
