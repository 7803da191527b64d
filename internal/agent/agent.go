// Package agent runs prompts through a completion provider with a bounded
// tool-calling loop, request rate limiting and per-provider circuit breaking.
package agent

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/resilience"
)

// ErrToolRoundsExceeded is returned when the model keeps requesting tools
// past the configured round limit.
var ErrToolRoundsExceeded = eris.New("agent: tool rounds exceeded")

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID    string
	Name  string
	Input json.RawMessage
}

// ToolResult answers a ToolCall.
type ToolResult struct {
	CallID  string
	Name    string
	Content string
	IsError bool
}

// Message is one provider-neutral conversation entry.
type Message struct {
	Role    model.Role
	Text    string
	Calls   []ToolCall
	Results []ToolResult
}

// TurnRequest is a single model request.
type TurnRequest struct {
	System    string
	Messages  []Message
	Tools     []ToolSpec
	WebSearch bool
}

// TurnResult is a single model response.
type TurnResult struct {
	Text  string
	Calls []ToolCall
	Usage model.TokenUsage
}

// Provider runs one model turn.
type Provider interface {
	Name() string
	Model() string
	Turn(ctx context.Context, req TurnRequest) (*TurnResult, error)
}

// Request is a prompt plus the prior conversation it continues.
type Request struct {
	History []model.Turn
	System  string
	Prompt  string
	// Tools exposes the tool set (and web search, when the provider has it).
	Tools bool
}

// Response is the final text of a completed prompt.
type Response struct {
	Text      string
	Usage     model.TokenUsage
	ToolCalls int
}

// Completer answers prompts. Agent implements it.
type Completer interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Options configures an Agent.
type Options struct {
	MaxToolRounds     int
	RequestsPerSecond float64
	Burst             int
	Retry             resilience.RetryConfig
	Breakers          *resilience.ServiceBreakers
}

// Agent implements Completer over a Provider.
type Agent struct {
	provider  Provider
	tools     *ToolSet
	limiter   *rate.Limiter
	breakers  *resilience.ServiceBreakers
	retry     resilience.RetryConfig
	maxRounds int
}

// New creates an Agent. tools may be nil.
func New(p Provider, tools *ToolSet, opts Options) *Agent {
	if tools == nil {
		tools = NewToolSet()
	}
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	breakers := opts.Breakers
	if breakers == nil {
		cfg := resilience.DefaultCircuitBreakerConfig()
		cfg.ShouldTrip = resilience.IsTransient
		breakers = resilience.NewServiceBreakers(cfg)
	}
	rounds := opts.MaxToolRounds
	if rounds < 1 {
		rounds = 8
	}
	retry := opts.Retry
	if retry.OnRetry == nil {
		retry.OnRetry = resilience.RetryLogger(p.Name(), "turn")
	}
	return &Agent{
		provider:  p,
		tools:     tools,
		limiter:   rate.NewLimiter(limit, burst),
		breakers:  breakers,
		retry:     retry,
		maxRounds: rounds,
	}
}

// Provider returns the underlying provider.
func (a *Agent) Provider() Provider { return a.provider }

// Complete sends req.Prompt after req.History and resolves tool calls until
// the model answers with text only.
func (a *Agent) Complete(ctx context.Context, req Request) (*Response, error) {
	msgs := make([]Message, 0, len(req.History)+1)
	for _, t := range req.History {
		msgs = append(msgs, Message{Role: t.Role, Text: t.Content})
	}
	msgs = append(msgs, Message{Role: model.RoleUser, Text: req.Prompt})

	turn := TurnRequest{System: req.System, Messages: msgs}
	if req.Tools {
		turn.Tools = a.tools.Specs()
		turn.WebSearch = true
	}

	resp := &Response{}
	for round := 0; ; round++ {
		res, err := a.turn(ctx, turn)
		if err != nil {
			return nil, err
		}
		resp.Usage.Add(res.Usage)

		if len(res.Calls) == 0 {
			resp.Text = strings.TrimSpace(res.Text)
			return resp, nil
		}
		if round >= a.maxRounds {
			return nil, eris.Wrapf(ErrToolRoundsExceeded, "after %d rounds", round)
		}

		turn.Messages = append(turn.Messages, Message{
			Role:  model.RoleAssistant,
			Text:  res.Text,
			Calls: res.Calls,
		})
		results := make([]ToolResult, 0, len(res.Calls))
		for _, call := range res.Calls {
			results = append(results, a.tools.Invoke(ctx, call))
			resp.ToolCalls++
		}
		turn.Messages = append(turn.Messages, Message{Role: model.RoleUser, Results: results})
	}
}

func (a *Agent) turn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	cb := a.breakers.Get(a.provider.Name())
	return resilience.DoVal(ctx, a.retry, func(ctx context.Context) (*TurnResult, error) {
		if err := a.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "agent: rate limit wait")
		}
		return resilience.ExecuteVal(ctx, cb, func(ctx context.Context) (*TurnResult, error) {
			res, err := a.provider.Turn(ctx, req)
			if err != nil {
				zap.L().Debug("agent: turn failed",
					zap.String("provider", a.provider.Name()),
					zap.Error(err),
				)
				return nil, err
			}
			return res, nil
		})
	})
}
