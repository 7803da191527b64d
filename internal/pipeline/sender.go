// Package pipeline runs the staged analysis: schema retrieval, the compliance
// gate, market analysis, per-segment audience analysis with question
// validation, the merge, and the optional brand strategy.
package pipeline

import (
	"context"
	"sync"

	"github.com/sells-group/insight-cli/internal/agent"
	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/monitoring"
	"github.com/sells-group/insight-cli/internal/session"
)

// Sender sends one prompt and returns the completion.
type Sender interface {
	Send(ctx context.Context, prompt string, tools bool) (*agent.Response, error)
}

// Conversation is a Sender that keeps history between sends. Sends are
// applied in call order, so stages that share one must run one at a time
// and in a fixed order.
type Conversation interface {
	Sender
	Identity() string
}

// SessionOpener opens the conversation a run threads through its stages.
type SessionOpener interface {
	Open(ctx context.Context, identity string) (Conversation, error)
}

// SessionsFunc adapts a function to SessionOpener.
type SessionsFunc func(ctx context.Context, identity string) (Conversation, error)

// Open calls f.
func (f SessionsFunc) Open(ctx context.Context, identity string) (Conversation, error) {
	return f(ctx, identity)
}

// FromManager opens conversations from a session manager.
func FromManager(m *session.Manager) SessionOpener {
	return SessionsFunc(func(ctx context.Context, identity string) (Conversation, error) {
		conv, err := m.Open(ctx, identity)
		if err != nil {
			return nil, err
		}
		return conv, nil
	})
}

// Oneshot sends each prompt with no history. Audits, validations and the
// brand stage use it.
type Oneshot struct {
	Completer agent.Completer
	System    string
}

// Send implements Sender.
func (o Oneshot) Send(ctx context.Context, prompt string, tools bool) (*agent.Response, error) {
	return o.Completer.Complete(ctx, agent.Request{
		System: o.System,
		Prompt: prompt,
		Tools:  tools,
	})
}

// tally totals the usage of every completion a run makes.
type tally struct {
	mu    sync.Mutex
	usage model.TokenUsage
	calls int
}

func (t *tally) add(u model.TokenUsage) {
	t.mu.Lock()
	t.usage.Add(u)
	t.calls++
	t.mu.Unlock()
}

// Usage returns the running total.
func (t *tally) Usage() model.TokenUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}

// Calls returns the number of successful completions.
func (t *tally) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// meter wraps a Sender and adds each completion to a tally.
type meter struct {
	next  Sender
	tally *tally
}

func (m meter) Send(ctx context.Context, prompt string, tools bool) (*agent.Response, error) {
	resp, err := m.next.Send(ctx, prompt, tools)
	if err != nil {
		monitoring.CompletionRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	monitoring.CompletionRequests.WithLabelValues("ok").Inc()
	monitoring.CompletionTokens.WithLabelValues("input").Add(float64(resp.Usage.InputTokens))
	monitoring.CompletionTokens.WithLabelValues("output").Add(float64(resp.Usage.OutputTokens))
	m.tally.add(resp.Usage)
	return resp, nil
}

// meteredConversation keeps the identity of the conversation it meters.
type meteredConversation struct {
	meter
	identity string
}

func (c meteredConversation) Identity() string { return c.identity }
