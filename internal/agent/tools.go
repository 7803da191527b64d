package agent

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/pkg/mcptool"
)

// ToolSpec describes a tool to the model. Properties and Required form the
// JSON schema of the tool's input object.
type ToolSpec struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// Schema returns the full JSON schema object for the tool input.
func (s ToolSpec) Schema() map[string]any {
	props := s.Properties
	if props == nil {
		props = map[string]any{}
	}
	schema := map[string]any{"type": "object", "properties": props}
	if len(s.Required) > 0 {
		schema["required"] = s.Required
	}
	return schema
}

// Tool is a function the model can call.
type Tool interface {
	Spec() ToolSpec
	Call(ctx context.Context, input json.RawMessage) (string, error)
}

// ToolSet is a named collection of tools, listed in registration order.
type ToolSet struct {
	mu    sync.RWMutex
	order []string
	tools map[string]Tool
}

// NewToolSet creates a ToolSet holding tools.
func NewToolSet(tools ...Tool) *ToolSet {
	ts := &ToolSet{tools: make(map[string]Tool)}
	for _, t := range tools {
		ts.Add(t)
	}
	return ts
}

// Add registers t, replacing any tool with the same name.
func (ts *ToolSet) Add(t Tool) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	name := t.Spec().Name
	if _, ok := ts.tools[name]; !ok {
		ts.order = append(ts.order, name)
	}
	ts.tools[name] = t
}

// Specs returns the spec of every tool.
func (ts *ToolSet) Specs() []ToolSpec {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := make([]ToolSpec, 0, len(ts.order))
	for _, name := range ts.order {
		out = append(out, ts.tools[name].Spec())
	}
	return out
}

// Names returns the registered tool names, sorted.
func (ts *ToolSet) Names() []string {
	ts.mu.RLock()
	defer ts.mu.RUnlock()
	out := append([]string(nil), ts.order...)
	sort.Strings(out)
	return out
}

// Invoke runs call and converts any failure into an error result for the
// model, so a failing tool never aborts the turn.
func (ts *ToolSet) Invoke(ctx context.Context, call ToolCall) ToolResult {
	res := ToolResult{CallID: call.ID, Name: call.Name}

	ts.mu.RLock()
	t, ok := ts.tools[call.Name]
	ts.mu.RUnlock()
	if !ok {
		res.Content = "unknown tool: " + call.Name
		res.IsError = true
		return res
	}

	start := time.Now()
	out, err := t.Call(ctx, call.Input)
	zap.L().Debug("agent: tool call",
		zap.String("tool", call.Name),
		zap.Duration("elapsed", time.Since(start)),
		zap.Bool("error", err != nil),
	)
	if err != nil {
		res.Content = err.Error()
		res.IsError = true
		return res
	}
	res.Content = out
	return res
}

// ClockTool reports the current time so the model can date its analysis.
type ClockTool struct {
	Now func() time.Time
}

func (c ClockTool) Spec() ToolSpec {
	return ToolSpec{
		Name:        "get_current_time",
		Description: "Returns the current date and time in UTC (RFC 3339).",
	}
}

func (c ClockTool) Call(_ context.Context, _ json.RawMessage) (string, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	return now().UTC().Format(time.RFC3339), nil
}

// Remote is the MCP connector surface the agent uses.
type Remote interface {
	Tools(ctx context.Context) ([]mcptool.Tool, error)
	Call(ctx context.Context, name string, input json.RawMessage) (*mcptool.Result, error)
}

// MCPTool forwards calls to one tool on a remote MCP server.
type MCPTool struct {
	remote Remote
	spec   ToolSpec
}

func (t *MCPTool) Spec() ToolSpec { return t.spec }

func (t *MCPTool) Call(ctx context.Context, input json.RawMessage) (string, error) {
	res, err := t.remote.Call(ctx, t.spec.Name, input)
	if err != nil {
		return "", err
	}
	if res.IsError {
		return "", eris.Errorf("agent: tool %s failed: %s", t.spec.Name, res.Text)
	}
	return res.Text, nil
}

// RemoteTools lists the tools of remote as agent tools. A non-empty allow
// list keeps only the named tools.
func RemoteTools(ctx context.Context, remote Remote, allow ...string) ([]Tool, error) {
	listed, err := remote.Tools(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "agent: list remote tools")
	}
	keep := make(map[string]bool, len(allow))
	for _, name := range allow {
		keep[name] = true
	}
	var out []Tool
	for _, t := range listed {
		if len(keep) > 0 && !keep[t.Name] {
			continue
		}
		out = append(out, &MCPTool{remote: remote, spec: ToolSpec{
			Name:        t.Name,
			Description: t.Description,
			Properties:  t.Properties,
			Required:    t.Required,
		}})
	}
	return out, nil
}
