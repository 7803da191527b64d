// Package mcptool connects to a hosted MCP server over streamable HTTP and
// exposes its tools as plain name/schema/call triples.
package mcptool

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Session is the subset of an MCP client the connector uses.
type Session interface {
	ListTools(ctx context.Context, req mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	Close() error
}

// Tool describes one remote tool.
type Tool struct {
	Name        string
	Description string
	Properties  map[string]any
	Required    []string
}

// Result is the text output of a tool call.
type Result struct {
	Text    string
	IsError bool
}

// Options configures Dial.
type Options struct {
	URL         string
	AccessToken string
	Timeout     time.Duration
	ClientName  string
	Version     string
}

// Connector wraps an initialized MCP session.
type Connector struct {
	session Session
}

// New wraps an already initialized session.
func New(session Session) *Connector {
	return &Connector{session: session}
}

// Dial opens a streamable HTTP session to opts.URL and performs the MCP
// initialize handshake. The access token is sent as a bearer token.
func Dial(ctx context.Context, opts Options) (*Connector, error) {
	if opts.URL == "" {
		return nil, eris.New("mcptool: url is required")
	}
	if opts.AccessToken == "" {
		return nil, eris.New("mcptool: access token is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	c, err := client.NewStreamableHttpClient(opts.URL,
		transport.WithHTTPHeaders(map[string]string{
			"Authorization": "Bearer " + opts.AccessToken,
		}),
		transport.WithHTTPTimeout(timeout),
	)
	if err != nil {
		return nil, eris.Wrap(err, "mcptool: new client")
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, eris.Wrap(err, "mcptool: start")
	}

	init := mcp.InitializeRequest{}
	init.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	init.Params.ClientInfo = mcp.Implementation{Name: opts.ClientName, Version: opts.Version}
	res, err := c.Initialize(ctx, init)
	if err != nil {
		_ = c.Close()
		return nil, eris.Wrap(err, "mcptool: initialize")
	}

	zap.L().Info("mcptool: connected",
		zap.String("server", res.ServerInfo.Name),
		zap.String("protocol", res.ProtocolVersion),
	)
	return New(c), nil
}

// Tools lists the tools the server offers.
func (c *Connector) Tools(ctx context.Context) ([]Tool, error) {
	res, err := c.session.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, eris.Wrap(err, "mcptool: list tools")
	}
	out := make([]Tool, 0, len(res.Tools))
	for _, t := range res.Tools {
		out = append(out, Tool{
			Name:        t.Name,
			Description: t.Description,
			Properties:  t.InputSchema.Properties,
			Required:    t.InputSchema.Required,
		})
	}
	return out, nil
}

// Call invokes a tool with JSON-encoded arguments. A tool-level failure is
// reported through Result.IsError, not as an error.
func (c *Connector) Call(ctx context.Context, name string, input json.RawMessage) (*Result, error) {
	args := map[string]any{}
	if len(input) > 0 && string(input) != "null" {
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, eris.Wrapf(err, "mcptool: decode arguments for %s", name)
		}
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	res, err := c.session.CallTool(ctx, req)
	if err != nil {
		return nil, eris.Wrapf(err, "mcptool: call %s", name)
	}

	var parts []string
	for _, content := range res.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, tc.Text)
		}
	}
	return &Result{Text: strings.Join(parts, "\n"), IsError: res.IsError}, nil
}

// Close ends the session.
func (c *Connector) Close() error {
	return eris.Wrap(c.session.Close(), "mcptool: close")
}
