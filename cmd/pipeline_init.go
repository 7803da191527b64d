package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/insight-cli/internal/agent"
	"github.com/sells-group/insight-cli/internal/cost"
	"github.com/sells-group/insight-cli/internal/pipeline"
	"github.com/sells-group/insight-cli/internal/prompts"
	"github.com/sells-group/insight-cli/internal/resilience"
	"github.com/sells-group/insight-cli/internal/session"
	"github.com/sells-group/insight-cli/internal/store"
	anthropicpkg "github.com/sells-group/insight-cli/pkg/anthropic"
	"github.com/sells-group/insight-cli/pkg/gemini"
	"github.com/sells-group/insight-cli/pkg/mcptool"
)

// mcpDialTimeout bounds each request to the MCP server.
const mcpDialTimeout = 60 * time.Second

// pipelineEnv holds the clients, stores and the pipeline needed by the
// run/audit/serve commands.
type pipelineEnv struct {
	Store    store.Store
	Sessions *session.Manager
	MCP      *mcptool.Connector
	Agent    *agent.Agent
	Pipeline *pipeline.Pipeline
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.Sessions != nil {
		_ = pe.Sessions.Close()
	}
	if pe.MCP != nil {
		_ = pe.MCP.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates the config for mode, connects to the MCP server,
// opens both databases and builds the Pipeline. Callers should defer
// env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	env := &pipelineEnv{}
	fail := func(err error) (*pipelineEnv, error) {
		env.Close()
		return nil, err
	}

	ps, err := prompts.Load(cfg.Prompts.Path)
	if err != nil {
		return fail(err)
	}

	env.Store, err = initStore(ctx)
	if err != nil {
		return fail(err)
	}
	if err := env.Store.Migrate(ctx); err != nil {
		return fail(eris.Wrap(err, "migrate store"))
	}

	env.MCP, err = mcptool.Dial(ctx, mcptool.Options{
		URL:         cfg.Supabase.ServerURL(),
		AccessToken: cfg.Supabase.AccessToken,
		Timeout:     mcpDialTimeout,
		ClientName:  "insight-cli",
		Version:     version,
	})
	if err != nil {
		return fail(eris.Wrap(err, "connect to supabase mcp"))
	}
	remote, err := agent.RemoteTools(ctx, env.MCP)
	if err != nil {
		return fail(err)
	}
	tools := agent.NewToolSet(agent.ClockTool{})
	for _, t := range remote {
		tools.Add(t)
	}
	zap.L().Info("mcp tools registered", zap.Strings("tools", tools.Names()))

	env.Agent, err = initAgent(ctx, tools)
	if err != nil {
		return fail(err)
	}

	env.Sessions, err = session.OpenManager(ctx, cfg.Session.Path, env.Agent, ps.Text(prompts.KeySystem))
	if err != nil {
		return fail(err)
	}

	env.Pipeline = pipeline.New(cfg.Pipeline, env.Store, pipeline.FromManager(env.Sessions), env.Agent, ps)
	return env, nil
}

// initAgent builds the configured provider behind the rate-limited,
// retried and circuit-broken agent loop.
func initAgent(ctx context.Context, tools *agent.ToolSet) (*agent.Agent, error) {
	provider, err := initProvider(ctx)
	if err != nil {
		return nil, err
	}

	breakerCfg := resilience.FromCircuitConfig(cfg.Agent.BreakerThreshold, cfg.Agent.BreakerResetSecs)
	breakerCfg.ShouldTrip = resilience.IsTransient

	return agent.New(provider, tools, agent.Options{
		MaxToolRounds:     cfg.Agent.MaxToolRounds,
		RequestsPerSecond: cfg.Agent.RequestsPerSecond,
		Burst:             cfg.Agent.Burst,
		Retry:             resilience.FromRetryConfig(cfg.Agent.RetryAttempts, cfg.Agent.InitialBackoffMs, cfg.Agent.MaxBackoffMs),
		Breakers:          resilience.NewServiceBreakers(breakerCfg),
	}), nil
}

func initProvider(ctx context.Context) (agent.Provider, error) {
	pricing := cost.NewCalculator(cost.DefaultRates())

	switch cfg.Provider.Name {
	case "anthropic":
		client := anthropicpkg.NewClient(cfg.Anthropic.Key)
		return agent.NewAnthropicProvider(client, cfg.Anthropic, pricing), nil
	case "gemini":
		client, err := gemini.NewClient(ctx, cfg.Gemini.Key, "")
		if err != nil {
			return nil, eris.Wrap(err, "init gemini")
		}
		return agent.NewGeminiProvider(client, cfg.Gemini, pricing), nil
	default:
		return nil, eris.Errorf("unsupported provider: %s", cfg.Provider.Name)
	}
}
