package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insight-cli/internal/agent"
	"github.com/sells-group/insight-cli/internal/model"
	"github.com/sells-group/insight-cli/internal/prompts"
	"github.com/sells-group/insight-cli/internal/store"
)

type mockCompleter struct {
	mock.Mock
}

func (m *mockCompleter) Complete(ctx context.Context, req agent.Request) (*agent.Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*agent.Response), args.Error(1)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) Send(ctx context.Context, prompt string, tools bool) (*agent.Response, error) {
	args := m.Called(ctx, prompt, tools)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*agent.Response), args.Error(1)
}

type mockConversation struct {
	mockSender
	identity string
}

func (m *mockConversation) Identity() string { return m.identity }

// memorySink is a write-once output sink.
type memorySink struct {
	mu      sync.Mutex
	outputs map[string]string
	err     error
}

func newMemorySink() *memorySink {
	return &memorySink{outputs: map[string]string{}}
}

func (s *memorySink) WriteOutput(_ context.Context, key, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, ok := s.outputs[key]; ok {
		return store.ErrOutputExists
	}
	s.outputs[key] = content
	return nil
}

func reply(text string) *agent.Response {
	return &agent.Response{
		Text:  text,
		Usage: model.TokenUsage{InputTokens: 100, OutputTokens: 20, Cost: 0.01},
	}
}

// promptHas matches a Send prompt containing every fragment.
func promptHas(subs ...string) any {
	return mock.MatchedBy(func(p string) bool { return containsAll(p, subs) })
}

// requestHas matches a completion request whose prompt contains every
// fragment.
func requestHas(subs ...string) any {
	return mock.MatchedBy(func(r agent.Request) bool { return containsAll(r.Prompt, subs) })
}

func containsAll(s string, subs []string) bool {
	for _, sub := range subs {
		if !strings.Contains(s, sub) {
			return false
		}
	}
	return true
}

// countPrompts counts recorded calls whose prompt contains sub.
func countPrompts(calls []mock.Call, sub string) int {
	n := 0
	for _, c := range calls {
		switch a := c.Arguments.Get(1).(type) {
		case string:
			if strings.Contains(a, sub) {
				n++
			}
		case agent.Request:
			if strings.Contains(a.Prompt, sub) {
				n++
			}
		}
	}
	return n
}

func testPrompts(t *testing.T) *prompts.Set {
	t.Helper()
	ps, err := prompts.Default()
	require.NoError(t, err)
	return ps
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "insight.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// Prompt fragments that identify each stage.
const (
	schemaPrompt     = "describe every table"
	marketPrompt     = "identify the markets"
	segmentPrompt    = "focus on the market: **"
	audiencePrompt   = "Identify the customer segments"
	probePrompt      = "TAM (Total Addressable Market)"
	auditPrompt      = "data compliance risk"
	validationPrompt = "Decide whether the question below"
	brandPrompt      = "Help me to do brand design"
)

const schemaAllowedJSON = `{
  "description": {
    "tables": [
      {
        "table_name": "orders",
        "columns": ["id", "amount", "region", "created_at"],
        "sample_data": [{"id": 1, "amount": 19.5, "region": "west", "created_at": "2024-03-01"}]
      },
      {
        "table_name": "products",
        "columns": [{"column_name": "id"}, {"column_name": "name"}]
      }
    ]
  }
}`

const schemaDeniedJSON = `{
  "description": {
    "tables": [
      {"table_name": "orders", "columns": ["id", "amount"]},
      {"table_name": "users", "columns": ["id", "email", "religion"]}
    ]
  }
}`

const allowedVerdictJSON = `{
  "table_name": "%s",
  "contains_personal_data": false,
  "contains_sensitive_data": false,
  "contains_sensitive_fields": null,
  "allowed_to_use": true
}`

const usersVerdictJSON = `{
  "table_name": "users",
  "contains_personal_data": true,
  "contains_sensitive_data": true,
  "contains_sensitive_fields": ["religion"],
  "allowed_to_use": false
}`

const marketJSON = `{
  "market_segments": [
    {
      "market_name": "Regional Retail",
      "description": "Independent retailers comparing regional demand",
      "strategy": "Partner with retail associations",
      "tam_usd": "$4.2B (IBISWorld 2024)"
    },
    {
      "market_name": "Logistics Planning",
      "description": "Carriers forecasting order volume",
      "strategy": "Sell through freight platforms",
      "tam_usd": "$1.1B"
    }
  ],
  "analysis_notes": "two markets"
}`

func audienceJSON(segment, question string) string {
	return `{
  "segments": [
    {
      "segment_name": "` + segment + `",
      "profile": {"industry": "Retail", "company_size": "10-50", "region": ["US", "CA"], "roles": ["Owner"]},
      "willingness_to_pay": {"tier": "medium", "budget_range_usd": "5k-20k"},
      "valued_questions": [
        {
          "question": "` + question + `",
          "mapped_pain_point": "stock-outs",
          "problem_type": "descriptive",
          "monetization_path": ["subscription"],
          "decision_value": "regional allocation",
          "data_requirement": ["orders.region", "orders.amount"]
        }
      ]
    }
  ]
}`
}

const directReportJSON = "```json\n" + `{
  "question": "echoed",
  "data_requirement": "orders.region, orders.amount",
  "sql_query": "SELECT region, SUM(amount) FROM orders GROUP BY region",
  "result_type": 1,
  "reasoning": "orders carries both columns"
}` + "\n```"

const brandJSON = `{
  "chatapp_name": "Shelfwise",
  "chatapp_description": "Regional demand answers for independent retailers.",
  "chatapp_core_features": [
    {"feature_title": "Demand Map", "intro": "Revenue by region."},
    {"feature_title": "Stock Alerts", "intro": "Spot stock-outs early."},
    {"feature_title": "Carrier View", "intro": "Forecast shipping volume."},
    {"feature_title": "Ask Anything", "intro": "Questions in plain language."}
  ]
}`
