package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insight-cli/internal/agent"
	"github.com/sells-group/insight-cli/internal/model"
)

// panicSender panics on prompts containing trigger and defers to next
// otherwise.
type panicSender struct {
	next    Sender
	trigger string
}

func (p panicSender) Send(ctx context.Context, prompt string, tools bool) (*agent.Response, error) {
	if strings.Contains(prompt, p.trigger) {
		panic("validator exploded")
	}
	return p.next.Send(ctx, prompt, tools)
}

func question(text, requirement string) model.ValuedQuestion {
	return model.ValuedQuestion{
		Question:        model.FlexString(text),
		DataRequirement: model.FlexString(requirement),
	}
}

func TestParseReport(t *testing.T) {
	r, err := parseReport(directReportJSON)
	require.NoError(t, err)
	assert.Equal(t, model.ResultDirectSQL, r.ResultType)
	require.NotNil(t, r.SQLQuery)
	assert.Contains(t, *r.SQLQuery, "GROUP BY region")

	r, err = parseReport(`{"result_type": 2, "sql_query": "SELECT 1", "reasoning": "needs a join table"}`)
	require.NoError(t, err)
	assert.Equal(t, model.ResultNeedsModeling, r.ResultType)
	assert.Nil(t, r.SQLQuery)

	r, err = parseReport(`{"result_type": 1, "sql_query": "   "}`)
	require.NoError(t, err)
	assert.Nil(t, r.SQLQuery)
}

func TestParseReport_Rejects(t *testing.T) {
	for _, raw := range []string{
		"DIRECT_SQL",
		`{"sql_query": "SELECT 1"}`,
		`{"result_type": 4}`,
		`{"result_type": "1"}`,
		`{"result_type": 1.5}`,
	} {
		_, err := parseReport(raw)
		assert.Error(t, err, raw)
	}
}

func TestValidator_Validate(t *testing.T) {
	ps := testPrompts(t)
	sender := &mockSender{}
	sender.On("Send", mock.Anything, promptHas("Which region sells most?"), false).Return(reply(directReportJSON), nil)

	v := NewValidator(sender, ps, 2)
	r := v.Validate(context.Background(), question("Which region sells most?", "orders.region"), schemaAllowedJSON)

	assert.Equal(t, "Which region sells most?", r.Question)
	assert.Equal(t, "orders.region", r.DataRequirement)
	assert.Equal(t, model.ResultDirectSQL, r.ResultType)
	require.NotNil(t, r.SQLQuery)
	assert.Empty(t, r.RawResponse)
}

func TestValidator_ValidateFailures(t *testing.T) {
	ps := testPrompts(t)
	sender := &mockSender{}
	sender.On("Send", mock.Anything, promptHas("timeout question"), false).Return(nil, errors.New("deadline exceeded"))
	sender.On("Send", mock.Anything, promptHas("prose question"), false).Return(reply("I think it is answerable."), nil)

	v := NewValidator(sender, ps, 1)
	ctx := context.Background()

	r := v.Validate(ctx, question("timeout question", "x"), "")
	assert.Equal(t, model.ResultNotAnswerable, r.ResultType)
	assert.Contains(t, r.Reasoning, "validation failed: ")
	assert.Nil(t, r.SQLQuery)

	r = v.Validate(ctx, question("prose question", "x"), "")
	assert.Equal(t, model.ResultNotAnswerable, r.ResultType)
	assert.Equal(t, "I think it is answerable.", r.RawResponse)
	assert.Equal(t, "prose question", r.Question)
}

func TestValidator_ValidateAllIsolatesFailures(t *testing.T) {
	ps := testPrompts(t)
	questions := make([]model.ValuedQuestion, 5)
	for i := range questions {
		questions[i] = question(fmt.Sprintf("question number %d", i+1), "orders")
	}

	newSender := func() *mockSender {
		s := &mockSender{}
		for i := 1; i <= 5; i++ {
			if i == 3 {
				continue
			}
			s.On("Send", mock.Anything, promptHas(fmt.Sprintf("question number %d", i)), false).
				Return(reply(directReportJSON), nil)
		}
		return s
	}

	check := func(t *testing.T, reports []model.QuestionValidationReport) {
		require.Len(t, reports, 5)
		for i, r := range reports {
			assert.Equal(t, fmt.Sprintf("question number %d", i+1), r.Question)
			if i == 2 {
				assert.Equal(t, model.ResultNotAnswerable, r.ResultType)
				continue
			}
			assert.Equal(t, model.ResultDirectSQL, r.ResultType)
		}
	}

	t.Run("error", func(t *testing.T) {
		s := newSender()
		s.On("Send", mock.Anything, promptHas("question number 3"), false).Return(nil, errors.New("boom"))
		check(t, NewValidator(s, ps, 3).ValidateAll(context.Background(), questions, schemaAllowedJSON))
	})

	t.Run("panic", func(t *testing.T) {
		s := panicSender{next: newSender(), trigger: "question number 3"}
		reports := NewValidator(s, ps, 3).ValidateAll(context.Background(), questions, schemaAllowedJSON)
		check(t, reports)
		assert.Contains(t, reports[2].Reasoning, "validator exploded")
	})
}

func TestValidator_ValidateRowsTagsSegment(t *testing.T) {
	ps := testPrompts(t)
	sender := &mockSender{}
	sender.On("Send", mock.Anything, mock.Anything, false).Return(reply(directReportJSON), nil)

	rows := []model.QuestionRow{
		{CustomerName: "Store Owners", Question: question("q1", "orders")},
		{CustomerName: "Carriers", Question: question("q2", "orders")},
	}
	reports := NewValidator(sender, ps, 2).ValidateRows(context.Background(), rows, "")

	require.Len(t, reports, 2)
	assert.Equal(t, "Store Owners", reports[0].Segment)
	assert.Equal(t, "Carriers", reports[1].Segment)
	sender.AssertNumberOfCalls(t, "Send", 2)
}
