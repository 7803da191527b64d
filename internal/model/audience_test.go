package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{`"plain"`, "plain"},
		{`["a", "b", ""]`, "a, b"},
		{`{"k": "v"}`, `{"k":"v"}`},
		{`42`, "42"},
		{`true`, "true"},
		{`null`, ""},
	}
	for _, tt := range tests {
		var f FlexString
		require.NoError(t, json.Unmarshal([]byte(tt.in), &f), tt.in)
		assert.Equal(t, tt.want, f.String(), tt.in)
	}

	assert.Equal(t, "fallback", FlexString("").Or("fallback"))
}

func TestAudienceSegment_Name(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "A", AudienceSegment{SegmentName: "A", CustomerName: "B"}.Name())
	assert.Equal(t, "B", AudienceSegment{CustomerName: "B"}.Name())
	assert.Equal(t, "Unknown", AudienceSegment{}.Name())
}

func TestCustomerAnalysis_Questions(t *testing.T) {
	t.Parallel()

	ca := &CustomerAnalysis{
		Shape: AudienceShapeSegments,
		Segments: []AudienceSegment{
			{
				SegmentName: "Owners",
				Profile:     SegmentProfile{Industry: "Retail"},
				ValuedQuestions: []ValuedQuestion{
					{Question: "q1"},
					{Question: "q2"},
				},
			},
			{CustomerName: "Carriers", ValuedQuestions: []ValuedQuestion{{Question: "q3"}}},
			{SegmentName: "Silent"},
		},
	}

	rows := ca.Questions()
	require.Len(t, rows, 3)
	assert.Equal(t, "Owners", rows[0].CustomerName)
	assert.Equal(t, "Retail", rows[0].Industry)
	assert.Equal(t, "Unknown", rows[0].CompanySize)
	assert.Equal(t, "q2", rows[1].Question.Question.String())
	assert.Equal(t, "Carriers", rows[2].CustomerName)

	var none *CustomerAnalysis
	assert.Nil(t, none.Questions())
}

func TestCustomerAnalysis_MarshalJSON(t *testing.T) {
	t.Parallel()

	known := CustomerAnalysis{Shape: AudienceShapeList, Document: []any{map[string]any{"segment_name": "A"}}}
	data, err := json.Marshal(known)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"segment_name":"A"}]`, string(data))

	unknown := CustomerAnalysis{Shape: AudienceShapeUnknown, Document: map[string]any{"x": 1}, Raw: `{"x":1}`}
	data, err = json.Marshal(unknown)
	require.NoError(t, err)
	assert.JSONEq(t, `{"shape":"unknown","raw_text":"{\"x\":1}"}`, string(data))
}
