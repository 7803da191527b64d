package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/insight-cli/internal/model"
)

func TestParseVerdict(t *testing.T) {
	v, err := parseVerdict(usersVerdictJSON)
	require.NoError(t, err)
	assert.Equal(t, "users", v.TableName)
	assert.True(t, v.ContainsSensitiveData)
	require.NotNil(t, v.SensitiveFields)
	assert.Equal(t, []string{"religion"}, *v.SensitiveFields)
	assert.False(t, v.AllowedToUse)

	v, err = parseVerdict(fmt.Sprintf(allowedVerdictJSON, "orders"))
	require.NoError(t, err)
	assert.Nil(t, v.SensitiveFields)
	assert.True(t, v.AllowedToUse)
}

func TestParseVerdict_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"prose", "The table looks fine to me."},
		{"missing field", `{"table_name": "t", "contains_personal_data": false, "contains_sensitive_data": false, "allowed_to_use": true}`},
		{"wrong type", `{"table_name": "t", "contains_personal_data": "no", "contains_sensitive_data": false, "contains_sensitive_fields": null, "allowed_to_use": true}`},
		{"fields without sensitive", `{"table_name": "t", "contains_personal_data": false, "contains_sensitive_data": false, "contains_sensitive_fields": ["ssn"], "allowed_to_use": true}`},
		{"sensitive without fields", `{"table_name": "t", "contains_personal_data": true, "contains_sensitive_data": true, "contains_sensitive_fields": null, "allowed_to_use": false}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseVerdict(tt.raw)
			assert.Error(t, err)
		})
	}
}

func TestAuditor_Audit(t *testing.T) {
	ps := testPrompts(t)
	sender := &mockSender{}
	sender.On("Send", mock.Anything, promptHas(`"table_name":"users"`), false).Return(reply(usersVerdictJSON), nil)
	sender.On("Send", mock.Anything, promptHas(`"table_name":"orders"`), false).
		Return(reply(fmt.Sprintf(allowedVerdictJSON, "renamed_by_model")), nil)

	a := NewAuditor(sender, ps, 2)
	ctx := context.Background()

	users := a.Audit(ctx, model.TableDescriptor{Name: "users", Columns: []string{"id", "religion"}})
	assert.False(t, users.AllowedToUse)
	assert.Empty(t, users.Error)

	orders := a.Audit(ctx, model.TableDescriptor{Name: "orders", Columns: []string{"id"}})
	assert.True(t, orders.AllowedToUse)
	assert.Equal(t, "orders", orders.TableName)
}

func TestAuditor_AuditFailuresDeny(t *testing.T) {
	ps := testPrompts(t)
	sender := &mockSender{}
	sender.On("Send", mock.Anything, promptHas(`"table_name":"broken"`), false).Return(nil, errors.New("rate limited"))
	sender.On("Send", mock.Anything, promptHas(`"table_name":"garbled"`), false).Return(reply("allowed, probably"), nil)

	a := NewAuditor(sender, ps, 1)
	ctx := context.Background()

	broken := a.Audit(ctx, model.TableDescriptor{Name: "broken"})
	assert.False(t, broken.AllowedToUse)
	assert.Contains(t, broken.Error, "rate limited")

	garbled := a.Audit(ctx, model.TableDescriptor{Name: "garbled"})
	assert.False(t, garbled.AllowedToUse)
	assert.NotEmpty(t, garbled.Error)
}

func TestAuditor_AuditAll(t *testing.T) {
	ps := testPrompts(t)

	tables := []model.TableDescriptor{{Name: "a"}, {Name: "b"}, {Name: "c"}, {Name: "d"}}

	t.Run("all allowed", func(t *testing.T) {
		sender := &mockSender{}
		for _, tb := range tables {
			sender.On("Send", mock.Anything, promptHas(fmt.Sprintf(`"table_name":"%s"`, tb.Name)), false).
				Return(reply(fmt.Sprintf(allowedVerdictJSON, tb.Name)), nil)
		}

		summary := NewAuditor(sender, ps, 3).AuditAll(context.Background(), tables)
		assert.True(t, summary.AllAllowed)
		require.Len(t, summary.Verdicts, 4)
		for i, v := range summary.Verdicts {
			assert.Equal(t, tables[i].Name, v.TableName)
		}
	})

	t.Run("one denied", func(t *testing.T) {
		sender := &mockSender{}
		for _, tb := range tables {
			text := fmt.Sprintf(allowedVerdictJSON, tb.Name)
			if tb.Name == "c" {
				text = usersVerdictJSON
			}
			sender.On("Send", mock.Anything, promptHas(fmt.Sprintf(`"table_name":"%s"`, tb.Name)), false).
				Return(reply(text), nil)
		}

		summary := NewAuditor(sender, ps, 3).AuditAll(context.Background(), tables)
		assert.False(t, summary.AllAllowed)
		denied := summary.Denied()
		require.Len(t, denied, 1)
		assert.Equal(t, "c", denied[0].TableName)
	})

	t.Run("no tables", func(t *testing.T) {
		summary := NewAuditor(&mockSender{}, ps, 3).AuditAll(context.Background(), nil)
		assert.False(t, summary.AllAllowed)
		assert.Empty(t, summary.Verdicts)
	})
}
