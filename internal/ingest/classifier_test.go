package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"deskrelay/internal/config"
	"deskrelay/internal/logger"
)

func envelopeWithHeaders(headers map[string]string) *InboundEnvelope {
	return &InboundEnvelope{
		To:       "ticket-1@reply.example.com",
		From:     "alice@example.com",
		Subject:  "Re: widget",
		TextBody: "hello",
		headers:  headers,
	}
}

func TestClassifyDefaults(t *testing.T) {
	classifier, err := NewClassifier(nil, logger.NopLogger())
	require.NoError(t, err)

	tests := []struct {
		name    string
		headers map[string]string
		want    []string
	}{
		{
			name:    "plain reply is not flagged",
			headers: map[string]string{"message-id": "<abc@mail>"},
			want:    nil,
		},
		{
			name:    "auto-submitted auto-replied",
			headers: map[string]string{"auto-submitted": "auto-replied"},
			want:    []string{"auto_submitted"},
		},
		{
			name:    "auto-submitted no is not flagged",
			headers: map[string]string{"auto-submitted": "no"},
			want:    nil,
		},
		{
			name:    "precedence bulk",
			headers: map[string]string{"precedence": "bulk"},
			want:    []string{"precedence_bulk"},
		},
		{
			name:    "precedence list is not flagged",
			headers: map[string]string{"precedence": "list"},
			want:    nil,
		},
		{
			name:    "x-autoreply",
			headers: map[string]string{"x-autoreply": "yes"},
			want:    []string{"x_autoreply"},
		},
		{
			name: "multiple rules match",
			headers: map[string]string{
				"auto-submitted": "auto-generated",
				"precedence":     "junk",
			},
			want: []string{"auto_submitted", "precedence_bulk"},
		},
		{
			name:    "empty header map",
			headers: map[string]string{},
			want:    nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifier.Classify(context.Background(), envelopeWithHeaders(tt.headers), 5)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyCustomRules(t *testing.T) {
	rules := []config.ClassifierRule{
		{Name: "tiny_content", Expression: `content_bytes < 10`},
		{Name: "noreply_sender", Expression: `from.startsWith("noreply@")`},
	}
	classifier, err := NewClassifier(rules, logger.NopLogger())
	require.NoError(t, err)

	env := envelopeWithHeaders(map[string]string{})
	env.From = "noreply@example.com"

	got := classifier.Classify(context.Background(), env, 4)
	assert.Equal(t, []string{"tiny_content", "noreply_sender"}, got)

	got = classifier.Classify(context.Background(), env, 500)
	assert.Equal(t, []string{"noreply_sender"}, got)
}

func TestNewClassifierRejectsBadRules(t *testing.T) {
	tests := []struct {
		name string
		rule config.ClassifierRule
	}{
		{
			name: "syntax error",
			rule: config.ClassifierRule{Name: "broken", Expression: `this is not CEL!!!`},
		},
		{
			name: "non-bool output",
			rule: config.ClassifierRule{Name: "non_bool", Expression: `subject`},
		},
		{
			name: "undefined variable",
			rule: config.ClassifierRule{Name: "unknown_var", Expression: `body == "x"`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClassifier([]config.ClassifierRule{tt.rule}, logger.NopLogger())
			assert.Error(t, err)
		})
	}
}
