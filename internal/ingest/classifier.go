package ingest

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"

	"deskrelay/internal/config"
	"deskrelay/internal/logger"
	"deskrelay/pkg/metrics"
)

// DefaultClassifierRules flag the usual autoresponder and bounce
// markers. Tenants can replace them in configuration.
func DefaultClassifierRules() []config.ClassifierRule {
	return []config.ClassifierRule{
		{
			Name:       "auto_submitted",
			Expression: `"auto-submitted" in headers && headers["auto-submitted"] != "no"`,
		},
		{
			Name:       "precedence_bulk",
			Expression: `"precedence" in headers && headers["precedence"] in ["bulk", "junk", "auto_reply"]`,
		},
		{
			Name:       "x_autoreply",
			Expression: `"x-autoreply" in headers || "x-autorespond" in headers`,
		},
	}
}

type classifierProgram struct {
	name    string
	program cel.Program
}

// Classifier evaluates CEL rules against an envelope to flag low-signal
// content. Flagged messages are still stored; the flags feed logs and
// metrics only.
type Classifier struct {
	programs []classifierProgram
	logger   logger.Logger
}

func NewClassifier(rules []config.ClassifierRule, log logger.Logger) (*Classifier, error) {
	if len(rules) == 0 {
		rules = DefaultClassifierRules()
	}

	env, err := cel.NewEnv(
		cel.Variable("from", cel.StringType),
		cel.Variable("subject", cel.StringType),
		cel.Variable("headers", cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable("content_bytes", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	programs := make([]classifierProgram, 0, len(rules))
	for _, rule := range rules {
		ast, issues := env.Compile(rule.Expression)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile classifier rule %q: %w", rule.Name, issues.Err())
		}

		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("classifier rule %q must return bool, got %v", rule.Name, ast.OutputType())
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create CEL program for rule %q: %w", rule.Name, err)
		}

		programs = append(programs, classifierProgram{name: rule.Name, program: program})
	}

	return &Classifier{programs: programs, logger: log}, nil
}

// Classify returns the names of all rules matching the envelope. An
// evaluation error skips that rule; classification must never reject a
// delivery.
func (c *Classifier) Classify(ctx context.Context, env *InboundEnvelope, contentBytes int) []string {
	vars := map[string]interface{}{
		"from":          env.From,
		"subject":       env.Subject,
		"headers":       env.Headers(),
		"content_bytes": contentBytes,
	}

	var matched []string
	for _, p := range c.programs {
		result, _, err := p.program.ContextEval(ctx, vars)
		if err != nil {
			c.logger.WarnwCtx(ctx, "Classifier rule evaluation error, skipping rule",
				"rule", p.name,
				"error", err,
			)
			continue
		}

		if flagged, ok := result.Value().(bool); ok && flagged {
			metrics.FlaggedMessagesTotal.WithLabelValues(p.name).Inc()
			matched = append(matched, p.name)
		}
	}

	return matched
}
