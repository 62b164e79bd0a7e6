package classify

import (
	"context"
	"strings"

	"github.com/rendis/artifactflow/internal/expressions"
	"github.com/rendis/artifactflow/pkg/schema"
)

// Rule is a single classification heuristic. Expression is a boolean expr
// program evaluated against {prompt, prompt_lower, word_count}; when it
// matches, Keywords are reported and Weight is added to the confidence.
type Rule struct {
	Name       string   `json:"name"`
	Expression string   `json:"expression"`
	Keywords   []string `json:"keywords"`
	Weight     float64  `json:"weight"`
}

// DefaultRules cover the prompt shapes that usually precede artifact
// generation. Callers with their own taxonomy pass rules to NewHeuristic.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "build-request",
			Expression: `prompt_lower contains "create" or prompt_lower contains "build" or prompt_lower contains "make me" or prompt_lower contains "generate"`,
			Keywords:   []string{"create", "build"},
			Weight:     0.4,
		},
		{
			Name:       "ui-artifact",
			Expression: `prompt_lower contains "component" or prompt_lower contains "dashboard" or prompt_lower contains "chart" or prompt_lower contains "page" or prompt_lower contains "interactive"`,
			Keywords:   []string{"component", "dashboard", "chart"},
			Weight:     0.3,
		},
		{
			Name:       "code-artifact",
			Expression: `prompt_lower contains "code" or prompt_lower contains "script" or prompt_lower contains "function" or prompt_lower contains "react" or prompt_lower contains "html"`,
			Keywords:   []string{"code", "react", "html"},
			Weight:     0.3,
		},
		{
			Name:       "diagram-artifact",
			Expression: `prompt_lower contains "diagram" or prompt_lower contains "flowchart" or prompt_lower contains "mermaid"`,
			Keywords:   []string{"diagram", "mermaid"},
			Weight:     0.3,
		},
		{
			Name:       "substantial-prompt",
			Expression: `word_count > 30`,
			Keywords:   nil,
			Weight:     0.1,
		},
	}
}

// noMatchConfidence is reported when no rule fires. Low on purpose so a bare
// informational question never clears the enhancement gate.
const noMatchConfidence = 0.1

// Heuristic is a rule-driven intent classifier. It satisfies the
// orchestrator's classifier seam and makes the pipeline runnable without an
// external model behind it.
type Heuristic struct {
	rules  []Rule
	engine *expressions.ExprEngine
}

// NewHeuristic creates a classifier from the given rules. Nil rules means
// DefaultRules.
func NewHeuristic(rules []Rule) *Heuristic {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Heuristic{
		rules:  rules,
		engine: expressions.NewExprEngine(),
	}
}

// Classify evaluates every rule against the prompt and aggregates matches.
// Confidence is the capped sum of matched rule weights. A rule whose
// expression fails to evaluate is skipped rather than failing the whole
// classification.
func (h *Heuristic) Classify(ctx context.Context, prompt string) (*schema.Intent, error) {
	lower := strings.ToLower(prompt)
	env := map[string]any{
		"prompt":       prompt,
		"prompt_lower": lower,
		"word_count":   len(strings.Fields(prompt)),
	}

	intent := &schema.Intent{Confidence: noMatchConfidence}
	seen := make(map[string]bool)

	for _, rule := range h.rules {
		out, err := h.engine.Evaluate(ctx, rule.Expression, env)
		if err != nil {
			continue
		}
		matched, ok := out.(bool)
		if !ok || !matched {
			continue
		}

		if !intent.ShouldEnhance {
			intent.ShouldEnhance = true
			intent.Confidence = 0
		}
		intent.Confidence += rule.Weight
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) && !seen[kw] {
				seen[kw] = true
				intent.DetectedKeywords = append(intent.DetectedKeywords, kw)
			}
		}
	}

	if intent.Confidence > 1.0 {
		intent.Confidence = 1.0
	}
	return intent, nil
}

// NoopEnhancer passes prompts through untouched. It stands in for an
// external enhancement service when none is configured.
type NoopEnhancer struct{}

// Enhance returns the prompt unchanged with WasEnhanced=false.
func (NoopEnhancer) Enhance(ctx context.Context, prompt string) (*schema.Enhancement, error) {
	return &schema.Enhancement{
		EnhancedPrompt: prompt,
		WasEnhanced:    false,
		Confidence:     0,
	}, nil
}
