package expressions

import "context"

// Engine evaluates expressions against pipeline data.
// Three implementations: CEL (validation policy guards), Expr
// (classification rules), GoJQ (result queries).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
