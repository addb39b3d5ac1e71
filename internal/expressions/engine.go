package expressions

import "context"

// Engine evaluates expressions over pipeline data.
// Two implementations: GoJQ (payload extraction), Expr (filter predicates).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
