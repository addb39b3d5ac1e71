package pipeline

import (
	"github.com/mantelhq/triage/pkg/schema"
)

// ExecutionContext is the mutable record shared by all nodes in one pipeline
// run. It is created fresh per run and discarded afterwards. Sequential node
// execution makes it safe by construction; no locking is needed.
type ExecutionContext struct {
	// Inputs maps logical seed names (message text, file URLs) to values.
	Inputs map[string]any

	// Tools is the remote tool-catalog snapshot valid for this run.
	Tools []schema.RemoteTool

	results map[string]any
	order   []string // result insertion order = node completion order
}

// Well-known input keys seeded by the caller.
const (
	InputText  = "text"
	InputFiles = "files"
)

// NewExecutionContext creates a context seeded with the given inputs and tool
// snapshot.
func NewExecutionContext(inputs map[string]any, tools []schema.RemoteTool) *ExecutionContext {
	if inputs == nil {
		inputs = map[string]any{}
	}
	return &ExecutionContext{
		Inputs:  inputs,
		Tools:   tools,
		results: make(map[string]any),
	}
}

// Result returns the completed output of the node with the given id.
// By convention a node only reads results of its declared dependencies.
func (ec *ExecutionContext) Result(id string) (any, bool) {
	v, ok := ec.results[id]
	return v, ok
}

// ResultIDs returns node ids in completion order.
func (ec *ExecutionContext) ResultIDs() []string {
	out := make([]string, len(ec.order))
	copy(out, ec.order)
	return out
}

// Results returns a copy of all completed results.
func (ec *ExecutionContext) Results() map[string]any {
	out := make(map[string]any, len(ec.results))
	for k, v := range ec.results {
		out[k] = v
	}
	return out
}

// setResult records a node's output. Results are append-only for the duration
// of a run: overwriting an existing entry is an invariant violation.
func (ec *ExecutionContext) setResult(id string, v any) error {
	if _, exists := ec.results[id]; exists {
		return schema.NewErrorf(schema.ErrCodeValidation, "result for node %s already recorded", id).WithNode(id)
	}
	ec.results[id] = v
	ec.order = append(ec.order, id)
	return nil
}
