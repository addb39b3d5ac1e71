package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mantelhq/triage/internal/logging"
	"github.com/mantelhq/triage/internal/store"
	"github.com/mantelhq/triage/pkg/schema"
)

// Node is one unit of work in a pipeline. Nodes are constructed immediately
// before a run, never reused across runs, and discarded after.
type Node interface {
	ID() string
	Kind() schema.NodeKind
	DependsOn() []string
	Execute(ctx context.Context, ec *ExecutionContext) (any, error)
}

// EventAppender is satisfied by the Store; used to record run lifecycle events.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// Pipeline is an ordered collection of nodes plus the logic to compute a valid
// execution order from their dependency graph. Built once per triggering
// event, executed exactly once, then discarded.
type Pipeline struct {
	runID  string
	logger *slog.Logger
	events EventAppender // optional

	nodes    map[string]Node
	register []string // registration order, for deterministic traversal
	executed bool
}

// New creates an empty pipeline. events may be nil to disable run logging.
func New(runID string, logger *slog.Logger, events EventAppender) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		runID:  runID,
		logger: logger,
		events: events,
		nodes:  make(map[string]Node),
	}
}

// RunID returns the pipeline's run identifier.
func (p *Pipeline) RunID() string { return p.runID }

// Add registers a node. Node ids must be unique within the pipeline and a
// node may not depend on itself.
func (p *Pipeline) Add(n Node) error {
	if n == nil {
		return schema.NewError(schema.ErrCodeValidation, "node is nil")
	}
	id := n.ID()
	if id == "" {
		return schema.NewError(schema.ErrCodeValidation, "node has empty ID")
	}
	if _, exists := p.nodes[id]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "duplicate node ID: %s", id)
	}
	for _, dep := range n.DependsOn() {
		if dep == id {
			return schema.NewErrorf(schema.ErrCodeCycleDetected, "node %s depends on itself", id).WithNode(id)
		}
	}
	p.nodes[id] = n
	p.register = append(p.register, id)
	return nil
}

// Execute resolves the dependency order and runs every node sequentially.
// The first node failure aborts the remaining order and is returned to the
// caller unchanged; results completed before the failure stay readable on the
// ExecutionContext.
func (p *Pipeline) Execute(ctx context.Context, ec *ExecutionContext) (map[string]any, error) {
	if ec == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "execution context is nil")
	}
	if p.executed {
		return nil, schema.NewError(schema.ErrCodeConflict, "pipeline already executed")
	}
	p.executed = true

	order, err := p.resolveOrder()
	if err != nil {
		return nil, err
	}

	ctx = logging.WithRunID(ctx, p.runID)
	p.emit(ctx, "", schema.EventRunStarted, map[string]any{"nodes": len(order)})

	for _, id := range order {
		node := p.nodes[id]
		nodeCtx := logging.WithNodeID(ctx, id)

		p.logger.DebugContext(nodeCtx, "node starting", slog.String("kind", string(node.Kind())))
		p.emit(nodeCtx, id, schema.EventNodeStarted, nil)

		result, execErr := node.Execute(nodeCtx, ec)
		if execErr != nil {
			p.logger.ErrorContext(nodeCtx, "node failed", slog.String("error", execErr.Error()))
			p.emit(nodeCtx, id, schema.EventNodeFailed, map[string]any{"error": execErr.Error()})
			p.emit(ctx, "", schema.EventRunFailed, map[string]any{"node": id})
			return nil, execErr
		}

		if err := ec.setResult(id, result); err != nil {
			return nil, err
		}
		p.emit(nodeCtx, id, schema.EventNodeCompleted, nil)
	}

	p.emit(ctx, "", schema.EventRunCompleted, nil)
	return ec.Results(), nil
}

// resolveOrder computes the execution order with a depth-first traversal over
// registration order, visiting dependencies before dependents. Missing
// dependencies fail with a DEPENDENCY error naming the missing id; cycles are
// detected through in-progress marking rather than left to recurse unbounded.
func (p *Pipeline) resolveOrder() ([]string, error) {
	const (
		unvisited = iota
		visiting
		done
	)

	state := make(map[string]int, len(p.nodes))
	order := make([]string, 0, len(p.nodes))

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case done:
			return nil
		case visiting:
			return schema.NewErrorf(schema.ErrCodeCycleDetected, "dependency cycle through node %s", id).WithNode(id)
		}
		state[id] = visiting

		for _, dep := range p.nodes[id].DependsOn() {
			if _, exists := p.nodes[dep]; !exists {
				return schema.NewErrorf(schema.ErrCodeDependency, "node %s depends on unregistered node: %s", id, dep).
					WithNode(id).
					WithDetails(map[string]any{"missing": dep})
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		state[id] = done
		order = append(order, id)
		return nil
	}

	for _, id := range p.register {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}

// emit records a run event, ignoring appender errors: run logging is
// diagnostic and must never fail a pipeline.
func (p *Pipeline) emit(ctx context.Context, nodeID, eventType string, payload map[string]any) {
	if p.events == nil {
		return
	}
	var raw json.RawMessage
	if payload != nil {
		raw, _ = json.Marshal(payload)
	}
	_ = p.events.AppendEvent(ctx, &store.Event{
		RunID:   p.runID,
		NodeID:  nodeID,
		Type:    eventType,
		Payload: raw,
	})
}
