package nodes

import (
	"context"
	"errors"

	"github.com/mantelhq/triage/internal/pipeline"
	"github.com/mantelhq/triage/pkg/schema"
)

// SearchResult is the TicketSearch node output. The embedded SearchCall is
// the single signaling channel for soft failures; Raw carries the unparsed
// tracker payload for the rating node.
type SearchResult struct {
	Call  schema.SearchCall
	Query string
	Raw   string
}

// TicketSearch looks up the issue-search capability in the run's tool
// snapshot and invokes it. A missing capability is an expected operating
// condition, not a bug: the node returns a SearchCall carrying
// TOOL_UNAVAILABLE without attempting a remote call. Call failures likewise
// soft-fail with the structured error carried in the result value, so
// callers distinguish "no tool" from "tool call failed" by error code.
type TicketSearch struct {
	caller    ToolCaller
	validator *schema.AnalysisValidator

	// Exactly one of query / queryFrom is set: a static query for the
	// confirm/refine paths, or the id of the analysis node to read it from.
	query     string
	queryFrom string
}

// NewTicketSearch creates a standalone search node with a fixed query.
func NewTicketSearch(caller ToolCaller, query string) *TicketSearch {
	return &TicketSearch{caller: caller, query: query}
}

// NewTicketSearchFromAnalysis creates a search node that takes its query from
// the analysis node's validated output.
func NewTicketSearchFromAnalysis(caller ToolCaller, validator *schema.AnalysisValidator) *TicketSearch {
	return &TicketSearch{caller: caller, validator: validator, queryFrom: IDModelQuery}
}

func (n *TicketSearch) ID() string            { return IDTicketSearch }
func (n *TicketSearch) Kind() schema.NodeKind { return schema.NodeKindTicketSearch }

func (n *TicketSearch) DependsOn() []string {
	if n.queryFrom != "" {
		return []string{n.queryFrom}
	}
	return nil
}

func (n *TicketSearch) Execute(ctx context.Context, ec *pipeline.ExecutionContext) (any, error) {
	query := n.query
	if n.queryFrom != "" {
		raw, ok := ec.Result(n.queryFrom)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeDependency, "analysis result %s missing from context", n.queryFrom).WithNode(n.ID())
		}
		text, ok := raw.(string)
		if !ok {
			return nil, schema.NewErrorf(schema.ErrCodeParse, "analysis result %s is not text", n.queryFrom).WithNode(n.ID())
		}
		data, err := n.validator.Parse(text)
		if err != nil {
			return nil, err
		}
		query = data.SearchQuery
	}

	tool := schema.FindTool(ec.Tools, schema.SearchToolName)
	if tool == nil {
		return &SearchResult{
			Query: query,
			Call: schema.SearchCall{
				Err: schema.NewErrorf(schema.ErrCodeToolUnavailable, "%s tool unavailable", schema.SearchToolName),
			},
		}, nil
	}

	params := map[string]any{
		"query": query,
		"first": schema.SearchResultLimit,
	}

	raw, err := n.caller.Call(ctx, tool.Name, params)
	if err != nil {
		var te *schema.TriageError
		if !errors.As(err, &te) {
			te = schema.NewErrorf(schema.ErrCodeToolCall, "call %s: %v", tool.Name, err).WithCause(err)
		}
		return &SearchResult{Query: query, Call: schema.SearchCall{Err: te}}, nil
	}

	return &SearchResult{
		Query: query,
		Raw:   raw,
		Call:  schema.SearchCall{Tool: tool.Name, Params: params},
	}, nil
}
