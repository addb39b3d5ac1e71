package nodes

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantelhq/triage/internal/pipeline"
	"github.com/mantelhq/triage/pkg/schema"
)

type fakeCaller struct {
	calls    int
	lastName string
	lastArgs map[string]any
	out      string
	err      error
}

func (f *fakeCaller) Call(ctx context.Context, name string, args map[string]any) (string, error) {
	f.calls++
	f.lastName = name
	f.lastArgs = args
	return f.out, f.err
}

func searchTools() []schema.RemoteTool {
	return []schema.RemoteTool{{Name: "create_issue"}, {Name: schema.SearchToolName}}
}

func TestTicketSearchToolUnavailable(t *testing.T) {
	caller := &fakeCaller{}
	n := NewTicketSearch(caller, "checkout broken")

	ec := pipeline.NewExecutionContext(nil, []schema.RemoteTool{{Name: "create_issue"}})
	out, err := n.Execute(context.Background(), ec)
	require.NoError(t, err, "a missing capability is a soft failure")

	res := out.(*SearchResult)
	require.True(t, res.Call.Failed())
	assert.Equal(t, "", res.Call.Tool)
	assert.Nil(t, res.Call.Params)
	assert.Equal(t, schema.ErrCodeToolUnavailable, res.Call.Err.Code)
	assert.Contains(t, res.Call.Err.Message, "unavailable")
	assert.Zero(t, caller.calls, "no remote call may be attempted")
}

func TestTicketSearchSuccess(t *testing.T) {
	caller := &fakeCaller{out: `{"issues":[{"key":"WEB-1"}]}`}
	n := NewTicketSearch(caller, "checkout button broken on mobile")

	out, err := n.Execute(context.Background(), pipeline.NewExecutionContext(nil, searchTools()))
	require.NoError(t, err)

	res := out.(*SearchResult)
	require.False(t, res.Call.Failed())
	assert.Equal(t, schema.SearchToolName, res.Call.Tool)
	assert.Equal(t, "checkout button broken on mobile", res.Call.Params["query"])
	assert.Equal(t, schema.SearchResultLimit, res.Call.Params["first"])
	assert.Equal(t, `{"issues":[{"key":"WEB-1"}]}`, res.Raw)
}

func TestTicketSearchCallFailureIsSoftWithCode(t *testing.T) {
	caller := &fakeCaller{err: schema.NewError(schema.ErrCodeConnectivity, "tracker gone")}
	n := NewTicketSearch(caller, "q")

	out, err := n.Execute(context.Background(), pipeline.NewExecutionContext(nil, searchTools()))
	require.NoError(t, err)

	res := out.(*SearchResult)
	require.True(t, res.Call.Failed())
	assert.Equal(t, "", res.Call.Tool)
	assert.Equal(t, schema.ErrCodeConnectivity, res.Call.Err.Code,
		"callers distinguish 'no tool' from 'call failed' by error code")
}

func TestTicketSearchQueryFromAnalysis(t *testing.T) {
	validator, err := schema.NewAnalysisValidator()
	require.NoError(t, err)

	caller := &fakeCaller{out: `{"issues":[]}`}
	n := NewTicketSearchFromAnalysis(caller, validator)
	assert.Equal(t, []string{IDModelQuery}, n.DependsOn())

	ec := pipeline.NewExecutionContext(nil, searchTools())
	seedAnalysis(t, ec, `{"product":"web","confidence":0.8,"search_query":"checkout broken mobile"}`)

	out, execErr := n.Execute(context.Background(), ec)
	require.NoError(t, execErr)
	res := out.(*SearchResult)
	assert.Equal(t, "checkout broken mobile", res.Call.Params["query"])
}

func TestTicketSearchPropagatesAnalysisParseError(t *testing.T) {
	validator, err := schema.NewAnalysisValidator()
	require.NoError(t, err)

	n := NewTicketSearchFromAnalysis(&fakeCaller{}, validator)
	ec := pipeline.NewExecutionContext(nil, searchTools())
	seedAnalysis(t, ec, "not json at all")

	_, execErr := n.Execute(context.Background(), ec)
	require.Error(t, execErr)
	assert.Equal(t, schema.ErrCodeParse, schema.CodeOf(execErr))
}

// seedAnalysis plants a model-query result by running a trivial pipeline,
// keeping the context's append-only bookkeeping intact.
func seedAnalysis(t *testing.T, ec *pipeline.ExecutionContext, raw string) {
	t.Helper()
	p := pipeline.New("seed", nil, nil)
	require.NoError(t, p.Add(&staticNode{id: IDModelQuery, out: raw}))
	_, err := p.Execute(context.Background(), ec)
	require.NoError(t, err)
}

type staticNode struct {
	id  string
	out any
}

func (n *staticNode) ID() string            { return n.id }
func (n *staticNode) Kind() schema.NodeKind { return schema.NodeKind("static") }
func (n *staticNode) DependsOn() []string   { return nil }
func (n *staticNode) Execute(ctx context.Context, ec *pipeline.ExecutionContext) (any, error) {
	return n.out, nil
}
