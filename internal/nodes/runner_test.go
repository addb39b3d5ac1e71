package nodes

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantelhq/triage/internal/expressions"
	"github.com/mantelhq/triage/pkg/schema"
)

func newTestRunner(t *testing.T, inf *fakeInference, caller ToolCaller) *Runner {
	t.Helper()
	validator, err := schema.NewAnalysisValidator()
	require.NoError(t, err)
	return NewRunner(inf, caller, validator,
		expressions.NewGoJQEngine(), expressions.NewExprEngine(),
		RunnerConfig{TempDir: t.TempDir()}, nil, nil)
}

// routeByPrompt dispatches canned responses for the analysis, rating, and
// refinement prompts so one fake serves a whole run.
func routeByPrompt(t *testing.T, analysis, rating, refined string) func(string) (string, error) {
	return func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "triage bug reports"):
			return analysis, nil
		case strings.Contains(prompt, "Rate how relevant"):
			return rating, nil
		case strings.Contains(prompt, "refined search query"):
			return refined, nil
		default:
			t.Fatalf("unexpected prompt: %s", prompt)
			return "", nil
		}
	}
}

func TestRunnerRunEndToEnd(t *testing.T) {
	inf := &fakeInference{respond: routeByPrompt(t,
		`{"product":"web-checkout","confidence":0.9,"reasoning":"payment flow","search_query":"checkout button mobile"}`,
		`[{"key":"WEB-42","score":9}]`,
		"")}
	caller := &fakeCaller{out: `{"issues":[{"key":"WEB-42","summary":"Checkout button dead on mobile Safari","status":"Open"}]}`}
	r := newTestRunner(t, inf, caller)

	call, rating, err := r.Run(context.Background(),
		"checkout button broken on mobile", nil, searchTools(), nil)
	require.NoError(t, err)

	require.False(t, call.Failed())
	assert.Equal(t, schema.SearchToolName, call.Tool)
	assert.Equal(t, "checkout button mobile", call.Params["query"])
	assert.Equal(t, schema.SearchResultLimit, call.Params["first"])
	assert.Equal(t, schema.SearchToolName, caller.lastName)

	require.NotNil(t, rating)
	require.Len(t, rating.Matches, 1)
	assert.Equal(t, "WEB-42", rating.Matches[0].Key)
	assert.Equal(t, "Checkout button dead on mobile Safari", rating.Matches[0].Summary)
}

func TestRunnerRunWithoutSearchTool(t *testing.T) {
	inf := &fakeInference{respond: routeByPrompt(t,
		`{"product":"web","confidence":0.7,"search_query":"checkout broken"}`,
		"", "")}
	caller := &fakeCaller{}
	r := newTestRunner(t, inf, caller)

	call, rating, err := r.Run(context.Background(),
		"checkout broken", nil, []schema.RemoteTool{{Name: "create_issue"}}, nil)
	require.NoError(t, err)

	require.True(t, call.Failed())
	assert.Equal(t, schema.ErrCodeToolUnavailable, call.Err.Code)
	assert.Zero(t, caller.calls)
	require.NotNil(t, rating)
	assert.Empty(t, rating.Matches)
}

func TestRunnerRunAbortsOnBadAnalysis(t *testing.T) {
	inf := &fakeInference{respond: routeByPrompt(t, "sorry, I cannot help with that", "", "")}
	caller := &fakeCaller{}
	r := newTestRunner(t, inf, caller)

	_, _, err := r.Run(context.Background(), "checkout broken", nil, searchTools(), nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeParse, schema.CodeOf(err))
	assert.Zero(t, caller.calls, "search never runs when the analysis fails to parse")
}

func TestRunnerAnalyze(t *testing.T) {
	inf := &fakeInference{respond: routeByPrompt(t,
		"```json\n{\"product\":\"web\",\"confidence\":0.8,\"search_query\":\"cart empty\",\"image_description\":\"blank cart page\"}\n```",
		"", "")}
	r := newTestRunner(t, inf, &fakeCaller{})

	data, err := r.Analyze(context.Background(), "my cart shows empty", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "web", data.Product)
	assert.Equal(t, "cart empty", data.SearchQuery)
	assert.Equal(t, "blank cart page", data.ImageDescription)
}

func TestRunnerSearchFixedQuery(t *testing.T) {
	inf := &fakeInference{respond: routeByPrompt(t, "",
		`[{"key":"WEB-1","score":8}]`, "")}
	caller := &fakeCaller{out: `{"issues":[{"key":"WEB-1","summary":"Cart empty after login"}]}`}
	r := newTestRunner(t, inf, caller)

	call, rating, err := r.Search(context.Background(),
		"cart empty after login", "my cart shows empty", "blank cart page", searchTools(), nil)
	require.NoError(t, err)

	assert.Equal(t, "cart empty after login", call.Params["query"])
	require.Len(t, rating.Matches, 1)
	assert.Equal(t, "WEB-1", rating.Matches[0].Key)

	// The screenshot description rides along into the rating prompt.
	var ratingPrompt string
	for _, req := range inf.requests {
		for _, p := range req.Parts {
			if strings.Contains(p.Text, "Rate how relevant") {
				ratingPrompt = p.Text
			}
		}
	}
	assert.Contains(t, ratingPrompt, "blank cart page")
}

func TestRunnerRefineQuery(t *testing.T) {
	inf := &fakeInference{respond: routeByPrompt(t, "", "", "  \"checkout button mobile safari\"  ")}
	r := newTestRunner(t, inf, &fakeCaller{})

	refined, err := r.RefineQuery(context.Background(),
		"checkout button mobile", "it only happens on Safari",
		&schema.AnalysisData{Product: "web-checkout", Reasoning: "payment flow"})
	require.NoError(t, err)
	assert.Equal(t, "checkout button mobile safari", refined)
}

func TestRunnerRefineQueryEmptyResponse(t *testing.T) {
	inf := &fakeInference{respond: routeByPrompt(t, "", "", "   ")}
	r := newTestRunner(t, inf, &fakeCaller{})

	_, err := r.RefineQuery(context.Background(), "q", "more", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeParse, schema.CodeOf(err))
}
