package nodes

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/mantelhq/triage/internal/expressions"
	"github.com/mantelhq/triage/internal/inference"
	"github.com/mantelhq/triage/internal/pipeline"
	"github.com/mantelhq/triage/pkg/schema"
)

// analysisPrompt instructs the model to classify a bug report. The JSON
// contract matches the analysis schema in pkg/schema.
const analysisPrompt = `You triage bug reports for an issue tracker. Classify the report below.
Respond with a single JSON object, no code fence:
{
  "product": "<affected product area>",
  "confidence": <0.0-1.0>,
  "reasoning": "<one or two sentences>",
  "search_query": "<short query to find existing tickets>",
  "image_description": "<what any attached screenshot shows, empty if none>"
}`

// refinePrompt instructs the model to merge the original query with the
// user's follow-up into one refined search query.
const refinePrompt = `A ticket search found nothing useful. Combine the original query and the user's follow-up into ONE refined search query. Respond with the query text only, nothing else.`

// RunnerConfig tunes pipeline construction.
type RunnerConfig struct {
	// FilterExpr overrides the relevance threshold predicate.
	FilterExpr string
	// TempDir is where ingested attachments are persisted for the run.
	TempDir string
}

// Runner builds and executes pipelines. It is the single surface the
// conversation layer uses to drive analysis and search cycles; one Runner
// serves many runs, each with a freshly built node graph.
type Runner struct {
	inference inference.Client
	caller    ToolCaller
	validator *schema.AnalysisValidator
	jq        *expressions.GoJQEngine
	filter    *expressions.ExprEngine
	config    RunnerConfig
	events    pipeline.EventAppender
	logger    *slog.Logger
}

// NewRunner creates a Runner. events may be nil to disable run logging.
func NewRunner(
	inf inference.Client,
	caller ToolCaller,
	validator *schema.AnalysisValidator,
	jq *expressions.GoJQEngine,
	filter *expressions.ExprEngine,
	cfg RunnerConfig,
	events pipeline.EventAppender,
	logger *slog.Logger,
) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FilterExpr == "" {
		cfg.FilterExpr = DefaultFilterExpr
	}
	return &Runner{
		inference: inf,
		caller:    caller,
		validator: validator,
		jq:        jq,
		filter:    filter,
		config:    cfg,
		events:    events,
		logger:    logger,
	}
}

// Analyze runs the ingestion and model-query nodes and returns the validated
// analysis.
func (r *Runner) Analyze(ctx context.Context, text string, files []string, announce Announce) (*schema.AnalysisData, error) {
	p := pipeline.New(uuid.New().String(), r.logger, r.events)

	if err := p.Add(NewImageIngestion(files, r.config.TempDir, r.logger)); err != nil {
		return nil, err
	}
	if err := p.Add(NewModelQuery(r.inference, analysisPrompt, text, announce)); err != nil {
		return nil, err
	}

	ec := pipeline.NewExecutionContext(map[string]any{
		pipeline.InputText:  text,
		pipeline.InputFiles: files,
	}, nil)

	results, err := p.Execute(ctx, ec)
	if err != nil {
		return nil, err
	}

	raw, _ := results[IDModelQuery].(string)
	return r.validator.Parse(raw)
}

// Run drives one full analysis-then-search cycle: ingestion, model query,
// ticket search seeded from the analysis, relevance rating. It serves callers
// that skip the confirmation card (scripted or batch invocations); the bot
// drives Analyze and Search separately around its confirm step. The returned
// SearchCall describes the search outcome, including soft failures.
func (r *Runner) Run(ctx context.Context, text string, files []string, tools []schema.RemoteTool, announce Announce) (schema.SearchCall, *RatingResult, error) {
	p := pipeline.New(uuid.New().String(), r.logger, r.events)

	nodes := []pipeline.Node{
		NewImageIngestion(files, r.config.TempDir, r.logger),
		NewModelQuery(r.inference, analysisPrompt, text, announce),
		NewTicketSearchFromAnalysis(r.caller, r.validator),
		NewRelevanceRating(r.inference, r.jq, r.filter, r.config.FilterExpr, text, "", announce, r.logger).
			WithAnalysisFrom(r.validator),
	}
	for _, n := range nodes {
		if err := p.Add(n); err != nil {
			return schema.SearchCall{}, nil, err
		}
	}

	ec := pipeline.NewExecutionContext(map[string]any{
		pipeline.InputText:  text,
		pipeline.InputFiles: files,
	}, tools)

	results, err := p.Execute(ctx, ec)
	if err != nil {
		return schema.SearchCall{}, nil, err
	}

	search := results[IDTicketSearch].(*SearchResult)
	rating, _ := results[IDRelevanceRating].(*RatingResult)
	return search.Call, rating, nil
}

// Search runs the search and rating nodes with a fixed query; used from the
// confirm and refinement paths where the analysis already happened.
func (r *Runner) Search(ctx context.Context, query, originalText, imageDescription string, tools []schema.RemoteTool, announce Announce) (schema.SearchCall, *RatingResult, error) {
	p := pipeline.New(uuid.New().String(), r.logger, r.events)

	if err := p.Add(NewTicketSearch(r.caller, query)); err != nil {
		return schema.SearchCall{}, nil, err
	}
	rate := NewRelevanceRating(r.inference, r.jq, r.filter, r.config.FilterExpr, originalText, imageDescription, announce, r.logger)
	if err := p.Add(rate); err != nil {
		return schema.SearchCall{}, nil, err
	}

	ec := pipeline.NewExecutionContext(map[string]any{pipeline.InputText: originalText}, tools)

	results, err := p.Execute(ctx, ec)
	if err != nil {
		return schema.SearchCall{}, nil, err
	}

	search := results[IDTicketSearch].(*SearchResult)
	rating, _ := results[IDRelevanceRating].(*RatingResult)
	return search.Call, rating, nil
}

// RefineQuery merges the original query and the user's follow-up into one
// refined search query, folding in the prior analysis when available.
func (r *Runner) RefineQuery(ctx context.Context, originalQuery, newText string, analysis *schema.AnalysisData) (string, error) {
	var b strings.Builder
	b.WriteString(refinePrompt)
	b.WriteString("\n\nOriginal query: ")
	b.WriteString(originalQuery)
	b.WriteString("\nFollow-up: ")
	b.WriteString(newText)
	if analysis != nil {
		b.WriteString("\nProduct: ")
		b.WriteString(analysis.Product)
		if analysis.Reasoning != "" {
			b.WriteString("\nEarlier reasoning: ")
			b.WriteString(analysis.Reasoning)
		}
	}

	out, err := r.inference.Complete(ctx, inference.Request{Parts: []inference.Part{inference.TextPart(b.String())}})
	if err != nil {
		return "", err
	}

	refined := strings.TrimSpace(strings.Trim(strings.TrimSpace(out), `"`))
	if refined == "" {
		return "", schema.NewError(schema.ErrCodeParse, "model returned an empty refined query")
	}
	return refined, nil
}
