package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mantelhq/triage/internal/expressions"
	"github.com/mantelhq/triage/internal/inference"
	"github.com/mantelhq/triage/internal/pipeline"
	"github.com/mantelhq/triage/pkg/schema"
)

// candidatePreviewLimit caps how many tickets are shown and rated.
const candidatePreviewLimit = 5

// DefaultFilterExpr is the relevance threshold predicate applied to each
// scored candidate.
const DefaultFilterExpr = "score >= 8"

// candidateExpr normalizes the tracker's raw search payload into ticket
// candidates. Trackers disagree on envelope and field names; the alternatives
// cover the shapes seen in practice.
const candidateExpr = `(.issues // .results // .items // [])
| .[]
| {
    key: ((.key // .id // "") | tostring),
    summary: ((.summary // .title // .fields.summary // "") | tostring),
    status: ((.status // .fields.status.name // "") | tostring),
    url: ((.url // .self // "") | tostring)
  }`

// ScoredTicket is a ticket candidate with the model's relevance score.
type ScoredTicket struct {
	schema.Ticket
	Score float64 `json:"score"`
}

// RatingResult is the RelevanceRating node output. Raw is always the model's
// unparsed rating text; Matches is populated when that text parses cleanly.
type RatingResult struct {
	Raw     string
	Preview string
	Matches []ScoredTicket
}

// RelevanceRating formats up to five candidates from the raw search payload,
// announces the preview, then asks the inference step to score each candidate
// and keep only those at or above the relevance threshold, sorted descending.
// Inference failures propagate; this node never retries.
type RelevanceRating struct {
	client     inference.Client
	jq         *expressions.GoJQEngine
	filter     *expressions.ExprEngine
	filterExpr string

	originalText     string
	imageDescription string
	announce         Announce
	logger           *slog.Logger

	// validator is set when the node takes the image description from the
	// analysis node's output instead of a fixed value. The analysis node is
	// then a declared dependency.
	validator *schema.AnalysisValidator
}

// NewRelevanceRating creates the rating node for one run. imageDescription is
// the analysis step's description of any attached screenshots, empty when
// unavailable.
func NewRelevanceRating(
	client inference.Client,
	jq *expressions.GoJQEngine,
	filter *expressions.ExprEngine,
	filterExpr string,
	originalText, imageDescription string,
	announce Announce,
	logger *slog.Logger,
) *RelevanceRating {
	if filterExpr == "" {
		filterExpr = DefaultFilterExpr
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RelevanceRating{
		client:           client,
		jq:               jq,
		filter:           filter,
		filterExpr:       filterExpr,
		originalText:     originalText,
		imageDescription: imageDescription,
		announce:         announce,
		logger:           logger,
	}
}

// WithAnalysisFrom makes the node read the screenshot description from the
// analysis node's validated output, declaring it as a dependency.
func (n *RelevanceRating) WithAnalysisFrom(validator *schema.AnalysisValidator) *RelevanceRating {
	n.validator = validator
	return n
}

func (n *RelevanceRating) ID() string            { return IDRelevanceRating }
func (n *RelevanceRating) Kind() schema.NodeKind { return schema.NodeKindRelevanceRating }

func (n *RelevanceRating) DependsOn() []string {
	if n.validator != nil {
		return []string{IDTicketSearch, IDModelQuery}
	}
	return []string{IDTicketSearch}
}

func (n *RelevanceRating) Execute(ctx context.Context, ec *pipeline.ExecutionContext) (any, error) {
	if n.validator != nil {
		if raw, ok := ec.Result(IDModelQuery); ok {
			if text, ok := raw.(string); ok {
				if data, err := n.validator.Parse(text); err == nil {
					n.imageDescription = data.ImageDescription
				}
			}
		}
	}

	raw, ok := ec.Result(IDTicketSearch)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeDependency, "search result missing from context").WithNode(n.ID())
	}
	search, ok := raw.(*SearchResult)
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "search result has unexpected type").WithNode(n.ID())
	}

	// Nothing to rate when the search soft-failed; the caller reports the
	// search error itself.
	if search.Call.Failed() || search.Raw == "" {
		return &RatingResult{}, nil
	}

	candidates, err := n.extractCandidates(ctx, search.Raw)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return &RatingResult{}, nil
	}
	if len(candidates) > candidatePreviewLimit {
		candidates = candidates[:candidatePreviewLimit]
	}

	preview := formatPreview(candidates)
	if n.announce != nil {
		_ = n.announce(ctx, preview)
	}

	ratingText, err := n.client.Complete(ctx, inference.Request{
		Parts: []inference.Part{inference.TextPart(n.ratingPrompt(candidates))},
	})
	if err != nil {
		return nil, err
	}

	matches := n.scoreMatches(ctx, ratingText, candidates)
	return &RatingResult{Raw: ratingText, Preview: preview, Matches: matches}, nil
}

// extractCandidates pulls ticket candidates out of the raw tracker payload.
func (n *RelevanceRating) extractCandidates(ctx context.Context, raw string) ([]schema.Ticket, error) {
	var payload map[string]any
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "search payload is not a JSON object: %s", err.Error()).
			WithNode(n.ID()).
			WithCause(err).
			WithDetails(map[string]any{"excerpt": schema.Excerpt(raw)})
	}

	out, err := n.jq.Evaluate(ctx, candidateExpr, payload)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, nil
	}

	// The jq engine returns a single map for one candidate, a slice for many.
	items, ok := out.([]any)
	if !ok {
		items = []any{out}
	}

	encoded, err := json.Marshal(items)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "encode candidates: %s", err.Error()).WithNode(n.ID()).WithCause(err)
	}
	var tickets []schema.Ticket
	if err := json.Unmarshal(encoded, &tickets); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeParse, "decode candidates: %s", err.Error()).WithNode(n.ID()).WithCause(err)
	}
	return tickets, nil
}

func (n *RelevanceRating) ratingPrompt(candidates []schema.Ticket) string {
	var b strings.Builder
	b.WriteString("Rate how relevant each existing ticket is to the user's report on a 1-10 scale.\n")
	b.WriteString("Respond with a JSON array of {\"key\": string, \"score\": number}, containing only tickets scoring 8 or higher, sorted by score descending. Respond with [] when nothing qualifies.\n\n")
	b.WriteString("User report:\n")
	b.WriteString(n.originalText)
	if n.imageDescription != "" {
		b.WriteString("\n\nAttached screenshot description:\n")
		b.WriteString(n.imageDescription)
	}
	b.WriteString("\n\nTickets:\n")
	for _, t := range candidates {
		fmt.Fprintf(&b, "- %s: %s (%s)\n", t.Key, t.Summary, t.Status)
	}
	return b.String()
}

// scoreMatches parses the model's rating text and enforces the threshold
// locally with the filter expression. A malformed rating is not an error:
// the caller falls back to the raw text.
func (n *RelevanceRating) scoreMatches(ctx context.Context, ratingText string, candidates []schema.Ticket) []ScoredTicket {
	var scored []struct {
		Key   string  `json:"key"`
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(schema.CleanJSON(ratingText)), &scored); err != nil {
		n.logger.DebugContext(ctx, "rating output not parseable, keeping raw text",
			slog.String("error", err.Error()))
		return nil
	}

	byKey := make(map[string]schema.Ticket, len(candidates))
	for _, t := range candidates {
		byKey[t.Key] = t
	}

	var matches []ScoredTicket
	for _, s := range scored {
		keep, err := n.filter.Evaluate(ctx, n.filterExpr, map[string]any{"score": s.Score, "key": s.Key})
		if err != nil {
			n.logger.WarnContext(ctx, "relevance filter failed", slog.String("error", err.Error()))
			continue
		}
		if ok, _ := keep.(bool); !ok {
			continue
		}
		ticket, known := byKey[s.Key]
		if !known {
			// The model invented a key; drop it.
			continue
		}
		matches = append(matches, ScoredTicket{Ticket: ticket, Score: s.Score})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches
}

// formatPreview renders candidates as a short human-readable list.
func formatPreview(candidates []schema.Ticket) string {
	var b strings.Builder
	b.WriteString("Found these candidate tickets:\n")
	for i, t := range candidates {
		fmt.Fprintf(&b, "%d. %s — %s", i+1, t.Key, t.Summary)
		if t.Status != "" {
			fmt.Fprintf(&b, " [%s]", t.Status)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}
