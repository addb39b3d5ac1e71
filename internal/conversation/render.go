package conversation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mantelhq/triage/internal/nodes"
	"github.com/mantelhq/triage/pkg/schema"
)

// renderAnalysis formats the analysis card shown before the search.
func renderAnalysis(a *schema.AnalysisData) string {
	var b strings.Builder
	b.WriteString("Here's what I understood:\n")
	fmt.Fprintf(&b, "Product area: %s (confidence %.0f%%)\n", a.Product, a.Confidence*100)
	if a.Reasoning != "" {
		fmt.Fprintf(&b, "Reasoning: %s\n", a.Reasoning)
	}
	fmt.Fprintf(&b, "I'd search for: %q\n", a.SearchQuery)
	b.WriteString("Search for matching tickets, edit the description, or cancel?")
	return b.String()
}

// renderMatches formats the scored tickets a search produced.
func renderMatches(matches []nodes.ScoredTicket) string {
	var b strings.Builder
	b.WriteString("These existing tickets look relevant:\n")
	for _, m := range matches {
		fmt.Fprintf(&b, "- %s: %s", m.Key, m.Summary)
		if m.Status != "" {
			fmt.Fprintf(&b, " [%s]", m.Status)
		}
		if m.URL != "" {
			fmt.Fprintf(&b, " %s", m.URL)
		}
		b.WriteByte('\n')
	}
	b.WriteString("Reply in this thread to refine the search.")
	return b.String()
}

// renderError maps an error to the single plain-language message the user
// sees. Classification is by error code, never message text.
func renderError(err error) string {
	var te *schema.TriageError
	if !errors.As(err, &te) {
		return "Something went wrong while handling that. Please try again."
	}

	switch te.Code {
	case schema.ErrCodeConnectivity:
		return "Sorry, I couldn't reach the issue tracker just now. Please try again in a moment."
	case schema.ErrCodeToolUnavailable:
		return "Ticket search isn't available right now, so I can't look for existing issues."
	case schema.ErrCodeToolCall:
		return "The issue tracker rejected the search request. Please try again later."
	case schema.ErrCodeParse:
		msg := "I couldn't make sense of a response while processing that."
		if excerpt, ok := te.Details["excerpt"].(string); ok && excerpt != "" {
			msg += fmt.Sprintf(" The raw output started with: %s", excerpt)
		}
		return msg
	case schema.ErrCodeInference:
		return "The analysis service had a problem. Please try again shortly."
	default:
		return "Something went wrong while handling that. Please try again."
	}
}
