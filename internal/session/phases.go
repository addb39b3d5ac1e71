package session

import (
	"github.com/mantelhq/triage/pkg/schema"
)

// Phase is one state of the conversational lifecycle for a (user, thread) key.
type Phase string

const (
	// PhaseIdle means no tracked state; the key has no store entry.
	PhaseIdle Phase = "idle"
	// PhaseEditPending means the user clicked edit; their next message re-runs
	// the analysis with the new text.
	PhaseEditPending Phase = "edit_pending"
	// PhaseAnalysisDisplayed means the analysis card is shown and the thread
	// awaits confirm, edit, cancel, or an implicit-edit follow-up message.
	PhaseAnalysisDisplayed Phase = "analysis_displayed"
	// PhaseNoResultsPending means a search returned zero matches; the next
	// message in the thread is refinement input.
	PhaseNoResultsPending Phase = "no_results_pending"
	// PhaseResultsDisplayed means a search returned matches; the next message
	// is a refinement request, not a new top-level query.
	PhaseResultsDisplayed Phase = "results_displayed"
)

// AllPhases lists every phase, for table-completeness checks.
var AllPhases = []Phase{
	PhaseIdle,
	PhaseEditPending,
	PhaseAnalysisDisplayed,
	PhaseNoResultsPending,
	PhaseResultsDisplayed,
}

// ValidPhaseTransitions defines the allowed phase transitions.
// PhaseIdle is the implicit phase of a key with no store entry; clearing an
// entry is always allowed and is not modeled here.
var ValidPhaseTransitions = map[Phase][]Phase{
	PhaseIdle:              {PhaseAnalysisDisplayed, PhaseEditPending},
	PhaseEditPending:       {PhaseAnalysisDisplayed},
	PhaseAnalysisDisplayed: {PhaseAnalysisDisplayed, PhaseEditPending, PhaseNoResultsPending, PhaseResultsDisplayed},
	PhaseNoResultsPending:  {PhaseNoResultsPending, PhaseResultsDisplayed},
	PhaseResultsDisplayed:  {PhaseNoResultsPending, PhaseResultsDisplayed},
}

func isValidPhaseTransition(from, to Phase) bool {
	allowed, ok := ValidPhaseTransitions[from]
	if !ok {
		return false
	}
	for _, a := range allowed {
		if a == to {
			return true
		}
	}
	return false
}

// ValidateTransition checks a phase transition against the table.
func ValidateTransition(from, to Phase) error {
	if !isValidPhaseTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid session transition: %s -> %s", from, to).
			WithDetails(map[string]any{"from": string(from), "to": string(to)})
	}
	return nil
}
