package conversation

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/mantelhq/triage/internal/logging"
	"github.com/mantelhq/triage/internal/nodes"
	"github.com/mantelhq/triage/internal/session"
	"github.com/mantelhq/triage/internal/store"
	"github.com/mantelhq/triage/pkg/schema"
)

// Action button identifiers.
const (
	ActionFindIssues = "find_issues"
	ActionIgnore     = "ignore"
	ActionConfirm    = "confirm"
	ActionEdit       = "edit"
	ActionCancel     = "cancel"
	ActionDismiss    = "dismiss"
	ActionEnd        = "end"
	ActionHelpful    = "helpful"
)

const defaultRetryBackoff = 2 * time.Second

// Message is an inbound chat message.
type Message struct {
	UserID    string
	ChannelID string
	ThreadID  string
	Text      string
	Files     []string
}

// ActionEvent is an inbound button click. Value carries the original message
// text for actions raised from the initial prompt.
type ActionEvent struct {
	UserID    string
	ChannelID string
	ThreadID  string
	ActionID  string
	Value     string
}

// ActionButton is one button offered alongside a prompt.
type ActionButton struct {
	ID    string
	Label string
}

// Messenger is the chat transport boundary. The bot never addresses the chat
// platform directly.
type Messenger interface {
	Reply(ctx context.Context, channelID, threadID, text string) error
	PromptActions(ctx context.Context, channelID, threadID, text string, actions []ActionButton) error
}

// Runner is the pipeline surface the bot drives.
type Runner interface {
	Analyze(ctx context.Context, text string, files []string, announce nodes.Announce) (*schema.AnalysisData, error)
	Search(ctx context.Context, query, originalText, imageDescription string, tools []schema.RemoteTool, announce nodes.Announce) (schema.SearchCall, *nodes.RatingResult, error)
	RefineQuery(ctx context.Context, originalQuery, newText string, analysis *schema.AnalysisData) (string, error)
}

// Tracker is the connection-manager surface the bot needs for the outer
// retry policy.
type Tracker interface {
	Tools(ctx context.Context) ([]schema.RemoteTool, error)
	Invalidate()
}

// EventAppender records session lifecycle events; may be nil.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *store.Event) error
}

// Bot classifies inbound chat events against session state and drives the
// triage pipeline. Every failure path ends in exactly one user-visible message
// and a cleared session, never a stuck mid-transition state.
type Bot struct {
	runner    Runner
	tracker   Tracker
	sessions  *session.Store
	messenger Messenger
	events    EventAppender
	logger    *slog.Logger

	retryBackoff time.Duration
}

// NewBot creates a Bot. events may be nil.
func NewBot(runner Runner, tracker Tracker, sessions *session.Store, messenger Messenger, events EventAppender, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		runner:       runner,
		tracker:      tracker,
		sessions:     sessions,
		messenger:    messenger,
		events:       events,
		logger:       logger,
		retryBackoff: defaultRetryBackoff,
	}
}

// HandleMessage classifies an inbound message against session state.
// Rules are evaluated in priority order; the first match wins.
func (b *Bot) HandleMessage(ctx context.Context, msg Message) error {
	ctx = logging.WithSessionID(ctx, session.ThreadKey(msg.ThreadID, msg.ChannelID))

	userKey := session.UserKey(msg.UserID, msg.ChannelID)
	threadKey := session.ThreadKey(msg.ThreadID, msg.ChannelID)

	// 1. Pending edit for this user: the new text re-runs the analysis in the
	// original thread.
	if sess, ok := b.sessions.Get(userKey); ok && sess.Phase == session.PhaseEditPending {
		b.clear(ctx, userKey)
		return b.runAnalysis(ctx, msg.UserID, msg.ChannelID, sess.ThreadID, msg.Text, msg.Files)
	}

	if sess, ok := b.sessions.Get(threadKey); ok {
		switch sess.Phase {
		case session.PhaseAnalysisDisplayed:
			// 2. Implicit edit: a bare follow-up replaces the analyzed text.
			b.clear(ctx, threadKey)
			return b.runAnalysis(ctx, msg.UserID, msg.ChannelID, msg.ThreadID, msg.Text, msg.Files)

		case session.PhaseNoResultsPending, session.PhaseResultsDisplayed:
			// 3 and 4. Refinement: fold the new text into the last query. The
			// session stays put so runSearch replaces it through an allowed
			// transition instead of re-entering from idle.
			return b.runRefinement(ctx, msg, sess)
		}
	}

	// 5. Brand-new top-level message.
	return b.messenger.PromptActions(ctx, msg.ChannelID, msg.ThreadID,
		"Want me to look for existing tickets about this?",
		[]ActionButton{
			{ID: ActionFindIssues, Label: "Find issues"},
			{ID: ActionIgnore, Label: "Ignore"},
		})
}

// HandleAction dispatches a button click.
func (b *Bot) HandleAction(ctx context.Context, ev ActionEvent) error {
	ctx = logging.WithSessionID(ctx, session.ThreadKey(ev.ThreadID, ev.ChannelID))
	threadKey := session.ThreadKey(ev.ThreadID, ev.ChannelID)

	switch ev.ActionID {
	case ActionFindIssues:
		return b.runAnalysis(ctx, ev.UserID, ev.ChannelID, ev.ThreadID, ev.Value, nil)

	case ActionConfirm:
		// The session stays in AnalysisDisplayed until runSearch enters the
		// follow-up phase; clearing it first would make that entry invalid.
		sess, ok := b.sessions.Get(threadKey)
		if !ok || sess.Phase != session.PhaseAnalysisDisplayed {
			return b.messenger.Reply(ctx, ev.ChannelID, ev.ThreadID,
				"That conversation has expired. Send your report again to restart.")
		}
		query := sess.OriginalText
		if sess.Analysis != nil && sess.Analysis.SearchQuery != "" {
			query = sess.Analysis.SearchQuery
		}
		return b.runSearch(ctx, ev.UserID, ev.ChannelID, ev.ThreadID, query, sess.OriginalText, sess.Analysis)

	case ActionEdit:
		sess, ok := b.sessions.Take(threadKey)
		if !ok {
			sess = &session.Session{ThreadID: ev.ThreadID, ChannelID: ev.ChannelID}
		}
		userKey := session.UserKey(ev.UserID, ev.ChannelID)
		if err := b.sessions.Enter(userKey, &session.Session{
			Phase:     session.PhaseEditPending,
			UserID:    ev.UserID,
			ThreadID:  sess.ThreadID,
			ChannelID: ev.ChannelID,
		}); err != nil {
			return err
		}
		b.emitSession(ctx, userKey, schema.EventSessionEntered)
		return b.messenger.Reply(ctx, ev.ChannelID, ev.ThreadID,
			"Okay, send the corrected description and I'll re-run the analysis.")

	case ActionCancel, ActionDismiss, ActionEnd, ActionHelpful:
		b.clear(ctx, threadKey)
		b.clear(ctx, session.UserKey(ev.UserID, ev.ChannelID))
		if ev.ActionID == ActionHelpful {
			return b.messenger.Reply(ctx, ev.ChannelID, ev.ThreadID, "Glad that helped!")
		}
		return b.messenger.Reply(ctx, ev.ChannelID, ev.ThreadID, "Okay, I'll leave it there.")

	case ActionIgnore:
		return nil
	}

	b.logger.WarnContext(ctx, "unknown action", slog.String("action", ev.ActionID))
	return nil
}

// runAnalysis executes the analysis phase and shows the confirm/edit/cancel card.
func (b *Bot) runAnalysis(ctx context.Context, userID, channelID, threadID, text string, files []string) error {
	announce := b.announcer(channelID, threadID)

	var analysis *schema.AnalysisData
	err := b.withRetry(ctx, func(ctx context.Context) error {
		var runErr error
		analysis, runErr = b.runner.Analyze(ctx, text, files, announce)
		return runErr
	})
	if err != nil {
		return b.fail(ctx, channelID, threadID, err)
	}

	threadKey := session.ThreadKey(threadID, channelID)
	if err := b.sessions.Enter(threadKey, &session.Session{
		Phase:        session.PhaseAnalysisDisplayed,
		UserID:       userID,
		ThreadID:     threadID,
		ChannelID:    channelID,
		OriginalText: text,
		Analysis:     analysis,
	}); err != nil {
		return b.fail(ctx, channelID, threadID, err)
	}
	b.emitSession(ctx, threadKey, schema.EventSessionEntered)

	return b.messenger.PromptActions(ctx, channelID, threadID,
		renderAnalysis(analysis),
		[]ActionButton{
			{ID: ActionConfirm, Label: "Search tickets"},
			{ID: ActionEdit, Label: "Edit"},
			{ID: ActionCancel, Label: "Cancel"},
		})
}

// runSearch executes the search-and-rate phase and enters the follow-up phase
// matching its outcome.
func (b *Bot) runSearch(ctx context.Context, userID, channelID, threadID, query, originalText string, analysis *schema.AnalysisData) error {
	announce := b.announcer(channelID, threadID)
	imageDescription := ""
	if analysis != nil {
		imageDescription = analysis.ImageDescription
	}

	var call schema.SearchCall
	var rating *nodes.RatingResult
	err := b.withRetry(ctx, func(ctx context.Context) error {
		tools, toolsErr := b.tracker.Tools(ctx)
		if toolsErr != nil {
			return toolsErr
		}
		var runErr error
		call, rating, runErr = b.runner.Search(ctx, query, originalText, imageDescription, tools, announce)
		return runErr
	})
	if err != nil {
		return b.fail(ctx, channelID, threadID, err)
	}
	if call.Failed() {
		return b.fail(ctx, channelID, threadID, call.Err)
	}

	threadKey := session.ThreadKey(threadID, channelID)
	next := &session.Session{
		UserID:       userID,
		ThreadID:     threadID,
		ChannelID:    channelID,
		OriginalText: originalText,
		Analysis:     analysis,
		LastQuery:    query,
	}

	if rating == nil || len(rating.Matches) == 0 {
		next.Phase = session.PhaseNoResultsPending
		if err := b.sessions.Enter(threadKey, next); err != nil {
			return b.fail(ctx, channelID, threadID, err)
		}
		b.emitSession(ctx, threadKey, schema.EventSessionEntered)
		return b.messenger.Reply(ctx, channelID, threadID,
			"No matching tickets found. Tell me more about the problem and I'll refine the search.")
	}

	next.Phase = session.PhaseResultsDisplayed
	if err := b.sessions.Enter(threadKey, next); err != nil {
		return b.fail(ctx, channelID, threadID, err)
	}
	b.emitSession(ctx, threadKey, schema.EventSessionEntered)

	return b.messenger.PromptActions(ctx, channelID, threadID,
		renderMatches(rating.Matches),
		[]ActionButton{
			{ID: ActionHelpful, Label: "That helped"},
			{ID: ActionEnd, Label: "Done"},
		})
}

// runRefinement folds the follow-up text into the last query and re-searches.
func (b *Bot) runRefinement(ctx context.Context, msg Message, sess *session.Session) error {
	originalQuery := sess.LastQuery
	if originalQuery == "" {
		originalQuery = sess.OriginalText
	}

	var refined string
	err := b.withRetry(ctx, func(ctx context.Context) error {
		var runErr error
		refined, runErr = b.runner.RefineQuery(ctx, originalQuery, msg.Text, sess.Analysis)
		return runErr
	})
	if err != nil {
		return b.fail(ctx, msg.ChannelID, msg.ThreadID, err)
	}

	return b.runSearch(ctx, msg.UserID, msg.ChannelID, msg.ThreadID, refined, sess.OriginalText, sess.Analysis)
}

// withRetry runs op, retrying once more after a fixed backoff when the failure
// is a connectivity error. The tracker connection is invalidated between
// attempts so the retry dials fresh.
func (b *Bot) withRetry(ctx context.Context, op func(context.Context) error) error {
	err := op(ctx)
	if schema.CodeOf(err) != schema.ErrCodeConnectivity {
		return err
	}

	b.logger.WarnContext(ctx, "connectivity failure, retrying once",
		slog.String("error", err.Error()))
	b.tracker.Invalidate()

	select {
	case <-ctx.Done():
		return err
	case <-time.After(b.retryBackoff):
	}

	return op(ctx)
}

// fail converts an error into one user-visible message and leaves session
// state cleared for the thread.
func (b *Bot) fail(ctx context.Context, channelID, threadID string, err error) error {
	b.logger.ErrorContext(ctx, "transition failed", slog.String("error", err.Error()))
	b.clear(ctx, session.ThreadKey(threadID, channelID))
	return b.messenger.Reply(ctx, channelID, threadID, renderError(err))
}

func (b *Bot) clear(ctx context.Context, key string) {
	if _, found := b.sessions.Take(key); found {
		b.emitSession(ctx, key, schema.EventSessionCleared)
	}
}

func (b *Bot) announcer(channelID, threadID string) nodes.Announce {
	return func(ctx context.Context, message string) error {
		return b.messenger.Reply(ctx, channelID, threadID, message)
	}
}

func (b *Bot) emitSession(ctx context.Context, key, eventType string) {
	if b.events == nil {
		return
	}
	payload, _ := json.Marshal(map[string]string{"key": key})
	if err := b.events.AppendEvent(ctx, &store.Event{
		RunID:   key,
		Type:    eventType,
		Payload: payload,
	}); err != nil {
		b.logger.WarnContext(ctx, "session event append failed", slog.String("error", err.Error()))
	}
}
