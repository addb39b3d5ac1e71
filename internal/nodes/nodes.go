// Package nodes implements the concrete pipeline node kinds: image
// ingestion, model query, ticket search, and relevance rating.
package nodes

import "context"

// Node IDs, stable within one pipeline run.
const (
	IDImageIngestion  = "image_ingestion"
	IDModelQuery      = "model_query"
	IDTicketSearch    = "ticket_search"
	IDRelevanceRating = "relevance_rating"
)

// Announce surfaces interim progress to the enclosing conversation.
// Nodes never address the chat transport directly.
type Announce func(ctx context.Context, message string) error

// ToolCaller invokes a named tracker capability. Satisfied by
// *tracker.Manager.
type ToolCaller interface {
	Call(ctx context.Context, name string, args map[string]any) (string, error)
}
