package schema

import "encoding/json"

// RemoteTool describes a callable capability exposed by the ticket tracker.
// Snapshots are immutable for the duration of a pipeline run.
type RemoteTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// FindTool returns the tool with the given name from a snapshot, or nil.
// Lookup is by exact name match.
func FindTool(tools []RemoteTool, name string) *RemoteTool {
	for i := range tools {
		if tools[i].Name == name {
			return &tools[i]
		}
	}
	return nil
}

// AnalysisData is the structured output of the model-analysis step.
type AnalysisData struct {
	Product          string  `json:"product"`
	Confidence       float64 `json:"confidence"`
	Reasoning        string  `json:"reasoning"`
	SearchQuery      string  `json:"search_query"`
	ImageDescription string  `json:"image_description,omitempty"`
}

// SearchCall describes the outcome of a ticket-search invocation.
// Tool is empty when the search capability was missing or the call failed;
// Err then carries the structured reason. This value is the ONLY signaling
// channel for search soft-failures.
type SearchCall struct {
	Tool   string         `json:"tool,omitempty"`
	Params map[string]any `json:"parameters,omitempty"`
	Err    *TriageError   `json:"error,omitempty"`
}

// Failed reports whether the search did not produce a usable result.
func (c SearchCall) Failed() bool {
	return c.Err != nil
}

// Ticket is one issue-tracker candidate extracted from a raw search payload.
type Ticket struct {
	Key     string `json:"key"`
	Summary string `json:"summary"`
	Status  string `json:"status,omitempty"`
	URL     string `json:"url,omitempty"`
}

// EncodedImage is one ingested attachment, re-encoded for the inference API.
type EncodedImage struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"` // base64 payload, no data: prefix
	Source   string `json:"source,omitempty"`
}

// NodeKind enumerates the kinds of pipeline nodes.
type NodeKind string

const (
	NodeKindImageIngestion  NodeKind = "image_ingestion"
	NodeKindModelQuery      NodeKind = "model_query"
	NodeKindTicketSearch    NodeKind = "ticket_search"
	NodeKindRelevanceRating NodeKind = "relevance_rating"
)

// SearchToolName is the capability the tracker must expose for issue search.
const SearchToolName = "search_issues"

// SearchResultLimit caps how many issues one search call may return.
const SearchResultLimit = 10
