package nodes

import (
	"context"

	"github.com/mantelhq/triage/internal/inference"
	"github.com/mantelhq/triage/internal/pipeline"
	"github.com/mantelhq/triage/pkg/schema"
)

// ModelQuery combines a prompt template, the user's raw text, and the
// ingested images into one multimodal completion request. The raw model text
// is the node result; parsing is the caller's concern. Inference failures
// propagate uncaught — this node never retries.
type ModelQuery struct {
	client   inference.Client
	prompt   string
	text     string
	announce Announce
}

// NewModelQuery creates the analysis node for one run.
func NewModelQuery(client inference.Client, prompt, text string, announce Announce) *ModelQuery {
	return &ModelQuery{client: client, prompt: prompt, text: text, announce: announce}
}

func (n *ModelQuery) ID() string            { return IDModelQuery }
func (n *ModelQuery) Kind() schema.NodeKind { return schema.NodeKindModelQuery }
func (n *ModelQuery) DependsOn() []string   { return []string{IDImageIngestion} }

func (n *ModelQuery) Execute(ctx context.Context, ec *pipeline.ExecutionContext) (any, error) {
	parts := []inference.Part{inference.TextPart(n.prompt + "\n\nUser message:\n" + n.text)}

	if raw, ok := ec.Result(IDImageIngestion); ok {
		if images, ok := raw.([]schema.EncodedImage); ok {
			for _, img := range images {
				parts = append(parts, inference.ImagePart(img))
			}
		}
	}

	if n.announce != nil {
		// Progress is best effort; a dropped notification must not fail the run.
		_ = n.announce(ctx, "Analyzing your report...")
	}

	return n.client.Complete(ctx, inference.Request{Parts: parts})
}
