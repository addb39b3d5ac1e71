package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mantelhq/triage/pkg/schema"
)

// Part is one content part of a multimodal request: either text or an
// inline base64 image tagged with a MIME type.
type Part struct {
	Text      string
	ImageMIME string
	ImageData string // base64 payload, no data: prefix
}

// TextPart builds a text content part.
func TextPart(text string) Part {
	return Part{Text: text}
}

// ImagePart builds an inline-image content part from an encoded image.
func ImagePart(img schema.EncodedImage) Part {
	return Part{ImageMIME: img.MIMEType, ImageData: img.Data}
}

// Request is a single completion request: a role, ordered content parts, and
// a model identifier. No streaming; one request per node invocation.
type Request struct {
	Model string
	Role  string
	Parts []Part
}

// Client is the inference boundary. Implementations send one multimodal
// completion request and return the raw text response.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Config configures the HTTP inference client.
type Config struct {
	BaseURL         string // e.g. "https://api.openai.com/v1"
	APIKey          string
	Model           string // default model when the request leaves it empty
	Timeout         time.Duration
	MaxResponseBody int64
}

const (
	defaultTimeout         = 60 * time.Second
	defaultMaxResponseBody = 4 * 1024 * 1024 // 4MB
)

// HTTPClient is an OpenAI-compatible chat-completions client.
type HTTPClient struct {
	config Config
	client *http.Client
}

// NewHTTPClient creates a new HTTP inference client.
func NewHTTPClient(cfg Config) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, schema.NewError(schema.ErrCodeConfig, "inference base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, schema.NewError(schema.ErrCodeConfig, "inference API key is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	return &HTTPClient{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// chat-completions wire types.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []chatContent `json:"content"`
}

type chatContent struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends one multimodal completion request and returns the text of
// the first choice.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (string, error) {
	if len(req.Parts) == 0 {
		return "", schema.NewError(schema.ErrCodeValidation, "inference request has no content parts")
	}

	model := req.Model
	if model == "" {
		model = c.config.Model
	}
	role := req.Role
	if role == "" {
		role = "user"
	}

	content := make([]chatContent, 0, len(req.Parts))
	for _, p := range req.Parts {
		if p.ImageData != "" {
			content = append(content, chatContent{
				Type:     "image_url",
				ImageURL: &chatImageURL{URL: fmt.Sprintf("data:%s;base64,%s", p.ImageMIME, p.ImageData)},
			})
			continue
		}
		content = append(content, chatContent{Type: "text", Text: p.Text})
	}

	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: []chatMessage{{Role: role, Content: content}},
	})
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeInference, "marshal completion request: %s", err.Error()).WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeInference, "create completion request: %s", err.Error()).WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeInference, "completion request failed: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBody))
	if err != nil {
		return "", schema.NewErrorf(schema.ErrCodeInference, "read completion response: %s", err.Error()).WithCause(err)
	}

	var decoded chatResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", schema.NewErrorf(schema.ErrCodeParse, "completion response is not valid JSON: %s", err.Error()).
			WithCause(err).
			WithDetails(map[string]any{"excerpt": schema.Excerpt(string(raw))})
	}

	if resp.StatusCode != http.StatusOK {
		msg := resp.Status
		if decoded.Error != nil {
			msg = decoded.Error.Message
		}
		return "", schema.NewErrorf(schema.ErrCodeInference, "completion API returned %d: %s", resp.StatusCode, msg).
			WithDetails(map[string]any{"status_code": resp.StatusCode})
	}

	if len(decoded.Choices) == 0 {
		return "", schema.NewError(schema.ErrCodeParse, "completion response has no choices").
			WithDetails(map[string]any{"excerpt": schema.Excerpt(string(raw))})
	}

	return decoded.Choices[0].Message.Content, nil
}

var _ Client = (*HTTPClient)(nil)
