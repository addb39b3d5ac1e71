package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantelhq/triage/pkg/schema"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewHTTPClient(Config{BaseURL: srv.URL, APIKey: "test-key", Model: "gpt-test"})
	require.NoError(t, err)
	return c
}

func TestCompleteSendsMultimodalParts(t *testing.T) {
	var captured chatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": "the answer"}}},
		})
	})

	out, err := c.Complete(context.Background(), Request{
		Parts: []Part{
			TextPart("describe this"),
			ImagePart(schema.EncodedImage{MIMEType: "image/png", Data: "aGVsbG8="}),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "the answer", out)

	require.Len(t, captured.Messages, 1)
	msg := captured.Messages[0]
	assert.Equal(t, "user", msg.Role)
	assert.Equal(t, "gpt-test", captured.Model)
	require.Len(t, msg.Content, 2)
	assert.Equal(t, "text", msg.Content[0].Type)
	assert.Equal(t, "image_url", msg.Content[1].Type)
	assert.Equal(t, "data:image/png;base64,aGVsbG8=", msg.Content[1].ImageURL.URL)
}

func TestCompleteAPIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limited", "type": "rate_limit"},
		})
	})

	_, err := c.Complete(context.Background(), Request{Parts: []Part{TextPart("hi")}})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeInference, schema.CodeOf(err))
	assert.Contains(t, err.Error(), "rate limited")
}

func TestCompleteMalformedResponse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>gateway error</html>"))
	})

	_, err := c.Complete(context.Background(), Request{Parts: []Part{TextPart("hi")}})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeParse, schema.CodeOf(err))
}

func TestCompleteNoChoices(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	})

	_, err := c.Complete(context.Background(), Request{Parts: []Part{TextPart("hi")}})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeParse, schema.CodeOf(err))
}

func TestCompleteRejectsEmptyRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := c.Complete(context.Background(), Request{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestNewHTTPClientConfigValidation(t *testing.T) {
	_, err := NewHTTPClient(Config{APIKey: "k"})
	assert.Equal(t, schema.ErrCodeConfig, schema.CodeOf(err))
	_, err = NewHTTPClient(Config{BaseURL: "http://x"})
	assert.Equal(t, schema.ErrCodeConfig, schema.CodeOf(err))
}
