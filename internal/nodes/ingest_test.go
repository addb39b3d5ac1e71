package nodes

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mantelhq/triage/internal/pipeline"
	"github.com/mantelhq/triage/pkg/schema"
)

func TestImageIngestionSkipsFailedFetches(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/one.png":
			_, _ = w.Write([]byte("first"))
		case "/two.png":
			w.WriteHeader(http.StatusInternalServerError)
		case "/three.webp":
			_, _ = w.Write([]byte("third"))
		}
	}))
	defer srv.Close()

	n := NewImageIngestion([]string{
		srv.URL + "/one.png",
		srv.URL + "/two.png",
		srv.URL + "/three.webp",
	}, t.TempDir(), nil)

	out, err := n.Execute(context.Background(), pipeline.NewExecutionContext(nil, nil))
	require.NoError(t, err, "a failed file is omitted, never aborts the node")

	images := out.([]schema.EncodedImage)
	require.Len(t, images, 2)
	assert.Equal(t, "image/png", images[0].MIMEType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("first")), images[0].Data)
	assert.Equal(t, "image/webp", images[1].MIMEType)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("third")), images[1].Data)
}

func TestImageIngestionEmptyInput(t *testing.T) {
	n := NewImageIngestion(nil, t.TempDir(), nil)
	out, err := n.Execute(context.Background(), pipeline.NewExecutionContext(nil, nil))
	require.NoError(t, err)
	assert.Empty(t, out.([]schema.EncodedImage))
}

func TestMimeTypeFor(t *testing.T) {
	for locator, want := range map[string]string{
		"https://files.example.com/shot.png":        "image/png",
		"https://files.example.com/anim.GIF":        "image/gif",
		"https://files.example.com/pic.webp?t=1":    "image/webp",
		"https://files.example.com/photo.jpg":       "image/jpeg",
		"https://files.example.com/mystery.heic":    "image/jpeg",
		"https://files.example.com/noextension":     "image/jpeg",
	} {
		assert.Equal(t, want, mimeTypeFor(locator), locator)
	}
}
