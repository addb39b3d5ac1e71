package nodes

import (
	"context"
	"encoding/base64"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/mantelhq/triage/internal/pipeline"
	"github.com/mantelhq/triage/pkg/schema"
)

const (
	maxAttachmentBytes = 20 * 1024 * 1024 // 20MB
	fetchTimeout       = 30 * time.Second
)

// ImageIngestion fetches remote attachments, persists them to a scoped
// temporary location, and re-encodes each as an inline base64 payload with a
// best-effort MIME type. Per-file failures are logged and skipped: one bad
// attachment must not block analysis of the rest of the message.
type ImageIngestion struct {
	files   []string
	tempDir string
	client  *http.Client
	logger  *slog.Logger
}

// NewImageIngestion creates the ingestion node for one run's file locators.
func NewImageIngestion(files []string, tempDir string, logger *slog.Logger) *ImageIngestion {
	if logger == nil {
		logger = slog.Default()
	}
	return &ImageIngestion{
		files:   files,
		tempDir: tempDir,
		client:  &http.Client{Timeout: fetchTimeout},
		logger:  logger,
	}
}

func (n *ImageIngestion) ID() string            { return IDImageIngestion }
func (n *ImageIngestion) Kind() schema.NodeKind { return schema.NodeKindImageIngestion }
func (n *ImageIngestion) DependsOn() []string   { return nil }

// Execute returns the ordered list of successfully encoded images. An empty
// file list yields an empty result, never an error.
func (n *ImageIngestion) Execute(ctx context.Context, ec *pipeline.ExecutionContext) (any, error) {
	images := make([]schema.EncodedImage, 0, len(n.files))

	for _, locator := range n.files {
		img, err := n.ingestOne(ctx, locator)
		if err != nil {
			n.logger.WarnContext(ctx, "attachment skipped",
				slog.String("file", locator),
				slog.String("error", err.Error()),
			)
			continue
		}
		images = append(images, img)
	}

	return images, nil
}

func (n *ImageIngestion) ingestOne(ctx context.Context, locator string) (schema.EncodedImage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return schema.EncodedImage{}, schema.NewErrorf(schema.ErrCodeValidation, "invalid file locator: %v", err).WithCause(err)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return schema.EncodedImage{}, schema.NewErrorf(schema.ErrCodeConnectivity, "fetch attachment: %v", err).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return schema.EncodedImage{}, schema.NewErrorf(schema.ErrCodeConnectivity, "fetch attachment: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes))
	if err != nil {
		return schema.EncodedImage{}, schema.NewErrorf(schema.ErrCodeConnectivity, "read attachment: %v", err).WithCause(err)
	}

	// Persist a scoped temp copy for diagnostics; the encoded payload is what
	// travels to the inference API.
	if n.tempDir != "" {
		tmp, tmpErr := os.CreateTemp(n.tempDir, "attachment-*")
		if tmpErr == nil {
			_, _ = tmp.Write(data)
			_ = tmp.Close()
		}
	}

	return schema.EncodedImage{
		MIMEType: mimeTypeFor(locator),
		Data:     base64.StdEncoding.EncodeToString(data),
		Source:   locator,
	}, nil
}

// mimeTypeFor derives a best-effort MIME type from the file extension.
// Anything unrecognized is treated as JPEG.
func mimeTypeFor(locator string) string {
	ext := path.Ext(locator)
	if u, err := url.Parse(locator); err == nil && u.Path != "" {
		ext = path.Ext(u.Path)
	}
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
