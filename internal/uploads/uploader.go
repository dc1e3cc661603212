package uploads

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/lunahq/realtime/internal/infrastructure/config"
	"github.com/lunahq/realtime/internal/infrastructure/logging"
	"github.com/lunahq/realtime/internal/infrastructure/resilience"
	"github.com/lunahq/realtime/internal/protocol"
)

// Uploader wraps resty with retry-aware transport for attachment uploads.
// A circuit breaker keeps a dead upload endpoint from stalling every send.
type Uploader struct {
	client  *resty.Client
	breaker *resilience.Breaker
	logger  *logging.Logger
}

// uploadResponse is the server's reply to a multipart upload.
type uploadResponse struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// New creates an uploader against the REST base URL.
func New(cfg config.UploadsConfig, logger *logging.Logger) *Uploader {
	if logger == nil {
		logger = logging.NewNop()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = cfg.MaxRetries
	retryClient.RetryWaitMin = 1 * time.Second
	retryClient.RetryWaitMax = 10 * time.Second
	retryClient.Logger = nil

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(1 * time.Second).
		SetHeader("User-Agent", "realtime-core/1.0")
	client.SetTransport(retryClient.HTTPClient.Transport)

	return &Uploader{
		client: client,
		breaker: resilience.New(resilience.Settings{
			TripAfter: 5,
			Cooldown:  30 * time.Second,
		}),
		logger: logger.Named("uploads"),
	}
}

// UploadFile pushes one local file as a multipart form and returns the
// server-assigned reference.
func (u *Uploader) UploadFile(ctx context.Context, path string) (protocol.FileRef, error) {
	info, err := os.Stat(path)
	if err != nil {
		return protocol.FileRef{}, fmt.Errorf("stat attachment: %w", err)
	}
	if info.IsDir() {
		return protocol.FileRef{}, fmt.Errorf("attachment %s is a directory", path)
	}

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(path); err == nil {
		contentType = mt.String()
	}

	name := filepath.Base(path)
	var out uploadResponse
	err = u.breaker.Execute(func() error {
		resp, err := u.client.R().
			SetContext(ctx).
			SetFile("file", path).
			SetFormData(map[string]string{
				"filename":     name,
				"content_type": contentType,
			}).
			SetResult(&out).
			Post("/files")
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("server returned %s", resp.Status())
		}
		return nil
	})
	if err != nil {
		return protocol.FileRef{}, fmt.Errorf("upload %s: %w", name, err)
	}
	if out.ID == "" {
		return protocol.FileRef{}, fmt.Errorf("upload %s: response missing file id", name)
	}

	u.logger.Info("attachment uploaded",
		zap.String("file", name),
		zap.String("id", out.ID),
		zap.Int64("size", info.Size()))

	return protocol.FileRef{
		ID:          out.ID,
		Name:        name,
		ContentType: contentType,
		Size:        info.Size(),
	}, nil
}

// UploadAll uploads every path in order and returns the references for the
// chat command. The first failure aborts the batch.
func (u *Uploader) UploadAll(ctx context.Context, paths []string) ([]protocol.FileRef, error) {
	if len(paths) == 0 {
		return nil, nil
	}
	refs := make([]protocol.FileRef, 0, len(paths))
	for _, p := range paths {
		ref, err := u.UploadFile(ctx, p)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
