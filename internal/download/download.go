package download

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/example/speech-trainer/api-go/internal/apperr"
)

// Downloader fetches a gzip-compressed tar archive and unpacks it into ModelsDir.
type Downloader struct {
	Client    *http.Client
	Emitter   Emitter
	ModelsDir string
	TempDir   string // "" uses the OS default
	Logger    *slog.Logger
}

// Run downloads url, reporting progress to rep, then extracts it.
// Errors are returned; the caller decides how to report them.
func (d Downloader) Run(ctx context.Context, url string, rep Reporter) error {
	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return apperr.Transport("download "+url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return apperr.Transport("download "+url, fmt.Errorf("unexpected status %s", resp.Status))
	}

	tmp, err := os.CreateTemp(d.TempDir, "model-*.tar.gz")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	progress, err := d.Emitter.Copy(ctx, tmp, resp.Body, resp.ContentLength, rep)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close temp file: %w", closeErr)
	}
	if err != nil {
		return apperr.Transport("download "+url, err)
	}
	_ = rep.Info("Download complete")
	logger.Info("model archive downloaded",
		"url", url,
		"size", humanize.Bytes(uint64(progress.BytesDownloaded)),
	)

	if err := Extract(tmpPath, d.ModelsDir); err != nil {
		return fmt.Errorf("extract archive: %w", err)
	}
	_ = rep.Info("Model extracted")
	_ = rep.Info("Return to models page to continue")
	return nil
}
