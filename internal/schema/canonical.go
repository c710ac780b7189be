package schema

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/renameio/v2"
)

// maxCanonicalSize bounds how much we will read from the canonical source.
const maxCanonicalSize = 4 << 20

// Canonical fetches schema and manifest documents from the canonical source
// and restores local copies atomically.
type Canonical struct {
	client      *http.Client
	schemaURL   string
	manifestURL string
}

// NewCanonical builds a canonical client. The timeout bounds each fetch; the
// canonical source is remote and must never stall an integrity run.
func NewCanonical(schemaURL, manifestURL string, timeout time.Duration) *Canonical {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Canonical{
		client:      &http.Client{Timeout: timeout},
		schemaURL:   schemaURL,
		manifestURL: manifestURL,
	}
}

// FetchSchema downloads the canonical schema document.
func (c *Canonical) FetchSchema(ctx context.Context) ([]byte, error) {
	return c.fetch(ctx, c.schemaURL)
}

// FetchManifest downloads the canonical manifest document.
func (c *Canonical) FetchManifest(ctx context.Context) ([]byte, error) {
	return c.fetch(ctx, c.manifestURL)
}

func (c *Canonical) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build canonical request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch canonical %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch canonical %s: unexpected status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxCanonicalSize))
	if err != nil {
		return nil, fmt.Errorf("read canonical %s: %w", url, err)
	}
	return data, nil
}

// RestoreSchema fetches the canonical schema and replaces the local copy.
// The replace is fsync-then-rename; readers never observe a torn file.
func (c *Canonical) RestoreSchema(ctx context.Context, destPath string) error {
	data, err := c.FetchSchema(ctx)
	if err != nil {
		return err
	}
	return atomicWrite(destPath, data)
}

func atomicWrite(path string, data []byte) error {
	pending, err := renameio.NewPendingFile(path)
	if err != nil {
		return fmt.Errorf("create pending file for %s: %w", path, err)
	}
	defer func() {
		_ = pending.Cleanup()
	}()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write pending file for %s: %w", path, err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", path, err)
	}
	return nil
}
