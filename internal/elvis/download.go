package elvis

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/moby/sys/atomicwriter"
)

// RequestFile downloads fileURL to destination and returns the destination path.
// Like Request it re-authenticates once on a 401. A 409, which Elvis sends while
// a preview is still being generated, is retried once after the client's retry
// delay; both retries can apply to the same download.
func (c *Client) RequestFile(ctx context.Context, fileURL, destination string) (string, error) {
	download := func(s session) error {
		return c.fileRequest(ctx, s, fileURL, destination)
	}

	err := c.withSession(ctx, download)
	if StatusCode(err) == http.StatusConflict {
		slog.Info("Preview not available yet, retrying download", "url", fileURL, "delay", c.retryDelay)
		timer := time.NewTimer(c.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
		err = c.withSession(ctx, download)
	}
	if err != nil {
		return "", fmt.Errorf("download of %s to %s failed: %w", fileURL, destination, err)
	}
	return destination, nil
}

func (c *Client) fileRequest(ctx context.Context, s session, fileURL, destination string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(fileURL), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.addCSRFToken(req, s)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: GET %s: %w", ErrTransport, fileURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{StatusCode: resp.StatusCode, Message: responseMessage(data, resp.Status)}
	}

	return writeFile(destination, resp.Body)
}

// writeFile writes the body of r to destination atomically. The body is read
// completely first: atomicwriter only discards its temporary file on write
// errors, and a broken connection must not leave a truncated preview behind.
func writeFile(destination string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", destination, err)
	}
	if err := atomicwriter.WriteFile(destination, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", destination, err)
	}
	return nil
}
