// Package notify posts run-failure messages to an ntfy topic.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Notifier sends messages to one ntfy endpoint. A Notifier with an empty
// endpoint does nothing.
type Notifier struct {
	endpoint string
	client   *http.Client
}

func New(endpoint string, client *http.Client) *Notifier {
	if client == nil {
		client = http.DefaultClient
	}
	return &Notifier{endpoint: strings.TrimSpace(endpoint), client: client}
}

func (n *Notifier) Enabled() bool { return n != nil && n.endpoint != "" }

// RunFailed reports a fatal run error.
func (n *Notifier) RunFailed(ctx context.Context, runErr error) error {
	if !n.Enabled() || runErr == nil {
		return nil
	}
	return Send(ctx, n.client, n.endpoint, "fitstar utilization run failed", runErr.Error())
}

// Send posts message to endpoint as plain text with an ntfy title header.
func Send(ctx context.Context, client *http.Client, endpoint, title, message string) error {
	if endpoint == "" {
		return errors.New("ntfy endpoint is required")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")
	if title != "" {
		req.Header.Set("Title", title)
		req.Header.Set("Tags", "warning")
	}

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}
