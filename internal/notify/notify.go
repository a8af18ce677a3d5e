// Package notify pushes plain-text alerts to an ntfy-style HTTP endpoint.
package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dgnsrekt/tabgain/internal/types"
)

// Notifier posts alerts to a fixed endpoint. A nil Notifier is a no-op so
// callers can wire it unconditionally.
type Notifier struct {
	endpoint string
	client   *http.Client
}

func New(endpoint string, client *http.Client) *Notifier {
	if endpoint == "" {
		return nil
	}
	return &Notifier{endpoint: endpoint, client: client}
}

// CaptureDenied reports that a tab's audio could not be captured.
func (n *Notifier) CaptureDenied(ctx context.Context, tab types.TabID, url string) error {
	if n == nil {
		return nil
	}
	msg := fmt.Sprintf("tabgain: capture denied for tab %d (%s); volume saved but not applied", tab, url)
	return Send(ctx, n.client, n.endpoint, msg)
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "text/plain")

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
