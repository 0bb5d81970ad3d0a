package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fruitsalade/tenantfs/internal/events"
	"github.com/fruitsalade/tenantfs/internal/logging"
)

// Reconnect bounds of the event feed.
var (
	ReconnectMin = 1 * time.Second
	ReconnectMax = 30 * time.Second
)

// Events follows the server's change feed, reconnecting with backoff until
// ctx is done. Both channels are closed on return. Connection failures are
// sent on the error channel when nobody is reading they are dropped.
func (c *Client) Events(ctx context.Context) (<-chan events.Event, <-chan error) {
	out := make(chan events.Event, 100)
	errs := make(chan error, 1)
	go c.subscribeLoop(ctx, out, errs)
	return out, errs
}

func (c *Client) subscribeLoop(ctx context.Context, out chan<- events.Event, errs chan<- error) {
	defer close(out)
	defer close(errs)

	// No client timeout on the stream; ctx bounds it.
	stream := &http.Client{Transport: c.httpClient.Transport}
	delay := ReconnectMin

	for {
		err := c.connect(ctx, stream, out)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			select {
			case errs <- err:
			default:
			}
			logging.Warn("event feed disconnected", zap.Error(err), zap.Duration("retry_in", delay))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > ReconnectMax {
			delay = ReconnectMax
		}
	}
}

func (c *Client) connect(ctx context.Context, stream *http.Client, out chan<- events.Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/events", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := stream.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	logging.Debug("event feed connected", zap.String("url", req.URL.String()))

	scanner := bufio.NewScanner(resp.Body)
	var data string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data == "" {
				continue
			}
			var e events.Event
			if err := json.Unmarshal([]byte(data), &e); err == nil {
				select {
				case out <- e:
				case <-ctx.Done():
					return nil
				}
			}
			data = ""
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("read: %w", err)
	}
	return fmt.Errorf("connection closed")
}
