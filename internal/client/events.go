package client

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	authmodels "paybook/internal/auth/models"
)

// Events opens the session event stream. The channel closes when the
// server ends the stream, the connection drops, or cancel is called.
func (c *Client) Events(ctx context.Context, token string) (<-chan authmodels.SessionEvent, func(), error) {
	streamCtx, cancel := context.WithCancel(ctx)
	req, err := c.newRequest(streamCtx, http.MethodGet, "/auth/session/events", token, nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		cancel()
		return nil, nil, transportError(err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		cancel()
		return nil, nil, decodeError(resp)
	}

	out := make(chan authmodels.SessionEvent, 8)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		c.readEvents(streamCtx, resp.Body, out)
	}()
	return out, cancel, nil
}

// readEvents parses a text/event-stream body. Comment lines are keepalives.
func (c *Client) readEvents(ctx context.Context, body io.Reader, out chan<- authmodels.SessionEvent) {
	scanner := bufio.NewScanner(body)
	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var event authmodels.SessionEvent
			if err := json.Unmarshal([]byte(data.String()), &event); err != nil {
				c.logger.WarnContext(ctx, "dropping malformed session event", "error", err)
			} else {
				select {
				case out <- event:
				case <-ctx.Done():
					return
				}
			}
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		c.logger.WarnContext(ctx, "session event stream closed", "error", err)
	}
}
