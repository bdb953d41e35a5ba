package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/botpanel/internal/api"
	"github.com/mattjoyce/botpanel/internal/events"
)

// Client talks to the panel API on behalf of the dashboard.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	// stream has no timeout; the SSE response is open-ended.
	stream *http.Client

	rulesETag string
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
		stream:  &http.Client{},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, path)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Status fetches GET /status.
func (c *Client) Status(ctx context.Context) (api.StatusResponse, error) {
	var st api.StatusResponse
	err := c.getJSON(ctx, "/status", &st)
	return st, err
}

// Rules fetches GET /rules. changed is false when the panel answered 304
// for the last seen ETag.
func (c *Client) Rules(ctx context.Context) (list api.RuleListResponse, changed bool, err error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/rules")
	if err != nil {
		return list, false, err
	}
	if c.rulesETag != "" {
		req.Header.Set("If-None-Match", c.rulesETag)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return list, false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNotModified:
		return list, false, nil
	case http.StatusOK:
	default:
		return list, false, apiError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return list, false, err
	}
	c.rulesETag = resp.Header.Get("ETag")
	return list, true, nil
}

// Control posts a start, stop or restart. A soft failure (409) is returned
// as a response with OK=false, not an error.
func (c *Client) Control(ctx context.Context, action string) (api.ControlResponse, error) {
	var out api.ControlResponse
	req, err := c.newRequest(ctx, http.MethodPost, "/control/"+action)
	if err != nil {
		return out, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		return out, apiError(resp)
	}
	err = json.NewDecoder(resp.Body).Decode(&out)
	return out, err
}

// Stream reads GET /events until the connection drops or ctx ends, passing
// each event to emit.
func (c *Client) Stream(ctx context.Context, lastID int64, emit func(events.Event)) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/events")
	if err != nil {
		return err
	}
	if lastID > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(lastID, 10))
	}
	resp, err := c.stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	return parseSSE(resp.Body, emit)
}

// parseSSE decodes an event stream. Comment lines are ignored; an event is
// emitted at each blank line that closes a frame with data.
func parseSSE(r io.Reader, emit func(events.Event)) error {
	var (
		cur  events.Event
		data strings.Builder
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() > 0 {
				cur.Data = json.RawMessage(data.String())
				if cur.At.IsZero() {
					cur.At = time.Now()
				}
				emit(cur)
			}
			cur = events.Event{}
			data.Reset()
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[len("id: "):], 10, 64); err == nil {
				cur.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			cur.Type = line[len("event: "):]
		case strings.HasPrefix(line, "data: "):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(line[len("data: "):])
		}
	}
	return scanner.Err()
}

func apiError(resp *http.Response) error {
	var e api.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error != "" {
		return fmt.Errorf("%s: %s", resp.Status, e.Error)
	}
	return fmt.Errorf("%s", resp.Status)
}
