package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"camstream/internal/camera"
)

const maxResponseBytes = 64 * 1024

// ErrTransport wraps every failure to reach the backend or to decode its reply.
var ErrTransport = errors.New("backend unreachable")

// RejectedError is returned when the backend answers with success=false.
type RejectedError struct {
	Op      string
	Status  int
	Message string
}

func (e *RejectedError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s rejected (HTTP %d)", e.Op, e.Status)
	}
	return fmt.Sprintf("%s rejected: %s", e.Op, e.Message)
}

// StartResult describes a stream the backend confirmed as started.
type StartResult struct {
	StreamURL string
	SessionID string
}

// Client talks to the stream backend. It never retries; every retry is an
// operator decision.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	log     *slog.Logger
}

// NewClient returns a Client for the backend at baseURL. A nil httpClient
// uses http.DefaultClient; a nil log discards output.
func NewClient(baseURL string, httpClient *http.Client, log *slog.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url %q must be http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{baseURL: u, http: httpClient, log: log}, nil
}

// StartStream asks the backend to start the given variant.
func (c *Client) StartStream(ctx context.Context, v camera.Variant) (StartResult, error) {
	form := url.Values{FieldStreamType: {v.String()}}
	req, err := c.newRequest(ctx, http.MethodPost, PathStartStream, strings.NewReader(form.Encode()))
	if err != nil {
		return StartResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var body StartResponse
	status, err := c.do(req, &body)
	if err != nil {
		return StartResult{}, err
	}
	if !body.Success {
		return StartResult{}, &RejectedError{Op: "start stream", Status: status, Message: body.Message}
	}
	if body.StreamURL == "" {
		return StartResult{}, &RejectedError{Op: "start stream", Status: status, Message: "backend returned no stream url"}
	}

	c.log.Debug("stream started",
		slog.String("variant", v.String()),
		slog.String("stream_url", body.StreamURL),
		slog.String("session_id", body.SessionID))

	return StartResult{StreamURL: c.resolve(body.StreamURL), SessionID: body.SessionID}, nil
}

// StopStream asks the backend to stop streaming. Only a parseable reply is
// required; its content is informational.
func (c *Client) StopStream(ctx context.Context) error {
	req, err := c.newRequest(ctx, http.MethodPost, PathStopStream, nil)
	if err != nil {
		return err
	}

	var body StatusResponse
	if _, err := c.do(req, &body); err != nil {
		return err
	}
	c.log.Debug("stream stopped", slog.Bool("success", body.Success), slog.String("message", body.Message))
	return nil
}

// SaveSettings submits the full settings record as a multipart form and
// returns the backend's confirmation message.
func (c *Client) SaveSettings(ctx context.Context, s camera.Settings) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for field, values := range s.Form() {
		for _, v := range values {
			if err := mw.WriteField(field, v); err != nil {
				return "", fmt.Errorf("encoding settings: %w", err)
			}
		}
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("encoding settings: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, PathSaveSettings, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var body StatusResponse
	status, err := c.do(req, &body)
	if err != nil {
		return "", err
	}
	if !body.Success {
		return "", &RejectedError{Op: "save settings", Status: status, Message: body.Message}
	}
	return body.Message, nil
}

// Settings fetches the settings currently stored by the backend.
func (c *Client) Settings(ctx context.Context) (camera.Settings, bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, PathSettings, nil)
	if err != nil {
		return camera.Settings{}, false, err
	}

	var body SettingsResponse
	status, err := c.do(req, &body)
	if err != nil {
		return camera.Settings{}, false, err
	}
	if status >= http.StatusBadRequest {
		return camera.Settings{}, false, &RejectedError{Op: "load settings", Status: status}
	}
	return body.Settings, body.Configured, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, body)
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// do sends req and decodes the JSON envelope into out. Non-2xx replies are
// decoded too: the backend reports rejections with 400/500 and a body.
func (c *Client) do(req *http.Request, out any) (int, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %s: %w", ErrTransport, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("%w: reading %s response: %w", ErrTransport, req.URL.Path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: decoding %s response (HTTP %d): %w", ErrTransport, req.URL.Path, resp.StatusCode, err)
	}
	return resp.StatusCode, nil
}

// resolve makes a relative stream url absolute against the backend address.
func (c *Client) resolve(streamURL string) string {
	ref, err := url.Parse(streamURL)
	if err != nil {
		return streamURL
	}
	return c.baseURL.ResolveReference(ref).String()
}
