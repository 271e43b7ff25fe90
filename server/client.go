package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/xhelldemo/xhelldemo/history"
	"github.com/xhelldemo/xhelldemo/internal/files"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Client talks to a running demo service.
type Client struct {
	Logger     *zap.SugaredLogger
	HTTPClient *http.Client
	// ExecHTTPClient sends commands and never retries them.
	ExecHTTPClient *http.Client

	baseURL                  string
	customizeRetryableClient func(*retryablehttp.Client)
	waitInterval             time.Duration
}

type ClientOption func(c *Client)

func WithClientWaitInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.waitInterval = d
	}
}

func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) {
		c.Logger = l.Named("client").Sugar()
	}
}

func WithCustomizeRetryableClient(f func(r *retryablehttp.Client)) ClientOption {
	return func(c *Client) {
		c.customizeRetryableClient = f
	}
}

type logAdapter struct {
	*zap.SugaredLogger
}

func (a *logAdapter) Printf(msg string, args ...interface{}) { a.Debugf(msg, args...) }

// NewClient builds a client for the service at baseURL, e.g. "http://localhost:8501".
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		Logger:       zap.NewNop().Sugar(),
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		waitInterval: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.HTTPClient = c.newRetryableClient().StandardClient()

	execClient := c.newRetryableClient()
	execClient.RetryMax = 0
	c.ExecHTTPClient = execClient.StandardClient()
	return c
}

func (c *Client) newRetryableClient() *retryablehttp.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.Backoff = func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		return 10 * time.Millisecond
	}
	retryClient.RetryMax = 10
	retryClient.Logger = &logAdapter{SugaredLogger: c.Logger}

	if c.customizeRetryableClient != nil {
		c.customizeRetryableClient(retryClient)
	}
	return retryClient
}

// statusError is returned for any non-2xx response that has no more specific meaning.
type statusError struct {
	Code int
	Body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status code %d: %s", e.Code, strings.TrimSpace(e.Body))
}

func readStatusError(resp *http.Response) error {
	var body string
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		body = fmt.Errorf("error reading body: %w", err).Error()
	} else {
		body = string(b)
	}
	return &statusError{Code: resp.StatusCode, Body: body}
}

// do sends a request with an optional JSON body and decodes a JSON response into out, if out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Add("Content-Type", "application/json")

	httpClient := c.HTTPClient
	if method == http.MethodPost {
		httpClient = c.ExecHTTPClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP error: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s %s: %w", method, path, files.ErrNotFound)
	case resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%s %s: %w", method, path, files.ErrPathTraversal)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fmt.Errorf("%s %s: %w", method, path, readStatusError(resp))
	}
	if out == nil {
		return nil
	}
	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *Client) SendHeartbeat(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var resp HeartbeatResponse
	err := c.do(ctx, http.MethodGet, "/heartbeat", nil, &resp)
	if err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("unexpected heartbeat status %q", resp.Status)
	}
	return nil
}

func (c *Client) WaitForServer(ctx context.Context) error {
	ticker := time.NewTicker(c.waitInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			err := c.SendHeartbeat(ctx)
			if err == nil {
				c.Logger.Debug("heartbeat succeeded, done waiting for server")
				return nil
			}
			c.Logger.Debugf("got heartbeat error: %s", err)
		}
	}
}

func (c *Client) Execute(ctx context.Context, command string) (*ExecuteResponse, error) {
	var resp ExecuteResponse
	err := c.do(ctx, http.MethodPost, "/execute", ExecuteRequest{Command: command}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ExecuteBatch(ctx context.Context, commands []string) ([]ExecuteResponse, error) {
	var resp BatchResponse
	err := c.do(ctx, http.MethodPost, "/execute/batch", BatchRequest{Commands: commands}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *Client) History(ctx context.Context) ([]history.Entry, error) {
	var entries []history.Entry
	err := c.do(ctx, http.MethodGet, "/history", nil, &entries)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (c *Client) ClearHistory(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/history", nil, nil)
}

func (c *Client) ListFiles(ctx context.Context) ([]string, error) {
	var resp FilesResponse
	err := c.do(ctx, http.MethodGet, "/files", nil, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Files, nil
}

// ReadFile reads a workspace file, returning files.ErrNotFound if it does not exist
// and files.ErrPathTraversal if name points outside the workspace.
func (c *Client) ReadFile(ctx context.Context, name string) (string, error) {
	var resp FileResponse
	err := c.do(ctx, http.MethodGet, "/files/"+url.PathEscape(name), nil, &resp)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *Client) Logs(ctx context.Context) (string, error) {
	var resp LogsResponse
	err := c.do(ctx, http.MethodGet, "/logs", nil, &resp)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *Client) ClearLogs(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/logs", nil, nil)
}

// Session is an open /session connection. It is not safe for concurrent use.
type Session struct {
	conn *websocket.Conn
	log  *zap.SugaredLogger
}

func (c *Client) OpenSession(ctx context.Context) (*Session, error) {
	u := c.baseURL + "/session"
	c.Logger.Debugw("dialing WebSocket", "URL", u)
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("dialing WebSocket conn: %w", err)
	}
	conn.SetReadLimit(sessionReadLimit)
	return &Session{conn: conn, log: c.Logger.Named("session")}, nil
}

// Execute sends one command and waits for its result.
func (s *Session) Execute(ctx context.Context, command string) (*ExecuteResponse, error) {
	err := wsjson.Write(ctx, s.conn, &sessionMessage{Command: command})
	if err != nil {
		return nil, fmt.Errorf("sending command: %w", err)
	}
	var resp sessionResult
	err = wsjson.Read(ctx, s.conn, &resp)
	if err != nil {
		return nil, fmt.Errorf("reading result: %w", err)
	}
	if resp.Err != "" {
		return nil, fmt.Errorf("session error: %s", resp.Err)
	}
	return resp.Result, nil
}

func (s *Session) Close() error {
	err := s.conn.Close(websocket.StatusNormalClosure, "")
	s.log.Debugw("closed session", "Error", err)
	return err
}
