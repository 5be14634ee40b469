package jenkins

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultPollInterval   = 2 * time.Second
	DefaultTimeout        = 20 * time.Second
	DefaultRequestTimeout = 60 * time.Second
	DefaultNodeLimit      = 10000

	maxErrorBody = 512
)

type Config struct {
	BaseURL  string
	Username string
	Token    string

	PollInterval   time.Duration
	Timeout        time.Duration
	RequestTimeout time.Duration
	NodeLimit      int
}

type Client struct {
	baseURL      *url.URL
	username     string
	token        string
	httpClient   *http.Client
	logger       *slog.Logger
	pollInterval time.Duration
	timeout      time.Duration
	nodeLimit    int
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func New(cfg Config, opts ...Option) (*Client, error) {
	base, err := normalizeBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	client := &Client{
		baseURL:      base,
		username:     cfg.Username,
		token:        cfg.Token,
		logger:       slog.Default(),
		pollInterval: cfg.PollInterval,
		timeout:      cfg.Timeout,
		nodeLimit:    cfg.NodeLimit,
	}
	if client.pollInterval <= 0 {
		client.pollInterval = DefaultPollInterval
	}
	if client.timeout <= 0 {
		client.timeout = DefaultTimeout
	}
	if client.nodeLimit <= 0 {
		client.nodeLimit = DefaultNodeLimit
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	client.httpClient = &http.Client{Timeout: requestTimeout}

	for _, opt := range opts {
		opt(client)
	}
	client.logger = client.logger.With(slog.String("component", "jenkins"))
	return client, nil
}

// normalizeBaseURL makes sure the base ends with "/" so relative API paths
// resolve below it.
func normalizeBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("jenkins: base url is required")
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("jenkins: invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("jenkins: base url must be http or https: %q", raw)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("jenkins: base url has no host: %q", raw)
	}
	return base, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL.String()
}

// JobURL is the browser URL of a job.
func (c *Client) JobURL(jobName string) string {
	target, err := c.resolve(jobPath(jobName) + "/")
	if err != nil {
		return ""
	}
	return target.String()
}

// jobPath turns "folder/name" into "job/folder/job/name".
func jobPath(jobName string) string {
	segments := strings.Split(strings.Trim(jobName, "/"), "/")
	parts := make([]string, 0, len(segments)*2)
	for _, segment := range segments {
		parts = append(parts, "job", url.PathEscape(segment))
	}
	return strings.Join(parts, "/")
}

// pipelinePath is the Blue Ocean equivalent of jobPath.
func pipelinePath(jobName string) string {
	segments := strings.Split(strings.Trim(jobName, "/"), "/")
	for i, segment := range segments {
		segments[i] = url.PathEscape(segment)
	}
	return "pipelines/" + strings.Join(segments, "/pipelines/")
}

func (c *Client) resolve(ref string) (*url.URL, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("jenkins: invalid url %q: %w", ref, err)
	}
	return c.baseURL.ResolveReference(parsed), nil
}

type response struct {
	body   []byte
	header http.Header
}

// do sends one request. query is appended to the URL and form, when not nil,
// is sent as a urlencoded body.
func (c *Client) do(ctx context.Context, method, ref string, query url.Values, form url.Values) (*response, error) {
	target, err := c.resolve(ref)
	if err != nil {
		return nil, err
	}
	if len(query) > 0 {
		q := target.Query()
		for key, values := range query {
			for _, value := range values {
				q.Add(key, value)
			}
		}
		target.RawQuery = q.Encode()
	}

	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.username != "" || c.token != "" {
		req.SetBasicAuth(c.username, c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			Method:     method,
			URL:        target.String(),
			Body:       truncate(strings.TrimSpace(string(data)), maxErrorBody),
		}
	}
	return &response{body: data, header: resp.Header}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
