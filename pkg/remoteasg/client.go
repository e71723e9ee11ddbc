package remoteasg

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuemby/relay/pkg/types"
)

// Response is the raw result of a call against the remote ASG service.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// Location returns the Location header, if any.
func (r *Response) Location() string {
	return r.Headers.Get("Location")
}

// Client is a thin HTTP JSON client for one environment's remote ASG
// management service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient builds a client addressing baseURL with the documented
// conservative timeouts (5s connect, 15s read).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Get issues a GET and never treats a non-2xx response as an error; callers
// inspect the status code.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path), nil)
	if err != nil {
		return nil, fmt.Errorf("remoteasg: build GET request: %w", err)
	}
	return c.do(req)
}

// Post issues a POST with an application/x-www-form-urlencoded body built
// from form. Multi-valued keys are repeated, not joined, matching the
// remote service's expectation.
func (c *Client) Post(ctx context.Context, path string, form url.Values) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("remoteasg: build POST request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, types.WrapError(types.KindTrackerTransient, "remoteasg: request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.WrapError(types.KindTrackerTransient, "remoteasg: read response body", err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}

func (c *Client) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return c.baseURL + "/" + strings.TrimLeft(path, "/")
}
