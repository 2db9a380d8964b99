// Package restclient is the HTTP plumbing shared by the clients of the
// registry, the workflow engine and the validation service.
package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/pkg/errors"
)

const mediaTypeJSON = "application/json"

// Client sends requests relative to a base URL.
type Client struct {
	baseURL   *url.URL
	client    *http.Client
	userAgent string
	header    http.Header
	username  string
	password  string

	maxElapsedTime time.Duration
}

type Option func(*Client)

// WithBasicAuth sets the credentials sent with every request.
func WithBasicAuth(username, password string) Option {
	return func(c *Client) {
		c.username, c.password = username, password
	}
}

// WithHeader adds a header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) {
		c.header.Set(key, value)
	}
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.client = client
	}
}

// WithMaxElapsedTime bounds the time spent retrying a request.
func WithMaxElapsedTime(d time.Duration) Option {
	return func(c *Client) {
		c.maxElapsedTime = d
	}
}

// New returns a client for the service at baseURL.
func New(baseURL, userAgent string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "error processing URL %q", baseURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("URL %q is not absolute", baseURL)
	}

	const (
		dialTimeout      = 5 * time.Second
		handshakeTimeout = 5 * time.Second
		timeout          = 30 * time.Second
	)
	c := &Client{
		baseURL:   u,
		userAgent: userAgent,
		header:    http.Header{},
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: dialTimeout}).DialContext,
				TLSHandshakeTimeout: handshakeTimeout,
			},
		},
		maxElapsedTime: time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Request describes a call. Payload is encoded as JSON unless Body is set.
type Request struct {
	Method string
	Path   string
	Query  url.Values

	Payload     interface{}
	Body        []byte
	ContentType string

	// Retry enables retries on transport and server errors. Only set it on
	// requests that are safe to repeat.
	Retry bool
}

// URL returns the absolute URL of path.
func (c *Client) URL(path string) string {
	u := *c.baseURL
	if path != "" {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/" + strings.TrimPrefix(path, "/")
	}
	return u.String()
}

// Do delivers the request. Client errors (4xx) are not errors: the response
// is returned for the caller to inspect. Server errors are retried with
// exponential backoff when the request allows it.
func (c *Client) Do(ctx context.Context, r Request) (*http.Response, error) {
	body := r.Body
	contentType := r.ContentType
	if body == nil && r.Payload != nil {
		var err error
		if body, err = json.Marshal(r.Payload); err != nil {
			return nil, errors.Wrap(err, "error encoding the request")
		}
		contentType = mediaTypeJSON
	}

	dest := c.URL(r.Path)
	if len(r.Query) > 0 {
		dest += "?" + r.Query.Encode()
	}

	var strategy backoff.BackOff = &backoff.StopBackOff{}
	if r.Retry {
		strategy = &backoff.ExponentialBackOff{
			InitialInterval:     500 * time.Millisecond,
			RandomizationFactor: 0.5,
			Multiplier:          1.5,
			MaxInterval:         10 * time.Second,
			MaxElapsedTime:      c.maxElapsedTime,
			Clock:               backoff.SystemClock,
		}
	}
	strategy = backoff.WithContext(strategy, ctx)

	var resp *http.Response
	err := backoff.Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, r.Method, dest, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "error creating request"))
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", mediaTypeJSON)
		req.Header.Set("User-Agent", c.userAgent)
		for key, values := range c.header {
			req.Header[key] = values
		}
		if c.username != "" {
			req.SetBasicAuth(c.username, c.password)
		}

		resp, err = c.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			err := statusError(resp)
			resp = nil
			return err
		}
		return nil
	}, strategy)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", r.Method, dest)
	}
	return resp, nil
}

// Decode closes the body of resp after decoding it into v, when v is not
// nil.
func Decode(resp *http.Response, v interface{}) (err error) {
	defer func() {
		if rerr := resp.Body.Close(); rerr != nil && err == nil {
			err = errors.Wrap(rerr, "error closing the response body")
		}
	}()

	if v == nil {
		_, _ = io.Copy(ioutil.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errors.Wrap(err, "error decoding the response payload")
	}
	return nil
}

// StatusError is an unexpected response status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected response status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected response status %d: %s", e.StatusCode, e.Body)
}

// UnexpectedStatus consumes resp and returns a *StatusError describing it.
func UnexpectedStatus(resp *http.Response) error {
	return statusError(resp)
}

func statusError(resp *http.Response) error {
	defer resp.Body.Close()
	const maxBody = 512
	b, _ := ioutil.ReadAll(io.LimitReader(resp.Body, maxBody))
	return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
