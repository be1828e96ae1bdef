// Package client talks to a storefront server over its REST and realtime
// routes and exposes it as a backend.Backend.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/storefront-realtime/internal/backend"
	"github.com/DoyleJ11/storefront-realtime/internal/httpapi"
)

var ErrServer = errors.New("server error")

type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
	log     *zap.Logger
}

var _ backend.Backend = (*Client)(nil)

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every REST call. Realtime connections are not affected.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func New(baseURL string, log *zap.Logger, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("base url %q: scheme must be http or https", baseURL)
	}
	c := &Client{
		base:    u,
		http:    &http.Client{},
		timeout: 15 * time.Second,
		log:     log.Named("client"),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

func (c *Client) Fetch(ctx context.Context, q backend.Query) ([]json.RawMessage, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	var rows []json.RawMessage
	if err := c.do(ctx, http.MethodGet, c.tableURL(q.Table, "", q.Values()), nil, &rows); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", q.Table, err)
	}
	if rows == nil {
		rows = []json.RawMessage{}
	}
	return rows, nil
}

func (c *Client) Insert(ctx context.Context, table string, row json.RawMessage) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, c.tableURL(table, "", nil), row, &out); err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	return out, nil
}

func (c *Client) Update(ctx context.Context, table, id string, patch json.RawMessage) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPatch, c.tableURL(table, id, nil), patch, &out); err != nil {
		return nil, fmt.Errorf("update %s/%s: %w", table, id, err)
	}
	return out, nil
}

func (c *Client) Delete(ctx context.Context, table, id string) error {
	if err := c.do(ctx, http.MethodDelete, c.tableURL(table, id, nil), nil, nil); err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}
	return nil
}

func (c *Client) tableURL(table, id string, q url.Values) string {
	u := *c.base
	u.Path = u.Path + httpapi.RestPrefix + "/" + url.PathEscape(table)
	if id != "" {
		u.Path += "/" + url.PathEscape(id)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// do sends one request and decodes a 2xx body into out. Error bodies become
// the matching backend sentinel when the server names one.
func (c *Client) do(ctx context.Context, method, target string, body json.RawMessage, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body httpapi.ErrorBody
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err := json.Unmarshal(data, &body); err != nil || body.Code == "" {
		return fmt.Errorf("%w: %s", ErrServer, resp.Status)
	}
	if sentinel := httpapi.ErrorForCode(body.Code); sentinel != nil {
		return &remoteError{msg: body.Error, err: sentinel}
	}
	return fmt.Errorf("%w: %s: %s", ErrServer, resp.Status, body.Error)
}

// remoteError keeps the server's message while matching the sentinel it named.
type remoteError struct {
	msg string
	err error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.err }
