// Package connection is the HTTP client mdm-cli uses to talk to mdm-server.
package connection

import (
	"bufio"
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

	"github.com/klauspost/compress/gzip"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
	"github.com/yndnr/mdmcache-go/internal/core/snapshot"
	"github.com/yndnr/mdmcache-go/internal/infra/buildinfo"
	"github.com/yndnr/mdmcache-go/internal/infra/tlsroots"
)

// Headers shared with the server.
const (
	DescriptorHeader = "X-MDM-Descriptor"
	RequestIDHeader  = "X-Request-ID"
)

// DefaultTimeout bounds requests that do not stream.
const DefaultTimeout = 30 * time.Second

// Options configures a Client.
type Options struct {
	Server   string
	Token    string
	CAFile   string
	Insecure bool
	// Timeout bounds JSON requests. Fetch and Rebuild are bounded only by
	// the caller's context.
	Timeout time.Duration
}

// Client talks to one server.
type Client struct {
	base    *url.URL
	token   string
	timeout time.Duration
	http    *http.Client
}

// New creates a client. A server without scheme is taken as http.
func New(opts Options) (*Client, error) {
	server := opts.Server
	if !strings.HasPrefix(server, "http://") && !strings.HasPrefix(server, "https://") {
		server = "http://" + server
	}
	base, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid server address %q", opts.Server)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if base.Scheme == "https" {
		tlsCfg, err := tlsroots.ClientConfig(opts.CAFile, opts.Insecure)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsCfg
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		base:    base,
		token:   opts.Token,
		timeout: timeout,
		http:    &http.Client{Transport: transport},
	}, nil
}

// BaseURL returns the server URL.
func (c *Client) BaseURL() string {
	return c.base.String()
}

// APIError is an error answer of the server.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

type envelope struct {
	Code      string          `json:"code"`
	Message   string          `json:"message"`
	RequestID string          `json:"request_id"`
	Data      json.RawMessage `json:"data"`
}

func segments(parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteByte('/')
		b.WriteString(url.PathEscape(p))
	}
	return b.String()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader) (*http.Request, error) {
	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("User-Agent", "mdm-cli/"+buildinfo.Get().Version)
	return req, nil
}

// send performs the request and turns non-2xx answers into an APIError.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()

	apiErr := &APIError{Status: resp.StatusCode, RequestID: resp.Header.Get(RequestIDHeader)}
	var env envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&env); err == nil {
		apiErr.Code = env.Code
		apiErr.Message = env.Message
		if env.RequestID != "" {
			apiErr.RequestID = env.RequestID
		}
	}
	return nil, apiErr
}

// call performs a JSON request and decodes the envelope data into out.
func (c *Client) call(ctx context.Context, method, path string, in, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		switch v := in.(type) {
		case io.Reader:
			body = v
		default:
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("marshal body: %w", err)
			}
			body = bytes.NewReader(data)
		}
	}
	req, err := c.newRequest(ctx, method, path, nil, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.send(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("parse response data: %w", err)
	}
	return nil
}

// Tier is one tier of the load plan.
type Tier struct {
	Tier    string             `json:"tier" yaml:"tier"`
	Classes []domain.ClassName `json:"classes" yaml:"classes"`
}

// Plan returns the load order of the registered classes.
func (c *Client) Plan(ctx context.Context) ([]Tier, error) {
	var out struct {
		Tiers []Tier `json:"tiers"`
	}
	if err := c.call(ctx, http.MethodGet, "/mdm/plan", nil, &out); err != nil {
		return nil, err
	}
	return out.Tiers, nil
}

// Ready asks the readiness probe.
func (c *Client) Ready(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/ready", nil, nil)
}

// Manifest returns the manifest of a built partition. An empty suffix
// selects the master partition.
func (c *Client) Manifest(ctx context.Context, zone, suffix string) (domain.Manifest, error) {
	if suffix == "" {
		suffix = domain.SuffixMaster
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/mdm"+segments(zone, suffix, "manifest"), nil, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var m domain.Manifest
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

// ErrRebuildAborted is returned when a rebuild stream ends without its
// manifest line.
var ErrRebuildAborted = errors.New("rebuild aborted by the server")

// Rebuild rebuilds a partition. onClass, if set, is called as each class
// is written. The returned manifest is the one the server committed.
func (c *Client) Rebuild(ctx context.Context, zone, suffix string, job map[string]any, onClass func(domain.ClassName)) (domain.Manifest, error) {
	var body io.Reader
	if len(job) > 0 {
		data, err := json.Marshal(job)
		if err != nil {
			return nil, fmt.Errorf("marshal job: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/mdm"+segments(zone, suffix, "rebuild"), nil, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.send(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return readRebuild(resp.Body, onClass)
}

// readRebuild parses a rebuild response: one CRLF-terminated line per
// class, then the manifest ended by a bare LF.
func readRebuild(r io.Reader, onClass func(domain.ClassName)) (domain.Manifest, error) {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if strings.HasSuffix(line, "\r\n") {
			if onClass != nil {
				onClass(domain.ClassName(strings.TrimSuffix(line, "\r\n")))
			}
			continue
		}
		if strings.HasSuffix(line, "\n") {
			var m domain.Manifest
			if err := json.Unmarshal([]byte(line), &m); err != nil {
				return nil, fmt.Errorf("parse manifest: %w", err)
			}
			return m, nil
		}
		if err == nil || errors.Is(err, io.EOF) {
			return nil, ErrRebuildAborted
		}
		return nil, fmt.Errorf("%w: %v", ErrRebuildAborted, err)
	}
}

// FetchResult describes a fetched partition.
type FetchResult struct {
	Descriptor snapshot.Descriptor
	Bytes      int64
}

// Fetch copies the stream of a built partition to w. The transfer is
// gzip-compressed on the wire.
func (c *Client) Fetch(ctx context.Context, zone, suffix string, w io.Writer) (FetchResult, error) {
	var res FetchResult
	req, err := c.newRequest(ctx, http.MethodGet, "/mdm"+segments(zone, suffix), nil, nil)
	if err != nil {
		return res, err
	}
	req.Header.Set("Accept-Encoding", "gzip")
	resp, err := c.send(req)
	if err != nil {
		return res, err
	}
	defer resp.Body.Close()

	if h := resp.Header.Get(DescriptorHeader); h != "" {
		if err := json.Unmarshal([]byte(h), &res.Descriptor); err != nil {
			return res, fmt.Errorf("parse descriptor: %w", err)
		}
	}

	var body io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return res, fmt.Errorf("open gzip stream: %w", err)
		}
		defer zr.Close()
		body = zr
	}
	res.Bytes, err = io.Copy(w, body)
	if err != nil {
		return res, fmt.Errorf("stream interrupted after %d bytes: %w", res.Bytes, err)
	}
	return res, nil
}

// PutRecords stores a JSON array of records into a class.
func (c *Client) PutRecords(ctx context.Context, class string, records []domain.Record) (int, error) {
	var out struct {
		Stored int `json:"stored"`
	}
	if err := c.call(ctx, http.MethodPut, "/admin/v1/records"+segments(class), records, &out); err != nil {
		return 0, err
	}
	return out.Stored, nil
}

// CountRecords returns the number of records of a class.
func (c *Client) CountRecords(ctx context.Context, class string) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.call(ctx, http.MethodGet, "/admin/v1/records"+segments(class), nil, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// GetRecord returns one record.
func (c *Client) GetRecord(ctx context.Context, class, ref string) (domain.Record, error) {
	var out domain.Record
	if err := c.call(ctx, http.MethodGet, "/admin/v1/records"+segments(class, ref), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteRecord removes one record.
func (c *Client) DeleteRecord(ctx context.Context, class, ref string) error {
	return c.call(ctx, http.MethodDelete, "/admin/v1/records"+segments(class, ref), nil, nil)
}
