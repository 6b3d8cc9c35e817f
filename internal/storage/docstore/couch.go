package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yndnr/mdmcache-go/internal/core/domain"
)

// CouchCollection reads a secondary collection from a CouchDB-compatible
// endpoint. Documents are keyed "{class}|{ref}", so one class is a key range
// of _all_docs.
type CouchCollection struct {
	base     *url.URL
	user     string
	password string
	client   *http.Client
}

// CouchConfig configures a CouchCollection.
type CouchConfig struct {
	// URL is the database URL, e.g. http://couch:5984/ram.
	URL      string
	User     string
	Password string
	Timeout  time.Duration
}

// NewCouchCollection creates a collection reader.
func NewCouchCollection(cfg CouchConfig) (*CouchCollection, error) {
	u, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("docstore: invalid collection url %q", cfg.URL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &CouchCollection{
		base:     u,
		user:     cfg.User,
		password: cfg.Password,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

type allDocsResponse struct {
	Rows []struct {
		ID  string          `json:"id"`
		Doc json.RawMessage `json:"doc"`
	} `json:"rows"`
}

// Fetch implements Fetcher. It blocks until the whole class is loaded.
func (c *CouchCollection) Fetch(ctx context.Context, class domain.ClassName) ([]domain.Record, error) {
	prefix := string(class) + "|"
	startKey, _ := json.Marshal(prefix)
	endKey, _ := json.Marshal(prefix + "￰")

	q := url.Values{}
	q.Set("include_docs", "true")
	q.Set("startkey", string(startKey))
	q.Set("endkey", string(endKey))

	u := *c.base
	u.Path += "/_all_docs"
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("docstore: fetch %s: %w", class, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("docstore: fetch %s: %s: %s", class, resp.Status, strings.TrimSpace(string(body)))
	}

	var page allDocsResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("docstore: decode %s: %w", class, err)
	}

	out := make([]domain.Record, 0, len(page.Rows))
	for _, row := range page.Rows {
		if len(row.Doc) == 0 || string(row.Doc) == "null" {
			continue
		}
		var rec domain.Record
		if err := json.Unmarshal(row.Doc, &rec); err != nil {
			return nil, fmt.Errorf("docstore: decode %s: %w", row.ID, err)
		}
		if _, ok := rec["ref"]; !ok {
			rec["ref"] = strings.TrimPrefix(row.ID, prefix)
		}
		delete(rec, "_rev")
		out = append(out, rec)
	}
	return out, nil
}
