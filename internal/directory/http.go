package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const maxResponseBytes = 1 << 20

// HTTPDirectory queries a remote directory service that accepts a JSON Query
// at POST {baseURL}/lookup and answers {"matched": bool, "reference": "..."}.
type HTTPDirectory struct {
	name    string
	baseURL string
	apiKey  string
	client  *http.Client
}

type HTTPOption func(*HTTPDirectory)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(d *HTTPDirectory) {
		if client != nil {
			d.client = client
		}
	}
}

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) HTTPOption {
	return func(d *HTTPDirectory) {
		d.apiKey = key
	}
}

func NewHTTP(name, baseURL string, opts ...HTTPOption) *HTTPDirectory {
	d := &HTTPDirectory{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *HTTPDirectory) Name() string { return d.name }

type lookupResponse struct {
	Matched   bool   `json:"matched"`
	Reference string `json:"reference"`
}

func (d *HTTPDirectory) Lookup(ctx context.Context, query Query) (Result, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return Result{}, fmt.Errorf("encode lookup: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/lookup", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build lookup request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if d.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+d.apiKey)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%s lookup: %w", d.name, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return Result{Source: d.name}, nil
	case resp.StatusCode != http.StatusOK:
		return Result{}, fmt.Errorf("%s lookup: unexpected status %d", d.name, resp.StatusCode)
	}

	var out lookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("%s lookup: decode response: %w", d.name, err)
	}
	return Result{Matched: out.Matched, Source: d.name, Reference: out.Reference}, nil
}
