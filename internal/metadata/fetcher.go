package metadata

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

const maxDocumentBytes = 16 * 1024 * 1024

// Fetcher retrieves train and payload documents over HTTP.
type Fetcher struct {
	httpClient *http.Client
}

func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{httpClient: &http.Client{Timeout: timeout}}
}

// NewFetcherWithClient uses the given client, e.g. one from httptest.
func NewFetcherWithClient(client *http.Client) *Fetcher {
	return &Fetcher{httpClient: client}
}

// FetchGraph downloads uri as Turtle and parses it.
func (f *Fetcher) FetchGraph(ctx context.Context, uri string) (*Graph, error) {
	body, err := f.get(ctx, uri, "text/turtle")
	if err != nil {
		return nil, err
	}
	g, err := ParseTurtle(strings.NewReader(body), uri)
	if err != nil {
		log.Printf("fetch: request to %q failed to parse: %v", uri, err)
		return nil, err
	}
	log.Printf("fetch: request to %q successfully parsed triples=%d", uri, g.Len())
	return g, nil
}

// FetchText downloads uri as plain text.
func (f *Fetcher) FetchText(ctx context.Context, uri string) (string, error) {
	return f.get(ctx, uri, "text/plain")
}

func (f *Fetcher) get(ctx context.Context, uri, accept string) (string, error) {
	log.Printf("fetch: making request to %q", uri)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", accept)
	resp, err := f.httpClient.Do(req)
	if err != nil {
		log.Printf("fetch: request to %q failed: %v", uri, err)
		return "", fmt.Errorf("request %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		log.Printf("fetch: request to %q failed status=%d", uri, resp.StatusCode)
		return "", fmt.Errorf("request %s: status %d", uri, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", uri, err)
	}
	if len(body) > maxDocumentBytes {
		return "", fmt.Errorf("document %s too large (>%d bytes)", uri, maxDocumentBytes)
	}
	log.Printf("fetch: request to %q successfully received", uri)
	return string(body), nil
}
