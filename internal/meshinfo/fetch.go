package meshinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ErrUpstreamUnreachable wraps transport-level failures talking to the
// mesh-info endpoint (spec.md §7, error kind upstream-unreachable).
var ErrUpstreamUnreachable = fmt.Errorf("meshinfo: upstream unreachable")

// ErrUpstreamMalformed wraps JSON decode failures (error kind
// upstream-malformed).
var ErrUpstreamMalformed = fmt.Errorf("meshinfo: upstream response malformed")

// Fetcher retrieves a Snapshot from a configured URL. It is a thin,
// deliberately uninteresting HTTP client; the spec treats it as an
// external collaborator (spec.md §1).
type Fetcher struct {
	Client *http.Client
}

// NewFetcher returns a Fetcher with a bounded request timeout; the site
// refresh loop additionally bounds this with its own context.
func NewFetcher(timeout time.Duration) *Fetcher {
	return &Fetcher{Client: &http.Client{Timeout: timeout}}
}

// Fetch performs the GET and decodes the JSON body into a Snapshot.
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrUpstreamUnreachable, err)
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %s", ErrUpstreamUnreachable, resp.Status)
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamMalformed, err)
	}
	return &snap, nil
}
