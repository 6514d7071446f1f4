package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// catalogEntry is the wire shape returned by an HTTP catalog endpoint.
type catalogEntry struct {
	Name         string    `json:"name"`
	Version      string    `json:"version"`
	Description  string    `json:"description"`
	QualityScore float64   `json:"qualityScore"`
	SourceTrust  float64   `json:"sourceTrust"`
	LastReleased time.Time `json:"lastReleased"`
}

type catalogResponse struct {
	Entries []catalogEntry `json:"entries"`
}

// HTTPCatalogAdapter queries a JSON catalog endpoint (spec §6 "Endpoints:
// catalog adapters are pluggable, addressed by URL"). One adapter instance
// per configured catalog URL; Name() reports that URL so candidates can be
// traced back to their source.
type HTTPCatalogAdapter struct {
	baseURL string
	client  *http.Client
}

// NewHTTPCatalogAdapter builds an adapter against baseURL. client may be
// nil, in which case a client with a conservative default timeout is used.
func NewHTTPCatalogAdapter(baseURL string, client *http.Client) *HTTPCatalogAdapter {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &HTTPCatalogAdapter{baseURL: baseURL, client: client}
}

// Name implements CatalogAdapter.
func (a *HTTPCatalogAdapter) Name() string {
	return a.baseURL
}

// Query implements CatalogAdapter by issuing a GET against baseURL with the
// capability and keywords as query parameters, and normalizing the
// response's per-entry freshness into Signals.MaintainedDays.
func (a *HTTPCatalogAdapter) Query(ctx context.Context, req Requirement) ([]ServerCandidate, error) {
	q := url.Values{}
	q.Set("capability", req.Capability)
	for _, kw := range req.Keywords {
		q.Add("keyword", kw)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("discovery: building catalog request: %w", err)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("discovery: querying catalog %s: %w", a.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery: catalog %s returned status %d", a.baseURL, resp.StatusCode)
	}

	var parsed catalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("discovery: decoding catalog %s response: %w", a.baseURL, err)
	}

	now := time.Now()
	candidates := make([]ServerCandidate, 0, len(parsed.Entries))
	for _, e := range parsed.Entries {
		matches := 0
		for _, kw := range req.Keywords {
			if kw == "" {
				continue
			}
			if strings.Contains(strings.ToLower(e.Description), strings.ToLower(kw)) ||
				strings.Contains(strings.ToLower(e.Name), strings.ToLower(kw)) {
				matches++
			}
		}
		age := now.Sub(e.LastReleased)
		candidates = append(candidates, ServerCandidate{
			Source:      a.baseURL,
			Name:        e.Name,
			Version:     e.Version,
			Description: e.Description,
			Signals: Signals{
				QualityScore:   clamp01(e.QualityScore),
				MaintainedDays: int(age.Hours() / 24),
				SourceTrust:    clamp01(e.SourceTrust),
				KeywordMatches: matches,
			},
		})
	}
	return candidates, nil
}
