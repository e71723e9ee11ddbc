package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cuemby/relay/pkg/types"
)

// HTTPConfigSource is a thin JSON client for the external configuration
// service that yields deployment parameters, application properties,
// launch data, and commit hashes. The service itself is out of scope
// (contract-only); this satisfies the ConfigSource function type.
type HTTPConfigSource struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPConfigSource builds a config source addressing baseURL.
func NewHTTPConfigSource(baseURL string) *HTTPConfigSource {
	return &HTTPConfigSource{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type configResponse struct {
	Hash       string            `json:"hash"`
	Parameters types.Parameters  `json:"parameters"`
}

// Fetch satisfies ConfigSource: GET {base}/{application}/{environment}/{region}/config.
func (s *HTTPConfigSource) Fetch(ctx context.Context, application, environment, region string) (string, types.Parameters, error) {
	u := fmt.Sprintf("%s/%s/%s/%s/config",
		s.baseURL,
		url.PathEscape(application), url.PathEscape(environment), url.PathEscape(region))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", nil, fmt.Errorf("configsource: build request: %w", err)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("configsource: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("configsource: unexpected status %d for %s", resp.StatusCode, u)
	}

	var out configResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", nil, fmt.Errorf("configsource: decode response: %w", err)
	}
	return out.Hash, out.Parameters, nil
}
