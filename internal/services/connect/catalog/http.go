package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/JaytirthJOSHI/HealthPulse-sub000/internal/platform/timeouts"
)

// fetchGroups performs the single startup read of the external list endpoint.
func fetchGroups(ctx context.Context, url string, client *http.Client) ([]Group, error) {
	if client == nil {
		client = &http.Client{Timeout: timeouts.CatalogFetch}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, timeouts.CatalogFetch)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build catalog request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call catalog endpoint: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("catalog endpoint status %d", resp.StatusCode)
	}

	var groups []Group
	if err := json.NewDecoder(resp.Body).Decode(&groups); err != nil {
		return nil, fmt.Errorf("decode catalog response: %w", err)
	}

	valid := groups[:0]
	for _, group := range groups {
		if strings.TrimSpace(group.ID) == "" {
			continue
		}
		valid = append(valid, group)
	}
	return valid, nil
}
