// Package catalog supplies the pre-declared broadcast-group metadata the
// channel registry is seeded with at startup. Groups can come from an
// external list endpoint, a read-only SQLite database provisioned at deploy
// time, or a built-in seed when neither source is configured.
package catalog

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

// Group describes one long-lived broadcast channel.
type Group struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Topic       string `json:"topic"`
	Description string `json:"description"`
}

// Options selects the catalog source. URL wins over Path; with neither set
// the built-in seed is used.
type Options struct {
	URL    string
	Path   string
	Client *http.Client
}

// Defaults returns the built-in community groups.
func Defaults() []Group {
	return []Group{
		{ID: "wellness", Name: "Wellness", Topic: "general", Description: "General wellness check-ins and encouragement."},
		{ID: "symptoms", Name: "Symptom Talk", Topic: "symptoms", Description: "Compare notes on what you're feeling."},
		{ID: "recovery", Name: "Recovery", Topic: "recovery", Description: "Stories and questions from people getting better."},
		{ID: "caregivers", Name: "Caregivers", Topic: "support", Description: "Support for those caring for someone unwell."},
	}
}

// Load resolves the group catalog from the configured source, falling back to
// the built-in seed when the source yields nothing.
func Load(ctx context.Context, opts Options) ([]Group, error) {
	if url := strings.TrimSpace(opts.URL); url != "" {
		groups, err := fetchGroups(ctx, url, opts.Client)
		if err != nil {
			return nil, fmt.Errorf("fetch group catalog: %w", err)
		}
		if len(groups) == 0 {
			return Defaults(), nil
		}
		return groups, nil
	}

	if path := strings.TrimSpace(opts.Path); path != "" {
		store, err := OpenSQLite(path)
		if err != nil {
			return nil, fmt.Errorf("open group catalog store: %w", err)
		}
		defer func() {
			_ = store.Close()
		}()
		groups, err := store.ListGroups(ctx)
		if err != nil {
			return nil, fmt.Errorf("list catalog groups: %w", err)
		}
		if len(groups) == 0 {
			return Defaults(), nil
		}
		return groups, nil
	}

	return Defaults(), nil
}
