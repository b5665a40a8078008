// Package timeouts defines shared timeout constants used across services.
// Centralizing these values prevents drift between service boundaries and
// makes the durations discoverable.
package timeouts

import "time"

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long an HTTP server waits for in-flight requests
// during graceful shutdown.
const Shutdown = 5 * time.Second

// CatalogFetch caps the single startup request to the external group
// catalog endpoint.
const CatalogFetch = 5 * time.Second

// PresenceTTL is the default liveness window for a presence entry before
// the background sweep reaps it.
const PresenceTTL = 90 * time.Second
