package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/JaytirthJOSHI/HealthPulse-sub000/internal/platform/timeouts"
	"github.com/JaytirthJOSHI/HealthPulse-sub000/internal/services/connect/catalog"
)

const presenceSweepInterval = 15 * time.Second

// Config defines the inputs for the connect transport boundary.
type Config struct {
	HTTPAddr          string
	CatalogURL        string
	CatalogPath       string
	PresenceTTL       time.Duration
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the connect HTTP/WebSocket process.
//
// It owns the channel registry, presence directory, and matchmaking slot;
// everything else about HealthPulse (symptom reports, disease data) lives in
// other services and is never consulted here.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
	sweepStop       chan struct{}
	sweepDone       chan struct{}
}

// NewServer builds a configured connect server.
func NewServer(config Config) (*Server, error) {
	return NewServerWithContext(context.Background(), config)
}

// NewServerWithContext builds a configured connect server with an explicit
// context governing the startup catalog load.
func NewServerWithContext(ctx context.Context, config Config) (*Server, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}
	if config.PresenceTTL <= 0 {
		config.PresenceTTL = timeouts.PresenceTTL
	}

	groups, err := catalog.Load(ctx, catalog.Options{
		URL:  config.CatalogURL,
		Path: config.CatalogPath,
	})
	if err != nil {
		return nil, fmt.Errorf("load group catalog: %w", err)
	}

	core := newCore(config.PresenceTTL)
	core.registry.Seed(groups)

	sweepStop := make(chan struct{})
	sweepDone := make(chan struct{})
	go runPresenceSweep(core, sweepStop, sweepDone)

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           newHandler(core, groups),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
		sweepStop:       sweepStop,
		sweepDone:       sweepDone,
	}, nil
}

// Run creates and serves a connect server until the context ends.
func Run(ctx context.Context, config Config) error {
	server, err := NewServerWithContext(ctx, config)
	if err != nil {
		return fmt.Errorf("init connect server: %w", err)
	}
	defer server.Close()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve connect: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("connect server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("connect server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases server resources and stops the presence sweep.
func (s *Server) Close() {
	if s == nil {
		return
	}
	if s.sweepStop != nil {
		close(s.sweepStop)
		s.sweepStop = nil
	}
	if s.sweepDone != nil {
		<-s.sweepDone
		s.sweepDone = nil
	}
}

// runPresenceSweep is the second reap path for presence entries, catching
// connections that died without the handler's deferred cleanup running.
// Identities with a live routable connection are refreshed, not reaped.
func runPresenceSweep(core *core, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(presenceSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if reaped := core.sweepPresence(); len(reaped) > 0 {
				log.Printf("connect: presence sweep reaped %d stale identities", len(reaped))
			}
		}
	}
}

// NewHandler creates connect routes with default seed groups, for tests and
// embedded use.
func NewHandler() http.Handler {
	core := newCore(timeouts.PresenceTTL)
	groups := catalog.Defaults()
	core.registry.Seed(groups)
	return newHandler(core, groups)
}

func newHandler(core *core, groups []catalog.Group) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, core)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	mux.HandleFunc("GET /api/channels", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, groups)
	})

	// Poll fallback for clients that cannot hold a websocket open. The
	// response matches the joined event payload so both paths reconcile by
	// sequence the same way.
	mux.HandleFunc("GET /api/channels/{id}/messages", func(w http.ResponseWriter, r *http.Request) {
		channelID := strings.TrimSpace(r.PathValue("id"))
		snapshot, err := core.registry.Snapshot(channelID)
		if err != nil {
			http.Error(w, "channel not found", http.StatusNotFound)
			return
		}
		writeJSON(w, snapshot)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("connect: encode response: %v", err)
	}
}
