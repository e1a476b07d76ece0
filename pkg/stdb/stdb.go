// Package stdb is the embeddable entrypoint to this module's SpacetimeDB
// host: given a config.Config it assembles the module host, the commit
// log, the session manager, and the HTTP/websocket surface into one
// http.Handler a caller can run directly or mount behind their own
// net/http server. It generalizes the teacher's pkg/spacetimedb (a
// re-exported facade over the module-authoring bindings the teacher
// ships for writing WASM modules) into a facade over the host process
// those modules run inside, since this repo implements the server side
// of spec.md rather than the module SDK side.
package stdb

import (
	"context"
	"fmt"
	"net/http"

	"github.com/clockworklabs/stdb-core/internal/config"
	"github.com/clockworklabs/stdb-core/internal/httpapi"
	"github.com/clockworklabs/stdb-core/internal/hostmodule"
	"github.com/clockworklabs/stdb-core/internal/metrics"
	"github.com/clockworklabs/stdb-core/internal/session"
	"github.com/clockworklabs/stdb-core/internal/types"
	"github.com/clockworklabs/stdb-core/internal/wal"
	"github.com/rs/zerolog/log"
)

// Re-exported core types, so a caller embedding this package never needs
// to import internal/types directly.
type (
	Identity     = types.Identity
	ConnectionId = types.ConnectionId
	Timestamp    = types.Timestamp
)

// Config is the process configuration, as loaded from TOML by
// config.LoadFile or built with config.Default.
type Config = config.Config

// Server owns one running database's host, commit log, session manager,
// and HTTP surface.
type Server struct {
	cfg     Config
	host    *hostmodule.Host
	manager *session.Manager
	issuer  *session.TokenIssuer
	metrics *metrics.Metrics
	wal     *wal.WAL
	http    *httpapi.Server

	stopScheduler context.CancelFunc
}

// New assembles a Server from cfg. It opens (and replays) the WAL under
// cfg.WAL.Dir, then attaches it to a fresh Host so that every future
// commit beyond this point appends to the log rather than reusing a
// commit id already on disk.
func New(ctx context.Context, cfg Config) (*Server, error) {
	hostCfg, err := cfg.Module.ToHostConfig()
	if err != nil {
		return nil, fmt.Errorf("stdb: module config: %w", err)
	}
	identity, err := session.NewIdentity()
	if err != nil {
		return nil, fmt.Errorf("stdb: minting host identity: %w", err)
	}
	host, err := hostmodule.NewHost(ctx, hostCfg, identity)
	if err != nil {
		return nil, fmt.Errorf("stdb: starting host: %w", err)
	}

	walCfg := cfg.WAL.ToWALConfig()
	priorRecords, err := wal.ReadAll(walCfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("stdb: reading wal: %w", err)
	}
	if err := wal.Apply(host.Database(), priorRecords); err != nil {
		return nil, fmt.Errorf("stdb: replaying wal: %w", err)
	}
	w, err := wal.Open(walCfg)
	if err != nil {
		return nil, fmt.Errorf("stdb: opening wal: %w", err)
	}
	w.SetNextCommitID(wal.NextCommitID(priorRecords))
	host.AttachWAL(w)

	m := metrics.New()
	host.AttachMetrics(m)

	ttl, err := cfg.Session.TokenTTLDuration()
	if err != nil {
		return nil, fmt.Errorf("stdb: session config: %w", err)
	}
	issuer := session.NewTokenIssuer([]byte(cfg.Session.TokenSecret), ttl)
	manager := session.NewManager(host, issuer)
	manager.SetMetrics(m)

	log.Info().Int("replayed_records", len(priorRecords)).Msg("stdb: host ready")

	schedCtx, stopScheduler := context.WithCancel(ctx)
	go host.RunScheduler(schedCtx, hostCfg.SchedulerTick)

	return &Server{
		cfg:           cfg,
		host:          host,
		manager:       manager,
		issuer:        issuer,
		metrics:       m,
		wal:           w,
		http:          httpapi.New(host, manager, issuer, m),
		stopScheduler: stopScheduler,
	}, nil
}

// Handler returns the HTTP surface (identity/schema/call/sql/publish,
// the websocket upgrade endpoint, and /metrics), suitable for mounting
// under a caller's own net/http server or running directly with
// ListenAndServe.
func (s *Server) Handler() http.Handler { return s.http }

// ListenAndServe runs the HTTP surface on cfg.HTTP.ListenAddr until ctx
// is canceled or the listener errors.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.HTTP.ListenAddr, Handler: s.http}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Shutdown(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Host returns the underlying module host, for callers that need to
// publish a module or inspect state directly rather than through the
// HTTP surface (e.g. test harnesses).
func (s *Server) Host() *hostmodule.Host { return s.host }

// Close releases the commit log's file handle. The in-memory database
// itself has nothing to release.
func (s *Server) Close() error {
	if s.stopScheduler != nil {
		s.stopScheduler()
	}
	if s.wal == nil {
		return nil
	}
	return s.wal.Close()
}
