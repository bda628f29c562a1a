package daemon

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tally-network/tally/internal/api"
	"github.com/tally-network/tally/internal/app/engine"
	"github.com/tally-network/tally/internal/app/ledger"
	"github.com/tally-network/tally/internal/app/registry"
	"github.com/tally-network/tally/internal/app/tasks"
	"github.com/tally-network/tally/internal/health"
	"github.com/tally-network/tally/internal/infra/audit"
	"github.com/tally-network/tally/internal/infra/log"
	_ "github.com/tally-network/tally/internal/infra/metrics" // Register Prometheus collectors
	"github.com/tally-network/tally/internal/infra/params"
	"github.com/tally-network/tally/internal/infra/sqlite"
	"github.com/tally-network/tally/internal/infra/sweeper"
	"github.com/tally-network/tally/internal/security"
)

// Version is the daemon version reported on status surfaces.
const Version = "0.1.0"

// Daemon is the core tally runtime. It wires together all services.
type Daemon struct {
	Config Config
	DB     *sqlite.DB
	Engine *engine.Engine
	Trail  *audit.Trail
	Server *api.Server
	Health *health.Checker
	Sweep  *sweeper.Sweeper
	Params *params.Registry

	NodeID    string
	Keypair   *security.Keypair
	auditFile *os.File
	cancel    context.CancelFunc
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	home := tallyHome()
	if err := os.MkdirAll(home, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	log.Init(cfg.Logging.Level, cfg.Logging.JSON)

	db, err := sqlite.Open(home)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	seed, err := cfg.Params()
	if err != nil {
		db.Close()
		return nil, err
	}
	pr, err := params.NewRegistry(db, seed)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load parameters: %w", err)
	}

	// Audit trail: sqlite plus one JSON line per record in the audit file.
	var auditOut io.Writer = io.Discard
	var auditFile *os.File
	if cfg.Logging.AuditFile != "" {
		auditFile, err = os.OpenFile(cfg.Logging.AuditFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		auditOut = auditFile
	}
	trail := audit.New(db, auditOut)

	led := ledger.NewService(db)
	reg, err := registry.NewService(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load providers: %w", err)
	}
	store, err := tasks.NewService(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	e := engine.New(db, led, reg, store, pr, trail)

	// Node identity: Ed25519 keypair under the daemon home; the public key
	// prefix doubles as the node id unless one is configured.
	kp, err := security.LoadOrCreateKeypair(home)
	if err != nil {
		log.Daemon.Warn().Err(err).Msg("node keypair unavailable")
	}
	nodeID := cfg.Node.ID
	if nodeID == "" && kp != nil {
		if hexKey := kp.PublicKeyHex(); len(hexKey) > 16 {
			nodeID = "node-" + hexKey[:16]
		}
	}
	if nodeID == "" {
		nodeID = "node-local"
	}

	checker := health.NewChecker(db, home, e)

	srv := api.NewServer(e, trail, checker, Version, nodeID)
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}
	if cfg.API.CORS {
		srv.EnableCORS()
	}

	d := &Daemon{
		Config:    cfg,
		DB:        db,
		Engine:    e,
		Trail:     trail,
		Server:    srv,
		Health:    checker,
		Params:    pr,
		NodeID:    nodeID,
		Keypair:   kp,
		auditFile: auditFile,
	}

	if cfg.Sweeper.Enabled {
		sweepCfg := sweeper.DefaultConfig()
		sweepCfg.Interval = cfg.SweepInterval()
		d.Sweep = sweeper.New(e, sweepCfg)
	}

	return d, nil
}

// Serve starts the HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Health.Run(ctx)
	if d.Sweep != nil {
		go d.Sweep.Run(ctx)
	}

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	// Graceful shutdown on signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		_ = httpServer.Shutdown(shutdownCtx)
		d.closeResources()
	}()

	log.Daemon.Info().
		Str("addr", addr).
		Str("node", d.NodeID).
		Bool("sweeper", d.Sweep != nil).
		Bool("metrics", d.Config.Telemetry.Prometheus).
		Msg("tally serving")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	d.closeResources()
}

func (d *Daemon) closeResources() {
	if d.auditFile != nil {
		_ = d.auditFile.Close()
		d.auditFile = nil
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
