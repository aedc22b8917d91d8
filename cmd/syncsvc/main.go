// Command syncsvc is the entry point for the sync service: it wires the
// Settings & Secret Resolver (internal/config), the Cache & Freshness
// Manager, the rate-limited HTTP client, the four adapters (spec §9), the
// Sync Engine, and the Control-Plane Server, then runs until a termination
// signal arrives. Grounded on the teacher's cmd/server/main.go wiring and
// graceful-shutdown shape, rebuilt around this service's own components.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/iius-rcox/safetyamp-sync/internal/adapters"
	"github.com/iius-rcox/safetyamp-sync/internal/adapters/directory"
	"github.com/iius-rcox/safetyamp-sync/internal/adapters/erp"
	"github.com/iius-rcox/safetyamp-sync/internal/adapters/fleet"
	"github.com/iius-rcox/safetyamp-sync/internal/adapters/target"
	"github.com/iius-rcox/safetyamp-sync/internal/audit"
	auditpg "github.com/iius-rcox/safetyamp-sync/internal/audit/pgstore"
	auditsqlite "github.com/iius-rcox/safetyamp-sync/internal/audit/sqlitestore"
	"github.com/iius-rcox/safetyamp-sync/internal/cache"
	"github.com/iius-rcox/safetyamp-sync/internal/config"
	"github.com/iius-rcox/safetyamp-sync/internal/controlplane"
	"github.com/iius-rcox/safetyamp-sync/internal/domain"
	"github.com/iius-rcox/safetyamp-sync/internal/engine"
	"github.com/iius-rcox/safetyamp-sync/internal/failedqueue"
	fqpg "github.com/iius-rcox/safetyamp-sync/internal/failedqueue/pgstore"
	fqsqlite "github.com/iius-rcox/safetyamp-sync/internal/failedqueue/sqlitestore"
	"github.com/iius-rcox/safetyamp-sync/internal/httpclient"
	"github.com/iius-rcox/safetyamp-sync/internal/metrics"
	"github.com/iius-rcox/safetyamp-sync/internal/notification"
	"github.com/iius-rcox/safetyamp-sync/internal/tracker"
	"github.com/iius-rcox/safetyamp-sync/internal/validator"
	"github.com/iius-rcox/safetyamp-sync/pkg/logger"
)

const serviceName = "safetyamp-sync"

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(serviceName)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: config: %v\n", serviceName, err)
		os.Exit(1)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	reg := metrics.Default()

	httpc := httpclient.New(cfg.HTTP, reg.HTTP(), log)

	cacheMgr, err := cache.New(cfg.Cache, cfg.Redis, reg.Cache(), log)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	erpSource, err := erp.New(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("erp adapter: %w", err)
	}
	defer erpSource.Close()

	directorySource := directory.New(cfg.Directory, httpc)
	fleetSource := fleet.New(cfg.Fleet, httpc)
	targetAdapter := target.New(cfg.Target, httpc)

	sources := map[domain.EntityType]adapters.Source{
		domain.EntitySite:       erpSource,
		domain.EntityDepartment: erpSource,
		domain.EntityTitle:      erpSource,
		domain.EntityRole:       erpSource,
		domain.EntityAssetType:  erpSource,
		domain.EntityJob:        erpSource,
		domain.EntityVehicle:    fleetSource,
		domain.EntityEmployee:   engine.NewMergedEmployeeSource(erpSource, directorySource),
	}

	queueStore, auditStore, closeStores, err := openStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStores()

	val := validator.New(validator.Config{EmailDomain: cfg.App.Name})
	notifier := notification.New(cfg.SMTP, cfg.Notification, httpc, log)
	trk := tracker.New(cfg.Sync.NotificationCooldown(), notifier, reg.Sync())
	queue := failedqueue.New(queueStore, nil, log)
	auditLog := audit.New(auditStore, log)

	eng := engine.New(cfg.Sync, sources, targetAdapter, val, trk, queue, cacheMgr, reg.Sync(), log)
	queue.SetRetrier(eng)

	cpServer := controlplane.NewServer(cfg.Server, controlplane.Deps{
		Engine:     eng,
		Cache:      cacheMgr,
		Queue:      queue,
		AuditLog:   auditLog,
		Tracker:    trk,
		HTTPClient: httpc,
		Metrics:    reg,
		Sources:    sources,
		Target:     targetAdapter,
		Log:        log,
	})

	go eng.Run(ctx)

	log.Info("starting control plane", "port", cfg.Server.Port, "profile", cfg.Profile)
	if err := cpServer.Run(ctx, cfg.Server.GracefulShutdownTimeout); err != nil {
		return fmt.Errorf("control plane: %w", err)
	}
	return nil
}

// openStores builds the failed-record queue and audit log backends for the
// configured deployment profile, returning a combined close func.
func openStores(ctx context.Context, cfg *config.Config, log *slog.Logger) (failedqueue.Store, audit.Store, func(), error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendPostgres:
		qs, err := fqpg.New(ctx, cfg.Database, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed-record store: %w", err)
		}
		as, err := auditpg.New(ctx, cfg.Database, log)
		if err != nil {
			qs.Close()
			return nil, nil, nil, fmt.Errorf("audit store: %w", err)
		}
		return qs, as, func() { qs.Close(); as.Close() }, nil
	default:
		qs, err := fqsqlite.New(ctx, cfg.Storage.SQLitePath, log)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed-record store: %w", err)
		}
		as, err := auditsqlite.New(ctx, cfg.Storage.SQLitePath, log)
		if err != nil {
			qs.Close()
			return nil, nil, nil, fmt.Errorf("audit store: %w", err)
		}
		return qs, as, func() { qs.Close(); as.Close() }, nil
	}
}
