package instance

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"google.golang.org/grpc/health"

	"github.com/louisbranch/casework/internal/platform/timeouts"
	server "github.com/louisbranch/casework/internal/services/instance/app"
	"github.com/louisbranch/casework/internal/services/instance/domain/casefile"
	"github.com/louisbranch/casework/internal/services/instance/domain/engine"
	domaininstance "github.com/louisbranch/casework/internal/services/instance/domain/instance"
	"github.com/louisbranch/casework/internal/services/instance/observability/debugconsole"
	"github.com/louisbranch/casework/internal/services/instance/observability/liveness"
	"github.com/louisbranch/casework/internal/services/instance/storage"
	"github.com/louisbranch/casework/internal/services/instance/storage/badgerstore"
	"github.com/louisbranch/casework/internal/services/instance/storage/integrity"
	"github.com/louisbranch/casework/internal/services/instance/storage/memory"
	"github.com/louisbranch/casework/internal/services/instance/storage/sqlite"
)

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func openStore(ctx context.Context, cfg Config, logger *slog.Logger) (storage.Store, error) {
	keyring, err := integrity.KeyringFromEnv()
	if err != nil {
		return nil, fmt.Errorf("load event hmac keys: %w", err)
	}
	if keyring == nil {
		logger.Warn("journal records are hash chained but not signed; set CASEWORK_EVENT_HMAC_KEY to sign them")
	}

	switch cfg.Backend {
	case BackendMemory:
		return memory.New(keyring), nil
	case BackendBadger:
		if err := os.MkdirAll(cfg.JournalPath, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
		store, err := badgerstore.Open(cfg.JournalPath, keyring, logger.With("component", "badger"))
		if err != nil {
			return nil, fmt.Errorf("open badger journal: %w", err)
		}
		return store, nil
	default:
		if dir := filepath.Dir(cfg.JournalPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create journal dir: %w", err)
			}
		}
		store, err := sqlite.Open(ctx, cfg.JournalPath, keyring)
		if err != nil {
			return nil, fmt.Errorf("open sqlite journal: %w", err)
		}
		return store, nil
	}
}

func newHost(cfg Config, store storage.Store, logger *slog.Logger, opts ...domaininstance.Option) (*domaininstance.Host, error) {
	opts = append([]domaininstance.Option{
		domaininstance.WithJournal(store),
		domaininstance.WithLogger(logger),
	}, opts...)
	if cfg.DebugConsole {
		opts = append(opts, domaininstance.WithConsole(debugconsole.New(os.Stderr)))
	}
	host := domaininstance.NewHost(domaininstance.Config{
		EngineVersion:    cfg.EngineVersion,
		DebugEnabled:     cfg.DebugEnabled,
		SnapshotInterval: cfg.SnapshotInterval,
		MailboxSize:      cfg.MailboxSize,
		RestartDelay:     cfg.RestartDelay,
	}, opts...)
	for _, behavior := range behaviors() {
		if err := host.Register(behavior); err != nil {
			return nil, fmt.Errorf("register %s: %w", behavior.InstanceType(), err)
		}
	}
	return host, nil
}

// behaviors lists the instance types served by this binary.
func behaviors() []engine.Behavior {
	return []engine.Behavior{casefile.Behavior{}}
}

func serve(ctx context.Context, cfg Config) error {
	logger := newLogger(cfg.LogLevel)
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	healthServer := health.NewServer()
	watchdog := liveness.NewLiveness(healthServer, cfg.StallThreshold, logger.With("component", "liveness"))
	host, err := newHost(cfg, store, logger, domaininstance.WithMonitor(watchdog))
	if err != nil {
		_ = store.Close()
		return err
	}

	srv, err := server.NewWithAddr(cfg.ListenAddr(), server.Runtime{
		Host:     host,
		Store:    store,
		Health:   healthServer,
		Liveness: watchdog,
	})
	if err != nil {
		_ = host.Stop(context.Background())
		_ = store.Close()
		return err
	}
	logger.Info("instance runtime ready",
		"backend", cfg.Backend,
		"engine_version", cfg.EngineVersion,
		"instance_types", host.InstanceTypes(),
	)
	return srv.Serve(ctx)
}

// withHost opens the journal, runs fn against a local host and shuts both
// down.
func withHost(ctx context.Context, cfg Config, fn func(*domaininstance.Host, storage.Store) error) error {
	logger := newLogger(cfg.LogLevel)
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("close journal", "error", err)
		}
	}()

	host, err := newHost(cfg, store, logger)
	if err != nil {
		return err
	}
	runErr := fn(host, store)
	stopCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
	defer cancel()
	if err := host.Stop(stopCtx); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
