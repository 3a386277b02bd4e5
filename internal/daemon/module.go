// Package daemon composes the sync engine's components into an fx
// application: storage, Firestore clients, the offline queue, the
// presence and chat services, the connectivity probe, and the runtime
// state machine.
package daemon

import (
	"context"
	"database/sql"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/vigilapp/vigil/internal/bus"
	"github.com/vigilapp/vigil/internal/chat"
	"github.com/vigilapp/vigil/internal/config"
	"github.com/vigilapp/vigil/internal/identity"
	"github.com/vigilapp/vigil/internal/lock"
	"github.com/vigilapp/vigil/internal/logging"
	"github.com/vigilapp/vigil/internal/media"
	"github.com/vigilapp/vigil/internal/netmon"
	"github.com/vigilapp/vigil/internal/outbox"
	"github.com/vigilapp/vigil/internal/presence"
	"github.com/vigilapp/vigil/internal/profile"
	"github.com/vigilapp/vigil/internal/status"
	"github.com/vigilapp/vigil/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideDriver,
			provideLock,
			provideStore,
			provideIdentity,
			provideFirestore,
			provideUploader,
			providePresence,
			provideChat,
			provideProbe,
			provideOutbox,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.Load(profile.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideDriver(m *status.Machine, b *bus.Bus, logger *zap.Logger) *status.Driver {
	return status.NewDriver(m, b, logger)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.LockPath(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.QueueDBPath(p.ProfileName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("queue store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideIdentity(cfg *config.Config) identity.Provider {
	return identity.Static{ID: cfg.UserID}
}

func provideFirestore(cfg *config.Config, logger *zap.Logger) (*firestore.Client, error) {
	var opts []option.ClientOption
	if cfg.Firestore.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Firestore.CredentialsFile))
	}
	client, err := firestore.NewClient(context.Background(), cfg.Firestore.ProjectID, opts...)
	if err != nil {
		return nil, err
	}
	logger.Info("firestore client created", zap.String("project", cfg.Firestore.ProjectID))
	return client, nil
}

func provideUploader(cfg *config.Config, logger *zap.Logger) (media.Uploader, error) {
	if cfg.Storage.Bucket == "" {
		logger.Info("no media bucket configured, media uploads disabled")
		return media.Disabled{}, nil
	}
	var opts []option.ClientOption
	if cfg.Firestore.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Firestore.CredentialsFile))
	}
	client, err := storage.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, err
	}
	logger.Info("media uploads enabled", zap.String("bucket", cfg.Storage.Bucket))
	return media.NewGCSUploader(client, cfg.Storage.Bucket), nil
}

func providePresence(fs *firestore.Client, users identity.Provider, logger *zap.Logger) *presence.Service {
	return presence.NewService(fs, users, logger)
}

func provideChat(fs *firestore.Client, users identity.Provider, pres *presence.Service, logger *zap.Logger) *chat.Service {
	return chat.NewService(fs, users, pres, logger)
}

func provideProbe(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *netmon.Probe {
	interval := time.Duration(cfg.Network.ProbeIntervalSecs) * time.Second
	return netmon.NewProbe(cfg.Network.ProbeAddr, interval, b, logger)
}

func provideOutbox(db *store.DB, chatSvc *chat.Service, uploader media.Uploader, probe *netmon.Probe, b *bus.Bus, logger *zap.Logger) *outbox.Service {
	return outbox.NewService(db, chatSvc, uploader, probe, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, fs *firestore.Client, pres *presence.Service, probe *netmon.Probe, ob *outbox.Service, driver *status.Driver, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			driver.Start()
			ob.Start(context.Background())
			probe.Start()

			if err := pres.UpdateOnlineStatus(ctx); err != nil {
				logger.Warn("could not mark user online", zap.Error(err))
			}
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			probe.Stop()
			ob.Stop()
			driver.Stop()

			if err := pres.SetUserOffline(ctx); err != nil {
				logger.Warn("could not mark user offline", zap.Error(err))
			}
			if err := fs.Close(); err != nil {
				logger.Warn("error closing firestore client", zap.Error(err))
			}
			if err := db.Close(); err != nil && err != sql.ErrConnDone {
				logger.Warn("error closing queue store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
