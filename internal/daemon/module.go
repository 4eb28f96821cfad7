// Package daemon assembles glided: one profile, one identity at a time,
// served to local clients over a Unix socket.
package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/glide/internal/api"
	"github.com/matheus3301/glide/internal/bus"
	"github.com/matheus3301/glide/internal/clock"
	"github.com/matheus3301/glide/internal/config"
	"github.com/matheus3301/glide/internal/conn"
	"github.com/matheus3301/glide/internal/lock"
	"github.com/matheus3301/glide/internal/logging"
	"github.com/matheus3301/glide/internal/model"
	"github.com/matheus3301/glide/internal/profile"
	"github.com/matheus3301/glide/internal/rest"
	"github.com/matheus3301/glide/internal/session"
	"github.com/matheus3301/glide/internal/store"
)

// loginTimeout bounds the startup sign-in from [auth].
const loginTimeout = 15 * time.Second

// Params holds the resolved profile passed to the fx module.
type Params struct {
	ProfileName string
	SocketPath  string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideProfile,
			provideBus,
			provideLock,
			provideStore,
			provideREST,
			provideSessions,
			provideService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideProfile(p Params, logger *zap.Logger) (*config.Profile, error) {
	path := profile.ConfigPath(p.ProfileName)
	prof, err := config.LoadProfile(path)
	if err != nil {
		return nil, err
	}
	if err := prof.Validate(); err != nil {
		return nil, err
	}
	logger.Info("profile loaded",
		zap.String("path", path),
		zap.String("base_url", prof.Server.BaseURL),
		zap.Bool("has_token", prof.Auth.Token != ""))
	return prof, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.LockPath(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideREST(prof *config.Profile, logger *zap.Logger) (*rest.Client, error) {
	return rest.New(rest.Config{BaseURL: prof.Server.BaseURL, Logger: logger})
}

func provideSessions(prof *config.Profile, client *rest.Client, db *store.DB, b *bus.Bus, logger *zap.Logger) (*session.Context, error) {
	pushURL, err := prof.PushURL()
	if err != nil {
		return nil, err
	}
	return session.NewContext(session.Config{
		API: func(token string) session.API { return client.WithToken(token) },
		Transport: func(token string) conn.Transport {
			return &conn.WebSocketTransport{URL: pushURL, Token: token}
		},
		Store:    db,
		Bus:      b,
		Clock:    clock.Real(),
		Logger:   logger,
		Settings: session.SettingsFrom(prof.Messaging),
	}), nil
}

func provideService(p Params, sessions *session.Context, b *bus.Bus, logger *zap.Logger) *api.Service {
	return api.NewService(p.ProfileName, sessions, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, lk *lock.Lock, db *store.DB, prof *config.Profile, sessions *session.Context, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gRPC server error", zap.Error(err))
				}
			}()
			signIn(prof.Auth, sessions, logger)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sessions.Clear()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// signIn restores the configured identity. With a user id the identity is
// known up front; with only a token it is resolved in the background so a
// slow backend never blocks startup.
func signIn(auth config.Auth, sessions *session.Context, logger *zap.Logger) {
	switch {
	case auth.Token == "":
		logger.Info("no credentials configured, login required")
	case auth.UserID != "":
		id := model.Identity{ID: auth.UserID, Name: auth.Name, Avatar: auth.Avatar}
		if _, err := sessions.SetIdentity(id, auth.Token); err != nil {
			logger.Error("sign-in failed", zap.Error(err))
		}
	default:
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
			defer cancel()
			if _, err := sessions.Login(ctx, auth.Token); err != nil {
				logger.Error("auto-login failed", zap.Error(err))
			}
		}()
	}
}
