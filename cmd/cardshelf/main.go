package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/jackc/pgx/v5/pgxpool"

	rootdb "github.com/cardshelf/cardshelf/db"
	"github.com/cardshelf/cardshelf/internal/accounts"
	"github.com/cardshelf/cardshelf/internal/blocklist"
	"github.com/cardshelf/cardshelf/internal/boot"
	"github.com/cardshelf/cardshelf/internal/cards"
	"github.com/cardshelf/cardshelf/internal/config"
	"github.com/cardshelf/cardshelf/internal/db"
	"github.com/cardshelf/cardshelf/internal/handlers"
	"github.com/cardshelf/cardshelf/internal/ingest"
	"github.com/cardshelf/cardshelf/internal/logger"
	"github.com/cardshelf/cardshelf/internal/multipart"
	"github.com/cardshelf/cardshelf/internal/policy"
	"github.com/cardshelf/cardshelf/internal/presign"
	"github.com/cardshelf/cardshelf/internal/server"
	"github.com/cardshelf/cardshelf/internal/sessions"
	"github.com/cardshelf/cardshelf/internal/storage"
	"github.com/cardshelf/cardshelf/internal/version"
)

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx := context.Background()

	conn, err := db.Open(ctx, cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			conn.Close()
			return nil
		},
	})
	return conn, nil
}

func provideStorageProvider(cfg config.Config) (*storage.MinioProvider, error) {
	return storage.NewMinioProvider(storage.MinioConfig{
		Endpoint:      cfg.Storage.Endpoint,
		AccessKey:     cfg.Storage.AccessKey,
		SecretKey:     cfg.Storage.SecretKey,
		Bucket:        cfg.Storage.Bucket,
		UseSSL:        cfg.Storage.UseSSL,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
	})
}

func provideAuthHandler(log *slog.Logger, accountService *accounts.Service, runtimeConfig *boot.RuntimeConfig) *handlers.AuthHandler {
	return handlers.NewAuthHandler(log, accountService, runtimeConfig.JwtSecret, runtimeConfig.JwtExpiresIn)
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	RuntimeConfig  *boot.RuntimeConfig
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.RuntimeConfig.ServerAddr, params.Config.Auth.JWTSecret, params.ServerHandlers...)
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		runMigrate(os.Args[2:])
		return
	}

	fx.New(
		fx.Provide(
			provideConfig,
			boot.ProvideRuntimeConfig,
			provideLogger,

			provideDBConn,
			fx.Annotate(provideStorageProvider, fx.As(new(storage.Provider))),
			fx.Annotate(sessions.NewDBStore, fx.As(new(sessions.Store))),
			fx.Annotate(cards.NewDBStore, fx.As(new(cards.Store))),

			accounts.NewService,
			policy.NewService,
			blocklist.NewService,
			presign.NewService,
			multipart.NewService,
			ingest.NewService,

			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideAuthHandler),
			provideServerHandler(handlers.NewUploadHandler),
			provideServerHandler(handlers.NewCardsHandler),

			provideServer,
		),
		fx.Invoke(
			startBlocklist,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

// runMigrate applies embedded SQL migrations: cardshelf migrate up|down|version|force N.
func runMigrate(args []string) {
	cfg, err := provideConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	log := provideLogger(cfg)

	command := "up"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}
	migrationsFS, err := fs.Sub(rootdb.MigrationsFS, "migrations")
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrations fs: %v\n", err)
		os.Exit(1)
	}
	if err := db.RunMigrate(log, cfg.Postgres, migrationsFS, command, args); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
}

func startBlocklist(lc fx.Lifecycle, blockService *blocklist.Service, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := blockService.Reload(ctx); err != nil {
				return fmt.Errorf("load blocked tags: %w", err)
			}
			return nil
		},
	})
}

func startServer(
	lc fx.Lifecycle,
	logger *slog.Logger,
	srv *server.Server,
	shutdowner fx.Shutdowner,
	cfg config.Config,
	accountService *accounts.Service,
) {
	fmt.Printf("Starting Cardshelf %s\n", version.GetInfo())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := ensureAdminAccount(ctx, logger, accountService, cfg); err != nil {
				return err
			}

			go func() {
				if err := srv.Start(); err != nil { // block until server is stopped
					logger.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}

func ensureAdminAccount(ctx context.Context, log *slog.Logger, accountService *accounts.Service, cfg config.Config) error {
	count, err := accountService.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	username := strings.TrimSpace(cfg.Admin.Username)
	password := strings.TrimSpace(cfg.Admin.Password)
	if username == "" || password == "" {
		return fmt.Errorf("admin username/password required in config.toml")
	}
	if password == "change-your-password-here" {
		log.Warn("admin password uses default placeholder; please update config.toml")
	}

	if _, err := accountService.Create(ctx, username, cfg.Admin.Email, password, "admin"); err != nil {
		return err
	}
	log.Info("Admin account created", slog.String("username", username))
	return nil
}
