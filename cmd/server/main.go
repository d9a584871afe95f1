package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	appdb "github.com/Joaopedrozoe/viainfra-sub001/db"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/actions"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/config"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/contacts"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/conversation"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/db"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/flow"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/gateway"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/handlers"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/logger"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/media"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/message"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/operators"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/router"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/server"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/storage"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/ticketing"
	"github.com/Joaopedrozoe/viainfra-sub001/internal/version"
)

func main() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			provideStorageProvider,

			provideGatewayClient,
			provideTicketingClient,
			ticketing.NewStore,
			provideContactsService,
			provideConversationService,
			provideMessageService,
			provideOperatorsService,
			provideMediaService,
			provideFlowLoader,
			provideActionExecutor,
			provideProcessor,
			provideSweeper,

			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideHealthHandler),
			provideServerHandler(provideWebhookHandler),

			provideServer,
		),
		fx.Invoke(
			startSweeper,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

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

func provideDBConn(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*pgxpool.Pool, error) {
	ctx := context.Background()

	migrations, err := fs.Sub(appdb.MigrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("migrations fs: %w", err)
	}
	if err := db.Migrate(log, cfg.Postgres, migrations); err != nil {
		return nil, fmt.Errorf("db migrate: %w", err)
	}

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

func provideStorageProvider(lc fx.Lifecycle, cfg config.Config) (storage.Provider, error) {
	switch cfg.Storage.Backend {
	case "gcs":
		provider, err := storage.NewGCSProvider(context.Background(), cfg.Storage.GCSBucket)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Close()
			},
		})
		return provider, nil
	default:
		return storage.NewLocalProvider(cfg.Storage.LocalDir, cfg.Storage.PublicURL), nil
	}
}

func provideGatewayClient(log *slog.Logger, cfg config.Config) *gateway.Client {
	return gateway.NewClient(log, cfg.Gateway)
}

func provideTicketingClient(log *slog.Logger, cfg config.Config) *ticketing.Client {
	return ticketing.NewClient(log, cfg.Ticketing)
}

func provideContactsService(log *slog.Logger, pool *pgxpool.Pool, client *gateway.Client) *contacts.Service {
	return contacts.NewService(log, pool, client)
}

func provideConversationService(log *slog.Logger, pool *pgxpool.Pool) *conversation.Service {
	return conversation.NewService(log, pool)
}

func provideMessageService(log *slog.Logger, pool *pgxpool.Pool) *message.Service {
	return message.NewService(log, pool)
}

func provideOperatorsService(log *slog.Logger, pool *pgxpool.Pool) *operators.Service {
	return operators.NewService(log, pool)
}

func provideMediaService(log *slog.Logger, client *gateway.Client, provider storage.Provider, cfg config.Config) *media.Service {
	return media.NewService(log, client, provider, cfg.Storage.Prefix)
}

func provideFlowLoader(log *slog.Logger, pool *pgxpool.Pool, cfg config.Config) *flow.Loader {
	ttl := time.Duration(cfg.Flow.CacheTTLSeconds) * time.Second
	return flow.NewLoader(log, pool, ttl)
}

func provideActionExecutor(log *slog.Logger, client *ticketing.Client, store *ticketing.Store) *actions.Executor {
	return actions.NewExecutor(log, client, client, store)
}

func provideProcessor(
	log *slog.Logger,
	cfg config.Config,
	contactsSvc *contacts.Service,
	conversations *conversation.Service,
	messages *message.Service,
	mediaSvc *media.Service,
	loader *flow.Loader,
	executor *actions.Executor,
	operatorsSvc *operators.Service,
	client *gateway.Client,
) *router.Processor {
	return router.NewProcessor(
		log,
		router.Config{
			CompanyID:  cfg.Company.ID,
			Channel:    cfg.Company.Channel,
			ResetToken: cfg.Flow.ResetToken,
			AntiFlood:  time.Duration(cfg.Flow.AntiFloodMillis) * time.Millisecond,
		},
		contactsSvc,
		conversations,
		messages,
		mediaSvc,
		loader,
		executor,
		operatorsSvc,
		client,
	)
}

func provideWebhookHandler(log *slog.Logger, processor *router.Processor) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, processor)
}

func provideHealthHandler(log *slog.Logger, pool *pgxpool.Pool) *handlers.HealthHandler {
	return handlers.NewHealthHandler(log, pool)
}

func provideSweeper(log *slog.Logger, service *conversation.Service, cfg config.Config) *conversation.Sweeper {
	ttl := time.Duration(cfg.Flow.SweepTTLHours) * time.Hour
	return conversation.NewSweeper(log, service, cfg.Company.ID, ttl)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.ServerHandlers...)
}

func startSweeper(lc fx.Lifecycle, sweeper *conversation.Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return sweeper.Start()
		},
		OnStop: func(ctx context.Context) error {
			sweeper.Stop()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, logger *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting ViaInfra Messaging %s\n", version.GetInfo())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
