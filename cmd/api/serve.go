package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/samber/oops"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/config"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/session"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

const shutdownGrace = 5 * time.Second

// NewServeCmd creates the serve subcommand.
func NewServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	lg, err := utilities.Init(cfg.Log())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		return err
	}
	defer func() { _ = lg.Sync() }()
	sugar := lg.Sugar()
	sugar.Infow("starting pitchfork-auth", "store", cfg.Store, "addr", cfg.Addr)

	// graceful shutdown
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ids, err := utilities.NewIDGenerator(cfg.SnowflakeNode)
	if err != nil {
		return err
	}
	store, closeStore, err := openStore(ctx, cfg, ids, sugar)
	if err != nil {
		return err
	}
	defer closeStore()

	codec, err := session.New(cfg.Session())
	if err != nil {
		return err
	}
	metrics := router.NewMetrics()
	svc := user.NewAuthService(store, user.BcryptHasher{Cost: cfg.BcryptCost}, codec, sugar, user.WithOutcomeRecorder(metrics))

	srv := &http.Server{
		Handler:           router.RegisterRoutes(router.Deps{Logger: sugar, Auth: svc, Codec: codec, Metrics: metrics}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return oops.Code("LISTEN_FAILED").With("addr", cfg.Addr).Wrap(err)
	}
	sugar.Infow("http server listening", "addr", ln.Addr().String())

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return oops.Code("HTTP_SERVER_FAILED").Wrap(err)
	}

	sugar.Info("shutting down")
	doneCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}
	<-serveErr

	sugar.Info("goodbye")
	return nil
}

// openStore returns the configured user store and a function releasing it.
func openStore(ctx context.Context, cfg *config.Config, ids userrepo.IDSource, logger *zap.SugaredLogger) (user.Store, func(), error) {
	if cfg.Store == config.StoreMemory {
		logger.Warn("using in-memory user store; data is lost on exit")
		return userrepo.NewMemoryRepo(ids), func() {}, nil
	}

	sqlDB, err := database.Connect(ctx, cfg.Database())
	if err != nil {
		return nil, nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	if cfg.AutoMigrate {
		if err := database.Migrate(ctx, sqlDB); err != nil {
			_ = sqlDB.Close()
			return nil, nil, oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
		}
		logger.Info("database migrations applied")
	}

	// wrap with sqlx for the repository
	db := sqlx.NewDb(sqlDB, "postgres")
	return userrepo.NewUserRepo(db, ids), func() {
		if err := db.Close(); err != nil {
			logger.Warnf("db close failed: %v", err)
		}
	}, nil
}
