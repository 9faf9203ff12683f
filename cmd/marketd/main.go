package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/MarkoPoloResearchLab/mutualaid/internal/grpcserver"
	"github.com/MarkoPoloResearchLab/mutualaid/internal/httpapi"
	"github.com/MarkoPoloResearchLab/mutualaid/internal/marketplace"
	"github.com/MarkoPoloResearchLab/mutualaid/internal/oplog"
	"github.com/MarkoPoloResearchLab/mutualaid/pkg/ledger"
	"github.com/MarkoPoloResearchLab/mutualaid/pkg/notify"
	"github.com/MarkoPoloResearchLab/mutualaid/pkg/rental"
)

const (
	flagDatabaseURL    = "database-url"
	flagStore          = "store"
	flagListenAddr     = "listen-addr"
	flagGRPCListenAddr = "grpc-listen-addr"
	flagAllowedOrigins = "allowed-origins"
	flagJWTSigningKey  = "jwt-signing-key"
	flagJWTIssuer      = "jwt-issuer"
	flagJWTCookieName  = "jwt-cookie-name"
	flagRequestTimeout = "request-timeout"
	flagGrantLimit     = "grant-limit"
	flagHistoryLimit   = "history-limit"
	envPrefix          = "MARKETD"

	defaultDatabaseURL    = "sqlite:///tmp/mutualaid.db"
	defaultListenAddr     = ":8080"
	defaultRequestTimeout = 3 * time.Second
	defaultGrantLimit     = 1000
	defaultHistoryLimit   = 10
)

type runtimeConfig struct {
	DatabaseURL    string
	Store          string
	GRPCListenAddr string
	GrantLimit     int64
	HistoryLimit   int
	HTTP           httpapi.Config
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "marketd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "marketd",
		Short:         "Mutual-aid marketplace wallet, rental and notification server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "postgres:// or sqlite:// connection string, or a sqlite file path")
	cmd.Flags().String(flagStore, storeGorm, "persistence implementation (gorm or pgx)")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagGRPCListenAddr, "", "gRPC health listen address (empty disables)")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	cmd.Flags().String(flagJWTIssuer, "tauth", "expected JWT issuer")
	cmd.Flags().String(flagJWTCookieName, "app_session", "JWT cookie name")
	cmd.Flags().Duration(flagRequestTimeout, defaultRequestTimeout, "per-request store timeout")
	cmd.Flags().Int64(flagGrantLimit, defaultGrantLimit, "maximum credits per grant (0 disables)")
	cmd.Flags().Int(flagHistoryLimit, defaultHistoryLimit, "wallet entries returned with a balance")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flagNames := []string{
		flagDatabaseURL, flagStore, flagListenAddr, flagGRPCListenAddr, flagAllowedOrigins,
		flagJWTSigningKey, flagJWTIssuer, flagJWTCookieName, flagRequestTimeout, flagGrantLimit, flagHistoryLimit,
	}
	for _, flagName := range flagNames {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(v.GetString(flagStore)))
	if cfg.Store != storeGorm && cfg.Store != storePgx {
		return fmt.Errorf("%s must be %q or %q", flagStore, storeGorm, storePgx)
	}
	cfg.GRPCListenAddr = strings.TrimSpace(v.GetString(flagGRPCListenAddr))
	cfg.GrantLimit = v.GetInt64(flagGrantLimit)
	if cfg.GrantLimit < 0 {
		return fmt.Errorf("%s must not be negative", flagGrantLimit)
	}
	cfg.HistoryLimit = v.GetInt(flagHistoryLimit)

	cfg.HTTP = httpapi.Config{
		ListenAddr:        strings.TrimSpace(v.GetString(flagListenAddr)),
		RequestTimeout:    v.GetDuration(flagRequestTimeout),
		AllowedOrigins:    httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins)),
		SessionSigningKey: v.GetString(flagJWTSigningKey),
		SessionIssuer:     strings.TrimSpace(v.GetString(flagJWTIssuer)),
		SessionCookieName: strings.TrimSpace(v.GetString(flagJWTCookieName)),
	}
	return cfg.HTTP.Validate()
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	backend, err := openBackend(ctx, cfg.Store, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer backend.cleanup()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := oplog.NewMetrics(registry)
	operationLogger := oplog.New(logger, metrics)

	ledgerService, err := ledger.NewService(backend.wallets, func() int64 { return time.Now().UTC().Unix() }, ledger.WithOperationLogger(operationLogger))
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}
	engine, err := rental.NewEngine(backend.rentals, func() time.Time { return time.Now().UTC() }, rental.WithOperationLogger(operationLogger))
	if err != nil {
		return fmt.Errorf("rental engine init: %w", err)
	}
	service, err := marketplace.NewService(ledgerService, engine, notify.NewHub(),
		marketplace.WithLogger(logger),
		marketplace.WithGrantLimit(ledger.Credits(cfg.GrantLimit)),
		marketplace.WithHistoryLimit(cfg.HistoryLimit),
	)
	if err != nil {
		return fmt.Errorf("marketplace init: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return httpapi.Run(groupCtx, cfg.HTTP, httpapi.Dependencies{
			Marketplace: service,
			Logger:      logger,
			Metrics:     metrics,
			Gatherer:    registry,
		})
	})
	if cfg.GRPCListenAddr != "" {
		healthServer := grpcserver.New(logger, grpcserver.WithReadinessProbe(backend.ping))
		group.Go(func() error {
			return healthServer.Run(groupCtx, cfg.GRPCListenAddr)
		})
	}
	return group.Wait()
}
