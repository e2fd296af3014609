package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarcoPoloResearchLab/quill/internal/auth"
	"github.com/MarcoPoloResearchLab/quill/internal/config"
	"github.com/MarcoPoloResearchLab/quill/internal/console"
	"github.com/MarcoPoloResearchLab/quill/internal/logging"
	"github.com/MarcoPoloResearchLab/quill/internal/metrics"
	"github.com/MarcoPoloResearchLab/quill/internal/server"
	"github.com/MarcoPoloResearchLab/quill/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "quill-api",
		Short: "Quill blog backend service",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	consoleCmd := &cobra.Command{
		Use:   "console",
		Short: "Interactive blog client over the configured backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConsole(cmd.Context())
		},
	}
	rootCmd.AddCommand(consoleCmd)

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, mysql, mongo)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "MySQL data source name")
	cmd.PersistentFlags().String("mongo-uri", defaults.GetString("mongo.uri"), "MongoDB connection URI")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis address for revocations and the shared change feed")
	cmd.PersistentFlags().String("realtime-backend", defaults.GetString("realtime.backend"), "Change feed backend (memory, redis)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Access token TTL in minutes")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "Access token signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "mongo.uri", "mongo-uri")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "realtime.backend", "realtime-backend")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadEnvFiles(".env"); err != nil {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	if err := appConfig.ValidateServer(); err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, logging.FormatJSON)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	services, err := openBackend(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer services.Close()

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.RegisterCollectors(registry)

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Credentials:    services.credentials,
		Tokens:         tokenManager,
		Revocations:    auth.NewRevocationList(services.redis),
		Profiles:       services.profiles,
		Posts:          services.posts,
		Directory:      services.directory,
		Logger:         logger,
		LoginRateLimit: server.LoginRateLimit{RPS: appConfig.LoginRPS, Burst: appConfig.LoginBurst},
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func runConsole(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, logging.FormatConsole)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	services, err := openBackend(ctx, appConfig, logger)
	if err != nil {
		return err
	}
	defer services.Close()

	client, err := auth.NewClient(services.credentials)
	if err != nil {
		return err
	}
	manager, err := session.NewManager(session.ManagerConfig{
		Auth:     client,
		Profiles: services.profiles,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer manager.Close()

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := manager.WaitReady(signalCtx); err != nil {
		return err
	}

	repl, err := console.New(console.Config{
		Session:   manager,
		Posts:     services.posts,
		Directory: services.directory,
		Input:     os.Stdin,
		Output:    os.Stdout,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	return repl.Run(signalCtx)
}
