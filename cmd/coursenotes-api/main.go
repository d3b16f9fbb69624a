package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/studyshelf/coursenotes/backend/internal/accounts"
	"github.com/studyshelf/coursenotes/backend/internal/auth"
	"github.com/studyshelf/coursenotes/backend/internal/config"
	"github.com/studyshelf/coursenotes/backend/internal/courses"
	"github.com/studyshelf/coursenotes/backend/internal/database"
	"github.com/studyshelf/coursenotes/backend/internal/logging"
	"github.com/studyshelf/coursenotes/backend/internal/notes"
	"github.com/studyshelf/coursenotes/backend/internal/server"
	"github.com/studyshelf/coursenotes/backend/internal/session"
	"github.com/studyshelf/coursenotes/backend/internal/storage"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "coursenotes-api",
		Short: "Course notes backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

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
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("auth.token_ttl_minutes"), "Session token TTL in minutes")
	cmd.PersistentFlags().String("signing-secret", "", "Session signing secret (overrides env)")
	cmd.PersistentFlags().String("storage-directory", defaults.GetString("storage.directory"), "Directory backing the note object store")
	cmd.PersistentFlags().String("public-base-url", defaults.GetString("storage.public_base_url"), "Base URL for stored object links")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.token_ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "storage.directory", "storage-directory")
	bindFlag(cmd, "storage.public_base_url", "public-base-url")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
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

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	tokenManager, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		Issuer:        "coursenotes-auth",
		Audience:      "coursenotes-api",
		TokenTTL:      appConfig.TokenTTL,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(appConfig.StorageDirectory, 0o755); err != nil {
		return err
	}
	storageFs := afero.NewBasePathFs(afero.NewOsFs(), appConfig.StorageDirectory)
	objectStore, err := storage.NewDiskStore(storage.DiskStoreConfig{
		Filesystem: storageFs,
		BaseURL:    appConfig.PublicBaseURL,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	authStream := session.NewStream()

	accountService, err := accounts.NewService(accounts.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: notes.NewUUIDProvider(),
		Sessions:   authStream,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	sessionResolver, err := session.NewResolver(session.ResolverConfig{
		Stream: authStream,
		// The process boots without an ambient session.
		Fetcher: session.FetcherFunc(func(context.Context) (*accounts.Identity, error) {
			return nil, nil
		}),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	courseRegistry := courses.NewRegistry()

	notesService, err := notes.NewService(notes.ServiceConfig{
		Database:   db,
		Storage:    objectStore,
		Courses:    courseRegistry,
		Clock:      time.Now,
		IDProvider: notes.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Accounts: accountService,
		Tokens:   tokenManager,
		Notes:    notesService,
		Courses:  courseRegistry,
		Sessions: sessionResolver,
		Files:    afero.NewHttpFs(storageFs),
		Logger:   logger,
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

	sessionResolver.Start(signalCtx)
	defer sessionResolver.Close()

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
