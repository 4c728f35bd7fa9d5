package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"lid-inspector/internal/config"
	"lid-inspector/internal/domain"
	apphttp "lid-inspector/internal/http"
	"lid-inspector/internal/plc"
	"lid-inspector/internal/repository/sqlite"
	"lid-inspector/internal/service"
	"lid-inspector/internal/storage"
	"lid-inspector/internal/vision"
	"lid-inspector/internal/watcher"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Watch the image folder and serve the control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	logger := newLogger()

	cfg, err := loadConfig(logger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.OpenStore(ctx, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	inspectionService := service.NewInspectionService(store.Inspections, store.State)
	userService := service.NewUserService(store.Users, cfg.Auth.RegisterPassword)
	if strings.TrimSpace(cfg.Auth.RegisterPassword) == "" {
		logger.Warn("auth registration password not set; operator registration disabled")
	}

	secret := cfg.Auth.JWTSecret
	if strings.TrimSpace(secret) == "" {
		logger.Warn("auth jwt secret not set; issued tokens will not survive a restart")
		secret = uuid.NewString()
	}
	tokens, err := service.NewTokenIssuer(secret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("setup tokens: %w", err)
	}

	storageSvc, err := buildStorage(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("setup storage: %w", err)
	}

	classifier, err := vision.NewOpenAIClassifier(vision.Config{
		APIKey:  cfg.Vision.APIKey,
		BaseURL: cfg.Vision.BaseURL,
		Model:   cfg.Vision.Model,
		Timeout: cfg.Vision.Timeout,
	})
	if err != nil {
		return fmt.Errorf("setup classifier: %w", err)
	}

	plcServer, err := plc.NewServer(plc.Config{
		Addr:        cfg.Modbus.Addr,
		CoilAddress: cfg.Modbus.CoilAddress,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("setup modbus: %w", err)
	}
	if err := plcServer.Start(); err != nil {
		return fmt.Errorf("start modbus: %w", err)
	}
	defer plcServer.Shutdown()

	manager := watcher.NewManager(watcher.Config{
		WatchDir:      cfg.Watch.Dir,
		ResultsDir:    cfg.Watch.ResultsDir,
		PollInterval:  cfg.Watch.PollInterval,
		StabilityWait: cfg.Watch.StabilityWait,
		UseNotify:     cfg.Watch.UseNotify,
		DefaultSettings: domain.Settings{
			Strictness: cfg.Watch.DefaultStrictness,
			NoBrand:    cfg.Watch.NoBrand,
		},
		Archive: watcher.ArchiveOptions{
			Bucket:    cfg.Storage.Bucket,
			KeyPrefix: cfg.Storage.KeyPrefix,
		},
		Logger: logger,
	}, classifier, plcServer, inspectionService, storageSvc)

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}
	defer manager.Shutdown()

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	apphttp.NewHandler(apphttp.Deps{
		Inspections: inspectionService,
		Manager:     manager,
		Storage:     storageSvc,
		Bucket:      cfg.Storage.Bucket,
		Users:       userService,
		Tokens:      tokens,
		Logger:      logger,
	}).RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		logger.Errorf("http server: %v", err)
		stop()
	}
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
	return nil
}

// buildStorage returns a nil service when archiving is disabled.
func buildStorage(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Service, error) {
	if cfg.Storage.Bucket == "" {
		logger.Info("storage bucket not set; frame archiving disabled")
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return storage.NewS3Service(client), nil
}
