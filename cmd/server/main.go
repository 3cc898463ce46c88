package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/lmittmann/tint"
	"github.com/nats-io/nats.go"
	"github.com/urfave/cli/v3"

	"github.com/normal-oj/submissions/internal/blob"
	"github.com/normal-oj/submissions/internal/environment"
	"github.com/normal-oj/submissions/internal/events"
	"github.com/normal-oj/submissions/internal/events/natspub"
	"github.com/normal-oj/submissions/internal/httpsrv"
	"github.com/normal-oj/submissions/internal/ingest"
	"github.com/normal-oj/submissions/internal/quota"
	"github.com/normal-oj/submissions/internal/results"
	"github.com/normal-oj/submissions/internal/stats"
	"github.com/normal-oj/submissions/internal/subm"
	"github.com/normal-oj/submissions/internal/substore"
	"github.com/normal-oj/submissions/internal/upload"
)

func main() {
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slog.LevelDebug,
		TimeFormat: time.TimeOnly,
	}))
	slog.SetDefault(logger)

	cmd := &cli.Command{
		Name:  "submissions-server",
		Usage: "submission lifecycle, test-case upload and result retrieval service",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "settings",
				Usage: "path to the TOML settings file (overrides SETTINGS_PATH)",
			},
			&cli.BoolFlag{
				Name:  "in-memory",
				Usage: "use in-process storage instead of S3, for local development",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return run(ctx, logger, cmd.String("settings"), cmd.Bool("in-memory"))
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, settingsPath string, inMemory bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env := environment.ReadEnvConfig()
	if settingsPath == "" {
		settingsPath = env.SettingsPath
	}
	settings, err := environment.LoadSettings(settingsPath)
	if err != nil {
		return err
	}

	catalog := subm.NewCatalog()
	if err := settings.SeedCatalog(catalog); err != nil {
		return err
	}
	logger.Info("catalog seeded", "problems", len(settings.Problems))

	var blobs blob.MultipartStore
	if inMemory {
		blobs = blob.NewMemoryStore()
		logger.Warn("using in-memory storage, nothing survives a restart")
	} else {
		blobs, err = blob.NewS3Store(ctx, env.S3Region, env.S3Bucket)
		if err != nil {
			return fmt.Errorf("failed to set up S3 storage: %w", err)
		}
	}

	var publisher events.Publisher = events.Noop{}
	if env.NatsURL != "" {
		nc, err := nats.Connect(env.NatsURL, nats.Name("submissions"))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nc.Drain()
		publisher = natspub.New(nc, "submissions.events", logger)
		logger.Info("publishing lifecycle events", "url", env.NatsURL)
	}

	uploads := upload.NewCoordinator(blobs, catalog, logger, settings.PartURLTTL(), settings.SessionRetention())
	uploads.StartReaper(ctx, settings.SessionRetention()/4)

	subs := substore.NewStore(catalog, quota.NewEnforcer(catalog), uploads, blobs, publisher, subm.WeightedScorePolicy)
	resultStore := results.NewStore(blobs, catalog, subs)
	aggregator := stats.NewAggregator(subs)

	if env.ResultQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(env.S3Region))
		if err != nil {
			return fmt.Errorf("failed to load AWS config: %w", err)
		}
		dispatcher := ingest.NewDispatcher(subs, resultStore, logger)
		consumer := ingest.NewConsumer(sqs.NewFromConfig(awsCfg), env.ResultQueueURL, dispatcher, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("result consumer stopped", "error", err)
			}
		}()
		logger.Info("consuming grading results", "queue", env.ResultQueueURL)
	}

	server := httpsrv.New(catalog, subs, uploads, resultStore, aggregator, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", env.ListenAddr)
		errCh <- server.Listen(env.ListenAddr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return server.Shutdown()
	}
}
