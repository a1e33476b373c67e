package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/encodr/internal/codec"
	"github.com/jmylchreest/encodr/internal/config"
	"github.com/jmylchreest/encodr/internal/database"
	"github.com/jmylchreest/encodr/internal/encoding"
	"github.com/jmylchreest/encodr/internal/ffmpeg"
	"github.com/jmylchreest/encodr/internal/health"
	internalhttp "github.com/jmylchreest/encodr/internal/http"
	"github.com/jmylchreest/encodr/internal/http/handlers"
	"github.com/jmylchreest/encodr/internal/library"
	"github.com/jmylchreest/encodr/internal/logarchive"
	"github.com/jmylchreest/encodr/internal/metrics"
	"github.com/jmylchreest/encodr/internal/observability"
	"github.com/jmylchreest/encodr/internal/repository"
	"github.com/jmylchreest/encodr/internal/scheduler"
	"github.com/jmylchreest/encodr/internal/service"
	"github.com/jmylchreest/encodr/internal/service/progress"
	"github.com/jmylchreest/encodr/internal/transcode"
	"github.com/jmylchreest/encodr/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the encodr server",
	Long: `Start the encodr HTTP API, the gRPC health service and the maintenance
scheduler.

The server provides:
- decisions and transcode job control under /api/v1
- device profiles and registered device capabilities
- live progress as server-sent events
- Prometheus metrics and OpenAPI documentation`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8096, "Port to listen on")
	serveCmd.Flags().String("media-root", "./media", "Directory item ids are resolved against")
	serveCmd.Flags().String("data-dir", "./data", "Directory for transcodes and logs")

	mustBindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	mustBindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	mustBindPFlag("storage.media_root", serveCmd.Flags().Lookup("media-root"))
	mustBindPFlag("storage.base_dir", serveCmd.Flags().Lookup("data-dir"))
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.Default()

	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return err
	}

	for _, dir := range []string{cfg.Storage.TranscodePath(), cfg.Storage.LogPath(), cfg.Storage.ArchivePath()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if res, err := scheduler.RunStartupCleanup(ctx, cfg.Storage.TranscodePath(), 0, logger); err != nil {
		logger.Warn("startup cleanup incomplete", slog.String("error", err.Error()))
	} else if res.Removed > 0 {
		logger.Info("removed leftover transcodes", slog.Int("count", res.Removed))
	}

	db, err := database.New(cfg.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	detector := ffmpeg.NewBinaryDetector(cfg.Transcoding.BinaryPath, cfg.Transcoding.ProbePath)
	binaries, err := detector.Detect(ctx)
	if err != nil {
		return fmt.Errorf("detecting ffmpeg: %w", err)
	}
	logger.Info("detected ffmpeg",
		slog.String("path", binaries.FFmpegPath),
		slog.String("version", binaries.Version),
		slog.Int("encoders", len(binaries.Encoders)),
		slog.Any("hwaccels", binaries.HWAccels))

	accel := codec.HWAccel(cfg.Transcoding.HWAccel)
	planner := ffmpeg.NewPlanner(binaries.FFmpegPath).
		WithHWAccel(accel).
		WithThreads(cfg.Transcoding.Threads).
		WithDebugLog(cfg.Transcoding.DebugLog).
		WithDownmixBoost(cfg.Transcoding.DownmixBoost).
		WithDecoderSupport(binaries.HasDecoder)

	lib, err := library.New(cfg.Storage.MediaRoot, ffmpeg.NewProber(binaries.FFprobePath))
	if err != nil {
		return err
	}
	lib = lib.WithLogger(observability.WithComponent(logger, "library")).
		WithCacheTTL(cfg.Transcoding.ProbeCacheDuration)

	profiles := service.NewDeviceProfileService(
		repository.NewDeviceProfileRepository(db.DB),
		repository.NewDeviceCapabilitiesRepository(db.DB),
	).WithLogger(logger)
	sessions := repository.NewTranscodeSessionRepository(db.DB)

	builder := encoding.NewBuilder(lib, planner, cfg.Storage.TranscodePath()).
		WithLogger(logger).
		WithDeviceProfiles(profiles).
		WithResolutionNormalizer(encoding.NewResolutionNormalizer(encoding.DefaultResolutionSteps)).
		WithHWAccel(accel).
		WithSegmentSubfolders(cfg.Transcoding.SegmentSubfolders).
		WithAutoStreamCopy(cfg.Transcoding.EnableAutoCopy)

	progressService := progress.NewService(logger)
	progressService.Start()
	defer progressService.Stop()

	registry := transcode.NewRegistry()
	orchestrator := transcode.NewOrchestrator(builder, planner, registry).
		WithLogger(logger).
		WithLogDir(cfg.Storage.LogPath()).
		WithPollInterval(cfg.Transcoding.ReadyPollInterval).
		WithOutputProbe(cfg.Transcoding.ProbeOutput).
		WithStatsInterval(cfg.Transcoding.StatsInterval).
		WithThrottle(transcode.ThrottleSettings{
			Enabled:    cfg.Transcoding.Throttle.Enabled,
			Threshold:  cfg.Transcoding.Throttle.Threshold,
			Interval:   cfg.Transcoding.Throttle.Interval,
			MinRuntime: cfg.Transcoding.Throttle.MinRuntime,
		})
	orchestrator.AddObserver(progress.NewTranscodeObserver(progressService))
	orchestrator.AddObserver(service.NewSessionRecorder(sessions).WithLogger(logger))
	if cfg.Metrics.Enabled {
		orchestrator.AddObserver(metrics.NewTranscodeObserver())
	}

	archiveFormat, err := logarchive.ParseFormat(cfg.Maintenance.ArchiveFormat)
	if err != nil {
		return err
	}
	archiver := logarchive.New(cfg.Storage.LogPath(), cfg.Storage.ArchivePath()).
		WithFormat(archiveFormat).
		WithRetention(cfg.Maintenance.ArchiveRetention).
		WithActiveLogs(registry.ActiveLogs).
		WithLogger(logger)

	sched := scheduler.NewScheduler().WithLogger(logger).WithProgress(progressService)
	cleanup := scheduler.NewTempCleanup(cfg.Storage.TranscodePath(), cfg.Maintenance.CleanupMaxAge).
		WithActivePaths(registry.ActivePaths).
		WithLogger(logger)
	if err := sched.Add(cfg.Maintenance.CleanupCron, cleanup); err != nil {
		return err
	}
	if err := sched.Add(cfg.Maintenance.ArchiveCron, scheduler.NewLogArchive(archiver)); err != nil {
		return err
	}
	sched.Start()

	var grpcServer *health.GRPCServer
	if cfg.GRPC.Enabled {
		grpcServer = health.NewGRPCServer(logger).
			WithProbe("database", db.Ping).
			WithProbe("ffmpeg", func(ctx context.Context) error {
				_, err := detector.Detect(ctx)
				return err
			})
		if err := grpcServer.Start(ctx, cfg.GRPC.Address); err != nil {
			return err
		}
	}

	server := internalhttp.NewServer(internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     internalhttp.DefaultServerConfig().IdleTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
	}, logger, version.Version)

	handlers.NewHealthHandler(version.Version).WithDB(db).WithRegistry(registry).Register(server.API())
	handlers.NewDecisionHandler(builder, planner).Register(server.API())
	handlers.NewTranscodeHandler(builder, orchestrator).
		WithSessions(sessions).
		WithLogs(archiver).
		WithLogger(logger).
		Register(server.API())
	handlers.NewDeviceProfileHandler(profiles).Register(server.API())
	progressHandler := handlers.NewProgressHandler(progressService)
	progressHandler.Register(server.API())
	progressHandler.RegisterSSE(server.Router())
	handlers.NewMaintenanceHandler(sched).Register(server.API())
	if cfg.Metrics.Enabled {
		server.MountMetrics(cfg.Metrics.Path)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Start() }()

	logger.Info("starting encodr server",
		slog.String("address", server.Addr()),
		slog.String("media_root", lib.Root()),
		slog.String("version", version.Version))

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}
	cancel()

	return shutdown(logger, cfg.Server, server, orchestrator, sched, grpcServer)
}

// shutdown kills running encoders first so their output is released
// before the listeners go away.
func shutdown(logger *slog.Logger, cfg config.ServerConfig, server *internalhttp.Server,
	orchestrator *transcode.Orchestrator, sched *scheduler.Scheduler, grpcServer *health.GRPCServer,
) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := orchestrator.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := sched.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if grpcServer != nil {
		if err := grpcServer.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := server.Shutdown(context.WithoutCancel(ctx)); err != nil {
		errs = append(errs, err)
	}

	err := errors.Join(errs...)
	if err != nil {
		logger.Error("shutdown incomplete", slog.String("error", err.Error()))
	}
	return err
}
