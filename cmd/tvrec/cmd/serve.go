package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/jmylchreest/tvrec/internal/bot"
	"github.com/jmylchreest/tvrec/internal/channels"
	"github.com/jmylchreest/tvrec/internal/chat"
	"github.com/jmylchreest/tvrec/internal/config"
	"github.com/jmylchreest/tvrec/internal/database"
	"github.com/jmylchreest/tvrec/internal/ffmpeg"
	internalhttp "github.com/jmylchreest/tvrec/internal/http"
	"github.com/jmylchreest/tvrec/internal/http/handlers"
	"github.com/jmylchreest/tvrec/internal/metrics"
	"github.com/jmylchreest/tvrec/internal/recorder"
	"github.com/jmylchreest/tvrec/internal/repository"
	"github.com/jmylchreest/tvrec/internal/resolver"
	"github.com/jmylchreest/tvrec/internal/scheduler"
	"github.com/jmylchreest/tvrec/internal/service"
	"github.com/jmylchreest/tvrec/internal/startup"
	"github.com/jmylchreest/tvrec/internal/uploader"
	"github.com/jmylchreest/tvrec/internal/version"
	"github.com/jmylchreest/tvrec/pkg/httpclient"
)

// Maintenance job names.
const (
	jobPlaylistRefresh = "playlist-refresh"
	jobHistoryPrune    = "history-prune"
	jobTempCleanup     = "temp-cleanup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the bot and API server",
	Long: `Start the tvrec bot.

The process:
- long-polls Telegram for commands from the configured admins
- records, finalises and uploads requested channels
- refreshes playlists and prunes history on a schedule
- serves a REST API, health probes and Prometheus metrics (unless disabled)`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "127.0.0.1", "Host to bind the API to; non-loopback hosts need server.api_token")
	serveCmd.Flags().Int("port", 8080, "Port for the API")
	serveCmd.Flags().Bool("no-api", false, "Disable the HTTP API")
	serveCmd.Flags().String("recordings-dir", "recordings", "Directory for captures")
}

// applyServeFlags overrides configuration with explicitly set flags.
func applyServeFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	overrideString(flags, "host", &cfg.Server.Host)
	overrideInt(flags, "port", &cfg.Server.Port)
	overrideString(flags, "recordings-dir", &cfg.Recording.Dir)
	if flags.Changed("no-api") {
		noAPI, _ := flags.GetBool("no-api")
		cfg.Server.Enabled = !noAPI
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	applyServeFlags(cmd)
	if err := cfg.ValidateBot(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if err := cfg.Server.ValidateAuth(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	logger := slog.Default()
	loc := cfg.Recording.Location()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Recording.Dir, 0o755); err != nil {
		return fmt.Errorf("creating recordings directory: %w", err)
	}
	cleanupTemp := func() {
		removed, err := startup.CleanupOrphanedRecordings(logger, cfg.Recording.Dir, cfg.Recording.TempMaxAge.Duration())
		if err != nil {
			logger.Warn("failed to clean orphaned recordings", slog.String("error", err.Error()))
		} else if removed > 0 {
			logger.Info("cleaned orphaned recordings", slog.Int("removed_count", removed))
		}
	}
	cleanupTemp()

	// Database and history
	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("closing database", slog.String("error", err.Error()))
		}
	}()
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	recordingRepo := repository.NewRecordingRepository(db.DB)
	if _, err := startup.RecoverInterruptedRecordings(ctx, logger, recordingRepo); err != nil {
		logger.Warn("continuing without recovering interrupted recordings")
	}
	history := service.NewHistoryService(recordingRepo).WithLogger(logger)

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	// Channel index
	index := channels.New(channels.Config{
		Fetcher:      newFetchClient(logger),
		CacheDir:     cfg.Playlists.CacheDir,
		CacheTTL:     cfg.Playlists.CacheTTL.Duration(),
		FetchTimeout: cfg.Playlists.FetchTimeout.Duration(),
		Logger:       logger,
		OnRefresh:    m.PlaylistRefreshed,
	})
	index.Load(ctx, cfg.Playlists.URLs)
	logger.Info("channel index loaded",
		slog.Int("playlists", len(index.Playlists())),
		slog.Int("channels", index.Len()))

	// Stream resolution uses a client without retries so that a dead
	// redirect falls back to the playlist URL quickly.
	resolveCfg := httpclient.DefaultConfig()
	resolveCfg.Logger = logger
	resolveCfg.UserAgent = version.UserAgent()
	resolveCfg.RetryAttempts = 0
	resolveCfg.CircuitThreshold = 0
	resolveCfg.EnableDecompression = false
	streamResolver := resolver.New(httpclient.New(resolveCfg), logger)

	// FFmpeg
	binInfo, err := ffmpeg.NewBinaryDetector(cfg.FFmpeg.BinaryPath, cfg.FFmpeg.ProbePath).Detect(ctx)
	if err != nil {
		return fmt.Errorf("detecting ffmpeg: %w", err)
	}
	logger.Info("ffmpeg detected",
		slog.String("ffmpeg", binInfo.FFmpegPath),
		slog.String("version", binInfo.Version))
	transcoder := ffmpeg.NewTranscoder(binInfo, logger).WithCaptureInputArgs(cfg.FFmpeg.CaptureInputArgs...)

	// Chat
	messenger, err := chat.NewTelegram(chat.TelegramConfig{
		Token:             cfg.Telegram.Token,
		Endpoint:          cfg.Telegram.APIEndpoint,
		MessagesPerSecond: cfg.Telegram.MessagesPerSecond,
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("connecting to telegram: %w", err)
	}
	logger.Info("connected to telegram", slog.String("bot", messenger.Username()))

	videoSender := messenger
	if ep := cfg.Telegram.UploadAPIEndpoint; ep != "" && ep != cfg.Telegram.APIEndpoint {
		// Uploads of up to 2 GiB must not be cut short by a client timeout.
		videoSender, err = chat.NewTelegram(chat.TelegramConfig{
			Token:             cfg.Telegram.Token,
			Endpoint:          ep,
			MessagesPerSecond: cfg.Telegram.MessagesPerSecond,
			HTTPClient:        &http.Client{},
			Logger:            logger,
		})
		if err != nil {
			return fmt.Errorf("connecting to upload endpoint: %w", err)
		}
	}

	up := uploader.New(uploader.Config{
		Sender:       videoSender,
		Messenger:    messenger,
		StoreChatID:  cfg.Telegram.StoreChatID,
		MaxSize:      cfg.Upload.MaxSize.Bytes(),
		MaxAttempts:  cfg.Upload.MaxAttempts,
		Backoff:      cfg.Upload.Backoff.Duration(),
		EditInterval: cfg.Upload.EditInterval.Duration(),
		Gate:         semaphore.NewWeighted(1),
		Redactor:     messenger.Redactor(),
		Observer:     m,
		Logger:       logger,
	})

	// Recording
	rec := recorder.New(recorder.Config{
		Dir:             cfg.Recording.Dir,
		Location:        loc,
		PollInterval:    cfg.Recording.PollInterval.Duration(),
		MinEditInterval: cfg.Recording.MinEditInterval.Duration(),
		Tag:             cfg.Recording.Tag,
		Channels:        index,
		Resolver:        streamResolver,
		Transcoder:      transcoder,
		Uploader:        up,
		Messenger:       messenger,
		Observers:       []recorder.Observer{history, m},
		Logger:          logger,
	})
	sched := scheduler.NewScheduler(rec).WithLogger(logger)

	// Maintenance jobs
	runner := scheduler.NewRunner(loc).WithLogger(logger)
	retention := cfg.History.Retention.Duration()
	jobs := []scheduler.Job{
		{
			Name:     jobPlaylistRefresh,
			Schedule: cfg.Playlists.RefreshSchedule,
			Timeout:  10 * time.Minute,
			Run: func(ctx context.Context) error {
				index.RefreshAll(ctx)
				return nil
			},
		},
		{
			Name:     jobTempCleanup,
			Schedule: "@hourly",
			Run: func(context.Context) error {
				cleanupTemp()
				return nil
			},
		},
	}
	if retention > 0 {
		jobs = append(jobs, scheduler.Job{
			Name:     jobHistoryPrune,
			Schedule: cfg.History.PruneSchedule,
			Timeout:  time.Minute,
			Run: func(ctx context.Context) error {
				_, err := history.Prune(ctx, retention)
				return err
			},
		})
	}
	for _, job := range jobs {
		job.Run = observed(m, job.Name, job.Run)
		if err := runner.Add(job); err != nil {
			return fmt.Errorf("registering job %s: %w", job.Name, err)
		}
	}

	// Bot
	b, err := bot.New(bot.Config{
		AdminIDs:   cfg.Telegram.AdminIDs,
		LogChatID:  cfg.Telegram.LogChatID,
		Location:   loc,
		Messenger:  messenger,
		Channels:   index,
		Recordings: sched,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("creating bot: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := runner.Start(gctx); err != nil {
		return fmt.Errorf("starting job runner: %w", err)
	}

	g.Go(func() error {
		return b.Poll(gctx, messenger.API(), cfg.Telegram.PollTimeout)
	})

	if cfg.Server.Enabled {
		server := newAPIServer(db, index, sched, history, runner, registry, logger)
		g.Go(func() error {
			return server.ListenAndServe(gctx)
		})
	}

	logger.Info("tvrec started",
		slog.String("version", version.Version),
		slog.String("timezone", loc.String()),
		slog.Bool("api", cfg.Server.Enabled))

	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if err := runner.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if err := sched.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("stopping recordings: %w", err))
	}
	logger.Info("tvrec stopped")
	return errors.Join(errs...)
}

// newAPIServer builds the HTTP server and registers every handler.
func newAPIServer(
	db *database.DB,
	index *channels.Index,
	sched *scheduler.Scheduler,
	history *service.HistoryService,
	runner *scheduler.Runner,
	registry *prometheus.Registry,
	logger *slog.Logger,
) *internalhttp.Server {
	server := internalhttp.NewServer(internalhttp.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     2 * time.Minute,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		CORSOrigins:     cfg.Server.CORSOrigins,
		RateLimit:       cfg.Server.RateLimit,
		APIToken:        cfg.Server.APIToken,
	}, logger, version.Version)

	server.Router().Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))

	api := server.API()
	handlers.NewHealthHandler(version.Version).
		WithDB(db).
		WithChannels(index).
		WithRecordings(sched).
		Register(api)
	handlers.NewChannelHandler(index).Register(api)
	handlers.NewRecordingHandler(sched, cfg.Recording.Location(), cfg.Telegram.LogChatID).
		WithAllowedChats(reportChats(cfg.Telegram)...).
		WithHistory(history).
		Register(api)
	handlers.NewJobHandler(runner).Register(api)
	return server
}

// reportChats lists the chats API-started recordings may report into: the
// admins' private chats and the log chat.
func reportChats(tg config.TelegramConfig) []int64 {
	chats := append([]int64(nil), tg.AdminIDs...)
	if tg.LogChatID != 0 {
		chats = append(chats, tg.LogChatID)
	}
	return chats
}

// observed reports each run of a job to m.
func observed(m *metrics.Metrics, name string, fn scheduler.JobFunc) scheduler.JobFunc {
	return func(ctx context.Context) error {
		err := fn(ctx)
		m.JobRan(name, err)
		return err
	}
}
