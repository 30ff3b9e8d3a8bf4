package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"prompt-relay/internal/auth"
	"prompt-relay/internal/config"
	"prompt-relay/internal/history"
	"prompt-relay/internal/llm"
	"prompt-relay/internal/relay"
	"prompt-relay/internal/scheduler"
	"prompt-relay/internal/storage"
	"prompt-relay/internal/telegram"
)

func main() {
	var envFile, logLevel string
	root := &cobra.Command{
		Use:           "bot",
		Short:         "Telegram bot that streams model answers into a single reply",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
				return errors.Wrapf(err, "load %s", envFile)
			}
			cfg, err := config.New()
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.LogLevel = logLevel
			}
			setupLogging(cfg.LogLevel)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	root.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	root.Flags().StringVar(&logLevel, "log-level", "", "overrides LOG_LEVEL")

	if err := root.ExecuteContext(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("bot stopped")
	}
}

func setupLogging(level string) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339
	if isatty.IsTerminal(os.Stderr.Fd()) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return errors.Wrap(err, "open store")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("close store")
		}
	}()

	limiter, sweeper, closeLimiter, err := newLimiter(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeLimiter(); err != nil {
			log.Warn().Err(err).Msg("close rate limiter")
		}
	}()
	authSvc := auth.NewWithRepo(store, limiter, cfg.Admins)
	if err := authSvc.Seed(ctx, auth.Whitelist, cfg.Whitelist); err != nil {
		return err
	}
	if err := authSvc.Seed(ctx, auth.Blacklist, cfg.Blacklist); err != nil {
		return err
	}

	client, err := llm.NewFactory(cfg).CreateClient(ctx, string(cfg.LLMProvider), cfg.Model())
	if err != nil {
		return errors.Wrap(err, "create llm client")
	}
	client = llm.ForPolicy(client, cfg.FailurePolicy, relay.DefaultApology)

	rec, err := storage.NewFileRecorder(cfg.LogFilePath)
	if err != nil {
		return errors.Wrap(err, "open interaction log")
	}

	bot, err := telegram.New(cfg.TelegramBotToken, telegram.Options{
		Auth:             authSvc,
		Contexts:         store,
		Recorder:         rec,
		LLM:              client,
		Model:            cfg.Model(),
		History:          history.NewStore(cfg.MaxChainLength),
		Relay:            relay.Options{Interval: cfg.EditInterval},
		AIName:           cfg.AIName,
		SystemPrompt:     readSystemPrompt(cfg.SystemPromptPath),
		MaxContextLength: cfg.MaxContextLength,
	})
	if err != nil {
		return err
	}

	sched := scheduler.New()
	if sweeper != nil {
		if err := sched.AddJob("@every 1m", "rate-limit-sweep", scheduler.SweepJob("rate limiter", sweeper)); err != nil {
			return err
		}
	}
	if cfg.ReportSchedule != "" {
		report := scheduler.DailyReport(rec, time.Now, bot.NotifyAdmins)
		if err := sched.AddJob(cfg.ReportSchedule, "daily-report", report); err != nil {
			return err
		}
	}

	log.Info().
		Str("provider", string(cfg.LLMProvider)).
		Str("model", cfg.Model()).
		Str("store", string(cfg.StoreBackend)).
		Dur("edit_interval", cfg.EditInterval).
		Msg("starting bot")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Start(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	return g.Wait()
}

// newLimiter uses Redis when REDIS_URL is set so several replicas share the
// window; otherwise an in-process limiter that needs periodic sweeping. The
// returned func releases the Redis connection pool.
func newLimiter(ctx context.Context, cfg *config.Config) (auth.Limiter, scheduler.Sweeper, func() error, error) {
	if cfg.RedisURL == "" {
		l := auth.NewMemoryLimiter(cfg.RateLimitWindow)
		return l, l, func() error { return nil }, nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, errors.Wrap(err, "parse REDIS_URL")
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, nil, errors.Wrap(err, "ping redis")
	}
	return auth.NewRedisLimiter(rdb, cfg.RateLimitWindow), nil, rdb.Close, nil
}

func readSystemPrompt(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("system prompt file unreadable, using the default")
		return ""
	}
	return strings.TrimSpace(string(data))
}
