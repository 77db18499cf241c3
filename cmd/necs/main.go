package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	necspeaking "github.com/notmtri/necspeaking"
	"github.com/notmtri/necspeaking/internal/api"
	"github.com/notmtri/necspeaking/internal/audio"
	"github.com/notmtri/necspeaking/internal/config"
	"github.com/notmtri/necspeaking/internal/database"
	"github.com/notmtri/necspeaking/internal/grading"
	"github.com/notmtri/necspeaking/internal/metrics"
	"github.com/notmtri/necspeaking/internal/mqttclient"
	"github.com/notmtri/necspeaking/internal/pipeline"
	"github.com/notmtri/necspeaking/internal/ratelimit"
	"github.com/notmtri/necspeaking/internal/session"
	"github.com/notmtri/necspeaking/internal/storage"
	"github.com/notmtri/necspeaking/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var (
		envFile      = flag.String("env-file", "", "path to .env file (default .env)")
		listen       = flag.String("listen", "", "HTTP listen address (overrides HTTP_ADDR)")
		logLevel     = flag.String("log-level", "", "log level (overrides LOG_LEVEL)")
		databaseURL  = flag.String("database-url", "", "PostgreSQL URL (overrides DATABASE_URL)")
		uploadDir    = flag.String("upload-dir", "", "scratch directory for uploads (overrides UPLOAD_DIR)")
		staticDir    = flag.String("static-dir", "", "frontend build to serve (overrides STATIC_DIR)")
		hashPassword = flag.String("hash-password", "", "print a bcrypt hash for ADMIN_PASSWORD_HASH and exit")
		showVersion  = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}
	if *hashPassword != "" {
		h, err := session.HashPassword(*hashPassword)
		if err != nil {
			fmt.Fprintln(os.Stderr, "hash failed:", err)
			os.Exit(1)
		}
		fmt.Println(h)
		return
	}

	// Config
	cfg, err := config.Load(config.Overrides{
		EnvFile:     *envFile,
		HTTPAddr:    *listen,
		LogLevel:    *logLevel,
		DatabaseURL: *databaseURL,
		UploadDir:   *uploadDir,
		StaticDir:   *staticDir,
	})
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("necs starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	db, err := database.Connect(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if err := db.InitSchema(ctx, necspeaking.SchemaSQL); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize schema")
	}
	if err := db.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate schema")
	}

	// Audio toolchain
	tools := audio.NewFFmpeg(cfg.Audio.FFmpegPath, cfg.Audio.FFprobePath)
	if err := tools.Check(); err != nil {
		log.Fatal().Err(err).Msg("ffmpeg toolchain not available")
	}
	normalizer := audio.NewNormalizer(tools, cfg.Audio.UploadDir, audio.Limits{
		MaxDuration:        cfg.Audio.MaxDuration,
		MaxNormalizedBytes: cfg.Audio.MaxNormalizedBytes,
	}, log)

	// Speech-to-text and grading
	transcriber := transcribe.NewOpenAIProvider(transcribe.OpenAIConfig{
		APIKey:  cfg.AI.APIKey,
		BaseURL: cfg.AI.BaseURL,
		Model:   cfg.AI.STTModel,
		Timeout: cfg.AI.Timeout,
	}, tools, log)

	sanitizer, err := grading.NewSanitizer(cfg.AI.Sanitizer)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid GRADER_SANITIZER")
	}
	grader := grading.NewGrader(
		grading.NewOpenAIClient(cfg.AI.APIKey, cfg.AI.BaseURL, cfg.AI.Timeout),
		grading.Options{Model: cfg.AI.LLMModel, Temperature: cfg.AI.LLMTemperature, Sanitizer: sanitizer},
		log,
	)
	analyzer := pipeline.NewAnalyzer(normalizer, transcriber, grader, log)
	log.Info().
		Str("stt_model", transcriber.Model()).
		Str("llm_model", grader.Model()).
		Str("base_url", cfg.AI.BaseURL).
		Msg("AI providers configured")

	// Sessions and rate limiting: Redis when configured, process memory otherwise
	var (
		sessions session.Store
		limiter  ratelimit.Limiter
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid REDIS_URL")
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		sessions = session.NewRedisStore(rdb)
		limiter = ratelimit.NewRedisLimiter(rdb)
		log.Info().Msg("sessions and rate limits backed by redis")
	} else {
		sessions = session.NewMemoryStore()
		mem := ratelimit.NewMemoryLimiter()
		mem.Start()
		defer mem.Stop()
		limiter = mem
	}
	sessionMgr := session.NewManager(sessions, session.Options{
		PasswordHash: cfg.Admin.PasswordHash,
		Secret:       cfg.Admin.SessionKey,
		TTL:          cfg.Admin.SessionTTL,
		CookieSecure: cfg.Admin.CookieSecure,
	}, log)

	// Media hosting
	media, err := storage.New(cfg.Media, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize media store")
	}
	log.Info().Str("type", media.Type()).Msg("media store ready")

	// Background services
	var services []storage.BackgroundService
	services = append(services, storage.NewSweeper(cfg.Audio.UploadDir, cfg.Audio.SweepMaxAge, cfg.Audio.SweepInterval, log))
	for _, s := range services {
		s.Start()
	}

	// Metrics
	prometheus.MustRegister(metrics.NewCollector(db.Pool, analyzer))

	deps := api.Deps{
		DB:        db,
		Questions: db,
		Samples:   db,
		Analyzer:  analyzer,
		Saver:     normalizer,
		Prober:    tools,
		Media:     media,
		Auth:      sessionMgr,
		Limiter:   limiter,
	}

	// MQTT events (optional)
	if cfg.MQTT.BrokerURL != "" {
		mqttLog := log.With().Str("component", "mqtt").Logger()
		mq, err := mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTT.BrokerURL,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			Log:         mqttLog,
		})
		if err != nil {
			log.Warn().Err(err).Msg("mqtt connect failed, events disabled")
		} else {
			defer mq.Close()
			deps.Events = mq
			deps.MQTT = mq
		}
	}

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, deps, version, startTime, httpLog)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	for _, s := range services {
		s.Stop()
	}

	log.Info().Msg("necs stopped")
}
