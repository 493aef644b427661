package main

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kiliankoe/doublecross/internal/ai"
	"github.com/kiliankoe/doublecross/internal/ai/ollama"
	"github.com/kiliankoe/doublecross/internal/ai/openai"
	"github.com/kiliankoe/doublecross/internal/api"
	"github.com/kiliankoe/doublecross/internal/config"
	"github.com/kiliankoe/doublecross/internal/events"
	"github.com/kiliankoe/doublecross/internal/game"
	"github.com/kiliankoe/doublecross/internal/match"
	"github.com/kiliankoe/doublecross/internal/metrics"
	"github.com/kiliankoe/doublecross/internal/oracle"
	"github.com/kiliankoe/doublecross/internal/storage/postgres"
	"github.com/kiliankoe/doublecross/internal/timer"
	"github.com/kiliankoe/doublecross/internal/ws"
)

const version = "v0.1.0-dev"

func main() {
	var (
		showHelp    = flag.Bool("help", false, "Show help message")
		showVersion = flag.Bool("version", false, "Show version information")
		portFlag    = flag.String("port", "", "Port to listen on (overrides PORT env var)")
	)
	flag.BoolVar(showHelp, "h", false, "Show help message (shorthand)")
	flag.BoolVar(showVersion, "v", false, "Show version information (shorthand)")
	flag.Parse()

	if *showHelp {
		fmt.Printf(`Doublecross - two-player story game with hidden keywords

Usage: %s [options]

Options:
  -h, --help      Show this help message
  -v, --version   Show version information
  --port PORT     Port to listen on (default: 8080 or PORT env var)

Environment Variables:
  PORT                        Port to listen on (default: 8080)
  LOG_LEVEL                   trace, debug, info, warn or error (default: info)
  LOG_FORMAT                  console or json (default: console)
  DEFAULT_PROVIDER            AI provider: "openai" or "ollama" (default: openai)
  DEFAULT_MODEL               AI model to use (default: gpt-4o-mini)
  OPENAI_API_KEY              OpenAI API key (required for OpenAI provider)
  OPENAI_BASE_URL             Custom OpenAI API base URL (optional)
  OLLAMA_HOST                 Ollama host URL (default: http://localhost:11434)
  ORACLE_MAX_ATTEMPTS         Attempts per oracle call (default: 3)
  REDIS_URL                   Keep turn timers in Redis (optional, in-memory otherwise)
  DATABASE_URL                Archive finished games in Postgres (optional)
  RABBITMQ_URL                Publish game events to RabbitMQ (optional)
  GM_USER                     GM interface username for basic auth
  GM_PASS                     GM interface password for basic auth
  EXPORT_ENABLED              Export game transcripts to file (default: true)
  EXPORT_FILE                 Path to export transcripts (default: ./doublecross-results.txt)
  AUTO_PLAY                   Play the automated side automatically (default: true)
  GUESS_CONFIDENCE_THRESHOLD  Confidence the automated side needs to guess (default: 70)

Examples:
  %s                  Start server with default settings
  %s --port 3000      Start server on port 3000
`, os.Args[0], os.Args[0], os.Args[0])
		return
	}

	if *showVersion {
		fmt.Printf("Doublecross %s\n", version)
		return
	}

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *portFlag != "" {
		cfg.Port = *portFlag
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func setupLogging(cfg config.Config) {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}

func run(ctx context.Context, cfg config.Config) error {
	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}
	llm := oracle.New(provider, cfg.DefaultModel, log.With().Str("component", "oracle").Logger())
	o := oracle.NewRetrying(llm, log.Logger, cfg.OracleMaxAttempts, cfg.OracleBaseDelay)

	var turnTimer game.Timer = timer.NewMemory(nil)
	if cfg.RedisURL != "" {
		client, err := timer.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		turnTimer = timer.NewRedis(client)
		log.Info().Msg("turn timers kept in redis")
	}

	seed := cfg.RandomSeed
	if seed == 0 {
		if seed, err = newSeed(); err != nil {
			return err
		}
	}
	engine := game.NewEngine(o,
		game.WithRand(rand.New(rand.NewSource(seed))),
		game.WithTimer(turnTimer),
		game.WithLogger(log.With().Str("component", "engine").Logger()),
	)

	sinks := []events.Notifier{}
	if cfg.RabbitMQURL != "" {
		pub, err := events.Dial(cfg.RabbitMQURL, cfg.EventsExchange, log.Logger)
		if err != nil {
			return err
		}
		defer pub.Close()
		sinks = append(sinks, pub)
	}

	var archive *postgres.Archive
	var results api.ResultLister
	if cfg.DatabaseURL != "" {
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		if err := postgres.Migrate(pool); err != nil {
			pool.Close()
			return err
		}
		archive = postgres.NewArchive(pool, log.Logger)
		defer archive.Close()
		results = archive
		log.Info().Msg("finished games archived in postgres")
	}

	opts := []match.Option{
		match.WithLogger(log.With().Str("component", "match").Logger()),
		match.WithGuessThreshold(cfg.GuessConfidenceThreshold),
		match.WithAutoPlay(cfg.AutoPlay),
		match.WithFinalizeRetry(cfg.OracleMaxAttempts, cfg.OracleBaseDelay),
		match.WithDefaults(game.SessionConfig{
			MaxTurns:      cfg.DefaultMaxTurns,
			TurnTimeLimit: cfg.DefaultTurnTimeLimit,
			Difficulty:    game.Difficulty(cfg.DefaultDifficulty),
		}),
	}
	if archive != nil {
		opts = append(opts, match.WithArchive(archive))
	}
	if cfg.ExportEnabled {
		opts = append(opts, match.WithExport(cfg.ExportFile))
	}
	multi := events.NewMulti(log.Logger, sinks...)
	runner := match.NewRunner(engine, o, multi, opts...)
	sock := ws.New(runner, log.With().Str("component", "ws").Logger())
	multi.Add(sock)

	r := newRouter(cfg)
	io := sock.Mount(r)
	defer io.Close()

	h := api.NewHandler(runner, results)
	h.RegisterRoutes(r)
	if cfg.GMEnabled() {
		gm := r.Group("/api/gm", gin.BasicAuth(gin.Accounts{cfg.GMUser: cfg.GMPass}))
		h.RegisterGMRoutes(gm)
	}

	go match.NewWatcher(runner, cfg.TimerPollInterval, log.With().Str("component", "watcher").Logger()).Run(ctx)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Str("provider", cfg.DefaultProvider).Str("model", cfg.DefaultModel).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}
	runner.Wait()
	return nil
}

func newRouter(cfg config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/socket.io") || path == "/metrics" || path == "/health" {
			return
		}
		log.Info().Str("method", c.Request.Method).Str("path", path).Int("status", c.Writer.Status()).
			Dur("dur", time.Since(start)).Msg("http")
	})

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Player-Token"}
	corsConfig.MaxAge = 12 * time.Hour
	r.Use(cors.New(corsConfig))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "time": time.Now().UTC(), "version": version})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	if cfg.GMEnabled() {
		r.GET("/gm/metrics", gin.BasicAuth(gin.Accounts{cfg.GMUser: cfg.GMPass}), gin.WrapH(metrics.Handler()))
	}
	return r
}

func newProvider(cfg config.Config) (ai.Provider, error) {
	switch cfg.DefaultProvider {
	case "ollama":
		c, err := ollama.New(cfg.OllamaHost, cfg.AITimeout)
		if err != nil {
			return nil, err
		}
		if cfg.SystemPrompt != "" {
			c.SystemPrompt = cfg.SystemPrompt
		}
		return c, nil
	default:
		c := openai.New(cfg.OpenAIKey, cfg.OpenAIBaseURL, cfg.AITimeout)
		if cfg.SystemPrompt != "" {
			c.SystemPrompt = cfg.SystemPrompt
		}
		return c, nil
	}
}

func newSeed() (int64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}
