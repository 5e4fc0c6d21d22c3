package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"reddot-watch/newsdesk/internal/auth"
	"reddot-watch/newsdesk/internal/cache"
	"reddot-watch/newsdesk/internal/client"
	"reddot-watch/newsdesk/internal/config"
	"reddot-watch/newsdesk/internal/database"
	"reddot-watch/newsdesk/internal/events"
	importsources "reddot-watch/newsdesk/internal/import"
	"reddot-watch/newsdesk/internal/incoming"
	"reddot-watch/newsdesk/internal/models"
	"reddot-watch/newsdesk/internal/process"
	"reddot-watch/newsdesk/internal/publish"
	"reddot-watch/newsdesk/internal/rewrite"
	"reddot-watch/newsdesk/internal/server"
	"reddot-watch/newsdesk/internal/server/api"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05"})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

const usage = `Usage: newsdesk [command] [options]
Commands: serve, import, pull, incoming

For command-specific options, use: newsdesk [command] -h`

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	dbFlags(serveCmd, cfg)
	logFlag(serveCmd, cfg)
	serveCmd.StringVar(&cfg.ServerHost, "host", cfg.ServerHost, "Host to bind the server to (env: NEWSDESK_SERVER_HOST)")
	serveCmd.IntVar(&cfg.ServerPort, "port", cfg.ServerPort, "Port to listen on (env: NEWSDESK_SERVER_PORT)")
	serveCmd.DurationVar(&cfg.Interval, "interval", cfg.Interval,
		"Interval between scheduled pulls, 0 disables them (env: NEWSDESK_INTERVAL)")
	serveCmd.IntVar(&cfg.WorkerCount, "workers", cfg.WorkerCount,
		"Number of concurrent feed fetches, 0 for CPU count (env: NEWSDESK_WORKER_COUNT)")
	serveCmd.StringVar(&cfg.FeedReader, "reader", cfg.FeedReader, "Feed reader: gofeed or feedfetcher (env: NEWSDESK_FEED_READER)")
	serveCmd.StringVar(&cfg.RedisAddr, "redis", cfg.RedisAddr, "Redis address for the public news cache, empty disables it (env: NEWSDESK_REDIS_ADDR)")
	serveCmd.StringVar(&cfg.NATSURL, "nats", cfg.NATSURL, "NATS URL for pipeline events, empty disables them (env: NEWSDESK_NATS_URL)")

	importCmd := flag.NewFlagSet("import", flag.ExitOnError)
	dbFlags(importCmd, cfg)
	logFlag(importCmd, cfg)
	importCmd.StringVar(&cfg.SourcesCSVPath, "csv", cfg.SourcesCSVPath,
		"Path or URL of the sources CSV file (env: NEWSDESK_SOURCES_CSV)")

	pullCmd := flag.NewFlagSet("pull", flag.ExitOnError)
	clientFlags(pullCmd, cfg)
	logFlag(pullCmd, cfg)

	incomingCmd := flag.NewFlagSet("incoming", flag.ExitOnError)
	clientFlags(incomingCmd, cfg)
	logFlag(incomingCmd, cfg)
	var statusFilter string
	incomingCmd.StringVar(&statusFilter, "status", "", "Only list items in these statuses, comma separated")

	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	var run func() error
	switch os.Args[1] {
	case "serve":
		serveCmd.Parse(os.Args[2:])
		run = func() error { return runServe(cfg) }
	case "import":
		importCmd.Parse(os.Args[2:])
		run = func() error { return runImport(cfg) }
	case "pull":
		pullCmd.Parse(os.Args[2:])
		run = func() error { return runPull(cfg) }
	case "incoming":
		incomingCmd.Parse(os.Args[2:])
		run = func() error { return runIncoming(cfg, statusFilter) }
	case "-h", "--help", "help":
		fmt.Println(usage)
		os.Exit(0)
	default:
		log.Error().Str("command", os.Args[1]).Msg("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}

	zerolog.SetGlobalLevel(cfg.Level())
	if err := run(); err != nil {
		log.Error().Err(err).Str("command", os.Args[1]).Msg("Command failed")
		os.Exit(1)
	}
}

func dbFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.DBDriver, "driver", cfg.DBDriver, "Database driver: sqlite3 or postgres (env: NEWSDESK_DB_DRIVER)")
	fs.StringVar(&cfg.DBDSN, "db", cfg.DBDSN, "SQLite file path or postgres DSN (env: NEWSDESK_DB_DSN)")
}

func clientFlags(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Base URL of the running server (env: NEWSDESK_SERVER_URL)")
	fs.StringVar(&cfg.AdminToken, "token", cfg.AdminToken, "Admin token (env: NEWSDESK_ADMIN_TOKEN)")
}

func logFlag(fs *flag.FlagSet, cfg *config.Config) {
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug, info, warn, error (env: NEWSDESK_LOG_LEVEL)")
}

func openDB(cfg *config.Config) (*database.DB, error) {
	db, err := database.NewDB(database.NewConfig(cfg.DBDriver, cfg.DBDSN))
	if err != nil {
		log.Error().Err(err).Str("driver", cfg.DBDriver).Msg("Failed to initialize database")
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

// runServe runs the API server, the only process that writes the stores.
func runServe(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pub events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		nc, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		pub = nc
	}
	defer pub.Close()

	var newsCache cache.Cache = cache.Nop{}
	if cfg.RedisAddr != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		newsCache = rc
	}
	defer newsCache.Close()

	recovered, err := incoming.NewService(db).RecoverInterrupted(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover interrupted rewrites: %w", err)
	}
	if recovered > 0 {
		log.Warn().Int("count", recovered).Msg("Marked interrupted rewrites as failed")
	}

	reader, err := process.NewReader(cfg.FeedReader, cfg.UserAgent)
	if err != nil {
		return err
	}
	puller := process.NewFeedPuller(db, reader, pub, cfg.WorkerCount)
	rewriteClient := rewrite.NewClient(db, nil)

	if cfg.AdminToken == "" {
		log.Warn().Msg("No admin token configured, admin endpoints will reject every request")
	}
	handler := api.NewHandler(api.Deps{
		Store:       db,
		Publisher:   publish.NewService(db, pub, newsCache),
		Rewriter:    rewrite.NewOrchestrator(db, rewriteClient, pub),
		Diagnostics: rewriteClient,
		Puller:      puller,
		Auth:        auth.NewSharedToken(cfg.AdminToken),
		Events:      pub,
	})

	if cfg.Interval > 0 {
		go puller.Run(ctx, cfg.Interval)
	} else {
		log.Info().Msg("Scheduled pulls disabled")
	}

	log.Info().
		Str("driver", db.Driver()).
		Str("reader", cfg.FeedReader).
		Int("workers", puller.WorkerCount).
		Msg("Starting newsdesk")
	err = server.RunServer(ctx, server.NewHandler(handler, db, log.Logger), cfg.ListenAddr(), log.Logger)
	cancel()
	return err
}

// runImport replaces the feed registry with the sources of a CSV file.
func runImport(cfg *config.Config) error {
	db, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	res, err := importsources.NewImporter(db, nil).ImportSources(ctx, cfg.SourcesCSVPath)
	if err != nil {
		return err
	}

	fmt.Printf("Imported %d sources successfully\n", res.Imported)
	if len(res.Errors) > 0 {
		fmt.Printf("Encountered %d errors:\n", len(res.Errors))
		for _, e := range res.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	return nil
}

// runPull asks the running server for one pull so that pulls stay in the
// single writer process.
func runPull(cfg *config.Config) error {
	c, err := client.New(cfg.ServerURL, cfg.AdminToken, nil)
	if err != nil {
		return err
	}
	res, err := c.Pull(context.Background())
	if err != nil {
		return err
	}

	log.Info().
		Int("added", res.Added).
		Int("skipped", res.Skipped).
		Int("truncated", res.Truncated).
		Int("examined", res.Examined).
		Int("evicted", res.Evicted).
		Strs("errors", res.Errors).
		Msg("Pull finished")
	return nil
}

// runIncoming prints incoming items as JSON lines.
func runIncoming(cfg *config.Config, status string) error {
	c, err := client.New(cfg.ServerURL, cfg.AdminToken, nil)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	total, err := c.WalkIncoming(context.Background(), status, func(it models.IncomingItem) error {
		return enc.Encode(it)
	})
	if err != nil {
		return err
	}
	log.Info().Int("count", total).Msg("Listed incoming items")
	return nil
}
