// Package app wires the process-level dependencies and runs the two entry
// points: the crawler and the importer. Collaborators are constructed once
// here and injected; nothing below this package touches the environment.
package app

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"

	"kestrel/internal/config"
	"kestrel/internal/crawl"
	"kestrel/internal/database"
	"kestrel/internal/geo"
	"kestrel/internal/importer"
	"kestrel/internal/ping"
	"kestrel/internal/query"
	"kestrel/internal/social"
	"kestrel/internal/sources"
	"kestrel/internal/storage"
	"kestrel/internal/support"
)

// RunCrawler performs one crawl run. A non-nil return means the run produced
// no snapshot and the process must exit non-zero.
func RunCrawler(ctx context.Context) error {
	cfg := loadConfig()

	db, err := database.SetupDB(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("set up database: %w", err)
	}

	store, err := storage.NewS3Store(ctx, s3ConfigFrom(cfg))
	if err != nil {
		return fmt.Errorf("set up object storage: %w", err)
	}

	geoResolver, err := geo.NewResolver(cfg.GeoLite.ASNPath, cfg.GeoLite.CityPath)
	if err != nil {
		return fmt.Errorf("open geolite databases: %w", err)
	}
	defer geoResolver.Close()

	redisClient, err := support.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer redisClient.Close()

	servers := database.NewServerStore(db)
	blacklist := database.NewBlacklistStore(db)

	aggregator := sources.NewAggregator(sources.Config{
		HostedListURL:   cfg.Sources.HostedListURL,
		InternetListURL: cfg.Sources.InternetListURL,
		OpenMPListURL:   cfg.Sources.OpenMPListURL,
		FetchTimeout:    cfg.Sources.FetchTimeout,
	}, servers, blacklist)

	prober := crawl.NewProber(crawl.ProberConfig{
		Concurrency: cfg.Crawler.Concurrency,
		Retry: query.RetryPolicy{
			Attempts: cfg.Crawler.Attempts,
			Timeout:  cfg.Crawler.AttemptTimeout,
		},
		BlacklistBase: cfg.Crawler.BlacklistBase,
	},
		query.NewClient(cfg.Crawler.AttemptTimeout),
		ping.NewPinger(),
		geoResolver,
		social.NewGuildResolver(redisClient, cfg.DiscordToken),
		blacklist,
	)

	writer := storage.NewWriter(store, cfg.Crawler.SnapshotPrefix)
	runner := crawl.NewRunner(aggregator, prober, writer, servers)
	return runner.Run(ctx)
}

// RunImporter ingests pending snapshots. Exit code 0 covers both "ingested"
// and "nothing new"; only an ingestion failure is an error.
func RunImporter(ctx context.Context) error {
	cfg := loadConfig()

	db, err := database.SetupDB(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("set up database: %w", err)
	}

	store, err := storage.NewS3Store(ctx, s3ConfigFrom(cfg))
	if err != nil {
		return fmt.Errorf("set up object storage: %w", err)
	}

	facts, err := importer.NewClickhouseFactStore(ctx, importer.ClickhouseConfig{
		Addr:     cfg.Clickhouse.Addr,
		Database: cfg.Clickhouse.Database,
		Username: cfg.Clickhouse.Username,
		Password: cfg.Clickhouse.Password,
	})
	if err != nil {
		return fmt.Errorf("connect to clickhouse: %w", err)
	}
	defer facts.Close()

	im := importer.New(importer.Config{
		SnapshotPrefix: cfg.Crawler.SnapshotPrefix,
		Loop:           cfg.Importer.Loop,
		IdleDelay:      cfg.Importer.IdleDelay,
	}, store, facts, database.NewServerStore(db))

	return im.RunLoop(ctx)
}

func s3ConfigFrom(cfg config.Config) storage.S3Config {
	return storage.S3Config{
		Bucket:          cfg.S3.Bucket,
		Endpoint:        cfg.S3.Endpoint,
		Region:          cfg.S3.Region,
		PathStyle:       cfg.S3.PathStyle,
		AccessKeyID:     cfg.S3.AccessKeyID,
		SecretAccessKey: cfg.S3.SecretAccessKey,
	}
}

func loadConfig() config.Config {
	if err := godotenv.Load(); err != nil {
		log.Debug("no .env file found, using system environment")
	}
	return config.Load()
}
