package config

import (
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
)

// Config is built once at process start and handed to each component.
// Components never reach back into the environment themselves.
type Config struct {
	DatabaseDSN string

	Clickhouse struct {
		Addr     string
		Database string
		Username string
		Password string
	}

	S3 struct {
		Bucket          string
		Endpoint        string // optional, for S3-compatible stores
		Region          string
		PathStyle       bool
		AccessKeyID     string
		SecretAccessKey string
	}

	RedisURL string

	Sources struct {
		HostedListURL   string
		InternetListURL string
		OpenMPListURL   string
		FetchTimeout    time.Duration
	}

	Crawler struct {
		Concurrency    int
		Attempts       int
		AttemptTimeout time.Duration
		BlacklistBase  time.Duration
		SnapshotPrefix string
	}

	Importer struct {
		Loop      bool
		IdleDelay time.Duration
	}

	GeoLite struct {
		ASNPath  string
		CityPath string
	}

	DiscordToken string
}

func Load() Config {
	var cfg Config

	cfg.DatabaseDSN = GetEnv("DATABASE_URL", "host=localhost user=kestrel dbname=kestrel sslmode=disable")

	cfg.Clickhouse.Addr = GetEnv("CLICKHOUSE_ADDR", "localhost:9000")
	cfg.Clickhouse.Database = GetEnv("CLICKHOUSE_DATABASE", "kestrel")
	cfg.Clickhouse.Username = GetEnv("CLICKHOUSE_USERNAME", "default")
	cfg.Clickhouse.Password = GetEnv("CLICKHOUSE_PASSWORD", "")

	cfg.S3.Bucket = GetEnv("S3_BUCKET", "kestrel-snapshots")
	cfg.S3.Endpoint = GetEnv("S3_ENDPOINT", "")
	cfg.S3.Region = GetEnv("S3_REGION", "us-east-1")
	cfg.S3.PathStyle = GetEnvBool("S3_PATH_STYLE", cfg.S3.Endpoint != "")
	cfg.S3.AccessKeyID = GetEnv("S3_ACCESS_KEY_ID", "")
	cfg.S3.SecretAccessKey = GetEnv("S3_SECRET_ACCESS_KEY", "")

	cfg.RedisURL = GetEnv("REDIS_URL", "redis://localhost:6379")

	cfg.Sources.HostedListURL = GetEnv("HOSTED_LIST_URL", "http://lists.sa-mp.com/0.3.7/hosted")
	cfg.Sources.InternetListURL = GetEnv("INTERNET_LIST_URL", "http://lists.sa-mp.com/0.3.7/internet")
	cfg.Sources.OpenMPListURL = GetEnv("OPENMP_LIST_URL", "https://api.open.mp/server/")
	cfg.Sources.FetchTimeout = GetEnvDuration("SOURCE_FETCH_TIMEOUT", 5*time.Second)

	cfg.Crawler.Concurrency = GetEnvInt("CRAWLER_CONCURRENCY", 30)
	cfg.Crawler.Attempts = GetEnvInt("CRAWLER_ATTEMPTS", 4)
	cfg.Crawler.AttemptTimeout = GetEnvDuration("CRAWLER_ATTEMPT_TIMEOUT", 2*time.Second)
	cfg.Crawler.BlacklistBase = GetEnvDuration("BLACKLIST_BASE", 3*time.Hour)
	cfg.Crawler.SnapshotPrefix = GetEnv("SNAPSHOT_PREFIX", "crawls")

	cfg.Importer.Loop = GetEnvBool("IMPORT_LOOP", false)
	cfg.Importer.IdleDelay = GetEnvDuration("IMPORT_IDLE_DELAY", 30*time.Second)

	cfg.GeoLite.ASNPath = GetEnv("GEOLITE_ASN_PATH", "data/GeoLite2-ASN.mmdb")
	cfg.GeoLite.CityPath = GetEnv("GEOLITE_CITY_PATH", "data/GeoLite2-City.mmdb")

	cfg.DiscordToken = GetEnv("DISCORD_TOKEN", "")

	return cfg
}

func GetEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func GetEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
		log.Warn("invalid integer env value, using fallback", "env", key, "value", value)
	}
	return fallback
}

func GetEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
		log.Warn("invalid boolean env value, using fallback", "env", key, "value", value)
	}
	return fallback
}

func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		log.Warn("invalid duration env value, using fallback", "env", key, "value", value)
	}
	return fallback
}
