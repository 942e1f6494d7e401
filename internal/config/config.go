package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"gtfs-segments/internal/segment"
)

type Config struct {
	FeedsFile string
	OutputDir string
	Workers   int
	// Schedule is a cron spec. Empty runs every feed once and exits.
	Schedule string

	MetricsAddr string

	NATSURL           string
	NATSSubjectPrefix string

	// DatabaseURL is the cluster DSN. Empty disables persistence and the
	// postgres feed source.
	DatabaseURL string

	LogLevel  string
	LogFormat string

	WindowedThreshold int
	GeoJSON           bool
}

func Load() (*Config, error) {
	// Load .env into environment (ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		FeedsFile:         getenvDefault("FEEDS_FILE", "feeds.yml"),
		OutputDir:         getenvDefault("OUTPUT_DIR", "data"),
		Schedule:          strings.TrimSpace(os.Getenv("SCHEDULE")),
		MetricsAddr:       os.Getenv("METRICS_ADDR"),
		NATSURL:           os.Getenv("NATS_URL"),
		NATSSubjectPrefix: getenvDefault("NATS_SUBJECT_PREFIX", "segments"),
		LogLevel:          getenvDefault("LOG_LEVEL", "info"),
		LogFormat:         getenvDefault("LOG_FORMAT", "json"),
		DatabaseURL:       databaseURL(),
	}

	var err error
	if cfg.Workers, err = getenvInt("WORKERS", runtime.NumCPU()); err != nil {
		return nil, err
	}
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("invalid WORKERS: %d", cfg.Workers)
	}
	if cfg.WindowedThreshold, err = getenvInt("WINDOWED_SEARCH_THRESHOLD", segment.DefaultWindowedThreshold); err != nil {
		return nil, err
	}
	cfg.GeoJSON = getenvBool("GEOJSON")

	switch cfg.LogFormat {
	case "json", "console":
	default:
		return nil, fmt.Errorf("invalid LOG_FORMAT: %q", cfg.LogFormat)
	}

	return cfg, nil
}

// databaseURL prefers DATABASE_URL / PG_DSN, else builds a DSN from PG* vars
// when PGHOST or PGDATABASE is set.
func databaseURL() string {
	if dsn := firstNonEmpty(os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN")); dsn != "" {
		return dsn
	}
	if os.Getenv("PGHOST") == "" && os.Getenv("PGDATABASE") == "" {
		return ""
	}
	host := getenvDefault("PGHOST", "127.0.0.1")
	port := getenvDefault("PGPORT", "5432")
	user := getenvDefault("PGUSER", "postgres")
	pass := os.Getenv("PGPASSWORD")
	db := getenvDefault("PGDATABASE", "postgres")
	sslmode := getenvDefault("PGSSLMODE", "disable")
	if pass != "" {
		return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", urlEscape(user), urlEscape(pass), host, port, db, sslmode)
	}
	return fmt.Sprintf("postgres://%s@%s:%s/%s?sslmode=%s", urlEscape(user), host, port, db, sslmode)
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

func getenvBool(k string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(k))) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func urlEscape(s string) string {
	// Minimal escape for DSN user/pass with special chars
	r := strings.NewReplacer("@", "%40", ":", "%3A", "/", "%2F", "?", "%3F", "#", "%23")
	return r.Replace(s)
}
