// Package config reads pipeline settings from the environment. Every value
// also has a flag override; the binary binds flags whose defaults come from
// these helpers, so the precedence is flag > env > built-in default.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
)

// Built-in source endpoints. All overridable per environment.
const (
	DefaultZillowBaseURL = "https://files.zillowstatic.com/research/public_csvs"
	DefaultCensusBaseURL = "https://api.census.gov/data"
	DefaultRedfinURL     = "https://redfin-public-data.s3.us-west-2.amazonaws.com/redfin_market_tracker/zip_code_market_tracker.tsv000.gz"
	DefaultUserAgent     = "housing-market-pipeline/1.0"
)

// Config carries everything the pipeline binary needs for one run.
type Config struct {
	DatabaseURL  string
	PGMaxConns   int
	PGViaBouncer bool
	BatchSize    int

	RegionZips string // comma-separated override; empty keeps the default MSA list

	ZillowBaseURL string
	CensusBaseURL string
	CensusAPIKey  string
	RedfinURL     string

	UserAgent  string
	TimeoutSec int
	RPS        float64
}

// FromEnv loads a .env file when present (never an error when absent) and
// reads every setting with its default.
func FromEnv() Config {
	_ = godotenv.Load()
	return Config{
		DatabaseURL:   String("DATABASE_URL", ""),
		PGMaxConns:    Int("PG_MAX_CONNS", 2),
		PGViaBouncer:  Bool("PG_VIA_BOUNCER", false),
		BatchSize:     Int("PG_BATCH", 200),
		RegionZips:    String("REGION_ZIPS", ""),
		ZillowBaseURL: String("ZILLOW_BASE_URL", DefaultZillowBaseURL),
		CensusBaseURL: String("CENSUS_BASE_URL", DefaultCensusBaseURL),
		CensusAPIKey:  String("CENSUS_API_KEY", ""),
		RedfinURL:     String("REDFIN_TRACKER_URL", DefaultRedfinURL),
		UserAgent:     String("HTTP_USER_AGENT", DefaultUserAgent),
		TimeoutSec:    Int("HTTP_TIMEOUT_SEC", 120),
		RPS:           Float("REQUEST_RPS", 1),
	}
}

// Validate rejects configurations the pipeline cannot start with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return eris.New("config: DATABASE_URL is required")
	}
	if c.BatchSize < 1 {
		return eris.Errorf("config: PG_BATCH must be positive, got %d", c.BatchSize)
	}
	return nil
}

// ZipList splits the REGION_ZIPS override into trimmed codes. Empty entries
// are dropped; an empty result means "use the built-in list".
func (c Config) ZipList() []string {
	if strings.TrimSpace(c.RegionZips) == "" {
		return nil
	}
	parts := strings.Split(c.RegionZips, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func String(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func Int(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func Float(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func Bool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}
