package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// EnvFiles are loaded, when present, before any variable is read. Values
// already set in the process environment win.
var EnvFiles = []string{".env.local", ".env"}

var dotenvOnce sync.Once

// MaxResultWindow is the index's max_result_window. A /data page must end
// inside it, so API_MAX_SKIP + API_MAX_LIMIT may not exceed it.
const MaxResultWindow = 110000

// Common contains Elasticsearch parameters shared by every service.
type Common struct {
	ElasticsearchAddr    string
	ElasticsearchIndex   string
	StartupRetries       int
	StartupRetryInterval time.Duration
}

// API describes HTTP-layer configuration.
type API struct {
	Common
	BindAddr       string
	DefaultLimit   int
	MaxLimit       int
	MaxSkip        int
	RequestTimeout time.Duration
}

// Importer configures the bulk import command.
type Importer struct {
	Common
	File                   string
	KafkaBrokers           []string
	KafkaTopic             string
	KafkaIdleTimeout       time.Duration
	KafkaFirstFetchTimeout time.Duration
	KafkaMaxWait           time.Duration
	ImportTimeout          time.Duration
}

// Dashboard configures the dashboard web server.
type Dashboard struct {
	BindAddr       string
	APIBaseURL     string
	RequestTimeout time.Duration
}

func loadCommon() Common {
	return Common{
		ElasticsearchAddr:    getEnv("ELASTICSEARCH_ADDR", "http://elasticsearch:9200"),
		ElasticsearchIndex:   getEnv("ELASTICSEARCH_INDEX", "datapoints"),
		StartupRetries:       getInt("ELASTICSEARCH_STARTUP_RETRIES", 10),
		StartupRetryInterval: getDuration("ELASTICSEARCH_STARTUP_RETRY_INTERVAL", "2s"),
	}
}

func (c Common) validate() error {
	if _, err := url.ParseRequestURI(c.ElasticsearchAddr); err != nil {
		return fmt.Errorf("ELASTICSEARCH_ADDR is not a valid URL: %w", err)
	}
	if c.StartupRetries <= 0 {
		return fmt.Errorf("ELASTICSEARCH_STARTUP_RETRIES must be positive")
	}
	return nil
}

// LoadAPI builds an API config from environment variables.
func LoadAPI() (*API, error) {
	loadDotenv()
	c := &API{
		Common:         loadCommon(),
		BindAddr:       getEnv("API_BIND_ADDR", "0.0.0.0:8080"),
		DefaultLimit:   getInt("API_DEFAULT_LIMIT", 1000),
		MaxLimit:       getInt("API_MAX_LIMIT", 10000),
		MaxSkip:        getInt("API_MAX_SKIP", 100000),
		RequestTimeout: getDuration("API_REQUEST_TIMEOUT", "10s"),
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	if c.DefaultLimit <= 0 {
		return nil, fmt.Errorf("API_DEFAULT_LIMIT must be positive")
	}
	if c.MaxLimit <= 0 {
		return nil, fmt.Errorf("API_MAX_LIMIT must be positive")
	}
	if c.DefaultLimit > c.MaxLimit {
		return nil, fmt.Errorf("API_DEFAULT_LIMIT cannot exceed API_MAX_LIMIT")
	}
	if c.MaxSkip < 0 {
		return nil, fmt.Errorf("API_MAX_SKIP cannot be negative")
	}
	if c.MaxSkip+c.MaxLimit > MaxResultWindow {
		return nil, fmt.Errorf("API_MAX_SKIP + API_MAX_LIMIT cannot exceed %d", MaxResultWindow)
	}
	if c.RequestTimeout <= 0 {
		return nil, fmt.Errorf("API_REQUEST_TIMEOUT must be positive")
	}

	return c, nil
}

// LoadImporter builds an Importer config from environment variables.
func LoadImporter() (*Importer, error) {
	loadDotenv()
	c := &Importer{
		Common:                 loadCommon(),
		File:                   getEnv("IMPORT_FILE", "jsondata.json"),
		KafkaBrokers:           splitAndTrim(getEnv("KAFKA_BROKERS", "kafka:9092")),
		KafkaTopic:             getEnv("KAFKA_TOPIC", "datapoints_snapshot"),
		KafkaIdleTimeout:       getDuration("KAFKA_IDLE_TIMEOUT", "10s"),
		KafkaFirstFetchTimeout: getDuration("KAFKA_FIRST_FETCH_TIMEOUT", "60s"),
		KafkaMaxWait:           getDuration("KAFKA_MAX_WAIT", "500ms"),
		ImportTimeout:          getDuration("IMPORT_TIMEOUT", "10m"),
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	if len(c.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("KAFKA_BROKERS must contain at least one broker")
	}
	if c.KafkaIdleTimeout <= 0 {
		return nil, fmt.Errorf("KAFKA_IDLE_TIMEOUT must be positive")
	}
	if c.KafkaFirstFetchTimeout < c.KafkaIdleTimeout {
		return nil, fmt.Errorf("KAFKA_FIRST_FETCH_TIMEOUT cannot be shorter than KAFKA_IDLE_TIMEOUT")
	}
	if c.ImportTimeout <= 0 {
		return nil, fmt.Errorf("IMPORT_TIMEOUT must be positive")
	}

	return c, nil
}

// LoadDashboard builds a Dashboard config from environment variables.
func LoadDashboard() (*Dashboard, error) {
	loadDotenv()
	c := &Dashboard{
		BindAddr:       getEnv("DASHBOARD_BIND_ADDR", "0.0.0.0:3000"),
		APIBaseURL:     strings.TrimRight(getEnv("DASHBOARD_API_URL", "http://api:8080"), "/"),
		RequestTimeout: getDuration("DASHBOARD_REQUEST_TIMEOUT", "15s"),
	}

	u, err := url.ParseRequestURI(c.APIBaseURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("DASHBOARD_API_URL must be an absolute URL")
	}
	if c.RequestTimeout <= 0 {
		return nil, fmt.Errorf("DASHBOARD_REQUEST_TIMEOUT must be positive")
	}

	return c, nil
}

func loadDotenv() {
	dotenvOnce.Do(func() { LoadEnvFiles(EnvFiles...) })
}

// LoadEnvFiles reads KEY=VALUE files into the process environment without
// overriding variables that are already set. Missing files are skipped.
func LoadEnvFiles(files ...string) {
	for _, file := range files {
		_ = godotenv.Load(file)
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key, fallback string) time.Duration {
	raw := getEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		fd, ferr := time.ParseDuration(fallback)
		if ferr != nil {
			panic(fmt.Sprintf("invalid fallback duration %q: %v", fallback, ferr))
		}
		return fd
	}
	return d
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
