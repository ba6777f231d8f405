package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Host  string
	Port  int
	Debug bool

	DBPath    string
	LogLevel  string
	LogFormat string

	PostgresEnabled  bool
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	MaxConcurrency int
	RateLimitMs    int
	MaxRetries     int
	PagesToScrape  int

	CSVOutputPath string
	ChromeBin     string
	USDRate       float64

	DefaultPageSize int
	MaxPageSize     int
	SearchMinLength int
	CORSOrigins     []string

	StaticDir string
	DocsDir   string

	SourcesFile string
	ZoningFile  string

	AggregateSchedule string
	ScrapeSchedule    string

	NominatimURL string
	GeocodeRPS   float64
}

// Load reads the .env file and returns a populated Config struct.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	return &Config{
		Host:  getEnv("HOST", "0.0.0.0"),
		Port:  getEnvInt("PORT", 8000),
		Debug: getEnvBool("DEBUG", false),

		DBPath:    getEnv("DB_PATH", "data/polpi.db"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),

		PostgresEnabled:  getEnvBool("POSTGRES_ENABLED", false),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "polpi"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "polpi"),
		PostgresDB:       getEnv("POSTGRES_DB", "polpi"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 3),
		RateLimitMs:    getEnvInt("RATE_LIMIT_MS", 2000),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		PagesToScrape:  getEnvInt("PAGES_TO_SCRAPE", 2),

		CSVOutputPath: getEnv("CSV_OUTPUT_PATH", "./output/raw_listings.csv"),
		ChromeBin:     getEnv("CHROME_BIN", ""),
		USDRate:       getEnvFloat("USD_RATE", 17.0),

		DefaultPageSize: getEnvInt("DEFAULT_PAGE_SIZE", 20),
		MaxPageSize:     getEnvInt("MAX_PAGE_SIZE", 100),
		SearchMinLength: getEnvInt("SEARCH_MIN_LENGTH", 3),
		CORSOrigins:     getEnvList("CORS_ORIGINS", []string{"*"}),

		StaticDir: getEnv("STATIC_DIR", "web"),
		DocsDir:   getEnv("DOCS_DIR", "docs"),

		SourcesFile: getEnv("SOURCES_FILE", ""),
		ZoningFile:  getEnv("ZONING_FILE", ""),

		AggregateSchedule: getEnv("AGGREGATE_SCHEDULE", "0 */6 * * *"),
		ScrapeSchedule:    getEnv("SCRAPE_SCHEDULE", ""),

		NominatimURL: getEnv("NOMINATIM_URL", "https://nominatim.openstreetmap.org"),
		GeocodeRPS:   getEnvFloat("GEOCODE_RPS", 1),
	}
}

// Addr returns the host:port the API listens on.
func (c *Config) Addr() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

// DSN returns the PostgreSQL connection string for the warehouse mirror.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		b, err := strconv.ParseBool(val)
		if err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
