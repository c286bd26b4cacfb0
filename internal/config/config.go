package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/timmy/ipenrich/internal/classifier"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Lookup     LookupConfig     `mapstructure:"lookup"`
	Enrichment EnrichmentConfig `mapstructure:"enrichment"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	MaxUploadMB     int64         `mapstructure:"max_upload_mb"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// DatabaseConfig selects the job store. Driver "memory" keeps everything in
// process and loses it on restart.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, postgres, memory
	Path   string `mapstructure:"path"`   // sqlite file

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogQueries      bool          `mapstructure:"log_queries"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	switch c.Driver {
	case "postgres":
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(c.User, c.Password),
			Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
			Path:     "/" + c.DBName,
			RawQuery: "sslmode=" + c.SSLMode,
		}
		return u.String()
	default:
		// Immediate transactions take the write lock at BEGIN so the busy
		// timeout applies instead of failing a mid-transaction lock upgrade.
		return c.Path + "?_busy_timeout=5000&_txlock=immediate"
	}
}

// StorageConfig holds object storage settings for uploads and artifacts.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // local, s3, r2, s3compatible
	Dir       string `mapstructure:"dir"`  // local root directory
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
}

// LookupConfig configures the geolocation provider and reverse DNS.
type LookupConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	DNSTimeout time.Duration `mapstructure:"dns_timeout"`
	Retries    int           `mapstructure:"retries"`
	RateLimit  int           `mapstructure:"rate_limit"`
	RateWindow time.Duration `mapstructure:"rate_window"`
}

// EnrichmentConfig tunes the batch pipeline.
type EnrichmentConfig struct {
	BatchSize           int           `mapstructure:"batch_size"`
	FlushRetries        int           `mapstructure:"flush_retries"`
	FlushBackoff        time.Duration `mapstructure:"flush_backoff"`
	MaxPendingRows      int           `mapstructure:"max_pending_rows"`
	MaxConcurrentJobs   int           `mapstructure:"max_concurrent_jobs"`
	AllowIPv6           bool          `mapstructure:"allow_ipv6"`
	ConsumerISPKeywords []string      `mapstructure:"consumer_isp_keywords"`
	TempDir             string        `mapstructure:"temp_dir"`
}

// Load reads configuration from configPath (or ./configs/config.yaml), a
// .env file and the environment, in increasing priority.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.BindEnv("database.password", "DATABASE_PASSWORD", "PGPASSWORD")
	v.BindEnv("storage.access_key", "STORAGE_ACCESS_KEY", "AWS_ACCESS_KEY_ID")
	v.BindEnv("storage.secret_key", "STORAGE_SECRET_KEY", "AWS_SECRET_ACCESS_KEY")
	v.BindEnv("lookup.base_url", "LOOKUP_BASE_URL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.max_upload_mb", 256)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/ipenrich.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.dir", "./data/objects")
	v.SetDefault("storage.bucket", "ipenrich")
	v.SetDefault("storage.region", "us-east-1")

	v.SetDefault("lookup.base_url", "http://ip-api.com")
	v.SetDefault("lookup.timeout", 5*time.Second)
	v.SetDefault("lookup.dns_timeout", 2*time.Second)
	v.SetDefault("lookup.retries", 2)
	v.SetDefault("lookup.rate_limit", 45)
	v.SetDefault("lookup.rate_window", time.Minute)

	v.SetDefault("enrichment.batch_size", 100)
	v.SetDefault("enrichment.flush_retries", 3)
	v.SetDefault("enrichment.flush_backoff", 500*time.Millisecond)
	v.SetDefault("enrichment.max_pending_rows", 10000)
	v.SetDefault("enrichment.max_concurrent_jobs", 4)
	v.SetDefault("enrichment.allow_ipv6", false)
	v.SetDefault("enrichment.consumer_isp_keywords", classifier.DefaultKeywords)
	v.SetDefault("enrichment.temp_dir", "")
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}
	switch c.Storage.Type {
	case "local":
		if c.Storage.Dir == "" {
			return fmt.Errorf("storage.dir is required for local storage")
		}
	case "s3", "r2", "s3compatible":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket is required for %s storage", c.Storage.Type)
		}
	default:
		return fmt.Errorf("storage.type: unknown type %q", c.Storage.Type)
	}
	if c.Lookup.BaseURL == "" {
		return fmt.Errorf("lookup.base_url is required")
	}
	if c.Lookup.RateLimit <= 0 || c.Lookup.RateWindow <= 0 {
		return fmt.Errorf("lookup.rate_limit and lookup.rate_window must be positive")
	}
	if c.Lookup.Retries < 0 {
		return fmt.Errorf("lookup.retries must not be negative")
	}
	if c.Enrichment.BatchSize <= 0 {
		return fmt.Errorf("enrichment.batch_size must be positive")
	}
	if c.Enrichment.FlushRetries < 0 {
		return fmt.Errorf("enrichment.flush_retries must not be negative")
	}
	if c.Enrichment.MaxPendingRows < c.Enrichment.BatchSize {
		return fmt.Errorf("enrichment.max_pending_rows (%d) must be at least batch_size (%d)",
			c.Enrichment.MaxPendingRows, c.Enrichment.BatchSize)
	}
	if c.Enrichment.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("enrichment.max_concurrent_jobs must be positive")
	}
	return nil
}
