package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/orderbridge/backend/internal/domain/ingestion"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Log       LogConfig
	Database  DatabaseConfig
	HTTP      HTTPConfig
	ERP       ERPConfig
	Archive   ArchiveConfig
	Ingestion IngestionConfig
	Sources   []SourceConfig
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// HTTPConfig holds status server configuration
type HTTPConfig struct {
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// ERPConfig holds the ERP order-creation endpoint settings
type ERPConfig struct {
	BaseURL           string
	Token             string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// ArchiveConfig holds the raw payload archive settings (S3-compatible)
type ArchiveConfig struct {
	Enabled      bool
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UseSSL       bool
	UsePathStyle bool
}

// IngestionConfig holds pipeline-wide ingestion settings
type IngestionConfig struct {
	// MaxConcurrentSources bounds how many sources cycle at once
	MaxConcurrentSources int
	// DefaultPollInterval applies to sources that do not set their own
	DefaultPollInterval time.Duration
	// MaxDeliveryAttempts before a record is dead-lettered
	MaxDeliveryAttempts int
	// RetryBackoffBase is the first retry delay; doubles per attempt
	RetryBackoffBase time.Duration
	// RetryBackoffCap bounds the exponential backoff
	RetryBackoffCap time.Duration
	// StaleClaimAfter is the window after which a CLAIMED ledger entry is
	// presumed crashed and reclaimable
	StaleClaimAfter time.Duration
	// DefaultCurrency applies to wire records without a currency code
	DefaultCurrency string
	// DefaultPhoneRegion interprets national-format phone numbers
	DefaultPhoneRegion string
	// ShippingLeadDays is the working-day lead time for estimated ship dates
	ShippingLeadDays int
}

// SourceConfig is the wire form of one partner source in config.toml
type SourceConfig struct {
	ID           string        `mapstructure:"id"`
	Kind         string        `mapstructure:"kind"`
	Format       string        `mapstructure:"format"`
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// SFTP parameters
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	KnownHostsPath string `mapstructure:"known_hosts_path"`
	Dir            string `mapstructure:"dir"`
	ArchiveDir     string `mapstructure:"archive_dir"`
	Pattern        string `mapstructure:"pattern"`

	// REST parameters
	BaseURL      string `mapstructure:"base_url"`
	Token        string `mapstructure:"token"`
	PageSize     int    `mapstructure:"page_size"`
	MarkConsumed bool   `mapstructure:"mark_consumed"`
}

// ToDescriptor converts the wire form into the domain source descriptor
func (s SourceConfig) ToDescriptor(defaultPollInterval time.Duration) ingestion.SourceDescriptor {
	pollInterval := s.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return ingestion.SourceDescriptor{
		ID:           s.ID,
		Kind:         ingestion.SourceKind(strings.ToUpper(s.Kind)),
		Format:       ingestion.WireFormat(strings.ToUpper(s.Format)),
		PollInterval: pollInterval,
		SFTP: ingestion.SFTPParams{
			Host:           s.Host,
			Port:           s.Port,
			User:           s.User,
			Password:       s.Password,
			PrivateKeyPath: s.PrivateKeyPath,
			KnownHostsPath: s.KnownHostsPath,
			Dir:            s.Dir,
			ArchiveDir:     s.ArchiveDir,
			Pattern:        s.Pattern,
		},
		REST: ingestion.RESTParams{
			BaseURL:      s.BaseURL,
			Token:        s.Token,
			PageSize:     s.PageSize,
			MarkConsumed: s.MarkConsumed,
		},
	}
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with ORDERBRIDGE_ prefix (e.g., ORDERBRIDGE_DATABASE_PASSWORD)
// 2. config.toml
// 3. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")
	v.AddConfigPath("./backend")
	v.AddConfigPath("/app")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults and env vars
	}

	v.SetEnvPrefix("ORDERBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:  v.GetDuration("http.read_timeout"),
			WriteTimeout: v.GetDuration("http.write_timeout"),
			IdleTimeout:  v.GetDuration("http.idle_timeout"),
		},
		ERP: ERPConfig{
			BaseURL:           v.GetString("erp.base_url"),
			Token:             v.GetString("erp.token"),
			Timeout:           v.GetDuration("erp.timeout"),
			RequestsPerSecond: v.GetFloat64("erp.requests_per_second"),
			Burst:             v.GetInt("erp.burst"),
		},
		Archive: ArchiveConfig{
			Enabled:      v.GetBool("archive.enabled"),
			Endpoint:     v.GetString("archive.endpoint"),
			Region:       v.GetString("archive.region"),
			Bucket:       v.GetString("archive.bucket"),
			AccessKey:    v.GetString("archive.access_key"),
			SecretKey:    v.GetString("archive.secret_key"),
			UseSSL:       v.GetBool("archive.use_ssl"),
			UsePathStyle: v.GetBool("archive.use_path_style"),
		},
		Ingestion: IngestionConfig{
			MaxConcurrentSources: v.GetInt("ingestion.max_concurrent_sources"),
			DefaultPollInterval:  v.GetDuration("ingestion.default_poll_interval"),
			MaxDeliveryAttempts:  v.GetInt("ingestion.max_delivery_attempts"),
			RetryBackoffBase:     v.GetDuration("ingestion.retry_backoff_base"),
			RetryBackoffCap:      v.GetDuration("ingestion.retry_backoff_cap"),
			StaleClaimAfter:      v.GetDuration("ingestion.stale_claim_after"),
			DefaultCurrency:      v.GetString("ingestion.default_currency"),
			DefaultPhoneRegion:   v.GetString("ingestion.default_phone_region"),
			ShippingLeadDays:     v.GetInt("ingestion.shipping_lead_days"),
		},
	}

	// Sources are a list of tables; viper's dotted getters don't reach into
	// them, so unmarshal the slice wholesale
	if err := v.UnmarshalKey("sources", &cfg.Sources); err != nil {
		return nil, fmt.Errorf("error parsing sources: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config) {
	if cfg.App.Name == "" {
		cfg.App.Name = "orderbridge"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Output == "" {
		cfg.Log.Output = "stdout"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "orderbridge"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 60
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = 30
	}
	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 15 * time.Second
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.ERP.Timeout == 0 {
		cfg.ERP.Timeout = 30 * time.Second
	}
	if cfg.ERP.Burst == 0 {
		cfg.ERP.Burst = 1
	}
	if cfg.Ingestion.MaxConcurrentSources == 0 {
		cfg.Ingestion.MaxConcurrentSources = 4
	}
	if cfg.Ingestion.DefaultPollInterval == 0 {
		cfg.Ingestion.DefaultPollInterval = time.Minute
	}
	if cfg.Ingestion.MaxDeliveryAttempts == 0 {
		cfg.Ingestion.MaxDeliveryAttempts = 8
	}
	if cfg.Ingestion.RetryBackoffBase == 0 {
		cfg.Ingestion.RetryBackoffBase = 30 * time.Second
	}
	if cfg.Ingestion.RetryBackoffCap == 0 {
		cfg.Ingestion.RetryBackoffCap = 30 * time.Minute
	}
	if cfg.Ingestion.StaleClaimAfter == 0 {
		cfg.Ingestion.StaleClaimAfter = 10 * time.Minute
	}
	if cfg.Ingestion.DefaultCurrency == "" {
		cfg.Ingestion.DefaultCurrency = "EUR"
	}
	if cfg.Ingestion.DefaultPhoneRegion == "" {
		cfg.Ingestion.DefaultPhoneRegion = "DE"
	}
	if cfg.Ingestion.ShippingLeadDays == 0 {
		cfg.Ingestion.ShippingLeadDays = 3
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c.Database.MaxOpenConns <= 0 {
		return fmt.Errorf("database.max_open_conns must be positive")
	}
	if c.Database.MaxIdleConns < 0 {
		return fmt.Errorf("database.max_idle_conns cannot be negative")
	}
	if c.Database.MaxIdleConns > c.Database.MaxOpenConns {
		return fmt.Errorf("database.max_idle_conns (%d) cannot exceed database.max_open_conns (%d)",
			c.Database.MaxIdleConns, c.Database.MaxOpenConns)
	}

	if c.Ingestion.RetryBackoffBase > c.Ingestion.RetryBackoffCap {
		return fmt.Errorf("ingestion.retry_backoff_base cannot exceed ingestion.retry_backoff_cap")
	}

	seen := make(map[string]struct{}, len(c.Sources))
	for i, src := range c.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d].id is required", i)
		}
		if _, dup := seen[src.ID]; dup {
			return fmt.Errorf("duplicate source id %q", src.ID)
		}
		seen[src.ID] = struct{}{}

		kind := ingestion.SourceKind(strings.ToUpper(src.Kind))
		if !kind.IsValid() {
			return fmt.Errorf("sources[%d].kind must be SFTP or REST, got %q", i, src.Kind)
		}
		format := ingestion.WireFormat(strings.ToUpper(src.Format))
		if format != ingestion.WireFormatEDI && format != ingestion.WireFormatJSON {
			return fmt.Errorf("sources[%d].format must be EDI or JSON, got %q", i, src.Format)
		}
	}

	// Production-specific validations
	if c.App.Env == "production" {
		if c.Database.Password == "" {
			return fmt.Errorf("database.password is required in production")
		}
		if c.Database.SSLMode == "disable" {
			return fmt.Errorf("database.sslmode cannot be 'disable' in production")
		}
		if c.ERP.BaseURL == "" {
			return fmt.Errorf("erp.base_url is required in production")
		}
		if c.ERP.Token == "" {
			return fmt.Errorf("erp.token is required in production")
		}
		if c.Archive.Enabled && (c.Archive.AccessKey == "" || c.Archive.SecretKey == "") {
			return fmt.Errorf("archive credentials are required when the archive is enabled in production")
		}
	}

	return nil
}

// DSN returns the database connection string with properly escaped values
func (d *DatabaseConfig) DSN() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   d.DBName,
	}
	q := u.Query()
	q.Set("sslmode", d.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Descriptors returns the domain source descriptors for all configured sources
func (c *Config) Descriptors() []ingestion.SourceDescriptor {
	descriptors := make([]ingestion.SourceDescriptor, 0, len(c.Sources))
	for _, src := range c.Sources {
		descriptors = append(descriptors, src.ToDescriptor(c.Ingestion.DefaultPollInterval))
	}
	return descriptors
}
