package config

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	HTTP      HTTPConfig
	Telemetry TelemetryConfig
	Profiling ProfilingConfig
	Jobber    JobberConfig
	OAuth     OAuthConfig
	Accounts  AccountsConfig
	Sync      SyncConfig
	Scheduler SchedulerConfig
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// AppConfig holds application-specific settings
type AppConfig struct {
	Name string
	Env  string
	Port string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver          string // postgres or sqlite
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	Path            string // sqlite file path, ":memory:" for tests
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // in minutes
	ConnMaxIdleTime int // in minutes
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// HTTPConfig holds control API server configuration
type HTTPConfig struct {
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	TrustedProxies []string
}

// TelemetryConfig holds OpenTelemetry configuration
type TelemetryConfig struct {
	Enabled           bool    // Whether to enable OpenTelemetry
	CollectorEndpoint string  // OTEL Collector endpoint (e.g., "localhost:4317")
	SamplingRatio     float64 // Sampling ratio (0.0-1.0, 1.0 = 100%)
	ServiceName       string  // Service name for traces
	Insecure          bool    // Use insecure (non-TLS) connection (development only)
	MetricsEnabled    bool    // Expose prometheus metrics on /metrics
	LogsEnabled       bool    // Export logs over OTLP next to the local output
	// Database tracing options
	DBTraceEnabled    bool          // Enable database query tracing (otelgorm)
	DBLogFullSQL      bool          // Log full SQL statements (dev only)
	DBSlowQueryThresh time.Duration // Slow query threshold for warnings (default: 200ms)
}

// ProfilingConfig holds Pyroscope continuous profiling settings
type ProfilingConfig struct {
	Enabled           bool
	ServerAddress     string // e.g. http://pyroscope:4040
	ApplicationName   string
	BasicAuthUser     string
	BasicAuthPassword string
}

// JobberConfig holds the external GraphQL API client settings
type JobberConfig struct {
	APIURL                   string
	APIVersion               string
	Timeout                  time.Duration
	MaxResponseSize          int64
	LowWater                 float64 // throttle budget kept in reserve before each request
	RateLimitRetries         int
	RateLimitDefaultWait     time.Duration
	MaxTransientRetries      int
	TransientInitialInterval time.Duration
	CustomerPageSize         int
	ItemPageSize             int
	InvoicePageSize          int
	PaymentPageSize          int
	CustomerCost             float64 // estimated query cost per page
	ItemCost                 float64
	InvoiceCost              float64
	PaymentCost              float64
}

// OAuthConfig holds the credential exchange settings
type OAuthConfig struct {
	ClientID      string
	ClientSecret  string
	AuthURL       string
	TokenURL      string
	RedirectURI   string
	RefreshMargin time.Duration
	StateTTL      time.Duration
}

// AccountsConfig holds the posting account codes
type AccountsConfig struct {
	AccountsReceivable   string
	DepositClearing      string
	Cash                 string
	TaxableRevenue       string
	NontaxableRevenue    string
	TaxPayable           string
	DirectDepositMethods []string
	CategoryTaxability   map[string]bool
}

// SyncConfig holds orchestrator settings
type SyncConfig struct {
	Scopes            []string
	RecordConcurrency int
	LockBackend       string // memory or redis
	LockTTL           time.Duration
	LockRetryInterval time.Duration
	LockRetryTimeout  time.Duration
	RecordErrorLimit  int // per-run cap on persisted RecordError rows
}

// SchedulerConfig holds the periodic sync scheduler configuration
type SchedulerConfig struct {
	Enabled             bool
	Interval            time.Duration
	MaxConcurrentScopes int
	RunTimeout          time.Duration
	RetryAttempts       int
	RetryDelay          time.Duration
	LookbackWindow      time.Duration
}

// Load loads configuration from TOML file and environment variables
// Priority (highest to lowest):
// 1. Environment variables with LEDGERSYNC_ prefix (e.g., LEDGERSYNC_OAUTH_CLIENT_SECRET)
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

	v.SetEnvPrefix("LEDGERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return build(v)
}

// build maps viper keys onto Config, applies defaults and validates
func build(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		App: AppConfig{
			Name: v.GetString("app.name"),
			Env:  v.GetString("app.env"),
			Port: v.GetString("app.port"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("database.driver"),
			Host:            v.GetString("database.host"),
			Port:            v.GetInt("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			DBName:          v.GetString("database.dbname"),
			SSLMode:         v.GetString("database.sslmode"),
			Path:            v.GetString("database.path"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetInt("database.conn_max_lifetime"),
			ConnMaxIdleTime: v.GetInt("database.conn_max_idle_time"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetInt("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
		HTTP: HTTPConfig{
			ReadTimeout:    v.GetDuration("http.read_timeout"),
			WriteTimeout:   v.GetDuration("http.write_timeout"),
			IdleTimeout:    v.GetDuration("http.idle_timeout"),
			MaxHeaderBytes: v.GetInt("http.max_header_bytes"),
			TrustedProxies: v.GetStringSlice("http.trusted_proxies"),
		},
		Telemetry: TelemetryConfig{
			Enabled:           v.GetBool("telemetry.enabled"),
			CollectorEndpoint: v.GetString("telemetry.collector_endpoint"),
			SamplingRatio:     v.GetFloat64("telemetry.sampling_ratio"),
			ServiceName:       v.GetString("telemetry.service_name"),
			Insecure:          v.GetBool("telemetry.insecure"),
			MetricsEnabled:    v.GetBool("telemetry.metrics_enabled"),
			LogsEnabled:       v.GetBool("telemetry.logs_enabled"),
			DBTraceEnabled:    v.GetBool("telemetry.db_trace_enabled"),
			DBLogFullSQL:      v.GetBool("telemetry.db_log_full_sql"),
			DBSlowQueryThresh: v.GetDuration("telemetry.db_slow_query_threshold"),
		},
		Profiling: ProfilingConfig{
			Enabled:           v.GetBool("profiling.enabled"),
			ServerAddress:     v.GetString("profiling.server_address"),
			ApplicationName:   v.GetString("profiling.application_name"),
			BasicAuthUser:     v.GetString("profiling.basic_auth_user"),
			BasicAuthPassword: v.GetString("profiling.basic_auth_password"),
		},
		Jobber: JobberConfig{
			APIURL:                   v.GetString("jobber.api_url"),
			APIVersion:               v.GetString("jobber.api_version"),
			Timeout:                  v.GetDuration("jobber.timeout"),
			MaxResponseSize:          v.GetInt64("jobber.max_response_size"),
			LowWater:                 v.GetFloat64("jobber.low_water"),
			RateLimitRetries:         v.GetInt("jobber.rate_limit_retries"),
			RateLimitDefaultWait:     v.GetDuration("jobber.rate_limit_default_wait"),
			MaxTransientRetries:      v.GetInt("jobber.max_transient_retries"),
			TransientInitialInterval: v.GetDuration("jobber.transient_initial_interval"),
			CustomerPageSize:         v.GetInt("jobber.customer_page_size"),
			ItemPageSize:             v.GetInt("jobber.item_page_size"),
			InvoicePageSize:          v.GetInt("jobber.invoice_page_size"),
			PaymentPageSize:          v.GetInt("jobber.payment_page_size"),
			CustomerCost:             v.GetFloat64("jobber.customer_cost"),
			ItemCost:                 v.GetFloat64("jobber.item_cost"),
			InvoiceCost:              v.GetFloat64("jobber.invoice_cost"),
			PaymentCost:              v.GetFloat64("jobber.payment_cost"),
		},
		OAuth: OAuthConfig{
			ClientID:      v.GetString("oauth.client_id"),
			ClientSecret:  v.GetString("oauth.client_secret"),
			AuthURL:       v.GetString("oauth.auth_url"),
			TokenURL:      v.GetString("oauth.token_url"),
			RedirectURI:   v.GetString("oauth.redirect_uri"),
			RefreshMargin: v.GetDuration("oauth.refresh_margin"),
			StateTTL:      v.GetDuration("oauth.state_ttl"),
		},
		Accounts: AccountsConfig{
			AccountsReceivable:   v.GetString("accounts.ar"),
			DepositClearing:      v.GetString("accounts.deposit_clearing"),
			Cash:                 v.GetString("accounts.cash"),
			TaxableRevenue:       v.GetString("accounts.taxable_revenue"),
			NontaxableRevenue:    v.GetString("accounts.nontaxable_revenue"),
			TaxPayable:           v.GetString("accounts.tax_payable"),
			DirectDepositMethods: v.GetStringSlice("accounts.direct_deposit_methods"),
			CategoryTaxability:   boolMap(v.GetStringMap("accounts.category_taxability")),
		},
		Sync: SyncConfig{
			Scopes:            v.GetStringSlice("sync.scopes"),
			RecordConcurrency: v.GetInt("sync.record_concurrency"),
			LockBackend:       v.GetString("sync.lock_backend"),
			LockTTL:           v.GetDuration("sync.lock_ttl"),
			LockRetryInterval: v.GetDuration("sync.lock_retry_interval"),
			LockRetryTimeout:  v.GetDuration("sync.lock_retry_timeout"),
			RecordErrorLimit:  v.GetInt("sync.record_error_limit"),
		},
		Scheduler: SchedulerConfig{
			Enabled:             v.GetBool("scheduler.enabled"),
			Interval:            v.GetDuration("scheduler.interval"),
			MaxConcurrentScopes: v.GetInt("scheduler.max_concurrent_scopes"),
			RunTimeout:          v.GetDuration("scheduler.run_timeout"),
			RetryAttempts:       v.GetInt("scheduler.retry_attempts"),
			RetryDelay:          v.GetDuration("scheduler.retry_delay"),
			LookbackWindow:      v.GetDuration("scheduler.lookback_window"),
		},
	}

	// an explicit record_concurrency is validated as given; only an unset one gets the default
	applyDefaults(cfg, v.IsSet("sync.record_concurrency"))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets default values for any empty config fields
func applyDefaults(cfg *Config, recordConcurrencySet bool) {
	if cfg.App.Name == "" {
		cfg.App.Name = "ledgersync"
	}
	if cfg.App.Env == "" {
		cfg.App.Env = "development"
	}
	if cfg.App.Port == "" {
		cfg.App.Port = "8080"
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPostgres
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
		cfg.Database.DBName = "ledgersync"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "ledgersync.db"
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

	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
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

	if cfg.HTTP.ReadTimeout == 0 {
		cfg.HTTP.ReadTimeout = 15 * time.Second
	}
	// a full stage run can outlast the default read timeout
	if cfg.HTTP.WriteTimeout == 0 {
		cfg.HTTP.WriteTimeout = 10 * time.Minute
	}
	if cfg.HTTP.IdleTimeout == 0 {
		cfg.HTTP.IdleTimeout = 60 * time.Second
	}
	if cfg.HTTP.MaxHeaderBytes == 0 {
		cfg.HTTP.MaxHeaderBytes = 1 << 20 // 1MB
	}

	if cfg.Telemetry.CollectorEndpoint == "" {
		cfg.Telemetry.CollectorEndpoint = "localhost:4317"
	}
	if cfg.Telemetry.SamplingRatio == 0 {
		cfg.Telemetry.SamplingRatio = 1.0
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "ledgersync"
	}
	if cfg.Telemetry.DBSlowQueryThresh == 0 {
		cfg.Telemetry.DBSlowQueryThresh = 200 * time.Millisecond
	}
	if cfg.Profiling.ApplicationName == "" {
		cfg.Profiling.ApplicationName = cfg.Telemetry.ServiceName
	}

	applyJobberDefaults(&cfg.Jobber)

	if cfg.OAuth.AuthURL == "" {
		cfg.OAuth.AuthURL = "https://api.getjobber.com/api/oauth/authorize"
	}
	if cfg.OAuth.TokenURL == "" {
		cfg.OAuth.TokenURL = "https://api.getjobber.com/api/oauth/token"
	}
	if cfg.OAuth.RefreshMargin == 0 {
		cfg.OAuth.RefreshMargin = 60 * time.Second
	}
	if cfg.OAuth.StateTTL == 0 {
		cfg.OAuth.StateTTL = 10 * time.Minute
	}

	if cfg.Accounts.AccountsReceivable == "" {
		cfg.Accounts.AccountsReceivable = "1010"
	}
	if cfg.Accounts.DepositClearing == "" {
		cfg.Accounts.DepositClearing = "1024"
	}
	if cfg.Accounts.Cash == "" {
		cfg.Accounts.Cash = "1000"
	}
	if cfg.Accounts.TaxableRevenue == "" {
		cfg.Accounts.TaxableRevenue = "4024"
	}
	if cfg.Accounts.NontaxableRevenue == "" {
		cfg.Accounts.NontaxableRevenue = "4025"
	}
	if cfg.Accounts.TaxPayable == "" {
		cfg.Accounts.TaxPayable = "2011"
	}
	if len(cfg.Accounts.DirectDepositMethods) == 0 {
		cfg.Accounts.DirectDepositMethods = []string{
			"JobberPaymentsCreditCardPaymentRecord",
			"JobberPaymentsACHPaymentRecord",
		}
	}
	if cfg.Accounts.CategoryTaxability == nil {
		cfg.Accounts.CategoryTaxability = map[string]bool{}
	}

	if !recordConcurrencySet {
		cfg.Sync.RecordConcurrency = 8
	}
	if cfg.Sync.LockBackend == "" {
		cfg.Sync.LockBackend = LockBackendMemory
	}
	if cfg.Sync.LockTTL == 0 {
		cfg.Sync.LockTTL = 30 * time.Second
	}
	if cfg.Sync.LockRetryInterval == 0 {
		cfg.Sync.LockRetryInterval = 50 * time.Millisecond
	}
	if cfg.Sync.LockRetryTimeout == 0 {
		cfg.Sync.LockRetryTimeout = 30 * time.Second
	}
	if cfg.Sync.RecordErrorLimit == 0 {
		cfg.Sync.RecordErrorLimit = 500
	}

	if cfg.Scheduler.Interval == 0 {
		cfg.Scheduler.Interval = time.Hour
	}
	if cfg.Scheduler.MaxConcurrentScopes == 0 {
		cfg.Scheduler.MaxConcurrentScopes = 2
	}
	if cfg.Scheduler.RunTimeout == 0 {
		cfg.Scheduler.RunTimeout = 30 * time.Minute
	}
	if cfg.Scheduler.RetryAttempts == 0 {
		cfg.Scheduler.RetryAttempts = 3
	}
	if cfg.Scheduler.RetryDelay == 0 {
		cfg.Scheduler.RetryDelay = 5 * time.Minute
	}
}

// applyJobberDefaults fills the API client settings; invoice pages stay small because of query cost
func applyJobberDefaults(j *JobberConfig) {
	if j.APIURL == "" {
		j.APIURL = "https://api.getjobber.com/api/graphql"
	}
	if j.APIVersion == "" {
		j.APIVersion = "2025-04-16"
	}
	if j.Timeout == 0 {
		j.Timeout = 30 * time.Second
	}
	if j.MaxResponseSize == 0 {
		j.MaxResponseSize = 10 << 20 // 10MB
	}
	if j.LowWater == 0 {
		j.LowWater = 500
	}
	if j.RateLimitRetries == 0 {
		j.RateLimitRetries = 3
	}
	if j.RateLimitDefaultWait == 0 {
		j.RateLimitDefaultWait = 10 * time.Second
	}
	if j.MaxTransientRetries == 0 {
		j.MaxTransientRetries = 4
	}
	if j.TransientInitialInterval == 0 {
		j.TransientInitialInterval = 500 * time.Millisecond
	}
	if j.CustomerPageSize == 0 {
		j.CustomerPageSize = 50
	}
	if j.ItemPageSize == 0 {
		j.ItemPageSize = 100
	}
	if j.InvoicePageSize == 0 {
		j.InvoicePageSize = 10
	}
	if j.PaymentPageSize == 0 {
		j.PaymentPageSize = 50
	}
	if j.CustomerCost == 0 {
		j.CustomerCost = 300
	}
	if j.ItemCost == 0 {
		j.ItemCost = 200
	}
	if j.InvoiceCost == 0 {
		j.InvoiceCost = 1500
	}
	if j.PaymentCost == 0 {
		j.PaymentCost = 300
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database.driver must be %q or %q, got %q", DriverPostgres, DriverSQLite, c.Database.Driver)
	}
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

	if c.Sync.RecordConcurrency <= 0 {
		return fmt.Errorf("sync.record_concurrency must be positive, got %d", c.Sync.RecordConcurrency)
	}
	switch c.Sync.LockBackend {
	case LockBackendMemory, LockBackendRedis:
	default:
		return fmt.Errorf("sync.lock_backend must be %q or %q, got %q", LockBackendMemory, LockBackendRedis, c.Sync.LockBackend)
	}

	if c.Jobber.RateLimitRetries < 0 || c.Jobber.MaxTransientRetries < 0 {
		return fmt.Errorf("jobber retry counts cannot be negative")
	}
	if c.Jobber.LowWater < 0 {
		return fmt.Errorf("jobber.low_water cannot be negative")
	}

	missing := make([]string, 0)
	for key, code := range map[string]string{
		"accounts.ar":                 c.Accounts.AccountsReceivable,
		"accounts.deposit_clearing":   c.Accounts.DepositClearing,
		"accounts.cash":               c.Accounts.Cash,
		"accounts.taxable_revenue":    c.Accounts.TaxableRevenue,
		"accounts.nontaxable_revenue": c.Accounts.NontaxableRevenue,
		"accounts.tax_payable":        c.Accounts.TaxPayable,
	} {
		if strings.TrimSpace(code) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("missing account codes: %s", strings.Join(missing, ", "))
	}

	if c.App.Env == "production" {
		if c.OAuth.ClientSecret == "" {
			return fmt.Errorf("oauth.client_secret is required in production")
		}
		if c.Database.Driver == DriverPostgres {
			if c.Database.Password == "" {
				return fmt.Errorf("database.password is required in production")
			}
			if c.Database.SSLMode == "disable" {
				return fmt.Errorf("database.sslmode cannot be 'disable' in production")
			}
		}
		if c.Telemetry.DBLogFullSQL {
			return fmt.Errorf("telemetry.db_log_full_sql must be false in production to prevent sensitive data exposure in traces")
		}
	}

	if c.Telemetry.SamplingRatio < 0.0 || c.Telemetry.SamplingRatio > 1.0 {
		return fmt.Errorf("telemetry.sampling_ratio must be between 0.0 and 1.0, got %f", c.Telemetry.SamplingRatio)
	}
	return nil
}

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Lock backends
const (
	LockBackendMemory = "memory"
	LockBackendRedis  = "redis"
)

// DSN returns the database connection string with properly escaped values.
// For sqlite it is the file path.
func (d *DatabaseConfig) DSN() string {
	if d.Driver == DriverSQLite {
		return d.Path
	}
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

// boolMap converts a viper string map into category -> taxable flags; unparsable values are dropped
func boolMap(raw map[string]any) map[string]bool {
	out := make(map[string]bool, len(raw))
	for k, val := range raw {
		b, err := strconv.ParseBool(fmt.Sprint(val))
		if err != nil {
			continue
		}
		out[k] = b
	}
	return out
}
