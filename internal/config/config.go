// Package config provides centralized configuration for the WIP service
// family. Every setting is read from environment variables with sensible
// defaults; mains load a .env file first so deployments can ship one.
package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Default service ports.
const (
	DefaultProxyPort    = 4110
	DefaultLocationPort = 4109
	DefaultQueryPort    = 4111
	DefaultReportPort   = 4112
)

// ServerConfig contains the UDP listener settings shared by every service.
type ServerConfig struct {
	Host       string
	Port       int
	Workers    int
	BufferSize int
	Debug      bool
}

// AuthConfig contains per-service packet authentication settings,
// loaded from <SERVICE>_AUTH_ENABLED / _PASSPHRASE / _REQUEST_AUTH_ENABLED /
// _RESPONSE_AUTH_ENABLED.
type AuthConfig struct {
	Enabled             bool
	Passphrase          string
	RequestAuthEnabled  bool
	ResponseAuthEnabled bool
}

// RedisConfig contains the connection settings for the weather and
// report document store. PoolSize of zero means 2 × workers.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig contains the PostgreSQL settings for the polygon
// resolver backend used by the location service.
type DatabaseConfig struct {
	Host                  string
	Port                  int
	User                  string
	Password              string
	Database              string
	SSLMode               string
	MaxConnections        int
	MaxIdleConnections    int
	ConnectionMaxLifetime time.Duration
}

// ObservabilityConfig contains tracing and metrics settings.
type ObservabilityConfig struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string
	SampleRate     float64
}

// Endpoint is a downstream host:port pair.
type Endpoint struct {
	Host string
	Port int
}

// Addr joins an endpoint into a dialable "host:port" string.
func (e Endpoint) Addr() string {
	return e.Host + ":" + strconv.Itoa(e.Port)
}

// ProxyConfig is the weather proxy configuration: its own listener plus
// the downstream location and query endpoints.
type ProxyConfig struct {
	Server   ServerConfig
	Version  int
	Location Endpoint
	Query    Endpoint
}

// LocationConfig is the location service configuration.
type LocationConfig struct {
	Server    ServerConfig
	Auth      AuthConfig
	Version   int
	CacheSize int
	Database  DatabaseConfig
}

// QueryConfig is the query service configuration.
type QueryConfig struct {
	Server           ServerConfig
	Auth             AuthConfig
	Version          int
	Redis            RedisConfig
	CacheTTL         time.Duration
	UpdateTimes      []string
	RetryInterval    time.Duration
	HazardInterval   time.Duration
	RefreshOnStartup bool
}

// ReportConfig is the report service configuration.
type ReportConfig struct {
	Server        ServerConfig
	Auth          AuthConfig
	Version       int
	Redis         RedisConfig
	MaxReportSize int
	PersistReport bool
	Forward       *Endpoint
}

// ClientConfig is the client-side configuration: where the proxy and the
// direct endpoints live, plus the end-to-end timeout.
type ClientConfig struct {
	Proxy   Endpoint
	Query   Endpoint
	Report  Endpoint
	Version int
	Timeout time.Duration
	Auth    AuthConfig
}

// LoadProxy reads the weather proxy configuration from the environment.
//
// Returns:
//   - *ProxyConfig: Configuration with values from environment or defaults
func LoadProxy() *ProxyConfig {
	return &ProxyConfig{
		Server:  loadServer("WEATHER_SERVER", DefaultProxyPort),
		Version: getEnvAsInt("PROTOCOL_VERSION", 1),
		Location: Endpoint{
			Host: getEnv("LOCATION_RESOLVER_HOST", "localhost"),
			Port: getEnvAsInt("LOCATION_RESOLVER_PORT", DefaultLocationPort),
		},
		Query: Endpoint{
			Host: getEnv("QUERY_GENERATOR_HOST", getEnv("QUERY_SERVER_HOST", "localhost")),
			Port: getEnvAsInt("QUERY_GENERATOR_PORT", getEnvAsInt("QUERY_SERVER_PORT", DefaultQueryPort)),
		},
	}
}

// LoadLocation reads the location service configuration from the environment.
func LoadLocation() *LocationConfig {
	return &LocationConfig{
		Server:    loadServer("LOCATION_RESOLVER", DefaultLocationPort),
		Auth:      loadAuth("LOCATION_RESOLVER"),
		Version:   getEnvAsInt("PROTOCOL_VERSION", 1),
		CacheSize: getEnvAsInt("LOCATION_CACHE_SIZE", 1000),
		Database:  loadDatabase(),
	}
}

// LoadQuery reads the query service configuration from the environment.
func LoadQuery() *QueryConfig {
	return &QueryConfig{
		Server:           loadServer("QUERY_SERVER", DefaultQueryPort),
		Auth:             loadAuth("QUERY_SERVER"),
		Version:          getEnvAsInt("PROTOCOL_VERSION", 1),
		Redis:            loadRedis(),
		CacheTTL:         getEnvAsDuration("QUERY_CACHE_TTL", 10*time.Minute),
		UpdateTimes:      splitList(getEnv("WEATHER_UPDATE_TIMES", "03:00")),
		RetryInterval:    getEnvAsDuration("WEATHER_RETRY_INTERVAL", 10*time.Minute),
		HazardInterval:   getEnvAsDuration("HAZARD_UPDATE_INTERVAL", 10*time.Minute),
		RefreshOnStartup: getEnvAsBool("WEATHER_REFRESH_ON_STARTUP", true),
	}
}

// LoadReport reads the report service configuration from the environment.
func LoadReport() *ReportConfig {
	cfg := &ReportConfig{
		Server:        loadServer("REPORT_SERVER", DefaultReportPort),
		Auth:          loadAuth("REPORT_SERVER"),
		Version:       getEnvAsInt("PROTOCOL_VERSION", 1),
		Redis:         loadRedis(),
		MaxReportSize: getEnvAsInt("MAX_REPORT_SIZE", 4096),
		PersistReport: getEnvAsBool("REPORT_PERSIST_ENABLED", true),
	}

	if host := getEnv("REPORT_FORWARD_HOST", ""); host != "" {
		cfg.Forward = &Endpoint{
			Host: host,
			Port: getEnvAsInt("REPORT_FORWARD_PORT", DefaultReportPort),
		}
	}

	return cfg
}

// LoadClient reads the client-side configuration from the environment.
func LoadClient() *ClientConfig {
	return &ClientConfig{
		Proxy: Endpoint{
			Host: getEnv("WEATHER_SERVER_HOST", "localhost"),
			Port: getEnvAsInt("WEATHER_SERVER_PORT", DefaultProxyPort),
		},
		Query: Endpoint{
			Host: getEnv("QUERY_SERVER_HOST", "localhost"),
			Port: getEnvAsInt("QUERY_SERVER_PORT", DefaultQueryPort),
		},
		Report: Endpoint{
			Host: getEnv("REPORT_SERVER_HOST", "localhost"),
			Port: getEnvAsInt("REPORT_SERVER_PORT", DefaultReportPort),
		},
		Version: getEnvAsInt("PROTOCOL_VERSION", 1),
		Timeout: getEnvAsDuration("CLIENT_TIMEOUT", 10*time.Second),
		Auth:    loadAuth("CLIENT"),
	}
}

// LoadObservability reads tracing and metrics settings for a service.
func LoadObservability(serviceName string) ObservabilityConfig {
	return ObservabilityConfig{
		ServiceName:    serviceName,
		ServiceVersion: getEnv("VERSION", "1.0.0"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		SampleRate:     0.1,
	}
}

func loadServer(prefix string, defaultPort int) ServerConfig {
	return ServerConfig{
		Host:       getEnv(prefix+"_HOST", "0.0.0.0"),
		Port:       getEnvAsInt(prefix+"_PORT", defaultPort),
		Workers:    getEnvAsInt(prefix+"_WORKERS", runtime.NumCPU()*2),
		BufferSize: getEnvAsInt("UDP_BUFFER_SIZE", 4096),
		Debug:      getEnvAsBool("DEBUG", false),
	}
}

func loadAuth(prefix string) AuthConfig {
	return AuthConfig{
		Enabled:             getEnvAsBool(prefix+"_AUTH_ENABLED", false),
		Passphrase:          getEnv(prefix+"_PASSPHRASE", ""),
		RequestAuthEnabled:  getEnvAsBool(prefix+"_REQUEST_AUTH_ENABLED", false),
		ResponseAuthEnabled: getEnvAsBool(prefix+"_RESPONSE_AUTH_ENABLED", false),
	}
}

func loadRedis() RedisConfig {
	return RedisConfig{
		Addr:         getEnv("REDIS_ADDR", "localhost:6379"),
		Password:     getEnv("REDIS_PASSWORD", ""),
		DB:           getEnvAsInt("REDIS_DB", 0),
		PoolSize:     getEnvAsInt("REDIS_POOL_SIZE", 0),
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

func loadDatabase() DatabaseConfig {
	return DatabaseConfig{
		Host:                  getEnv("DB_HOST", "localhost"),
		Port:                  getEnvAsInt("DB_PORT", 5432),
		User:                  getEnv("DB_USER", "wip"),
		Password:              getEnv("DB_PASSWORD", ""),
		Database:              getEnv("DB_NAME", "weather_forecast_map"),
		SSLMode:               getEnv("DB_SSLMODE", "disable"),
		MaxConnections:        getEnvAsInt("DB_MAX_CONNECTIONS", 10),
		MaxIdleConnections:    getEnvAsInt("DB_MAX_IDLE_CONNECTIONS", 2),
		ConnectionMaxLifetime: 5 * time.Minute,
	}
}

// getEnv retrieves an environment variable value with a fallback default.
//
// Parameters:
//   - key: Environment variable name
//   - defaultValue: Value to use if variable is not set
//
// Returns:
//   - string: Environment value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer with a
// fallback default.
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}

	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean with a
// fallback default.
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}

	return defaultValue
}

// getEnvAsDuration retrieves an environment variable as a Go duration
// string with a fallback default.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}

	return defaultValue
}

// splitList splits a comma-separated setting into trimmed entries.
func splitList(value string) []string {
	var out []string

	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}

	return out
}
