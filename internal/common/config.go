package common

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Service names accepted in [server].services / API_SERVICES.
const (
	ServiceDatabrowser = "databrowser"
	ServiceZarrStream  = "zarr-stream"
	ServiceStacAPI     = "stacapi"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Solr    SolrConfig    `toml:"solr"`
	Mongo   MongoConfig   `toml:"mongo"`
	Redis   RedisConfig   `toml:"redis"`
	OIDC    OIDCConfig    `toml:"oidc"`
	Cache   CacheConfig   `toml:"cache"`
	Stats   StatsConfig   `toml:"stats"`
	Logging LoggingConfig `toml:"logging"`
	Debug   bool          `toml:"debug"`
}

type ServerConfig struct {
	Port     int      `toml:"port"`
	Host     string   `toml:"host"`
	Workers  int      `toml:"workers"`   // advisory; the server is goroutine-per-request either way
	URL      string   `toml:"url"`       // externally visible base URL (scheme://host[:port])
	Proxy    string   `toml:"proxy"`     // path prefix the service is mounted under
	Services []string `toml:"services"`  // subset of {databrowser, zarr-stream, stacapi}; empty = all
	StacRate float64  `toml:"stac_rate"` // requests/second limit on /stacapi; 0 disables
}

type SolrConfig struct {
	Host string `toml:"host"` // host[:port] of the Solr instance
	Core string `toml:"core"` // multi-version core name
}

type MongoConfig struct {
	Host     string `toml:"host"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	DB       string `toml:"db"`
}

type RedisConfig struct {
	Host        string `toml:"host"`
	User        string `toml:"user"`
	Password    string `toml:"password"`
	SSLCertfile string `toml:"ssl_certfile"`
	SSLKeyfile  string `toml:"ssl_keyfile"`
}

type OIDCConfig struct {
	DiscoveryURL string            `toml:"discovery_url"`
	ClientID     string            `toml:"client_id"`
	ClientSecret string            `toml:"client_secret"`
	TokenClaims  map[string]string `toml:"token_claims"` // claim path -> pattern, all must match
	AdminClaims  map[string]string `toml:"admin_claims"` // claim path -> pattern, any grants admin
	AuthPorts    []int             `toml:"auth_ports"`   // localhost ports accepted as redirect targets
	RedirectURIs []string          `toml:"redirect_uris"`
}

type CacheConfig struct {
	ExpSeconds int    `toml:"exp"`        // default TTL for zarr jobs and chunk blobs
	SigningKey string `toml:"secret_key"` // HMAC key for share URLs
}

type StatsConfig struct {
	QueueSize int `toml:"queue_size"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// NewDefaultConfig returns a config populated with development defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     7777,
			Host:     "0.0.0.0",
			Workers:  8,
			URL:      "http://localhost:7777",
			Proxy:    "/api/freva-nextgen",
			Services: []string{ServiceDatabrowser, ServiceZarrStream, ServiceStacAPI},
		},
		Solr: SolrConfig{
			Host: "localhost:8983",
			Core: "files",
		},
		Mongo: MongoConfig{
			Host: "localhost:27017",
			DB:   "search_stats",
		},
		Redis: RedisConfig{
			Host: "redis://localhost:6379",
		},
		OIDC: OIDCConfig{
			DiscoveryURL: "http://localhost:8080/realms/freva/.well-known/openid-configuration",
			ClientID:     "freva",
			AuthPorts:    []int{54321, 54322, 54323},
		},
		Cache: CacheConfig{
			ExpSeconds: 86400,
		},
		Stats: StatsConfig{
			QueueSize: 4096,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
	}
}

// LoadFromFiles loads configuration: defaults -> file1 -> file2 -> ... -> env.
// Later config files override earlier ones; environment variables override all
// files. API_CONFIG names an additional file loaded after the explicit ones.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	if extra := os.Getenv("API_CONFIG"); extra != "" {
		paths = append(paths, extra)
	}

	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies API_* environment variable overrides to config.
func applyEnvOverrides(config *Config) {
	if port := os.Getenv("API_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if workers := os.Getenv("API_WORKER"); workers != "" {
		if w, err := strconv.Atoi(workers); err == nil {
			config.Server.Workers = w
		}
	}
	if url := os.Getenv("API_URL"); url != "" {
		config.Server.URL = url
	}
	if proxy := os.Getenv("API_PROXY"); proxy != "" {
		config.Server.Proxy = proxy
	}
	if services := os.Getenv("API_SERVICES"); services != "" {
		config.Server.Services = splitAndTrim(services)
	}
	if exp := os.Getenv("API_CACHE_EXP"); exp != "" {
		if e, err := strconv.Atoi(exp); err == nil {
			config.Cache.ExpSeconds = e
		}
	}

	if host := os.Getenv("API_MONGO_HOST"); host != "" {
		config.Mongo.Host = host
	}
	if user := os.Getenv("API_MONGO_USER"); user != "" {
		config.Mongo.User = user
	}
	if password := os.Getenv("API_MONGO_PASSWORD"); password != "" {
		config.Mongo.Password = password
	}
	if db := os.Getenv("API_MONGO_DB"); db != "" {
		config.Mongo.DB = db
	}

	if host := os.Getenv("API_SOLR_HOST"); host != "" {
		config.Solr.Host = host
	}
	if core := os.Getenv("API_SOLR_CORE"); core != "" {
		config.Solr.Core = core
	}

	if host := os.Getenv("API_REDIS_HOST"); host != "" {
		config.Redis.Host = host
	}
	if user := os.Getenv("API_REDIS_USER"); user != "" {
		config.Redis.User = user
	}
	if password := os.Getenv("API_REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	if certfile := os.Getenv("API_REDIS_SSL_CERTFILE"); certfile != "" {
		config.Redis.SSLCertfile = certfile
	}
	if keyfile := os.Getenv("API_REDIS_SSL_KEYFILE"); keyfile != "" {
		config.Redis.SSLKeyfile = keyfile
	}

	if discovery := os.Getenv("API_OIDC_DISCOVERY_URL"); discovery != "" {
		config.OIDC.DiscoveryURL = discovery
	}
	if clientID := os.Getenv("API_OIDC_CLIENT_ID"); clientID != "" {
		config.OIDC.ClientID = clientID
	}
	if clientSecret := os.Getenv("API_OIDC_CLIENT_SECRET"); clientSecret != "" {
		config.OIDC.ClientSecret = clientSecret
	}
	if claims := os.Getenv("API_OIDC_TOKEN_CLAIMS"); claims != "" {
		parsed := map[string]string{}
		if err := json.Unmarshal([]byte(claims), &parsed); err == nil {
			config.OIDC.TokenClaims = parsed
		}
	}

	if debug := os.Getenv("DEBUG"); debug != "" {
		config.Debug = debug == "1" || strings.EqualFold(debug, "true")
	}
}

// ApplyFlagOverrides applies command-line flag values (highest priority).
func ApplyFlagOverrides(config *Config, port int, host string, debug bool) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
	if debug {
		config.Debug = true
		config.Logging.Level = "debug"
	}
}

// ServiceEnabled reports whether the named service is switched on.
func (c *Config) ServiceEnabled(name string) bool {
	if len(c.Server.Services) == 0 {
		return true
	}
	for _, s := range c.Server.Services {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return true
		}
	}
	return false
}

// CacheTTL returns the default zarr job TTL as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.ExpSeconds) * time.Second
}

// SolrLatestCore returns the name of the deduplicated latest-version core.
func (c *Config) SolrLatestCore() string {
	return "latest"
}

// SolrBaseURL returns the base URL of the Solr instance.
func (c *Config) SolrBaseURL() string {
	host := c.Solr.Host
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	return strings.TrimRight(host, "/") + "/solr"
}

// MongoURI assembles the connection URI for the document store.
func (c *Config) MongoURI() string {
	host := c.Mongo.Host
	if strings.Contains(host, "://") {
		return host
	}
	if c.Mongo.User != "" {
		return fmt.Sprintf("mongodb://%s:%s@%s", c.Mongo.User, c.Mongo.Password, host)
	}
	return "mongodb://" + host
}

// ProxyURL returns the external base URL joined with the proxy prefix.
func (c *Config) ProxyURL() string {
	return strings.TrimRight(c.Server.URL, "/") + c.Server.Proxy
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
