package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/nickyhof/LayerDB/core"
	"github.com/nickyhof/LayerDB/objects"
)

const (
	EnvPrefix = "LAYERDB"
	// MemoryDir as data_dir keeps everything in memory.
	MemoryDir = ":memory:"

	EngineSQLite = "sqlite"
	EngineDuckDB = "duckdb"
)

type Identity struct {
	Name  string `mapstructure:"name"`
	Email string `mapstructure:"email"`
}

type Remote struct {
	Dir string `mapstructure:"dir"`
}

type S3 struct {
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

// HTTP points the HTTP object handler at a LayerDB object server.
type HTTP struct {
	URL   string `mapstructure:"url"`
	Token string `mapstructure:"token"`
}

type Server struct {
	Addr      string `mapstructure:"addr"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	Audience  string `mapstructure:"audience"`
	TLSCert   string `mapstructure:"tls_cert"`
	TLSKey    string `mapstructure:"tls_key"`
}

type GC struct {
	GracePeriod time.Duration `mapstructure:"grace_period"`
}

type Config struct {
	DataDir  string            `mapstructure:"data_dir"`
	Engine   string            `mapstructure:"engine"`
	LogLevel string            `mapstructure:"log_level"`
	Identity Identity          `mapstructure:"identity"`
	Remotes  map[string]Remote `mapstructure:"remotes"`
	S3       S3                `mapstructure:"s3"`
	HTTP     HTTP              `mapstructure:"http"`
	Server   Server            `mapstructure:"server"`
	GC       GC                `mapstructure:"gc"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`

	v *viper.Viper
}

// DefaultDataDir is $XDG_DATA_HOME/layerdb.
func DefaultDataDir() string {
	xdg.Reload()
	return filepath.Join(xdg.DataHome, "layerdb")
}

// DefaultConfigFile is $XDG_CONFIG_HOME/layerdb/config.yaml.
func DefaultConfigFile() string {
	xdg.Reload()
	return filepath.Join(xdg.ConfigHome, "layerdb", "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("engine", EngineSQLite)
	v.SetDefault("log_level", "info")
	v.SetDefault("identity.name", objects.DefaultIdentity.Name)
	v.SetDefault("identity.email", objects.DefaultIdentity.Email)
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.prefix", "")
	v.SetDefault("s3.region", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.access_key", "")
	v.SetDefault("s3.secret_key", "")
	v.SetDefault("http.url", "")
	v.SetDefault("http.token", "")
	v.SetDefault("server.addr", ":8420")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.issuer", "layerdb")
	v.SetDefault("server.audience", "")
	v.SetDefault("server.tls_cert", "")
	v.SetDefault("server.tls_key", "")
	v.SetDefault("gc.grace_period", objects.DefaultGracePeriod)
}

// Load reads path, or the default config file when path is empty, and
// overlays LAYERDB_* environment variables (LAYERDB_S3_BUCKET for s3.bucket).
// A missing default file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigFile(DefaultConfigFile())
		if err := v.ReadInConfig(); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{v: v, File: v.ConfigFileUsed()}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if _, err := os.Stat(cfg.File); err != nil {
		cfg.File = ""
	}
	return cfg, cfg.Validate()
}

func isNotExist(err error) bool {
	var notFound viper.ConfigFileNotFoundError
	return errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)
}

func (c *Config) Validate() error {
	switch c.Engine {
	case EngineSQLite, EngineDuckDB:
	default:
		return fmt.Errorf("unsupported engine %q", c.Engine)
	}
	if c.GC.GracePeriod < 0 {
		return fmt.Errorf("negative gc.grace_period %s", c.GC.GracePeriod)
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return errors.New("server.tls_cert and server.tls_key must be set together")
	}
	for name, r := range c.Remotes {
		if r.Dir == "" {
			return fmt.Errorf("remote %s has no dir", name)
		}
	}
	return nil
}

// Memory reports whether nothing is persisted.
func (c *Config) Memory() bool {
	return c.DataDir == "" || c.DataDir == MemoryDir
}

func (c *Config) CatalogDir() string { return filepath.Join(c.DataDir, "catalog") }

func (c *Config) ObjectsDir() string { return filepath.Join(c.DataDir, "objects") }

func (c *Config) EngineDir() string { return filepath.Join(c.DataDir, "engine") }

// EnginePath is the directory of a sqlite engine or the file of a duckdb one.
func (c *Config) EnginePath() string {
	if c.Engine == EngineDuckDB {
		return filepath.Join(c.DataDir, "engine.duckdb")
	}
	return c.EngineDir()
}

func (c *Config) CoreIdentity() core.Identity {
	return core.Identity{Name: c.Identity.Name, Email: c.Identity.Email}
}

// S3Config returns nil when no bucket is configured.
func (c *Config) S3Config() *objects.S3Config {
	if c.S3.Bucket == "" {
		return nil
	}
	return &objects.S3Config{
		Bucket:    c.S3.Bucket,
		Prefix:    c.S3.Prefix,
		AccessKey: c.S3.AccessKey,
		SecretKey: c.S3.SecretKey,
		Region:    c.S3.Region,
		Endpoint:  c.S3.Endpoint,
	}
}

// RemoteNames returns the configured remotes in sorted order.
func (c *Config) RemoteNames() []string {
	names := make([]string, 0, len(c.Remotes))
	for name := range c.Remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var secretKeys = map[string]bool{
	"s3.access_key":     true,
	"s3.secret_key":     true,
	"http.token":        true,
	"server.jwt_secret": true,
}

// Settings lists every effective key and value, sorted by key, with secrets
// masked.
func (c *Config) Settings() [][2]string {
	keys := c.v.AllKeys()
	sort.Strings(keys)
	out := make([][2]string, 0, len(keys))
	for _, key := range keys {
		value := fmt.Sprint(c.v.Get(key))
		if secretKeys[key] && value != "" {
			value = "********"
		}
		out = append(out, [2]string{key, value})
	}
	return out
}
