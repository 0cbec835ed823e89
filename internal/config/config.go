// Package config provides configuration management for chainmgr.
//
// This package handles loading configuration from multiple sources:
//   - YAML configuration files
//   - Environment variables (with CHAINMGR_ prefix)
//   - .env files
//   - Default values
//
// # Configuration Sources Priority
//
// Configuration is loaded in the following order (later sources override earlier ones):
//  1. Default values (hardcoded)
//  2. Configuration files (./config.yaml, ./configs/config.yaml, ~/.chainmgr/config.yaml, /etc/chainmgr/config.yaml)
//  3. .env files
//  4. Environment variables (CHAINMGR_ prefix)
//
// The loaded *Config is immutable by convention: it is built once at startup
// and handed to every component that needs it.
//
// # Usage Example
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Max nodes per host: %d\n", cfg.Deploy.MaxNodesPerHost)
//
// # Environment Variables
//
// Use CHAINMGR_ prefix and underscores for nested keys:
//   - CHAINMGR_SERVER_PORT=5001
//   - CHAINMGR_SSH_DEFAULT_USER=fisco
//   - CHAINMGR_DEPLOY_MAX_NODES_PER_HOST=4
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "CHAINMGR"

// Config is the root configuration structure for chainmgr.
type Config struct {
	// Server contains HTTP server configuration
	Server ServerConfig `mapstructure:"server"`

	// Database contains relational store settings
	Database DatabaseConfig `mapstructure:"database"`

	// SSH contains default remote channel settings
	SSH SSHConfig `mapstructure:"ssh"`

	// Deploy contains chain topology and file layout settings
	Deploy DeployConfig `mapstructure:"deploy"`

	// Engine contains asynchronous provisioning settings
	Engine EngineConfig `mapstructure:"engine"`

	// Logging contains logging settings
	Logging LoggingConfig `mapstructure:"logging"`

	// Security contains security and rate limiting settings
	Security SecurityConfig `mapstructure:"security"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	// Host is the server bind address
	Host string `mapstructure:"host"`

	// Port is the server listen port (default: 5001)
	Port int `mapstructure:"port"`

	// ReadTimeout is the maximum duration for reading requests
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration for writing responses
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// ShutdownTimeout is the maximum duration for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Debug enables debug logging and detailed error responses
	Debug bool `mapstructure:"debug"`
}

// DatabaseConfig contains relational store settings.
type DatabaseConfig struct {
	// Driver is the database/sql driver name
	Driver string `mapstructure:"driver"`

	// Path is the sqlite database file
	Path string `mapstructure:"path"`

	// BusyTimeout is how long a writer waits for the database lock
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// SSHConfig contains defaults for the remote channel to hosts.
type SSHConfig struct {
	// DefaultUser is the user for new hosts
	DefaultUser string `mapstructure:"default_user"`

	// DefaultPort is the port for new hosts
	DefaultPort int `mapstructure:"default_port"`

	// PrivateKeyPath is the key used for every host
	PrivateKeyPath string `mapstructure:"private_key_path"`

	// ConnectTimeout bounds reachability checks
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	// CommandTimeout bounds a single remote command
	CommandTimeout time.Duration `mapstructure:"command_timeout"`

	// KnownHostsPath enables host key verification when set
	KnownHostsPath string `mapstructure:"known_hosts_path"`
}

// DeployConfig contains chain layout and capacity settings.
type DeployConfig struct {
	// NodesRoot is where generated chain configuration lives on the manager
	NodesRoot string `mapstructure:"nodes_root"`

	// ArchiveRoot receives node and chain directories moved aside on delete
	ArchiveRoot string `mapstructure:"archive_root"`

	// MaxNodesPerHost caps the live fronts on one host
	MaxNodesPerHost int `mapstructure:"max_nodes_per_host"`

	// SignCheckTimeout bounds the signing helper reachability check
	SignCheckTimeout time.Duration `mapstructure:"sign_check_timeout"`

	// DockerDaemonPort is rendered into SDK bundles for hosts
	DockerDaemonPort int `mapstructure:"docker_daemon_port"`

	// ImageRepository is the node image repository; the tag is the chain version
	ImageRepository string `mapstructure:"image_repository"`

	// RemoteDeleteDir is the directory under a host root receiving deleted nodes
	RemoteDeleteDir string `mapstructure:"remote_delete_dir"`

	// LocalIPs are extra addresses that identify the manager itself
	LocalIPs []string `mapstructure:"local_ips"`
}

// EngineConfig contains asynchronous provisioning settings.
type EngineConfig struct {
	// Workers is the maximum number of concurrently running work items
	Workers int `mapstructure:"workers"`

	// ItemTimeout bounds one work item
	ItemTimeout time.Duration `mapstructure:"item_timeout"`

	// DialRetries is the number of SSH dial retries inside a work item
	DialRetries int `mapstructure:"dial_retries"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error)
	Level string `mapstructure:"level"`

	// Format is the log format (json, text)
	Format string `mapstructure:"format"`

	// Output is stdout, stderr or a file path
	Output string `mapstructure:"output"`
}

// SecurityConfig contains security and rate limiting settings.
type SecurityConfig struct {
	// RateLimit is the maximum requests per second per client
	RateLimit int `mapstructure:"rate_limit"`

	// AllowedOrigins are the CORS allowed origins
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// AuthEnabled enables JWT authentication
	AuthEnabled bool `mapstructure:"auth_enabled"`

	// JWTSecret is the secret key for signing JWT tokens
	JWTSecret string `mapstructure:"jwt_secret"`

	// JWTExpiration is the JWT token expiration duration
	JWTExpiration time.Duration `mapstructure:"jwt_expiration"`
}

// Load reads configuration from a file and environment variables.
// If cfgFile is empty, it searches for config.yaml in standard locations.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (CHAINMGR_ prefix)
//  2. .env file
//  3. Configuration file
//  4. Default values
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.chainmgr")
		v.AddConfigPath("/etc/chainmgr")
	}

	if err := v.ReadInConfig(); err != nil {
		if cfgFile != "" {
			// An explicit file that does not exist falls back to defaults
			if !isFileNotFoundError(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		} else {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.MergeInConfig() // Ignore error if .env file doesn't exist

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5001)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug", false)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.path", "./chainmgr.db")
	v.SetDefault("database.busy_timeout", "5s")

	v.SetDefault("ssh.default_user", "root")
	v.SetDefault("ssh.default_port", 22)
	v.SetDefault("ssh.private_key_path", "$HOME/.ssh/id_rsa")
	v.SetDefault("ssh.connect_timeout", "5s")
	v.SetDefault("ssh.command_timeout", "5m")
	v.SetDefault("ssh.known_hosts_path", "")

	v.SetDefault("deploy.nodes_root", "./NODES_ROOT")
	v.SetDefault("deploy.archive_root", "./NODES_ROOT_TMP")
	v.SetDefault("deploy.max_nodes_per_host", 4)
	v.SetDefault("deploy.sign_check_timeout", "2s")
	v.SetDefault("deploy.docker_daemon_port", 3000)
	v.SetDefault("deploy.image_repository", "fiscoorg/fisco-webase")
	v.SetDefault("deploy.remote_delete_dir", "delete-tmp")
	v.SetDefault("deploy.local_ips", []string{})

	v.SetDefault("engine.workers", 8)
	v.SetDefault("engine.item_timeout", "10m")
	v.SetDefault("engine.dial_retries", 3)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("security.rate_limit", 100)
	v.SetDefault("security.allowed_origins", []string{"*"})
	v.SetDefault("security.auth_enabled", false)
	v.SetDefault("security.jwt_secret", "change-me-in-production")
	v.SetDefault("security.jwt_expiration", "24h")
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if cfg.SSH.DefaultPort < 1 || cfg.SSH.DefaultPort > 65535 {
		return fmt.Errorf("invalid ssh port: %d", cfg.SSH.DefaultPort)
	}

	if cfg.Deploy.MaxNodesPerHost < 1 {
		return fmt.Errorf("max nodes per host must be positive, got %d", cfg.Deploy.MaxNodesPerHost)
	}

	if cfg.Deploy.NodesRoot == "" {
		return fmt.Errorf("nodes root is required")
	}

	if cfg.Engine.Workers < 1 {
		return fmt.Errorf("engine workers must be positive, got %d", cfg.Engine.Workers)
	}

	return nil
}

// ExpandedKeyPath returns the SSH key path with environment variables expanded.
func (c *SSHConfig) ExpandedKeyPath() string {
	return os.ExpandEnv(c.PrivateKeyPath)
}

// isFileNotFoundError checks if an error is a file not found error.
func isFileNotFoundError(err error) bool {
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr, os.ErrNotExist)
	}
	return false
}
