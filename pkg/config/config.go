package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cuemby/rookery/pkg/coord"
	"github.com/cuemby/rookery/pkg/health"
	"github.com/cuemby/rookery/pkg/log"
	"github.com/cuemby/rookery/pkg/manager"
	"github.com/cuemby/rookery/pkg/node"
	"github.com/cuemby/rookery/pkg/storage"
	"github.com/cuemby/rookery/pkg/types"
	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. ROOKERY_COORDINATOR_BACKEND
const EnvPrefix = "ROOKERY"

// Coordinator backends
const (
	BackendEtcd   = "etcd"
	BackendMemory = "memory"
)

// Config represents the manager configuration
type Config struct {
	ManagerID              string            `mapstructure:"manager_id"`
	BasePath               string            `mapstructure:"base_path"`
	Nodes                  []string          `mapstructure:"nodes"`
	DecisionPolicy         string            `mapstructure:"decision_policy"`
	MaxFailures            int               `mapstructure:"max_failures"`
	HealthCheckInterval    time.Duration     `mapstructure:"health_check_interval"`
	CheckTimeout           time.Duration     `mapstructure:"check_timeout"`
	RetryInterval          time.Duration     `mapstructure:"retry_interval"`
	DiscoveryRetryInterval time.Duration     `mapstructure:"discovery_retry_interval"`
	ReconcileInterval      time.Duration     `mapstructure:"reconcile_interval"`
	DataDir                string            `mapstructure:"data_dir"`
	HistoryLimit           int               `mapstructure:"history_limit"`
	Redis                  RedisConfig       `mapstructure:"redis"`
	Coordinator            CoordinatorConfig `mapstructure:"coordinator"`
	API                    APIConfig         `mapstructure:"api"`
	Logging                LoggingConfig     `mapstructure:"logging"`
}

// RedisConfig contains settings shared by every managed node
type RedisConfig struct {
	Password    string        `mapstructure:"password"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// CoordinatorConfig selects and configures the coordination service
type CoordinatorConfig struct {
	Backend          string        `mapstructure:"backend"`
	Endpoints        []string      `mapstructure:"endpoints"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	SessionTTL       time.Duration `mapstructure:"session_ttl"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"`
}

// APIConfig contains the listen addresses; an empty address disables the listener
type APIConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
	GRPCAddr string `mapstructure:"grpc_addr"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// LoadConfig loads configuration from the file at configPath, or from
// rookery.yaml in the usual locations when configPath is empty. Environment
// variables override both.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("rookery")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/rookery")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.ManagerID == "" {
		cfg.ManagerID = uuid.NewString()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("manager_id", "")
	v.SetDefault("base_path", storage.DefaultBasePath)
	v.SetDefault("nodes", []string{})
	v.SetDefault("decision_policy", string(types.PolicyMajority))
	v.SetDefault("max_failures", 3)
	v.SetDefault("health_check_interval", time.Second)
	v.SetDefault("check_timeout", time.Second)
	v.SetDefault("retry_interval", 5*time.Second)
	v.SetDefault("discovery_retry_interval", 5*time.Second)
	v.SetDefault("reconcile_interval", 10*time.Second)
	v.SetDefault("data_dir", "./rookery-data")
	v.SetDefault("history_limit", storage.DefaultJournalLimit)

	v.SetDefault("redis.password", "")
	v.SetDefault("redis.dial_timeout", 2*time.Second)

	v.SetDefault("coordinator.backend", BackendEtcd)
	v.SetDefault("coordinator.endpoints", []string{"127.0.0.1:2379"})
	v.SetDefault("coordinator.dial_timeout", 5*time.Second)
	v.SetDefault("coordinator.session_ttl", 10*time.Second)
	v.SetDefault("coordinator.operation_timeout", 5*time.Second)
	v.SetDefault("coordinator.username", "")
	v.SetDefault("coordinator.password", "")

	v.SetDefault("api.http_addr", ":9121")
	v.SetDefault("api.grpc_addr", ":9122")

	v.SetDefault("logging.level", string(log.InfoLevel))
	v.SetDefault("logging.json", false)
}

// Validate checks the configuration and normalizes paths
func (c *Config) Validate() error {
	if c.ManagerID == "" {
		return fmt.Errorf("manager_id is required")
	}
	if strings.Contains(c.ManagerID, "/") {
		return fmt.Errorf("manager_id must not contain '/': %q", c.ManagerID)
	}
	if len(c.Nodes) == 0 {
		return fmt.Errorf("at least one node is required")
	}
	if _, err := c.NodeAddrs(); err != nil {
		return fmt.Errorf("invalid nodes: %w", err)
	}
	if _, err := types.ParseDecisionPolicy(c.DecisionPolicy); err != nil {
		return fmt.Errorf("invalid decision_policy: %w", err)
	}
	if c.MaxFailures < 1 {
		return fmt.Errorf("max_failures must be at least 1")
	}

	durations := map[string]time.Duration{
		"health_check_interval":    c.HealthCheckInterval,
		"check_timeout":            c.CheckTimeout,
		"retry_interval":           c.RetryInterval,
		"discovery_retry_interval": c.DiscoveryRetryInterval,
		"reconcile_interval":       c.ReconcileInterval,
	}
	for key, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}

	switch c.Coordinator.Backend {
	case BackendEtcd:
		if len(c.Coordinator.Endpoints) == 0 {
			return fmt.Errorf("coordinator.endpoints is required for the etcd backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown coordinator.backend %q", c.Coordinator.Backend)
	}

	c.BasePath = "/" + strings.Trim(c.BasePath, "/")
	if c.BasePath == "/" {
		return fmt.Errorf("base_path must not be the root")
	}
	c.DataDir = filepath.Clean(c.DataDir)
	return nil
}

// NodeAddrs parses the configured nodes
func (c *Config) NodeAddrs() ([]types.Addr, error) {
	return types.ParseAddrs(c.Nodes)
}

// Policy returns the parsed decision policy
func (c *Config) Policy() types.DecisionPolicy {
	p, err := types.ParseDecisionPolicy(c.DecisionPolicy)
	if err != nil {
		return types.PolicyMajority
	}
	return p
}

// ManagerConfig builds the decision engine configuration
func (c *Config) ManagerConfig() (manager.Config, error) {
	addrs, err := c.NodeAddrs()
	if err != nil {
		return manager.Config{}, err
	}
	return manager.Config{
		ID:                     c.ManagerID,
		Nodes:                  addrs,
		Policy:                 c.Policy(),
		RetryInterval:          c.RetryInterval,
		DiscoveryRetryInterval: c.DiscoveryRetryInterval,
	}, nil
}

// HealthConfig builds the observer probing configuration
func (c *Config) HealthConfig() health.Config {
	return health.Config{
		Interval: c.HealthCheckInterval,
		Timeout:  c.CheckTimeout,
		Retries:  c.MaxFailures,
	}
}

// RedisNodeConfig builds the connection settings for managed nodes
func (c *Config) RedisNodeConfig() node.RedisConfig {
	return node.RedisConfig{
		Password:    c.Redis.Password,
		DialTimeout: c.Redis.DialTimeout,
	}
}

// EtcdConfig builds the etcd coordinator configuration
func (c *Config) EtcdConfig() coord.EtcdConfig {
	return coord.EtcdConfig{
		Endpoints:        c.Coordinator.Endpoints,
		DialTimeout:      c.Coordinator.DialTimeout,
		SessionTTL:       c.Coordinator.SessionTTL,
		OperationTimeout: c.Coordinator.OperationTimeout,
		Username:         c.Coordinator.Username,
		Password:         c.Coordinator.Password,
	}
}

// LogConfig builds the logger configuration
func (c *Config) LogConfig() log.Config {
	return log.Config{
		Level:      log.Level(c.Logging.Level),
		JSONOutput: c.Logging.JSON,
	}
}
