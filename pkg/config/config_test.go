package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/rookery/pkg/log"
	"github.com/cuemby/rookery/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rookery.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
manager_id: m1
base_path: /redis/main/
nodes:
  - 10.0.0.1:6379
  - 10.0.0.2:6379
decision_policy: single-observer
max_failures: 5
health_check_interval: 500ms
reconcile_interval: 1m
redis:
  password: secret
coordinator:
  backend: memory
api:
  http_addr: ":8080"
logging:
  level: debug
  json: true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "m1", cfg.ManagerID)
	assert.Equal(t, "/redis/main", cfg.BasePath)
	assert.Equal(t, []string{"10.0.0.1:6379", "10.0.0.2:6379"}, cfg.Nodes)
	assert.Equal(t, types.PolicySingleObserver, cfg.Policy())
	assert.Equal(t, 500*time.Millisecond, cfg.HealthCheckInterval)
	assert.Equal(t, time.Minute, cfg.ReconcileInterval)
	assert.Equal(t, BackendMemory, cfg.Coordinator.Backend)
	assert.Equal(t, ":8080", cfg.API.HTTPAddr)

	// untouched keys keep their defaults
	assert.Equal(t, time.Second, cfg.CheckTimeout)
	assert.Equal(t, 5*time.Second, cfg.RetryInterval)
	assert.Equal(t, ":9122", cfg.API.GRPCAddr)

	hc := cfg.HealthConfig()
	assert.Equal(t, 5, hc.Retries)
	assert.Equal(t, 500*time.Millisecond, hc.Interval)

	assert.Equal(t, "secret", cfg.RedisNodeConfig().Password)
	assert.Equal(t, 2*time.Second, cfg.RedisNodeConfig().DialTimeout)

	lc := cfg.LogConfig()
	assert.Equal(t, log.DebugLevel, lc.Level)
	assert.True(t, lc.JSONOutput)

	mc, err := cfg.ManagerConfig()
	require.NoError(t, err)
	assert.Equal(t, "m1", mc.ID)
	assert.Equal(t, []types.Addr{"10.0.0.1:6379", "10.0.0.2:6379"}, mc.Nodes)
	assert.Equal(t, types.PolicySingleObserver, mc.Policy)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, `
nodes: ["n1:6379"]
coordinator:
  backend: etcd
  endpoints: ["etcd-0:2379"]
`)
	t.Setenv("ROOKERY_MANAGER_ID", "from-env")
	t.Setenv("ROOKERY_COORDINATOR_ENDPOINTS", "etcd-1:2379,etcd-2:2379")
	t.Setenv("ROOKERY_DECISION_POLICY", "majority")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.ManagerID)
	assert.Equal(t, []string{"etcd-1:2379", "etcd-2:2379"}, cfg.Coordinator.Endpoints)
	assert.Equal(t, []string{"etcd-1:2379", "etcd-2:2379"}, cfg.EtcdConfig().Endpoints)
	assert.Equal(t, types.PolicyMajority, cfg.Policy())
}

func TestLoadConfigGeneratesManagerID(t *testing.T) {
	path := writeConfig(t, "nodes: [\"n1:6379\"]\n")

	a, err := LoadConfig(path)
	require.NoError(t, err)
	b, err := LoadConfig(path)
	require.NoError(t, err)

	assert.NotEmpty(t, a.ManagerID)
	assert.NotEqual(t, a.ManagerID, b.ManagerID)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			ManagerID:              "m1",
			BasePath:               "/rookery",
			Nodes:                  []string{"n1:6379"},
			DecisionPolicy:         "majority",
			MaxFailures:            3,
			HealthCheckInterval:    time.Second,
			CheckTimeout:           time.Second,
			RetryInterval:          time.Second,
			DiscoveryRetryInterval: time.Second,
			ReconcileInterval:      time.Second,
			DataDir:                "data",
			Coordinator:            CoordinatorConfig{Backend: BackendMemory},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "no manager id", mutate: func(c *Config) { c.ManagerID = "" }, wantErr: "manager_id"},
		{name: "slash in manager id", mutate: func(c *Config) { c.ManagerID = "a/b" }, wantErr: "manager_id"},
		{name: "no nodes", mutate: func(c *Config) { c.Nodes = nil }, wantErr: "node"},
		{name: "bad node", mutate: func(c *Config) { c.Nodes = []string{"n1"} }, wantErr: "invalid nodes"},
		{name: "bad policy", mutate: func(c *Config) { c.DecisionPolicy = "quorum" }, wantErr: "decision_policy"},
		{name: "zero failures", mutate: func(c *Config) { c.MaxFailures = 0 }, wantErr: "max_failures"},
		{name: "zero interval", mutate: func(c *Config) { c.CheckTimeout = 0 }, wantErr: "check_timeout"},
		{name: "unknown backend", mutate: func(c *Config) { c.Coordinator.Backend = "zk" }, wantErr: "backend"},
		{name: "etcd without endpoints", mutate: func(c *Config) { c.Coordinator.Backend = BackendEtcd }, wantErr: "endpoints"},
		{name: "root base path", mutate: func(c *Config) { c.BasePath = "/" }, wantErr: "base_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
