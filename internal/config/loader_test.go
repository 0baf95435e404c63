package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goran-ethernal/ChainReducer/pkg/config"
	"github.com/stretchr/testify/require"
)

func TestLoadFromYAML(t *testing.T) {
	cfg, err := LoadFromYAML("../../config.example.yaml")
	if err != nil {
		t.Fatalf("failed to load YAML config: %v", err)
	}

	validateConfig(t, cfg, "YAML")
}

func TestLoadFromJSON(t *testing.T) {
	cfg, err := LoadFromJSON("../../config.example.json")
	if err != nil {
		t.Fatalf("failed to load JSON config: %v", err)
	}

	validateConfig(t, cfg, "JSON")
}

func TestLoadFromTOML(t *testing.T) {
	cfg, err := LoadFromTOML("../../config.example.toml")
	if err != nil {
		t.Fatalf("failed to load TOML config: %v", err)
	}

	validateConfig(t, cfg, "TOML")
}

func TestLoadFromFile_AutoDetect(t *testing.T) {
	for _, path := range []string{
		"../../config.example.yaml",
		"../../config.example.json",
		"../../config.example.toml",
	} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			cfg, err := LoadFromFile(path)
			require.NoError(t, err)
			validateConfig(t, cfg, "auto-detected "+filepath.Ext(path))
		})
	}
}

func TestLoadFromFile_UnsupportedFormat(t *testing.T) {
	_, err := LoadFromFile("config.txt")
	require.Contains(t, err.Error(), "unsupported config file format")
}

func TestLoadFromFile_EnvOverrides(t *testing.T) {
	t.Setenv("CHAINREDUCER_DATABASE_PATH", "/tmp/override.db")
	t.Setenv("CHAINREDUCER_REDUCER_WORKERS", "3")
	t.Setenv("CHAINREDUCER_REDUCER_RETRY_MAX_ATTEMPTS", "9")
	t.Setenv("CHAINREDUCER_FAMILIES_ORDER_MAX_REVERTABLE_EVENTS", "77")
	t.Setenv("CHAINREDUCER_FAMILIES_TOKEN_ENABLED", "false")
	t.Setenv("CHAINREDUCER_STORE_BACKEND", "redis")
	t.Setenv("CHAINREDUCER_STORE_REDIS_ADDR", "redis:6379")

	cfg, err := LoadFromFile("../../config.example.yaml")
	require.NoError(t, err)

	require.Equal(t, "/tmp/override.db", cfg.Database.Path)
	require.Equal(t, 3, cfg.Reducer.Workers)
	require.Equal(t, 9, cfg.Reducer.Retry.MaxAttempts)
	require.Equal(t, 77, cfg.Families.Order.MaxRevertableEvents)
	require.False(t, cfg.Families.Token.IsEnabled())
	require.True(t, cfg.Families.Item.IsEnabled())
	require.Equal(t, config.StoreBackendRedis, cfg.Store.Backend)
	require.Equal(t, "redis:6379", cfg.Store.Redis.Addr)
}

func TestLoadFromFile_Minimal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "minimal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  path: ./reducer.db\n"), 0o600))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	require.Nil(t, cfg.Scanner)
	require.Nil(t, cfg.Notifier)
	require.NotNil(t, cfg.Logging)
	require.Equal(t, "info", cfg.Logging.DefaultLevel)
}

// validateConfig checks that the loaded config has expected values
func validateConfig(t *testing.T, cfg *config.Config, format string) {
	t.Helper()

	require.NotEmpty(t, cfg.Database.Path, "[%s] database.path should not be empty", format)
	require.Equal(t, "WAL", cfg.Database.JournalMode, "[%s] database.journal_mode", format)

	require.Equal(t, 8, cfg.Reducer.Workers, "[%s] reducer.workers", format)
	require.Equal(t, 5, cfg.Reducer.Retry.MaxAttempts, "[%s] reducer.retry.max_attempts", format)
	require.Equal(t, 10*time.Millisecond, cfg.Reducer.Retry.InitialBackoff.Duration, "[%s] reducer.retry.initial_backoff", format)

	require.Equal(t, uint64(12), cfg.Families.Item.ConfirmationDepth, "[%s] families.item", format)
	require.Equal(t, 200, cfg.Families.Order.MaxRevertableEvents, "[%s] families.order", format)
	require.True(t, cfg.Families.Ownership.IsEnabled(), "[%s] families.ownership", format)

	require.Equal(t, config.StoreBackendSQLite, cfg.Store.Backend, "[%s] store.backend", format)
	require.True(t, cfg.Store.ShouldArchive(), "[%s] store.archive_evicted", format)

	require.NotNil(t, cfg.Scanner, "[%s] scanner", format)
	require.NotEmpty(t, cfg.Scanner.RPCURL, "[%s] scanner.rpc_url should not be empty", format)
	require.NotEmpty(t, cfg.Scanner.Contracts, "[%s] scanner.contracts", format)
	require.Equal(t, 12*time.Second, cfg.Scanner.PollInterval.Duration, "[%s] scanner.poll_interval", format)

	require.NotNil(t, cfg.Notifier, "[%s] notifier", format)
	require.NotNil(t, cfg.Notifier.MQTT, "[%s] notifier.mqtt", format)
	require.Equal(t, byte(1), cfg.Notifier.MQTT.QoS, "[%s] notifier.mqtt.qos", format)

	require.Equal(t, "debug", cfg.Logging.GetComponentLevel("driver"), "[%s] logging", format)
	require.True(t, cfg.Metrics.Enabled, "[%s] metrics.enabled", format)
}

func TestConfigDefaults(t *testing.T) {
	cfg := &config.Config{
		Database: config.DatabaseConfig{Path: "./test.db"},
		Scanner: &config.ScannerConfig{
			RPCURL:    "https://test.com",
			Contracts: []string{"0x0000000000000000000000000000000000001234"},
		},
	}

	cfg.ApplyDefaults()

	require.Equal(t, "WAL", cfg.Database.JournalMode)
	require.Equal(t, "NORMAL", cfg.Database.Synchronous)
	require.Equal(t, 5000, cfg.Database.BusyTimeout)
	require.Equal(t, 25, cfg.Database.MaxOpenConnections)

	require.Equal(t, 8, cfg.Reducer.Workers)
	require.Equal(t, 10*time.Millisecond, cfg.Reducer.Retry.InitialBackoff.Duration)
	require.Equal(t, 500*time.Millisecond, cfg.Reducer.Retry.MaxBackoff.Duration)
	require.Equal(t, 5, cfg.Reducer.Retry.MaxAttempts)

	require.Equal(t, uint64(12), cfg.Families.Token.ConfirmationDepth)
	require.Equal(t, 50, cfg.Families.Item.MaxRevertableEvents)
	require.Equal(t, 200, cfg.Families.Order.MaxRevertableEvents)

	require.Equal(t, config.StoreBackendSQLite, cfg.Store.Backend)
	require.True(t, cfg.Store.ShouldArchive())

	require.Equal(t, uint64(5000), cfg.Scanner.ChunkSize)
	require.Equal(t, "finalized", cfg.Scanner.Finality)
	require.NotNil(t, cfg.Scanner.Retry)
	require.Equal(t, time.Second, cfg.Scanner.Retry.InitialBackoff.Duration)

	require.NoError(t, cfg.Validate())
}

func TestConfigValidation(t *testing.T) {
	valid := func() *config.Config {
		return &config.Config{
			Database: config.DatabaseConfig{Path: "./test.db"},
			Scanner: &config.ScannerConfig{
				RPCURL:    "https://test.com",
				Contracts: []string{"0x0000000000000000000000000000000000001234"},
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(cfg *config.Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(*config.Config) {},
		},
		{
			name:    "missing database path",
			mutate:  func(cfg *config.Config) { cfg.Database.Path = "" },
			wantErr: "database: path is required",
		},
		{
			name:    "missing rpc_url",
			mutate:  func(cfg *config.Config) { cfg.Scanner.RPCURL = "" },
			wantErr: "scanner: rpc_url is required",
		},
		{
			name:    "invalid finality",
			mutate:  func(cfg *config.Config) { cfg.Scanner.Finality = "invalid" },
			wantErr: "finality must be one of",
		},
		{
			name:    "invalid contract address",
			mutate:  func(cfg *config.Config) { cfg.Scanner.Contracts = []string{"0x1234"} },
			wantErr: "is not a hex address",
		},
		{
			name:    "unknown store backend",
			mutate:  func(cfg *config.Config) { cfg.Store.Backend = "postgres" },
			wantErr: "store: backend must be one of",
		},
		{
			name: "redis without addr",
			mutate: func(cfg *config.Config) {
				cfg.Store.Backend = config.StoreBackendRedis
				cfg.Store.Redis.Addr = ""
			},
			wantErr: "redis.addr is required",
		},
		{
			name:    "mqtt without broker",
			mutate:  func(cfg *config.Config) { cfg.Notifier = &config.NotifierConfig{MQTT: &config.MQTTConfig{}} },
			wantErr: "notifier: mqtt: broker is required",
		},
		{
			name:    "unknown logging component",
			mutate:  func(cfg *config.Config) { cfg.Logging = &config.LoggingConfig{ComponentLevels: map[string]string{"indexer": "debug"}} },
			wantErr: "unknown component",
		},
		{
			name:    "invalid retry",
			mutate:  func(cfg *config.Config) { cfg.Reducer.Retry.BackoffMultiplier = 0.5 },
			wantErr: "reducer: retry: backoff_multiplier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			cfg.ApplyDefaults()

			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}
