package config

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	internalcommon "github.com/goran-ethernal/ChainReducer/internal/common"
	"github.com/goran-ethernal/ChainReducer/internal/logger"
	"github.com/goran-ethernal/ChainReducer/pkg/reduce"
)

const (
	StoreBackendSQLite = "sqlite"
	StoreBackendRedis  = "redis"

	defaultConfirmationDepth = 12
	defaultMaxRevertable     = 50
	defaultMaxRevertableHigh = 200
)

// Config represents the complete configuration for the ChainReducer.
type Config struct {
	// Database is the SQLite database shared by the event log, the entity
	// store, the reindex queue and the reorg detector
	Database DatabaseConfig `yaml:"database" json:"database" toml:"database" envPrefix:"DATABASE_"`

	// Reducer configures the reduce drivers
	Reducer ReducerConfig `yaml:"reducer" json:"reducer" toml:"reducer" envPrefix:"REDUCER_"`

	// Families configures the revert window of each entity family
	Families FamiliesConfig `yaml:"families" json:"families" toml:"families" envPrefix:"FAMILIES_"`

	// Store selects and configures the entity store backend
	Store StoreConfig `yaml:"store" json:"store" toml:"store" envPrefix:"STORE_"`

	// Scanner configures chain ingestion. Without it the reducer only folds
	// events that were already written to the event log
	Scanner *ScannerConfig `yaml:"scanner,omitempty" json:"scanner,omitempty" toml:"scanner,omitempty"`

	// Notifier configures downstream change notifications
	Notifier *NotifierConfig `yaml:"notifier,omitempty" json:"notifier,omitempty" toml:"notifier,omitempty"`

	// Maintenance contains optional database maintenance settings
	Maintenance *MaintenanceConfig `yaml:"maintenance,omitempty" json:"maintenance,omitempty" toml:"maintenance,omitempty"`

	// Logging contains logging configuration
	Logging *LoggingConfig `yaml:"logging,omitempty" json:"logging,omitempty" toml:"logging,omitempty"`

	// Metrics contains Prometheus metrics configuration
	Metrics *MetricsConfig `yaml:"metrics,omitempty" json:"metrics,omitempty" toml:"metrics,omitempty"`
}

// RetryConfig represents retry configuration with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including initial request)
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts" toml:"max_attempts" env:"MAX_ATTEMPTS"`

	// InitialBackoff is the initial backoff duration before first retry
	InitialBackoff internalcommon.Duration `yaml:"initial_backoff" json:"initial_backoff" toml:"initial_backoff" env:"INITIAL_BACKOFF"` //nolint:lll

	// MaxBackoff is the maximum backoff duration
	MaxBackoff internalcommon.Duration `yaml:"max_backoff" json:"max_backoff" toml:"max_backoff" env:"MAX_BACKOFF"`

	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64 `yaml:"backoff_multiplier" json:"backoff_multiplier" toml:"backoff_multiplier" env:"BACKOFF_MULTIPLIER"` //nolint:lll
}

// ApplyDefaults sets default values for retry configuration.
func (r *RetryConfig) ApplyDefaults() {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 5
	}
	if r.InitialBackoff.Duration == 0 {
		r.InitialBackoff = internalcommon.NewDuration(1 * time.Second)
	}
	if r.MaxBackoff.Duration == 0 {
		r.MaxBackoff = internalcommon.NewDuration(30 * time.Second) //nolint:mnd
	}
	if r.BackoffMultiplier == 0 {
		r.BackoffMultiplier = 2.0
	}
}

// Validate checks if the retry configuration is valid.
func (r *RetryConfig) Validate() error {
	if r.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if r.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be at least 1")
	}
	if r.MaxBackoff.Duration < r.InitialBackoff.Duration {
		return fmt.Errorf("max_backoff must not be lower than initial_backoff")
	}
	return nil
}

// DatabaseConfig represents database configuration.
type DatabaseConfig struct {
	// Path is the file path to the SQLite database
	Path string `yaml:"path" json:"path" toml:"path" env:"PATH"`

	// JournalMode sets the SQLite journal mode (e.g., "WAL", "DELETE")
	// WAL mode is recommended for better concurrency
	JournalMode string `yaml:"journal_mode" json:"journal_mode" toml:"journal_mode" env:"JOURNAL_MODE"`

	// Synchronous sets the synchronization level ("FULL", "NORMAL", "OFF")
	Synchronous string `yaml:"synchronous" json:"synchronous" toml:"synchronous" env:"SYNCHRONOUS"`

	// BusyTimeout is the time in milliseconds to wait when the database is locked
	BusyTimeout int `yaml:"busy_timeout" json:"busy_timeout" toml:"busy_timeout" env:"BUSY_TIMEOUT"`

	// CacheSize is the size of the page cache (negative = KB, positive = pages)
	CacheSize int `yaml:"cache_size" json:"cache_size" toml:"cache_size" env:"CACHE_SIZE"`

	// MaxOpenConnections is the maximum number of open database connections
	MaxOpenConnections int `yaml:"max_open_connections" json:"max_open_connections" toml:"max_open_connections" env:"MAX_OPEN_CONNECTIONS"` //nolint:lll

	// MaxIdleConnections is the maximum number of idle connections in the pool
	MaxIdleConnections int `yaml:"max_idle_connections" json:"max_idle_connections" toml:"max_idle_connections" env:"MAX_IDLE_CONNECTIONS"` //nolint:lll

	// EnableForeignKeys enables foreign key constraint enforcement
	EnableForeignKeys bool `yaml:"enable_foreign_keys" json:"enable_foreign_keys" toml:"enable_foreign_keys" env:"ENABLE_FOREIGN_KEYS"` //nolint:lll
}

// ApplyDefaults sets default values for optional database configuration fields.
func (d *DatabaseConfig) ApplyDefaults() {
	if d.JournalMode == "" {
		d.JournalMode = "WAL"
	}
	if d.Synchronous == "" {
		d.Synchronous = "NORMAL"
	}
	if d.BusyTimeout == 0 {
		d.BusyTimeout = 5000
	}
	if d.CacheSize == 0 {
		d.CacheSize = 10000
	}
	if d.MaxOpenConnections == 0 {
		d.MaxOpenConnections = 25
	}
	if d.MaxIdleConnections == 0 {
		d.MaxIdleConnections = 5
	}
}

// Validate checks if the database configuration is valid.
func (d *DatabaseConfig) Validate() error {
	if d.Path == "" {
		return fmt.Errorf("path is required")
	}
	if d.JournalMode != "" &&
		!slices.Contains([]string{"WAL", "DELETE", "TRUNCATE", "PERSIST", "MEMORY"}, d.JournalMode) {
		return fmt.Errorf("journal_mode must be one of: WAL, DELETE, TRUNCATE, PERSIST, MEMORY")
	}
	if d.Synchronous != "" && !slices.Contains([]string{"FULL", "NORMAL", "OFF"}, d.Synchronous) {
		return fmt.Errorf("synchronous must be one of: FULL, NORMAL, OFF")
	}
	return nil
}

// ReducerConfig configures the reduce drivers.
type ReducerConfig struct {
	// Workers bounds how many entities of one family are reduced in parallel
	Workers int `yaml:"workers" json:"workers" toml:"workers" env:"WORKERS"`

	// Retry bounds the optimistic-concurrency retries of a single update
	Retry RetryConfig `yaml:"retry" json:"retry" toml:"retry" envPrefix:"RETRY_"`
}

// ApplyDefaults sets default values for the reducer configuration.
// Write conflicts resolve quickly, so the backoff is far shorter than for RPC.
func (r *ReducerConfig) ApplyDefaults() {
	if r.Workers == 0 {
		r.Workers = 8
	}
	if r.Retry.InitialBackoff.Duration == 0 {
		r.Retry.InitialBackoff = internalcommon.NewDuration(10 * time.Millisecond) //nolint:mnd
	}
	if r.Retry.MaxBackoff.Duration == 0 {
		r.Retry.MaxBackoff = internalcommon.NewDuration(500 * time.Millisecond) //nolint:mnd
	}
	r.Retry.ApplyDefaults()
}

// Validate checks if the reducer configuration is valid.
func (r *ReducerConfig) Validate() error {
	if r.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if err := r.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	return nil
}

// FamilyConfig configures the revert window of one entity family.
type FamilyConfig struct {
	// Enabled controls whether the family is reduced (default true)
	Enabled *bool `yaml:"enabled,omitempty" json:"enabled,omitempty" toml:"enabled,omitempty" env:"ENABLED"`

	// ConfirmationDepth is how many blocks a confirmed event stays revertible
	ConfirmationDepth uint64 `yaml:"confirmation_depth" json:"confirmation_depth" toml:"confirmation_depth" env:"CONFIRMATION_DEPTH"` //nolint:lll

	// MaxRevertableEvents caps the revert window of a single entity
	MaxRevertableEvents int `yaml:"max_revertable_events" json:"max_revertable_events" toml:"max_revertable_events" env:"MAX_REVERTABLE_EVENTS"` //nolint:lll
}

// ApplyDefaults sets default values using maxRevertable as the window cap.
func (f *FamilyConfig) ApplyDefaults(maxRevertable int) {
	if f.Enabled == nil {
		enabled := true
		f.Enabled = &enabled
	}
	if f.ConfirmationDepth == 0 {
		f.ConfirmationDepth = defaultConfirmationDepth
	}
	if f.MaxRevertableEvents == 0 {
		f.MaxRevertableEvents = maxRevertable
	}
}

// IsEnabled reports whether the family is reduced.
func (f *FamilyConfig) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// Window returns the revert window configuration.
func (f *FamilyConfig) Window() reduce.WindowConfig {
	return reduce.WindowConfig{
		ConfirmationDepth:   f.ConfirmationDepth,
		MaxRevertableEvents: f.MaxRevertableEvents,
	}
}

// Validate checks if the family configuration is valid.
func (f *FamilyConfig) Validate() error {
	if f.MaxRevertableEvents < 1 {
		return fmt.Errorf("max_revertable_events must be at least 1")
	}
	return nil
}

// FamiliesConfig holds one FamilyConfig per entity family.
type FamiliesConfig struct {
	Item      FamilyConfig `yaml:"item" json:"item" toml:"item" envPrefix:"ITEM_"`
	Ownership FamilyConfig `yaml:"ownership" json:"ownership" toml:"ownership" envPrefix:"OWNERSHIP_"`
	Token     FamilyConfig `yaml:"token" json:"token" toml:"token" envPrefix:"TOKEN_"`
	Order     FamilyConfig `yaml:"order" json:"order" toml:"order" envPrefix:"ORDER_"`
}

// ApplyDefaults sets the default windows. Orders see far more events per
// entity, so their window is larger.
func (f *FamiliesConfig) ApplyDefaults() {
	f.Item.ApplyDefaults(defaultMaxRevertable)
	f.Ownership.ApplyDefaults(defaultMaxRevertable)
	f.Token.ApplyDefaults(defaultMaxRevertable)
	f.Order.ApplyDefaults(defaultMaxRevertableHigh)
}

// Validate checks every family.
func (f *FamiliesConfig) Validate() error {
	for name, fc := range f.byName() {
		if err := fc.Validate(); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func (f *FamiliesConfig) byName() map[string]*FamilyConfig {
	return map[string]*FamilyConfig{
		"item":      &f.Item,
		"ownership": &f.Ownership,
		"token":     &f.Token,
		"order":     &f.Order,
	}
}

// RedisConfig configures the Redis entity store.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr" toml:"addr" env:"ADDR"`
	Password  string `yaml:"password,omitempty" json:"password,omitempty" toml:"password,omitempty" env:"PASSWORD"`
	DB        int    `yaml:"db" json:"db" toml:"db" env:"DB"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix" toml:"key_prefix" env:"KEY_PREFIX"`
}

// StoreConfig selects the entity store backend.
type StoreConfig struct {
	// Backend is "sqlite" (default) or "redis"
	Backend string `yaml:"backend" json:"backend" toml:"backend" env:"BACKEND"`

	// ArchiveEvicted keeps every event evicted from a revert window in an
	// append-only table. Only the sqlite backend archives (default true)
	ArchiveEvicted *bool `yaml:"archive_evicted,omitempty" json:"archive_evicted,omitempty" toml:"archive_evicted,omitempty" env:"ARCHIVE_EVICTED"` //nolint:lll

	Redis RedisConfig `yaml:"redis" json:"redis" toml:"redis" envPrefix:"REDIS_"`
}

// ApplyDefaults sets default values for the store configuration.
func (s *StoreConfig) ApplyDefaults() {
	if s.Backend == "" {
		s.Backend = StoreBackendSQLite
	}
	if s.ArchiveEvicted == nil {
		archive := true
		s.ArchiveEvicted = &archive
	}
	if s.Redis.KeyPrefix == "" {
		s.Redis.KeyPrefix = "chainreducer"
	}
}

// ShouldArchive reports whether evicted events are archived.
func (s *StoreConfig) ShouldArchive() bool {
	return s.ArchiveEvicted == nil || *s.ArchiveEvicted
}

// Validate checks if the store configuration is valid.
func (s *StoreConfig) Validate() error {
	switch s.Backend {
	case StoreBackendSQLite:
	case StoreBackendRedis:
		if s.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("backend must be one of: sqlite, redis")
	}
	return nil
}

// ScannerConfig configures chain ingestion.
type ScannerConfig struct {
	// RPCURL is the Ethereum RPC endpoint URL
	RPCURL string `yaml:"rpc_url" json:"rpc_url" toml:"rpc_url"`

	// StartBlock is the first block scanned on an empty database
	StartBlock uint64 `yaml:"start_block" json:"start_block" toml:"start_block"`

	// ChunkSize is the block range per eth_getLogs call
	ChunkSize uint64 `yaml:"chunk_size" json:"chunk_size" toml:"chunk_size"`

	// PollInterval is how long to wait once the scanner caught up with the chain
	PollInterval internalcommon.Duration `yaml:"poll_interval" json:"poll_interval" toml:"poll_interval"`

	// Finality specifies the finality mode: "finalized", "safe", or "latest"
	Finality string `yaml:"finality" json:"finality" toml:"finality"`

	// Contracts are the token contracts whose transfer and collection events are decoded
	Contracts []string `yaml:"contracts" json:"contracts" toml:"contracts"`

	// Exchanges are the contracts whose order events are decoded
	Exchanges []string `yaml:"exchanges,omitempty" json:"exchanges,omitempty" toml:"exchanges,omitempty"`

	// Retry contains RPC retry configuration with exponential backoff
	Retry *RetryConfig `yaml:"retry,omitempty" json:"retry,omitempty" toml:"retry,omitempty"`
}

// ApplyDefaults sets default values for optional scanner configuration fields.
func (s *ScannerConfig) ApplyDefaults() {
	if s.ChunkSize == 0 {
		s.ChunkSize = 5000
	}
	if s.PollInterval.Duration == 0 {
		s.PollInterval = internalcommon.NewDuration(12 * time.Second) //nolint:mnd
	}
	if s.Finality == "" {
		s.Finality = "finalized"
	}
	if s.Retry == nil {
		s.Retry = &RetryConfig{}
	}
	s.Retry.ApplyDefaults()
}

// Addresses returns the parsed contract and exchange addresses.
func (s *ScannerConfig) Addresses() (contracts, exchanges []common.Address) {
	for _, a := range s.Contracts {
		contracts = append(contracts, common.HexToAddress(a))
	}
	for _, a := range s.Exchanges {
		exchanges = append(exchanges, common.HexToAddress(a))
	}
	return contracts, exchanges
}

// Validate checks if the scanner configuration is valid.
func (s *ScannerConfig) Validate() error {
	if s.RPCURL == "" {
		return fmt.Errorf("rpc_url is required")
	}
	if !slices.Contains([]string{"finalized", "safe", "latest"}, s.Finality) {
		return fmt.Errorf("finality must be one of: 'finalized', 'safe', or 'latest'")
	}
	if len(s.Contracts) == 0 && len(s.Exchanges) == 0 {
		return fmt.Errorf("at least one contract or exchange must be configured")
	}
	for i, a := range append(slices.Clone(s.Contracts), s.Exchanges...) {
		if !common.IsHexAddress(a) {
			return fmt.Errorf("address[%d]: %q is not a hex address", i, a)
		}
	}
	if s.Retry != nil {
		if err := s.Retry.Validate(); err != nil {
			return fmt.Errorf("retry: %w", err)
		}
	}
	return nil
}

// MQTTConfig configures the MQTT notifier.
type MQTTConfig struct {
	Broker         string                  `yaml:"broker" json:"broker" toml:"broker"`
	ClientID       string                  `yaml:"client_id" json:"client_id" toml:"client_id"`
	Username       string                  `yaml:"username,omitempty" json:"username,omitempty" toml:"username,omitempty"`
	Password       string                  `yaml:"password,omitempty" json:"password,omitempty" toml:"password,omitempty"`
	TopicPrefix    string                  `yaml:"topic_prefix" json:"topic_prefix" toml:"topic_prefix"`
	QoS            byte                    `yaml:"qos" json:"qos" toml:"qos"`
	ConnectTimeout internalcommon.Duration `yaml:"connect_timeout" json:"connect_timeout" toml:"connect_timeout"`
}

// ApplyDefaults sets default values for the MQTT configuration.
func (m *MQTTConfig) ApplyDefaults() {
	if m.ClientID == "" {
		m.ClientID = "chainreducer"
	}
	if m.TopicPrefix == "" {
		m.TopicPrefix = "chainreducer"
	}
	if m.ConnectTimeout.Duration == 0 {
		m.ConnectTimeout = internalcommon.NewDuration(10 * time.Second) //nolint:mnd
	}
}

// Validate checks if the MQTT configuration is valid.
func (m *MQTTConfig) Validate() error {
	if m.Broker == "" {
		return fmt.Errorf("broker is required")
	}
	if m.QoS > 2 { //nolint:mnd
		return fmt.Errorf("qos must be 0, 1 or 2")
	}
	return nil
}

// NotifierConfig configures downstream change notifications.
type NotifierConfig struct {
	// Log writes every change to the notifier logger
	Log bool `yaml:"log" json:"log" toml:"log"`

	// MQTT publishes every change to an MQTT broker
	MQTT *MQTTConfig `yaml:"mqtt,omitempty" json:"mqtt,omitempty" toml:"mqtt,omitempty"`
}

// ApplyDefaults sets default values for the notifier configuration.
func (n *NotifierConfig) ApplyDefaults() {
	if n.MQTT != nil {
		n.MQTT.ApplyDefaults()
	}
}

// Validate checks if the notifier configuration is valid.
func (n *NotifierConfig) Validate() error {
	if n.MQTT != nil {
		if err := n.MQTT.Validate(); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	return nil
}

// MaintenanceConfig configures database maintenance behavior.
type MaintenanceConfig struct {
	// Enabled controls whether background maintenance runs
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// CheckInterval is how often to run maintenance (e.g., "30m", "1h")
	CheckInterval internalcommon.Duration `yaml:"check_interval" json:"check_interval" toml:"check_interval"`

	// VacuumOnStartup runs maintenance immediately on startup
	VacuumOnStartup bool `yaml:"vacuum_on_startup" json:"vacuum_on_startup" toml:"vacuum_on_startup"`

	// WALCheckpointMode controls the WAL checkpoint aggressiveness
	// Options: PASSIVE, FULL, RESTART, TRUNCATE
	WALCheckpointMode string `yaml:"wal_checkpoint_mode" json:"wal_checkpoint_mode" toml:"wal_checkpoint_mode"`
}

// ApplyDefaults sets default values for optional maintenance configuration fields.
func (m *MaintenanceConfig) ApplyDefaults() {
	if m.CheckInterval.Duration == 0 {
		m.CheckInterval = internalcommon.NewDuration(30 * time.Minute) //nolint:mnd
	}
	if m.WALCheckpointMode == "" {
		m.WALCheckpointMode = "TRUNCATE"
	}
}

// Validate checks if the maintenance configuration is valid.
func (m *MaintenanceConfig) Validate() error {
	if m.WALCheckpointMode != "" {
		validModes := []string{"PASSIVE", "FULL", "RESTART", "TRUNCATE"}
		if !slices.Contains(validModes, m.WALCheckpointMode) {
			return fmt.Errorf("maintenance.wal_checkpoint_mode: must be one of: PASSIVE, FULL, RESTART, TRUNCATE")
		}
	}

	return nil
}

// LoggingConfig configures logging behavior with per-component log levels.
type LoggingConfig struct {
	// DefaultLevel is the default log level for all components
	// Options: "debug", "info", "warn", "error"
	DefaultLevel string `yaml:"default_level" json:"default_level" toml:"default_level"`

	// Development enables development mode (stack traces, console encoder)
	Development bool `yaml:"development" json:"development" toml:"development"`

	// ComponentLevels sets log levels for specific components
	// Available components:
	//   - driver: entity reduction and optimistic persistence
	//   - entity-store: entity storage layer
	//   - event-log: event log storage
	//   - scanner: chain ingestion
	//   - reorg-detector: reorganization detection
	//   - notifier: downstream notifications
	//   - reindex: reindex queue
	//   - maintenance: database maintenance
	//   - rpc: Ethereum RPC client
	ComponentLevels map[string]string `yaml:"component_levels,omitempty" json:"component_levels,omitempty" toml:"component_levels,omitempty"` //nolint:lll
}

// ApplyDefaults sets default values for optional logging configuration fields.
func (l *LoggingConfig) ApplyDefaults() {
	if l.DefaultLevel == "" {
		l.DefaultLevel = "info"
	}
	if l.ComponentLevels == nil {
		l.ComponentLevels = make(map[string]string)
	}
}

// Validate checks if the logging configuration is valid.
func (l *LoggingConfig) Validate() error {
	if l.DefaultLevel != "" {
		if _, valid := logger.ValidLogLevels[normalizeName(l.DefaultLevel)]; !valid {
			return fmt.Errorf("logging.default_level: must be one of: debug, info, warn, error")
		}
	}

	for component, level := range l.ComponentLevels {
		if _, validComponent := internalcommon.AllComponents[normalizeName(component)]; !validComponent {
			return fmt.Errorf("logging.component_levels: unknown component '%s'", component)
		}

		if _, valid := logger.ValidLogLevels[normalizeName(level)]; !valid {
			return fmt.Errorf("logging.component_levels[%s]: must be one of: debug, info, warn, error", component)
		}
	}

	return nil
}

// GetComponentLevel returns the log level for a specific component.
// Falls back to DefaultLevel if no component-specific level is set.
func (l *LoggingConfig) GetComponentLevel(component string) string {
	if level, ok := l.ComponentLevels[component]; ok {
		return normalizeName(level)
	}
	return normalizeName(l.DefaultLevel)
}

// GetDefaultLevel returns the default log level.
func (l *LoggingConfig) GetDefaultLevel() string {
	return normalizeName(l.DefaultLevel)
}

// IsDevelopment returns whether development mode is enabled.
func (l *LoggingConfig) IsDevelopment() bool {
	return l.Development
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and HTTP endpoint are active
	Enabled bool `yaml:"enabled" json:"enabled" toml:"enabled"`

	// ListenAddress is the address to bind the metrics HTTP server to
	// Format: "host:port" or ":port"
	ListenAddress string `yaml:"listen_address" json:"listen_address" toml:"listen_address"`

	// Path is the HTTP path where metrics are exposed
	Path string `yaml:"path" json:"path" toml:"path"`
}

// ApplyDefaults sets default values for optional metrics configuration fields.
func (m *MetricsConfig) ApplyDefaults() {
	if m.ListenAddress == "" {
		m.ListenAddress = ":9090"
	}
	if m.Path == "" {
		m.Path = "/metrics"
	}
}

// Validate checks if the metrics configuration is valid.
func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.ListenAddress == "" {
			return fmt.Errorf("listen_address is required when metrics are enabled")
		}
		if m.Path == "" {
			return fmt.Errorf("path is required when metrics are enabled")
		}
		if m.Path[0] != '/' {
			return fmt.Errorf("path must start with '/'")
		}
	}
	return nil
}

// ApplyDefaults sets default values for optional configuration fields.
func (c *Config) ApplyDefaults() {
	c.Database.ApplyDefaults()
	c.Reducer.ApplyDefaults()
	c.Families.ApplyDefaults()
	c.Store.ApplyDefaults()

	if c.Scanner != nil {
		c.Scanner.ApplyDefaults()
	}

	if c.Notifier != nil {
		c.Notifier.ApplyDefaults()
	}

	if c.Maintenance != nil {
		c.Maintenance.ApplyDefaults()
	}

	if c.Logging == nil {
		c.Logging = &LoggingConfig{}
	}
	c.Logging.ApplyDefaults()

	if c.Metrics != nil {
		c.Metrics.ApplyDefaults()
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := c.Reducer.Validate(); err != nil {
		return fmt.Errorf("reducer: %w", err)
	}

	if err := c.Families.Validate(); err != nil {
		return fmt.Errorf("families.%w", err)
	}

	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	if c.Scanner != nil {
		if err := c.Scanner.Validate(); err != nil {
			return fmt.Errorf("scanner: %w", err)
		}
	}

	if c.Notifier != nil {
		if err := c.Notifier.Validate(); err != nil {
			return fmt.Errorf("notifier: %w", err)
		}
	}

	if c.Maintenance != nil {
		if err := c.Maintenance.Validate(); err != nil {
			return err
		}
	}

	if c.Logging != nil {
		if err := c.Logging.Validate(); err != nil {
			return err
		}
	}

	if c.Metrics != nil {
		if err := c.Metrics.Validate(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
