// Package config loads, validates, and hot-reloads the Job Coordinator's
// on-disk configuration file (YAML via viper), and notifies registered
// components when a reload changes values they care about.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jinzhu/copier"
	"github.com/spf13/viper"

	"github.com/javi11/nzbqueued/internal/pathutil"
)

// ProviderConfig is one NNTP server/provider entry, wired into
// internal/pool.
type ProviderConfig struct {
	ID               string `yaml:"id" mapstructure:"id"`
	Host             string `yaml:"host" mapstructure:"host"`
	Port             int    `yaml:"port" mapstructure:"port"`
	Username         string `yaml:"username" mapstructure:"username"`
	Password         string `yaml:"password" mapstructure:"password"`
	MaxConnections   int    `yaml:"max_connections" mapstructure:"max_connections"`
	TLS              bool   `yaml:"tls" mapstructure:"tls"`
	InsecureTLS      bool   `yaml:"insecure_tls" mapstructure:"insecure_tls"`
	ProxyURL         string `yaml:"proxy_url,omitempty" mapstructure:"proxy_url"`
	IsBackupProvider bool   `yaml:"is_backup_provider,omitempty" mapstructure:"is_backup_provider"`
}

// GenerateProviderID builds a stable id for a provider entry that did not
// specify one (host:port, lower-cased).
func GenerateProviderID(host string, port int) string {
	return strings.ToLower(fmt.Sprintf("%s:%d", host, port))
}

// QueueConfig configures the Disk-State Store and download admission.
type QueueConfig struct {
	// Dir is the queue directory: where the Disk-State Store's flat files
	// live. Article Writer temp files go to each job's destination
	// directory, not here.
	Dir string `yaml:"dir" mapstructure:"dir"`
	// FlushOnSave enables fsync on every atomic disk-state write.
	FlushOnSave bool `yaml:"flush_on_save" mapstructure:"flush_on_save"`
	// ArticleCacheMB bounds the Article Cache's in-RAM byte allocator.
	ArticleCacheMB int64 `yaml:"article_cache_mb" mapstructure:"article_cache_mb"`
}

// PostConfig configures the Pre/Post-Processor.
type PostConfig struct {
	// ScriptDirs are searched, in order, for a named post-script.
	ScriptDirs []string `yaml:"script_dirs" mapstructure:"script_dirs"`
	// Scripts run, in order, once a job finishes downloading.
	Scripts []string `yaml:"scripts" mapstructure:"scripts"`
	// ScriptTimeoutSeconds bounds how long one script or external step may
	// run before it is sent a cancellation.
	ScriptTimeoutSeconds int `yaml:"script_timeout_seconds" mapstructure:"script_timeout_seconds"`
	// ParRepairTimeLimitSeconds bounds the par-repair stage specifically
	// (0 means use ScriptTimeoutSeconds).
	ParRepairTimeLimitSeconds int `yaml:"par_repair_time_limit_seconds,omitempty" mapstructure:"par_repair_time_limit_seconds"`
	// ParCheck enables the par-check/repair stage.
	ParCheck bool `yaml:"par_check" mapstructure:"par_check"`
	// Unpack enables the archive-extraction stage.
	Unpack bool `yaml:"unpack" mapstructure:"unpack"`
	// HistoryKept parks finished jobs into history instead of discarding them.
	HistoryKept bool `yaml:"history_kept" mapstructure:"history_kept"`
}

// ScanConfig configures one watched incoming directory.
type ScanConfig struct {
	Dir              string `yaml:"dir" mapstructure:"dir"`
	Category         string `yaml:"category,omitempty" mapstructure:"category"`
	ScanScript       string `yaml:"scan_script,omitempty" mapstructure:"scan_script"`
	MinAgeSeconds    int    `yaml:"min_age_seconds" mapstructure:"min_age_seconds"`
	TickIntervalSecs int    `yaml:"tick_interval_seconds" mapstructure:"tick_interval_seconds"`
}

// ScheduleTaskConfig is one calendar entry for the Scheduler.
type ScheduleTaskConfig struct {
	Hour         int    `yaml:"hour" mapstructure:"hour"`
	Minute       int    `yaml:"minute" mapstructure:"minute"`
	WeekdayMask  int    `yaml:"weekday_mask,omitempty" mapstructure:"weekday_mask"`
	Command      string `yaml:"command" mapstructure:"command"` // pause, unpause, download_rate, process
	DownloadRate int    `yaml:"download_rate,omitempty" mapstructure:"download_rate"`
	Process      string `yaml:"process,omitempty" mapstructure:"process"`
}

// ScheduleConfig configures the Scheduler's task calendar.
type ScheduleConfig struct {
	Tasks []ScheduleTaskConfig `yaml:"tasks" mapstructure:"tasks"`
}

// DupeConfig configures the Duplicate Coordinator's default policy.
type DupeConfig struct {
	// DefaultMode is the dupe mode applied to a job that did not specify
	// one: "score", "all", or "force".
	DefaultMode string `yaml:"default_mode" mapstructure:"default_mode"`
	// CheckEnabled turns the admission-time dedupe pass on or off.
	CheckEnabled bool `yaml:"check_enabled" mapstructure:"check_enabled"`
}

// QueueScriptConfig configures the queue-event hook script.
type QueueScriptConfig struct {
	Scripts              []string `yaml:"scripts" mapstructure:"scripts"`
	EventIntervalSeconds int      `yaml:"event_interval_seconds" mapstructure:"event_interval_seconds"`
}

// LogConfig configures structured logging and log rotation (lumberjack).
type LogConfig struct {
	File       string `yaml:"file,omitempty" mapstructure:"file"`
	Level      string `yaml:"level" mapstructure:"level"`
	MaxSize    int    `yaml:"max_size" mapstructure:"max_size"` // megabytes
	MaxAge     int    `yaml:"max_age" mapstructure:"max_age"`   // days
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// Config is the complete on-disk configuration.
type Config struct {
	Providers   []ProviderConfig  `yaml:"providers" mapstructure:"providers"`
	Queue       QueueConfig       `yaml:"queue" mapstructure:"queue"`
	Post        PostConfig        `yaml:"post" mapstructure:"post"`
	Scan        []ScanConfig      `yaml:"scan" mapstructure:"scan"`
	Schedule    ScheduleConfig    `yaml:"schedule" mapstructure:"schedule"`
	Dupe        DupeConfig        `yaml:"dupe" mapstructure:"dupe"`
	QueueScript QueueScriptConfig `yaml:"queue_script" mapstructure:"queue_script"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// DeepCopy returns an independent copy, so a goroutine holding an old
// config value is unaffected by a concurrent reload.
func (c *Config) DeepCopy() *Config {
	var out Config
	if err := copier.CopyWithOption(&out, c, copier.Option{DeepCopy: true}); err != nil {
		// copier only fails on mismatched types, which cannot happen when
		// copying a Config onto a Config.
		panic(fmt.Sprintf("config: deep copy failed: %v", err))
	}
	return &out
}

// ProvidersEqual reports whether two configs have the same provider set,
// used by internal/pool to decide whether the connection pool needs
// recreating after a reload.
func (c *Config) ProvidersEqual(other *Config) bool {
	if len(c.Providers) != len(other.Providers) {
		return false
	}
	for i := range c.Providers {
		if c.Providers[i] != other.Providers[i] {
			return false
		}
	}
	return true
}

// ToNNTPProviders returns the provider list, assigning a generated id to
// any entry that did not specify one.
func (c *Config) ToNNTPProviders() []ProviderConfig {
	out := make([]ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		if p.ID == "" {
			p.ID = GenerateProviderID(p.Host, p.Port)
		}
		out[i] = p
	}
	return out
}

// Validate checks the configuration for internally inconsistent or
// unusable values.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one NNTP provider must be configured")
	}
	for i, p := range c.Providers {
		if p.Host == "" {
			return fmt.Errorf("provider[%d]: host is required", i)
		}
		if p.Port <= 0 || p.Port > 65535 {
			return fmt.Errorf("provider[%d]: invalid port %d", i, p.Port)
		}
		if p.MaxConnections <= 0 {
			return fmt.Errorf("provider[%d]: max_connections must be positive", i)
		}
	}

	if c.Queue.Dir == "" {
		return fmt.Errorf("queue.dir is required")
	}

	for i, s := range c.Scan {
		if s.Dir == "" {
			return fmt.Errorf("scan[%d]: dir is required", i)
		}
	}

	switch strings.ToLower(c.Dupe.DefaultMode) {
	case "", "score", "all", "force":
	default:
		return fmt.Errorf("dupe.default_mode: unknown mode %q", c.Dupe.DefaultMode)
	}

	for i, t := range c.Schedule.Tasks {
		switch strings.ToLower(t.Command) {
		case "pause", "unpause", "download_rate", "process":
		default:
			return fmt.Errorf("schedule.tasks[%d]: unknown command %q", i, t.Command)
		}
		if t.Hour < 0 || t.Hour > 23 {
			return fmt.Errorf("schedule.tasks[%d]: hour out of range", i)
		}
		if t.Minute < 0 || t.Minute > 59 {
			return fmt.Errorf("schedule.tasks[%d]: minute out of range", i)
		}
	}

	return nil
}

// ValidateDirectories checks that every directory this config names exists
// and is writable, creating it if necessary.
func (c *Config) ValidateDirectories() error {
	if err := pathutil.CheckDirectoryWritable(c.Queue.Dir); err != nil {
		return fmt.Errorf("queue directory: %w", err)
	}
	for i, s := range c.Scan {
		if err := pathutil.CheckDirectoryWritable(s.Dir); err != nil {
			return fmt.Errorf("scan[%d] directory: %w", i, err)
		}
	}
	if err := pathutil.CheckFileDirectoryWritable(c.Log.File, "log"); err != nil {
		return err
	}
	return nil
}

// ChangeCallback is invoked after a successful reload with the previous and
// new configuration.
type ChangeCallback func(oldConfig, newConfig *Config)

// Manager owns the live configuration and notifies subscribers on reload.
type Manager struct {
	mu        sync.RWMutex
	config    *Config
	path      string
	callbacks []ChangeCallback
}

// NewManager loads path and returns a ready Manager.
func NewManager(path string) (*Manager, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return &Manager{
		config: cfg,
		path:   path,
	}, nil
}

// GetConfig returns a deep copy of the current configuration, safe to read
// without holding any lock.
func (m *Manager) GetConfig() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.DeepCopy()
}

// OnConfigChange registers cb to run after every successful reload.
func (m *Manager) OnConfigChange(cb ChangeCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// ValidateConfig validates cfg without installing it.
func (m *Manager) ValidateConfig(cfg *Config) error {
	return cfg.Validate()
}

// UpdateConfig installs newConfig after validating it, and runs every
// registered callback with the old/new pair.
func (m *Manager) UpdateConfig(newConfig *Config) error {
	if err := newConfig.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	m.mu.Lock()
	oldConfig := m.config
	m.config = newConfig
	callbacks := append([]ChangeCallback(nil), m.callbacks...)
	m.mu.Unlock()

	for _, cb := range callbacks {
		cb(oldConfig, newConfig)
	}
	return nil
}

// ReloadConfig re-reads the configuration file from disk and installs it.
func (m *Manager) ReloadConfig() error {
	cfg, err := LoadConfig(m.path)
	if err != nil {
		return fmt.Errorf("config: reload: %w", err)
	}
	return m.UpdateConfig(cfg)
}

// SaveConfig validates cfg, writes it to the manager's config file, then
// installs it exactly as ReloadConfig would.
func (m *Manager) SaveConfig(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := SaveToFile(cfg, m.path); err != nil {
		return err
	}
	return m.UpdateConfig(cfg)
}

// DefaultConfig returns a usable Config with sensible defaults. configDir,
// if given, anchors relative default paths (queue dir, log file) under it.
func DefaultConfig(configDir ...string) *Config {
	base := "."
	if len(configDir) > 0 && configDir[0] != "" {
		base = configDir[0]
	}

	return &Config{
		Queue: QueueConfig{
			Dir:            filepath.Join(base, "queue"),
			FlushOnSave:    true,
			ArticleCacheMB: 64,
		},
		Post: PostConfig{
			ScriptTimeoutSeconds: 3600,
			ParCheck:             true,
			Unpack:               true,
			HistoryKept:          true,
		},
		Scan: []ScanConfig{
			{
				Dir:              filepath.Join(base, "incoming"),
				MinAgeSeconds:    5,
				TickIntervalSecs: 5,
			},
		},
		Dupe: DupeConfig{
			DefaultMode:  "score",
			CheckEnabled: true,
		},
		Log: LogConfig{
			File:       filepath.Join(base, "nzbqueued.log"),
			Level:      "info",
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 5,
			Compress:   true,
		},
	}
}

// SaveToFile writes cfg as YAML to path, creating parent directories as
// needed.
func SaveToFile(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)

	m := map[string]any{
		"providers":    cfg.Providers,
		"queue":        cfg.Queue,
		"post":         cfg.Post,
		"scan":         cfg.Scan,
		"schedule":     cfg.Schedule,
		"dupe":         cfg.Dupe,
		"queue_script": cfg.QueueScript,
		"log":          cfg.Log,
	}
	for k, val := range m {
		v.Set(k, val)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// LoadConfig reads and parses the configuration file at path, layering
// defaults from DefaultConfig underneath whatever the file specifies. A
// missing file is not an error: it yields DefaultConfig so a first run can
// proceed and save its own config later.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("NZBQUEUED")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(filepath.Dir(path)), nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := DefaultConfig(filepath.Dir(path))
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// GetConfigFilePath returns the default config file path, honoring
// NZBQUEUED_CONFIG if set, else config.yaml under configDir.
func GetConfigFilePath(configDir string) string {
	if v := os.Getenv("NZBQUEUED_CONFIG"); v != "" {
		return v
	}
	return filepath.Join(configDir, "config.yaml")
}
