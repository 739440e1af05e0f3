package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validTestConfig() *Config {
	return &Config{
		Providers: []ProviderConfig{
			{Host: "news.example.com", Port: 563, MaxConnections: 10},
		},
		Queue: QueueConfig{
			Dir: "/tmp/queue",
		},
		Scan: []ScanConfig{
			{Dir: "/tmp/incoming"},
		},
		Dupe: DupeConfig{
			DefaultMode: "score",
		},
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		wantErr     bool
		errContains string
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:        "no providers",
			mutate:      func(c *Config) { c.Providers = nil },
			wantErr:     true,
			errContains: "at least one NNTP provider",
		},
		{
			name:        "provider missing host",
			mutate:      func(c *Config) { c.Providers[0].Host = "" },
			wantErr:     true,
			errContains: "host is required",
		},
		{
			name:        "provider invalid port",
			mutate:      func(c *Config) { c.Providers[0].Port = 0 },
			wantErr:     true,
			errContains: "invalid port",
		},
		{
			name:        "provider zero max connections",
			mutate:      func(c *Config) { c.Providers[0].MaxConnections = 0 },
			wantErr:     true,
			errContains: "max_connections",
		},
		{
			name:        "missing queue dir",
			mutate:      func(c *Config) { c.Queue.Dir = "" },
			wantErr:     true,
			errContains: "queue.dir",
		},
		{
			name:        "missing scan dir",
			mutate:      func(c *Config) { c.Scan[0].Dir = "" },
			wantErr:     true,
			errContains: "scan[0]: dir",
		},
		{
			name:        "invalid dupe mode",
			mutate:      func(c *Config) { c.Dupe.DefaultMode = "bogus" },
			wantErr:     true,
			errContains: "dupe.default_mode",
		},
		{
			name: "invalid schedule command",
			mutate: func(c *Config) {
				c.Schedule.Tasks = []ScheduleTaskConfig{{Hour: 1, Minute: 0, Command: "nope"}}
			},
			wantErr:     true,
			errContains: "unknown command",
		},
		{
			name: "schedule hour out of range",
			mutate: func(c *Config) {
				c.Schedule.Tasks = []ScheduleTaskConfig{{Hour: 25, Minute: 0, Command: "pause"}}
			},
			wantErr:     true,
			errContains: "hour out of range",
		},
		{
			name: "valid schedule task",
			mutate: func(c *Config) {
				c.Schedule.Tasks = []ScheduleTaskConfig{{Hour: 3, Minute: 30, Command: "unpause"}}
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if tt.errContains != "" {
					assert.Contains(t, err.Error(), tt.errContains)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_DeepCopy_Independent(t *testing.T) {
	cfg := validTestConfig()
	cp := cfg.DeepCopy()

	cp.Providers[0].Host = "changed.example.com"
	cp.Scan[0].Dir = "/tmp/other"

	assert.Equal(t, "news.example.com", cfg.Providers[0].Host)
	assert.Equal(t, "/tmp/incoming", cfg.Scan[0].Dir)
}

func TestConfig_ProvidersEqual(t *testing.T) {
	a := validTestConfig()
	b := validTestConfig()
	assert.True(t, a.ProvidersEqual(b))

	b.Providers[0].Host = "other.example.com"
	assert.False(t, a.ProvidersEqual(b))
}

func TestConfig_ToNNTPProviders_GeneratesID(t *testing.T) {
	cfg := validTestConfig()
	providers := cfg.ToNNTPProviders()
	assert.Equal(t, "news.example.com:563", providers[0].ID)
}

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig("/tmp/app")
	cfg.Providers = []ProviderConfig{{Host: "news.example.com", Port: 563, MaxConnections: 10}}
	assert.NoError(t, cfg.Validate())
}
