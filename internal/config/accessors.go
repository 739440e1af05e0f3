package config

import "time"

// Queue config accessor methods with default fallbacks.

// GetArticleCacheBytes returns the Article Cache's byte limit, with a
// default fallback.
func (c *Config) GetArticleCacheBytes() int64 {
	if c.Queue.ArticleCacheMB <= 0 {
		return 64 * 1024 * 1024 // Default: 64 MB
	}
	return c.Queue.ArticleCacheMB * 1024 * 1024
}

// Post config accessor methods.

// GetScriptTimeout returns the post-processing script timeout with a
// default fallback.
func (c *Config) GetScriptTimeout() time.Duration {
	if c.Post.ScriptTimeoutSeconds <= 0 {
		return time.Hour // Default: 1 hour
	}
	return time.Duration(c.Post.ScriptTimeoutSeconds) * time.Second
}

// GetParRepairTimeLimit returns the par-repair time limit, falling back to
// the general script timeout when unset.
func (c *Config) GetParRepairTimeLimit() time.Duration {
	if c.Post.ParRepairTimeLimitSeconds <= 0 {
		return c.GetScriptTimeout()
	}
	return time.Duration(c.Post.ParRepairTimeLimitSeconds) * time.Second
}

// Scan config accessor methods.

// GetMinAge returns the minimum stable age a scan entry must reach before
// admission, with a default fallback.
func (s ScanConfig) GetMinAge() time.Duration {
	if s.MinAgeSeconds <= 0 {
		return 5 * time.Second // Default: 5 seconds
	}
	return time.Duration(s.MinAgeSeconds) * time.Second
}

// GetTickInterval returns the polling interval for this scan entry, with a
// default fallback.
func (s ScanConfig) GetTickInterval() time.Duration {
	if s.TickIntervalSecs <= 0 {
		return 5 * time.Second // Default: 5 seconds
	}
	return time.Duration(s.TickIntervalSecs) * time.Second
}

// QueueScript config accessor methods.

// GetEventInterval returns the minimum spacing between queue-script
// invocations, with a default fallback of 0 (no throttling).
func (c *Config) GetEventInterval() time.Duration {
	if c.QueueScript.EventIntervalSeconds <= 0 {
		return 0
	}
	return time.Duration(c.QueueScript.EventIntervalSeconds) * time.Second
}
