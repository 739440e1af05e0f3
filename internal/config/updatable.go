package config

import "log/slog"

// LoggingUpdater defines the interface for components that can update
// logging levels dynamically.
type LoggingUpdater interface {
	UpdateDebugMode(debug bool) error
}

// DirectoryUpdater defines the interface for components that can update
// a watched directory path, used to push a changed scan directory to the
// Scanner without a restart.
type DirectoryUpdater interface {
	UpdateWatchDirectory(path string) error
}

// ComponentRegistry holds references to components that react to a
// configuration reload without needing a process restart.
type ComponentRegistry struct {
	Logging   LoggingUpdater
	Directory DirectoryUpdater
	logger    *slog.Logger
}

// NewComponentRegistry creates a new, empty component registry.
func NewComponentRegistry(logger *slog.Logger) *ComponentRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	return &ComponentRegistry{
		logger: logger,
	}
}

// RegisterLogging registers a logging updater.
func (r *ComponentRegistry) RegisterLogging(updater LoggingUpdater) {
	r.Logging = updater
}

// RegisterDirectory registers a directory updater.
func (r *ComponentRegistry) RegisterDirectory(updater DirectoryUpdater) {
	r.Directory = updater
}

// ApplyUpdates pushes the parts of a configuration change that can be
// applied live to their registered components. Everything else (provider
// changes, schedule changes) is handled by its own OnConfigChange callback
// elsewhere; this registry only covers cross-cutting components that don't
// own a config.Manager subscription themselves.
func (r *ComponentRegistry) ApplyUpdates(oldConfig, newConfig *Config) {
	if len(oldConfig.Scan) > 0 && len(newConfig.Scan) > 0 && oldConfig.Scan[0].Dir != newConfig.Scan[0].Dir {
		if r.Directory != nil {
			if err := r.Directory.UpdateWatchDirectory(newConfig.Scan[0].Dir); err != nil {
				r.logger.Error("failed to update watched scan directory", "err", err)
			} else {
				r.logger.Info("watched scan directory updated",
					"old", oldConfig.Scan[0].Dir,
					"new", newConfig.Scan[0].Dir)
			}
		}
	}
}
