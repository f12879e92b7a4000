package config

import (
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"

	"github.com/conneroisu/pagecraft/internal/logging"
)

// ValidationError represents a configuration validation error with suggestions
type ValidationError struct {
	Field       string
	Value       interface{}
	Message     string
	Suggestions []string
}

func (ve *ValidationError) Error() string {
	return fmt.Sprintf("validation error in %s: %s", ve.Field, ve.Message)
}

// ValidationResult holds the result of configuration validation
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// HasErrors returns true if there are any validation errors
func (vr *ValidationResult) HasErrors() bool {
	return len(vr.Errors) > 0
}

// HasWarnings returns true if there are any validation warnings
func (vr *ValidationResult) HasWarnings() bool {
	return len(vr.Warnings) > 0
}

func (vr *ValidationResult) addError(field string, value interface{}, message string, suggestions ...string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

func (vr *ValidationResult) addWarning(field string, value interface{}, message string, suggestions ...string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: message, Suggestions: suggestions})
}

// String returns a formatted string of all validation issues
func (vr *ValidationResult) String() string {
	var builder strings.Builder

	write := func(title string, issues []ValidationError) {
		if len(issues) == 0 {
			return
		}
		builder.WriteString(title + ":\n")
		for _, issue := range issues {
			builder.WriteString(fmt.Sprintf("  • %s: %s\n", issue.Field, issue.Message))
			for _, suggestion := range issue.Suggestions {
				builder.WriteString(fmt.Sprintf("    hint: %s\n", suggestion))
			}
		}
	}
	write("Validation errors", vr.Errors)
	write("Validation warnings", vr.Warnings)

	return builder.String()
}

// ValidateConfigWithDetails performs comprehensive validation with detailed feedback
func ValidateConfigWithDetails(config *Config) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	validateServerConfigDetails(&config.Server, result)
	validateSyncConfigDetails(&config.Sync, result)
	validateStorageConfigDetails(&config.Storage, result)
	validateTemplatesConfigDetails(&config.Templates, result)
	validateLogConfigDetails(&config.Log, result)

	result.Valid = !result.HasErrors()
	return result
}

func validateServerConfigDetails(config *ServerConfig, result *ValidationResult) {
	if config.Port < 0 || config.Port > 65535 {
		result.addError("server.port", config.Port,
			fmt.Sprintf("port %d is not in valid range 0-65535", config.Port),
			"Use a port between 1024-65535 for non-privileged access",
			"Port 0 allows system to assign an available port",
		)
	} else if config.Port > 0 && config.Port < 1024 {
		result.addWarning("server.port", config.Port,
			"port below 1024 requires elevated privileges",
			"Consider using a port above 1024",
		)
	}

	if config.Host != "" {
		if err := validateHostname(config.Host); err != nil {
			result.addError("server.host", config.Host, err.Error(),
				"Use 'localhost' for local editing",
				"Use '0.0.0.0' to bind to all interfaces",
			)
		}
	}

	for _, origin := range config.AllowedOrigins {
		if strings.Contains(origin, "://") {
			result.addWarning("server.allowed_origins", origin,
				"origin patterns match hosts, not URLs",
				fmt.Sprintf("Use %q", origin[strings.Index(origin, "://")+3:]),
			)
		}
	}

	if config.ShutdownGrace < 0 {
		result.addError("server.shutdown_grace", config.ShutdownGrace, "must not be negative")
	}
}

func validateSyncConfigDetails(config *SyncConfig, result *ValidationResult) {
	if config.HeartbeatInterval <= 0 {
		result.addError("sync.heartbeat_interval", config.HeartbeatInterval, "must be positive",
			"A few seconds is typical, e.g. 10s")
	}
	if config.HeartbeatTimeout <= config.HeartbeatInterval {
		result.addError("sync.heartbeat_timeout", config.HeartbeatTimeout,
			"must be longer than the heartbeat interval",
			fmt.Sprintf("Use at least %s", 2*config.HeartbeatInterval),
		)
	}
	if config.JournalSize <= 0 {
		result.addError("sync.journal_size", config.JournalSize, "must be positive")
	} else if config.MaxReplayGap > uint64(config.JournalSize) {
		result.addWarning("sync.max_replay_gap", config.MaxReplayGap,
			"larger than the journal; long gaps will fall back to snapshots anyway",
			fmt.Sprintf("Use at most %d", config.JournalSize),
		)
	}
	if config.SendBuffer <= 0 {
		result.addError("sync.send_buffer", config.SendBuffer, "must be positive")
	}
	if config.ResyncWindow <= 0 {
		result.addError("sync.resync_window", config.ResyncWindow, "must be positive")
	}
	if config.ResyncAttempts <= 0 {
		result.addError("sync.resync_attempts", config.ResyncAttempts, "must be positive")
	}

	b := config.Backoff
	if b.Initial <= 0 {
		result.addError("sync.backoff.initial", b.Initial, "must be positive")
	}
	if b.Max < b.Initial {
		result.addError("sync.backoff.max", b.Max, "must not be below the initial delay")
	}
	if b.Multiplier < 1 {
		result.addError("sync.backoff.multiplier", b.Multiplier, "must be at least 1",
			"2 doubles the delay after every failed attempt")
	}
	if b.MaxRetries < 0 {
		result.addError("sync.backoff.max_retries", b.MaxRetries, "must not be negative",
			"0 retries forever")
	}
	if b.Jitter < 0 || b.Jitter > 1 {
		result.addError("sync.backoff.jitter", b.Jitter, "must be between 0 and 1")
	}
}

func validateStorageConfigDetails(config *StorageConfig, result *ValidationResult) {
	switch config.Driver {
	case "sqlite":
		if config.Path == "" {
			result.addError("storage.path", config.Path, "sqlite storage needs a database path",
				"The default is .pagecraft/pages.db")
		}
	case "memory":
		result.addWarning("storage.driver", config.Driver, "pages are lost when the server stops")
	default:
		result.addError("storage.driver", config.Driver, "unknown storage driver",
			"Supported drivers: sqlite, memory")
	}

	if _, err := cron.ParseStandard(config.FlushSchedule); err != nil {
		result.addError("storage.flush_schedule", config.FlushSchedule, err.Error(),
			"Use a cron expression such as '*/5 * * * *'",
			"Or a descriptor such as '@every 30s'",
		)
	}
}

func validateTemplatesConfigDetails(config *TemplatesConfig, result *ValidationResult) {
	if config.Dir == "" {
		if config.Watch {
			result.addWarning("templates.watch", config.Watch, "nothing to watch without templates.dir")
		}
		return
	}
	if err := validatePath(config.Dir); err != nil {
		result.addError("templates.dir", config.Dir, err.Error(),
			"Use a relative directory inside the project, e.g. 'templates'")
	}
}

func validateLogConfigDetails(config *LogConfig, result *ValidationResult) {
	if _, err := logging.ParseLevel(config.Level); err != nil {
		result.addError("log.level", config.Level, err.Error(),
			"Supported levels: debug, info, warn, error")
	}
	if config.Format != "text" && config.Format != "json" {
		result.addError("log.format", config.Format, "unknown log format",
			"Supported formats: text, json")
	}
}

var hostnameRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?(\.[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?)*$`)

func validateHostname(host string) error {
	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
	for _, char := range dangerousChars {
		if strings.Contains(host, char) {
			return fmt.Errorf("contains dangerous character: %s", char)
		}
	}

	if net.ParseIP(host) != nil || host == "localhost" {
		return nil
	}
	if !hostnameRegex.MatchString(host) {
		return fmt.Errorf("invalid hostname format")
	}
	return nil
}

// validatePath rejects traversal and shell metacharacters.
func validatePath(path string) error {
	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("path contains traversal: %s", path)
	}

	dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'"}
	for _, char := range dangerousChars {
		if strings.Contains(cleanPath, char) {
			return fmt.Errorf("path contains dangerous character: %s", char)
		}
	}
	return nil
}
