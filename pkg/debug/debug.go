// Package debug provides category-based debug logging for agentbox.
//
// Two orthogonal controls:
//   - Categories (WHAT to debug): AGENTBOX_DEBUG env or config
//   - Levels (HOW MUCH detail): AGENTBOX_LOG_LEVEL env or config
//
// Usage:
//
//	debug.Log("pool", "sandbox acquired", "sandbox_id", id, "pool_size", n)
//	if debug.Enabled("pool") { /* expensive formatting */ }
//
// Categories: pool, sandbox, run, stream, auth, transport, storage, config, all.
// Levels: ERROR, WARN, INFO, DEBUG, TRACE.
package debug

import (
	"log/slog"
	"os"
	"strings"
)

// LevelTrace is below slog.LevelDebug. At TRACE, full untruncated
// provider NDJSON event lines are logged.
const LevelTrace = slog.LevelDebug - 4

// categories is the enabled category set. Written by Init at startup
// and by the package init, read-only afterwards.
var categories map[string]bool

func init() {
	categories = parseCategories(os.Getenv("AGENTBOX_DEBUG"))
}

// Init configures debug categories and the default slog level from
// config values. Environment variables win over config.
func Init(configCategories, configLevel string) {
	categories = parseCategories(firstNonEmpty(os.Getenv("AGENTBOX_DEBUG"), configCategories))

	level := firstNonEmpty(os.Getenv("AGENTBOX_LOG_LEVEL"), configLevel, "INFO")
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})))
}

// Enabled reports whether debug output is active for the category.
func Enabled(category string) bool {
	return categories["all"] || categories[category]
}

// Log emits a debug message for the category; a no-op when the
// category is not enabled.
func Log(category string, msg string, args ...any) {
	if !Enabled(category) {
		return
	}
	slog.Debug(msg, append([]any{"debug", category}, args...)...)
}

// ParseLevel converts a level string to a slog.Level. Unknown values
// fall back to INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Truncate shortens s to maxLen characters, appending "..." when cut.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func parseCategories(s string) map[string]bool {
	m := make(map[string]bool)
	for _, cat := range strings.Split(s, ",") {
		cat = strings.TrimSpace(strings.ToLower(cat))
		if cat != "" {
			m[cat] = true
		}
	}
	return m
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
