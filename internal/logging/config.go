package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// Output formats understood by NewLogger.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config holds the configuration for the logger.
type Config struct {
	// Level is the minimum log level to output (DEBUG, INFO, WARN, ERROR, FATAL)
	Level string `yaml:"level"`
	// Format is the output format (json, console)
	Format string `yaml:"format"`
	// Output is the output destination (stdout, stderr, or file path)
	Output string `yaml:"output"`
	// Development adds stack traces to warnings and makes DPanic panic.
	Development bool `yaml:"development"`
}

// DefaultConfig returns the default logging configuration.
func DefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: FormatJSON,
		Output: "stderr",
	}
}

// Validate rejects levels and formats the logger would otherwise silently
// replace with a default.
func (c *Config) Validate() error {
	if _, ok := lookupLevel(c.Level); !ok && strings.TrimSpace(c.Level) != "" {
		return fmt.Errorf("unknown log level %q", c.Level)
	}
	if _, ok := normalizeFormat(c.Format); !ok {
		return fmt.Errorf("unknown log format %q (want json or console)", c.Format)
	}
	return nil
}

// NewLogger validates cfg and creates a logger from it.
func NewLogger(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	output, err := getOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	format, _ := normalizeFormat(cfg.Format)
	return newLogger(ParseLevel(cfg.Level), output, format, cfg.Development), nil
}

// ParseLevel converts a string log level to LogLevel. Unknown levels map to
// InfoLevel.
func ParseLevel(level string) LogLevel {
	if l, ok := lookupLevel(level); ok {
		return l
	}
	return InfoLevel
}

func lookupLevel(level string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return DebugLevel, true
	case "INFO":
		return InfoLevel, true
	case "WARN", "WARNING":
		return WarnLevel, true
	case "ERROR":
		return ErrorLevel, true
	case "FATAL":
		return FatalLevel, true
	default:
		return "", false
	}
}

func normalizeFormat(format string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSON:
		return FormatJSON, true
	case FormatConsole, "text":
		return FormatConsole, true
	default:
		return "", false
	}
}

// getOutput returns an io.Writer for the given output destination.
func getOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	default:
		// Treat as file path
		file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log output: %w", err)
		}
		return file, nil
	}
}
