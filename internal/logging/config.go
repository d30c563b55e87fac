package logging

import (
	"io"
	"os"
)

// Config selects the level and destination of the process logger.
type Config struct {
	// Level is the minimum level to emit (DEBUG, INFO, WARN, ERROR, FATAL).
	Level string
	// Output is "stdout", "stderr", or a file path opened for append.
	Output string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{Level: "info", Output: "stderr"}
}

// NewLogger builds a Logger from cfg. A nil cfg means DefaultConfig.
func NewLogger(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}
	return New(ParseLevel(cfg.Level), out), nil
}

func openOutput(output string) (io.Writer, error) {
	switch output {
	case "", "stderr":
		return os.Stderr, nil
	case "stdout":
		return os.Stdout, nil
	default:
		return os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	}
}
