package obs

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/yanun0323/errors"

	"hft/pkg/exception"
)

// LogConfig selects level, sink and encoding for component logs.
type LogConfig struct {
	Level  string
	Sink   string
	Format string
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// NewLogger builds the component logger. Sink is stdout, stderr or a file
// path; Format is json or console. The returned closer releases the file sink.
func NewLogger(cfg LogConfig) (zerolog.Logger, io.Closer, error) {
	levelName := strings.TrimSpace(cfg.Level)
	if levelName == "" {
		levelName = "info"
	}
	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		return zerolog.Nop(), nil, errors.Wrapf(exception.ErrConfigInvalidValue, "logging.level %q", cfg.Level)
	}

	var (
		out    io.Writer
		closer io.Closer = nopCloser{}
	)
	switch sink := strings.TrimSpace(cfg.Sink); sink {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		file, err := os.OpenFile(sink, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, errors.Wrapf(exception.ErrConfigInvalidValue, "logging.sink %q: %v", sink, err)
		}
		out, closer = file, file
	}

	switch strings.ToLower(cfg.Format) {
	case "", "json":
	case "console", "pretty":
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339Nano}
	default:
		_ = closer.Close()
		return zerolog.Nop(), nil, errors.Wrapf(exception.ErrConfigInvalidValue, "logging.format %q", cfg.Format)
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger(), closer, nil
}

// Component derives a child logger tagged with the component name.
func Component(log zerolog.Logger, name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}
