package ops

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/yanun0323/errors"

	"hft/pkg/exception"
)

// Environment variables that override the config document.
const (
	EnvLogLevel      = "HFT_LOG_LEVEL"
	EnvLogFormat     = "HFT_LOG_FORMAT"
	EnvStatusAddr    = "HFT_STATUS_ADDR"
	EnvVenueEndpoint = "HFT_VENUE_ENDPOINT"
	EnvPostgresDSN   = "HFT_POSTGRES_DSN"
	EnvWALDir        = "HFT_WAL_DIR"
)

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without replacing variables that are already set. A missing
// default ".env" is not an error; a missing named file is.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		files = []string{".env"}
	}
	if err := godotenv.Load(files...); err != nil {
		return errors.Wrapf(exception.ErrConfigMissing, "load env %v: %v", files, err)
	}
	return nil
}

// ApplyEnv overwrites f with the HFT_* variables that are set.
func ApplyEnv(f *File, getenv func(string) string) {
	set := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	set(EnvLogLevel, &f.Logging.Level)
	set(EnvLogFormat, &f.Logging.Format)
	set(EnvStatusAddr, &f.Status.Addr)
	set(EnvVenueEndpoint, &f.Execution.VenueEndpoint)
	set(EnvPostgresDSN, &f.Persistence.PostgresDSN)
	set(EnvWALDir, &f.Persistence.WALDir)
}
