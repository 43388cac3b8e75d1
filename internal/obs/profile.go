package obs

import (
	"github.com/grafana/pyroscope-go"
	"github.com/rs/zerolog"
	"github.com/yanun0323/errors"
)

// ProfileConfig points the continuous profiler at a pyroscope server.
type ProfileConfig struct {
	Application string
	Server      string
	Tags        map[string]string
}

type profileLogger struct {
	log zerolog.Logger
}

func (l profileLogger) Infof(format string, args ...interface{})  { l.log.Debug().Msgf(format, args...) }
func (l profileLogger) Debugf(format string, args ...interface{}) { l.log.Trace().Msgf(format, args...) }
func (l profileLogger) Errorf(format string, args ...interface{}) { l.log.Warn().Msgf(format, args...) }

// StartProfiler starts CPU and allocation profiling. The returned func stops it.
func StartProfiler(cfg ProfileConfig, log zerolog.Logger) (func(), error) {
	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.Application,
		ServerAddress:   cfg.Server,
		Tags:            cfg.Tags,
		Logger:          profileLogger{log: Component(log, "pyroscope")},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, errors.Wrapf(err, "start pyroscope %s", cfg.Server)
	}
	return func() { _ = profiler.Stop() }, nil
}
