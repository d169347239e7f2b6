// profiling.go wires an optional continuous-profiling session via Grafana
// Pyroscope. It is off unless StartProfiling is called explicitly; nothing
// in this package starts it implicitly.
package metrics

import (
	"github.com/grafana/pyroscope-go"
)

// ProfilingConfig configures the continuous profiler.
type ProfilingConfig struct {
	// ApplicationName identifies this process in the profiling backend.
	ApplicationName string
	// ServerAddress is the Pyroscope server endpoint.
	ServerAddress string
	// Tags attaches static labels to every profile (e.g. chain id, node role).
	Tags map[string]string
}

// StartProfiling starts a Pyroscope profiler session and returns a stopper
// that must be called on shutdown. Profiles CPU and in-use heap allocations,
// the two profile types most useful for diagnosing slow block processing or
// unexpected state database growth.
func StartProfiling(cfg ProfilingConfig) (func() error, error) {
	p, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		Tags:            cfg.Tags,
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
		},
	})
	if err != nil {
		return nil, err
	}
	return p.Stop, nil
}
