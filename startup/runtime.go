package startup

import (
	"runtime"
	"runtime/debug"

	"github.com/KimMachineGun/automemlimit/memlimit"
	"go.uber.org/automaxprocs/maxprocs"
)

const memLimitRatio = 0.9

// RuntimeConfig is the go runtime sizing applied for the container.
type RuntimeConfig struct {
	GoMaxProcs int
	GoMemLimit int64
	GoVersion  string
}

// configureRuntime sets GOMEMLIMIT from the cgroup memory limit, leaving
// 10% headroom for memory the go runtime is unaware of, and GOMAXPROCS from
// the cgroup cpu quota. The returned func undoes GOMAXPROCS.
//
// If GOMEMLIMIT is already set or AUTOMEMLIMIT=off the memory limit is left
// alone.
func configureRuntime(log Logger) (*RuntimeConfig, func(), error) {
	cfg := RuntimeConfig{
		GoVersion: runtime.Version(),
	}

	_, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(memLimitRatio),
		memlimit.WithProvider(memlimit.FromCgroup),
	)
	if err != nil {
		// no cgroup, eg running outside a container
		log.Infof("memlimit not set: %v", err)
	}

	undo, err := maxprocs.Set(maxprocs.Logger(log.Infof))
	if err != nil {
		return nil, func() {}, err
	}

	cfg.GoMaxProcs = runtime.GOMAXPROCS(-1)
	cfg.GoMemLimit = debug.SetMemoryLimit(-1)
	return &cfg, undo, nil
}
