package app

import (
	"sync"

	"github.com/kelseyhightower/envconfig"
)

// runtimeFlags are process switches read apart from Config, so binaries can
// consult them before a full configuration loads.
type runtimeFlags struct {
	TestMode bool `envconfig:"DANMU_TEST_MODE" default:"false"`
}

var (
	flagsMu sync.Mutex
	flags   *runtimeFlags
)

func readRuntimeFlags() runtimeFlags {
	var f runtimeFlags
	if err := envconfig.Process("", &f); err != nil {
		return runtimeFlags{}
	}
	return f
}

// InTestMode reports whether the process runs under tests. The binaries skip
// connecting to Postgres and Redis in that mode.
func InTestMode() bool {
	flagsMu.Lock()
	defer flagsMu.Unlock()
	if flags == nil {
		f := readRuntimeFlags()
		flags = &f
	}
	return flags.TestMode
}

// RefreshTestMode re-reads the flags after environment changes.
func RefreshTestMode() {
	flagsMu.Lock()
	defer flagsMu.Unlock()
	f := readRuntimeFlags()
	flags = &f
}
