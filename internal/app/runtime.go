package app

import (
	"os"
	"sync/atomic"
)

const testModeEnv = "TAXDESK_TEST_MODE"

var testMode atomic.Pointer[bool]

// InTestMode reports whether binaries should skip network side effects. The
// flag is read from TAXDESK_TEST_MODE on first use.
func InTestMode() bool {
	if v := testMode.Load(); v != nil {
		return *v
	}
	return RefreshTestMode()
}

// RefreshTestMode re-reads the flag after environment changes.
func RefreshTestMode() bool {
	on := os.Getenv(testModeEnv) == "1"
	testMode.Store(&on)
	return on
}
