// Package testing forces test mode for packages that import it, so binaries
// and helpers never dial Redis, Postgres or the remote API during go test.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("TAXDESK_TEST_MODE", "1")
		if os.Getenv("REMOTE_API_URL") == "" {
			_ = os.Setenv("REMOTE_API_URL", "http://127.0.0.1:0/api")
		}
	})
}

func init() {
	ensureTestMode()
}

// TestMain can be re-exported by packages that want an explicit entry point.
func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
