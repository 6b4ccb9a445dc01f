// Package guard prepares the process environment for tests when imported for
// side effects. Variables the caller already set are left alone.
package guard

import "os"

// Defaults holds the variables a test process needs: test mode on, and a
// signing secret long enough for app.LoadConfig.
var Defaults = map[string]string{
	"DANMU_TEST_MODE": "1",
	"JWT_SECRET":      "test-secret-test-secret-test-secret",
}

func init() {
	Apply()
}

// Apply sets every default that is missing from the environment.
func Apply() {
	for key, value := range Defaults {
		if _, ok := os.LookupEnv(key); !ok {
			_ = os.Setenv(key, value)
		}
	}
}
