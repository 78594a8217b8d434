// Package guard switches the process into test mode when imported, so
// binaries exercised from tests never dial Postgres, Redis or RabbitMQ.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("VOYAGE_TEST_MODE") == "" {
			_ = os.Setenv("VOYAGE_TEST_MODE", "1")
		}
		if os.Getenv("AUDIT_SINK") == "" {
			_ = os.Setenv("AUDIT_SINK", "log")
		}
	})
}
