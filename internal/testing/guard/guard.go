package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("GATHERLY_TEST_MODE") == "" {
			_ = os.Setenv("GATHERLY_TEST_MODE", "1")
		}
	})
}
