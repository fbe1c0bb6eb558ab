package storage

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	logx "taskplanner/pkg/logx"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "", "memory":
		return NewMemory(), nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
}

func newID() string { return uuid.NewString() }

// nowUTC is swapped in tests.
var nowUTC = func() time.Time { return time.Now().UTC() }
