package telemetry

import (
	"errors"

	"github.com/steveyegge/converge/internal/storage"
)

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrNotFound)
}
