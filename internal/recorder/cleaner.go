package recorder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// FileCleaner removes local artifacts
type FileCleaner struct{}

// Clean deletes path. A missing file is not an error so a redelivered job
// can clean up again.
func (FileCleaner) Clean(_ context.Context, path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove artifact: %w", err)
	}
	return nil
}
