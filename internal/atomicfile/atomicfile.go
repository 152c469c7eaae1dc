// Package atomicfile replaces files so readers see either the old or the new
// content, never a partial write.
package atomicfile

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/kimhsiao/arcache/internal/logging"
)

// tempInfix marks in-flight temp files.
const tempInfix = ".tmp-"

// Options controls the final rename.
type Options struct {
	// RenameAttempts is the number of rename tries. Zero means 3.
	RenameAttempts uint
	// RenameDelay is the initial back-off between tries. Zero means 20ms.
	RenameDelay time.Duration
	// Perm is the mode of the final file. Zero means 0644.
	Perm os.FileMode
}

func (o Options) withDefaults() Options {
	if o.RenameAttempts == 0 {
		o.RenameAttempts = 3
	}
	if o.RenameDelay == 0 {
		o.RenameDelay = 20 * time.Millisecond
	}
	if o.Perm == 0 {
		o.Perm = 0644
	}
	return o
}

// IsTemp reports whether name looks like an in-flight temp file.
func IsTemp(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, tempInfix)
}

// Write streams r into a temp file next to path, syncs it and renames it over
// path. The directory of path must exist. The temp file is removed on failure.
func Write(path string, r io.Reader, opts Options) (int64, error) {
	opts = opts.withDefaults()
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+tempInfix+"*")
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, opts.Perm); err != nil {
		return 0, fmt.Errorf("failed to set file mode: %w", err)
	}

	err = retry.Do(
		func() error {
			return os.Rename(tmpName, path)
		},
		retry.Attempts(opts.RenameAttempts),
		retry.Delay(opts.RenameDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			logging.Warn("Retrying atomic rename",
				map[string]interface{}{
					"path":    path,
					"attempt": attempt + 1,
					"error":   err.Error(),
				})
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to rename temp file to %q: %w", path, err)
	}

	committed = true
	return n, nil
}

// WriteBytes is Write for an in-memory payload.
func WriteBytes(path string, data []byte, opts Options) error {
	_, err := Write(path, bytes.NewReader(data), opts)
	return err
}
