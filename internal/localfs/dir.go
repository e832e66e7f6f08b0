// Package localfs manages the local destination directory of a sync pass.
package localfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidName is returned for names that are not a single path element.
var ErrInvalidName = errors.New("localfs: invalid file name")

// Staged downloads carry this name until they are renamed into place. It is
// independent of the final name, whose length may reach the filesystem limit.
const (
	partPattern = ".s3downloader-*.part"
	partPrefix  = ".s3downloader-"
	partSuffix  = ".part"
)

// Dir is a destination directory. Files are only ever made visible under
// their final name by an atomic rename.
type Dir struct {
	path string
}

// Open creates path if needed and checks that it is a directory. Staged
// files left behind by an interrupted run are removed.
func Open(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create final directory %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat final directory %s: %w", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("final directory %s is not a directory", path)
	}

	d := &Dir{path: path}
	if err := d.removeStaged(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dir) removeStaged() error {
	entries, err := os.ReadDir(d.path)
	if err != nil {
		return fmt.Errorf("failed to read final directory %s: %w", d.path, err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || !isStaged(e.Name()) {
			continue
		}
		if err := os.Remove(d.PathOf(e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to remove staged file %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Path returns the directory path.
func (d *Dir) Path() string {
	return d.path
}

// PathOf returns the full path a file called name has in the directory.
func (d *Dir) PathOf(name string) string {
	return filepath.Join(d.path, name)
}

// Exists reports whether any entry named name is present in the directory.
// Content is not inspected.
func (d *Dir) Exists(name string) (bool, error) {
	if err := ValidName(name); err != nil {
		return false, err
	}

	_, err := os.Lstat(d.PathOf(name))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, fmt.Errorf("failed to check %s: %w", name, err)
	}
}

// Materialize copies r into a temporary file in the directory and renames
// it to name, replacing any existing file. On error nothing is left behind
// and any previous file under name is untouched.
func (d *Dir) Materialize(r io.Reader, name string) (written int64, err error) {
	if err := ValidName(name); err != nil {
		return 0, err
	}

	tmp, err := os.CreateTemp(d.path, partPattern)
	if err != nil {
		return 0, fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if written, err = io.Copy(tmp, r); err != nil {
		return 0, fmt.Errorf("failed writing %s: %w", name, err)
	}
	if err = tmp.Sync(); err != nil {
		return 0, fmt.Errorf("failed to sync %s: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return 0, fmt.Errorf("failed to close %s: %w", name, err)
	}
	if err = os.Chmod(tmpName, 0o644); err != nil {
		return 0, fmt.Errorf("failed to chmod %s: %w", name, err)
	}
	if err = os.Rename(tmpName, d.PathOf(name)); err != nil {
		return 0, fmt.Errorf("failed to move %s into place: %w", name, err)
	}

	return written, nil
}

// ValidName rejects anything that is not a plain file name on the local
// filesystem. A backslash is only a separator on Windows. Names that look
// like a staged download are reserved.
func ValidName(name string) error {
	switch {
	case name == "", name == ".", name == "..",
		strings.ContainsRune(name, '/'),
		strings.ContainsRune(name, 0),
		filepath.Separator == '\\' && strings.ContainsRune(name, '\\'),
		isStaged(name):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func isStaged(name string) bool {
	return strings.HasPrefix(name, partPrefix) && strings.HasSuffix(name, partSuffix)
}
