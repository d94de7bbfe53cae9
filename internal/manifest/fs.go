package manifest

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
)

// writeAtomic writes data beside name and renames it into place, so name
// either keeps its old content or holds all of data.
func writeAtomic(fs afero.Fs, name string, data []byte) (err error) {
	dir := filepath.Dir(name)
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp, err := afero.TempFile(fs, dir, "."+filepath.Base(name)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = fs.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmp.Name(), err)
	}
	if err := fs.Rename(tmp.Name(), name); err != nil {
		return fmt.Errorf("failed to rename %s: %w", tmp.Name(), err)
	}
	return nil
}

// writeFile writes rel under root, creating parent directories.
func writeFile(fs afero.Fs, root, rel string, data []byte) error {
	name := filepath.Join(root, filepath.FromSlash(rel))
	if err := fs.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(name), err)
	}
	if err := afero.WriteFile(fs, name, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}
