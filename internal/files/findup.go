package files

import (
	"os"
	"path/filepath"
)

// FindUp walks from dir towards the filesystem root looking for an entry called name, returning its path or "" if there is none.
// Unreadable directories are skipped.
func FindUp(name, dir string) string {
	curDir := dir
	for {
		entries, err := os.ReadDir(curDir)
		if err == nil {
			for _, e := range entries {
				if name == e.Name() {
					return filepath.Join(curDir, name)
				}
			}
		}
		newDir := filepath.Dir(curDir)
		if newDir == curDir {
			return ""
		}
		curDir = newDir
	}
}

// FindExecutable resolves an interpreter path: an existing path is returned as an absolute path,
// otherwise the base name is searched for upwards from dir.
func FindExecutable(path, dir string) string {
	if _, err := os.Stat(path); err == nil {
		abs, err := filepath.Abs(path)
		if err == nil {
			return abs
		}
		return path
	}
	return FindUp(filepath.Base(path), dir)
}
