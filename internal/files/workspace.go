package files

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrPathTraversal is returned for names that are absolute or resolve outside the workspace root.
	ErrPathTraversal = errors.New("path escapes workspace")
	// ErrNotFound is returned when a file is missing, including when it disappeared after being listed.
	ErrNotFound = errors.New("no such file in workspace")
)

// Workspace is the directory the interpreter runs in and that redirected output is written to.
// All caller-supplied names are resolved relative to its root and must stay inside it.
type Workspace struct {
	root string
}

// NewWorkspace creates dir if needed and returns a Workspace rooted at its absolute path.
func NewWorkspace(dir string) (*Workspace, error) {
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace dir %q: %w", dir, err)
	}
	err = os.MkdirAll(root, 0o755)
	if err != nil {
		return nil, fmt.Errorf("creating workspace dir %q: %w", root, err)
	}
	return &Workspace{root: root}, nil
}

func (w *Workspace) Root() string { return w.root }

// Resolve maps name onto an absolute path inside the workspace without touching the filesystem.
func (w *Workspace) Resolve(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("empty file name: %w", ErrPathTraversal)
	}
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%q: %w", name, ErrPathTraversal)
	}
	p := filepath.Join(w.root, name)
	rel, err := filepath.Rel(w.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%q: %w", name, ErrPathTraversal)
	}
	return p, nil
}

// List returns the sorted names of the non-hidden entries in the workspace root.
func (w *Workspace) List() ([]string, error) {
	entries, err := os.ReadDir(w.root)
	if err != nil {
		return nil, fmt.Errorf("listing workspace: %w", err)
	}
	names := []string{}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// ReadFile reads up to limit bytes of name. A non-positive limit reads the whole file.
func (w *Workspace) ReadFile(name string, limit int64) ([]byte, error) {
	p, err := w.Resolve(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("opening %q: %w", name, err)
	}
	defer f.Close()

	var r io.Reader = f
	if limit > 0 {
		r = io.LimitReader(f, limit)
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", name, err)
	}
	return b, nil
}

// WriteFile writes data to name, truncating it unless appendMode is set.
func (w *Workspace) WriteFile(name string, data []byte, appendMode bool) error {
	p, err := w.Resolve(name)
	if err != nil {
		return err
	}
	err = os.MkdirAll(filepath.Dir(p), 0o755)
	if err != nil {
		return fmt.Errorf("making intermediate dirs: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(p, flags, 0o644)
	if err != nil {
		return fmt.Errorf("opening %q: %w", name, err)
	}
	_, err = f.Write(data)
	if err != nil {
		f.Close()
		return fmt.Errorf("writing %q: %w", name, err)
	}
	return f.Close()
}

// Remove deletes name. A missing file is not an error.
func (w *Workspace) Remove(name string) error {
	p, err := w.Resolve(name)
	if err != nil {
		return err
	}
	err = os.Remove(p)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing %q: %w", name, err)
	}
	return nil
}
