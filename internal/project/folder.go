// Package project provides the transactional view over a project directory:
// every file written during a session is registered with the Root, and only
// a committed session may delete what was not rewritten.
package project

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"

	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/agentic-research/pbixproj/internal/tree"
)

// ErrDestinationExists is returned when output would clobber existing data
// and overwriting was not requested.
var ErrDestinationExists = errors.New("destination already exists")

var errClosed = errors.New("project folder already closed")

const tempPrefix = ".pbixproj-tmp-"

// Root owns the write registry of one extract or compile session.
type Root struct {
	fs        billy.Filesystem
	log       *slog.Logger
	written   map[string]struct{}
	committed bool
	closed    bool
}

// New wraps fs. A nil logger means slog.Default().
func New(fs billy.Filesystem, logger *slog.Logger) *Root {
	if logger == nil {
		logger = slog.Default()
	}
	return &Root{
		fs:      fs,
		log:     logger,
		written: make(map[string]struct{}),
	}
}

// OpenDir creates dir if needed and returns a Root over it.
func OpenDir(dir string, logger *slog.Logger) (*Root, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create project dir %s: %w", dir, err)
	}
	return New(osfs.New(dir), logger), nil
}

// CheckDestination fails with ErrDestinationExists when dir exists and is not
// empty, unless overwrite is set. Called before any write happens.
func CheckDestination(dir string, overwrite bool) error {
	if overwrite {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		// A regular file at the destination also counts as occupied.
		if _, statErr := os.Stat(dir); statErr == nil {
			return fmt.Errorf("%s: %w", dir, ErrDestinationExists)
		}
		return err
	}
	if len(entries) > 0 {
		return fmt.Errorf("%s: %w", dir, ErrDestinationExists)
	}
	return nil
}

// Folder returns the view of the project root.
func (r *Root) Folder() *Folder {
	return &Folder{root: r}
}

// Commit marks the session successful. Only a committed Root prunes on Close.
func (r *Root) Commit() {
	r.committed = true
}

// Committed reports whether Commit was called.
func (r *Root) Committed() bool {
	return r.committed
}

// Written returns the registered paths, sorted.
func (r *Root) Written() []string {
	out := make([]string, 0, len(r.written))
	for p := range r.written {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Close ends the session. When committed, files that were not written during
// the session are deleted along with directories left empty; otherwise the
// tree is left exactly as it is.
func (r *Root) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if !r.committed {
		if len(r.written) > 0 {
			r.log.Debug("project session not committed, skipping cleanup", "written", len(r.written))
		}
		return nil
	}
	var errs []error
	if _, err := r.prune(""); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// prune deletes unregistered files below dir and reports whether dir ended up
// empty.
func (r *Root) prune(dir string) (bool, error) {
	infos, err := r.fs.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("list %s: %w", dir, err)
	}
	remaining := 0
	var errs []error
	for _, info := range infos {
		name := info.Name()
		p := path.Join(dir, name)
		// Top-level dot entries (.git, .vscode, the manifest) are never pruned.
		if dir == "" && strings.HasPrefix(name, ".") {
			remaining++
			continue
		}
		if info.IsDir() {
			empty, err := r.prune(p)
			if err != nil {
				errs = append(errs, err)
			}
			if empty {
				if err := r.fs.Remove(p); err != nil {
					errs = append(errs, fmt.Errorf("remove dir %s: %w", p, err))
					remaining++
				} else {
					r.log.Debug("removed empty directory", "path", p)
				}
			} else {
				remaining++
			}
			continue
		}
		if _, ok := r.written[p]; ok {
			remaining++
			continue
		}
		if err := r.fs.Remove(p); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
			remaining++
			continue
		}
		r.log.Debug("removed stale file", "path", p)
	}
	return remaining == 0, errors.Join(errs...)
}

// Folder is a lightweight view of a directory below the Root. All views of a
// Root share its write registry.
type Folder struct {
	root *Root
	base string
}

// Path returns the slash-separated path relative to the project root.
func (f *Folder) Path() string {
	return f.base
}

// Sub returns the view of a nested directory. Segments are used verbatim;
// callers escape untrusted names first.
func (f *Folder) Sub(segments ...string) *Folder {
	return &Folder{root: f.root, base: path.Join(append([]string{f.base}, segments...)...)}
}

func (f *Folder) path(name string) string {
	return path.Join(f.base, name)
}

// Exists reports whether the folder exists on disk.
func (f *Folder) Exists() bool {
	if f.base == "" {
		return true
	}
	info, err := f.root.fs.Stat(f.base)
	return err == nil && info.IsDir()
}

// FileExists reports whether name exists as a regular file.
func (f *Folder) FileExists(name string) bool {
	info, err := f.root.fs.Stat(f.path(name))
	return err == nil && !info.IsDir()
}

// ReadFile reads name. A missing file yields an error matching os.ErrNotExist.
func (f *Folder) ReadFile(name string) ([]byte, error) {
	file, err := f.root.fs.Open(f.path(name))
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()
	return io.ReadAll(file)
}

// ReadJSON reads and parses a JSON file.
func (f *Folder) ReadJSON(name string) (tree.Value, error) {
	data, err := f.ReadFile(name)
	if err != nil {
		return nil, err
	}
	v, err := tree.ParseJSON(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", f.path(name), err)
	}
	return v, nil
}

// WriteFile atomically replaces name with data and registers it. Unchanged
// content is not rewritten, keeping modification times stable.
func (f *Folder) WriteFile(name string, data []byte) error {
	if f.root.closed {
		return errClosed
	}
	target := f.path(name)
	f.root.written[target] = struct{}{}

	if existing, err := f.ReadFile(name); err == nil && bytes.Equal(existing, data) {
		return nil
	}

	dir := path.Dir(target)
	if dir != "." {
		if err := f.root.fs.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	// Atomic write: temp file in same dir, then rename
	tmp, err := util.TempFile(f.root.fs, dir, tempPrefix)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = f.root.fs.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = f.root.fs.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("close temp: %w", err)
	}
	if ch, ok := f.root.fs.(billy.Change); ok {
		_ = ch.Chmod(tmpName, 0o644) // best-effort permission sync
	}
	if err := f.root.fs.Rename(tmpName, target); err != nil {
		_ = f.root.fs.Remove(tmpName) // best-effort cleanup
		return fmt.Errorf("rename temp to %s: %w", target, err)
	}
	return nil
}

// WriteText writes s as a UTF-8 file.
func (f *Folder) WriteText(name, s string) error {
	return f.WriteFile(name, []byte(s))
}

// WriteJSON writes v as indented JSON. Canonicalization is the caller's job.
func (f *Folder) WriteJSON(name string, v tree.Value) error {
	return f.WriteFile(name, tree.MarshalIndent(v))
}

// Files lists the regular files directly inside the folder, sorted.
// Leftover temp files are skipped. A missing folder has no files.
func (f *Folder) Files() ([]string, error) {
	return f.list(false)
}

// Dirs lists the sub-directories directly inside the folder, sorted.
func (f *Folder) Dirs() ([]string, error) {
	return f.list(true)
}

func (f *Folder) list(dirs bool) ([]string, error) {
	infos, err := f.root.fs.ReadDir(f.base)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", f.base, err)
	}
	var out []string
	for _, info := range infos {
		if info.IsDir() != dirs || strings.HasPrefix(info.Name(), tempPrefix) {
			continue
		}
		out = append(out, info.Name())
	}
	sort.Strings(out)
	return out, nil
}

// Walk lists every file below the folder as slash paths relative to it,
// sorted.
func (f *Folder) Walk() ([]string, error) {
	var out []string
	var walk func(rel string) error
	walk = func(rel string) error {
		sub := f.Sub(rel)
		files, err := sub.Files()
		if err != nil {
			return err
		}
		for _, name := range files {
			out = append(out, path.Join(rel, name))
		}
		dirs, err := sub.Dirs()
		if err != nil {
			return err
		}
		for _, d := range dirs {
			if err := walk(path.Join(rel, d)); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(""); err != nil {
		return nil, err
	}
	sort.Strings(out)
	return out, nil
}
