package standalone

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// FS is the filesystem surface the materializer needs. OSFS is the real
// implementation; tests wrap it to slow down or fail individual operations.
type FS interface {
	RemoveAll(path string) error
	MkdirAll(path string, perm fs.FileMode) error
	Lstat(name string) (fs.FileInfo, error)
	Readlink(name string) (string, error)
	Symlink(oldname, newname string) error
	CopyFile(src, dst string) error
}

// OSFS implements FS on the host filesystem.
type OSFS struct{}

func (OSFS) RemoveAll(path string) error                  { return os.RemoveAll(path) }
func (OSFS) MkdirAll(path string, perm fs.FileMode) error { return os.MkdirAll(path, perm) }
func (OSFS) Lstat(name string) (fs.FileInfo, error)       { return os.Lstat(name) }
func (OSFS) Readlink(name string) (string, error)         { return os.Readlink(name) }
func (OSFS) Symlink(oldname, newname string) error        { return os.Symlink(oldname, newname) }

// CopyFile copies src to dst through a temporary file in dst's directory and
// renames it into place, so dst is never observed half written. The source
// permission bits are kept.
func (OSFS) CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return &fs.PathError{Op: "copy", Path: src, Err: errors.New("not a regular file")}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, in); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, dst)
}

// fsOutcome distinguishes a filesystem change from a state that already held.
// Anything else is reported as an error.
type fsOutcome int

const (
	fsWritten fsOutcome = iota
	fsAlreadySatisfied
)

func (o fsOutcome) String() string {
	if o == fsAlreadySatisfied {
		return "already_satisfied"
	}
	return "written"
}

// removeTree deletes path recursively. A missing path is already satisfied.
func removeTree(fsys FS, path string) (fsOutcome, error) {
	if _, err := fsys.Lstat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fsAlreadySatisfied, nil
		}
		return fsWritten, err
	}
	if err := fsys.RemoveAll(path); err != nil {
		return fsWritten, err
	}
	return fsWritten, nil
}

// ensureDir creates dir and its parents. An existing entry only satisfies it
// when it is a real directory; a dangling symlink is an error.
func ensureDir(fsys FS, dir string) (fsOutcome, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			if info, lerr := fsys.Lstat(dir); lerr == nil && info.IsDir() {
				return fsAlreadySatisfied, nil
			}
		}
		return fsWritten, err
	}
	return fsWritten, nil
}

// linkVerbatim creates a symlink at dst whose link text is exactly target.
// An existing entry at dst is already satisfied.
func linkVerbatim(fsys FS, target string, dst string) (fsOutcome, error) {
	if err := fsys.Symlink(target, dst); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return fsAlreadySatisfied, nil
		}
		return fsWritten, err
	}
	return fsWritten, nil
}
