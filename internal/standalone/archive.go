package standalone

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
)

// WriteArchive packs srcDir into a gzipped tarball at dstPath. Entries are
// stored under the base name of srcDir, and symlinks are stored as links with
// their original text. The tarball is written to a temp file and renamed.
func WriteArchive(dstPath string, srcDir string) error {
	srcDir = filepath.Clean(srcDir)
	if srcDir == "." || srcDir == filepath.Dir(srcDir) {
		return fmt.Errorf("refusing to archive root dir: %s", srcDir)
	}
	absDst, err := filepath.Abs(dstPath)
	if err != nil {
		return err
	}
	absSrc, err := filepath.Abs(srcDir)
	if err != nil {
		return err
	}
	if isWithin(absSrc, absDst) {
		return fmt.Errorf("archive %s must not be written inside %s", dstPath, srcDir)
	}
	prefix := filepath.Base(absSrc)

	var paths []string
	err = filepath.WalkDir(srcDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == srcDir {
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return err
	}
	sort.Strings(paths)

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return err
	}
	tmp := dstPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
		_ = os.Remove(tmp)
	}()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for _, p := range paths {
		if err := addArchiveEntry(tw, srcDir, prefix, p); err != nil {
			return err
		}
	}
	if err := tw.Close(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dstPath)
}

func addArchiveEntry(tw *tar.Writer, srcDir, prefix, p string) error {
	rel, err := filepath.Rel(srcDir, p)
	if err != nil {
		return err
	}
	info, err := os.Lstat(p)
	if err != nil {
		return err
	}
	link := ""
	if info.Mode()&os.ModeSymlink != 0 {
		if link, err = os.Readlink(p); err != nil {
			return err
		}
	}
	hdr, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	hdr.Name = path.Join(prefix, filepath.ToSlash(rel))
	if info.IsDir() {
		hdr.Name += "/"
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	r, err := os.Open(p)
	if err != nil {
		return err
	}
	defer func() { _ = r.Close() }()
	_, err = io.Copy(tw, r)
	return err
}
