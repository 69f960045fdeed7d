package installer

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/a-h/cdndepot/storage"
)

// archiveKey names the durable blob an installed package tree round-trips
// through, so a fresh container doesn't have to re-run npm install for a
// version another instance already fetched.
func (i *Installer) archiveKey(name, version string) string {
	return "packages/" + sanitizeDirName(name) + "@" + version + ".tar.gz"
}

// restoreFromArchive repopulates installDir from Archive, returning true on
// a usable restore (lockfile present). Any failure is treated as a miss:
// the caller falls back to running npm install.
func (i *Installer) restoreFromArchive(ctx context.Context, name, version, installDir string) bool {
	if i.Archive == nil {
		return false
	}
	r, exists, err := i.Archive.Get(ctx, i.archiveKey(name, version))
	if err != nil || !exists {
		return false
	}
	defer r.Close()

	if err := untarGzip(r, installDir); err != nil {
		if i.Log != nil {
			i.Log.Warn("failed to restore package archive", slog.String("name", name), slog.String("version", version), slog.String("error", err.Error()))
		}
		return false
	}
	if _, err := os.Stat(filepath.Join(installDir, "package-lock.json")); err != nil {
		return false
	}
	return true
}

// saveToArchive persists a freshly installed tree to Archive. Failures are
// logged and swallowed: the local install already succeeded, and a missing
// archive entry just means the next cold start pays for npm install again.
func (i *Installer) saveToArchive(ctx context.Context, name, version, installDir string) {
	if i.Archive == nil {
		return
	}
	w, err := i.Archive.Put(ctx, i.archiveKey(name, version))
	if err != nil {
		if i.Log != nil {
			i.Log.Warn("failed to open package archive for write", slog.String("name", name), slog.String("error", err.Error()))
		}
		return
	}
	defer w.Close()
	if err := tarGzipDir(installDir, w); err != nil && i.Log != nil {
		i.Log.Warn("failed to write package archive", slog.String("name", name), slog.String("version", version), slog.String("error", err.Error()))
	}
}

func tarGzipDir(dir string, w io.Writer) error {
	gz := gzip.NewWriter(w)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
}

func untarGzip(r io.Reader, destDir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return err
	}
	defer gz.Close()
	tr := tar.NewReader(gz)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		target := filepath.Join(destDir, hdr.Name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			f.Close()
		}
	}
}
