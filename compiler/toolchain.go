package compiler

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var toolchain struct {
	once sync.Once
	mu   sync.RWMutex
	home string
}

// SetHome publishes the toolchain root (GOROOT) for the whole process. Only
// the first call has an effect; it reports whether this call applied.
func SetHome(dir string) bool {
	applied := false
	toolchain.once.Do(func() {
		toolchain.mu.Lock()
		toolchain.home = dir
		toolchain.mu.Unlock()
		applied = true
	})
	return applied
}

// Home returns the toolchain root set by SetHome, or "".
func Home() string {
	toolchain.mu.RLock()
	defer toolchain.mu.RUnlock()
	return toolchain.home
}

func resetHome() {
	toolchain.mu.Lock()
	toolchain.home = ""
	toolchain.once = sync.Once{}
	toolchain.mu.Unlock()
}

// UnpackBundle extracts a toolchain archive (.zip, .tar.gz or .tgz) into
// dest and returns the toolchain root inside it. An existing dest is reused
// without extracting again.
func UnpackBundle(archive, dest string) (string, error) {
	if _, err := os.Stat(dest); err == nil {
		return bundleRoot(dest), nil
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("create bundle parent: %w", err)
	}
	tmp, err := os.MkdirTemp(filepath.Dir(dest), ".unpack-*")
	if err != nil {
		return "", fmt.Errorf("create unpack dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	name := strings.ToLower(archive)
	switch {
	case strings.HasSuffix(name, ".zip"):
		err = unzip(archive, tmp)
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		err = untar(archive, tmp)
	default:
		err = fmt.Errorf("unsupported bundle format %q", filepath.Base(archive))
	}
	if err != nil {
		return "", fmt.Errorf("unpack %s: %w", filepath.Base(archive), err)
	}

	if err := os.Rename(tmp, dest); err != nil {
		return "", fmt.Errorf("install bundle: %w", err)
	}
	return bundleRoot(dest), nil
}

// bundleRoot returns dest/go when the archive used the official layout.
func bundleRoot(dest string) string {
	nested := filepath.Join(dest, "go")
	if fi, err := os.Stat(filepath.Join(nested, "bin")); err == nil && fi.IsDir() {
		return nested
	}
	return dest
}

func safeJoin(root, name string) (string, error) {
	p := filepath.Join(root, name)
	if p != root && !strings.HasPrefix(p, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("entry %q escapes bundle root", name)
	}
	return p, nil
}

func unzip(archive, dest string) error {
	r, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		destPath, err := safeJoin(dest, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return err
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return err
		}
		err = writeFile(destPath, rc, f.Mode())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func untar(archive, dest string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		destPath, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(destPath, tr, hdr.FileInfo().Mode()); err != nil {
				return err
			}
		}
	}
}

func writeFile(path string, r io.Reader, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if mode.Perm() == 0 {
		mode = 0o644
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// FetchBundle downloads url to output unless output already exists.
func FetchBundle(ctx context.Context, url, output string) error {
	if _, err := os.Stat(output); err == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("download bundle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: %s", resp.Status)
	}

	tmp := output + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("download bundle: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, output)
}
