package download

import (
	"archive/tar"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Extract unpacks a .tar.gz into destDir. Entries are written to a staging
// directory first and each top-level entry is then renamed into place, so a
// failed extraction leaves existing models untouched.
func Extract(archivePath, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	staging := filepath.Join(destDir, ".staging-"+uuid.NewString())
	if err := os.Mkdir(staging, 0o755); err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	f, err := os.Open(archivePath)
	if err != nil {
		return err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("open gzip: %w", err)
	}
	defer gz.Close()

	if err := untar(tar.NewReader(gz), staging); err != nil {
		return err
	}

	entries, err := os.ReadDir(staging)
	if err != nil {
		return err
	}
	for _, e := range entries {
		target := filepath.Join(destDir, e.Name())
		if err := os.RemoveAll(target); err != nil {
			return fmt.Errorf("replace %s: %w", target, err)
		}
		if err := os.Rename(filepath.Join(staging, e.Name()), target); err != nil {
			return fmt.Errorf("move %s into place: %w", e.Name(), err)
		}
	}
	return nil
}

// untar writes directories and regular files first and creates symlinks
// last, so no entry is ever written through a link from the same archive.
// Every link must resolve inside root once all links exist.
func untar(tr *tar.Reader, root string) error {
	type link struct{ rel, target string }
	var links []link

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar: %w", err)
		}

		rel, err := safeRel(hdr.Name)
		if err != nil {
			return err
		}
		if rel == "." {
			continue
		}
		path := filepath.Join(root, rel)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := noLinks(root, rel); err != nil {
				return err
			}
			if err := os.MkdirAll(path, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := noLinks(root, rel); err != nil {
				return err
			}
			if err := writeFile(path, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if filepath.IsAbs(hdr.Linkname) {
				return fmt.Errorf("unsafe link in archive: %s -> %s", hdr.Name, hdr.Linkname)
			}
			if _, err := safeRel(filepath.Join(filepath.Dir(rel), hdr.Linkname)); err != nil {
				return fmt.Errorf("unsafe link in archive: %s -> %s", hdr.Name, hdr.Linkname)
			}
			links = append(links, link{rel: rel, target: hdr.Linkname})
		default:
			// Hard links, devices and fifos are not used by model archives.
		}
	}

	for _, l := range links {
		if err := noLinks(root, filepath.Dir(l.rel)); err != nil {
			return err
		}
		path := filepath.Join(root, l.rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.Symlink(l.target, path); err != nil {
			return err
		}
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return err
	}
	for _, l := range links {
		resolved, err := filepath.EvalSymlinks(filepath.Join(root, l.rel))
		if err != nil {
			return fmt.Errorf("unsafe link in archive: %s -> %s: %w", l.rel, l.target, err)
		}
		if !within(realRoot, resolved) {
			return fmt.Errorf("unsafe link in archive: %s -> %s", l.rel, l.target)
		}
	}
	return nil
}

// noLinks fails if any existing component of rel under root is a symlink.
func noLinks(root, rel string) error {
	cur := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "" || part == "." {
			continue
		}
		cur = filepath.Join(cur, part)
		info, err := os.Lstat(cur)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("unsafe path in archive: %s passes through a link", rel)
		}
	}
	return nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

func safeRel(name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("unsafe path in archive: %s", name)
	}
	return clean, nil
}

func writeFile(path string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if perm == 0 {
		perm = 0o644
	}
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
