package web

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jamesainslie/snaptrack/pkg/snaptrack/types"
)

var (
	// ErrOutsideRoot is returned for request paths that would leave a root.
	ErrOutsideRoot = errors.New("path escapes root")

	errNotDir = errors.New("not a directory")
)

// entry is one row of a directory listing.
type entry struct {
	Name     string
	Dir      bool
	Size     string
	Modified string
	Href     string
}

type crumb struct {
	Name string
	Href string
}

// cleanRel turns a request path into a local, slash-free-at-the-ends
// relative path. The empty path is the root itself.
func cleanRel(p string) (string, error) {
	p = strings.Trim(p, "/")
	if p == "" {
		return ".", nil
	}
	if !filepath.IsLocal(p) {
		return "", ErrOutsideRoot
	}
	return filepath.Clean(p), nil
}

// escapePath escapes each element of a slash-separated path.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}

// joinURL builds /prefix/root/rel with rel escaped.
func joinURL(prefix, root, rel string) string {
	if rel == "." || rel == "" {
		return "/" + prefix + "/" + root + "/"
	}
	return "/" + prefix + "/" + root + "/" + escapePath(filepath.ToSlash(rel))
}

// listDir lists rel inside dir. Directories sort first, then names. A
// missing dir lists as empty.
func listDir(dir, rootName, rel string) ([]entry, error) {
	root, err := os.OpenRoot(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []entry{}, nil
		}
		return nil, err
	}
	defer func() { _ = root.Close() }()

	f, err := root.Open(rel)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	if info, err := f.Stat(); err != nil {
		return nil, err
	} else if !info.IsDir() {
		return nil, errNotDir
	}

	infos, err := f.ReadDir(-1)
	if err != nil {
		return nil, err
	}

	entries := make([]entry, 0, len(infos))
	for _, de := range infos {
		info, err := de.Info()
		if err != nil {
			continue
		}
		if !de.IsDir() && !info.Mode().IsRegular() {
			continue
		}

		child := path.Join(filepath.ToSlash(rel), de.Name())
		e := entry{
			Name:     de.Name(),
			Dir:      de.IsDir(),
			Modified: info.ModTime().Format("2006-01-02 15:04"),
		}
		if e.Dir {
			e.Href = joinURL("browse", rootName, child) + "/"
		} else {
			e.Size = types.FormatSize(info.Size())
			e.Href = joinURL("files", rootName, child)
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Dir != entries[j].Dir {
			return entries[i].Dir
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// listArchives lists the regular files directly in dir ending in suffix.
func listArchives(dir, suffix string) ([]entry, error) {
	infos, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []entry{}, nil
		}
		return nil, err
	}

	entries := []entry{}
	for _, de := range infos {
		if !de.Type().IsRegular() || !strings.HasSuffix(de.Name(), suffix) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, entry{
			Name:     de.Name(),
			Size:     types.FormatSize(info.Size()),
			Modified: info.ModTime().Format("2006-01-02 15:04"),
			Href:     "/archives/" + url.PathEscape(de.Name()),
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// crumbs builds the breadcrumb trail for rel below rootName.
func crumbs(rootName, rel string) []crumb {
	out := []crumb{{Name: rootName, Href: joinURL("browse", rootName, ".")}}
	if rel == "." {
		return out
	}
	acc := ""
	for _, part := range strings.Split(filepath.ToSlash(rel), "/") {
		acc = path.Join(acc, part)
		out = append(out, crumb{Name: part, Href: joinURL("browse", rootName, acc) + "/"})
	}
	return out
}
