package migration

import (
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strings"
)

// DefaultApp names the single application of a flat migrations directory.
const DefaultApp = "default"

// scriptRe recognizes a migration script: a numeric prefix and an extension.
var scriptRe = regexp.MustCompile(`^\d+.*\.\w+$`)

// App lists the migration script names of one application.
type App struct {
	Name    string   `json:"name"`
	Scripts []string `json:"scripts"`
}

// Layout is the result of scanning the migrations directory.
type Layout struct {
	// Flat is true when scripts live directly in the directory; the single
	// application is then DefaultApp.
	Flat bool  `json:"flat"`
	Apps []App `json:"apps"`
}

// App returns the scripts of name.
func (l Layout) App(name string) (App, bool) {
	for _, a := range l.Apps {
		if a.Name == name {
			return a, true
		}
	}
	return App{}, false
}

// Discover scans dir within fsys. When the first visible entry looks like a
// migration script the directory is flat; otherwise every subdirectory is an
// application holding its own scripts. Hidden entries are ignored.
func Discover(fsys fs.FS, dir string) (Layout, error) {
	entries, err := readVisible(fsys, dir)
	if err != nil {
		return Layout{}, &ConfigurationError{Reason: "read migrations directory " + dir, Err: err}
	}
	if len(entries) == 0 {
		return Layout{}, nil
	}

	if !entries[0].IsDir() && scriptRe.MatchString(entries[0].Name()) {
		return Layout{Flat: true, Apps: []App{{Name: DefaultApp, Scripts: scriptNames(entries)}}}, nil
	}

	var l Layout
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sub, err := readVisible(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return Layout{}, &ConfigurationError{Reason: "read migrations of " + e.Name(), Err: err}
		}
		l.Apps = append(l.Apps, App{Name: e.Name(), Scripts: scriptNames(sub)})
	}
	return l, nil
}

func readVisible(fsys fs.FS, dir string) ([]fs.DirEntry, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out, nil
}

func scriptNames(entries []fs.DirEntry) []string {
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !scriptRe.MatchString(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	return names
}
