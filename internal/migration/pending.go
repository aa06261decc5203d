package migration

import (
	"regexp"
	"sort"
	"strconv"
)

// File is one migration script.
type File struct {
	Version int    `json:"version"`
	App     string `json:"app"`
	Name    string `json:"name"`
	// Prefix is the literal digit prefix of Name, used as the display label.
	Prefix string `json:"prefix"`
}

var prefixRe = regexp.MustCompile(`^(\d+)`)

// ParseFile reads the leading version number of name.
func ParseFile(app, name string) (File, bool) {
	m := prefixRe.FindStringSubmatch(name)
	if m == nil {
		return File{}, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return File{}, false
	}
	return File{Version: v, App: app, Name: name, Prefix: m[1]}, true
}

// ListPending returns the scripts newer than current, one per version,
// highest version first. Names without a numeric prefix are skipped; of
// several scripts sharing a version the first by name wins.
func ListPending(app string, names []string, current int) []File {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)

	seen := make(map[int]bool, len(sorted))
	out := make([]File, 0, len(sorted))
	for _, n := range sorted {
		f, ok := ParseFile(app, n)
		if !ok || f.Version <= current || seen[f.Version] {
			continue
		}
		seen[f.Version] = true
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version > out[j].Version })
	return out
}

// Ascending returns files in application order.
func Ascending(files []File) []File {
	out := append([]File(nil), files...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// Versions lists the versions of files in their current order.
func Versions(files []File) []int {
	out := make([]int, len(files))
	for i, f := range files {
		out[i] = f.Version
	}
	return out
}
