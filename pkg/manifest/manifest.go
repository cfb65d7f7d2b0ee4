// Package manifest reads and writes the per-environment MANIFEST object that
// lists the package currently deployed for every module.
//
// The wire format is one "name:package:path" line per module with a
// trailing newline. Fields are not escaped, so ':' is forbidden in module
// names and package identifiers.
package manifest

import (
	"fmt"
	"path"
	"strings"

	"github.com/cuemby/ghost/pkg/types"
)

// FileName is the object name of a manifest inside its environment prefix
const FileName = "MANIFEST"

// Entry is the deployed package of one module
type Entry struct {
	Name    string
	Package string
	Path    string
}

// Manifest is an ordered list of entries, unique by name
type Manifest struct {
	Entries []Entry
}

// Parse decodes the manifest wire format. Blank lines are skipped; lines
// with fewer than three fields are rejected.
func Parse(data []byte) (*Manifest, error) {
	m := &Manifest{}
	for i, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.SplitN(line, ":", 3)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed manifest line %d: %q", i+1, line)
		}
		m.Entries = append(m.Entries, Entry{Name: fields[0], Package: fields[1], Path: fields[2]})
	}
	return m, nil
}

// Format encodes the manifest wire format
func (m *Manifest) Format() []byte {
	var b strings.Builder
	for _, e := range m.Entries {
		b.WriteString(e.Name)
		b.WriteByte(':')
		b.WriteString(e.Package)
		b.WriteByte(':')
		b.WriteString(e.Path)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// Upsert replaces the entry named name, or appends one. The order of the
// other entries is preserved.
func (m *Manifest) Upsert(name, pkg, modulePath string) {
	for i := range m.Entries {
		if m.Entries[i].Name == name {
			m.Entries[i].Package = pkg
			m.Entries[i].Path = modulePath
			return
		}
	}
	m.Entries = append(m.Entries, Entry{Name: name, Package: pkg, Path: modulePath})
}

// Get returns the entry named name
func (m *Manifest) Get(name string) (Entry, bool) {
	for _, e := range m.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Len returns the number of modules listed
func (m *Manifest) Len() int {
	return len(m.Entries)
}

// Prefix returns the object prefix of an app environment:
// <root>/<name>/<env>/<role>[/<color>], without a leading slash
func Prefix(rootPath string, app *types.App) string {
	parts := []string{rootPath, app.Name, app.Env, app.Role}
	if color := app.Color(); color != "" {
		parts = append(parts, string(color))
	}
	return strings.TrimPrefix(path.Join(parts...), "/")
}

// Key returns the manifest object key of an app environment
func Key(rootPath string, app *types.App) string {
	return path.Join(Prefix(rootPath, app), FileName)
}
