package archive

import (
	"path"
	"strings"
)

// Entry describes one archive member.
type Entry struct {
	// Name is the in-archive path, '/' separated, without a trailing slash.
	Name    string
	Size    int64
	ModTime int64
	IsDir   bool
	// Offset is nil for directories that only exist implicitly.
	Offset FileOffset
}

// Content is an immutable snapshot of an archive's members in archive order.
type Content struct {
	entries []Entry
	exact   map[string]int
	folded  map[string]int
}

func newContent() *Content {
	return &Content{
		exact:  make(map[string]int),
		folded: make(map[string]int),
	}
}

// normalizeName cleans a member name as stored by an archiver. It reports
// whether the name denotes a directory and returns "" for names that refer
// to the archive root.
func normalizeName(name string) (string, bool) {
	name = strings.ReplaceAll(name, "\\", "/")
	isDir := strings.HasSuffix(name, "/")
	name = path.Clean("/" + name)
	name = strings.TrimPrefix(name, "/")
	return name, isDir
}

// add records e, first adding any parent directory the archive does not
// list itself. A later duplicate of an existing name is ignored.
func (c *Content) add(e Entry) {
	if e.Name == "" {
		return
	}
	if parent := path.Dir(e.Name); parent != "." {
		if _, ok := c.exact[parent]; !ok {
			c.add(Entry{Name: parent, ModTime: e.ModTime, IsDir: true})
		}
	}
	if i, ok := c.exact[e.Name]; ok {
		// An explicit directory record replaces a synthesized one.
		if e.IsDir && c.entries[i].IsDir && c.entries[i].Offset == nil {
			c.entries[i] = e
		}
		return
	}
	c.exact[e.Name] = len(c.entries)
	if _, ok := c.folded[strings.ToLower(e.Name)]; !ok {
		c.folded[strings.ToLower(e.Name)] = len(c.entries)
	}
	c.entries = append(c.entries, e)
}

// Find looks name up. With caseSensitive false the first member whose name
// matches under case folding wins.
func (c *Content) Find(name string, caseSensitive bool) (Entry, bool) {
	name, _ = normalizeName(name)
	if i, ok := c.exact[name]; ok {
		return c.entries[i], true
	}
	if !caseSensitive {
		if i, ok := c.folded[strings.ToLower(name)]; ok {
			return c.entries[i], true
		}
	}
	return Entry{}, false
}

// Children returns the base names of the immediate children of dir in
// archive order. dir "" is the archive root.
func (c *Content) Children(dir string) []string {
	names := []string{}
	for _, e := range c.entries {
		parent := path.Dir(e.Name)
		if parent == "." {
			parent = ""
		}
		if parent == dir {
			names = append(names, path.Base(e.Name))
		}
	}
	return names
}

// Entries returns every member in archive order.
func (c *Content) Entries() []Entry {
	out := make([]Entry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Len returns the number of members, synthesized directories included.
func (c *Content) Len() int {
	return len(c.entries)
}

// regularFiles returns the members that are not directories.
func (c *Content) regularFiles() []Entry {
	var files []Entry
	for _, e := range c.entries {
		if !e.IsDir {
			files = append(files, e)
		}
	}
	return files
}
