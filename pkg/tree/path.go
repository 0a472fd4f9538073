package tree

import (
	"path"
	"strings"
)

// Path addresses an entry as a sequence of components relative to the tree
// root. The empty Path is the root itself.
type Path []string

// SplitPath parses a slash-delimited path relative to the root. Leading and
// trailing slashes and "." segments are ignored.
func SplitPath(p string) Path {
	p = path.Clean("/" + p)
	if p == "/" {
		return Path{}
	}
	return Path(strings.Split(p[1:], "/"))
}

// String joins the components with "/".
func (p Path) String() string {
	return strings.Join(p, "/")
}

// Parent returns all components but the last. The parent of the root is the root.
func (p Path) Parent() Path {
	if len(p) == 0 {
		return p
	}
	return p[:len(p)-1:len(p)-1]
}

// Base returns the final component, or "" for the root.
func (p Path) Base() string {
	if len(p) == 0 {
		return ""
	}
	return p[len(p)-1]
}

// Child returns a new Path with name appended.
func (p Path) Child(name string) Path {
	c := make(Path, len(p), len(p)+1)
	copy(c, p)
	return append(c, name)
}
