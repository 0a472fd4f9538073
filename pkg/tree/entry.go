package tree

import (
	"fmt"
	"strings"
)

// Entry is a node in the mirrored tree: a named file leaf, or a named
// directory owning an ordered list of children.
type Entry struct {
	Name     string   `json:"name"`
	IsDir    bool     `json:"is_dir"`
	Children []*Entry `json:"children,omitempty"`
}

// NewFile returns a file entry.
func NewFile(name string) *Entry {
	return &Entry{Name: name}
}

// NewDir returns a directory entry owning children.
func NewDir(name string, children ...*Entry) *Entry {
	if children == nil {
		children = []*Entry{}
	}
	return &Entry{Name: name, IsDir: true, Children: children}
}

// ChildrenMut returns the children slice of a directory so it can be edited
// in place. Files have no children.
func (e *Entry) ChildrenMut() (*[]*Entry, error) {
	if !e.IsDir {
		return nil, fmt.Errorf("%q: %w", e.Name, ErrChildrenOfFile)
	}
	return &e.Children, nil
}

// Child returns the child named name and its index, or nil and -1.
func (e *Entry) Child(name string) (*Entry, int) {
	for i, child := range e.Children {
		if child.Name == name {
			return child, i
		}
	}
	return nil, -1
}

// Clone returns a deep copy of e.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	c := &Entry{Name: e.Name, IsDir: e.IsDir}
	if e.IsDir {
		c.Children = make([]*Entry, len(e.Children))
		for i, child := range e.Children {
			c.Children[i] = child.Clone()
		}
	}
	return c
}

// Validate checks that every name in the subtree is a single path component
// and that no directory holds two children with the same name.
func (e *Entry) Validate() error {
	if e == nil {
		return fmt.Errorf("nil entry: %w", ErrInvalidEntry)
	}
	if !validName(e.Name) {
		return fmt.Errorf("bad name %q: %w", e.Name, ErrInvalidEntry)
	}
	if !e.IsDir {
		if len(e.Children) > 0 {
			return fmt.Errorf("file %q has children: %w", e.Name, ErrInvalidEntry)
		}
		return nil
	}
	seen := make(map[string]struct{}, len(e.Children))
	for _, child := range e.Children {
		if child == nil {
			return fmt.Errorf("nil child in %q: %w", e.Name, ErrInvalidEntry)
		}
		if _, dup := seen[child.Name]; dup {
			return fmt.Errorf("duplicate child %q in %q: %w", child.Name, e.Name, ErrInvalidEntry)
		}
		seen[child.Name] = struct{}{}
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\x00")
}
