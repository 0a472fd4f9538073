// Package tree keeps an in-memory mirror of a directory subtree up to date
// from a stream of path-addressed insert, replace and delete events.
package tree

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Tree is the mutable mirror of one directory. The root is always a
// directory. A Tree is not safe for concurrent use; share it through a Handle.
// Edits copy the directories along the edited path instead of changing them,
// so a root obtained before an edit is never modified by it.
type Tree struct {
	root     *Entry
	rootPath string
}

// New creates a tree for rootPath with an empty root directory named after
// the final component of rootPath.
func New(rootPath string) (*Tree, error) {
	name, ok := finalComponent(rootPath)
	if !ok {
		return nil, ErrNoDirectoryName
	}
	return &Tree{root: NewDir(name), rootPath: rootPath}, nil
}

// finalComponent returns the last path component, ignoring trailing
// separators and "." segments. "/", "." and paths ending in ".." have none.
func finalComponent(p string) (string, bool) {
	p = filepath.ToSlash(p)
	for {
		switch {
		case len(p) > 1 && strings.HasSuffix(p, "/"):
			p = p[:len(p)-1]
		case p == "." || strings.HasSuffix(p, "/."):
			p = p[:len(p)-1]
		default:
			name := p[strings.LastIndex(p, "/")+1:]
			if name == "" || name == ".." {
				return "", false
			}
			return name, true
		}
	}
}

// Root returns the root entry. Callers must not modify it.
func (t *Tree) Root() *Entry {
	return t.root
}

// RootPath returns the path the tree mirrors.
func (t *Tree) RootPath() string {
	return t.rootPath
}

// Rel converts a filesystem path under the root path into a tree Path.
func (t *Tree) Rel(abs string) (Path, error) {
	return RelPath(t.rootPath, abs)
}

// RelPath converts abs, a filesystem path at or below root, into a tree
// Path. Paths outside root report ErrPathNotFound.
func RelPath(root, abs string) (Path, error) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, ErrPathNotFound)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("%s is outside %s: %w", abs, root, ErrPathNotFound)
	}
	return SplitPath(filepath.ToSlash(rel)), nil
}

// Upsert replaces the entry at p with e, or inserts e if the parent of p
// exists and has no child with that name. Every component before the last
// must resolve to an existing directory. e is copied; the tree never shares
// nodes with the caller. On error the tree is unchanged.
func (t *Tree) Upsert(p Path, e *Entry) error {
	if err := e.Validate(); err != nil {
		return &PathError{Op: "upsert", Path: p, Err: err}
	}
	if len(p) == 0 {
		if !e.IsDir {
			return &PathError{Op: "upsert", Path: p, Err: fmt.Errorf("root must be a directory: %w", ErrInvalidEntry)}
		}
		t.root = e.Clone()
		return nil
	}
	if e.Name != p.Base() {
		return &PathError{Op: "upsert", Path: p, Err: fmt.Errorf("entry %q: %w", e.Name, ErrNameMismatch)}
	}

	entry := e.Clone()
	err := t.edit(p.Parent(), func(children []*Entry) ([]*Entry, error) {
		next := make([]*Entry, len(children), len(children)+1)
		copy(next, children)
		for i, child := range next {
			if child.Name == entry.Name {
				next[i] = entry
				return next, nil
			}
		}
		return append(next, entry), nil
	})
	if err != nil {
		return &PathError{Op: "upsert", Path: p, Err: err}
	}
	return nil
}

// Delete removes the entry at p from its parent directory. Deleting an entry
// that does not exist reports ErrPathNotFound and leaves the tree unchanged.
func (t *Tree) Delete(p Path) error {
	if len(p) == 0 {
		return &PathError{Op: "delete", Path: p, Err: ErrEmptyPath}
	}
	name := p.Base()
	err := t.edit(p.Parent(), func(children []*Entry) ([]*Entry, error) {
		for i, child := range children {
			if child.Name != name {
				continue
			}
			next := make([]*Entry, 0, len(children)-1)
			next = append(next, children[:i]...)
			return append(next, children[i+1:]...), nil
		}
		return nil, fmt.Errorf("%q: %w", name, ErrPathNotFound)
	})
	if err != nil {
		return &PathError{Op: "delete", Path: p, Err: err}
	}
	return nil
}

// Lookup returns the live entry at p. Callers must not modify it.
func (t *Tree) Lookup(p Path) (*Entry, error) {
	e, err := t.resolve(p)
	if err != nil {
		return nil, &PathError{Op: "lookup", Path: p, Err: err}
	}
	return e, nil
}

// resolve walks from the root one component at a time.
func (t *Tree) resolve(p Path) (*Entry, error) {
	entry := t.root
	for i, component := range p {
		if !entry.IsDir {
			return nil, fmt.Errorf("%q: %w", Path(p[:i]).String(), ErrInvalidIntermediate)
		}
		child, _ := entry.Child(component)
		if child == nil {
			return nil, fmt.Errorf("%q: %w", Path(p[:i+1]).String(), ErrPathNotFound)
		}
		entry = child
	}
	return entry, nil
}

// edit replaces the children of dir with fn's result. Every directory from
// the root down to dir is copied rather than changed, so roots returned by
// earlier calls to Root stay valid and unchanged. On error the tree is left
// as it was.
func (t *Tree) edit(dir Path, fn func(children []*Entry) ([]*Entry, error)) error {
	root, err := editAt(t.root, dir, 0, fn)
	if err != nil {
		return err
	}
	t.root = root
	return nil
}

func editAt(e *Entry, dir Path, depth int, fn func([]*Entry) ([]*Entry, error)) (*Entry, error) {
	if !e.IsDir {
		return nil, fmt.Errorf("%q: %w", Path(dir[:depth]).String(), ErrInvalidIntermediate)
	}
	c := &Entry{Name: e.Name, IsDir: true, Children: e.Children}
	if depth == len(dir) {
		children, err := c.ChildrenMut()
		if err != nil {
			return nil, err
		}
		next, err := fn(*children)
		if err != nil {
			return nil, err
		}
		*children = next
		return c, nil
	}

	child, i := e.Child(dir[depth])
	if child == nil {
		return nil, fmt.Errorf("%q: %w", Path(dir[:depth+1]).String(), ErrPathNotFound)
	}
	updated, err := editAt(child, dir, depth+1, fn)
	if err != nil {
		return nil, err
	}
	c.Children = make([]*Entry, len(e.Children))
	copy(c.Children, e.Children)
	c.Children[i] = updated
	return c, nil
}
