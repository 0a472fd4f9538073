package tree

import (
	"errors"
	"fmt"
)

// Construction errors
var (
	// ErrNoDirectoryName indicates that the root path has no final component,
	// e.g. "/" or a path ending in "..".
	ErrNoDirectoryName = errors.New("root directories cannot end in '..'")
)

// Mutation errors
var (
	// ErrPathNotFound indicates that a path component does not exist.
	ErrPathNotFound = errors.New("path not found")

	// ErrInvalidIntermediate indicates that a non-final path component is a file.
	ErrInvalidIntermediate = errors.New("path descends through a file")

	// ErrEmptyPath indicates a delete addressed at the root itself.
	ErrEmptyPath = errors.New("cannot delete the root entry")

	// ErrNameMismatch indicates that an upserted entry's name differs from the
	// final path component it is stored under.
	ErrNameMismatch = errors.New("entry name does not match path")

	// ErrInvalidEntry indicates an entry that would break tree invariants.
	ErrInvalidEntry = errors.New("invalid entry")
)

// Contract errors
var (
	// ErrChildrenOfFile indicates an attempt to reach the children of a file.
	ErrChildrenOfFile = errors.New("tried to get children of a file entry")
)

// PathError records a failed tree mutation and the path it addressed.
type PathError struct {
	Op   string
	Path Path
	Err  error
}

func (e *PathError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Path.String(), e.Err)
}

func (e *PathError) Unwrap() error {
	return e.Err
}
