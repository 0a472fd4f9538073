// Package scan builds tree entries from a filesystem.
package scan

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	ignore "github.com/crackcomm/go-gitignore"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/fruitsalade/treemirror/pkg/tree"
)

// Options controls which paths a Scanner includes.
type Options struct {
	IncludeHidden bool     // include names starting with "."
	Patterns      []string // gitignore-style patterns, relative to the root
	UseGitignore  bool     // also honour <root>/.gitignore
	Logger        *zap.Logger
}

// Scanner reads directory trees through an afero filesystem.
type Scanner struct {
	fs       afero.Fs
	opts     Options
	patterns *ignore.GitIgnore
	logger   *zap.Logger

	mu         sync.Mutex
	gitignores map[string]*ignore.GitIgnore
}

// New creates a scanner over fs.
func New(fs afero.Fs, opts Options) (*Scanner, error) {
	s := &Scanner{
		fs:         fs,
		opts:       opts,
		logger:     opts.Logger,
		gitignores: make(map[string]*ignore.GitIgnore),
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if len(opts.Patterns) > 0 {
		p, err := ignore.CompileIgnoreLines(opts.Patterns...)
		if err != nil {
			return nil, fmt.Errorf("compile ignore patterns: %w", err)
		}
		s.patterns = p
	}
	return s, nil
}

// Fs returns the filesystem the scanner reads.
func (s *Scanner) Fs() afero.Fs {
	return s.fs
}

// Scan reads the whole tree under root. The returned entry is named after
// the final component of root. The root .gitignore is re-read on every Scan.
func (s *Scanner) Scan(root string) (*tree.Entry, error) {
	root = filepath.Clean(root)
	if s.opts.UseGitignore {
		s.mu.Lock()
		delete(s.gitignores, root)
		s.mu.Unlock()
	}

	info, err := s.fs.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan %s: not a directory", root)
	}
	entries, err := afero.ReadDir(s.fs, root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	e := tree.NewDir(filepath.Base(root))
	s.addChildren(root, root, e, entries)
	return e, nil
}

// Build reads the entry at abs, a path under root, with all of its
// descendants. Ignored descendants are left out; abs itself is not checked.
func (s *Scanner) Build(root, abs string) (*tree.Entry, error) {
	info, err := s.Lstat(abs)
	if err != nil {
		return nil, err
	}
	return s.buildNode(filepath.Clean(root), filepath.Clean(abs), info)
}

func (s *Scanner) buildNode(root, abs string, info os.FileInfo) (*tree.Entry, error) {
	name := filepath.Base(abs)
	if !info.IsDir() {
		return tree.NewFile(name), nil
	}
	entries, err := afero.ReadDir(s.fs, abs)
	if err != nil {
		return nil, err
	}
	e := tree.NewDir(name)
	s.addChildren(root, abs, e, entries)
	return e, nil
}

// addChildren appends the non-ignored entries of dir to e. afero.ReadDir
// returns them sorted by name.
func (s *Scanner) addChildren(root, dir string, e *tree.Entry, entries []os.FileInfo) {
	for _, info := range entries {
		childPath := filepath.Join(dir, info.Name())
		if s.ignored(root, childPath, info.IsDir()) {
			continue
		}
		child, err := s.buildNode(root, childPath, info)
		if err != nil {
			s.logger.Debug("skipping unreadable entry", zap.String("path", childPath), zap.Error(err))
			continue
		}
		e.Children = append(e.Children, child)
	}
}

// Ignored reports whether abs, a path under root, is excluded from the tree.
// isDir selects whether directory-only patterns such as "build/" apply; it
// is the caller's to supply because a removed path can no longer be
// stat'ed. Paths outside root are always ignored.
func (s *Scanner) Ignored(root, abs string, isDir bool) bool {
	return s.ignored(filepath.Clean(root), filepath.Clean(abs), isDir)
}

func (s *Scanner) ignored(root, abs string, isDir bool) bool {
	p, err := tree.RelPath(root, abs)
	if err != nil {
		return true
	}
	if len(p) == 0 {
		return false
	}

	if !s.opts.IncludeHidden {
		for _, part := range p {
			if strings.HasPrefix(part, ".") {
				return true
			}
		}
	}
	rel := p.String()
	if matches(s.patterns, rel, isDir) {
		return true
	}
	if s.opts.UseGitignore {
		return matches(s.gitignore(root), rel, isDir)
	}
	return false
}

func matches(gi *ignore.GitIgnore, rel string, isDir bool) bool {
	if gi == nil {
		return false
	}
	if gi.MatchesPath(rel) {
		return true
	}
	// Directory-only patterns such as "build/" match the trailing slash form.
	return isDir && gi.MatchesPath(rel+"/")
}

// gitignore returns the compiled <root>/.gitignore, loading it on first use.
// A missing or unreadable file yields nil.
func (s *Scanner) gitignore(root string) *ignore.GitIgnore {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gi, ok := s.gitignores[root]; ok {
		return gi
	}

	var gi *ignore.GitIgnore
	data, err := afero.ReadFile(s.fs, filepath.Join(root, ".gitignore"))
	if err == nil {
		gi, err = ignore.CompileIgnoreLines(strings.Split(string(data), "\n")...)
		if err != nil {
			s.logger.Warn("invalid .gitignore", zap.String("root", root), zap.Error(err))
			gi = nil
		}
	}
	s.gitignores[root] = gi
	return gi
}

// Lstat uses Lstat where the filesystem supports it so symlinked directories
// are mirrored as plain entries and never followed.
func (s *Scanner) Lstat(p string) (os.FileInfo, error) {
	if l, ok := s.fs.(afero.Lstater); ok {
		info, _, err := l.LstatIfPossible(p)
		return info, err
	}
	return s.fs.Stat(p)
}
