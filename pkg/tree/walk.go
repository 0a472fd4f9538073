package tree

import (
	"errors"
	"sort"
	"strings"
	"unicode"
)

// SkipDir can be returned from a WalkFunc to skip the children of a directory.
var SkipDir = errors.New("skip this directory")

// WalkFunc is called for every entry visited by Walk.
type WalkFunc func(p Path, e *Entry) error

// Walk visits root and its descendants depth first, parents before children.
func Walk(root *Entry, fn WalkFunc) error {
	if root == nil {
		return nil
	}
	err := walk(Path{}, root, fn)
	if errors.Is(err, SkipDir) {
		return nil
	}
	return err
}

func walk(p Path, e *Entry, fn WalkFunc) error {
	if err := fn(p, e); err != nil {
		return err
	}
	for _, child := range e.Children {
		err := walk(p.Child(child.Name), child, fn)
		if errors.Is(err, SkipDir) {
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// Count returns the number of files and directories in a tree, root included.
func Count(root *Entry) (files, dirs int) {
	Walk(root, func(_ Path, e *Entry) error {
		if e.IsDir {
			dirs++
		} else {
			files++
		}
		return nil
	})
	return files, dirs
}

// Match is a file finder result.
type Match struct {
	Path  string `json:"path"`
	Score int    `json:"score"`
}

// Find returns the files whose relative path contains the characters of
// query in order, best matches first. Matching ignores case. A limit of zero
// or less returns every match.
func Find(root *Entry, query string, limit int) []Match {
	needle := []rune(strings.ToLower(strings.ReplaceAll(query, " ", "")))
	var matches []Match
	Walk(root, func(p Path, e *Entry) error {
		if e.IsDir || len(p) == 0 {
			return nil
		}
		rel := p.String()
		if score, ok := fuzzyScore(rel, needle); ok {
			matches = append(matches, Match{Path: rel, Score: score})
		}
		return nil
	})

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Path < matches[j].Path
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

// fuzzyScore rewards consecutive matches, matches at the start of a path
// segment or word, and matches inside the base name. Shorter paths win ties.
func fuzzyScore(candidate string, needle []rune) (int, bool) {
	if len(needle) == 0 {
		return 0, true
	}
	hay := []rune(strings.ToLower(candidate))
	baseStart := 0
	for i, r := range hay {
		if r == '/' {
			baseStart = i + 1
		}
	}

	score, n, prev := 0, 0, -2
	for i, r := range hay {
		if n == len(needle) {
			break
		}
		if r != needle[n] {
			continue
		}
		score++
		if i == prev+1 {
			score += 5
		}
		if i == 0 || !unicode.IsLetter(hay[i-1]) && !unicode.IsDigit(hay[i-1]) {
			score += 3
		}
		if i >= baseStart {
			score += 2
		}
		prev = i
		n++
	}
	if n < len(needle) {
		return 0, false
	}
	return score*100 - len(hay), true
}
