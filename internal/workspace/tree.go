// internal/workspace/tree.go
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Node is one entry in a workspace tree listing.
type Node struct {
	Name      string  `json:"name"`
	Path      string  `json:"path"`
	IsDir     bool    `json:"isDir"`
	CharCount int     `json:"charCount,omitempty"`
	Children  []*Node `json:"children,omitempty"`
}

// textExtensions are the file types that get character counts in tree
// listings.
var textExtensions = map[string]bool{
	".md":   true,
	".txt":  true,
	".yaml": true,
	".yml":  true,
}

// Tree lists the workspace as a tree, descending at most maxDepth
// levels. Hidden entries and internal bookkeeping directories are
// skipped. maxDepth <= 0 lists only the root's direct children.
func (s *Store) Tree(maxDepth int) ([]*Node, error) {
	if maxDepth <= 0 {
		maxDepth = 1
	}
	return s.listDir(s.root, "", 1, maxDepth)
}

func (s *Store) listDir(abs, rel string, depth, maxDepth int) ([]*Node, error) {
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", rel, err)
	}

	var nodes []*Node
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		childRel := name
		if rel != "" {
			childRel = rel + "/" + name
		}
		node := &Node{Name: name, Path: childRel, IsDir: e.IsDir()}
		if e.IsDir() {
			if depth < maxDepth {
				children, err := s.listDir(filepath.Join(abs, name), childRel, depth+1, maxDepth)
				if err != nil {
					return nil, err
				}
				node.Children = children
			}
		} else if textExtensions[strings.ToLower(filepath.Ext(name))] {
			if n, err := s.CharCount(childRel); err == nil {
				node.CharCount = n
			}
		}
		nodes = append(nodes, node)
	}

	// Directories first, then files, each alphabetical.
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].IsDir != nodes[j].IsDir {
			return nodes[i].IsDir
		}
		return nodes[i].Name < nodes[j].Name
	})
	return nodes, nil
}

// List lists one workspace directory without descending. rel "" or
// "." lists the root.
func (s *Store) List(rel string) ([]*Node, error) {
	abs := s.root
	prefix := ""
	if rel != "" && rel != "." {
		var err error
		abs, err = s.resolve(rel)
		if err != nil {
			return nil, err
		}
		prefix = strings.TrimSuffix(filepath.ToSlash(rel), "/")
	}
	return s.listDir(abs, prefix, 1, 1)
}

// TotalChars sums the character counts of all text files under a
// workspace directory, recursively.
func (s *Store) TotalChars(rel string) (int, error) {
	abs := s.root
	if rel != "" && rel != "." {
		var err error
		abs, err = s.resolve(rel)
		if err != nil {
			return 0, err
		}
	}

	total := 0
	err := filepath.WalkDir(abs, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != abs {
				return filepath.SkipDir
			}
			return nil
		}
		if !textExtensions[strings.ToLower(filepath.Ext(d.Name()))] {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		total += CountChars(string(data))
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", rel, err)
	}
	return total, nil
}
