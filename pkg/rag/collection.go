package rag

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/loomlabs/loom/pkg/fault"
)

// Authorization describes the caller of a search. Admins bypass collection
// permissions entirely.
type Authorization struct {
	PrincipalIDs []string
	IsAdmin      bool
}

// Collection is one node of the path-addressed permission tree. An empty
// QueryableBy set means the node itself adds no restriction; restrictions
// from ancestors still apply.
type Collection struct {
	Path        string            `json:"path"`
	ParentPath  string            `json:"parentPath,omitempty"`
	QueryableBy []string          `json:"queryableBy,omitempty"`
	IsLeaf      bool              `json:"isLeaf"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CollectionTree holds the collection hierarchy. Paths are slash-separated
// and absolute ("/docs/secret"); a collection's parent must exist before the
// collection is created, except for top-level paths.
type CollectionTree struct {
	mu    sync.RWMutex
	nodes map[string]*Collection
}

func NewCollectionTree() *CollectionTree {
	return &CollectionTree{nodes: make(map[string]*Collection)}
}

func parentOf(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return ""
	}
	return path[:idx]
}

func validCollectionPath(path string) bool {
	if !strings.HasPrefix(path, "/") || len(path) < 2 || strings.HasSuffix(path, "/") {
		return false
	}
	return !strings.Contains(path, "//")
}

// Create adds a collection. Top-level paths need no parent; deeper paths
// require their parent to exist already.
func (t *CollectionTree) Create(path string, queryableBy []string, metadata map[string]string) (*Collection, error) {
	if !validCollectionPath(path) {
		return nil, fault.Validation("rag.collections", "path", fmt.Sprintf("invalid collection path %q", path))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.nodes[path]; exists {
		return nil, fault.Validation("rag.collections", "path", fmt.Sprintf("collection %q already exists", path))
	}

	parent := parentOf(path)
	if parent != "" {
		parentNode, ok := t.nodes[parent]
		if !ok {
			return nil, fault.Validation("rag.collections", "path",
				fmt.Sprintf("parent collection %q does not exist", parent))
		}
		parentNode.IsLeaf = false
	}

	node := &Collection{
		Path:        path,
		ParentPath:  parent,
		QueryableBy: append([]string(nil), queryableBy...),
		IsLeaf:      true,
		Metadata:    metadata,
	}
	t.nodes[path] = node
	return node, nil
}

// Get returns the collection at path.
func (t *CollectionTree) Get(path string) (*Collection, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	node, ok := t.nodes[path]
	if !ok {
		return nil, fault.Validation("rag.collections", "path", fmt.Sprintf("unknown collection %q", path))
	}
	return node, nil
}

// Delete removes a leaf collection. Collections with children cannot be
// deleted; the engine additionally requires an empty document count.
func (t *CollectionTree) Delete(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	node, ok := t.nodes[path]
	if !ok {
		return fault.Validation("rag.collections", "path", fmt.Sprintf("unknown collection %q", path))
	}
	for _, other := range t.nodes {
		if other.ParentPath == path {
			return fault.Validation("rag.collections", "path",
				fmt.Sprintf("collection %q has child collections", path))
		}
	}
	delete(t.nodes, path)

	if node.ParentPath != "" {
		if parent, ok := t.nodes[node.ParentPath]; ok {
			parent.IsLeaf = true
			for _, other := range t.nodes {
				if other.ParentPath == parent.Path {
					parent.IsLeaf = false
					break
				}
			}
		}
	}
	return nil
}

// List returns all collection paths in lexicographic order.
func (t *CollectionTree) List() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	paths := make([]string, 0, len(t.nodes))
	for path := range t.nodes {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Subtree returns path and every descendant, in lexicographic order. Paths
// not present in the tree yield an empty slice.
func (t *CollectionTree) Subtree(path string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var paths []string
	prefix := path + "/"
	for p := range t.nodes {
		if p == path || strings.HasPrefix(p, prefix) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	return paths
}

// Effective computes the permission set at path: the intersection of every
// non-empty QueryableBy along the ancestor chain. An empty result with
// restricted=false means the node is public; restricted=true with an empty
// set means nobody except admins can query.
func (t *CollectionTree) Effective(path string) (principals map[string]bool, restricted bool, err error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.nodes[path]; !ok {
		return nil, false, fault.Validation("rag.collections", "path", fmt.Sprintf("unknown collection %q", path))
	}

	for p := path; p != ""; p = t.nodes[p].ParentPath {
		node := t.nodes[p]
		if len(node.QueryableBy) == 0 {
			continue
		}
		own := make(map[string]bool, len(node.QueryableBy))
		for _, id := range node.QueryableBy {
			own[id] = true
		}
		if !restricted {
			principals = own
			restricted = true
			continue
		}
		for id := range principals {
			if !own[id] {
				delete(principals, id)
			}
		}
	}
	return principals, restricted, nil
}

// CanQuery reports whether auth may search the collection: admins always,
// everyone when the effective set is unrestricted, otherwise only principals
// in the effective set.
func (t *CollectionTree) CanQuery(path string, auth Authorization) (bool, error) {
	if auth.IsAdmin {
		if _, err := t.Get(path); err != nil {
			return false, err
		}
		return true, nil
	}
	principals, restricted, err := t.Effective(path)
	if err != nil {
		return false, err
	}
	if !restricted {
		return true, nil
	}
	for _, id := range auth.PrincipalIDs {
		if principals[id] {
			return true, nil
		}
	}
	return false, nil
}
