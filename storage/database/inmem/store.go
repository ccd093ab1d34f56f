package inmemdb

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
)

// Store is an in-memory document tree for DEV mode and tests. Documents live
// as decoded JSON values in nested maps; every read/write goes through a JSON
// round trip so callers get the same typing behavior as a real backend.
type Store struct {
	mu   sync.RWMutex
	root map[string]interface{}
}

var _ core.DocumentStore = (*Store)(nil) // interface compliance check

func Open() (*Store, error) {
	return &Store{root: make(map[string]interface{})}, nil
}

func (s *Store) Get(ctx context.Context, path string, out interface{}) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.node(splitPath(path))
	if !ok {
		return core.ErrDocNotFound
	}
	return decode(node, out)
}

func (s *Store) List(ctx context.Context, path string) (map[string]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.node(splitPath(path))
	if !ok {
		return nil, core.ErrDocNotFound
	}
	children, ok := node.(map[string]interface{})
	if !ok {
		return map[string]json.RawMessage{}, nil // leaf document, no children
	}

	out := make(map[string]json.RawMessage, len(children))
	for key, child := range children {
		raw, err := json.Marshal(child)
		if err != nil {
			return nil, errors.Wrapf(err, "encoding %s/%s", path, key)
		}
		out[key] = raw
	}
	return out, nil
}

func (s *Store) Set(ctx context.Context, path string, doc interface{}) error {
	tree, err := encode(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	segs := splitPath(path)
	parent := s.parent(segs, true)
	parent[segs[len(segs)-1]] = tree
	return nil
}

func (s *Store) Create(ctx context.Context, path string, doc interface{}) error {
	tree, err := encode(doc)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	segs := splitPath(path)
	parent := s.parent(segs, true)
	key := segs[len(segs)-1]
	if _, exists := parent[key]; exists {
		return core.ErrDocExists
	}
	parent[key] = tree
	return nil
}

func (s *Store) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	tree, err := encode(fields)
	if err != nil {
		return err
	}
	update, _ := tree.(map[string]interface{})

	s.mu.Lock()
	defer s.mu.Unlock()

	segs := splitPath(path)
	parent := s.parent(segs, true)
	key := segs[len(segs)-1]

	existing, ok := parent[key].(map[string]interface{})
	if !ok {
		parent[key] = update
		return nil
	}
	for fld, val := range update {
		existing[fld] = val
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	segs := splitPath(path)
	node := interface{}(s.root)
	for _, seg := range segs[:len(segs)-1] {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil
		}
		node, ok = m[seg]
		if !ok {
			return nil
		}
	}
	if m, ok := node.(map[string]interface{}); ok {
		delete(m, segs[len(segs)-1])
	}
	return nil
}

// internals

func splitPath(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}

// node walks the tree; the empty path addresses the root.
func (s *Store) node(segs []string) (interface{}, bool) {
	node := interface{}(s.root)
	for _, seg := range segs {
		if seg == "" {
			continue
		}
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil, false
		}
		node, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// parent walks to the enclosing map of the path's last segment, creating
// intermediate maps (and replacing non-map nodes) when create is set.
func (s *Store) parent(segs []string, create bool) map[string]interface{} {
	parent := s.root
	for _, seg := range segs[:len(segs)-1] {
		child, ok := parent[seg].(map[string]interface{})
		if !ok {
			if !create {
				return nil
			}
			child = make(map[string]interface{})
			parent[seg] = child
		}
		parent = child
	}
	return parent
}

func encode(doc interface{}) (interface{}, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "encoding document")
	}
	var tree interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, errors.Wrap(err, "decoding document")
	}
	return tree, nil
}

func decode(node interface{}, out interface{}) error {
	raw, err := json.Marshal(node)
	if err != nil {
		return errors.Wrap(err, "encoding document")
	}
	return errors.Wrap(json.Unmarshal(raw, out), "decoding document")
}
