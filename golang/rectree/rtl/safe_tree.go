package rtl

import (
	"io"
	"sync"

	"github.com/goccy/go-graphviz"
	"gonum.org/v1/gonum/mat"
)

//SafeTree serializes every access to a Tree behind one exclusive lock.
//Push both routes and splits, so recommendations take the same lock as insertions,
//and classifier training runs inside the locked section.
type SafeTree struct {
	mu   sync.Mutex
	tree *Tree
}

//NewSafeTree wraps tree. The caller must not use tree directly afterwards.
func NewSafeTree(tree *Tree) *SafeTree {
	return &SafeTree{tree: tree}
}

func (s *SafeTree) Push(data *mat.Dense, label string, ret bool) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Push(data, label, ret)
}

func (s *SafeTree) Query(data *mat.Dense) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Query(data)
}

func (s *SafeTree) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Stats()
}

func (s *SafeTree) Render(w io.Writer, format graphviz.Format) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree.Render(w, format)
}
