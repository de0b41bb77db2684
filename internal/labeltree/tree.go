// Package labeltree manages a hierarchical label taxonomy: a rooted tree of
// label leaves that is loaded from, and written back through, a store.Repository.
//
// A LabelTree keeps an in-memory index of the leaves it knows about. The
// index is filled when the tree is loaded or grown through the tree itself;
// changes made to the store by anyone else are not seen until the tree is
// loaded again. A LabelTree is meant for a single caller and is not safe
// for concurrent use.
package labeltree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pbaille/labeltree/internal/domain"
	"github.com/pbaille/labeltree/internal/metrics"
	"github.com/pbaille/labeltree/internal/store"
)

var (
	// ErrNotIndexed is returned when a leaf is not in the tree's in-memory index
	ErrNotIndexed = errors.New("leaf not in label tree index")

	// ErrNoRoot is returned by operations that need a root on a tree without one
	ErrNoRoot = errors.New("label tree has no root")
)

// LabelTree is an in-memory view over one persisted label tree
type LabelTree struct {
	repo    store.Repository
	log     *slog.Logger
	metrics *metrics.Metrics

	root  *domain.LabelLeaf
	tree  map[int64]*domain.LabelLeaf
	order []int64
}

// Option configures a LabelTree
type Option func(*LabelTree)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *slog.Logger) Option {
	return func(t *LabelTree) {
		if log != nil {
			t.log = log
		}
	}
}

// WithMetrics records mutations on m
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *LabelTree) {
		t.metrics = m
	}
}

// New creates an empty tree. Call CreateRoot or Import to populate it.
func New(repo store.Repository, opts ...Option) *LabelTree {
	t := &LabelTree{
		repo: repo,
		log:  slog.New(slog.DiscardHandler),
		tree: make(map[int64]*domain.LabelLeaf),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Load fetches the root leaf and indexes every leaf reachable from it
func Load(ctx context.Context, repo store.Repository, rootID int64, opts ...Option) (*LabelTree, error) {
	t := New(repo, opts...)

	root, err := repo.Find(ctx, rootID)
	if err != nil {
		return nil, fmt.Errorf("load label tree: %w", err)
	}
	t.root = root
	if err := t.collect(ctx, root); err != nil {
		return nil, fmt.Errorf("load label tree: %w", err)
	}

	t.log.Debug("label tree loaded", "root", rootID, "leaves", len(t.tree))
	return t, nil
}

// FromLeaf wraps an already loaded root leaf. Only the root itself is
// indexed; its descendants are not walked, unlike Load.
func FromLeaf(repo store.Repository, root *domain.LabelLeaf, opts ...Option) *LabelTree {
	t := New(repo, opts...)
	t.root = root
	t.index(root)
	return t
}

// collect walks the subtree depth-first, pre-order, indexing every leaf
func (t *LabelTree) collect(ctx context.Context, leaf *domain.LabelLeaf) error {
	t.index(leaf)
	children, err := t.repo.Children(ctx, leaf.ID)
	if err != nil {
		return err
	}
	for _, child := range children {
		if err := t.collect(ctx, child); err != nil {
			return err
		}
	}
	return nil
}

func (t *LabelTree) index(leaf *domain.LabelLeaf) {
	if _, ok := t.tree[leaf.ID]; !ok {
		t.order = append(t.order, leaf.ID)
	}
	t.tree[leaf.ID] = leaf
}

// Root returns the root leaf, nil for an empty or deleted tree
func (t *LabelTree) Root() *domain.LabelLeaf {
	return t.root
}

// Leaf returns an indexed leaf
func (t *LabelTree) Leaf(id int64) (*domain.LabelLeaf, bool) {
	leaf, ok := t.tree[id]
	return leaf, ok
}

// Len returns the number of indexed leaves
func (t *LabelTree) Len() int {
	return len(t.tree)
}

// IDs returns the indexed leaf identifiers in the order they were indexed
func (t *LabelTree) IDs() []int64 {
	ids := make([]int64, len(t.order))
	copy(ids, t.order)
	return ids
}

// CreateRoot creates and commits a new root leaf, which becomes this tree's root
func (t *LabelTree) CreateRoot(ctx context.Context, name string, externalID *string) (*domain.LabelLeaf, error) {
	root := &domain.LabelLeaf{
		Name:       name,
		ExternalID: externalID,
		IsRoot:     true,
	}
	t.repo.Save(root)
	if err := t.repo.Commit(ctx); err != nil {
		return nil, err
	}

	t.root = root
	t.index(root)
	t.metrics.LeafCreated()
	t.log.Debug("root leaf created", "leaf", root.ID, "name", name)
	return root, nil
}

// CreateChild creates and commits a new leaf under parentID.
//
// The parent is not looked up in the in-memory index, only the store
// decides whether it exists. A child created under a parent this tree has
// not indexed is indexed itself, but ChildValues on that parent still fails.
func (t *LabelTree) CreateChild(ctx context.Context, parentID int64, name string, externalID *string) (*domain.LabelLeaf, error) {
	leaf := &domain.LabelLeaf{
		Name:         name,
		ExternalID:   externalID,
		ParentLeafID: &parentID,
	}
	t.repo.Save(leaf)
	if err := t.repo.Commit(ctx); err != nil {
		return nil, err
	}

	t.index(leaf)
	t.metrics.LeafCreated()
	t.log.Debug("leaf created", "leaf", leaf.ID, "parent", parentID, "name", name)
	return leaf, nil
}

// DeleteSubtree stages the deletion of every descendant of leaf, children
// before their parents. The leaf itself is kept and nothing is committed.
func (t *LabelTree) DeleteSubtree(ctx context.Context, leaf *domain.LabelLeaf) error {
	_, err := t.deleteSubtree(ctx, leaf)
	return err
}

func (t *LabelTree) deleteSubtree(ctx context.Context, leaf *domain.LabelLeaf) (int, error) {
	children, err := t.repo.Children(ctx, leaf.ID)
	if err != nil {
		return 0, err
	}
	staged := 0
	for _, child := range children {
		n, err := t.deleteSubtree(ctx, child)
		if err != nil {
			return staged, err
		}
		t.repo.Delete(child)
		staged += n + 1
	}
	return staged, nil
}

// DeleteTree removes the root and all its descendants from the store in one
// commit. The tree must not be used afterwards.
func (t *LabelTree) DeleteTree(ctx context.Context) error {
	if t.root == nil {
		return ErrNoRoot
	}

	staged, err := t.deleteSubtree(ctx, t.root)
	if err != nil {
		return err
	}
	t.repo.Delete(t.root)
	if err := t.repo.Commit(ctx); err != nil {
		return err
	}

	t.metrics.LeavesDeleted(staged + 1)
	t.log.Debug("label tree deleted", "root", t.root.ID, "leaves", staged+1)
	t.root = nil
	t.tree = make(map[int64]*domain.LabelLeaf)
	t.order = nil
	return nil
}
