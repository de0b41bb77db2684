package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/pbaille/labeltree/internal/domain"
)

// Memory is an in-process Repository. Leaves are copied in and out so
// callers never alias stored rows, like with a real database.
type Memory struct {
	mu      sync.Mutex
	rows    map[int64]domain.LabelLeaf
	nextID  int64
	pending pending

	// FailCommit, when set, is returned by the next Commit instead of applying work.
	FailCommit error
}

// NewMemory creates an empty in-memory repository
func NewMemory() *Memory {
	return &Memory{rows: make(map[int64]domain.LabelLeaf), nextID: 1}
}

// Close is a no-op
func (m *Memory) Close() error { return nil }

// Len returns the number of committed leaves
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

// Find retrieves a leaf by ID
func (m *Memory) Find(_ context.Context, id int64) (*domain.LabelLeaf, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	row, ok := m.rows[id]
	if !ok {
		return nil, fmt.Errorf("get leaf %d: %w", id, ErrNotFound)
	}
	return &row, nil
}

// Children returns the direct children of a leaf
func (m *Memory) Children(_ context.Context, id int64) ([]*domain.LabelLeaf, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var leaves []*domain.LabelLeaf
	for _, row := range m.rows {
		if row.ParentLeafID != nil && *row.ParentLeafID == id {
			leaves = append(leaves, &row)
		}
	}
	slices.SortFunc(leaves, func(a, b *domain.LabelLeaf) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return leaves, nil
}

// Save stages an insert or update
func (m *Memory) Save(leaf *domain.LabelLeaf) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending.save(leaf)
}

// Delete stages a removal
func (m *Memory) Delete(leaf *domain.LabelLeaf) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending.delete(leaf)
}

// Commit applies the staged operations atomically
func (m *Memory) Commit(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ops := m.pending.take()
	if m.FailCommit != nil {
		err := m.FailCommit
		m.FailCommit = nil
		return err
	}

	// Work on a copy so a failing op leaves committed state untouched.
	rows := make(map[int64]domain.LabelLeaf, len(m.rows))
	for id, row := range m.rows {
		rows[id] = row
	}
	nextID := m.nextID
	assigned := make(map[*domain.LabelLeaf]int64)

	for _, o := range ops {
		leaf := o.leaf
		id := leaf.ID
		if newID, ok := assigned[leaf]; ok {
			id = newID
		}

		switch {
		case o.kind == opDelete:
			if _, ok := rows[id]; !ok {
				return fmt.Errorf("delete leaf %d: %w", id, ErrNotFound)
			}
			for _, row := range rows {
				if row.ParentLeafID != nil && *row.ParentLeafID == id {
					return fmt.Errorf("delete leaf %d: leaf %d still references it", id, row.ID)
				}
			}
			delete(rows, id)
		case id == 0:
			if err := checkParent(rows, leaf); err != nil {
				return fmt.Errorf("insert leaf: %w", err)
			}
			id = nextID
			nextID++
			assigned[leaf] = id
			row := *leaf
			row.ID = id
			rows[id] = row
		default:
			if _, ok := rows[id]; !ok {
				return fmt.Errorf("update leaf %d: %w", id, ErrNotFound)
			}
			if err := checkParent(rows, leaf); err != nil {
				return fmt.Errorf("update leaf %d: %w", id, err)
			}
			row := *leaf
			row.ID = id
			rows[id] = row
		}
	}

	m.rows = rows
	m.nextID = nextID
	for leaf, id := range assigned {
		leaf.ID = id
	}
	return nil
}

func checkParent(rows map[int64]domain.LabelLeaf, leaf *domain.LabelLeaf) error {
	if leaf.ParentLeafID == nil {
		return nil
	}
	if _, ok := rows[*leaf.ParentLeafID]; !ok {
		return fmt.Errorf("parent leaf %d: %w", *leaf.ParentLeafID, ErrNotFound)
	}
	return nil
}
