package labeltree

import (
	"context"
	"errors"
	"fmt"

	"github.com/pbaille/labeltree/internal/domain"
)

// ErrUnknownField is returned when a requested attribute does not exist on a leaf
var ErrUnknownField = errors.New("unknown leaf field")

// Records converts every indexed leaf to a flat record. Row order follows
// indexing order and carries no meaning.
func (t *LabelTree) Records() []domain.Record {
	records := make([]domain.Record, 0, len(t.order))
	for _, id := range t.order {
		records = append(records, t.tree[id].Record())
	}
	return records
}

// ChildValues returns one attribute of every direct child of parentID.
// The parent must be indexed; its children are read from the store.
func (t *LabelTree) ChildValues(ctx context.Context, parentID int64, field string) ([]any, error) {
	if field == "" {
		field = domain.FieldID
	}
	children, err := t.children(ctx, parentID)
	if err != nil {
		return nil, err
	}

	values := make([]any, 0, len(children))
	for _, child := range children {
		v, ok := child.Field(field)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
		}
		values = append(values, v)
	}
	return values, nil
}

// ChildTuples returns, per direct child of parentID, the requested
// attributes in the requested order.
func (t *LabelTree) ChildTuples(ctx context.Context, parentID int64, fields ...string) ([][]any, error) {
	if len(fields) == 0 {
		fields = []string{domain.FieldID}
	}
	children, err := t.children(ctx, parentID)
	if err != nil {
		return nil, err
	}

	tuples := make([][]any, 0, len(children))
	for _, child := range children {
		tuple := make([]any, len(fields))
		for i, field := range fields {
			v, ok := child.Field(field)
			if !ok {
				return nil, fmt.Errorf("%w: %q", ErrUnknownField, field)
			}
			tuple[i] = v
		}
		tuples = append(tuples, tuple)
	}
	return tuples, nil
}

func (t *LabelTree) children(ctx context.Context, parentID int64) ([]*domain.LabelLeaf, error) {
	if _, ok := t.tree[parentID]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrNotIndexed, parentID)
	}
	return t.repo.Children(ctx, parentID)
}

// Hierarchy returns the root record with a "children" key holding the
// records of its children, recursively. Leaves get an empty children list.
// It walks the store, not the in-memory index.
func (t *LabelTree) Hierarchy(ctx context.Context) (domain.Record, error) {
	if t.root == nil {
		return nil, ErrNoRoot
	}
	record := t.root.Record()
	if err := t.collectHierarchy(ctx, t.root, record); err != nil {
		return nil, err
	}
	return record, nil
}

func (t *LabelTree) collectHierarchy(ctx context.Context, leaf *domain.LabelLeaf, record domain.Record) error {
	children, err := t.repo.Children(ctx, leaf.ID)
	if err != nil {
		return err
	}
	nested := make([]domain.Record, 0, len(children))
	for _, child := range children {
		childRecord := child.Record()
		if err := t.collectHierarchy(ctx, child, childRecord); err != nil {
			return err
		}
		nested = append(nested, childRecord)
	}
	record[domain.FieldChildren] = nested
	return nil
}

// Renumber returns copies of records whose idx and parent_leaf_id are
// replaced by row-local identifiers 1..N, ready to be fed to Import.
// Parent references that point outside the set become nil.
func Renumber(records []domain.Record) []domain.Record {
	local := make(map[string]int64, len(records))
	for i, r := range records {
		if key, ok := rowKey(r[domain.FieldID]); ok {
			local[key] = int64(i + 1)
		}
	}

	out := make([]domain.Record, len(records))
	for i, r := range records {
		c := make(domain.Record, len(r))
		for k, v := range r {
			c[k] = v
		}
		c[domain.FieldID] = int64(i + 1)
		if key, ok := rowKey(r[domain.FieldParentID]); ok {
			if id, found := local[key]; found {
				c[domain.FieldParentID] = id
			} else {
				c[domain.FieldParentID] = nil
			}
		}
		out[i] = c
	}
	return out
}
