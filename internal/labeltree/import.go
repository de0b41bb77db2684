package labeltree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pbaille/labeltree/internal/domain"
	"github.com/spf13/cast"
)

var (
	// ErrRootCount is matched by *RootCountError
	ErrRootCount = errors.New("import needs exactly one root leaf")

	// ErrMissingName is returned when an import row has no name
	ErrMissingName = errors.New("import row has no name")

	// ErrDuplicateRow is returned when two import rows share a row-local idx
	ErrDuplicateRow = errors.New("duplicate row idx in import")
)

// RootCountError reports an import table without exactly one root row
type RootCountError struct {
	Count int
	Rows  []domain.Record
}

func (e *RootCountError) Error() string {
	names := make([]string, 0, len(e.Rows))
	for _, r := range e.Rows {
		names = append(names, fmt.Sprintf("%v", r[domain.FieldName]))
	}
	return fmt.Sprintf("cannot import: need exactly one root leaf, found %d %v", e.Count, names)
}

// Is reports ErrRootCount as a match
func (e *RootCountError) Is(target error) bool {
	return target == ErrRootCount
}

type optionalField struct {
	name string
	set  func(*domain.LabelLeaf, any) error
}

// optionalFields are copied from an import row onto a created leaf when present
var optionalFields = []optionalField{
	{domain.FieldAbbreviation, func(l *domain.LabelLeaf, v any) (err error) {
		l.Abbreviation, err = optString(v)
		return err
	}},
	{domain.FieldDescription, func(l *domain.LabelLeaf, v any) (err error) {
		l.Description, err = optString(v)
		return err
	}},
	{domain.FieldTimestamp, func(l *domain.LabelLeaf, v any) error {
		if isNull(v) {
			l.Timestamp = nil
			return nil
		}
		ts, err := cast.ToTimeE(v)
		if err != nil {
			return err
		}
		l.Timestamp = &ts
		return nil
	}},
	{domain.FieldExternalID, func(l *domain.LabelLeaf, v any) (err error) {
		l.ExternalID, err = optString(v)
		return err
	}},
	{domain.FieldIsDeleted, func(l *domain.LabelLeaf, v any) error {
		if isNull(v) {
			l.IsDeleted = false
			return nil
		}
		b, err := cast.ToBoolE(v)
		if err != nil {
			return err
		}
		l.IsDeleted = b
		return nil
	}},
}

// Import builds a new tree from rows. Exactly one row must have no
// parent_leaf_id; the others link to their parent through the parent's
// row-local idx. Every leaf is committed as it is created, so a failure
// part way leaves the leaves created so far in the store.
func (t *LabelTree) Import(ctx context.Context, rows []domain.Record) error {
	log := t.log.With("import", uuid.NewString())

	var roots, others []domain.Record
	for _, row := range rows {
		if _, ok := rowKey(row[domain.FieldParentID]); ok {
			others = append(others, row)
		} else {
			roots = append(roots, row)
		}
	}

	if len(roots) != 1 {
		t.metrics.ImportFinished("invalid", 0)
		return &RootCountError{Count: len(roots), Rows: roots}
	}
	if err := validateRows(rows); err != nil {
		t.metrics.ImportFinished("invalid", 0)
		return err
	}

	created := 0
	err := t.importRows(ctx, log, roots[0], others, &created)
	if err != nil {
		t.metrics.ImportFinished("error", created)
		return err
	}
	t.metrics.ImportFinished("success", created)

	if orphans := len(rows) - created; orphans > 0 {
		log.Warn("import rows not reachable from root were skipped", "rows", orphans)
	}
	log.Info("label tree imported", "root", t.root.ID, "leaves", created)
	return nil
}

func (t *LabelTree) importRows(ctx context.Context, log *slog.Logger, rootRow domain.Record, others []domain.Record, created *int) error {
	name, _ := rowName(rootRow)
	root, err := t.CreateRoot(ctx, name, nil)
	if err != nil {
		return err
	}
	*created++
	if err := t.copyRow(ctx, log, rootRow, root); err != nil {
		return err
	}

	children := make(map[string][]domain.Record)
	for _, row := range others {
		key, _ := rowKey(row[domain.FieldParentID])
		children[key] = append(children[key], row)
	}

	return t.createChildren(ctx, log, children, root, rootRow, created)
}

func (t *LabelTree) createChildren(ctx context.Context, log *slog.Logger, children map[string][]domain.Record, parent *domain.LabelLeaf, parentRow domain.Record, created *int) error {
	key, ok := rowKey(parentRow[domain.FieldID])
	if !ok {
		return nil
	}
	for _, row := range children[key] {
		name, _ := rowName(row)
		child, err := t.CreateChild(ctx, parent.ID, name, nil)
		if err != nil {
			return err
		}
		*created++
		if err := t.copyRow(ctx, log, row, child); err != nil {
			return err
		}
		if err := t.createChildren(ctx, log, children, child, row, created); err != nil {
			return err
		}
	}
	return nil
}

// copyRow copies whichever optional fields the row provides onto leaf and
// persists the leaf if anything was copied. Missing columns are not errors.
func (t *LabelTree) copyRow(ctx context.Context, log *slog.Logger, row domain.Record, leaf *domain.LabelLeaf) error {
	copied := 0
	for _, f := range optionalFields {
		v, ok := row[f.name]
		if !ok {
			log.Info("field not provided in label tree", "field", f.name)
			continue
		}
		if err := f.set(leaf, v); err != nil {
			log.Warn("field value ignored", "field", f.name, "leaf", leaf.ID, "error", err)
			continue
		}
		copied++
	}
	if copied == 0 {
		return nil
	}
	t.repo.Save(leaf)
	return t.repo.Commit(ctx)
}

func validateRows(rows []domain.Record) error {
	seen := make(map[string]int, len(rows))
	for i, row := range rows {
		if _, ok := rowName(row); !ok {
			return fmt.Errorf("%w: row %d", ErrMissingName, i)
		}
		key, ok := rowKey(row[domain.FieldID])
		if !ok {
			continue
		}
		if j, dup := seen[key]; dup {
			return fmt.Errorf("%w: rows %d and %d have idx %s", ErrDuplicateRow, j, i, key)
		}
		seen[key] = i
	}
	return nil
}

func rowName(row domain.Record) (string, bool) {
	v, ok := row[domain.FieldName]
	if !ok || isNull(v) {
		return "", false
	}
	name, err := cast.ToStringE(v)
	if err != nil || name == "" {
		return "", false
	}
	return name, true
}

// rowKey normalizes a row-local identifier so 1, "1" and 1.0 compare equal.
// Null, empty and NaN values report false.
func rowKey(v any) (string, bool) {
	if isNull(v) {
		return "", false
	}
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) {
			return strconv.FormatInt(int64(x), 10), true
		}
		return strconv.FormatFloat(x, 'g', -1, 64), true
	case float32:
		return rowKey(float64(x))
	case string:
		s := strings.TrimSpace(x)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return strconv.FormatInt(n, 10), true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return rowKey(f)
		}
		return s, true
	}
	if n, err := cast.ToInt64E(v); err == nil {
		return strconv.FormatInt(n, 10), true
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return fmt.Sprintf("%v", v), true
	}
	return s, true
}

func isNull(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case float64:
		return math.IsNaN(x)
	case float32:
		return math.IsNaN(float64(x))
	case *string:
		return x == nil
	case *int64:
		return x == nil
	case *time.Time:
		return x == nil
	}
	return false
}

func optString(v any) (*string, error) {
	if v == nil {
		return nil, nil
	}
	if p, ok := v.(*string); ok {
		return p, nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
