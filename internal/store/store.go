package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pbaille/labeltree/internal/domain"
)

// ErrNotFound is returned when no leaf exists for an identifier
var ErrNotFound = errors.New("label leaf not found")

// Repository is the backing store a label tree reads from and writes to.
// Save and Delete only stage work; nothing is durable until Commit.
type Repository interface {
	// Find returns the leaf with the given identifier or an error wrapping ErrNotFound.
	Find(ctx context.Context, id int64) (*domain.LabelLeaf, error)

	// Children returns the direct children of a leaf, ordered by identifier.
	Children(ctx context.Context, id int64) ([]*domain.LabelLeaf, error)

	// Save stages an insert (zero ID) or an update.
	Save(leaf *domain.LabelLeaf)

	// Delete stages the removal of a leaf.
	Delete(leaf *domain.LabelLeaf)

	// Commit applies every staged operation in one transaction. Inserted
	// leaves get their ID assigned. On failure staged work is discarded.
	Commit(ctx context.Context) error

	Close() error
}

// Supported drivers for Open
const (
	DriverSQLite     = "sqlite"
	DriverGormSQLite = "gorm-sqlite"
	DriverMySQL      = "mysql"
	DriverMemory     = "memory"
)

// Open creates a repository for the named driver
func Open(driver, dsn string, logger *slog.Logger) (Repository, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLite(dsn)
	case DriverGormSQLite:
		return NewGormSQLite(dsn, logger)
	case DriverMySQL:
		return NewGormMySQL(dsn, logger)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}
}

type opKind int

const (
	opSave opKind = iota
	opDelete
)

type op struct {
	kind opKind
	leaf *domain.LabelLeaf
}

// pending is the unit of work shared by the backends
type pending struct {
	ops []op
}

func (p *pending) save(leaf *domain.LabelLeaf) {
	p.ops = append(p.ops, op{kind: opSave, leaf: leaf})
}

func (p *pending) delete(leaf *domain.LabelLeaf) {
	p.ops = append(p.ops, op{kind: opDelete, leaf: leaf})
}

// take returns the staged ops and resets the queue
func (p *pending) take() []op {
	ops := p.ops
	p.ops = nil
	return ops
}
