package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pbaille/labeltree/internal/domain"
)

//go:embed schema.sql
var schema string

const leafColumns = "idx, name, abbreviation, description, timestamp, external_id, is_deleted, is_root, parent_leaf_id"

// SQLite is a Repository on top of database/sql and go-sqlite3
type SQLite struct {
	db      *sql.DB
	pending pending
}

// NewSQLite opens the database at dbPath and initializes the schema
func NewSQLite(dbPath string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", withForeignKeys(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps :memory: databases and pragmas consistent.
	db.SetMaxOpenConns(1)

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "_foreign_keys") {
		return dsn
	}
	if strings.Contains(dsn, "?") {
		return dsn + "&_foreign_keys=on"
	}
	return dsn + "?_foreign_keys=on"
}

// Close closes the database connection
func (s *SQLite) Close() error {
	return s.db.Close()
}

// Find retrieves a leaf by ID
func (s *SQLite) Find(ctx context.Context, id int64) (*domain.LabelLeaf, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+leafColumns+" FROM label_leaf WHERE idx = ?",
		id,
	)
	leaf, err := scanLeaf(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get leaf %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get leaf: %w", err)
	}
	return leaf, nil
}

// Children returns the direct children of a leaf
func (s *SQLite) Children(ctx context.Context, id int64) ([]*domain.LabelLeaf, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+leafColumns+" FROM label_leaf WHERE parent_leaf_id = ? ORDER BY idx",
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var leaves []*domain.LabelLeaf
	for rows.Next() {
		leaf, err := scanLeaf(rows)
		if err != nil {
			return nil, fmt.Errorf("scan leaf: %w", err)
		}
		leaves = append(leaves, leaf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}

	return leaves, nil
}

// Save stages an insert or update
func (s *SQLite) Save(leaf *domain.LabelLeaf) {
	s.pending.save(leaf)
}

// Delete stages a removal
func (s *SQLite) Delete(leaf *domain.LabelLeaf) {
	s.pending.delete(leaf)
}

// Commit applies the staged operations in a single transaction
func (s *SQLite) Commit(ctx context.Context) error {
	ops := s.pending.take()
	if len(ops) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	var inserted []*domain.LabelLeaf
	for _, o := range ops {
		if err := s.apply(ctx, tx, o, &inserted); err != nil {
			tx.Rollback()
			// IDs assigned inside the aborted transaction are not real.
			for _, leaf := range inserted {
				leaf.ID = 0
			}
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		for _, leaf := range inserted {
			leaf.ID = 0
		}
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLite) apply(ctx context.Context, tx *sql.Tx, o op, inserted *[]*domain.LabelLeaf) error {
	leaf := o.leaf
	switch {
	case o.kind == opDelete:
		res, err := tx.ExecContext(ctx, "DELETE FROM label_leaf WHERE idx = ?", leaf.ID)
		if err != nil {
			return fmt.Errorf("delete leaf %d: %w", leaf.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("delete leaf %d: %w", leaf.ID, ErrNotFound)
		}
	case leaf.ID == 0:
		res, err := tx.ExecContext(ctx,
			`INSERT INTO label_leaf (name, abbreviation, description, timestamp, external_id, is_deleted, is_root, parent_leaf_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			leaf.Name, leaf.Abbreviation, leaf.Description, leaf.Timestamp,
			leaf.ExternalID, leaf.IsDeleted, leaf.IsRoot, leaf.ParentLeafID,
		)
		if err != nil {
			return fmt.Errorf("insert leaf: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("insert leaf: %w", err)
		}
		leaf.ID = id
		*inserted = append(*inserted, leaf)
	default:
		res, err := tx.ExecContext(ctx,
			`UPDATE label_leaf SET name = ?, abbreviation = ?, description = ?, timestamp = ?,
			 external_id = ?, is_deleted = ?, is_root = ?, parent_leaf_id = ? WHERE idx = ?`,
			leaf.Name, leaf.Abbreviation, leaf.Description, leaf.Timestamp,
			leaf.ExternalID, leaf.IsDeleted, leaf.IsRoot, leaf.ParentLeafID, leaf.ID,
		)
		if err != nil {
			return fmt.Errorf("update leaf %d: %w", leaf.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("update leaf %d: %w", leaf.ID, ErrNotFound)
		}
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLeaf(row scanner) (*domain.LabelLeaf, error) {
	var (
		leaf         domain.LabelLeaf
		abbreviation sql.NullString
		description  sql.NullString
		timestamp    sql.NullTime
		externalID   sql.NullString
		parentID     sql.NullInt64
	)
	err := row.Scan(&leaf.ID, &leaf.Name, &abbreviation, &description, &timestamp,
		&externalID, &leaf.IsDeleted, &leaf.IsRoot, &parentID)
	if err != nil {
		return nil, err
	}

	if abbreviation.Valid {
		leaf.Abbreviation = &abbreviation.String
	}
	if description.Valid {
		leaf.Description = &description.String
	}
	if timestamp.Valid {
		leaf.Timestamp = &timestamp.Time
	}
	if externalID.Valid {
		leaf.ExternalID = &externalID.String
	}
	if parentID.Valid {
		leaf.ParentLeafID = &parentID.Int64
	}
	return &leaf, nil
}
