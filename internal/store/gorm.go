package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pbaille/labeltree/internal/domain"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Gorm is a Repository backed by GORM. It serves both SQLite and MySQL.
type Gorm struct {
	db      *gorm.DB
	pending pending
}

// NewGormSQLite opens an SQLite database through GORM
func NewGormSQLite(path string, logger *slog.Logger) (*Gorm, error) {
	g, err := newGorm(sqlite.Open(withForeignKeys(path)), logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := g.db.DB()
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	return g, nil
}

// NewGormMySQL opens a MySQL database through GORM. The DSN needs parseTime=true
// for timestamps to scan.
func NewGormMySQL(dsn string, logger *slog.Logger) (*Gorm, error) {
	return newGorm(mysql.Open(dsn), logger)
}

// NewGorm wraps an already opened GORM handle and migrates the schema
func NewGorm(db *gorm.DB) (*Gorm, error) {
	if err := db.AutoMigrate(&domain.LabelLeaf{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &Gorm{db: db}, nil
}

func newGorm(dialector gorm.Dialector, logger *slog.Logger) (*Gorm, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewGormLogger(logger, 200*time.Millisecond),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return NewGorm(db)
}

// Close closes the underlying connection pool
func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Find retrieves a leaf by ID
func (g *Gorm) Find(ctx context.Context, id int64) (*domain.LabelLeaf, error) {
	var leaf domain.LabelLeaf
	err := g.db.WithContext(ctx).First(&leaf, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get leaf %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get leaf: %w", err)
	}
	return &leaf, nil
}

// Children returns the direct children of a leaf
func (g *Gorm) Children(ctx context.Context, id int64) ([]*domain.LabelLeaf, error) {
	var leaves []*domain.LabelLeaf
	err := g.db.WithContext(ctx).
		Where("parent_leaf_id = ?", id).
		Order("idx ASC").
		Find(&leaves).Error
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	return leaves, nil
}

// Save stages an insert or update
func (g *Gorm) Save(leaf *domain.LabelLeaf) {
	g.pending.save(leaf)
}

// Delete stages a removal
func (g *Gorm) Delete(leaf *domain.LabelLeaf) {
	g.pending.delete(leaf)
}

// Commit applies the staged operations in a single transaction
func (g *Gorm) Commit(ctx context.Context) error {
	ops := g.pending.take()
	if len(ops) == 0 {
		return nil
	}

	var inserted []*domain.LabelLeaf
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, o := range ops {
			leaf := o.leaf
			switch {
			case o.kind == opDelete:
				var refs int64
				if err := tx.Model(&domain.LabelLeaf{}).Where("parent_leaf_id = ?", leaf.ID).Count(&refs).Error; err != nil {
					return fmt.Errorf("delete leaf %d: %w", leaf.ID, err)
				}
				if refs > 0 {
					return fmt.Errorf("delete leaf %d: %d leaves still reference it", leaf.ID, refs)
				}
				result := tx.Delete(&domain.LabelLeaf{}, leaf.ID)
				if result.Error != nil {
					return fmt.Errorf("delete leaf %d: %w", leaf.ID, result.Error)
				}
				if result.RowsAffected == 0 {
					return fmt.Errorf("delete leaf %d: %w", leaf.ID, ErrNotFound)
				}
			case leaf.ID == 0:
				if err := gormCheckParent(tx, leaf); err != nil {
					return fmt.Errorf("insert leaf: %w", err)
				}
				if err := tx.Create(leaf).Error; err != nil {
					return fmt.Errorf("insert leaf: %w", err)
				}
				inserted = append(inserted, leaf)
			default:
				// Select("*") writes zero values such as is_deleted=false.
				// MySQL reports zero affected rows for unchanged values, so no row check here.
				if err := gormCheckParent(tx, leaf); err != nil {
					return fmt.Errorf("update leaf %d: %w", leaf.ID, err)
				}
				if err := tx.Model(leaf).Select("*").Updates(leaf).Error; err != nil {
					return fmt.Errorf("update leaf %d: %w", leaf.ID, err)
				}
			}
		}
		return nil
	})
	if err != nil {
		for _, leaf := range inserted {
			leaf.ID = 0
		}
		return err
	}
	return nil
}

// gormCheckParent stands in for the foreign key AutoMigrate does not declare
func gormCheckParent(tx *gorm.DB, leaf *domain.LabelLeaf) error {
	if leaf.ParentLeafID == nil {
		return nil
	}
	var n int64
	if err := tx.Model(&domain.LabelLeaf{}).Where("idx = ?", *leaf.ParentLeafID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("parent leaf %d: %w", *leaf.ParentLeafID, ErrNotFound)
	}
	return nil
}
