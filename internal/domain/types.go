package domain

import "time"

// Record field names, shared by the flat export, the hierarchy and the importer.
const (
	FieldID           = "idx"
	FieldName         = "name"
	FieldAbbreviation = "abbreviation"
	FieldDescription  = "description"
	FieldTimestamp    = "timestamp"
	FieldExternalID   = "external_id"
	FieldIsDeleted    = "is_deleted"
	FieldIsRoot       = "is_root"
	FieldParentID     = "parent_leaf_id"
	FieldChildren     = "children"
)

// Columns lists the record fields in export order
var Columns = []string{
	FieldID,
	FieldName,
	FieldAbbreviation,
	FieldDescription,
	FieldTimestamp,
	FieldExternalID,
	FieldIsDeleted,
	FieldIsRoot,
	FieldParentID,
}

// LabelLeaf is one node of a label tree. Despite the name it covers
// inner nodes and the root as well.
type LabelLeaf struct {
	ID           int64      `gorm:"column:idx;primaryKey;autoIncrement" json:"idx"`
	Name         string     `gorm:"column:name;size:100;not null" json:"name"`
	Abbreviation *string    `gorm:"column:abbreviation;size:20" json:"abbreviation,omitempty"`
	Description  *string    `gorm:"column:description;type:text" json:"description,omitempty"`
	Timestamp    *time.Time `gorm:"column:timestamp" json:"timestamp,omitempty"`
	ExternalID   *string    `gorm:"column:external_id;size:200" json:"external_id,omitempty"`
	IsDeleted    bool       `gorm:"column:is_deleted" json:"is_deleted"`
	IsRoot       bool       `gorm:"column:is_root" json:"is_root"`
	ParentLeafID *int64     `gorm:"column:parent_leaf_id;index" json:"parent_leaf_id,omitempty"`
}

// TableName returns the table name for GORM.
func (LabelLeaf) TableName() string {
	return "label_leaf"
}

// Record is a flat set of named attributes, one per leaf. Absent keys and
// nil values are distinct: the importer treats a missing key as "column not provided".
type Record map[string]any

// Record converts the leaf to a flat attribute record. Null columns map to nil.
func (l *LabelLeaf) Record() Record {
	r := make(Record, len(Columns))
	for _, name := range Columns {
		r[name], _ = l.Field(name)
	}
	return r
}

// Field returns one attribute by its record name
func (l *LabelLeaf) Field(name string) (any, bool) {
	switch name {
	case FieldID:
		return l.ID, true
	case FieldName:
		return l.Name, true
	case FieldAbbreviation:
		return derefOrNil(l.Abbreviation), true
	case FieldDescription:
		return derefOrNil(l.Description), true
	case FieldTimestamp:
		return derefOrNil(l.Timestamp), true
	case FieldExternalID:
		return derefOrNil(l.ExternalID), true
	case FieldIsDeleted:
		return l.IsDeleted, true
	case FieldIsRoot:
		return l.IsRoot, true
	case FieldParentID:
		return derefOrNil(l.ParentLeafID), true
	}
	return nil, false
}

func derefOrNil[T any](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}
