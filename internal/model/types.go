package model

import (
	"fmt"

	"github.com/google/uuid"
)

// NID is the process-local integer alias of a component. Zero means none.
type NID int32

// Status is the activity state recorded on a stamp.
type Status int

const (
	StatusActive Status = iota + 1
	StatusInactive
)

// String returns "Active" or "Inactive".
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusInactive:
		return "Inactive"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// ParseStatus accepts "active"/"inactive" in any case.
func ParseStatus(s string) (Status, error) {
	switch s {
	case "active", "Active", "ACTIVE", "":
		return StatusActive, nil
	case "inactive", "Inactive", "INACTIVE":
		return StatusInactive, nil
	}
	return 0, fmt.Errorf("unknown status %q", s)
}

// Stamp is the metadata attached to every version.
type Stamp struct {
	Status Status
	Time   int64 // unix milliseconds
	Author NID
	Module NID
	Path   NID
}

// Active reports whether the stamp status is active.
func (s Stamp) Active() bool { return s.Status == StatusActive }

// Kind distinguishes component families.
type Kind int

const (
	KindConcept Kind = iota + 1
	KindDescription
	KindRelationship
	KindRefex
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindConcept:
		return "concept"
	case KindDescription:
		return "description"
	case KindRelationship:
		return "relationship"
	case KindRefex:
		return "refex"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Version is one entry in a chronicle's append-only history.
type Version struct {
	// ID is the storage identity of the version; 0 until persisted.
	ID        int64
	Stamp     Stamp
	Committed bool
	// Data holds the ordered column values of a refex version; nil otherwise.
	Data []Data
}

// Chronicle is the full version history of one component.
type Chronicle struct {
	NID  NID
	UUID uuid.UUID // primordial identity
	Kind Kind

	// EnclosingNID is the concept whose commit or cancel covers this
	// component. Concepts enclose themselves.
	EnclosingNID NID

	// Refex only.
	AssemblageNID NID
	ReferencedNID NID

	// Versions are ordered oldest first.
	Versions []Version
}

// IsRefex reports whether the chronicle is a dynamic refex (sememe).
func (c *Chronicle) IsRefex() bool { return c.Kind == KindRefex }

// Uncommitted reports whether any version has not been committed.
func (c *Chronicle) Uncommitted() bool {
	for _, v := range c.Versions {
		if !v.Committed {
			return true
		}
	}
	return false
}

// Latest returns the version with the greatest stamp time, or nil.
// Later entries win ties.
func (c *Chronicle) Latest() *Version {
	var latest *Version
	for i := range c.Versions {
		v := &c.Versions[i]
		if latest == nil || v.Stamp.Time >= latest.Stamp.Time {
			latest = v
		}
	}
	return latest
}

// Append adds a version to the end of the history.
func (c *Chronicle) Append(v Version) {
	c.Versions = append(c.Versions, v)
}

// NewRefex creates an uncommitted refex chronicle with a single version.
func NewRefex(id uuid.UUID, assemblage, referenced NID, stamp Stamp, data ...Data) *Chronicle {
	return &Chronicle{
		UUID:          id,
		Kind:          KindRefex,
		AssemblageNID: assemblage,
		ReferencedNID: referenced,
		Versions:      []Version{{Stamp: stamp, Data: data}},
	}
}

// Style says where refexes of an assemblage are stored.
type Style int

const (
	// StyleAnnotation refexes are stored with the component they reference.
	StyleAnnotation Style = iota + 1
	// StyleMember refexes are stored as children of the assemblage concept.
	StyleMember
)

// String returns "annotation" or "member".
func (s Style) String() string {
	switch s {
	case StyleAnnotation:
		return "annotation"
	case StyleMember:
		return "member"
	default:
		return fmt.Sprintf("style(%d)", int(s))
	}
}

// ParseStyle parses a style name. Empty defaults to annotation.
func ParseStyle(s string) (Style, error) {
	switch s {
	case "", "annotation":
		return StyleAnnotation, nil
	case "member":
		return StyleMember, nil
	}
	return 0, fmt.Errorf("unknown assemblage style %q", s)
}

// ColumnInfo describes one column of an assemblage schema.
type ColumnInfo struct {
	AssemblageNID NID
	// ColumnNID is the column description concept; it identifies the column.
	ColumnNID  NID
	ColumnUUID uuid.UUID
	// Name is the preferred description of the column concept.
	Name        string
	Order       int
	Type        DataType
	Description string
	Default     Data
}

// AssemblageSchema is the column layout owned by an assemblage concept.
type AssemblageSchema struct {
	NID     NID
	UUID    uuid.UUID
	Name    string
	Style   Style
	Indexed bool
	Columns []ColumnInfo
}

// ViewCoordinate selects which concept versions are visible.
type ViewCoordinate struct {
	// Time is the latest stamp time considered; 0 means no limit.
	Time int64
}

// Visible reports whether a stamp time falls inside the coordinate.
func (vc ViewCoordinate) Visible(t int64) bool {
	return vc.Time == 0 || t <= vc.Time
}

// ConceptVersion is the resolved view of a concept under a coordinate.
type ConceptVersion struct {
	NID         NID
	UUID        uuid.UUID
	Description string
	Status      Status
}
