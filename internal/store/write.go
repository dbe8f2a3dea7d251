package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/refexgrid/internal/model"
)

// CreateConcept inserts a committed concept with one version and a
// preferred description. Concepts enclose themselves.
func (s *Store) CreateConcept(ctx context.Context, id uuid.UUID, description string, stamp model.Stamp) (model.NID, error) {
	s.writes.begin()
	defer s.writes.end()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("create concept: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	res, err := tx.ExecContext(ctx, `
		INSERT INTO components (uuid, kind) VALUES (?, ?)
	`, id.String(), int(model.KindConcept))
	if err != nil {
		return 0, fmt.Errorf("create concept %s: %w", id, err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create concept: last insert id: %w", err)
	}
	nid := model.NID(rowID)

	if _, err := tx.ExecContext(ctx, `
		UPDATE components SET enclosing_nid = ? WHERE nid = ?
	`, nid, nid); err != nil {
		return 0, fmt.Errorf("create concept: set enclosing: %w", err)
	}

	if _, err := insertVersion(ctx, tx, nid, model.Version{Stamp: stamp, Committed: true}); err != nil {
		return 0, fmt.Errorf("create concept: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO descriptions (concept_nid, text, time, status) VALUES (?, ?, ?, ?)
	`, nid, description, stamp.Time, int(stampStatus(stamp))); err != nil {
		return 0, fmt.Errorf("create concept: description: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("create concept: commit: %w", err)
	}
	return nid, nil
}

// AddDescription appends a description to a concept. The latest visible
// active description is the concept's preferred text.
func (s *Store) AddDescription(ctx context.Context, concept model.NID, text string, stamp model.Stamp) error {
	s.writes.begin()
	defer s.writes.end()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO descriptions (concept_nid, text, time, status) VALUES (?, ?, ?, ?)
	`, concept, text, stamp.Time, int(stampStatus(stamp)))
	if err != nil {
		return fmt.Errorf("add description to %d: %w", concept, err)
	}
	return nil
}

// DefineAssemblage configures an existing concept as an assemblage schema.
// Column orders must run 0..n-1 in slice order; the schema's NID and each
// column's ColumnNID must name existing concepts.
func (s *Store) DefineAssemblage(ctx context.Context, schema model.AssemblageSchema) error {
	for i, col := range schema.Columns {
		if col.Order != i {
			return fmt.Errorf("define assemblage %d: column %d has order %d", schema.NID, i, col.Order)
		}
		if col.Type == model.TypeUnknown {
			return fmt.Errorf("define assemblage %d: column %d has no data type", schema.NID, i)
		}
	}
	style := schema.Style
	if style == 0 {
		style = model.StyleAnnotation
	}

	s.writes.begin()
	defer s.writes.end()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("define assemblage: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO assemblages (nid, style, indexed) VALUES (?, ?, ?)
	`, schema.NID, int(style), boolInt(schema.Indexed)); err != nil {
		return fmt.Errorf("define assemblage %d: %w", schema.NID, err)
	}

	for _, col := range schema.Columns {
		var def sql.NullString
		if col.Default != nil {
			raw, err := model.MarshalData(col.Default)
			if err != nil {
				return fmt.Errorf("define assemblage %d: column %d default: %w", schema.NID, col.Order, err)
			}
			def = sql.NullString{String: string(raw), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO assemblage_columns
			(assemblage_nid, column_order, column_nid, data_type, description, default_value)
			VALUES (?, ?, ?, ?, ?, ?)
		`, schema.NID, col.Order, col.ColumnNID, col.Type.String(), col.Description, def); err != nil {
			return fmt.Errorf("define assemblage %d: column %d: %w", schema.NID, col.Order, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("define assemblage: commit: %w", err)
	}
	return nil
}

// AddUncommitted stages a chronicle's unpersisted versions (ID 0) as
// uncommitted edits. A new component is created when the UUID is unknown;
// c.NID, c.EnclosingNID and the new version IDs are filled in on success.
//
// Annotation-style refexes are enclosed by the referenced component's
// enclosing concept; member-style refexes by their assemblage.
func (s *Store) AddUncommitted(ctx context.Context, c *model.Chronicle) error {
	s.writes.begin()
	defer s.writes.end()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add uncommitted: begin tx: %w", err)
	}
	defer tx.Rollback()

	nid := c.NID
	enclosing := c.EnclosingNID
	if nid == 0 {
		err := tx.QueryRowContext(ctx, `
			SELECT nid, enclosing_nid FROM components WHERE uuid = ?
		`, c.UUID.String()).Scan(&nid, &enclosing)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			nid, enclosing, err = insertComponent(ctx, tx, c)
			if err != nil {
				return fmt.Errorf("add uncommitted %s: %w", c.UUID, err)
			}
		case err != nil:
			return fmt.Errorf("add uncommitted %s: lookup: %w", c.UUID, err)
		}
	}

	ids := make([]int64, len(c.Versions))
	for i, v := range c.Versions {
		if v.ID != 0 {
			ids[i] = v.ID
			continue
		}
		v.Committed = false
		id, err := insertVersion(ctx, tx, nid, v)
		if err != nil {
			return fmt.Errorf("add uncommitted %d: %w", nid, err)
		}
		ids[i] = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("add uncommitted: commit: %w", err)
	}

	c.NID = nid
	c.EnclosingNID = enclosing
	for i := range c.Versions {
		if c.Versions[i].ID == 0 {
			c.Versions[i].ID = ids[i]
			c.Versions[i].Committed = false
		}
	}
	return nil
}

// Commit makes every uncommitted version enclosed by nid's enclosing
// concept durable.
func (s *Store) Commit(ctx context.Context, nid model.NID) error {
	s.writes.begin()
	defer s.writes.end()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit %d: begin tx: %w", nid, err)
	}
	defer tx.Rollback()

	enclosing, err := enclosingOf(ctx, tx, nid)
	if err != nil {
		return fmt.Errorf("commit %d: %w", nid, err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE versions SET committed = 1
		WHERE committed = 0
		AND nid IN (SELECT nid FROM components WHERE enclosing_nid = ?)
	`, enclosing); err != nil {
		return fmt.Errorf("commit %d: %w", nid, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %d: %w", nid, err)
	}
	return nil
}

// Cancel discards every uncommitted version enclosed by nid's enclosing
// concept. Components left without any version are removed.
func (s *Store) Cancel(ctx context.Context, nid model.NID) error {
	s.writes.begin()
	defer s.writes.end()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cancel %d: begin tx: %w", nid, err)
	}
	defer tx.Rollback()

	enclosing, err := enclosingOf(ctx, tx, nid)
	if err != nil {
		return fmt.Errorf("cancel %d: %w", nid, err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM versions
		WHERE committed = 0
		AND nid IN (SELECT nid FROM components WHERE enclosing_nid = ?)
	`, enclosing); err != nil {
		return fmt.Errorf("cancel %d: versions: %w", nid, err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM components
		WHERE enclosing_nid = ?
		AND nid NOT IN (SELECT nid FROM versions)
	`, enclosing); err != nil {
		return fmt.Errorf("cancel %d: components: %w", nid, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cancel %d: %w", nid, err)
	}
	return nil
}

// insertComponent creates the component row for a chronicle that is not
// yet stored and returns its NID and enclosing NID.
func insertComponent(ctx context.Context, tx *sql.Tx, c *model.Chronicle) (model.NID, model.NID, error) {
	var enclosing model.NID
	switch c.Kind {
	case model.KindRefex:
		var style int
		err := tx.QueryRowContext(ctx, `
			SELECT style FROM assemblages WHERE nid = ?
		`, c.AssemblageNID).Scan(&style)
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, fmt.Errorf("assemblage %d: %w", c.AssemblageNID, ErrNotAssemblage)
		}
		if err != nil {
			return 0, 0, fmt.Errorf("assemblage %d: %w", c.AssemblageNID, err)
		}
		if model.Style(style) == model.StyleMember {
			enclosing = c.AssemblageNID
		} else {
			enclosing, err = enclosingOf(ctx, tx, c.ReferencedNID)
			if err != nil {
				return 0, 0, fmt.Errorf("referenced %d: %w", c.ReferencedNID, err)
			}
		}
	case model.KindConcept:
	default:
		if c.ReferencedNID != 0 {
			var err error
			enclosing, err = enclosingOf(ctx, tx, c.ReferencedNID)
			if err != nil {
				return 0, 0, fmt.Errorf("referenced %d: %w", c.ReferencedNID, err)
			}
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO components (uuid, kind, enclosing_nid, assemblage_nid, referenced_nid)
		VALUES (?, ?, ?, ?, ?)
	`, c.UUID.String(), int(c.Kind), enclosing, c.AssemblageNID, c.ReferencedNID)
	if err != nil {
		return 0, 0, fmt.Errorf("insert component: %w", err)
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return 0, 0, fmt.Errorf("insert component: last insert id: %w", err)
	}
	nid := model.NID(rowID)

	if enclosing == 0 {
		enclosing = nid
		if _, err := tx.ExecContext(ctx, `
			UPDATE components SET enclosing_nid = ? WHERE nid = ?
		`, nid, nid); err != nil {
			return 0, 0, fmt.Errorf("insert component: set enclosing: %w", err)
		}
	}
	return nid, enclosing, nil
}

// insertVersion appends one version row and returns its ID.
func insertVersion(ctx context.Context, tx *sql.Tx, nid model.NID, v model.Version) (int64, error) {
	data, err := model.MarshalDataList(v.Data)
	if err != nil {
		return 0, fmt.Errorf("marshal version data: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO versions
		(nid, status, time, author_nid, module_nid, path_nid, data, committed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		nid,
		int(stampStatus(v.Stamp)),
		v.Stamp.Time,
		v.Stamp.Author,
		v.Stamp.Module,
		v.Stamp.Path,
		string(data),
		boolInt(v.Committed),
	)
	if err != nil {
		return 0, fmt.Errorf("insert version: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert version: last insert id: %w", err)
	}
	return id, nil
}

// enclosingOf returns the enclosing concept of a component.
func enclosingOf(ctx context.Context, tx *sql.Tx, nid model.NID) (model.NID, error) {
	var enclosing model.NID
	err := tx.QueryRowContext(ctx, `
		SELECT enclosing_nid FROM components WHERE nid = ?
	`, nid).Scan(&enclosing)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("nid %d: %w", nid, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("lookup enclosing of %d: %w", nid, err)
	}
	return enclosing, nil
}

func stampStatus(st model.Stamp) model.Status {
	if st.Status == 0 {
		return model.StatusActive
	}
	return st.Status
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
