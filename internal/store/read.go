package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/refexgrid/internal/model"
)

const componentColumns = `nid, uuid, kind, enclosing_nid, assemblage_nid, referenced_nid`

// Component returns the chronicle for a NID, or ErrNotFound.
// Versions are ordered oldest first: ORDER BY time ASC, id ASC.
func (s *Store) Component(ctx context.Context, nid model.NID) (*model.Chronicle, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+componentColumns+` FROM components WHERE nid = ?
	`, nid)
	c, err := scanComponent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("nid %d: %w", nid, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read component %d: %w", nid, err)
	}
	if err := s.loadVersions(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// ComponentByUUID returns the chronicle for a persistent identity.
func (s *Store) ComponentByUUID(ctx context.Context, id uuid.UUID) (*model.Chronicle, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+componentColumns+` FROM components WHERE uuid = ?
	`, id.String())
	c, err := scanComponent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("uuid %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read component %s: %w", id, err)
	}
	if err := s.loadVersions(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// Annotations returns every refex that references nid, ordered by NID.
// Returns an empty slice (not nil) if none exist.
func (s *Store) Annotations(ctx context.Context, nid model.NID) ([]*model.Chronicle, error) {
	return s.queryChronicles(ctx, `
		SELECT `+componentColumns+` FROM components
		WHERE referenced_nid = ? AND kind = ?
		ORDER BY nid ASC
	`, nid, int(model.KindRefex))
}

// RefexesByAssemblage returns every refex conforming to an assemblage,
// ordered by NID. The grid does not call this; it is used to (re)build
// the usage index.
func (s *Store) RefexesByAssemblage(ctx context.Context, assemblage model.NID) ([]*model.Chronicle, error) {
	return s.queryChronicles(ctx, `
		SELECT `+componentColumns+` FROM components
		WHERE assemblage_nid = ? AND kind = ?
		ORDER BY nid ASC
	`, assemblage, int(model.KindRefex))
}

// NIDs lists every component NID in ascending order.
func (s *Store) NIDs(ctx context.Context) ([]model.NID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT nid FROM components ORDER BY nid ASC`)
	if err != nil {
		return nil, fmt.Errorf("query nids: %w", err)
	}
	defer rows.Close()

	nids := []model.NID{}
	for rows.Next() {
		var nid model.NID
		if err := rows.Scan(&nid); err != nil {
			return nil, fmt.Errorf("scan nid: %w", err)
		}
		nids = append(nids, nid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nids: %w", err)
	}
	return nids, nil
}

// ConceptVersion resolves a concept under a view coordinate. The
// description is the latest visible one, active descriptions first; it is
// empty when the concept has none.
func (s *Store) ConceptVersion(ctx context.Context, vc model.ViewCoordinate, nid model.NID) (*model.ConceptVersion, error) {
	c, err := s.Component(ctx, nid)
	if err != nil {
		return nil, err
	}

	cv := &model.ConceptVersion{NID: c.NID, UUID: c.UUID, Status: model.StatusActive}
	var latest *model.Version
	for i := range c.Versions {
		v := &c.Versions[i]
		if vc.Visible(v.Stamp.Time) && (latest == nil || v.Stamp.Time >= latest.Stamp.Time) {
			latest = v
		}
	}
	if latest != nil {
		cv.Status = latest.Stamp.Status
	}

	text, err := s.preferredDescription(ctx, vc, nid)
	if err != nil {
		return nil, err
	}
	cv.Description = text
	return cv, nil
}

// ReadAssemblageSchema returns the column layout of an assemblage concept.
// Returns an error wrapping ErrNotAssemblage when the concept is not
// configured, or when its stored columns are malformed.
func (s *Store) ReadAssemblageSchema(ctx context.Context, nid model.NID) (*model.AssemblageSchema, error) {
	schema := &model.AssemblageSchema{NID: nid}

	var (
		idText  string
		style   int
		indexed int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT c.uuid, a.style, a.indexed
		FROM assemblages a
		JOIN components c ON c.nid = a.nid
		WHERE a.nid = ?
	`, nid).Scan(&idText, &style, &indexed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("assemblage %d: %w", nid, ErrNotAssemblage)
	}
	if err != nil {
		return nil, fmt.Errorf("read assemblage %d: %w", nid, err)
	}
	schema.UUID, err = uuid.Parse(idText)
	if err != nil {
		return nil, fmt.Errorf("assemblage %d uuid: %w", nid, err)
	}
	schema.Style = model.Style(style)
	schema.Indexed = indexed != 0

	name, err := s.preferredDescription(ctx, model.ViewCoordinate{}, nid)
	if err != nil {
		return nil, err
	}
	schema.Name = name

	columns, err := s.readColumns(ctx, nid)
	if err != nil {
		return nil, err
	}
	schema.Columns = columns
	return schema, nil
}

// IndexedAssemblages lists the assemblages flagged for the usage index.
func (s *Store) IndexedAssemblages(ctx context.Context) ([]model.NID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT nid FROM assemblages WHERE indexed = 1 ORDER BY nid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query indexed assemblages: %w", err)
	}
	defer rows.Close()

	var nids []model.NID
	for rows.Next() {
		var nid model.NID
		if err := rows.Scan(&nid); err != nil {
			return nil, fmt.Errorf("scan assemblage: %w", err)
		}
		nids = append(nids, nid)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indexed assemblages: %w", err)
	}
	return nids, nil
}

func (s *Store) readColumns(ctx context.Context, assemblage model.NID) ([]model.ColumnInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ac.column_order, ac.column_nid, c.uuid, ac.data_type, ac.description, ac.default_value,
			COALESCE((
				SELECT d.text FROM descriptions d
				WHERE d.concept_nid = ac.column_nid
				ORDER BY d.status ASC, d.time DESC, d.id DESC
				LIMIT 1
			), '')
		FROM assemblage_columns ac
		JOIN components c ON c.nid = ac.column_nid
		WHERE ac.assemblage_nid = ?
		ORDER BY ac.column_order ASC
	`, assemblage)
	if err != nil {
		return nil, fmt.Errorf("query columns of %d: %w", assemblage, err)
	}
	defer rows.Close()

	columns := []model.ColumnInfo{}
	for rows.Next() {
		var (
			col      model.ColumnInfo
			idText   string
			typeName string
			def      sql.NullString
		)
		if err := rows.Scan(&col.Order, &col.ColumnNID, &idText, &typeName, &col.Description, &def, &col.Name); err != nil {
			return nil, fmt.Errorf("scan column of %d: %w", assemblage, err)
		}
		col.AssemblageNID = assemblage
		if col.ColumnUUID, err = uuid.Parse(idText); err != nil {
			return nil, fmt.Errorf("assemblage %d column %d: %w: %v", assemblage, col.Order, ErrNotAssemblage, err)
		}
		if col.Type, err = model.ParseDataType(typeName); err != nil {
			return nil, fmt.Errorf("assemblage %d column %d: %w: %v", assemblage, col.Order, ErrNotAssemblage, err)
		}
		if def.Valid {
			if col.Default, err = model.UnmarshalData([]byte(def.String)); err != nil {
				return nil, fmt.Errorf("assemblage %d column %d default: %w: %v", assemblage, col.Order, ErrNotAssemblage, err)
			}
		}
		if col.Order != len(columns) {
			return nil, fmt.Errorf("assemblage %d: column order gap at %d: %w", assemblage, col.Order, ErrNotAssemblage)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns of %d: %w", assemblage, err)
	}
	return columns, nil
}

// preferredDescription picks the latest visible description, active first.
// Status 1 is active, so ORDER BY status ASC puts active rows first.
func (s *Store) preferredDescription(ctx context.Context, vc model.ViewCoordinate, nid model.NID) (string, error) {
	var text string
	err := s.db.QueryRowContext(ctx, `
		SELECT text FROM descriptions
		WHERE concept_nid = ? AND (? = 0 OR time <= ?)
		ORDER BY status ASC, time DESC, id DESC
		LIMIT 1
	`, nid, vc.Time, vc.Time).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read description of %d: %w", nid, err)
	}
	return text, nil
}

// queryChronicles runs a component query and loads versions for each row.
// Component rows are fully read before versions are queried: the store
// holds a single connection, so a nested query on an open cursor would
// block.
func (s *Store) queryChronicles(ctx context.Context, query string, args ...any) ([]*model.Chronicle, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query components: %w", err)
	}

	chronicles := []*model.Chronicle{}
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan component: %w", err)
		}
		chronicles = append(chronicles, c)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate components: %w", err)
	}
	rows.Close()

	for _, c := range chronicles {
		if err := s.loadVersions(ctx, c); err != nil {
			return nil, err
		}
	}
	return chronicles, nil
}

func (s *Store) loadVersions(ctx context.Context, c *model.Chronicle) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, time, author_nid, module_nid, path_nid, data, committed
		FROM versions
		WHERE nid = ?
		ORDER BY time ASC, id ASC
	`, c.NID)
	if err != nil {
		return fmt.Errorf("query versions of %d: %w", c.NID, err)
	}
	defer rows.Close()

	c.Versions = []model.Version{}
	for rows.Next() {
		var (
			v         model.Version
			status    int
			data      string
			committed int
		)
		if err := rows.Scan(&v.ID, &status, &v.Stamp.Time, &v.Stamp.Author, &v.Stamp.Module, &v.Stamp.Path, &data, &committed); err != nil {
			return fmt.Errorf("scan version of %d: %w", c.NID, err)
		}
		v.Stamp.Status = model.Status(status)
		v.Committed = committed != 0
		if c.IsRefex() {
			v.Data, err = model.UnmarshalDataList([]byte(data))
			if err != nil {
				// The envelope itself is unreadable; keep the row with one
				// undecodable slot so the grid can report it.
				v.Data = []model.Data{model.DynUndecodable{Raw: []byte(data), Err: err}}
			}
		}
		c.Versions = append(c.Versions, v)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate versions of %d: %w", c.NID, err)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanComponent(r rowScanner) (*model.Chronicle, error) {
	var (
		c      model.Chronicle
		idText string
		kind   int
	)
	if err := r.Scan(&c.NID, &idText, &kind, &c.EnclosingNID, &c.AssemblageNID, &c.ReferencedNID); err != nil {
		return nil, err
	}
	id, err := uuid.Parse(idText)
	if err != nil {
		return nil, fmt.Errorf("component %d uuid %q: %w", c.NID, idText, err)
	}
	c.UUID = id
	c.Kind = model.Kind(kind)
	return &c, nil
}
