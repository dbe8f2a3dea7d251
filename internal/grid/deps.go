package grid

import (
	"context"

	"github.com/google/uuid"

	"github.com/roach88/refexgrid/internal/model"
)

// Store is the terminology store the grid reads from and stages edits in.
type Store interface {
	Component(ctx context.Context, nid model.NID) (*model.Chronicle, error)
	ComponentByUUID(ctx context.Context, id uuid.UUID) (*model.Chronicle, error)

	// Annotations returns every refex whose referenced component is nid.
	Annotations(ctx context.Context, nid model.NID) ([]*model.Chronicle, error)

	ConceptVersion(ctx context.Context, vc model.ViewCoordinate, nid model.NID) (*model.ConceptVersion, error)

	AddUncommitted(ctx context.Context, c *model.Chronicle) error
	Commit(ctx context.Context, nid model.NID) error
	Cancel(ctx context.Context, nid model.NID) error

	// WaitTillWritesFinished blocks until every prior write is durable.
	WaitTillWritesFinished(ctx context.Context) error
}

// SchemaRegistry reads assemblage column layouts. It fails when the concept
// is not validly configured as an assemblage.
type SchemaRegistry interface {
	ReadAssemblageSchema(ctx context.Context, nid model.NID) (*model.AssemblageSchema, error)
}

// Index answers assemblage membership queries.
type Index interface {
	IsAssemblageIndexed(assemblage model.NID) bool

	// QueryAssemblageUsage returns member refex NIDs. A positive waitGen
	// blocks until the index has ingested that generation.
	QueryAssemblageUsage(ctx context.Context, assemblage model.NID, max int, waitGen int64) ([]model.NID, error)
}

// Indexer is implemented by indexes that accept new refexes. Submit returns
// the generation at which the refex becomes visible to queries.
type Indexer interface {
	Submit(c *model.Chronicle) (int64, error)
}

// ComponentSource enumerates the whole store for the fallback scan.
type ComponentSource interface {
	NIDs(ctx context.Context) ([]model.NID, error)
	Component(ctx context.Context, nid model.NID) (*model.Chronicle, error)
}
